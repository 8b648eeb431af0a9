package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"ocobot/internal/bot"
	"ocobot/internal/models"
)

// PositionHandler - незакрытые позиции и их закрытие
//
// Endpoints:
// - GET /api/v1/positions - незакрытые позиции
// - GET /api/v1/positions/{id} - позиция с её OCO парой
// - POST /api/v1/positions/{id}/close - закрыть позицию
//
// Список незакрытых идёт из книги в памяти и не зависит от хранилища.
// Закрытую позицию по id находит service.PositionService, если хранилище
// подключено.
type PositionHandler struct {
	positions PositionReader
	pairs     PairManager
	closer    PositionCloser
}

// NewPositionHandler создает PositionHandler
func NewPositionHandler(positions PositionReader, pairs PairManager, closer PositionCloser) *PositionHandler {
	return &PositionHandler{positions: positions, pairs: pairs, closer: closer}
}

// GetPositionsResponse - список позиций
type GetPositionsResponse struct {
	Positions []*models.Position `json:"positions"`
	Total     int                `json:"total"`
}

// PositionResponse - позиция и активная OCO пара, если есть
type PositionResponse struct {
	Position *models.Position `json:"position"`
	Pair     *PairDTO         `json:"pair,omitempty"`
}

// ClosePositionRequest - тело запроса закрытия (необязательное)
type ClosePositionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ClosePositionResponse - результат закрытия
type ClosePositionResponse struct {
	PositionID   string  `json:"position_id"`
	Reason       string  `json:"reason"`
	ClosedBy     string  `json:"closed_by"`
	CloseOrderID string  `json:"close_order_id,omitempty"`
	ExitPrice    float64 `json:"exit_price"`
}

// GetPositions возвращает незакрытые позиции, старые первыми
//
// GET /api/v1/positions
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.Open()
	respondJSON(w, http.StatusOK, GetPositionsResponse{Positions: positions, Total: len(positions)})
}

// GetPosition возвращает позицию по id
//
// GET /api/v1/positions/{id}
//
// HTTP коды:
// - 200 OK
// - 404 Not Found: позиции нет
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := h.positions.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, CodeNotFound, "position not found", nil)
		return
	}

	resp := PositionResponse{Position: p}
	if pair, ok := h.pairs.PairForPosition(id); ok {
		resp.Pair = NewPairDTO(pair)
	}
	respondJSON(w, http.StatusOK, resp)
}

// ClosePosition закрывает позицию: сначала отмена OCO пары, потом
// закрывающий reduce-only ордер
//
// POST /api/v1/positions/{id}/close
//
// HTTP коды:
// - 200 OK: позиция закрыта (ордером или защитной ногой во время отмены)
// - 404 Not Found: позиции нет
// - 409 Conflict: позиция уже закрывается
// - 502 Bad Gateway: биржа не отменила пару или не приняла ордер,
//   позиция остаётся открытой
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ClosePositionRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err)
		return
	}

	res := h.closer.Close(r.Context(), id, req.Reason)
	switch {
	case res.Err == nil:
		respondJSON(w, http.StatusOK, ClosePositionResponse{
			PositionID:   res.PositionID,
			Reason:       res.Reason,
			ClosedBy:     res.ClosedBy,
			CloseOrderID: res.CloseOrderID,
			ExitPrice:    res.ExitPrice,
		})
	case errors.Is(res.Err, bot.ErrPositionNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, "position not found", nil)
	case errors.Is(res.Err, bot.ErrPositionNotOpen):
		respondError(w, http.StatusConflict, CodeConflict, "position is not open", res.Err)
	case errors.Is(res.Err, bot.ErrReconciliationRequired):
		respondError(w, http.StatusBadGateway, CodeReconcile, "close aborted, manual reconciliation required", res.Err)
	case errors.Is(res.Err, bot.ErrInvariantViolation):
		respondError(w, http.StatusInternalServerError, CodeInternal, "position state is inconsistent", res.Err)
	default:
		respondError(w, http.StatusBadGateway, CodeExchange, "close failed, position remains open", res.Err)
	}
}
