package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ocobot/internal/bot"
	"ocobot/internal/models"
)

// OCOHandler - активные OCO пары
//
// Endpoints:
// - GET /api/v1/oco/pairs - активные пары
// - GET /api/v1/oco/pairs/{id} - пара по id (в том числе завершённая недавно)
// - DELETE /api/v1/oco/pairs/{id} - ручная отмена пары, позиция остаётся открытой
type OCOHandler struct {
	pairs PairManager
}

// NewOCOHandler создает OCOHandler
func NewOCOHandler(pairs PairManager) *OCOHandler {
	return &OCOHandler{pairs: pairs}
}

// PairDTO - OCO пара в API
type PairDTO struct {
	ID           string     `json:"id"`
	PositionID   string     `json:"position_id"`
	Symbol       string     `json:"symbol"`
	Side         string     `json:"side"`
	Quantity     float64    `json:"quantity"`
	State        string     `json:"state"`
	FilledLeg    string     `json:"filled_leg,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	StopLoss     *LegDTO    `json:"stop_loss,omitempty"`
	TakeProfit   *LegDTO    `json:"take_profit,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// LegDTO - нога пары
type LegDTO struct {
	OrderID      string  `json:"order_id"`
	TriggerPrice float64 `json:"trigger_price"`
	State        string  `json:"state"`
	FillPrice    float64 `json:"fill_price,omitempty"`
}

// NewPairDTO преобразует пару в DTO
func NewPairDTO(p models.OCOPair) *PairDTO {
	return &PairDTO{
		ID:           p.ID,
		PositionID:   p.PositionID,
		Symbol:       p.Symbol,
		Side:         string(p.Side),
		Quantity:     p.Quantity,
		State:        string(p.State),
		FilledLeg:    string(p.FilledLeg),
		CancelReason: p.CancelReason,
		StopLoss:     newLegDTO(p.StopLoss),
		TakeProfit:   newLegDTO(p.TakeProfit),
		CreatedAt:    p.CreatedAt,
		ClosedAt:     p.ClosedAt,
	}
}

func newLegDTO(leg *models.LegOrder) *LegDTO {
	if leg == nil {
		return nil
	}
	return &LegDTO{
		OrderID:      leg.OrderID,
		TriggerPrice: leg.Price,
		State:        string(leg.State),
		FillPrice:    leg.AvgFillPrice,
	}
}

// GetPairsResponse - список пар
type GetPairsResponse struct {
	Pairs []*PairDTO `json:"pairs"`
	Total int        `json:"total"`
}

// GetPairs возвращает снимок активных пар
//
// GET /api/v1/oco/pairs
func (h *OCOHandler) GetPairs(w http.ResponseWriter, r *http.Request) {
	pairs := h.pairs.ActivePairs()
	dtos := make([]*PairDTO, 0, len(pairs))
	for _, p := range pairs {
		dtos = append(dtos, NewPairDTO(p))
	}
	respondJSON(w, http.StatusOK, GetPairsResponse{Pairs: dtos, Total: len(dtos)})
}

// GetPair возвращает пару по id
//
// GET /api/v1/oco/pairs/{id}
func (h *OCOHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	pair, ok := h.pairs.Pair(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, CodeNotFound, "oco pair not found", nil)
		return
	}
	respondJSON(w, http.StatusOK, NewPairDTO(pair))
}

// CancelPair отменяет обе ноги пары
//
// DELETE /api/v1/oco/pairs/{id}
//
// Повторная отмена уже завершённой пары - успешный no-op.
//
// HTTP коды:
// - 200 OK: пара отменена (или уже была не активна)
// - 404 Not Found: пары нет
// - 409 Conflict: нога исполнилась во время отмены, позиция закрыта ею
// - 502 Bad Gateway: биржа не подтвердила отмену, нужна ручная сверка
func (h *OCOHandler) CancelPair(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := h.pairs.CancelPair(r.Context(), id, "manual cancel")
	switch {
	case err == nil:
		resp := SuccessResponse{Message: "oco pair cancelled"}
		if pair, ok := h.pairs.Pair(id); ok {
			resp.Data = NewPairDTO(pair)
		}
		respondJSON(w, http.StatusOK, resp)
	case errors.Is(err, bot.ErrPairNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, "oco pair not found", nil)
	case errors.Is(err, bot.ErrLegFilled):
		respondError(w, http.StatusConflict, CodeConflict, "protective leg filled during cancellation, position closed", err)
	case errors.Is(err, bot.ErrReconciliationRequired):
		respondError(w, http.StatusBadGateway, CodeReconcile, "cancellation not confirmed, manual reconciliation required", err)
	default:
		respondError(w, http.StatusBadGateway, CodeExchange, "failed to cancel oco pair", err)
	}
}
