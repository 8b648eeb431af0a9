package handlers

import (
	"errors"
	"net/http"

	"ocobot/internal/bot"
	"ocobot/internal/models"
)

// SignalHandler принимает торговые сигналы
//
// Endpoints:
// - POST /api/v1/signals - поставить сигнал в очередь исполнения
//
// Сигнал исполняется асинхронно: ответ 202 означает только, что сигнал
// прошёл проверку и стоит в очереди. Результат (позиция, OCO пара, отказ)
// приходит уведомлениями и в /ws/stream.
type SignalHandler struct {
	intake SignalSubmitter
}

// NewSignalHandler создает SignalHandler
func NewSignalHandler(intake SignalSubmitter) *SignalHandler {
	return &SignalHandler{intake: intake}
}

// SubmitSignalResponse - ответ на принятый сигнал
type SubmitSignalResponse struct {
	SignalID string `json:"signal_id"`
	Status   string `json:"status"`
}

// SubmitSignal ставит сигнал в очередь
//
// POST /api/v1/signals
//
// Тело: models.SignalPayload. Для каждой защитной ноги абсолютная цена
// (stop_loss / take_profit) важнее процента (stop_loss_pct / take_profit_pct).
//
// HTTP коды:
// - 202 Accepted: сигнал в очереди
// - 400 Bad Request: невалидный JSON или сигнал
// - 409 Conflict: сигнал с таким id уже принят
// - 503 Service Unavailable: очередь переполнена или приём остановлен
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var payload models.SignalPayload
	if err := decodeJSON(w, r, &payload, false); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err)
		return
	}

	signal := payload.ToSignal()
	err := h.intake.Submit(signal)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, SubmitSignalResponse{SignalID: signal.ID, Status: "queued"})
	case errors.Is(err, models.ErrInvalidSignal):
		respondError(w, http.StatusBadRequest, CodeInvalidSignal, "invalid signal", err)
	case errors.Is(err, bot.ErrDuplicateSignal):
		respondError(w, http.StatusConflict, CodeDuplicate, "signal already accepted", err)
	case errors.Is(err, bot.ErrIntakeFull):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, CodeQueueFull, "signal queue is full", err)
	case errors.Is(err, bot.ErrIntakeStopped):
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "signal intake is stopped", err)
	default:
		respondError(w, http.StatusInternalServerError, CodeInternal, "failed to queue signal", err)
	}
}
