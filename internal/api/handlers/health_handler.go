package handlers

import "net/http"

// HealthStatus - состояние процесса для /health
type HealthStatus struct {
	Status         string `json:"status"` // ok | degraded
	StoreReady     bool   `json:"store_ready"`
	DeferredWrites int    `json:"deferred_writes"`
	PendingSignals int    `json:"pending_signals"`
	OpenPositions  int    `json:"open_positions"`
	ActivePairs    int    `json:"active_pairs"`
	StreamClients  int    `json:"stream_clients"`
}

// HealthHandler - GET /health
//
// Без хранилища бот продолжает торговать, degraded тоже отвечает 200.
type HealthHandler struct {
	status func() HealthStatus
}

// NewHealthHandler создает HealthHandler поверх функции сбора состояния
func NewHealthHandler(status func() HealthStatus) *HealthHandler {
	return &HealthHandler{status: status}
}

// GetHealth возвращает состояние процесса
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	st := h.status()
	if st.Status == "" {
		st.Status = "ok"
		if !st.StoreReady {
			st.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, st)
}
