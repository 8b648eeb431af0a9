package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"ocobot/internal/models"
)

// Пределы выдачи уведомлений
const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 500
)

// NotificationHandler отдаёт журнал событий бота
//
// Endpoints:
// - GET /api/v1/notifications - последние уведомления
// - GET /api/v1/notifications?types=sl,tp,anomaly - с фильтрацией по типам
// - GET /api/v1/notifications?limit=50 - с ограничением количества
//
// Источник - кольцевой буфер уведомителя в памяти, поэтому журнал
// доступен и тогда, когда хранилище не подключено.
type NotificationHandler struct {
	feed NotificationFeed
}

// NewNotificationHandler создает новый NotificationHandler
func NewNotificationHandler(feed NotificationFeed) *NotificationHandler {
	return &NotificationHandler{feed: feed}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

// GetNotifications возвращает уведомления, новые первыми
//
// GET /api/v1/notifications
//
// Query параметры:
// - types (string): типы через запятую (open,close,sl,tp,rejected,anomaly,reconcile,unprotected,error)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	types := parseTypes(r.URL.Query().Get("types"))

	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	var out []*models.Notification
	if len(types) == 0 {
		out = h.feed.Recent(limit)
	} else {
		for _, n := range h.feed.Recent(0) {
			if _, ok := types[n.Type]; ok {
				out = append(out, n)
				if len(out) == limit {
					break
				}
			}
		}
	}
	if out == nil {
		out = []*models.Notification{}
	}

	respondJSON(w, http.StatusOK, GetNotificationsResponse{Notifications: out, Total: len(out)})
}

// parseTypes разбирает список типов через запятую в верхнем регистре
func parseTypes(raw string) map[string]struct{} {
	if raw == "" {
		return nil
	}
	types := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			types[strings.ToUpper(trimmed)] = struct{}{}
		}
	}
	return types
}
