package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ocobot/internal/models"
	"ocobot/pkg/utils"
)

// historyScanLimit - сколько уведомлений читать из журнала при limit <= 0
const historyScanLimit = 1000

// NotificationService отдаёт журнал уведомлений для API
//
// Источник:
// - журнал в хранилище, если оно подключено (Attach): переживает рестарт
// - кольцо уведомителя в памяти, если хранилища нет или запрос не удался
//
// Порядок всегда - новые первыми.
type NotificationService struct {
	live    LiveNotifications
	timeout time.Duration
	log     *zap.Logger

	mu      sync.RWMutex
	history NotificationHistoryRepository
}

// NewNotificationService создает новый экземпляр NotificationService.
func NewNotificationService(live LiveNotifications, timeout time.Duration, log *zap.Logger) *NotificationService {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{live: live, timeout: timeout, log: log.Named("notifications")}
}

// Attach подключает журнал уведомлений в хранилище
func (s *NotificationService) Attach(history NotificationHistoryRepository) {
	s.mu.Lock()
	s.history = history
	s.mu.Unlock()
}

// Recent возвращает до limit последних уведомлений; limit <= 0 - всё доступное
func (s *NotificationService) Recent(limit int) []*models.Notification {
	s.mu.RLock()
	history := s.history
	s.mu.RUnlock()

	if history == nil {
		return s.live.Recent(limit)
	}

	n := limit
	if n <= 0 {
		n = historyScanLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	items, err := history.GetRecent(ctx, n)
	if err != nil {
		s.log.Warn("notification history unavailable, serving in-memory feed", utils.Err(err))
		return s.live.Recent(limit)
	}
	return items
}
