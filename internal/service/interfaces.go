package service

import (
	"context"

	"ocobot/internal/models"
)

// LivePositions - незакрытые позиции в памяти (bot.PositionBook)
type LivePositions interface {
	Open() []*models.Position
	Get(id string) (*models.Position, bool)
}

// PositionHistoryRepository - чтение позиций из хранилища
// (repository.PositionRepository)
type PositionHistoryRepository interface {
	GetByID(ctx context.Context, id string) (*models.Position, error)
}

// LiveNotifications - кольцо последних уведомлений (bot.Notifier)
type LiveNotifications interface {
	Recent(limit int) []*models.Notification
}

// NotificationHistoryRepository - журнал уведомлений в хранилище
// (repository.NotificationRepository)
type NotificationHistoryRepository interface {
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
}
