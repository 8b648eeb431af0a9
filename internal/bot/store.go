package bot

import (
	"context"
	"time"

	"ocobot/internal/models"
)

// PositionStore - долговременное хранилище позиций
//
// Реализация: repository.PositionRepository. Вызовы могут быть медленными,
// ядро оборачивает каждый в таймаут и не блокирует на них приём сигналов.
// Позиция хранит pair id и id обоих защитных ордеров, этого достаточно
// для восстановления OCO пар после рестарта.
type PositionStore interface {
	CreatePosition(ctx context.Context, p *models.Position) error
	UpdatePosition(ctx context.Context, p *models.Position) error
	GetOpenPositions(ctx context.Context) ([]*models.Position, error)
}

// NotificationStore - журнал уведомлений (repository.NotificationRepository)
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// notificationPruner - опциональная очистка старых уведомлений
type notificationPruner interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Stores - подключённые хранилища, которые возвращает StoreConnector
type Stores struct {
	Positions     PositionStore
	Notifications NotificationStore
}

// StoreConnector подключается к хранилищу. Вызывается супервизором в фоне
// с повторами до успеха или отмены контекста.
type StoreConnector func(ctx context.Context) (*Stores, error)
