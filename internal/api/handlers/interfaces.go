package handlers

import (
	"context"

	"ocobot/internal/bot"
	"ocobot/internal/models"
)

// Узкие интерфейсы над компонентами bot: handlers зависят только от того,
// что вызывают, и тестируются на моках.

// SignalSubmitter - приём сигналов (bot.Intake)
type SignalSubmitter interface {
	Submit(signal models.Signal) error
}

// PositionReader - чтение незакрытых позиций (bot.PositionBook)
type PositionReader interface {
	Open() []*models.Position
	Get(id string) (*models.Position, bool)
}

// PositionCloser - закрытие позиции (bot.PositionCloser)
type PositionCloser interface {
	Close(ctx context.Context, positionID, reason string) *bot.CloseResult
}

// PairManager - OCO пары (bot.OCOManager)
type PairManager interface {
	ActivePairs() []models.OCOPair
	Pair(id string) (models.OCOPair, bool)
	PairForPosition(positionID string) (models.OCOPair, bool)
	CancelPair(ctx context.Context, pairID, reason string) error
}

// NotificationFeed - последние уведомления (bot.Notifier)
type NotificationFeed interface {
	Recent(limit int) []*models.Notification
}

// PriceFeed - ручная цена paper биржи (exchange.Paper)
type PriceFeed interface {
	SetMarkPrice(symbol string, price float64) []string
}
