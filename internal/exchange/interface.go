package exchange

import (
	"context"
	"errors"
	"time"
)

// Gateway определяет контракт биржи, который нужен ядру
//
// Реализации: Bybit (REST v5, linear) и Paper (симулятор в памяти).
// Все методы должны уважать дедлайн контекста: вызывающая сторона
// оборачивает каждый вызов в context.WithTimeout.
type Gateway interface {
	// GetName возвращает имя биржи
	GetName() string

	// PlaceOrder размещает рыночный или условный (trigger) ордер.
	// Структурный отказ биржи возвращается как *RejectionError.
	PlaceOrder(ctx context.Context, spec OrderSpec) (*Order, error)

	// CancelOrder отменяет ордер. Отмена уже терминального или
	// неизвестного бирже ордера - успешный no-op.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrderStatus возвращает текущее состояние ордера
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderStatus, error)
}

// BatchStatusQuerier - опциональное расширение Gateway для опроса
// нескольких ордеров одним запросом.
//
// При ошибке по части ордеров возвращаются собранные статусы и ошибка.
// Неизвестный бирже ордер возвращается как OrderStatusCancelled.
type BatchStatusQuerier interface {
	GetOrderStatuses(ctx context.Context, symbol string, orderIDs []string) (map[string]*OrderStatus, error)
}

// Closer - опциональное освобождение ресурсов при остановке
type Closer interface {
	Close() error
}

// OrderType - тип ордера
type OrderType string

const (
	OrderTypeMarket      OrderType = "market"
	OrderTypeConditional OrderType = "conditional" // stop-market по trigger цене
)

// TriggerDirection - в какую сторону должна пройти цена для срабатывания
type TriggerDirection int

const (
	TriggerNone  TriggerDirection = 0
	TriggerRise  TriggerDirection = 1 // цена поднимается до trigger
	TriggerFall  TriggerDirection = 2 // цена опускается до trigger
)

// OrderSpec - параметры размещения ордера
type OrderSpec struct {
	Symbol        string
	Side          string // SideBuy / SideSell
	Type          OrderType
	Quantity      float64
	TriggerPrice  float64          // только для conditional
	Direction     TriggerDirection // только для conditional
	ReduceOnly    bool
	ClientOrderID string
}

// Order представляет размещённый ордер
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // "buy" или "sell"
	Type          OrderType `json:"type"`
	Quantity      float64   `json:"quantity"`
	FilledQty     float64   `json:"filled_qty"`
	AvgFillPrice  float64   `json:"avg_fill_price"`
	TriggerPrice  float64   `json:"trigger_price,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OrderStatus - снимок состояния ордера на бирже
type OrderStatus struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	FilledQty float64   `json:"filled_qty"`
	AvgPrice  float64   `json:"avg_price"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExchangeError представляет ошибку от биржи
//
// Считается временной (TransientGatewayError): вызывающая сторона может
// повторить запрос с ограниченным backoff.
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// RejectionError - биржа структурно отклонила ордер (неверная цена,
// trigger уже пройден, недостаточно маржи). Повтор бессмысленен.
type RejectionError struct {
	Exchange string
	Code     string
	Reason   string
}

func (e *RejectionError) Error() string {
	if e.Code != "" {
		return e.Exchange + ": order rejected (" + e.Code + "): " + e.Reason
	}
	return e.Exchange + ": order rejected: " + e.Reason
}

// Retryable отключает повторы в pkg/retry
func (e *RejectionError) Retryable() bool {
	return false
}

// IsRejection проверяет что ошибка - структурный отказ биржи
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// Side constants for orders (используются при размещении ордеров)
const (
	SideBuy  = "buy"  // покупка (открытие long или закрытие short)
	SideSell = "sell" // продажа (открытие short или закрытие long)
)

// Order status constants (нормализованные для всех бирж)
const (
	OrderStatusNew       = "new"       // принят, ещё не активен
	OrderStatusLive      = "live"      // активен / ожидает trigger
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)
