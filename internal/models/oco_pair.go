package models

import "time"

// OrderState - состояние защитного ордера
type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderLive      OrderState = "LIVE"
	OrderFilled    OrderState = "FILLED"
	OrderCancelled OrderState = "CANCELLED"
	OrderRejected  OrderState = "REJECTED"
)

// IsTerminal - ордер больше не может измениться
func (s OrderState) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// LegKind - какая нога пары
type LegKind string

const (
	LegStopLoss   LegKind = "stop_loss"
	LegTakeProfit LegKind = "take_profit"
)

// CloseReason возвращает причину закрытия позиции при исполнении ноги
func (k LegKind) CloseReason() string {
	if k == LegStopLoss {
		return CloseReasonStopLoss
	}
	return CloseReasonTakeProfit
}

// PairState - состояние OCO пары
type PairState string

const (
	PairActive    PairState = "ACTIVE"
	PairResolved  PairState = "RESOLVED"
	PairCancelled PairState = "CANCELLED"
)

// LegOrder - одна нога OCO пары
type LegOrder struct {
	Kind         LegKind    `json:"kind"`
	OrderID      string     `json:"order_id"`
	Price        float64    `json:"price"`
	State        OrderState `json:"state"`
	AvgFillPrice float64    `json:"avg_fill_price,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// OCOPair - связанные stop-loss и take-profit ордера одной позиции
//
// Инварианты:
// - пока пара ACTIVE, исполнена не более чем одна нога
// - при первом FILLED пара становится RESOLVED, а вторая нога должна
//   стать CANCELLED (или уже быть терминальной)
// - пара никогда не возвращается в ACTIVE
// - нога может отсутствовать (пара из одной ноги)
type OCOPair struct {
	ID           string       `json:"id"`
	PositionID   string       `json:"position_id"`
	Symbol       string       `json:"symbol"`
	Side         PositionSide `json:"side"`
	Quantity     float64      `json:"quantity"`
	StopLoss     *LegOrder    `json:"stop_loss,omitempty"`
	TakeProfit   *LegOrder    `json:"take_profit,omitempty"`
	State        PairState    `json:"state"`
	FilledLeg    LegKind      `json:"filled_leg,omitempty"`
	CancelReason string       `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
}

// Key возвращает ключ позиции, к которой относится пара
func (p *OCOPair) Key() string {
	return PositionKey(p.Symbol, p.Side)
}

// Legs возвращает присутствующие ноги
func (p *OCOPair) Legs() []*LegOrder {
	legs := make([]*LegOrder, 0, 2)
	if p.StopLoss != nil {
		legs = append(legs, p.StopLoss)
	}
	if p.TakeProfit != nil {
		legs = append(legs, p.TakeProfit)
	}
	return legs
}

// Leg возвращает ногу по типу (nil если отсутствует)
func (p *OCOPair) Leg(kind LegKind) *LegOrder {
	if kind == LegStopLoss {
		return p.StopLoss
	}
	return p.TakeProfit
}

// Sibling возвращает вторую ногу пары
func (p *OCOPair) Sibling(kind LegKind) *LegOrder {
	if kind == LegStopLoss {
		return p.TakeProfit
	}
	return p.StopLoss
}

// HasLiveLegs - есть ли нога, которая ещё может исполниться
func (p *OCOPair) HasLiveLegs() bool {
	for _, leg := range p.Legs() {
		if !leg.State.IsTerminal() {
			return true
		}
	}
	return false
}

// Clone возвращает глубокую копию пары
func (p *OCOPair) Clone() OCOPair {
	c := *p
	if p.StopLoss != nil {
		sl := *p.StopLoss
		c.StopLoss = &sl
	}
	if p.TakeProfit != nil {
		tp := *p.TakeProfit
		c.TakeProfit = &tp
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return c
}
