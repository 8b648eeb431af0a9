package models

import "time"

// PositionSide - направление позиции
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// EntrySide возвращает сторону ордера, открывающего позицию
func (s PositionSide) EntrySide() Side {
	if s == PositionShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide возвращает сторону ордера, закрывающего позицию
func (s PositionSide) ExitSide() Side {
	return s.EntrySide().Opposite()
}

// PositionState - состояние позиции
type PositionState string

const (
	PositionOpen    PositionState = "OPEN"
	PositionClosing PositionState = "CLOSING"
	PositionClosed  PositionState = "CLOSED"
)

// Причины закрытия позиции
const (
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonManual     = "manual"
	CloseReasonAnomaly    = "anomaly"
)

// Position - открытая по сигналу позиция
//
// Уникальность: не более одной не-CLOSED позиции на пару symbol+side (Key).
// Позиция владеет 0..1 OCO парой (PairID); id защитных ордеров хранятся
// прямо в записи, чтобы восстановление после рестарта обходилось без
// отдельной таблицы пар.
type Position struct {
	ID                string        `json:"id" db:"id"`
	Symbol            string        `json:"symbol" db:"symbol"`
	Side              PositionSide  `json:"side" db:"side"`
	Quantity          float64       `json:"quantity" db:"quantity"`
	EntryPrice        float64       `json:"entry_price" db:"entry_price"`
	StopLoss          *float64      `json:"stop_loss,omitempty" db:"stop_loss"`
	TakeProfit        *float64      `json:"take_profit,omitempty" db:"take_profit"`
	State             PositionState `json:"state" db:"state"`
	PairID            string        `json:"pair_id,omitempty" db:"pair_id"`
	EntryOrderID      string        `json:"entry_order_id" db:"entry_order_id"`
	StopLossOrderID   string        `json:"stop_loss_order_id,omitempty" db:"stop_loss_order_id"`
	TakeProfitOrderID string        `json:"take_profit_order_id,omitempty" db:"take_profit_order_id"`
	SignalID          string        `json:"signal_id" db:"signal_id"`
	StrategyID        string        `json:"strategy_id,omitempty" db:"strategy_id"`
	ExitPrice         float64       `json:"exit_price,omitempty" db:"exit_price"`
	CloseReason       string        `json:"close_reason,omitempty" db:"close_reason"`
	Anomaly           string        `json:"anomaly,omitempty" db:"anomaly"`
	OpenedAt          time.Time     `json:"opened_at" db:"opened_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
	ClosedAt          *time.Time    `json:"closed_at,omitempty" db:"closed_at"`
}

// PositionKey - ключ уникальности позиции
func PositionKey(symbol string, side PositionSide) string {
	return symbol + ":" + string(side)
}

// Key возвращает ключ уникальности позиции
func (p *Position) Key() string {
	return PositionKey(p.Symbol, p.Side)
}

// IsOpen - позиция не закрыта (OPEN или CLOSING)
func (p *Position) IsOpen() bool {
	return p.State != PositionClosed
}

// Clone возвращает независимую копию
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	if p.StopLoss != nil {
		v := *p.StopLoss
		c.StopLoss = &v
	}
	if p.TakeProfit != nil {
		v := *p.TakeProfit
		c.TakeProfit = &v
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		c.ClosedAt = &v
	}
	return &c
}
