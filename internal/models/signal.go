package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ocobot/pkg/utils"
)

// Side - направление сигнала / ордера
type Side string

const (
	SideBuy  Side = "buy"  // открытие long
	SideSell Side = "sell" // открытие short
)

// Opposite возвращает противоположную сторону (для защитных и закрывающих ордеров)
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide возвращает направление позиции, которую открывает ордер этой стороны
func (s Side) PositionSide() PositionSide {
	if s == SideSell {
		return PositionShort
	}
	return PositionLong
}

// RiskLegKind - вариант защитной ноги сигнала
type RiskLegKind int

const (
	RiskLegAbsent     RiskLegKind = iota // нога не задана
	RiskLegAbsolute                      // абсолютная цена
	RiskLegPercentage                    // доля от цены входа (0.02 = 2%)
)

// RiskSource - откуда взята итоговая цена ноги
type RiskSource string

const (
	RiskSourceAbsolute   RiskSource = "absolute"
	RiskSourcePercentage RiskSource = "percentage"
	RiskSourceNone       RiskSource = "none"
)

// RiskLeg - защитная нога сигнала: Absent | Absolute(price) | Percentage(fraction)
//
// Строится один раз на границе системы (NewRiskLeg) из нестрогих полей входящего
// сообщения. Абсолютная цена всегда имеет приоритет над процентом.
type RiskLeg struct {
	Kind  RiskLegKind `json:"kind"`
	Value float64     `json:"value,omitempty"`
}

// AbsentLeg - нога не задана
func AbsentLeg() RiskLeg { return RiskLeg{Kind: RiskLegAbsent} }

// AbsoluteLeg - нога с абсолютной ценой
func AbsoluteLeg(price float64) RiskLeg { return RiskLeg{Kind: RiskLegAbsolute, Value: price} }

// PercentageLeg - нога в доле от цены входа
func PercentageLeg(fraction float64) RiskLeg {
	return RiskLeg{Kind: RiskLegPercentage, Value: fraction}
}

// NewRiskLeg собирает ногу из опциональных полей сигнала.
// Нулевые и отрицательные значения считаются отсутствующими.
func NewRiskLeg(absolute, percentage *float64) RiskLeg {
	if absolute != nil && *absolute > 0 {
		return AbsoluteLeg(*absolute)
	}
	if percentage != nil && *percentage > 0 {
		return PercentageLeg(*percentage)
	}
	return AbsentLeg()
}

// IsAbsent проверяет что нога не задана
func (l RiskLeg) IsAbsent() bool {
	return l.Kind == RiskLegAbsent
}

// Signal - торговый сигнал от стратегии
type Signal struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	StopLoss   RiskLeg   `json:"stop_loss"`
	TakeProfit RiskLeg   `json:"take_profit"`
	Quantity   float64   `json:"quantity,omitempty"` // 0 = размер из конфигурации стратегии
	StrategyID string    `json:"strategy_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SignalPayload - сигнал в том виде, в каком он приходит снаружи (HTTP / очередь)
type SignalPayload struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	StopLoss      *float64  `json:"stop_loss,omitempty"`
	StopLossPct   *float64  `json:"stop_loss_pct,omitempty"`
	TakeProfit    *float64  `json:"take_profit,omitempty"`
	TakeProfitPct *float64  `json:"take_profit_pct,omitempty"`
	Quantity      float64   `json:"quantity,omitempty"`
	StrategyID    string    `json:"strategy_id,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
}

// ToSignal нормализует входящее сообщение в Signal
func (p SignalPayload) ToSignal() Signal {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Signal{
		ID:         strings.TrimSpace(p.ID),
		Symbol:     utils.NormalizeSymbol(p.Symbol),
		Side:       Side(strings.ToLower(strings.TrimSpace(p.Side))),
		StopLoss:   NewRiskLeg(p.StopLoss, p.StopLossPct),
		TakeProfit: NewRiskLeg(p.TakeProfit, p.TakeProfitPct),
		Quantity:   p.Quantity,
		StrategyID: p.StrategyID,
		Timestamp:  ts,
	}
}

// ErrInvalidSignal - сигнал не прошёл проверку на границе
var ErrInvalidSignal = errors.New("invalid signal")

// Validate проверяет сигнал до любых обращений к бирже
func (s Signal) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSignal)
	}
	if err := utils.ValidateSymbol(s.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("%w: side must be buy or sell, got %q", ErrInvalidSignal, s.Side)
	}
	if s.Quantity < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", ErrInvalidSignal)
	}
	if err := validateLeg("stop_loss", s.StopLoss); err != nil {
		return err
	}
	return validateLeg("take_profit", s.TakeProfit)
}

func validateLeg(name string, leg RiskLeg) error {
	switch leg.Kind {
	case RiskLegAbsent:
		return nil
	case RiskLegAbsolute:
		if err := utils.ValidatePrice(name, leg.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
		}
	case RiskLegPercentage:
		if err := utils.ValidateFraction(name+"_pct", leg.Value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
		}
	default:
		return fmt.Errorf("%w: unknown %s kind %d", ErrInvalidSignal, name, leg.Kind)
	}
	return nil
}

// ResolvedRisk - итоговые цены защитных ордеров для конкретной сделки
type ResolvedRisk struct {
	Symbol           string     `json:"symbol"`
	StopLoss         *float64   `json:"stop_loss,omitempty"`
	TakeProfit       *float64   `json:"take_profit,omitempty"`
	StopLossSource   RiskSource `json:"stop_loss_source"`
	TakeProfitSource RiskSource `json:"take_profit_source"`
}

// HasLegs проверяет что есть хотя бы одна защитная нога
func (r ResolvedRisk) HasLegs() bool {
	return r.StopLoss != nil || r.TakeProfit != nil
}

// TradeOrder - входной ордер, собранный из сигнала. Не хранится
//
// EntryPrice 0 означает рыночный вход; после исполнения в неё
// записывается цена исполнения, а в Risk - разрешённые уровни.
type TradeOrder struct {
	SignalID   string       `json:"signal_id"`
	Symbol     string       `json:"symbol"`
	Side       Side         `json:"side"`
	Quantity   float64      `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
	Risk       ResolvedRisk `json:"risk"`
}

// NewTradeOrder - рыночный ордер по сигналу с заданным объёмом
func NewTradeOrder(s Signal, qty float64) TradeOrder {
	return TradeOrder{
		SignalID: s.ID,
		Symbol:   s.Symbol,
		Side:     s.Side,
		Quantity: qty,
	}
}

// IsMarket - вход по рынку
func (o TradeOrder) IsMarket() bool {
	return o.EntryPrice == 0
}
