package utils

import (
	"github.com/shopspring/decimal"
)

// math.go - точная арифметика цен и объёмов
//
// Все расчёты идут через decimal, чтобы 50000 * (1 - 0.02) давало ровно
// 49000, а не 48999.99999999999.

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Округление вниз гарантирует, что объём ордера не превысит запрошенный.
// Если lotSize <= 0, возвращает исходное значение.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	step := decimal.NewFromFloat(lotSize)
	out, _ := v.Div(step).Floor().Mul(step).Float64()
	return out
}

// RoundToTick округляет цену до ближайшего шага цены
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	step := decimal.NewFromFloat(tick)
	out, _ := p.Div(step).Round(0).Mul(step).Float64()
	return out
}

// CalculatePNL расчитывает PNL позиции.
//
//   - Long PNL = (P_close - P_open) × qty
//   - Short PNL = (P_open - P_close) × qty
func CalculatePNL(side string, entryPrice, exitPrice, quantity float64) float64 {
	if quantity <= 0 || entryPrice <= 0 || exitPrice <= 0 {
		return 0
	}

	entry := decimal.NewFromFloat(entryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromFloat(quantity)

	var pnl decimal.Decimal
	switch side {
	case "long":
		pnl = exit.Sub(entry).Mul(qty)
	case "short":
		pnl = entry.Sub(exit).Mul(qty)
	default:
		return 0
	}
	out, _ := pnl.Float64()
	return out
}
