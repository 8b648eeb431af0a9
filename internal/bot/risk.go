package bot

import (
	"github.com/shopspring/decimal"

	"ocobot/internal/models"
)

// ResolveRisk вычисляет итоговые цены stop-loss и take-profit
//
// Для каждой ноги независимо:
//  1. абсолютная цена из сигнала используется как есть
//  2. иначе процент: LONG SL = entry×(1−pct), TP = entry×(1+pct); SHORT наоборот
//  3. иначе нога отсутствует
//
// Абсолютное значение всегда имеет приоритет над процентом. Процентная нога
// без цены входа (entryPrice <= 0) не вычисляется и считается отсутствующей.
// Функция чистая, без побочных эффектов.
func ResolveRisk(signal models.Signal, entryPrice float64) models.ResolvedRisk {
	long := signal.Side.PositionSide() == models.PositionLong

	sl, slSource := resolveLeg(signal.StopLoss, entryPrice, !long)
	tp, tpSource := resolveLeg(signal.TakeProfit, entryPrice, long)

	return models.ResolvedRisk{
		Symbol:           signal.Symbol,
		StopLoss:         sl,
		TakeProfit:       tp,
		StopLossSource:   slSource,
		TakeProfitSource: tpSource,
	}
}

// resolveLeg считает одну ногу; above - цена ноги выше входа
// (TP для long, SL для short)
func resolveLeg(leg models.RiskLeg, entryPrice float64, above bool) (*float64, models.RiskSource) {
	switch leg.Kind {
	case models.RiskLegAbsolute:
		if leg.Value > 0 {
			v := leg.Value
			return &v, models.RiskSourceAbsolute
		}
	case models.RiskLegPercentage:
		if leg.Value > 0 && entryPrice > 0 {
			entry := decimal.NewFromFloat(entryPrice)
			pct := decimal.NewFromFloat(leg.Value)
			factor := decimal.NewFromInt(1).Sub(pct)
			if above {
				factor = decimal.NewFromInt(1).Add(pct)
			}
			v, _ := entry.Mul(factor).Float64()
			if v > 0 {
				return &v, models.RiskSourcePercentage
			}
		}
	}
	return nil, models.RiskSourceNone
}
