package bot

import (
	"context"
	"fmt"
	"time"

	"ocobot/internal/exchange"
	"ocobot/internal/models"
	"ocobot/pkg/utils"
)

// RecoveryResult - итог восстановления после рестарта
type RecoveryResult struct {
	// PositionsLoaded - позиций добавлено в книгу
	PositionsLoaded int

	// PairsRestored - пар снова под мониторингом
	PairsRestored int

	// PairsResolved - пар, разрешённых или отменённых за время простоя
	PairsResolved int

	// Unprotected - открытых позиций без живой защиты
	Unprotected int

	// Skipped - позиции, уже известные процессу
	Skipped int

	// Errors - ошибки по отдельным позициям
	Errors []error
}

// Recover восстанавливает книгу и OCO пары из открытых позиций хранилища
//
// Шаги для каждой позиции:
// 1. Блокировка ключа; позиция, уже известная книге, пропускается
// 2. CLOSING возвращается в OPEN (закрытие прервано рестартом)
// 3. Пара собирается из id ордеров, сохранённых в позиции
// 4. Статусы ног запрашиваются у биржи и применяются как в цикле мониторинга
//
// Новые ордера при восстановлении не ставятся: позиция без защиты
// только сообщается.
func (m *OCOManager) Recover(ctx context.Context, positions []*models.Position) *RecoveryResult {
	result := &RecoveryResult{}

	for _, p := range positions {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err())
			break
		}
		if p == nil || p.State == models.PositionClosed {
			continue
		}
		if err := m.recoverPosition(ctx, p.Clone(), result); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("position %s: %w", p.ID, err))
		}
	}

	m.log.Info("recovery complete",
		utils.Int("positions", result.PositionsLoaded),
		utils.Int("pairs_restored", result.PairsRestored),
		utils.Int("pairs_resolved", result.PairsResolved),
		utils.Int("unprotected", result.Unprotected),
		utils.Int("skipped", result.Skipped),
		utils.Int("errors", len(result.Errors)))
	return result
}

func (m *OCOManager) recoverPosition(ctx context.Context, p *models.Position, result *RecoveryResult) error {
	unlock := m.locks.Lock(p.Key())
	defer unlock()

	log := m.log.With(utils.PositionID(p.ID), utils.Symbol(p.Symbol), utils.Side(string(p.Side)))

	if _, ok := m.book.Get(p.ID); ok {
		result.Skipped++
		return nil
	}
	if other, ok := m.book.ByKey(p.Key()); ok {
		RecordAnomaly("reconcile")
		m.notifier.Notify(newNotification(models.NotificationTypeReconcile, models.SeverityError, p.ID, p.PairID,
			fmt.Sprintf("stored position conflicts with open position %s on %s", other.ID, p.Key()),
			map[string]interface{}{"conflicting_position_id": other.ID}))
		return fmt.Errorf("%w: key %s held by %s", ErrPositionExists, p.Key(), other.ID)
	}

	if p.State == models.PositionClosing {
		// результат прерванного закрытия неизвестен
		if err := transitionPosition(p, models.PositionOpen); err != nil {
			return err
		}
		RecordAnomaly("reconcile")
		m.notifier.Notify(newNotification(models.NotificationTypeReconcile, models.SeverityWarn, p.ID, p.PairID,
			"position was closing at shutdown, verify close on exchange",
			map[string]interface{}{"symbol": p.Symbol}))
		if err := m.bookkeeper.Update(ctx, p); err != nil {
			log.Warn("reopened position not persisted", utils.Err(err))
		}
	}

	if err := m.book.Add(p); err != nil {
		return err
	}
	result.PositionsLoaded++

	pair := pairFromPosition(p)
	if pair == nil {
		if p.StopLoss != nil || p.TakeProfit != nil {
			result.Unprotected++
			RecordAnomaly("unprotected")
			m.notifier.Notify(newNotification(models.NotificationTypeUnprotected, models.SeverityWarn, p.ID, "",
				fmt.Sprintf("%s %s restored without protective orders", p.Symbol, p.Side),
				map[string]interface{}{"symbol": p.Symbol}))
		}
		return nil
	}

	statuses := make(map[string]*exchange.OrderStatus)
	for _, leg := range pair.Legs() {
		st, err := m.queryLeg(ctx, pair.Symbol, leg.OrderID)
		if err != nil {
			// нога остаётся PENDING, её опросит цикл мониторинга
			log.Warn("leg status unavailable during recovery", utils.OrderID(leg.OrderID), utils.Err(err))
			continue
		}
		statuses[leg.OrderID] = st
	}

	m.commit(pair)
	m.applyObservations(ctx, pair, statuses)

	if pair.State == models.PairActive {
		result.PairsRestored++
		log.Info("oco pair restored", utils.PairID(pair.ID))
		return nil
	}
	result.PairsResolved++
	if pair.State == models.PairCancelled {
		result.Unprotected++
	}
	return nil
}

// queryLeg - статус ноги; ордер, которого биржа не знает, считается отменённым
func (m *OCOManager) queryLeg(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.OrderTimeout)
	defer cancel()

	return lookupStatus(cctx, m.gw, symbol, orderID)
}

// pairFromPosition собирает ACTIVE пару из id ордеров позиции
func pairFromPosition(p *models.Position) *models.OCOPair {
	if p.PairID == "" || (p.StopLossOrderID == "" && p.TakeProfitOrderID == "") {
		return nil
	}
	now := time.Now()
	pair := &models.OCOPair{
		ID:         p.PairID,
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Quantity:   p.Quantity,
		State:      models.PairActive,
		CreatedAt:  p.UpdatedAt,
	}
	if p.StopLossOrderID != "" {
		pair.StopLoss = &models.LegOrder{
			Kind:      models.LegStopLoss,
			OrderID:   p.StopLossOrderID,
			Price:     derefPrice(p.StopLoss),
			State:     models.OrderPending,
			UpdatedAt: now,
		}
	}
	if p.TakeProfitOrderID != "" {
		pair.TakeProfit = &models.LegOrder{
			Kind:      models.LegTakeProfit,
			OrderID:   p.TakeProfitOrderID,
			Price:     derefPrice(p.TakeProfit),
			State:     models.OrderPending,
			UpdatedAt: now,
		}
	}
	return pair
}

func derefPrice(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
