package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ocobot/internal/exchange"
	"ocobot/internal/models"
	"ocobot/pkg/utils"
)

// pollTarget - неисполненные ноги одной пары, которые надо опросить
type pollTarget struct {
	pairID   string
	key      string
	symbol   string
	orderIDs []string
}

// Run - цикл мониторинга ACTIVE пар
//
// Один долгоживущий процесс: раз в PollInterval пакетно запрашивает статусы
// всех неисполненных ног всех ACTIVE пар (не более PollFanout запросов
// одновременно, либо пакетным запросом биржи), затем применяет наблюдения
// к каждой паре под блокировкой ключа её позиции. Блокирующего ожидания на
// пару нет, число пар не влияет на число горутин.
func (m *OCOManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.log.Info("oco monitor started", utils.String("interval", m.cfg.PollInterval.String()))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("oco monitor stopped")
			return nil
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// pollOnce - один цикл опроса
func (m *OCOManager) pollOnce(ctx context.Context) {
	targets := m.pollTargets()
	if len(targets) == 0 {
		return
	}

	start := time.Now()
	statuses := m.queryStatuses(ctx, targets)

	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}
		m.applyTarget(ctx, t, statuses)
	}
	MonitorCycleLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
}

func (m *OCOManager) pollTargets() []pollTarget {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]pollTarget, 0, len(m.pairs))
	for _, p := range m.pairs {
		t := pollTarget{pairID: p.ID, key: p.Key(), symbol: p.Symbol}
		for _, leg := range p.Legs() {
			if !leg.State.IsTerminal() {
				t.orderIDs = append(t.orderIDs, leg.OrderID)
			}
		}
		if len(t.orderIDs) > 0 {
			targets = append(targets, t)
		}
	}
	return targets
}

// queryStatuses опрашивает биржу. Ошибки отдельных запросов пишутся в лог,
// пара без наблюдений будет опрошена в следующем цикле. Частичный ответ
// пакетного запроса применяется: недоступная нога одной пары не скрывает
// исполнение ноги другой пары того же символа.
func (m *OCOManager) queryStatuses(ctx context.Context, targets []pollTarget) map[string]*exchange.OrderStatus {
	var mu sync.Mutex
	result := make(map[string]*exchange.OrderStatus)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.PollFanout)

	if batch, ok := m.gw.(exchange.BatchStatusQuerier); ok {
		bySymbol := make(map[string][]string)
		for _, t := range targets {
			bySymbol[t.symbol] = append(bySymbol[t.symbol], t.orderIDs...)
		}
		for symbol, ids := range bySymbol {
			symbol, ids := symbol, ids
			g.Go(func() error {
				cctx, cancel := context.WithTimeout(gctx, m.cfg.OrderTimeout)
				defer cancel()
				statuses, err := batch.GetOrderStatuses(cctx, symbol, ids)
				if err != nil {
					m.log.Warn("batch status query failed", utils.Symbol(symbol),
						utils.Int("received", len(statuses)), utils.Int("requested", len(ids)), utils.Err(err))
				}
				mu.Lock()
				for id, st := range statuses {
					result[id] = st
				}
				mu.Unlock()
				return nil
			})
		}
	} else {
		for _, t := range targets {
			for _, id := range t.orderIDs {
				symbol, id := t.symbol, id
				g.Go(func() error {
					cctx, cancel := context.WithTimeout(gctx, m.cfg.OrderTimeout)
					defer cancel()
					st, err := lookupStatus(cctx, m.gw, symbol, id)
					if err != nil {
						m.log.Warn("status query failed", utils.Symbol(symbol), utils.OrderID(id), utils.Err(err))
						return nil
					}
					mu.Lock()
					result[id] = st
					mu.Unlock()
					return nil
				})
			}
		}
	}

	_ = g.Wait()
	return result
}

// applyTarget применяет наблюдения к паре под блокировкой ключа
func (m *OCOManager) applyTarget(ctx context.Context, t pollTarget, statuses map[string]*exchange.OrderStatus) {
	unlock := m.locks.Lock(t.key)
	defer unlock()

	// пара могла быть отменена или разрешена, пока шёл опрос
	pair, ok := m.activePairCopy(t.pairID)
	if !ok {
		return
	}
	m.applyObservations(ctx, pair, statuses)
}

// applyObservations - решение по наблюдениям одной пары. Вызывается под ключом.
//
//   - одна нога FILLED: пара RESOLVED, вторая отменяется, позиция закрывается
//   - обе FILLED: аномалия, без компенсирующих сделок
//   - REJECTED: нога помечается, вторая продолжает отслеживаться, отказ
//     сообщается без повтора
//   - живых ног не осталось: пара CANCELLED, позиция без защиты
func (m *OCOManager) applyObservations(ctx context.Context, pair *models.OCOPair, statuses map[string]*exchange.OrderStatus) {
	if pair.State != models.PairActive {
		return
	}

	now := time.Now()
	changed := false
	var filled []*models.LegOrder

	for _, leg := range pair.Legs() {
		if leg.State.IsTerminal() {
			continue
		}
		st, ok := statuses[leg.OrderID]
		if !ok {
			continue
		}
		state := orderState(st.Status)
		if state == "" || state == leg.State {
			continue
		}

		prev := leg.State
		leg.State = state
		leg.UpdatedAt = now
		changed = true

		switch state {
		case models.OrderFilled:
			leg.AvgFillPrice = fillPrice(st, leg)
			filled = append(filled, leg)
		case models.OrderRejected:
			m.log.Warn("protective order rejected",
				utils.PairID(pair.ID), utils.Leg(string(leg.Kind)), utils.OrderID(leg.OrderID),
				utils.String("reason", st.Reason))
			meta := pairMeta(pair)
			meta["leg"] = string(leg.Kind)
			meta["previous_state"] = string(prev)
			meta["reason"] = st.Reason
			m.notifier.Notify(newNotification(models.NotificationTypeRejected, models.SeverityWarn,
				pair.PositionID, pair.ID,
				fmt.Sprintf("%s %s order rejected by exchange: %s", pair.Symbol, leg.Kind, st.Reason), meta))
		case models.OrderCancelled:
			m.log.Warn("protective order cancelled outside of oco manager",
				utils.PairID(pair.ID), utils.Leg(string(leg.Kind)), utils.OrderID(leg.OrderID))
		}
	}

	if len(filled) > 0 {
		m.resolvePairLocked(ctx, pair, filled)
		return
	}
	if !changed {
		return
	}

	if !pair.HasLiveLegs() {
		if err := transitionPair(pair, models.PairCancelled); err != nil {
			m.log.Error("cannot cancel pair", utils.PairID(pair.ID), utils.Err(err))
			return
		}
		pair.CancelReason = "no live legs"
		pair.ClosedAt = &now
		RecordPairOutcome("cancelled")
		RecordAnomaly("unprotected")
		m.notifier.Notify(newNotification(models.NotificationTypeUnprotected, models.SeverityWarn,
			pair.PositionID, pair.ID,
			fmt.Sprintf("%s position has no live protective orders", pair.Symbol), pairMeta(pair)))
	}

	m.commit(pair)
	m.notifier.PairUpdated(pair.Clone())
}
