package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocobot/internal/config"
	"ocobot/internal/exchange"
	"ocobot/internal/models"
	"ocobot/pkg/utils"
)

// DispatchConfig - параметры диспетчера
type DispatchConfig struct {
	OrderTimeout      time.Duration
	DedupTTL          time.Duration
	FallbackSingleLeg bool // одна нога отклонена биржей: поставить вторую одиночной
}

// DispatchResult - результат обработки сигнала
type DispatchResult struct {
	SignalID     string
	PositionID   string
	EntryOrderID string
	Position     *models.Position
	Risk         models.ResolvedRisk
	Order        models.TradeOrder
	OCO          *PlaceResult // nil если защитных ног нет
	Degraded     bool         // пара заменена одиночной ногой
	Duplicate    bool
	Err          error
}

// Dispatcher - превращает сигнал в позицию с защитными ордерами
//
// Шаги:
// 1. Проверка сигнала и идемпотентность по id сигнала
// 2. Блокировка ключа позиции symbol:side (один вход на ключ)
// 3. Размер позиции: сигнал, затем стратегия/символ из YAML, затем default
// 4. Рыночный вход через биржу
// 5. Расчёт SL/TP от цены исполнения (ResolveRisk)
// 6. Позиция OPEN в книге и хранилище (запись может быть отложена)
// 7. OCOManager.PlacePair, если есть хотя бы одна нога
//
// Ошибка входа прерывает обработку, позиция не создаётся. Ошибка хранилища
// после входа только логируется: защита на бирже важнее полноты учёта.
type Dispatcher struct {
	gw         exchange.Gateway
	oco        *OCOManager
	locks      *KeyedMutex
	book       *PositionBook
	bookkeeper *Bookkeeper
	notifier   *Notifier
	sizing     *config.Sizing
	cfg        DispatchConfig
	seen       *signalCache
	log        *zap.Logger
}

// NewDispatcher создаёт диспетчер
func NewDispatcher(oco *OCOManager, sizing *config.Sizing, cfg DispatchConfig, log *zap.Logger) *Dispatcher {
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = oco.cfg.OrderTimeout
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		gw:         oco.gw,
		oco:        oco,
		locks:      oco.locks,
		book:       oco.book,
		bookkeeper: oco.bookkeeper,
		notifier:   oco.notifier,
		sizing:     sizing,
		cfg:        cfg,
		seen:       newSignalCache(cfg.DedupTTL),
		log:        log.Named("dispatcher"),
	}
}

// Seen - сигнал с таким id уже обрабатывался в окне идемпотентности
func (d *Dispatcher) Seen(signalID string) bool {
	return d.seen.Contains(signalID)
}

// Dispatch обрабатывает один сигнал
func (d *Dispatcher) Dispatch(ctx context.Context, signal models.Signal) *DispatchResult {
	start := time.Now()
	res := &DispatchResult{SignalID: signal.ID}

	if err := signal.Validate(); err != nil {
		RecordSignal("invalid")
		res.Err = err
		return res
	}

	// Доставка at-least-once: повтор сигнала не исполняется второй раз
	if !d.seen.Reserve(signal.ID) {
		RecordSignal("duplicate")
		res.Duplicate = true
		res.Err = fmt.Errorf("%w: %s", ErrDuplicateSignal, signal.ID)
		return res
	}

	side := signal.Side.PositionSide()
	key := models.PositionKey(signal.Symbol, side)
	log := d.log.With(utils.SignalID(signal.ID), utils.Symbol(signal.Symbol), utils.Side(string(side)))

	unlock := d.locks.Lock(key)
	defer unlock()

	if existing, ok := d.book.ByKey(key); ok {
		d.seen.Release(signal.ID)
		RecordSignal("rejected")
		res.Err = fmt.Errorf("%w: %s (position %s)", ErrPositionExists, key, existing.ID)
		log.Info("signal skipped, position already open", utils.PositionID(existing.ID))
		return res
	}

	qty := d.quantity(signal)
	if qty <= 0 {
		d.seen.Release(signal.ID)
		RecordSignal("rejected")
		res.Err = fmt.Errorf("%w: %s/%s", ErrNoQuantity, signal.StrategyID, signal.Symbol)
		return res
	}

	// Вход
	trade := models.NewTradeOrder(signal, qty)
	entryStart := time.Now()
	order, err := d.placeEntry(ctx, trade)
	DispatchLatency.WithLabelValues("entry").Observe(float64(time.Since(entryStart).Microseconds()) / 1000)
	if err != nil {
		d.seen.Release(signal.ID)
		RecordSignal("failed")
		res.Err = fmt.Errorf("entry order failed: %w", err)
		log.Warn("entry order failed", utils.Quantity(qty), utils.Err(err))
		d.notifier.Notify(newNotification(models.NotificationTypeError, models.SeverityWarn, "", "",
			fmt.Sprintf("%s %s entry failed: %v", signal.Symbol, signal.Side, err),
			map[string]interface{}{"signal_id": signal.ID, "rejected": exchange.IsRejection(err)}))
		return res
	}
	res.EntryOrderID = order.ID

	entryPrice := d.entryPrice(ctx, order)
	filledQty := order.FilledQty
	if filledQty <= 0 {
		filledQty = qty
	}

	risk := ResolveRisk(signal, entryPrice)
	trade.Quantity = filledQty
	trade.EntryPrice = entryPrice
	trade.Risk = risk
	res.Risk = risk
	res.Order = trade

	now := time.Now()
	p := &models.Position{
		ID:           uuid.NewString(),
		Symbol:       signal.Symbol,
		Side:         side,
		Quantity:     filledQty,
		EntryPrice:   entryPrice,
		StopLoss:     risk.StopLoss,
		TakeProfit:   risk.TakeProfit,
		State:        models.PositionOpen,
		EntryOrderID: order.ID,
		SignalID:     signal.ID,
		StrategyID:   signal.StrategyID,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
	res.PositionID = p.ID
	log = log.With(utils.PositionID(p.ID))

	if err := d.book.Add(p); err != nil {
		// ключ занят под нашей же блокировкой - не должно происходить
		log.Error("position book rejected new position", utils.Err(err))
	}
	if err := d.bookkeeper.Create(ctx, p); err != nil {
		log.Warn("position record inconsistent with exchange, write deferred", utils.Err(err))
	}
	RecordSignal("opened")
	d.notifier.Notify(newNotification(models.NotificationTypeOpen, models.SeverityInfo, p.ID, "",
		fmt.Sprintf("%s %s opened: qty %v @ %v", p.Symbol, p.Side, p.Quantity, p.EntryPrice),
		map[string]interface{}{
			"signal_id":          signal.ID,
			"stop_loss_source":   string(risk.StopLossSource),
			"take_profit_source": string(risk.TakeProfitSource),
		}))
	log.Info("position opened", utils.Price(entryPrice), utils.Quantity(filledQty))

	// Защитные ордера
	if risk.HasLegs() {
		ocoStart := time.Now()
		res.OCO, res.Degraded = d.protect(ctx, p, risk)
		DispatchLatency.WithLabelValues("oco").Observe(float64(time.Since(ocoStart).Microseconds()) / 1000)

		if res.OCO.Outcome == OutcomeFailed && !errors.Is(res.OCO.Err, ErrLegFilled) {
			RecordAnomaly("unprotected")
			d.notifier.Notify(newNotification(models.NotificationTypeUnprotected, models.SeverityError, p.ID, "",
				fmt.Sprintf("%s %s position opened without protective orders", p.Symbol, p.Side),
				map[string]interface{}{"error": errString(res.OCO.Err)}))
		}
	} else {
		log.Info("no protective legs resolved, position left without OCO")
	}

	if cur, ok := d.book.Get(p.ID); ok {
		res.Position = cur
	} else {
		res.Position = p
	}
	DispatchLatency.WithLabelValues("total").Observe(float64(time.Since(start).Microseconds()) / 1000)
	return res
}

// protect ставит пару; при структурном отказе ровно одной ноги и включённом
// FallbackSingleLeg ставит вторую ногу одиночной
func (d *Dispatcher) protect(ctx context.Context, p *models.Position, risk models.ResolvedRisk) (*PlaceResult, bool) {
	req := PlaceRequest{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Quantity:   p.Quantity,
		StopLoss:   risk.StopLoss,
		TakeProfit: risk.TakeProfit,
	}
	result := d.oco.placePairLocked(ctx, req)
	if result.Outcome != OutcomeFailed || !d.cfg.FallbackSingleLeg {
		return result, false
	}
	if req.StopLoss == nil || req.TakeProfit == nil {
		return result, false
	}
	if errors.Is(result.Err, ErrReconciliationRequired) || errors.Is(result.Err, ErrLegFilled) {
		return result, false
	}

	slRejected := exchange.IsRejection(result.StopLossErr)
	tpRejected := exchange.IsRejection(result.TakeProfitErr)
	if slRejected == tpRejected {
		return result, false
	}

	single := req
	if slRejected {
		single.StopLoss = nil
	} else {
		single.TakeProfit = nil
	}
	d.log.Warn("pair rejected on one leg, placing remaining leg alone",
		utils.PositionID(p.ID), utils.Bool("stop_loss_rejected", slRejected))

	fallback := d.oco.placePairLocked(ctx, single)
	if fallback.Outcome == OutcomeFailed {
		return result, false
	}
	fallback.StopLossErr = result.StopLossErr
	fallback.TakeProfitErr = result.TakeProfitErr
	return fallback, true
}

func (d *Dispatcher) quantity(signal models.Signal) float64 {
	qty := signal.Quantity
	if qty <= 0 {
		qty = d.sizing.Quantity(signal.StrategyID, signal.Symbol)
	}
	return utils.RoundToLotSize(qty, d.sizing.LotSize(signal.Symbol))
}

func (d *Dispatcher) placeEntry(ctx context.Context, trade models.TradeOrder) (*exchange.Order, error) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.OrderTimeout)
	defer cancel()

	start := time.Now()
	order, err := d.gw.PlaceOrder(cctx, exchange.OrderSpec{
		Symbol:        trade.Symbol,
		Side:          string(trade.Side),
		Type:          exchange.OrderTypeMarket,
		Quantity:      trade.Quantity,
		ClientOrderID: uuid.NewString(),
	})
	RecordOrderLatency(d.gw.GetName(), string(exchange.OrderTypeMarket), float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		return nil, err
	}
	if order.Status == exchange.OrderStatusRejected || order.Status == exchange.OrderStatusCancelled {
		return nil, &exchange.RejectionError{Exchange: d.gw.GetName(), Reason: "entry order " + order.Status}
	}
	return order, nil
}

// entryPrice - цена исполнения входа; если ответ на размещение её не
// содержит, запрашивается статус ордера
func (d *Dispatcher) entryPrice(ctx context.Context, order *exchange.Order) float64 {
	if order.AvgFillPrice > 0 {
		return order.AvgFillPrice
	}
	cctx, cancel := context.WithTimeout(ctx, d.cfg.OrderTimeout)
	defer cancel()
	st, err := d.gw.GetOrderStatus(cctx, order.Symbol, order.ID)
	if err != nil {
		d.log.Warn("entry fill price unavailable", utils.OrderID(order.ID), utils.Err(err))
		return 0
	}
	return st.AvgPrice
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// signalCache - id сигналов в окне идемпотентности
type signalCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	lastGC  time.Time
}

func newSignalCache(ttl time.Duration) *signalCache {
	return &signalCache{ttl: ttl, entries: make(map[string]time.Time), lastGC: time.Now()}
}

// Reserve отмечает id; false если id уже есть и не истёк
func (c *signalCache) Reserve(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.gcLocked(now)
	if exp, ok := c.entries[id]; ok && now.Before(exp) {
		return false
	}
	c.entries[id] = now.Add(c.ttl)
	return true
}

// Release снимает отметку: сигнал можно доставить повторно
func (c *signalCache) Release(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Contains проверяет id без отметки
func (c *signalCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.entries[id]
	return ok && time.Now().Before(exp)
}

func (c *signalCache) gcLocked(now time.Time) {
	if now.Sub(c.lastGC) < time.Minute {
		return
	}
	for id, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, id)
		}
	}
	c.lastGC = now
}
