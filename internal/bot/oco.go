package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocobot/internal/exchange"
	"ocobot/internal/models"
	"ocobot/pkg/retry"
	"ocobot/pkg/utils"
)

// closedPairsKept - сколько вышедших из ACTIVE пар помнить для идемпотентной
// отмены и диагностики
const closedPairsKept = 1000

// OCOConfig - параметры OCO менеджера
type OCOConfig struct {
	OrderTimeout  time.Duration // таймаут одного вызова биржи
	PollInterval  time.Duration // период цикла опроса
	PollFanout    int           // параллельных запросов статуса
	CancelRetries int           // попыток отмены ноги
	CancelBackoff time.Duration // начальная задержка между попытками
}

// DefaultOCOConfig возвращает конфигурацию по умолчанию
func DefaultOCOConfig() OCOConfig {
	return OCOConfig{
		OrderTimeout:  5 * time.Second,
		PollInterval:  2 * time.Second,
		PollFanout:    8,
		CancelRetries: 4,
		CancelBackoff: 250 * time.Millisecond,
	}
}

// PlaceOutcome - исход PlacePair
type PlaceOutcome string

const (
	OutcomePaired    PlaceOutcome = "paired"     // обе ноги стоят
	OutcomeSingleLeg PlaceOutcome = "single_leg" // стоит одна нога, вторая не задана
	OutcomeFailed    PlaceOutcome = "failed"     // защитных ордеров нет
)

// PlaceRequest - параметры постановки защитной пары
type PlaceRequest struct {
	PositionID string
	Symbol     string
	Side       models.PositionSide
	Quantity   float64
	StopLoss   *float64
	TakeProfit *float64
}

// PlaceResult - результат PlacePair
//
// Вызывающая сторона обязана обработать все три исхода: Paired, SingleLeg
// (Leg - какая нога стоит) и Failed (Err и ошибки по ногам).
type PlaceResult struct {
	Outcome       PlaceOutcome
	Pair          *models.OCOPair
	Leg           models.LegKind
	StopLossErr   error
	TakeProfitErr error
	Err           error
}

// LegErr возвращает ошибку постановки ноги
func (r *PlaceResult) LegErr(kind models.LegKind) error {
	if kind == models.LegStopLoss {
		return r.StopLossErr
	}
	return r.TakeProfitErr
}

func (r *PlaceResult) setLegErr(kind models.LegKind, err error) {
	if kind == models.LegStopLoss {
		r.StopLossErr = err
	} else {
		r.TakeProfitErr = err
	}
}

// OCOManager - жизненный цикл защитных пар ордеров
//
// Функции:
// - постановка SL и TP как условных reduce-only ордеров (параллельно)
// - откат поставленной ноги, если вторая не встала
// - фоновый пакетный опрос статусов (Run, oco_monitor.go)
// - отмена второй ноги при исполнении первой
// - отмена пары при закрытии позиции
// - восстановление пар после рестарта (recovery.go)
//
// Менеджер владеет картой ACTIVE пар. Любое изменение пары выполняется под
// блокировкой ключа позиции (KeyedMutex): изменения вносятся в копию и
// фиксируются через commit, поэтому снимки ActivePairs всегда согласованы.
type OCOManager struct {
	gw         exchange.Gateway
	locks      *KeyedMutex
	book       *PositionBook
	bookkeeper *Bookkeeper
	notifier   *Notifier
	cfg        OCOConfig
	log        *zap.Logger

	mu          sync.RWMutex
	pairs       map[string]*models.OCOPair // только ACTIVE
	byPosition  map[string]string          // position id -> pair id
	closed      map[string]*models.OCOPair
	closedOrder []string
}

// NewOCOManager создаёт менеджер
func NewOCOManager(
	gw exchange.Gateway,
	locks *KeyedMutex,
	book *PositionBook,
	bookkeeper *Bookkeeper,
	notifier *Notifier,
	cfg OCOConfig,
	log *zap.Logger,
) *OCOManager {
	def := DefaultOCOConfig()
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = def.OrderTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollFanout < 1 {
		cfg.PollFanout = def.PollFanout
	}
	if cfg.CancelRetries < 1 {
		cfg.CancelRetries = def.CancelRetries
	}
	if cfg.CancelBackoff <= 0 {
		cfg.CancelBackoff = def.CancelBackoff
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OCOManager{
		gw:         gw,
		locks:      locks,
		book:       book,
		bookkeeper: bookkeeper,
		notifier:   notifier,
		cfg:        cfg,
		log:        log.Named("oco"),
		pairs:      make(map[string]*models.OCOPair),
		byPosition: make(map[string]string),
		closed:     make(map[string]*models.OCOPair),
	}
}

// ============ Постановка ============

// PlacePair ставит защитные ордера позиции под блокировкой её ключа
func (m *OCOManager) PlacePair(ctx context.Context, req PlaceRequest) *PlaceResult {
	unlock := m.locks.Lock(models.PositionKey(req.Symbol, req.Side))
	defer unlock()
	return m.placePairLocked(ctx, req)
}

type legRequest struct {
	kind  models.LegKind
	price float64
}

type legResult struct {
	kind models.LegKind
	leg  *models.LegOrder
	err  error
}

// placePairLocked - PlacePair для вызывающего, который уже держит ключ
func (m *OCOManager) placePairLocked(ctx context.Context, req PlaceRequest) *PlaceResult {
	var legs []legRequest
	if req.StopLoss != nil {
		legs = append(legs, legRequest{kind: models.LegStopLoss, price: *req.StopLoss})
	}
	if req.TakeProfit != nil {
		legs = append(legs, legRequest{kind: models.LegTakeProfit, price: *req.TakeProfit})
	}
	if len(legs) == 0 {
		return &PlaceResult{Outcome: OutcomeFailed, Err: ErrNoLegs}
	}

	pair := &models.OCOPair{
		ID:         uuid.NewString(),
		PositionID: req.PositionID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		State:      models.PairActive,
		CreatedAt:  time.Now(),
	}
	log := m.log.With(utils.PairID(pair.ID), utils.PositionID(pair.PositionID), utils.Symbol(pair.Symbol))

	// Ноги ставятся ПАРАЛЛЕЛЬНО, каждая со своим таймаутом
	ch := make(chan legResult, len(legs))
	for _, l := range legs {
		go func(l legRequest) {
			leg, err := m.placeLeg(ctx, pair, l.kind, l.price)
			ch <- legResult{kind: l.kind, leg: leg, err: err}
		}(l)
	}

	res := &PlaceResult{}
	var placed []*models.LegOrder
	var failures []error
	for range legs {
		r := <-ch
		if r.err != nil {
			res.setLegErr(r.kind, r.err)
			failures = append(failures, fmt.Errorf("%s: %w", r.kind, r.err))
			log.Warn("protective leg placement failed", utils.Leg(string(r.kind)), utils.Err(r.err))
			continue
		}
		placed = append(placed, r.leg)
		if r.kind == models.LegStopLoss {
			pair.StopLoss = r.leg
		} else {
			pair.TakeProfit = r.leg
		}
	}

	switch {
	case len(placed) == len(legs):
		if len(legs) == 2 {
			res.Outcome = OutcomePaired
		} else {
			res.Outcome = OutcomeSingleLeg
			res.Leg = legs[0].kind
		}
		m.commit(pair)
		m.linkPosition(ctx, pair)
		var filled []*models.LegOrder
		for _, leg := range placed {
			if leg.State == models.OrderFilled {
				filled = append(filled, leg)
			}
		}
		if len(filled) > 0 {
			m.resolvePairLocked(ctx, pair, filled)
		}
		snapshot := pair.Clone()
		res.Pair = &snapshot
		RecordPairOutcome(string(res.Outcome))
		m.notifier.PairUpdated(snapshot)
		log.Info("protective orders placed", utils.String("outcome", string(res.Outcome)))
		return res

	case len(placed) == 0:
		res.Outcome = OutcomeFailed
		res.Err = errors.Join(failures...)
		RecordPairOutcome(string(OutcomeFailed))
		return res
	}

	// Одна нога встала, вторая нет: одиночный неотслеживаемый ордер не оставляем
	res.Outcome = OutcomeFailed
	RecordPairOutcome(string(OutcomeFailed))
	kept := placed[0]
	if err := m.cancelLeg(ctx, pair.Symbol, kept); err != nil {
		res.Err = err
		m.reportReconcile(pair, kept, err)
		return res
	}
	if kept.State == models.OrderFilled {
		// нога сработала раньше отката: позиция закрыта биржей
		m.finalizePosition(ctx, pair.PositionID, kept.Kind.CloseReason(), kept.AvgFillPrice, "")
		res.Err = fmt.Errorf("%w: %s during rollback", ErrLegFilled, kept.Kind)
		return res
	}
	res.Err = fmt.Errorf("%s leg cancelled after sibling failure: %w", kept.Kind, errors.Join(failures...))
	log.Warn("rolled back protective leg", utils.Leg(string(kept.Kind)), utils.OrderID(kept.OrderID))
	return res
}

// placeLeg ставит один условный reduce-only ордер
func (m *OCOManager) placeLeg(ctx context.Context, pair *models.OCOPair, kind models.LegKind, price float64) (*models.LegOrder, error) {
	spec := exchange.OrderSpec{
		Symbol:        pair.Symbol,
		Side:          string(pair.Side.ExitSide()),
		Type:          exchange.OrderTypeConditional,
		Quantity:      pair.Quantity,
		TriggerPrice:  price,
		Direction:     triggerDirection(pair.Side, kind),
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.OrderTimeout)
	defer cancel()

	start := time.Now()
	order, err := m.gw.PlaceOrder(cctx, spec)
	RecordOrderLatency(m.gw.GetName(), string(spec.Type), float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			// ордер мог дойти до биржи: сообщаем для сверки
			m.notifier.Notify(newNotification(models.NotificationTypeReconcile, models.SeverityWarn,
				pair.PositionID, pair.ID,
				fmt.Sprintf("%s placement timed out, order may exist on exchange", kind),
				map[string]interface{}{"client_order_id": spec.ClientOrderID, "trigger_price": price}))
			RecordAnomaly("reconcile")
			return nil, fmt.Errorf("placement timed out: %w", err)
		}
		return nil, err
	}

	state := orderState(order.Status)
	switch state {
	case models.OrderRejected, models.OrderCancelled:
		return nil, &exchange.RejectionError{Exchange: m.gw.GetName(), Reason: "order " + order.Status + " on placement"}
	case "":
		state = models.OrderPending
	}

	leg := &models.LegOrder{
		Kind:      kind,
		OrderID:   order.ID,
		Price:     price,
		State:     state,
		UpdatedAt: time.Now(),
	}
	if state == models.OrderFilled {
		leg.AvgFillPrice = order.AvgFillPrice
		if leg.AvgFillPrice == 0 {
			leg.AvgFillPrice = price
		}
	}
	return leg, nil
}

// triggerDirection: SL long срабатывает при падении, TP long - при росте; short наоборот
func triggerDirection(side models.PositionSide, kind models.LegKind) exchange.TriggerDirection {
	falling := kind == models.LegStopLoss
	if side == models.PositionShort {
		falling = !falling
	}
	if falling {
		return exchange.TriggerFall
	}
	return exchange.TriggerRise
}

// orderState переводит нормализованный статус биржи в состояние ноги
func orderState(status string) models.OrderState {
	switch status {
	case exchange.OrderStatusNew:
		return models.OrderPending
	case exchange.OrderStatusLive:
		return models.OrderLive
	case exchange.OrderStatusFilled:
		return models.OrderFilled
	case exchange.OrderStatusCancelled:
		return models.OrderCancelled
	case exchange.OrderStatusRejected:
		return models.OrderRejected
	}
	return ""
}

// linkPosition записывает id пары и ордеров в позицию
func (m *OCOManager) linkPosition(ctx context.Context, pair *models.OCOPair) {
	p, ok := m.book.Get(pair.PositionID)
	if !ok {
		m.log.Warn("position for pair not in book", utils.PositionID(pair.PositionID), utils.PairID(pair.ID))
		return
	}
	p.PairID = pair.ID
	if pair.StopLoss != nil {
		p.StopLossOrderID = pair.StopLoss.OrderID
	}
	if pair.TakeProfit != nil {
		p.TakeProfitOrderID = pair.TakeProfit.OrderID
	}
	m.book.Put(p)
	if err := m.bookkeeper.Update(ctx, p); err != nil {
		m.log.Warn("pair link not persisted", utils.PositionID(p.ID), utils.Err(err))
	}
}

// ============ Отмена ============

// cancelLeg отменяет ногу с ограниченным бюджетом повторов и подтверждает
// итоговое состояние запросом статуса. Нога может оказаться FILLED.
// Исчерпание бюджета - ErrReconciliationRequired: ордер может быть жив.
func (m *OCOManager) cancelLeg(ctx context.Context, symbol string, leg *models.LegOrder) error {
	if leg == nil || leg.State.IsTerminal() {
		return nil
	}

	cfg := retry.CancelConfig(m.cfg.CancelRetries, m.cfg.CancelBackoff)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		CancelRetries.Inc()
		m.log.Warn("retrying cancel",
			utils.OrderID(leg.OrderID), utils.Int("attempt", attempt), utils.Latency(delay), utils.Err(err))
	}

	err := retry.Do(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.OrderTimeout)
		defer cancel()
		return m.gw.CancelOrder(cctx, symbol, leg.OrderID)
	}, cfg)
	if err != nil {
		return fmt.Errorf("%w: cancel %s order %s: %v", ErrReconciliationRequired, leg.Kind, leg.OrderID, err)
	}

	// Отмена подтверждена биржей, но исполненный ордер тоже "отменяется" как no-op:
	// итог берём из статуса. Статус может отставать, поэтому ждём терминального.
	status, err := retry.DoWithResult(ctx, func() (*exchange.OrderStatus, error) {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.OrderTimeout)
		defer cancel()
		st, err := lookupStatus(cctx, m.gw, symbol, leg.OrderID)
		if err != nil {
			return nil, err
		}
		if !orderState(st.Status).IsTerminal() {
			return nil, fmt.Errorf("order %s still %s after cancel", leg.OrderID, st.Status)
		}
		return st, nil
	}, cfg)
	if err != nil {
		return fmt.Errorf("%w: confirm cancel of %s order %s: %v", ErrReconciliationRequired, leg.Kind, leg.OrderID, err)
	}

	leg.State = orderState(status.Status)
	leg.UpdatedAt = time.Now()
	if leg.State == models.OrderFilled {
		leg.AvgFillPrice = fillPrice(status, leg)
	}
	return nil
}

// lookupStatus - статус одного ордера; ордер, которого биржа не знает,
// считается отменённым
func lookupStatus(ctx context.Context, gw exchange.Gateway, symbol, orderID string) (*exchange.OrderStatus, error) {
	st, err := gw.GetOrderStatus(ctx, symbol, orderID)
	if errors.Is(err, exchange.ErrOrderNotFound) {
		return &exchange.OrderStatus{OrderID: orderID, Status: exchange.OrderStatusCancelled, Reason: "not found"}, nil
	}
	return st, err
}

func fillPrice(st *exchange.OrderStatus, leg *models.LegOrder) float64 {
	if st != nil && st.AvgPrice > 0 {
		return st.AvgPrice
	}
	return leg.Price
}

// CancelPair отменяет обе ноги пары и переводит её в CANCELLED
//
// Идемпотентна: повторный вызов для пары, уже вышедшей из ACTIVE, - успешный
// no-op. Если при отмене нога оказалась исполненной, пара разрешается этой
// ногой, позиция закрывается и возвращается ErrLegFilled.
func (m *OCOManager) CancelPair(ctx context.Context, pairID, reason string) error {
	pair, ok := m.Pair(pairID)
	if !ok {
		return ErrPairNotFound
	}

	unlock := m.locks.Lock(pair.Key())
	defer unlock()

	cur, ok := m.activePairCopy(pairID)
	if !ok {
		return nil
	}
	if err := m.cancelPairLocked(ctx, cur, reason); err != nil {
		return err
	}

	if p, ok := m.book.Get(cur.PositionID); ok && p.IsOpen() {
		RecordAnomaly("unprotected")
		m.notifier.Notify(newNotification(models.NotificationTypeUnprotected, models.SeverityWarn,
			p.ID, cur.ID, "protective orders cancelled, position remains open",
			map[string]interface{}{"reason": reason, "symbol": p.Symbol}))
	}
	return nil
}

// cancelPairLocked - отмена пары под уже захваченным ключом. pair - рабочая копия.
func (m *OCOManager) cancelPairLocked(ctx context.Context, pair *models.OCOPair, reason string) error {
	if pair.State != models.PairActive {
		return nil
	}

	var filled []*models.LegOrder
	var failures []error
	for _, leg := range pair.Legs() {
		if !leg.State.IsTerminal() {
			if err := m.cancelLeg(ctx, pair.Symbol, leg); err != nil {
				failures = append(failures, err)
				continue
			}
		}
		if leg.State == models.OrderFilled {
			filled = append(filled, leg)
		}
	}

	if len(filled) > 0 {
		m.resolvePairLocked(ctx, pair, filled)
		return fmt.Errorf("%w: %s", ErrLegFilled, filled[0].Kind)
	}

	if len(failures) > 0 {
		err := errors.Join(failures...)
		m.commit(pair)
		m.reportReconcile(pair, nil, err)
		return err
	}

	now := time.Now()
	if err := transitionPair(pair, models.PairCancelled); err != nil {
		return err
	}
	pair.CancelReason = reason
	pair.ClosedAt = &now
	m.commit(pair)

	RecordPairOutcome("cancelled")
	m.notifier.PairUpdated(pair.Clone())
	m.log.Info("oco pair cancelled", utils.PairID(pair.ID), utils.PositionID(pair.PositionID), utils.String("reason", reason))
	return nil
}

// ============ Разрешение ============

// resolvePairLocked: нога (или обе) исполнена. Пара RESOLVED, живые ноги
// отменяются, позиция закрывается. Две исполненные ноги - нарушение
// инварианта: фиксируется как аномалия, компенсирующих сделок нет.
func (m *OCOManager) resolvePairLocked(ctx context.Context, pair *models.OCOPair, filled []*models.LegOrder) {
	if err := transitionPair(pair, models.PairResolved); err != nil {
		m.log.Error("cannot resolve pair", utils.PairID(pair.ID), utils.Err(err))
		return
	}
	now := time.Now()
	first := filled[0]
	pair.FilledLeg = first.Kind
	pair.ClosedAt = &now

	var reconcileErr error
	for _, leg := range pair.Legs() {
		if leg.State.IsTerminal() {
			continue
		}
		if err := m.cancelLeg(ctx, pair.Symbol, leg); err != nil {
			reconcileErr = err
			continue
		}
		if leg.State == models.OrderFilled {
			filled = append(filled, leg)
		}
	}
	m.commit(pair)

	log := m.log.With(utils.PairID(pair.ID), utils.PositionID(pair.PositionID), utils.Symbol(pair.Symbol))

	anomaly := ""
	reason := first.Kind.CloseReason()
	if len(filled) > 1 {
		anomaly = fmt.Sprintf("both legs filled: stop_loss %s @ %v, take_profit %s @ %v",
			pair.StopLoss.OrderID, pair.StopLoss.AvgFillPrice, pair.TakeProfit.OrderID, pair.TakeProfit.AvgFillPrice)
		reason = models.CloseReasonAnomaly
		RecordAnomaly("double_fill")
		log.Error("oco invariant violated", utils.String("anomaly", anomaly), utils.Err(ErrInvariantViolation))
		m.notifier.Notify(newNotification(models.NotificationTypeAnomaly, models.SeverityError,
			pair.PositionID, pair.ID, anomaly, pairMeta(pair)))
	}
	if reconcileErr != nil {
		m.reportReconcile(pair, nil, reconcileErr)
	}

	m.finalizePosition(ctx, pair.PositionID, reason, first.AvgFillPrice, anomaly)

	if anomaly == "" {
		typ := models.NotificationTypeTP
		if first.Kind == models.LegStopLoss {
			typ = models.NotificationTypeSL
		}
		m.notifier.Notify(newNotification(typ, models.SeverityInfo, pair.PositionID, pair.ID,
			fmt.Sprintf("%s %s filled at %v", pair.Symbol, first.Kind, first.AvgFillPrice), pairMeta(pair)))
	}

	RecordPairOutcome("resolved_" + string(first.Kind))
	m.notifier.PairUpdated(pair.Clone())
	log.Info("oco pair resolved", utils.Leg(string(first.Kind)), utils.Price(first.AvgFillPrice))
}

// finalizePosition закрывает позицию в книге и хранилище
func (m *OCOManager) finalizePosition(ctx context.Context, positionID, reason string, exitPrice float64, anomaly string) *models.Position {
	p, ok := m.book.Get(positionID)
	if !ok {
		m.log.Warn("position to close not in book", utils.PositionID(positionID))
		return nil
	}
	if err := transitionPosition(p, models.PositionClosed); err != nil {
		m.log.Error("cannot close position", utils.PositionID(positionID), utils.Err(err))
		return nil
	}

	now := time.Now()
	p.CloseReason = reason
	p.ExitPrice = exitPrice
	p.Anomaly = anomaly
	p.ClosedAt = &now
	m.book.Put(p)

	if err := m.bookkeeper.Update(ctx, p); err != nil {
		m.log.Warn("position close not persisted", utils.PositionID(p.ID), utils.Err(err))
	}
	RecordRealizedPnl(utils.CalculatePNL(string(p.Side), p.EntryPrice, exitPrice, p.Quantity))
	return p
}

// reportReconcile сообщает об ордере, состояние которого нельзя гарантировать
func (m *OCOManager) reportReconcile(pair *models.OCOPair, leg *models.LegOrder, err error) {
	RecordAnomaly("reconcile")
	meta := pairMeta(pair)
	meta["error"] = err.Error()
	if leg != nil {
		meta["leg"] = string(leg.Kind)
		meta["order_id"] = leg.OrderID
	}
	m.log.Error("reconciliation required", utils.PairID(pair.ID), utils.PositionID(pair.PositionID), utils.Err(err))
	m.notifier.Notify(newNotification(models.NotificationTypeReconcile, models.SeverityError,
		pair.PositionID, pair.ID, "protective order state unknown, manual reconciliation required", meta))
}

func pairMeta(pair *models.OCOPair) map[string]interface{} {
	meta := map[string]interface{}{
		"symbol":     pair.Symbol,
		"side":       string(pair.Side),
		"pair_state": string(pair.State),
	}
	for _, leg := range pair.Legs() {
		prefix := string(leg.Kind)
		meta[prefix+"_order_id"] = leg.OrderID
		meta[prefix+"_state"] = string(leg.State)
		meta[prefix+"_price"] = leg.Price
	}
	return meta
}

// ============ Учёт пар ============

// commit фиксирует рабочую копию пары: ACTIVE остаётся в карте, остальные
// переносятся в закрытые
func (m *OCOManager) commit(pair *models.OCOPair) {
	c := pair.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	if c.State == models.PairActive {
		m.pairs[c.ID] = &c
		m.byPosition[c.PositionID] = c.ID
	} else {
		delete(m.pairs, c.ID)
		if m.byPosition[c.PositionID] == c.ID {
			delete(m.byPosition, c.PositionID)
		}
		if _, ok := m.closed[c.ID]; !ok {
			m.closedOrder = append(m.closedOrder, c.ID)
		}
		m.closed[c.ID] = &c
		for len(m.closedOrder) > closedPairsKept {
			delete(m.closed, m.closedOrder[0])
			m.closedOrder = m.closedOrder[1:]
		}
	}
	ActivePairsGauge.Set(float64(len(m.pairs)))
}

// activePairCopy возвращает рабочую копию ACTIVE пары
func (m *OCOManager) activePairCopy(id string) (*models.OCOPair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pairs[id]
	if !ok {
		return nil, false
	}
	c := p.Clone()
	return &c, true
}

// ActivePairs возвращает снимок ACTIVE пар (глубокие копии), старые первыми
func (m *OCOManager) ActivePairs() []models.OCOPair {
	m.mu.RLock()
	out := make([]models.OCOPair, 0, len(m.pairs))
	for _, p := range m.pairs {
		out = append(out, p.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Pair возвращает копию пары (ACTIVE или недавно закрытой)
func (m *OCOManager) Pair(id string) (models.OCOPair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.pairs[id]; ok {
		return p.Clone(), true
	}
	if p, ok := m.closed[id]; ok {
		return p.Clone(), true
	}
	return models.OCOPair{}, false
}

// PairForPosition возвращает ACTIVE пару позиции
func (m *OCOManager) PairForPosition(positionID string) (models.OCOPair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPosition[positionID]
	if !ok {
		return models.OCOPair{}, false
	}
	return m.pairs[id].Clone(), true
}
