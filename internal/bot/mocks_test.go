package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ocobot/internal/exchange"
	"ocobot/internal/models"
)

// ============ Gateway ============

// mockGateway - сценарная биржа: рыночные ордера исполняются по marketPrice,
// условные стоят LIVE, пока тест не поменяет статус
type mockGateway struct {
	mu sync.Mutex

	marketPrice float64
	nextID      int

	// placeErr по типу ноги: ключ "market", "stop_loss", "take_profit"
	placeErr map[string]error
	// cancelErrs - ошибки по очереди для каждого ордера, дальше успех
	cancelErrs  map[string][]error
	cancelDelay time.Duration
	// fillOnCancel - ордер исполняется вместо отмены
	fillOnCancel map[string]float64

	orders   map[string]*exchange.OrderStatus
	specs    map[string]exchange.OrderSpec
	calls    []string
	cancelAt map[string]time.Time
	placeAt  []time.Time
}

func newMockGateway(price float64) *mockGateway {
	return &mockGateway{
		marketPrice:  price,
		placeErr:     make(map[string]error),
		cancelErrs:   make(map[string][]error),
		fillOnCancel: make(map[string]float64),
		orders:       make(map[string]*exchange.OrderStatus),
		specs:        make(map[string]exchange.OrderSpec),
		cancelAt:     make(map[string]time.Time),
	}
}

func (g *mockGateway) GetName() string { return "mock" }

// legKindOf определяет ногу по направлению trigger относительно стороны выхода
func legKindOf(spec exchange.OrderSpec) string {
	if spec.Type == exchange.OrderTypeMarket {
		return "market"
	}
	longPosition := spec.Side == exchange.SideSell
	falling := spec.Direction == exchange.TriggerFall
	if longPosition == falling {
		return string(models.LegStopLoss)
	}
	return string(models.LegTakeProfit)
}

func (g *mockGateway) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (*exchange.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	kind := legKindOf(spec)
	g.calls = append(g.calls, "place:"+kind)
	g.placeAt = append(g.placeAt, time.Now())
	if err := g.placeErr[kind]; err != nil {
		return nil, err
	}

	g.nextID++
	id := fmt.Sprintf("%s-%d", kind, g.nextID)
	g.specs[id] = spec

	order := &exchange.Order{
		ID:            id,
		ClientOrderID: spec.ClientOrderID,
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Type:          spec.Type,
		Quantity:      spec.Quantity,
		TriggerPrice:  spec.TriggerPrice,
	}
	if spec.Type == exchange.OrderTypeMarket {
		order.Status = exchange.OrderStatusFilled
		order.FilledQty = spec.Quantity
		order.AvgFillPrice = g.marketPrice
	} else {
		order.Status = exchange.OrderStatusLive
	}
	g.orders[id] = &exchange.OrderStatus{
		OrderID:   id,
		Status:    order.Status,
		FilledQty: order.FilledQty,
		AvgPrice:  order.AvgFillPrice,
	}
	return order, nil
}

func (g *mockGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if g.cancelDelay > 0 {
		select {
		case <-time.After(g.cancelDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, "cancel:"+orderID)
	if errs := g.cancelErrs[orderID]; len(errs) > 0 {
		g.cancelErrs[orderID] = errs[1:]
		return errs[0]
	}
	g.cancelAt[orderID] = time.Now()

	st, ok := g.orders[orderID]
	if !ok {
		return nil
	}
	if price, fill := g.fillOnCancel[orderID]; fill {
		st.Status = exchange.OrderStatusFilled
		st.AvgPrice = price
		return nil
	}
	if st.Status == exchange.OrderStatusLive || st.Status == exchange.OrderStatusNew {
		st.Status = exchange.OrderStatusCancelled
	}
	return nil
}

func (g *mockGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, "status:"+orderID)
	st, ok := g.orders[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	c := *st
	return &c, nil
}

// setStatus меняет статус ордера на "бирже"
func (g *mockGateway) setStatus(orderID, status string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.orders[orderID]
	if !ok {
		st = &exchange.OrderStatus{OrderID: orderID}
		g.orders[orderID] = st
	}
	st.Status = status
	if price > 0 {
		st.AvgPrice = price
	}
}

// forget удаляет ордер: биржа больше его не знает
func (g *mockGateway) forget(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.orders, orderID)
}

func (g *mockGateway) status(orderID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.orders[orderID]; ok {
		return st.Status
	}
	return ""
}

func (g *mockGateway) countCalls(prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (g *mockGateway) lastPlaceAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.placeAt) == 0 {
		return time.Time{}
	}
	return g.placeAt[len(g.placeAt)-1]
}

// batchGateway - mockGateway с пакетным опросом статусов. Для ордеров из
// batchErr пакетный запрос статуса не получает, остальные возвращаются
type batchGateway struct {
	*mockGateway
	batchErr map[string]error
}

func newBatchGateway(price float64) *batchGateway {
	return &batchGateway{mockGateway: newMockGateway(price), batchErr: make(map[string]error)}
}

func (g *batchGateway) GetOrderStatuses(ctx context.Context, symbol string, orderIDs []string) (map[string]*exchange.OrderStatus, error) {
	result := make(map[string]*exchange.OrderStatus, len(orderIDs))
	var errs []error
	for _, id := range orderIDs {
		if err := g.batchErr[id]; err != nil {
			errs = append(errs, err)
			continue
		}
		st, err := g.mockGateway.GetOrderStatus(ctx, symbol, id)
		switch {
		case errors.Is(err, exchange.ErrOrderNotFound):
			result[id] = &exchange.OrderStatus{OrderID: id, Status: exchange.OrderStatusCancelled}
		case err != nil:
			errs = append(errs, err)
		default:
			result[id] = st
		}
	}
	return result, errors.Join(errs...)
}

// ============ Store ============

var errStoreDown = errors.New("store down")

type mockStore struct {
	mu        sync.Mutex
	down      bool
	positions map[string]*models.Position
	creates   int
	updates   int
	notes     []*models.Notification
}

func newMockStore() *mockStore {
	return &mockStore{positions: make(map[string]*models.Position)}
}

func (s *mockStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *mockStore) CreatePosition(ctx context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	s.creates++
	s.positions[p.ID] = p.Clone()
	return nil
}

func (s *mockStore) UpdatePosition(ctx context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	s.updates++
	s.positions[p.ID] = p.Clone()
	return nil
}

func (s *mockStore) GetOpenPositions(ctx context.Context) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errStoreDown
	}
	var out []*models.Position
	for _, p := range s.positions {
		if p.State != models.PositionClosed {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *mockStore) Create(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errStoreDown
	}
	n.ID = int64(len(s.notes) + 1)
	s.notes = append(s.notes, n)
	return nil
}

func (s *mockStore) get(id string) (*models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ============ Helpers ============

type testRig struct {
	gw         exchange.Gateway
	book       *PositionBook
	bookkeeper *Bookkeeper
	notifier   *Notifier
	oco        *OCOManager
	closer     *PositionCloser
}

func newTestRig(gw exchange.Gateway, store PositionStore) *testRig {
	book := NewPositionBook()
	bk := NewBookkeeper(time.Second, nil)
	if store != nil {
		bk.Attach(store)
	}
	notifier := NewNotifier(1024, 100, nil)
	oco := NewOCOManager(gw, NewKeyedMutex(), book, bk, notifier, OCOConfig{
		OrderTimeout:  time.Second,
		PollInterval:  10 * time.Millisecond,
		PollFanout:    4,
		CancelRetries: 3,
		CancelBackoff: time.Millisecond,
	}, nil)
	return &testRig{
		gw:         gw,
		book:       book,
		bookkeeper: bk,
		notifier:   notifier,
		oco:        oco,
		closer:     NewPositionCloser(oco, nil),
	}
}

// openPosition кладёт открытую позицию в книгу
func (r *testRig) openPosition(t testing.TB, symbol string, side models.PositionSide, entry float64) *models.Position {
	p := &models.Position{
		ID:         "pos-" + symbol + "-" + string(side),
		Symbol:     symbol,
		Side:       side,
		Quantity:   0.01,
		EntryPrice: entry,
		State:      models.PositionOpen,
		OpenedAt:   time.Now(),
		UpdatedAt:  time.Now(),
	}
	t.Helper()
	if err := r.book.Add(p); err != nil {
		t.Fatalf("add position: %v", err)
	}
	return p
}

func (r *testRig) placeFor(p *models.Position, sl, tp *float64) *PlaceResult {
	return r.oco.PlacePair(context.Background(), PlaceRequest{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Quantity:   p.Quantity,
		StopLoss:   sl,
		TakeProfit: tp,
	})
}

// drainNotifications забирает всё из очереди уведомлений без Run
func drainNotifications(n *Notifier) []*models.Notification {
	var out []*models.Notification
	for {
		select {
		case notif := <-n.ch:
			out = append(out, notif)
		default:
			return out
		}
	}
}

func hasNotification(list []*models.Notification, typ string) bool {
	for _, n := range list {
		if n.Type == typ {
			return true
		}
	}
	return false
}

func ptr(v float64) *float64 { return &v }
