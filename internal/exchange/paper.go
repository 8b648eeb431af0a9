package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Paper - симулятор биржи в памяти
//
// Рыночные ордера исполняются по текущей mark цене символа, условные
// ордера ждут пересечения trigger цены в SetMarkPrice. Условный ордер,
// который сработал бы сразу, отклоняется как на реальной бирже.
type Paper struct {
	mu     sync.Mutex
	marks  map[string]float64
	orders map[string]*paperOrder
}

type paperOrder struct {
	Order
	direction TriggerDirection
	reason    string
}

// NewPaper создаёт пустой симулятор
func NewPaper() *Paper {
	return &Paper{
		marks:  make(map[string]float64),
		orders: make(map[string]*paperOrder),
	}
}

func (p *Paper) GetName() string {
	return "paper"
}

// SetMarkPrice обновляет mark цену и исполняет сработавшие условные ордера.
// Возвращает id исполненных ордеров.
func (p *Paper) SetMarkPrice(symbol string, price float64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.marks[symbol] = price

	var filled []string
	now := time.Now()
	for id, o := range p.orders {
		if o.Symbol != symbol || o.Type != OrderTypeConditional || o.Status != OrderStatusLive {
			continue
		}
		if triggered(o.direction, o.TriggerPrice, price) {
			o.Status = OrderStatusFilled
			o.FilledQty = o.Quantity
			o.AvgFillPrice = price
			o.UpdatedAt = now
			filled = append(filled, id)
		}
	}
	return filled
}

// MarkPrice возвращает текущую mark цену символа
func (p *Paper) MarkPrice(symbol string) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.marks[symbol]
	return v, ok
}

func triggered(dir TriggerDirection, trigger, price float64) bool {
	switch dir {
	case TriggerRise:
		return price >= trigger
	case TriggerFall:
		return price <= trigger
	}
	return false
}

// PlaceOrder размещает ордер в симуляторе
func (p *Paper) PlaceOrder(ctx context.Context, spec OrderSpec) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Quantity <= 0 {
		return nil, &RejectionError{Exchange: "paper", Code: "qty", Reason: "quantity must be positive"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	mark, ok := p.marks[spec.Symbol]
	if !ok {
		return nil, &RejectionError{Exchange: "paper", Code: "symbol", Reason: fmt.Sprintf("no mark price for %s", spec.Symbol)}
	}

	now := time.Now()
	o := &paperOrder{
		Order: Order{
			ID:            uuid.NewString(),
			ClientOrderID: spec.ClientOrderID,
			Symbol:        spec.Symbol,
			Side:          spec.Side,
			Type:          spec.Type,
			Quantity:      spec.Quantity,
			TriggerPrice:  spec.TriggerPrice,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		direction: spec.Direction,
	}

	switch spec.Type {
	case OrderTypeMarket:
		o.Status = OrderStatusFilled
		o.FilledQty = spec.Quantity
		o.AvgFillPrice = mark
	case OrderTypeConditional:
		if spec.TriggerPrice <= 0 || spec.Direction == TriggerNone {
			return nil, &RejectionError{Exchange: "paper", Code: "trigger", Reason: "conditional order requires trigger price and direction"}
		}
		if triggered(spec.Direction, spec.TriggerPrice, mark) {
			return nil, &RejectionError{
				Exchange: "paper",
				Code:     "trigger",
				Reason:   fmt.Sprintf("trigger %v would fire immediately at mark %v", spec.TriggerPrice, mark),
			}
		}
		o.Status = OrderStatusLive
	default:
		return nil, fmt.Errorf("paper: unsupported order type %q", spec.Type)
	}

	p.orders[o.ID] = o
	out := o.Order
	return &out, nil
}

// CancelOrder отменяет живой ордер; терминальный или неизвестный - no-op
func (p *Paper) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok || o.Symbol != symbol {
		return nil
	}
	if o.Status == OrderStatusLive || o.Status == OrderStatusNew {
		o.Status = OrderStatusCancelled
		o.UpdatedAt = time.Now()
	}
	return nil
}

// GetOrderStatus возвращает состояние ордера
func (p *Paper) GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok || o.Symbol != symbol {
		return nil, fmt.Errorf("paper %s %s: %w", symbol, orderID, ErrOrderNotFound)
	}
	return o.status(), nil
}

// GetOrderStatuses - пакетный опрос; неизвестный ордер считается отменённым
func (p *Paper) GetOrderStatuses(ctx context.Context, symbol string, orderIDs []string) (map[string]*OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	result := make(map[string]*OrderStatus, len(orderIDs))
	for _, id := range orderIDs {
		if o, ok := p.orders[id]; ok && o.Symbol == symbol {
			result[id] = o.status()
			continue
		}
		result[id] = &OrderStatus{OrderID: id, Status: OrderStatusCancelled, Reason: "not found"}
	}
	return result, nil
}

// OpenOrders возвращает число живых условных ордеров символа
func (p *Paper) OpenOrders(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, o := range p.orders {
		if o.Symbol == symbol && o.Status == OrderStatusLive {
			n++
		}
	}
	return n
}

func (o *paperOrder) status() *OrderStatus {
	return &OrderStatus{
		OrderID:   o.ID,
		Status:    o.Status,
		FilledQty: o.FilledQty,
		AvgPrice:  o.AvgFillPrice,
		Reason:    o.reason,
		UpdatedAt: o.UpdatedAt,
	}
}
