package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocobot/internal/exchange"
	"ocobot/internal/models"
	"ocobot/pkg/utils"
)

// CloseResult - результат закрытия позиции
type CloseResult struct {
	PositionID   string
	Closed       bool
	Reason       string
	ClosedBy     string // "close_order" или нога, исполнившаяся во время отмены
	CloseOrderID string
	ExitPrice    float64
	Err          error
}

// PositionCloser закрывает позицию по запросу
//
// Порядок строгий: сначала отмена OCO пары, и только после подтверждения
// отмены (или если активной пары нет) - закрывающий reduce-only ордер.
// Если отмена не удалась, закрытие прерывается: иначе защитный ордер мог бы
// исполниться уже после закрытия позиции (двойной выход).
type PositionCloser struct {
	gw           exchange.Gateway
	oco          *OCOManager
	locks        *KeyedMutex
	book         *PositionBook
	bookkeeper   *Bookkeeper
	notifier     *Notifier
	orderTimeout time.Duration
	log          *zap.Logger
}

// NewPositionCloser создаёт closer поверх OCO менеджера
func NewPositionCloser(oco *OCOManager, log *zap.Logger) *PositionCloser {
	if log == nil {
		log = zap.NewNop()
	}
	return &PositionCloser{
		gw:           oco.gw,
		oco:          oco,
		locks:        oco.locks,
		book:         oco.book,
		bookkeeper:   oco.bookkeeper,
		notifier:     oco.notifier,
		orderTimeout: oco.cfg.OrderTimeout,
		log:          log.Named("closer"),
	}
}

// Close закрывает позицию positionID
func (c *PositionCloser) Close(ctx context.Context, positionID, reason string) *CloseResult {
	res := &CloseResult{PositionID: positionID, Reason: reason}
	if reason == "" {
		res.Reason = models.CloseReasonManual
	}

	p, ok := c.book.Get(positionID)
	if !ok {
		res.Err = ErrPositionNotFound
		return res
	}

	unlock := c.locks.Lock(p.Key())
	defer unlock()

	// позиция могла закрыться, пока ждали блокировку
	p, ok = c.book.Get(positionID)
	if !ok {
		res.Err = ErrPositionNotFound
		return res
	}
	if p.State != models.PositionOpen {
		res.Err = fmt.Errorf("%w: %s", ErrPositionNotOpen, p.State)
		return res
	}

	log := c.log.With(utils.PositionID(p.ID), utils.Symbol(p.Symbol), utils.Side(string(p.Side)))

	if err := transitionPosition(p, models.PositionClosing); err != nil {
		res.Err = err
		return res
	}
	c.save(ctx, p)

	// 1. Отмена защитной пары
	if pair, ok := c.oco.PairForPosition(p.ID); ok {
		err := c.oco.cancelPairLocked(ctx, &pair, "position close: "+res.Reason)
		switch {
		case errors.Is(err, ErrLegFilled):
			// позицию уже закрыла защитная нога, закрывающий ордер не нужен
			res.Closed = true
			res.ClosedBy = string(pair.FilledLeg)
			if leg := pair.Leg(pair.FilledLeg); leg != nil {
				res.ExitPrice = leg.AvgFillPrice
			}
			log.Info("position closed by protective leg during cancellation", utils.Leg(res.ClosedBy))
			return res
		case err != nil:
			c.reopen(ctx, p)
			res.Err = fmt.Errorf("close aborted, protective orders not cancelled: %w", err)
			log.Error("close aborted", utils.Err(err))
			c.notifier.Notify(newNotification(models.NotificationTypeError, models.SeverityError,
				p.ID, pair.ID, "position close aborted: protective orders could not be cancelled",
				map[string]interface{}{"error": err.Error()}))
			return res
		}
	}

	// 2. Только теперь закрывающий ордер
	order, err := c.placeCloseOrder(ctx, p)
	if err != nil {
		c.reopen(ctx, p)
		res.Err = fmt.Errorf("close order failed: %w", err)
		RecordAnomaly("unprotected")
		log.Error("close order failed after protective orders were cancelled", utils.Err(err))
		c.notifier.Notify(newNotification(models.NotificationTypeUnprotected, models.SeverityError,
			p.ID, p.PairID, "close order failed, position is open without protective orders",
			map[string]interface{}{"error": err.Error(), "symbol": p.Symbol}))
		return res
	}

	exitPrice := order.AvgFillPrice
	closed := c.oco.finalizePosition(ctx, p.ID, res.Reason, exitPrice, "")
	if closed == nil {
		res.Err = fmt.Errorf("%w: position %s closed on exchange but not in book", ErrInvariantViolation, p.ID)
		return res
	}

	res.Closed = true
	res.ClosedBy = "close_order"
	res.CloseOrderID = order.ID
	res.ExitPrice = exitPrice

	pnl := utils.CalculatePNL(string(p.Side), p.EntryPrice, exitPrice, p.Quantity)
	c.notifier.Notify(newNotification(models.NotificationTypeClose, models.SeverityInfo, p.ID, p.PairID,
		fmt.Sprintf("%s %s position closed (%s)", p.Symbol, p.Side, res.Reason),
		map[string]interface{}{"exit_price": exitPrice, "pnl": pnl, "order_id": order.ID}))
	log.Info("position closed", utils.Price(exitPrice), utils.Float64("pnl", pnl))
	return res
}

func (c *PositionCloser) placeCloseOrder(ctx context.Context, p *models.Position) (*exchange.Order, error) {
	cctx, cancel := context.WithTimeout(ctx, c.orderTimeout)
	defer cancel()

	start := time.Now()
	order, err := c.gw.PlaceOrder(cctx, exchange.OrderSpec{
		Symbol:        p.Symbol,
		Side:          string(p.Side.ExitSide()),
		Type:          exchange.OrderTypeMarket,
		Quantity:      p.Quantity,
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
	})
	RecordOrderLatency(c.gw.GetName(), string(exchange.OrderTypeMarket), float64(time.Since(start).Microseconds())/1000)
	return order, err
}

// reopen возвращает позицию в OPEN после неудачного закрытия
func (c *PositionCloser) reopen(ctx context.Context, p *models.Position) {
	if err := transitionPosition(p, models.PositionOpen); err != nil {
		c.log.Error("cannot reopen position", utils.PositionID(p.ID), utils.Err(err))
		return
	}
	c.save(ctx, p)
}

func (c *PositionCloser) save(ctx context.Context, p *models.Position) {
	c.book.Put(p)
	if err := c.bookkeeper.Update(ctx, p); err != nil {
		c.log.Warn("position state not persisted", utils.PositionID(p.ID), utils.State(string(p.State)), utils.Err(err))
	}
}
