package bot

import (
	"context"
	"errors"
	"testing"

	"ocobot/internal/exchange"
	"ocobot/internal/models"
)

func TestPlacePair_Paired(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, newMockStore())
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)

	res := rig.placeFor(p, ptr(49000), ptr(51000))

	if res.Outcome != OutcomePaired {
		t.Fatalf("Outcome = %s, want paired (err %v)", res.Outcome, res.Err)
	}
	if res.Pair == nil || res.Pair.State != models.PairActive {
		t.Fatalf("pair not active: %+v", res.Pair)
	}
	if got := len(rig.oco.ActivePairs()); got != 1 {
		t.Errorf("ActivePairs = %d, want 1", got)
	}

	sl := gw.specs[res.Pair.StopLoss.OrderID]
	if sl.Direction != exchange.TriggerFall || !sl.ReduceOnly || sl.Side != exchange.SideSell {
		t.Errorf("stop loss spec = %+v, want fall/reduce-only/sell", sl)
	}
	tp := gw.specs[res.Pair.TakeProfit.OrderID]
	if tp.Direction != exchange.TriggerRise || tp.TriggerPrice != 51000 {
		t.Errorf("take profit spec = %+v, want rise at 51000", tp)
	}

	linked, _ := rig.book.Get(p.ID)
	if linked.PairID != res.Pair.ID || linked.StopLossOrderID == "" || linked.TakeProfitOrderID == "" {
		t.Errorf("position not linked to pair: %+v", linked)
	}
}

func TestPlacePair_ShortDirections(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "ETHUSDT", models.PositionShort, 3000)

	res := rig.placeFor(p, ptr(3100), ptr(2900))
	if res.Outcome != OutcomePaired {
		t.Fatalf("Outcome = %s, want paired", res.Outcome)
	}
	sl := gw.specs[res.Pair.StopLoss.OrderID]
	tp := gw.specs[res.Pair.TakeProfit.OrderID]
	if sl.Direction != exchange.TriggerRise || tp.Direction != exchange.TriggerFall {
		t.Errorf("short directions: sl %v tp %v", sl.Direction, tp.Direction)
	}
	if sl.Side != exchange.SideBuy {
		t.Errorf("short exit side = %s, want buy", sl.Side)
	}
}

func TestPlacePair_SingleLeg(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)

	res := rig.placeFor(p, nil, ptr(52000))

	if res.Outcome != OutcomeSingleLeg || res.Leg != models.LegTakeProfit {
		t.Fatalf("result = %s/%s, want single_leg/take_profit", res.Outcome, res.Leg)
	}
	if res.Pair.StopLoss != nil {
		t.Error("stop loss leg should be absent")
	}
}

func TestPlacePair_NoLegs(t *testing.T) {
	rig := newTestRig(newMockGateway(50000), nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)

	res := rig.placeFor(p, nil, nil)
	if res.Outcome != OutcomeFailed || !errors.Is(res.Err, ErrNoLegs) {
		t.Errorf("result = %s/%v, want failed/ErrNoLegs", res.Outcome, res.Err)
	}
}

func TestPlacePair_OneLegRejected_RollsBackOther(t *testing.T) {
	gw := newMockGateway(50000)
	gw.placeErr[string(models.LegTakeProfit)] = &exchange.RejectionError{Exchange: "mock", Reason: "invalid price"}
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)

	res := rig.placeFor(p, ptr(49000), ptr(51000))

	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %s, want failed", res.Outcome)
	}
	if !exchange.IsRejection(res.TakeProfitErr) {
		t.Errorf("TakeProfitErr = %v, want rejection", res.TakeProfitErr)
	}
	if res.StopLossErr != nil {
		t.Errorf("StopLossErr = %v, want nil", res.StopLossErr)
	}
	if gw.countCalls("cancel:stop_loss") != 1 {
		t.Error("placed stop loss was not cancelled")
	}
	if len(rig.oco.ActivePairs()) != 0 {
		t.Error("failed placement must not leave an active pair")
	}
}

func TestPlacePair_RollbackCancelFails(t *testing.T) {
	gw := newMockGateway(50000)
	gw.placeErr[string(models.LegTakeProfit)] = &exchange.RejectionError{Exchange: "mock", Reason: "invalid price"}
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)

	// стоп получит id stop_loss-1
	transient := errors.New("timeout")
	gw.cancelErrs["stop_loss-1"] = []error{transient, transient, transient}

	res := rig.placeFor(p, ptr(49000), ptr(51000))

	if !errors.Is(res.Err, ErrReconciliationRequired) {
		t.Fatalf("Err = %v, want ErrReconciliationRequired", res.Err)
	}
	if !hasNotification(drainNotifications(rig.notifier), models.NotificationTypeReconcile) {
		t.Error("expected RECONCILE notification")
	}
}

func TestMonitor_FillCancelsSibling(t *testing.T) {
	gw := newMockGateway(50000)
	store := newMockStore()
	rig := newTestRig(gw, store)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(51000))

	gw.setStatus(res.Pair.StopLoss.OrderID, exchange.OrderStatusFilled, 48990)
	rig.oco.pollOnce(context.Background())

	pair, ok := rig.oco.Pair(res.Pair.ID)
	if !ok {
		t.Fatal("pair forgotten after resolution")
	}
	if pair.State != models.PairResolved || pair.FilledLeg != models.LegStopLoss {
		t.Errorf("pair = %s/%s, want RESOLVED/stop_loss", pair.State, pair.FilledLeg)
	}
	if pair.TakeProfit.State != models.OrderCancelled {
		t.Errorf("take profit state = %s, want CANCELLED", pair.TakeProfit.State)
	}
	if gw.status(res.Pair.TakeProfit.OrderID) != exchange.OrderStatusCancelled {
		t.Error("sibling not cancelled on exchange")
	}
	if len(rig.oco.ActivePairs()) != 0 {
		t.Error("resolved pair still active")
	}

	if _, open := rig.book.Get(p.ID); open {
		t.Error("position still in book after stop loss")
	}
	stored, _ := store.get(p.ID)
	if stored.State != models.PositionClosed || stored.CloseReason != models.CloseReasonStopLoss || stored.ExitPrice != 48990 {
		t.Errorf("stored position = %s/%s/%v", stored.State, stored.CloseReason, stored.ExitPrice)
	}
	if !hasNotification(drainNotifications(rig.notifier), models.NotificationTypeSL) {
		t.Error("expected SL notification")
	}
}

// long и short пары на одном символе опрашиваются одним пакетом: ошибка по
// ноге одной пары не должна скрывать исполнение другой
func TestMonitor_PartialBatchStillResolvesFill(t *testing.T) {
	gw := newBatchGateway(50000)
	store := newMockStore()
	rig := newTestRig(gw, store)

	long := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	short := rig.openPosition(t, "BTCUSDT", models.PositionShort, 50000)
	a := rig.placeFor(long, ptr(49000), ptr(52000))
	b := rig.placeFor(short, ptr(51000), ptr(48000))
	if a.Outcome != OutcomePaired || b.Outcome != OutcomePaired {
		t.Fatalf("outcomes = %s/%s, want paired", a.Outcome, b.Outcome)
	}

	gw.batchErr[b.Pair.StopLoss.OrderID] = &exchange.ExchangeError{Exchange: "mock", Code: "10016", Message: "server error"}
	gw.setStatus(a.Pair.TakeProfit.OrderID, exchange.OrderStatusFilled, 52000)

	rig.oco.pollOnce(context.Background())

	pairA, _ := rig.oco.Pair(a.Pair.ID)
	if pairA.State != models.PairResolved || pairA.FilledLeg != models.LegTakeProfit {
		t.Fatalf("long pair = %s/%s, want RESOLVED/take_profit", pairA.State, pairA.FilledLeg)
	}
	if gw.status(a.Pair.StopLoss.OrderID) != exchange.OrderStatusCancelled {
		t.Error("long stop loss not cancelled on exchange")
	}
	stored, _ := store.get(long.ID)
	if stored.State != models.PositionClosed || stored.CloseReason != models.CloseReasonTakeProfit {
		t.Errorf("long position = %s/%s", stored.State, stored.CloseReason)
	}

	pairB, _ := rig.oco.Pair(b.Pair.ID)
	if pairB.State != models.PairActive || pairB.StopLoss.State != models.OrderLive {
		t.Errorf("short pair = %s, stop loss %s; want ACTIVE with live stop loss", pairB.State, pairB.StopLoss.State)
	}
	if _, ok := rig.book.Get(short.ID); !ok {
		t.Error("short position must stay open")
	}
}

// ордер, которого биржа не знает, считается отменённым, как при
// восстановлении и отмене
func TestMonitor_UnknownLegTreatedAsCancelled(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, newMockStore())
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(52000))

	gw.forget(res.Pair.StopLoss.OrderID)
	rig.oco.pollOnce(context.Background())

	pair, _ := rig.oco.Pair(res.Pair.ID)
	if pair.State != models.PairActive {
		t.Fatalf("pair = %s, want ACTIVE while take profit is live", pair.State)
	}
	if pair.StopLoss.State != models.OrderCancelled || pair.TakeProfit.State != models.OrderLive {
		t.Errorf("legs = %s/%s, want CANCELLED/LIVE", pair.StopLoss.State, pair.TakeProfit.State)
	}

	gw.forget(res.Pair.TakeProfit.OrderID)
	rig.oco.pollOnce(context.Background())

	pair, _ = rig.oco.Pair(res.Pair.ID)
	if pair.State != models.PairCancelled {
		t.Errorf("pair = %s, want CANCELLED with no live legs", pair.State)
	}
	if !hasNotification(drainNotifications(rig.notifier), models.NotificationTypeUnprotected) {
		t.Error("expected UNPROTECTED notification")
	}
}

func TestMonitor_DoubleFillIsAnomaly(t *testing.T) {
	gw := newMockGateway(50000)
	store := newMockStore()
	rig := newTestRig(gw, store)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(51000))

	gw.setStatus(res.Pair.StopLoss.OrderID, exchange.OrderStatusFilled, 49000)
	gw.setStatus(res.Pair.TakeProfit.OrderID, exchange.OrderStatusFilled, 51000)
	rig.oco.pollOnce(context.Background())

	stored, _ := store.get(p.ID)
	if stored.State != models.PositionClosed || stored.CloseReason != models.CloseReasonAnomaly {
		t.Errorf("stored position = %s/%s, want CLOSED/anomaly", stored.State, stored.CloseReason)
	}
	if stored.Anomaly == "" {
		t.Error("anomaly not recorded")
	}
	notes := drainNotifications(rig.notifier)
	if !hasNotification(notes, models.NotificationTypeAnomaly) {
		t.Error("expected ANOMALY notification")
	}
	// компенсирующих сделок нет
	if gw.countCalls("place:market") != 0 {
		t.Error("anomaly must not place compensating orders")
	}
}

func TestMonitor_RejectedLegKeepsSibling(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(51000))

	gw.setStatus(res.Pair.TakeProfit.OrderID, exchange.OrderStatusRejected, 0)
	rig.oco.pollOnce(context.Background())

	pairs := rig.oco.ActivePairs()
	if len(pairs) != 1 {
		t.Fatalf("ActivePairs = %d, want 1", len(pairs))
	}
	if pairs[0].TakeProfit.State != models.OrderRejected || pairs[0].StopLoss.State != models.OrderLive {
		t.Errorf("legs = %s/%s, want LIVE/REJECTED", pairs[0].StopLoss.State, pairs[0].TakeProfit.State)
	}
	if gw.countCalls("place:take_profit") != 1 {
		t.Error("rejected leg must not be retried")
	}
	if !hasNotification(drainNotifications(rig.notifier), models.NotificationTypeRejected) {
		t.Error("expected REJECTED notification")
	}

	// последняя живая нога отменена снаружи: пара без защиты
	gw.setStatus(res.Pair.StopLoss.OrderID, exchange.OrderStatusCancelled, 0)
	rig.oco.pollOnce(context.Background())
	if len(rig.oco.ActivePairs()) != 0 {
		t.Error("pair without live legs should leave ACTIVE")
	}
	if !hasNotification(drainNotifications(rig.notifier), models.NotificationTypeUnprotected) {
		t.Error("expected UNPROTECTED notification")
	}
}

func TestCancelPair_Idempotent(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(51000))

	ctx := context.Background()
	if err := rig.oco.CancelPair(ctx, res.Pair.ID, "manual"); err != nil {
		t.Fatalf("first CancelPair: %v", err)
	}
	if err := rig.oco.CancelPair(ctx, res.Pair.ID, "manual"); err != nil {
		t.Fatalf("second CancelPair: %v", err)
	}
	if got := gw.countCalls("cancel:"); got != 2 {
		t.Errorf("cancel calls = %d, want 2 (one per leg)", got)
	}
	pair, _ := rig.oco.Pair(res.Pair.ID)
	if pair.State != models.PairCancelled || pair.CancelReason != "manual" {
		t.Errorf("pair = %s/%q", pair.State, pair.CancelReason)
	}
	if !hasNotification(drainNotifications(rig.notifier), models.NotificationTypeUnprotected) {
		t.Error("expected UNPROTECTED notification for open position")
	}

	if err := rig.oco.CancelPair(ctx, "unknown", "manual"); !errors.Is(err, ErrPairNotFound) {
		t.Errorf("unknown pair: %v, want ErrPairNotFound", err)
	}
}

func TestCancelPair_LegFilledDuringCancel(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(51000))
	gw.fillOnCancel[res.Pair.TakeProfit.OrderID] = 51000

	err := rig.oco.CancelPair(context.Background(), res.Pair.ID, "manual")
	if !errors.Is(err, ErrLegFilled) {
		t.Fatalf("err = %v, want ErrLegFilled", err)
	}
	pair, _ := rig.oco.Pair(res.Pair.ID)
	if pair.State != models.PairResolved || pair.FilledLeg != models.LegTakeProfit {
		t.Errorf("pair = %s/%s, want RESOLVED/take_profit", pair.State, pair.FilledLeg)
	}
	if _, open := rig.book.Get(p.ID); open {
		t.Error("position should be closed by take profit")
	}
}

func TestCancelPair_RetriesExhausted(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(51000))

	transient := errors.New("503")
	gw.cancelErrs[res.Pair.StopLoss.OrderID] = []error{transient, transient, transient, transient}

	err := rig.oco.CancelPair(context.Background(), res.Pair.ID, "manual")
	if !errors.Is(err, ErrReconciliationRequired) {
		t.Fatalf("err = %v, want ErrReconciliationRequired", err)
	}
	// пара остаётся ACTIVE: стоп может быть жив
	if len(rig.oco.ActivePairs()) != 1 {
		t.Error("pair with unconfirmed cancel must stay active")
	}
}

func TestActivePairs_Snapshot(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	rig.placeFor(p, ptr(49000), ptr(51000))

	snap := rig.oco.ActivePairs()
	snap[0].StopLoss.State = models.OrderFilled

	again := rig.oco.ActivePairs()
	if again[0].StopLoss.State == models.OrderFilled {
		t.Error("ActivePairs must return deep copies")
	}
}

func TestTriggerDirection(t *testing.T) {
	tests := []struct {
		side models.PositionSide
		kind models.LegKind
		want exchange.TriggerDirection
	}{
		{models.PositionLong, models.LegStopLoss, exchange.TriggerFall},
		{models.PositionLong, models.LegTakeProfit, exchange.TriggerRise},
		{models.PositionShort, models.LegStopLoss, exchange.TriggerRise},
		{models.PositionShort, models.LegTakeProfit, exchange.TriggerFall},
	}
	for _, tt := range tests {
		if got := triggerDirection(tt.side, tt.kind); got != tt.want {
			t.Errorf("triggerDirection(%s, %s) = %v, want %v", tt.side, tt.kind, got, tt.want)
		}
	}
}
