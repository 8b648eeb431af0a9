package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"ocobot/internal/exchange"
	"ocobot/internal/models"
)

func TestClose_CancelsPairBeforeCloseOrder(t *testing.T) {
	gw := newMockGateway(50000)
	store := newMockStore()
	rig := newTestRig(gw, store)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(51000))

	gw.cancelDelay = 20 * time.Millisecond
	gw.marketPrice = 50500

	out := rig.closer.Close(context.Background(), p.ID, "")

	if out.Err != nil || !out.Closed {
		t.Fatalf("Close = %+v", out)
	}
	if out.Reason != models.CloseReasonManual || out.ClosedBy != "close_order" {
		t.Errorf("reason/closedBy = %s/%s", out.Reason, out.ClosedBy)
	}

	closeAt := gw.lastPlaceAt()
	for _, id := range []string{res.Pair.StopLoss.OrderID, res.Pair.TakeProfit.OrderID} {
		at, ok := gw.cancelAt[id]
		if !ok {
			t.Fatalf("leg %s not cancelled", id)
		}
		if !at.Before(closeAt) {
			t.Errorf("close order placed before cancel of %s confirmed", id)
		}
	}

	stored, _ := store.get(p.ID)
	if stored.State != models.PositionClosed || stored.ExitPrice != 50500 {
		t.Errorf("stored = %s @ %v, want CLOSED @ 50500", stored.State, stored.ExitPrice)
	}
	pair, _ := rig.oco.Pair(res.Pair.ID)
	if pair.State != models.PairCancelled {
		t.Errorf("pair state = %s, want CANCELLED", pair.State)
	}
	if !hasNotification(drainNotifications(rig.notifier), models.NotificationTypeClose) {
		t.Error("expected CLOSE notification")
	}
}

func TestClose_CancelFailureAborts(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(51000))

	transient := errors.New("gateway timeout")
	gw.cancelErrs[res.Pair.StopLoss.OrderID] = []error{transient, transient, transient}

	out := rig.closer.Close(context.Background(), p.ID, "manual")

	if out.Closed || !errors.Is(out.Err, ErrReconciliationRequired) {
		t.Fatalf("Close = %+v, want abort with ErrReconciliationRequired", out)
	}
	if gw.countCalls("place:market") != 0 {
		t.Error("close order must not be placed while a protective order may be live")
	}
	cur, ok := rig.book.Get(p.ID)
	if !ok || cur.State != models.PositionOpen {
		t.Errorf("position should be back to OPEN, got %+v", cur)
	}
}

func TestClose_LegFilledDuringCancel(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	res := rig.placeFor(p, ptr(49000), ptr(51000))
	gw.fillOnCancel[res.Pair.StopLoss.OrderID] = 48950

	out := rig.closer.Close(context.Background(), p.ID, "manual")

	if !out.Closed || out.ClosedBy != string(models.LegStopLoss) {
		t.Fatalf("Close = %+v, want closed by stop_loss", out)
	}
	if out.ExitPrice != 48950 {
		t.Errorf("ExitPrice = %v, want 48950", out.ExitPrice)
	}
	if gw.countCalls("place:market") != 0 {
		t.Error("no close order expected when a leg already closed the position")
	}
	if _, open := rig.book.Get(p.ID); open {
		t.Error("position should be closed")
	}
}

func TestClose_CloseOrderFails(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	rig.placeFor(p, ptr(49000), ptr(51000))
	gw.placeErr["market"] = &exchange.ExchangeError{Exchange: "mock", Message: "service unavailable"}

	out := rig.closer.Close(context.Background(), p.ID, "manual")

	if out.Closed || out.Err == nil {
		t.Fatalf("Close = %+v, want failure", out)
	}
	cur, ok := rig.book.Get(p.ID)
	if !ok || cur.State != models.PositionOpen {
		t.Fatalf("position should stay OPEN, got %+v", cur)
	}
	if !hasNotification(drainNotifications(rig.notifier), models.NotificationTypeUnprotected) {
		t.Error("expected UNPROTECTED notification")
	}
}

func TestClose_WithoutPair(t *testing.T) {
	gw := newMockGateway(50000)
	rig := newTestRig(gw, nil)
	p := rig.openPosition(t, "BTCUSDT", models.PositionShort, 50000)
	gw.marketPrice = 49000

	out := rig.closer.Close(context.Background(), p.ID, "manual")
	if !out.Closed {
		t.Fatalf("Close = %+v", out)
	}
	if gw.countCalls("cancel:") != 0 {
		t.Error("nothing to cancel")
	}
	spec := gw.specs[out.CloseOrderID]
	if spec.Side != exchange.SideBuy || !spec.ReduceOnly {
		t.Errorf("close spec = %+v, want reduce-only buy", spec)
	}
}

func TestClose_Errors(t *testing.T) {
	rig := newTestRig(newMockGateway(50000), nil)

	if out := rig.closer.Close(context.Background(), "missing", "manual"); !errors.Is(out.Err, ErrPositionNotFound) {
		t.Errorf("missing position: %v", out.Err)
	}

	p := rig.openPosition(t, "BTCUSDT", models.PositionLong, 50000)
	p.State = models.PositionClosing
	rig.book.Put(p)
	if out := rig.closer.Close(context.Background(), p.ID, "manual"); !errors.Is(out.Err, ErrPositionNotOpen) {
		t.Errorf("closing position: %v", out.Err)
	}
}
