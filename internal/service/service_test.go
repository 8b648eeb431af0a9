package service

import (
	"errors"
	"testing"
	"time"

	"ocobot/internal/models"
)

func position(id string, state models.PositionState) *models.Position {
	return &models.Position{
		ID:       id,
		Symbol:   "BTCUSDT",
		Side:     models.PositionLong,
		Quantity: 0.01,
		State:    state,
		OpenedAt: time.Now(),
	}
}

func notification(id int64, typ string) *models.Notification {
	return &models.Notification{ID: id, Type: typ, Severity: models.SeverityInfo, Message: typ}
}

// ============ PositionService Tests ============

func TestPositionService_Get(t *testing.T) {
	live := newMockLivePositions(position("open-1", models.PositionOpen))
	history := newMockPositionHistory(position("closed-1", models.PositionClosed))

	tests := []struct {
		name      string
		attach    bool
		id        string
		wantFound bool
		wantState models.PositionState
	}{
		{"open from book", false, "open-1", true, models.PositionOpen},
		{"closed without store", false, "closed-1", false, ""},
		{"closed from store", true, "closed-1", true, models.PositionClosed},
		{"unknown", true, "nope", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewPositionService(live, time.Second, nil)
			if tt.attach {
				svc.Attach(history)
			}

			p, ok := svc.Get(tt.id)
			if ok != tt.wantFound {
				t.Fatalf("found = %v, want %v", ok, tt.wantFound)
			}
			if ok && p.State != tt.wantState {
				t.Errorf("state = %s, want %s", p.State, tt.wantState)
			}
		})
	}
}

func TestPositionService_BookFirst(t *testing.T) {
	live := newMockLivePositions(position("p1", models.PositionOpen))
	history := newMockPositionHistory()
	svc := NewPositionService(live, time.Second, nil)
	svc.Attach(history)

	if _, ok := svc.Get("p1"); !ok {
		t.Fatal("expected position from book")
	}
	if history.calls != 0 {
		t.Errorf("store queried %d times for a position in the book", history.calls)
	}
}

func TestPositionService_StoreError(t *testing.T) {
	history := newMockPositionHistory()
	history.err = errors.New("connection refused")
	svc := NewPositionService(newMockLivePositions(), time.Second, nil)
	svc.Attach(history)

	if _, ok := svc.Get("p1"); ok {
		t.Error("expected not found on store error")
	}
}

func TestPositionService_Open(t *testing.T) {
	svc := NewPositionService(newMockLivePositions(position("a", models.PositionOpen), position("b", models.PositionClosing)), 0, nil)
	if got := len(svc.Open()); got != 2 {
		t.Errorf("Open() = %d positions, want 2", got)
	}
}

// ============ NotificationService Tests ============

func TestNotificationService_Recent(t *testing.T) {
	live := &mockLiveNotifications{items: []*models.Notification{notification(2, "TP"), notification(1, "OPEN")}}
	stored := []*models.Notification{notification(12, "SL"), notification(11, "OPEN"), notification(10, "CLOSE")}

	t.Run("in-memory without store", func(t *testing.T) {
		svc := NewNotificationService(live, time.Second, nil)
		got := svc.Recent(10)
		if len(got) != 2 || got[0].ID != 2 {
			t.Errorf("got %d items, first %v", len(got), got)
		}
	})

	t.Run("store when attached", func(t *testing.T) {
		history := &mockNotificationHistory{items: stored}
		svc := NewNotificationService(live, time.Second, nil)
		svc.Attach(history)

		got := svc.Recent(2)
		if len(got) != 2 || got[0].ID != 12 {
			t.Errorf("got %v", got)
		}
		if history.lastLimit != 2 {
			t.Errorf("limit = %d, want 2", history.lastLimit)
		}
	})

	t.Run("unbounded uses scan limit", func(t *testing.T) {
		history := &mockNotificationHistory{items: stored}
		svc := NewNotificationService(live, time.Second, nil)
		svc.Attach(history)

		if got := svc.Recent(0); len(got) != 3 {
			t.Errorf("got %d items, want 3", len(got))
		}
		if history.lastLimit != historyScanLimit {
			t.Errorf("limit = %d, want %d", history.lastLimit, historyScanLimit)
		}
	})

	t.Run("falls back on store error", func(t *testing.T) {
		history := &mockNotificationHistory{err: errors.New("timeout")}
		svc := NewNotificationService(live, time.Second, nil)
		svc.Attach(history)

		got := svc.Recent(5)
		if len(got) != 2 || got[0].ID != 2 {
			t.Errorf("got %v, want in-memory feed", got)
		}
	})
}
