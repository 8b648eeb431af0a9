package handlers

import (
	"context"
	"sync"

	"ocobot/internal/bot"
	"ocobot/internal/models"
)

// ============ Mock Intake ============

type mockIntake struct {
	mu      sync.Mutex
	err     error
	signals []models.Signal
}

func (m *mockIntake) Submit(signal models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := signal.Validate(); err != nil {
		return err
	}
	if m.err != nil {
		return m.err
	}
	m.signals = append(m.signals, signal)
	return nil
}

// ============ Mock Position Book ============

type mockPositions struct {
	positions map[string]*models.Position
	order     []string
}

func newMockPositions(ps ...*models.Position) *mockPositions {
	m := &mockPositions{positions: make(map[string]*models.Position)}
	for _, p := range ps {
		m.positions[p.ID] = p
		m.order = append(m.order, p.ID)
	}
	return m
}

func (m *mockPositions) Open() []*models.Position {
	out := make([]*models.Position, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.positions[id].Clone())
	}
	return out
}

func (m *mockPositions) Get(id string) (*models.Position, bool) {
	p, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ============ Mock OCO Manager ============

type mockPairs struct {
	pairs     map[string]models.OCOPair
	cancelErr error
	cancelled []string
}

func newMockPairs(ps ...models.OCOPair) *mockPairs {
	m := &mockPairs{pairs: make(map[string]models.OCOPair)}
	for _, p := range ps {
		m.pairs[p.ID] = p
	}
	return m
}

func (m *mockPairs) ActivePairs() []models.OCOPair {
	var out []models.OCOPair
	for _, p := range m.pairs {
		if p.State == models.PairActive {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockPairs) Pair(id string) (models.OCOPair, bool) {
	p, ok := m.pairs[id]
	return p, ok
}

func (m *mockPairs) PairForPosition(positionID string) (models.OCOPair, bool) {
	for _, p := range m.pairs {
		if p.PositionID == positionID && p.State == models.PairActive {
			return p, true
		}
	}
	return models.OCOPair{}, false
}

func (m *mockPairs) CancelPair(ctx context.Context, pairID, reason string) error {
	p, ok := m.pairs[pairID]
	if !ok {
		return bot.ErrPairNotFound
	}
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, pairID)
	if p.State == models.PairActive {
		p.State = models.PairCancelled
		p.CancelReason = reason
		m.pairs[pairID] = p
	}
	return nil
}

// ============ Mock Closer ============

type mockCloser struct {
	result  *bot.CloseResult
	calls   []string
	lastWhy string
}

func (m *mockCloser) Close(ctx context.Context, positionID, reason string) *bot.CloseResult {
	m.calls = append(m.calls, positionID)
	m.lastWhy = reason
	if m.result != nil {
		res := *m.result
		res.PositionID = positionID
		return &res
	}
	if reason == "" {
		reason = models.CloseReasonManual
	}
	return &bot.CloseResult{PositionID: positionID, Closed: true, Reason: reason, ClosedBy: "close_order", CloseOrderID: "close-1", ExitPrice: 50500}
}

// ============ Mock Notification Feed ============

type mockFeed struct {
	items []*models.Notification // новые первыми
}

func (m *mockFeed) add(typ, msg string) {
	n := &models.Notification{ID: int64(len(m.items) + 1), Type: typ, Severity: models.SeverityInfo, Message: msg}
	m.items = append([]*models.Notification{n}, m.items...)
}

func (m *mockFeed) Recent(limit int) []*models.Notification {
	if limit <= 0 || limit > len(m.items) {
		limit = len(m.items)
	}
	return append([]*models.Notification(nil), m.items[:limit]...)
}

// ============ Mock Price Feed ============

type mockPrices struct {
	prices map[string]float64
	filled []string
}

func (m *mockPrices) SetMarkPrice(symbol string, price float64) []string {
	if m.prices == nil {
		m.prices = make(map[string]float64)
	}
	m.prices[symbol] = price
	return m.filled
}
