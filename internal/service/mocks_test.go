package service

import (
	"context"
	"sync"

	"ocobot/internal/models"
	"ocobot/internal/repository"
)

// ============ Mock Live Positions ============

type mockLivePositions struct {
	positions map[string]*models.Position
}

func newMockLivePositions(ps ...*models.Position) *mockLivePositions {
	m := &mockLivePositions{positions: make(map[string]*models.Position)}
	for _, p := range ps {
		m.positions[p.ID] = p
	}
	return m
}

func (m *mockLivePositions) Open() []*models.Position {
	out := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p.Clone())
	}
	return out
}

func (m *mockLivePositions) Get(id string) (*models.Position, bool) {
	p, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ============ Mock PositionRepository ============

type mockPositionHistory struct {
	mu        sync.Mutex
	positions map[string]*models.Position
	err       error
	calls     int
}

func newMockPositionHistory(ps ...*models.Position) *mockPositionHistory {
	m := &mockPositionHistory{positions: make(map[string]*models.Position)}
	for _, p := range ps {
		m.positions[p.ID] = p
	}
	return m
}

func (m *mockPositionHistory) GetByID(ctx context.Context, id string) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.positions[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	return p.Clone(), nil
}

// ============ Mock Notifier ============

type mockLiveNotifications struct {
	items []*models.Notification // новые первыми
}

func (m *mockLiveNotifications) Recent(limit int) []*models.Notification {
	if limit <= 0 || limit > len(m.items) {
		limit = len(m.items)
	}
	return m.items[:limit]
}

// ============ Mock NotificationRepository ============

type mockNotificationHistory struct {
	items     []*models.Notification
	err       error
	lastLimit int
}

func (m *mockNotificationHistory) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	if limit > len(m.items) {
		limit = len(m.items)
	}
	return m.items[:limit], nil
}
