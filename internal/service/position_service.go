package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ocobot/internal/models"
	"ocobot/internal/repository"
	"ocobot/pkg/utils"
)

// PositionService предоставляет чтение позиций для API
//
// Незакрытые позиции берутся из книги в памяти. Закрытых там нет, поэтому
// при промахе запрос уходит в хранилище, если оно подключено. Хранилище
// подключается позже старта (Attach), до этого доступны только открытые.
type PositionService struct {
	live    LivePositions
	timeout time.Duration
	log     *zap.Logger

	mu      sync.RWMutex
	history PositionHistoryRepository
}

// NewPositionService создает новый экземпляр PositionService.
func NewPositionService(live LivePositions, timeout time.Duration, log *zap.Logger) *PositionService {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PositionService{live: live, timeout: timeout, log: log.Named("positions")}
}

// Attach подключает хранилище истории
func (s *PositionService) Attach(history PositionHistoryRepository) {
	s.mu.Lock()
	s.history = history
	s.mu.Unlock()
}

// Open возвращает незакрытые позиции, старые первыми
func (s *PositionService) Open() []*models.Position {
	return s.live.Open()
}

// Get возвращает позицию по id: сначала из книги, затем из хранилища
func (s *PositionService) Get(id string) (*models.Position, bool) {
	if p, ok := s.live.Get(id); ok {
		return p, true
	}

	s.mu.RLock()
	history := s.history
	s.mu.RUnlock()
	if history == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	p, err := history.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrPositionNotFound) {
			s.log.Warn("position history lookup failed", utils.PositionID(id), utils.Err(err))
		}
		return nil, false
	}
	return p, true
}
