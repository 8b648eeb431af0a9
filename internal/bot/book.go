package bot

import (
	"sort"
	"sync"

	"ocobot/internal/models"
)

// PositionBook - позиции в памяти процесса
//
// Книга нужна, чтобы диспетчер, монитор и закрытие работали без обращения
// к хранилищу: хранилище может быть медленным или ещё не подключено.
// Закрытые позиции из книги удаляются, их история живёт в хранилище.
// Наружу всегда отдаются копии.
type PositionBook struct {
	mu    sync.RWMutex
	byID  map[string]*models.Position
	byKey map[string]string // symbol:side -> id незакрытой позиции
}

// NewPositionBook создаёт пустую книгу
func NewPositionBook() *PositionBook {
	return &PositionBook{
		byID:  make(map[string]*models.Position),
		byKey: make(map[string]string),
	}
}

// Add добавляет незакрытую позицию. Вторая незакрытая позиция на тот же
// symbol:side - ErrPositionExists.
func (b *PositionBook) Add(p *models.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := p.Key()
	if id, ok := b.byKey[key]; ok && id != p.ID {
		return ErrPositionExists
	}
	b.byID[p.ID] = p.Clone()
	b.byKey[key] = p.ID
	OpenPositionsGauge.Set(float64(len(b.byID)))
	return nil
}

// Put сохраняет изменения позиции; CLOSED позиция удаляется из книги
func (b *PositionBook) Put(p *models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p.State == models.PositionClosed {
		delete(b.byID, p.ID)
		if b.byKey[p.Key()] == p.ID {
			delete(b.byKey, p.Key())
		}
	} else {
		b.byID[p.ID] = p.Clone()
		b.byKey[p.Key()] = p.ID
	}
	OpenPositionsGauge.Set(float64(len(b.byID)))
}

// Get возвращает копию позиции по id
func (b *PositionBook) Get(id string) (*models.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// ByKey возвращает незакрытую позицию по ключу symbol:side
func (b *PositionBook) ByKey(key string) (*models.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	id, ok := b.byKey[key]
	if !ok {
		return nil, false
	}
	return b.byID[id].Clone(), true
}

// Open возвращает все незакрытые позиции, старые первыми
func (b *PositionBook) Open() []*models.Position {
	b.mu.RLock()
	out := make([]*models.Position, 0, len(b.byID))
	for _, p := range b.byID {
		out = append(out, p.Clone())
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Len - число незакрытых позиций
func (b *PositionBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}
