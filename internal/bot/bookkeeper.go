package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ocobot/internal/models"
	"ocobot/internal/repository"
	"ocobot/pkg/utils"
)

// Bookkeeper - запись позиций в хранилище, которая никогда не блокирует торговлю
//
// Каждый вызов хранилища ограничен StoreTimeout. Если хранилище ещё не
// подключено или вызов не удался, последний снимок позиции ставится в очередь
// отложенных записей: create и следующие update сливаются в одну запись,
// порядок позиций в очереди сохраняется. Flush дописывает очередь, его
// вызывают супервизор после подключения и cron задача.
type Bookkeeper struct {
	mu      sync.Mutex
	store   PositionStore
	timeout time.Duration

	pending map[string]*deferredWrite
	order   []string
	version uint64

	flushMu sync.Mutex
	log     *zap.Logger
}

type deferredWrite struct {
	pos     *models.Position
	create  bool
	version uint64
	since   time.Time
}

// NewBookkeeper создаёт bookkeeper без хранилища
func NewBookkeeper(timeout time.Duration, log *zap.Logger) *Bookkeeper {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bookkeeper{
		timeout: timeout,
		pending: make(map[string]*deferredWrite),
		log:     log.Named("bookkeeper"),
	}
}

// Attach подключает хранилище
func (b *Bookkeeper) Attach(store PositionStore) {
	b.mu.Lock()
	b.store = store
	b.mu.Unlock()
	StoreConnected.Set(1)
}

// Ready - хранилище подключено
func (b *Bookkeeper) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store != nil
}

// Pending - число отложенных записей
func (b *Bookkeeper) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Create сохраняет новую позицию. Ошибка означает, что запись отложена
// (ErrStoreUnavailable) или отклонена как дубликат (ErrPositionExists).
func (b *Bookkeeper) Create(ctx context.Context, p *models.Position) error {
	return b.write(ctx, p, true)
}

// Update сохраняет изменения позиции
func (b *Bookkeeper) Update(ctx context.Context, p *models.Position) error {
	return b.write(ctx, p, false)
}

func (b *Bookkeeper) write(ctx context.Context, p *models.Position, create bool) error {
	snapshot := p.Clone()

	b.mu.Lock()
	store := b.store
	// Пока по позиции есть отложенная запись, новые записи идут за ней
	if _, queued := b.pending[p.ID]; queued || store == nil {
		b.deferLocked(snapshot, create)
		b.mu.Unlock()
		if store == nil {
			return fmt.Errorf("%w: not connected, write deferred", ErrStoreUnavailable)
		}
		return fmt.Errorf("%w: earlier write pending, write deferred", ErrStoreUnavailable)
	}
	b.mu.Unlock()

	err := b.call(ctx, store, snapshot, create)
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrPositionExists) {
		return fmt.Errorf("%s: %w", p.Key(), ErrPositionExists)
	}

	b.mu.Lock()
	b.deferLocked(snapshot, create)
	b.mu.Unlock()

	b.log.Warn("store write failed, deferred",
		utils.PositionID(p.ID),
		utils.Bool("create", create),
		utils.Err(err))
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (b *Bookkeeper) call(ctx context.Context, store PositionStore, p *models.Position, create bool) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var err error
	op := "update"
	if create {
		op = "create"
		err = store.CreatePosition(ctx, p)
	} else {
		err = store.UpdatePosition(ctx, p)
		// update по ещё не созданной записи: создаём с полным снимком
		if errors.Is(err, repository.ErrPositionNotFound) {
			err = store.CreatePosition(ctx, p)
		}
	}
	if err != nil {
		StoreErrors.WithLabelValues(op).Inc()
	}
	return err
}

// deferLocked ставит снимок в очередь, сливая с уже отложенной записью
func (b *Bookkeeper) deferLocked(p *models.Position, create bool) {
	b.version++
	if w, ok := b.pending[p.ID]; ok {
		w.pos = p
		w.create = w.create || create
		w.version = b.version
	} else {
		b.pending[p.ID] = &deferredWrite{pos: p, create: create, version: b.version, since: time.Now()}
		b.order = append(b.order, p.ID)
	}
	StoreDeferredWrites.Set(float64(len(b.order)))
}

// Flush дописывает отложенные записи по порядку. Останавливается на первой
// ошибке, чтобы не нарушить порядок записей. Возвращает число записанных.
func (b *Bookkeeper) Flush(ctx context.Context) (int, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	written := 0
	for {
		b.mu.Lock()
		store := b.store
		if store == nil {
			b.mu.Unlock()
			return written, ErrStoreUnavailable
		}
		if len(b.order) == 0 {
			b.mu.Unlock()
			return written, nil
		}
		id := b.order[0]
		w := b.pending[id]
		pos, create, version := w.pos, w.create, w.version
		b.mu.Unlock()

		err := b.call(ctx, store, pos, create)
		if errors.Is(err, repository.ErrPositionExists) {
			// запись противоречит хранилищу, повтор не поможет
			b.log.Error("deferred create conflicts with stored position, dropped",
				utils.PositionID(id), utils.Symbol(pos.Symbol), utils.Err(err))
			RecordAnomaly("reconcile")
			err = nil
		}
		if err != nil {
			return written, fmt.Errorf("flush position %s: %w", id, err)
		}

		b.mu.Lock()
		if cur, ok := b.pending[id]; ok && cur.version == version {
			delete(b.pending, id)
			b.order = b.order[1:]
		} else if ok {
			// за время записи пришёл новый снимок; create уже выполнен
			cur.create = false
		}
		StoreDeferredWrites.Set(float64(len(b.order)))
		b.mu.Unlock()
		written++
	}
}

// LoadOpen читает незакрытые позиции из хранилища (для восстановления)
func (b *Bookkeeper) LoadOpen(ctx context.Context) ([]*models.Position, error) {
	b.mu.Lock()
	store := b.store
	b.mu.Unlock()
	if store == nil {
		return nil, ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	positions, err := store.GetOpenPositions(ctx)
	if err != nil {
		StoreErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	return positions, nil
}
