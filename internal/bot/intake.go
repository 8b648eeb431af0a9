package bot

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"ocobot/internal/models"
	"ocobot/pkg/utils"
)

// Intake - асинхронный приём сигналов
//
// Submit кладёт сигнал в буферный канал и сразу возвращается; пул воркеров
// передаёт сигналы диспетчеру. Сигналы разных ключей обрабатываются
// параллельно, сигналы одного ключа сериализует KeyedMutex диспетчера.
type Intake struct {
	dispatcher *Dispatcher
	ch         chan models.Signal
	workers    int

	stopped atomic.Bool
	wg      sync.WaitGroup

	onResult func(*DispatchResult)
	log      *zap.Logger
}

// NewIntake создаёт приём сигналов с буфером buffer и workers воркерами
func NewIntake(dispatcher *Dispatcher, workers, buffer int, log *zap.Logger) *Intake {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Intake{
		dispatcher: dispatcher,
		ch:         make(chan models.Signal, buffer),
		workers:    workers,
		log:        log.Named("intake"),
	}
}

// OnResult задаёт обработчик результатов (до Start)
func (in *Intake) OnResult(fn func(*DispatchResult)) {
	in.onResult = fn
}

// Submit ставит сигнал в очередь без блокировки
func (in *Intake) Submit(signal models.Signal) error {
	if in.stopped.Load() {
		return ErrIntakeStopped
	}
	if err := signal.Validate(); err != nil {
		RecordSignal("invalid")
		return err
	}
	if in.dispatcher.Seen(signal.ID) {
		RecordSignal("duplicate")
		return ErrDuplicateSignal
	}

	select {
	case in.ch <- signal:
		RecordBufferBacklog("signal", cap(in.ch), len(in.ch))
		return nil
	default:
		RecordBufferOverflow("signal")
		return ErrIntakeFull
	}
}

// Start запускает воркеров. После отмены ctx новые сигналы не принимаются,
// уже поставленные в очередь отбрасываются с предупреждением.
func (in *Intake) Start(ctx context.Context) {
	for i := 0; i < in.workers; i++ {
		in.wg.Add(1)
		go in.worker(ctx)
	}
	go func() {
		<-ctx.Done()
		in.stopped.Store(true)
	}()
}

// Wait ждёт завершения воркеров
func (in *Intake) Wait() {
	in.wg.Wait()
}

// Pending - сигналов в очереди
func (in *Intake) Pending() int {
	return len(in.ch)
}

func (in *Intake) worker(ctx context.Context) {
	defer in.wg.Done()
	for {
		select {
		case <-ctx.Done():
			if n := len(in.ch); n > 0 {
				in.log.Warn("intake stopped with queued signals", utils.Int("queued", n))
			}
			return
		case signal := <-in.ch:
			res := in.dispatcher.Dispatch(ctx, signal)
			if res.Err != nil && !res.Duplicate {
				in.log.Warn("signal dispatch failed", utils.SignalID(signal.ID), utils.Err(res.Err))
			}
			if in.onResult != nil {
				in.onResult(res)
			}
		}
	}
}
