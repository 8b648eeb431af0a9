package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ocobot/pkg/retry"
	"ocobot/pkg/utils"
)

// notificationRetention - сколько хранится журнал уведомлений
const notificationRetention = 30 * 24 * time.Hour

// SupervisorConfig - параметры запуска
type SupervisorConfig struct {
	ConnectInitial time.Duration // первая задержка переподключения к хранилищу
	ConnectMax     time.Duration // потолок задержки
	FlushSchedule  string        // cron выражение для Flush отложенных записей
	StoreTimeout   time.Duration
}

// Supervisor - запуск конвейера независимо от хранилища
//
// Приём сигналов, уведомления и монитор OCO стартуют сразу. Хранилище
// подключается в фоне с бесконечным backoff; пока его нет, записи позиций
// откладываются. После подключения: восстановление открытых позиций,
// дозапись отложенного и cron задачи обслуживания.
type Supervisor struct {
	cfg        SupervisorConfig
	connect    StoreConnector
	intake     *Intake
	oco        *OCOManager
	notifier   *Notifier
	bookkeeper *Bookkeeper

	cron       *cron.Cron
	storeReady atomic.Bool
	recovery   atomic.Pointer[RecoveryResult]
	wg         sync.WaitGroup
	log        *zap.Logger
}

// NewSupervisor создаёт супервизор
func NewSupervisor(cfg SupervisorConfig, connect StoreConnector, intake *Intake, oco *OCOManager, log *zap.Logger) *Supervisor {
	if cfg.ConnectInitial <= 0 {
		cfg.ConnectInitial = 500 * time.Millisecond
	}
	if cfg.ConnectMax <= 0 {
		cfg.ConnectMax = 30 * time.Second
	}
	if cfg.FlushSchedule == "" {
		cfg.FlushSchedule = "@every 5s"
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{
		cfg:        cfg,
		connect:    connect,
		intake:     intake,
		oco:        oco,
		notifier:   oco.notifier,
		bookkeeper: oco.bookkeeper,
		cron:       cron.New(),
		log:        log.Named("supervisor"),
	}
}

// Start запускает компоненты и возвращается, не дожидаясь хранилища
func (s *Supervisor) Start(ctx context.Context) {
	s.intake.Start(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.notifier.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		_ = s.oco.Run(ctx)
	}()

	if s.connect == nil {
		s.log.Warn("no position store configured, running without persistence")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.connectStore(ctx)
	}()
}

// Wait ждёт остановки всех компонентов после отмены контекста
func (s *Supervisor) Wait() {
	s.wg.Wait()
	s.intake.Wait()
	<-s.cron.Stop().Done()
}

// StoreReady - хранилище подключено и восстановление выполнено
func (s *Supervisor) StoreReady() bool {
	return s.storeReady.Load()
}

// Recovery - итог последнего восстановления (nil до подключения хранилища)
func (s *Supervisor) Recovery() *RecoveryResult {
	return s.recovery.Load()
}

func (s *Supervisor) connectStore(ctx context.Context) {
	cfg := retry.ConnectConfig(s.cfg.ConnectInitial, s.cfg.ConnectMax)
	cfg.RetryIf = func(error) bool { return ctx.Err() == nil }
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		StoreConnected.Set(0)
		s.log.Warn("position store unavailable, retrying",
			utils.Int("attempt", attempt), utils.Latency(delay), utils.Err(err))
	}

	stores, err := retry.DoWithResult(ctx, func() (*Stores, error) {
		return s.connect(ctx)
	}, cfg)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("position store connection abandoned", utils.Err(err))
		}
		return
	}

	s.bookkeeper.Attach(stores.Positions)
	if stores.Notifications != nil {
		s.notifier.AttachStore(stores.Notifications, s.cfg.StoreTimeout)
	}
	s.log.Info("position store connected")

	positions, err := s.bookkeeper.LoadOpen(ctx)
	if err != nil {
		s.log.Error("failed to load open positions, recovery skipped", utils.Err(err))
	} else {
		s.recovery.Store(s.oco.Recover(ctx, positions))
	}

	if n, err := s.bookkeeper.Flush(ctx); err != nil {
		s.log.Warn("deferred writes not flushed", utils.Int("written", n), utils.Err(err))
	} else if n > 0 {
		s.log.Info("deferred writes flushed", utils.Int("written", n))
	}
	s.storeReady.Store(true)

	s.scheduleJobs(ctx, stores)
}

// scheduleJobs регистрирует cron задачи обслуживания хранилища
func (s *Supervisor) scheduleJobs(ctx context.Context, stores *Stores) {
	if _, err := s.cron.AddFunc(s.cfg.FlushSchedule, func() {
		if s.bookkeeper.Pending() == 0 {
			return
		}
		n, err := s.bookkeeper.Flush(ctx)
		if err != nil {
			s.log.Warn("scheduled flush incomplete", utils.Int("written", n), utils.Err(err))
			return
		}
		s.log.Info("scheduled flush complete", utils.Int("written", n))
	}); err != nil {
		s.log.Error("invalid flush schedule", utils.String("schedule", s.cfg.FlushSchedule), utils.Err(err))
	}

	if pruner, ok := stores.Notifications.(notificationPruner); ok {
		if _, err := s.cron.AddFunc("@daily", func() {
			pctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
			defer cancel()
			n, err := pruner.DeleteOlderThan(pctx, time.Now().Add(-notificationRetention))
			if err != nil {
				s.log.Warn("notification prune failed", utils.Err(err))
				return
			}
			s.log.Info("old notifications pruned", utils.Int("deleted", int(n)))
		}); err != nil {
			s.log.Error("cannot schedule notification prune", utils.Err(err))
		}
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}
