package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ocobot/internal/api"
	"ocobot/internal/bot"
	"ocobot/internal/config"
	"ocobot/internal/exchange"
	"ocobot/internal/repository"
	"ocobot/internal/service"
	ws "ocobot/internal/websocket"
	"ocobot/pkg/utils"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the signal pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cfg)
		},
	}
}

// pipeline - собранные компоненты ядра
type pipeline struct {
	gateway    exchange.Gateway
	book       *bot.PositionBook
	bookkeeper *bot.Bookkeeper
	notifier   *bot.Notifier
	oco        *bot.OCOManager
	closer     *bot.PositionCloser
	intake     *bot.Intake
	supervisor *bot.Supervisor
	hub        *ws.Hub

	positions     *service.PositionService
	notifications *service.NotificationService
}

// buildPipeline связывает ядро: одна книга позиций, один KeyedMutex и один
// уведомитель на диспетчер, монитор и закрытие
func buildPipeline(cfg *config.Config, gw exchange.Gateway, connect bot.StoreConnector, log *zap.Logger) (*pipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sizing, err := config.LoadSizing(cfg.Bot.StrategiesFile, cfg.Bot.DefaultQuantity)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		gateway:    gw,
		book:       bot.NewPositionBook(),
		bookkeeper: bot.NewBookkeeper(cfg.Bot.StoreTimeout, log),
		notifier:   bot.NewNotifier(cfg.Bot.IntakeBuffer, 500, log),
		hub:        ws.NewHub(log),
	}
	p.notifier.SetBroadcaster(p.hub)
	p.positions = service.NewPositionService(p.book, cfg.Bot.StoreTimeout, log)
	p.notifications = service.NewNotificationService(p.notifier, cfg.Bot.StoreTimeout, log)

	p.oco = bot.NewOCOManager(gw, bot.NewKeyedMutex(), p.book, p.bookkeeper, p.notifier, bot.OCOConfig{
		OrderTimeout:  cfg.Bot.OrderTimeout,
		PollInterval:  cfg.Bot.PollInterval,
		PollFanout:    cfg.Bot.PollFanout,
		CancelRetries: cfg.Bot.CancelRetries,
		CancelBackoff: cfg.Bot.CancelBackoff,
	}, log)
	p.closer = bot.NewPositionCloser(p.oco, log)

	dispatcher := bot.NewDispatcher(p.oco, sizing, bot.DispatchConfig{
		OrderTimeout:      cfg.Bot.OrderTimeout,
		DedupTTL:          cfg.Bot.DedupTTL,
		FallbackSingleLeg: cfg.Bot.FallbackSingleLeg,
	}, log)

	p.intake = bot.NewIntake(dispatcher, cfg.Bot.IntakeWorkers, cfg.Bot.IntakeBuffer, log)
	p.intake.OnResult(func(res *bot.DispatchResult) {
		if res.Err != nil || res.Duplicate {
			return
		}
		fields := []zap.Field{utils.SignalID(res.SignalID), utils.PositionID(res.PositionID)}
		if res.OCO != nil {
			fields = append(fields, utils.String("protection", string(res.OCO.Outcome)))
		}
		if res.Degraded {
			fields = append(fields, utils.Bool("degraded", true))
		}
		log.Info("signal executed", fields...)
	})

	p.supervisor = bot.NewSupervisor(bot.SupervisorConfig{
		ConnectMax:    cfg.Bot.StoreConnectMaxBackoff,
		FlushSchedule: cfg.Bot.FlushSchedule,
		StoreTimeout:  cfg.Bot.StoreTimeout,
	}, connect, p.intake, p.oco, log)

	return p, nil
}

// storeConnector открывает БД, применяет миграции и отдаёт репозитории.
// Открытое соединение запоминается в db для закрытия при остановке,
// onConnect подключает к нему сервисы чтения истории.
func storeConnector(cfg config.DatabaseConfig, db *dbHandle, onConnect func(*sql.DB)) bot.StoreConnector {
	return func(ctx context.Context) (*bot.Stores, error) {
		conn, err := repository.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if _, err := repository.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		db.set(conn)
		if onConnect != nil {
			onConnect(conn)
		}
		return &bot.Stores{
			Positions:     repository.NewPositionRepository(conn),
			Notifications: repository.NewNotificationRepository(conn),
		}, nil
	}
}

// dbHandle - соединение, открытое супервизором в фоне
type dbHandle struct {
	mu sync.Mutex
	db *sql.DB
}

func (h *dbHandle) set(db *sql.DB) {
	h.mu.Lock()
	h.db = db
	h.mu.Unlock()
}

func (h *dbHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}

func serve(cfg *config.Config) error {
	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Logger

	gw, err := exchange.NewGateway(cfg.Exchange.Name, exchange.Credentials{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		BaseURL:   cfg.Exchange.BaseURL,
		RateLimit: cfg.Exchange.RateLimit,
	})
	if err != nil {
		return err
	}

	db := &dbHandle{}
	var p *pipeline
	connect := storeConnector(cfg.Database, db, func(conn *sql.DB) {
		p.positions.Attach(repository.NewPositionRepository(conn))
		p.notifications.Attach(repository.NewNotificationRepository(conn))
	})
	p, err = buildPipeline(cfg, gw, connect, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go p.hub.Run(ctx)
	p.supervisor.Start(ctx)

	deps := &api.Dependencies{
		Intake:     p.intake,
		OCO:        p.oco,
		Book:       p.book,
		Closer:     p.closer,
		Notifier:   p.notifier,
		Bookkeeper: p.bookkeeper,
		Supervisor: p.supervisor,
		Hub:        p.hub,
		Security:   cfg.Security,
		Logger:     log,

		Positions:     p.positions,
		Notifications: p.notifications,
	}
	if paper, ok := gw.(*exchange.Paper); ok {
		deps.Paper = paper
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting http server",
			utils.String("addr", server.Addr),
			utils.String("exchange", gw.GetName()),
			utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-serverErr:
		log.Error("http server failed", utils.Err(runErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server forced to shutdown", utils.Err(err))
	}

	// компоненты ядра останавливаются по ctx; ждём воркеры и монитор
	p.supervisor.Wait()

	// последняя попытка дописать отложенные изменения позиций
	if n := p.bookkeeper.Pending(); n > 0 {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), cfg.Bot.StoreTimeout)
		written, err := p.bookkeeper.Flush(flushCtx)
		cancelFlush()
		if err != nil {
			log.Warn("deferred writes left unflushed", utils.Int("pending", n-written), utils.Err(err))
		}
	}

	if closer, ok := gw.(exchange.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warn("error closing exchange gateway", utils.Err(err))
		}
	}
	if err := db.Close(); err != nil {
		log.Warn("error closing database", utils.Err(err))
	}

	log.Info("server exited")
	return runErr
}
