package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ocobot/internal/api/handlers"
	"ocobot/internal/api/middleware"
	"ocobot/internal/bot"
	"ocobot/internal/config"
	"ocobot/internal/exchange"
	"ocobot/internal/service"
	ws "ocobot/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Intake     *bot.Intake
	OCO        *bot.OCOManager
	Book       *bot.PositionBook
	Closer     *bot.PositionCloser
	Notifier   *bot.Notifier
	Bookkeeper *bot.Bookkeeper
	Supervisor *bot.Supervisor
	Hub        *ws.Hub
	Paper      *exchange.Paper // nil, если биржа не paper
	Security   config.SecurityConfig
	Logger     *zap.Logger

	// Чтение с историей из хранилища; без них API читает только память
	Positions     *service.PositionService
	Notifications *service.NotificationService
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (JWT)
//
//	├── POST /signals - поставить сигнал в очередь
//	├── /positions/
//	│   ├── GET / - незакрытые позиции
//	│   ├── GET /{id} - позиция и её OCO пара
//	│   └── POST /{id}/close - закрыть позицию
//	├── /oco/pairs/
//	│   ├── GET / - активные пары
//	│   ├── GET /{id} - пара
//	│   └── DELETE /{id} - отменить пару
//	├── GET /notifications - журнал событий
//	└── POST /paper/prices - цена paper биржи (только EXCHANGE=paper)
//
// /ws/stream (JWT, токен в access_token) - обновления пар и уведомления
// /metrics (Basic, если задан DEBUG_PASSWORD_HASH)
// /health
//
// Middleware применяется в следующем порядке:
// 1. CORS (снаружи роутера, чтобы preflight не получал 405)
// 2. Recovery
// 3. Logging
// 4. Auth (только /api/v1 и /ws)
func SetupRoutes(deps *Dependencies) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))

	auth := middleware.Auth(deps.Security.JWTSecret)

	var positions handlers.PositionReader = deps.Book
	if deps.Positions != nil {
		positions = deps.Positions
	}
	var notifications handlers.NotificationFeed = deps.Notifier
	if deps.Notifications != nil {
		notifications = deps.Notifications
	}

	signalHandler := handlers.NewSignalHandler(deps.Intake)
	positionHandler := handlers.NewPositionHandler(positions, deps.OCO, deps.Closer)
	ocoHandler := handlers.NewOCOHandler(deps.OCO)
	notificationHandler := handlers.NewNotificationHandler(notifications)
	healthHandler := handlers.NewHealthHandler(func() handlers.HealthStatus {
		return healthStatus(deps)
	})

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	api.HandleFunc("/signals", signalHandler.SubmitSignal).Methods("POST")

	api.HandleFunc("/positions", positionHandler.GetPositions).Methods("GET")
	api.HandleFunc("/positions/{id}", positionHandler.GetPosition).Methods("GET")
	api.HandleFunc("/positions/{id}/close", positionHandler.ClosePosition).Methods("POST")

	api.HandleFunc("/oco/pairs", ocoHandler.GetPairs).Methods("GET")
	api.HandleFunc("/oco/pairs/{id}", ocoHandler.GetPair).Methods("GET")
	api.HandleFunc("/oco/pairs/{id}", ocoHandler.CancelPair).Methods("DELETE")

	api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")

	if deps.Paper != nil {
		paperHandler := handlers.NewPaperHandler(deps.Paper)
		api.HandleFunc("/paper/prices", paperHandler.SetPrice).Methods("POST")
	}

	if deps.Hub != nil {
		origins := ws.NewOriginChecker(deps.Security.AllowedOrigins)
		router.Handle("/ws/stream", auth(deps.Hub.Handler(origins))).Methods("GET")
	}

	router.Handle("/metrics",
		middleware.MetricsAuth(deps.Security.DebugUsername, deps.Security.DebugPasswordHash)(promhttp.Handler()),
	).Methods("GET")

	router.HandleFunc("/health", healthHandler.GetHealth).Methods("GET")

	return middleware.CORS(deps.Security.AllowedOrigins)(router)
}

// healthStatus собирает состояние компонентов для /health
func healthStatus(deps *Dependencies) handlers.HealthStatus {
	var st handlers.HealthStatus
	if deps.Supervisor != nil {
		st.StoreReady = deps.Supervisor.StoreReady()
	}
	if deps.Bookkeeper != nil {
		st.DeferredWrites = deps.Bookkeeper.Pending()
	}
	if deps.Intake != nil {
		st.PendingSignals = deps.Intake.Pending()
	}
	if deps.Book != nil {
		st.OpenPositions = deps.Book.Len()
	}
	if deps.OCO != nil {
		st.ActivePairs = len(deps.OCO.ActivePairs())
	}
	if deps.Hub != nil {
		st.StreamClients = deps.Hub.ClientCount()
	}
	return st
}
