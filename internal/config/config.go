package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ocobot/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Exchange ExchangeConfig
	Security SecurityConfig
	Bot      BotConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string // postgres (lib/pq) или pgx (jackc/pgx stdlib)
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

// ExchangeConfig - шлюз биржи
type ExchangeConfig struct {
	Name      string // bybit, paper
	APIKey    string
	APISecret string
	BaseURL   string
	RateLimit float64 // запросов в секунду на торговые эндпоинты
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	JWTSecret         string
	DebugUsername     string
	DebugPasswordHash string // bcrypt хеш для /metrics
	AllowedOrigins    string // через запятую; пусто = любой origin (CORS и /ws/stream)
}

// BotConfig - настройки конвейера сигналов и OCO менеджера
type BotConfig struct {
	// Таймауты внешних вызовов
	OrderTimeout time.Duration // каждый вызов биржи
	StoreTimeout time.Duration // каждый вызов хранилища

	// Монитор OCO пар
	PollInterval  time.Duration // период пакетного опроса статусов
	PollFanout    int           // параллельных запросов статуса в цикле
	CancelRetries int           // бюджет попыток отмены ноги
	CancelBackoff time.Duration // начальная задержка между попытками отмены

	// Приём сигналов
	IntakeWorkers int
	IntakeBuffer  int
	DedupTTL      time.Duration // окно идемпотентности по id сигнала

	// Хранилище
	StoreConnectMaxBackoff time.Duration
	FlushSchedule          string // cron выражение для повторной записи отложенных изменений

	// Торговые параметры
	DefaultQuantity   float64
	StrategiesFile    string // YAML с размерами позиций по стратегиям
	FallbackSingleLeg bool   // при отказе одной ноги ставить вторую как одиночную
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения.
// Если рядом лежит .env, он подхватывается до чтения переменных;
// уже заданные переменные окружения не перезаписываются.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "ocobot"),
			User:         getEnv("DB_USER", "user"),
			Password:     getEnv("DB_PASSWORD", "password"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Exchange: ExchangeConfig{
			Name:      strings.ToLower(getEnv("EXCHANGE", "paper")),
			APIKey:    getEnv("EXCHANGE_API_KEY", ""),
			APISecret: getEnv("EXCHANGE_API_SECRET", ""),
			BaseURL:   getEnv("EXCHANGE_BASE_URL", ""),
			RateLimit: getEnvAsFloat("EXCHANGE_RATE_LIMIT", 10),
		},
		Security: SecurityConfig{
			JWTSecret:         getEnv("JWT_SECRET", ""),
			DebugUsername:     getEnv("DEBUG_USERNAME", "admin"),
			DebugPasswordHash: getEnv("DEBUG_PASSWORD_HASH", ""),
			AllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		},
		Bot: BotConfig{
			OrderTimeout: getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
			StoreTimeout: getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),

			PollInterval:  getEnvAsDuration("POLL_INTERVAL", 2*time.Second),
			PollFanout:    getEnvAsInt("POLL_FANOUT", 8),
			CancelRetries: getEnvAsInt("CANCEL_RETRIES", 4),
			CancelBackoff: getEnvAsDuration("CANCEL_BACKOFF", 250*time.Millisecond),

			IntakeWorkers: getEnvAsInt("INTAKE_WORKERS", 4),
			IntakeBuffer:  getEnvAsInt("INTAKE_BUFFER", 256),
			DedupTTL:      getEnvAsDuration("DEDUP_TTL", 24*time.Hour),

			StoreConnectMaxBackoff: getEnvAsDuration("STORE_CONNECT_MAX_BACKOFF", 30*time.Second),
			FlushSchedule:          getEnv("FLUSH_SCHEDULE", "@every 5s"),

			DefaultQuantity:   getEnvAsFloat("DEFAULT_QUANTITY", 0),
			StrategiesFile:    getEnv("STRATEGIES_FILE", ""),
			FallbackSingleLeg: getEnvAsBool("FALLBACK_SINGLE_LEG", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// JWT_SECRET обязателен: им подписываются токены API
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required for authentication")
	}

	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters for security")
	}

	if c.Security.DebugPasswordHash != "" {
		if _, err := crypto.ValidateHash(c.Security.DebugPasswordHash); err != nil {
			return fmt.Errorf("DEBUG_PASSWORD_HASH: %w", err)
		}
	}

	if c.Exchange.Name == "bybit" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("EXCHANGE_API_KEY and EXCHANGE_API_SECRET are required for bybit")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("DB_DRIVER must be postgres or pgx, got %q", c.Database.Driver)
	}

	if c.Exchange.Name != "bybit" && c.Exchange.Name != "paper" {
		return fmt.Errorf("EXCHANGE must be bybit or paper, got %q", c.Exchange.Name)
	}

	// Валидация таймаутов (должны быть положительными)
	if c.Bot.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Bot.OrderTimeout)
	}

	if c.Bot.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %v", c.Bot.StoreTimeout)
	}

	if c.Bot.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("POLL_INTERVAL must be at least 100ms, got %v", c.Bot.PollInterval)
	}

	// Валидация retry параметров
	if c.Bot.CancelRetries < 1 || c.Bot.CancelRetries > 10 {
		return fmt.Errorf("CANCEL_RETRIES must be between 1 and 10, got %d", c.Bot.CancelRetries)
	}

	if c.Bot.CancelBackoff <= 0 {
		return fmt.Errorf("CANCEL_BACKOFF must be positive, got %v", c.Bot.CancelBackoff)
	}

	if c.Bot.IntakeWorkers < 1 {
		return fmt.Errorf("INTAKE_WORKERS must be at least 1, got %d", c.Bot.IntakeWorkers)
	}

	if c.Bot.IntakeBuffer < 1 {
		return fmt.Errorf("INTAKE_BUFFER must be at least 1, got %d", c.Bot.IntakeBuffer)
	}

	if c.Bot.PollFanout < 1 {
		return fmt.Errorf("POLL_FANOUT must be at least 1, got %d", c.Bot.PollFanout)
	}

	if c.Bot.DefaultQuantity < 0 {
		return fmt.Errorf("DEFAULT_QUANTITY cannot be negative, got %v", c.Bot.DefaultQuantity)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
