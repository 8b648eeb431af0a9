package utils

// logger.go - структурированное логирование на zap
//
// InitLogger строит *Logger по LogConfig (уровень, json/text, файл вывода).
// Компоненты получают *zap.Logger через конструктор (logger.Named("oco")),
// глобальный логгер нужен только для main и middleware.

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - настройки логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Output      string // путь к файлу; пусто = stderr
	Development bool   // stacktrace на warn, caller
}

// Logger - обёртка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создаёт логгер. Ошибка открытия файла не фатальна:
// вывод уходит в stderr.
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(encoder, sink, parseLevel(cfg.Level))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}

	l := zap.New(core, opts...)
	return &Logger{Logger: l, sugar: l.Sugar()}
}

// parseLevel разбирает уровень; неизвестный = info
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая его по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// With возвращает дочерний логгер с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// WithComponent - логгер компонента
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithSymbol - логгер символа
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// WithPositionID - логгер позиции
func (l *Logger) WithPositionID(id string) *Logger {
	return l.With(PositionID(id))
}

// Sugar возвращает printf-стиль логгер
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Глобальные функции

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// Доменные конструкторы полей

func Symbol(v string) zap.Field              { return zap.String("symbol", v) }
func PositionID(v string) zap.Field          { return zap.String("position_id", v) }
func PairID(v string) zap.Field              { return zap.String("pair_id", v) }
func OrderID(v string) zap.Field             { return zap.String("order_id", v) }
func SignalID(v string) zap.Field            { return zap.String("signal_id", v) }
func Leg(v string) zap.Field                 { return zap.String("leg", v) }
func Side(v string) zap.Field                { return zap.String("side", v) }
func State(v string) zap.Field               { return zap.String("state", v) }
func Price(v float64) zap.Field              { return zap.Float64("price", v) }
func Quantity(v float64) zap.Field           { return zap.Float64("quantity", v) }
func Component(v string) zap.Field           { return zap.String("component", v) }
func RequestID(v string) zap.Field           { return zap.String("request_id", v) }
func Latency(d time.Duration) zap.Field      { return zap.Float64("latency_ms", float64(d.Microseconds())/1000) }
func String(k, v string) zap.Field           { return zap.String(k, v) }
func Int(k string, v int) zap.Field          { return zap.Int(k, v) }
func Float64(k string, v float64) zap.Field  { return zap.Float64(k, v) }
func Bool(k string, v bool) zap.Field        { return zap.Bool(k, v) }
func Err(err error) zap.Field                { return zap.Error(err) }
func Any(k string, v interface{}) zap.Field  { return zap.Any(k, v) }
