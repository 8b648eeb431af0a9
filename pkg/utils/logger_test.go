package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newBufferLogger - логгер, пишущий JSON в буфер
func newBufferLogger(buf *bytes.Buffer, level zapcore.Level) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey: "message",
			LevelKey:   "level",
		}),
		zapcore.AddSync(buf),
		level,
	)
	l := zap.New(core)
	return &Logger{Logger: l, sugar: l.Sugar()}
}

// ============================================================
// Тесты InitLogger
// ============================================================

func TestInitLogger_Formats(t *testing.T) {
	tests := []LogConfig{
		{},
		{Level: "info", Format: "json"},
		{Level: "debug", Format: "text"},
		{Level: "debug", Format: "text", Development: true},
	}

	for _, cfg := range tests {
		logger := InitLogger(cfg)
		if logger == nil || logger.Logger == nil || logger.sugar == nil {
			t.Fatalf("InitLogger(%+v) returned incomplete logger", cfg)
		}
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocobot.log")

	logger := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})
	logger.Info("pair placed", PositionID("pos-1"), Price(49000))
	_ = logger.Sync()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("Log entry is not valid JSON: %v (%s)", err, content)
	}
	if entry["position_id"] != "pos-1" {
		t.Errorf("position_id not logged: %v", entry)
	}
}

func TestInitLogger_InvalidFileOutput(t *testing.T) {
	// Должен fallback на stderr, не паниковать
	logger := InitLogger(LogConfig{Level: "info", Output: "/nonexistent/directory/log.txt"})
	if logger == nil {
		t.Fatal("InitLogger returned nil for invalid output")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты глобального логгера
// ============================================================

func TestGlobalLogger(t *testing.T) {
	globalMu.Lock()
	globalLogger = nil
	globalMu.Unlock()

	logger := GetGlobalLogger()
	if logger == nil {
		t.Fatal("GetGlobalLogger returned nil")
	}
	if L() != logger {
		t.Error("L() returned different logger")
	}

	custom := InitGlobalLogger(LogConfig{Level: "warn"})
	if GetGlobalLogger() != custom {
		t.Error("InitGlobalLogger did not set the logger")
	}
}

func TestGlobalLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetGlobalLogger(newBufferLogger(&buf, zapcore.DebugLevel))

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")
	Infof("pair %s resolved by %s", "p-1", "take_profit")

	output := buf.String()
	for _, want := range []string{"debug message", "info message", "warn message", "error message", "pair p-1 resolved by take_profit"} {
		if !strings.Contains(output, want) {
			t.Errorf("%q not found in output", want)
		}
	}
}

// ============================================================
// Тесты конструкторов полей
// ============================================================

func TestFieldConstructors(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, zapcore.InfoLevel)

	logger.WithComponent("oco").Info("test",
		Symbol("BTCUSDT"),
		PositionID("pos-1"),
		PairID("pair-1"),
		OrderID("order-456"),
		SignalID("sig-9"),
		Leg("stop_loss"),
		Price(49000.5),
		Quantity(0.01),
		Side("long"),
		State("ACTIVE"),
		Latency(15500*time.Microsecond),
	)

	output := buf.String()
	expected := []string{
		`"component":"oco"`,
		`"symbol":"BTCUSDT"`,
		`"position_id":"pos-1"`,
		`"pair_id":"pair-1"`,
		`"order_id":"order-456"`,
		`"signal_id":"sig-9"`,
		`"leg":"stop_loss"`,
		`"price":49000.5`,
		`"quantity":0.01`,
		`"side":"long"`,
		`"state":"ACTIVE"`,
		`"latency_ms":15.5`,
	}
	for _, field := range expected {
		if !strings.Contains(output, field) {
			t.Errorf("Field %s not found in output: %s", field, output)
		}
	}
}

func TestLogger_WithReturnsChild(t *testing.T) {
	logger := InitLogger(LogConfig{Level: "info"})

	for name, child := range map[string]*Logger{
		"With":           logger.With(String("k", "v")),
		"WithComponent":  logger.WithComponent("closer"),
		"WithSymbol":     logger.WithSymbol("BTCUSDT"),
		"WithPositionID": logger.WithPositionID("pos-1"),
	} {
		if child == nil || child == logger {
			t.Errorf("%s must return a new logger", name)
		}
	}
}
