package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики конвейера сигналов и OCO менеджера
// ============================================================
//
// Что отслеживаем:
// - латентность входа и постановки защитных ордеров
// - исходы сигналов и OCO пар
// - аномалии и пункты ручной сверки
// - переполнения очередей и отложенные записи в хранилище

const metricsNamespace = "ocobot"

// ============ Метрики латентности ============

// DispatchLatency - время этапов обработки сигнала
var DispatchLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "dispatch",
		Name:      "stage_latency_ms",
		Help:      "Signal dispatch stage latency in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"stage"}, // entry, oco, total
)

// OrderExecutionLatency - время ответа биржи на размещение ордера
var OrderExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "exchange",
		Name:      "order_latency_ms",
		Help:      "Time to place an order on exchange in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"exchange", "type"},
)

// MonitorCycleLatency - длительность одного цикла опроса пар
var MonitorCycleLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "oco",
		Name:      "monitor_cycle_ms",
		Help:      "Duration of one OCO monitor polling cycle in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	},
)

// ============ Счётчики событий ============

// SignalsTotal - исходы обработки сигналов
var SignalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "dispatch",
		Name:      "signals_total",
		Help:      "Total number of signals by result",
	},
	[]string{"result"}, // accepted, duplicate, invalid, rejected, failed, opened
)

// PairsTotal - исходы OCO пар
var PairsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "oco",
		Name:      "pairs_total",
		Help:      "Total number of OCO pair outcomes",
	},
	[]string{"outcome"}, // paired, single_leg, failed, resolved_sl, resolved_tp, cancelled
)

// CancelRetries - повторные попытки отмены ноги
var CancelRetries = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "oco",
		Name:      "cancel_retries_total",
		Help:      "Number of retried protective order cancellations",
	},
)

// AnomaliesTotal - нарушения инвариантов и пункты ручной сверки
var AnomaliesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "oco",
		Name:      "anomalies_total",
		Help:      "Number of OCO anomalies by kind",
	},
	[]string{"kind"}, // double_fill, reconcile, unprotected
)

// PnlTotal - суммарный реализованный PNL
var PnlTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "trading",
		Name:      "pnl_total",
		Help:      "Total realized PnL in quote currency",
	},
)

// ============ Метрики состояния ============

// ActivePairsGauge - текущее количество ACTIVE пар
var ActivePairsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "oco",
		Name:      "active_pairs",
		Help:      "Current number of ACTIVE OCO pairs",
	},
)

// OpenPositionsGauge - открытые позиции в книге
var OpenPositionsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "trading",
		Name:      "open_positions",
		Help:      "Current number of non-closed positions",
	},
)

// StoreDeferredWrites - отложенные записи в хранилище
var StoreDeferredWrites = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "store",
		Name:      "deferred_writes",
		Help:      "Number of position writes waiting for the store",
	},
)

// StoreErrors - ошибки вызовов хранилища
var StoreErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Number of failed store calls",
	},
	[]string{"op"},
)

// StoreConnected - статус подключения хранилища (1 = подключено)
var StoreConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "store",
		Name:      "connected",
		Help:      "Position store connection status (1=connected, 0=not yet)",
	},
)

// ============ Метрики производительности ============

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "runtime",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // intake, notification
)

// BufferBacklog - заполненность буфера в момент переполнения
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "runtime",
		Name:      "buffer_backlog_ratio",
		Help:      "Channel fill ratio observed on overflow",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

// RecordSignal записывает исход сигнала
func RecordSignal(result string) {
	SignalsTotal.WithLabelValues(result).Inc()
}

// RecordPairOutcome записывает исход OCO пары
func RecordPairOutcome(outcome string) {
	PairsTotal.WithLabelValues(outcome).Inc()
}

// RecordAnomaly записывает аномалию
func RecordAnomaly(kind string) {
	AnomaliesTotal.WithLabelValues(kind).Inc()
}

// RecordOrderLatency записывает латентность размещения ордера
func RecordOrderLatency(exchangeName, orderType string, latencyMs float64) {
	OrderExecutionLatency.WithLabelValues(exchangeName, orderType).Observe(latencyMs)
}

// RecordRealizedPnl добавляет реализованный PNL
func RecordRealizedPnl(pnl float64) {
	if pnl != 0 {
		PnlTotal.Add(pnl)
	}
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает заполненность буфера
func RecordBufferBacklog(bufferName string, capacity, length int) {
	if capacity <= 0 {
		return
	}
	BufferBacklog.WithLabelValues(bufferName).Set(float64(length) / float64(capacity))
}
