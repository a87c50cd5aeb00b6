package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах

// ============ Метрики латентности ============

// TickLatency - длительность одного тика цикла
var TickLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "tick_latency_ms",
		Help:      "Duration of a single cycle tick in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"symbol", "strategy"},
)

// SyncPassLatency - длительность прохода цикла сверки
var SyncPassLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "sync_pass_latency_ms",
		Help:      "Duration of a reconciliation pass in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	},
	[]string{"loop"}, // order, cycle
)

// BrokerCallLatency - длительность вызова моста терминала
var BrokerCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "cycletrader",
		Subsystem: "broker",
		Name:      "call_latency_ms",
		Help:      "Broker bridge call latency in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
	[]string{"op"},
)

// ============ Счётчики событий ============

// OrdersOpened - открытые ордера по ролям
var OrdersOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "orders_opened_total",
		Help:      "Total number of opened orders",
	},
	[]string{"symbol", "role"},
)

// OrdersClosed - закрытые ордера
var OrdersClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "orders_closed_total",
		Help:      "Total number of closed orders",
	},
	[]string{"symbol"},
)

// CyclesClosed - закрытые циклы по причинам
var CyclesClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "cycles_closed_total",
		Help:      "Total number of closed cycles",
	},
	[]string{"reason"}, // take_profit, max_drawdown, command, daily_limit
)

// CyclesReopened - ложно закрытые циклы, возвращённые в работу
var CyclesReopened = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "cycles_reopened_total",
		Help:      "Total number of falsely closed cycles reopened by reconciliation",
	},
)

// CommandsProcessed - команды оператора по результатам
var CommandsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "commands_processed_total",
		Help:      "Total number of processed operator commands",
	},
	[]string{"message", "result"}, // result: ok, rejected, failed
)

// SyncRepairs - исправленные расхождения по типам
var SyncRepairs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "sync_repairs_total",
		Help:      "Total number of reconciliation repairs",
	},
	[]string{"kind"}, // orphan_pruned, order_reattached, suspicious_closed
)

// ============ Метрики состояния ============

// CyclesActive - количество активных циклов
var CyclesActive = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "cycles_active",
		Help:      "Current number of active cycles",
	},
	[]string{"symbol"},
)

// FloatingPnl - суммарная плавающая прибыль аккаунта
var FloatingPnl = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "floating_pnl",
		Help:      "Total floating PnL across active cycles in account currency",
	},
)

// DailyRealizedPnl - реализованная прибыль с начала дня
var DailyRealizedPnl = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "daily_realized_pnl",
		Help:      "Realized PnL since the start of the trading day",
	},
)

// StrategyHalted - 1 когда стратегия остановлена риск-лимитом
var StrategyHalted = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "cycletrader",
		Subsystem: "trading",
		Name:      "strategy_halted",
		Help:      "1 when the strategy is halted by a risk limit, 0 otherwise",
	},
)
