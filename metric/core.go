package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all console-level metrics (not component-specific)
type Metrics struct {
	// Consumer metrics
	ConsumerState    *prometheus.GaugeVec
	MessagesConsumed *prometheus.CounterVec
	ConsumerFaults   *prometheus.CounterVec
	HandlerErrors    *prometheus.CounterVec

	// Dispatch metrics
	CommandsPublished *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec

	// Correlation metrics
	ResponsesMatched   prometheus.Counter
	ResponsesUnmatched prometheus.Counter
	WaitTimeouts       prometheus.Counter
	PendingWaiters     prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all console metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConsumerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "otus_console",
				Subsystem: "consumer",
				Name:      "state",
				Help:      "Consumer loop state (0=stopped, 1=connecting, 2=ready, 3=faulted)",
			},
			[]string{"subscription"},
		),

		MessagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "otus_console",
				Subsystem: "consumer",
				Name:      "messages_total",
				Help:      "Total number of messages consumed per subscription",
			},
			[]string{"subscription"},
		),

		ConsumerFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "otus_console",
				Subsystem: "consumer",
				Name:      "faults_total",
				Help:      "Total connection-level faults triggering reconnect",
			},
			[]string{"subscription"},
		),

		HandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "otus_console",
				Subsystem: "consumer",
				Name:      "handler_errors_total",
				Help:      "Total per-message handler errors (logged and skipped)",
			},
			[]string{"subscription"},
		),

		CommandsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "otus_console",
				Subsystem: "dispatch",
				Name:      "commands_total",
				Help:      "Total commands published per target",
			},
			[]string{"target", "command"},
		),

		PublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "otus_console",
				Subsystem: "dispatch",
				Name:      "publish_errors_total",
				Help:      "Total synchronous publish failures",
			},
			[]string{"target"},
		),

		ResponsesMatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "otus_console",
				Subsystem: "correlator",
				Name:      "matched_total",
				Help:      "Responses delivered to a registered waiter",
			},
		),

		ResponsesUnmatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "otus_console",
				Subsystem: "correlator",
				Name:      "unmatched_total",
				Help:      "Responses with no registered waiter (live-stream only)",
			},
		),

		WaitTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "otus_console",
				Subsystem: "correlator",
				Name:      "wait_timeouts_total",
				Help:      "Command waits that expired before a response arrived",
			},
		),

		PendingWaiters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "otus_console",
				Subsystem: "correlator",
				Name:      "pending_waiters",
				Help:      "Currently registered response waiters",
			},
		),
	}
}
