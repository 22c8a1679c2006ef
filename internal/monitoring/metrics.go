package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tixflow_gateway_request_duration_seconds",
			Help:    "Duration of payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)

	ledgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixflow_ledger_operations_total",
			Help: "Ticket ledger operations by result",
		},
		[]string{"op", "result"},
	)

	ticketsAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tixflow_tickets_available",
			Help: "Tickets still available for reservation",
		},
	)

	webhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixflow_webhooks_total",
			Help: "Gateway webhook deliveries by result",
		},
		[]string{"result"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixflow_notifications_total",
			Help: "Ticket notifications by result",
		},
		[]string{"result"},
	)

	tasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixflow_worker_tasks_total",
			Help: "Background tasks by name and result",
		},
		[]string{"task", "result"},
	)

	reconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tixflow_reconciled_tickets_total",
			Help: "Pending tickets resolved by reconciliation",
		},
		[]string{"action"},
	)
)

func ObserveGateway(op, outcome string, d time.Duration) {
	gatewayRequestDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

func TrackLedger(op, result string) {
	ledgerOperations.WithLabelValues(op, result).Inc()
}

func SetAvailable(n int64) {
	ticketsAvailable.Set(float64(n))
}

func TrackWebhook(result string) {
	webhooks.WithLabelValues(result).Inc()
}

func TrackNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}

func TrackTask(task, result string) {
	tasks.WithLabelValues(task, result).Inc()
}

func TrackReconciled(action string) {
	reconciled.WithLabelValues(action).Inc()
}
