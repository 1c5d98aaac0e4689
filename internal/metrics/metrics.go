// Package metrics exposes the order lifecycle to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ordersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eddymixer",
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Total number of mix orders created.",
		},
	)

	depositChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eddymixer",
			Subsystem: "deposits",
			Name:      "checks_total",
			Help:      "Total number of deposit checks by outcome.",
		},
		[]string{"result"},
	)

	depositsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eddymixer",
			Subsystem: "deposits",
			Name:      "detected_total",
			Help:      "Total number of confirmed deposits.",
		},
	)

	payoutAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eddymixer",
			Subsystem: "payouts",
			Name:      "attempts_total",
			Help:      "Total number of payout execution attempts.",
		},
	)

	payoutsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eddymixer",
			Subsystem: "payouts",
			Name:      "completed_total",
			Help:      "Total number of confirmed payouts.",
		},
	)

	payoutsFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eddymixer",
			Subsystem: "payouts",
			Name:      "flagged_total",
			Help:      "Total number of payouts escalated to an operator.",
		},
	)

	ordersExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eddymixer",
			Subsystem: "orders",
			Name:      "expired_total",
			Help:      "Total number of orders closed by the expiry sweeper.",
		},
	)

	ordersPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eddymixer",
			Subsystem: "orders",
			Name:      "purged_total",
			Help:      "Total number of terminal orders deleted by the janitor.",
		},
	)

	ordersByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "eddymixer",
			Subsystem: "orders",
			Name:      "by_status",
			Help:      "Current number of orders per status.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		ordersCreated,
		depositChecks,
		depositsDetected,
		payoutAttempts,
		payoutsCompleted,
		payoutsFlagged,
		ordersExpired,
		ordersPurged,
		ordersByStatus,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func OrderCreated()              { ordersCreated.Inc() }
func DepositCheck(result string) { depositChecks.WithLabelValues(result).Inc() }
func DepositDetected()           { depositsDetected.Inc() }
func PayoutAttempt()             { payoutAttempts.Inc() }
func PayoutCompleted()           { payoutsCompleted.Inc() }
func PayoutFlagged()             { payoutsFlagged.Inc() }

func OrdersExpired(n int64) { ordersExpired.Add(float64(n)) }
func OrdersPurged(n int64)  { ordersPurged.Add(float64(n)) }

func SetStatusCount(status string, n int64) {
	ordersByStatus.WithLabelValues(status).Set(float64(n))
}
