// Package metrics exposes Prometheus instrumentation for the broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal counts execution attempts by outcome.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperbroker",
		Name:      "orders_total",
		Help:      "Order execution attempts by status.",
	}, []string{"status"})

	// OrderLegs observes leg counts per submitted order.
	OrderLegs = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paperbroker",
		Name:      "order_legs",
		Help:      "Number of legs per submitted order.",
		Buckets:   []float64{1, 2, 3, 4, 6, 8},
	})

	// ExpirationEvents counts settled option positions by action.
	ExpirationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperbroker",
		Name:      "expiration_events_total",
		Help:      "Option expiration settlements by action.",
	}, []string{"action"})

	// ExpirationErrors counts per-option settlement failures.
	ExpirationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paperbroker",
		Name:      "expiration_errors_total",
		Help:      "Option settlements that failed and were skipped.",
	})

	// AccountsCreated counts account creations.
	AccountsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paperbroker",
		Name:      "accounts_created_total",
		Help:      "Accounts created through the broker.",
	})
)
