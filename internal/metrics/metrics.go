// Package metrics exposes the Prometheus counters for the booking
// pipeline. Register must be called once before the /metrics endpoint
// is served.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	reservationsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "baby_spa",
			Name:      "reservations_created_total",
			Help:      "Reservations successfully created with a live gateway transaction.",
		},
	)

	callbacksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "baby_spa",
			Name:      "payment_callbacks_total",
			Help:      "Gateway callbacks by provider status.",
		},
		[]string{"status"},
	)

	paymentsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "baby_spa",
			Name:      "payments_expired_total",
			Help:      "Payments expired by the deadline scheduler or cron sweep.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(reservationsCreated, callbacksProcessed, paymentsExpired)
	})
}

// IncReservationCreated increments the created-reservations counter.
func IncReservationCreated() {
	reservationsCreated.Inc()
}

// IncCallback increments the callback counter for a provider status.
func IncCallback(status string) {
	callbacksProcessed.WithLabelValues(status).Inc()
}

// IncPaymentExpired increments the expired-payments counter.
func IncPaymentExpired() {
	paymentsExpired.Inc()
}
