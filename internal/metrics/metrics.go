// Package metrics holds the Prometheus collectors of the marketplace API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prefix = "marketplace"

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// RateLimitedTotal counts requests refused by the rate limiter, by role
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_rate_limited_total",
			Help: "Total number of requests refused by the rate limiter",
		},
		[]string{"role"},
	)

	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_orders_total",
			Help: "Order creation attempts by outcome",
		},
		[]string{"outcome"},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_payments_total",
			Help: "Payment verifications by outcome",
		},
		[]string{"outcome"},
	)

	RetirementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_retirements_total",
			Help: "Credit retirements by final status",
		},
		[]string{"status"},
	)

	RetiredCredits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_retired_credits_total",
			Help: "Total credits retired and confirmed",
		},
	)

	KYCSubmissionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_kyc_submissions_total",
			Help: "Total number of KYC submissions",
		},
	)

	ReconcileRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "_reconcile_run_duration_seconds",
			Help:    "Duration of retirement reconciliation passes",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// ObserveHTTP records one served request
func ObserveHTTP(method, route, status string, started time.Time) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(time.Since(started).Seconds())
}

// RecordOrder increments the order counter
func RecordOrder(ok bool) {
	OrdersTotal.WithLabelValues(outcome(ok)).Inc()
}

// RecordPayment increments the payment verification counter
func RecordPayment(ok bool) {
	PaymentsTotal.WithLabelValues(outcome(ok)).Inc()
}

// RecordRetirement increments the retirement counter for a final status
func RecordRetirement(status string, credits int64) {
	RetirementsTotal.WithLabelValues(status).Inc()
	if status == "confirmed" {
		RetiredCredits.Add(float64(credits))
	}
}

// TrackReconcile returns a function that records the duration of a reconciliation pass
func TrackReconcile() func() {
	start := time.Now()
	return func() {
		ReconcileRunDuration.Observe(time.Since(start).Seconds())
	}
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
