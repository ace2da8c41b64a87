package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loafy"

var (
	// Registry holds the booking service collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	reservationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "reservation_duration_seconds",
			Help:      "Duration of the reservation transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Cancelled bookings by reason.",
		},
		[]string{"reason"},
	)

	confirmations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "confirmations_total",
			Help:      "Bookings confirmed by a payment.",
		},
	)

	ticketChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tickets",
			Name:      "ledger_entries_total",
			Help:      "Ticket ledger entries appended by type.",
		},
		[]string{"type"},
	)

	refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "refunds_total",
			Help:      "Refund attempts by result.",
		},
		[]string{"result"},
	)

	reaperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "runs_total",
			Help:      "Expiry sweeps by result.",
		},
		[]string{"result"},
	)

	reaperLastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed expiry sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		reservations,
		reservationDuration,
		cancellations,
		confirmations,
		ticketChanges,
		refunds,
		reaperRuns,
		reaperLastRun,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and latency by route template
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordReservation records the outcome of a reservation attempt
func RecordReservation(outcome string, duration time.Duration) {
	reservations.WithLabelValues(outcome).Inc()
	reservationDuration.Observe(duration.Seconds())
}

// RecordCancellation counts a cancelled booking; reason is user, expired or session_cancelled
func RecordCancellation(reason string) {
	cancellations.WithLabelValues(reason).Inc()
}

// RecordConfirmation counts a booking confirmed by payment
func RecordConfirmation() {
	confirmations.Inc()
}

// RecordTicketChange counts a ledger entry
func RecordTicketChange(txType string) {
	ticketChanges.WithLabelValues(txType).Inc()
}

// RecordRefund counts a refund attempt; result is ok, failed or dlq
func RecordRefund(result string) {
	refunds.WithLabelValues(result).Inc()
}

// RecordReaperRun records a completed expiry sweep
func RecordReaperRun(result string) {
	reaperRuns.WithLabelValues(result).Inc()
	reaperLastRun.SetToCurrentTime()
}
