package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "respirakids"

var (
	once sync.Once

	bookingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_attempts_total",
			Help:      "Count of slot claim attempts by outcome.",
		},
		[]string{"outcome"},
	)

	bookingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_duration_seconds",
			Help:      "Latency of the slot claim transaction.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	conflictRecoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_conflict_recoveries_total",
			Help:      "Count of wizards sent back to slot selection after a lost race.",
		},
	)

	stepsEntered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_steps_entered_total",
			Help:      "Count of wizard step entries.",
		},
		[]string{"step"},
	)

	accessDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wizard_access_denied_total",
			Help:      "Count of wizards closed at access-denied by reason.",
		},
		[]string{"reason"},
	)

	codesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_codes_sent_total",
			Help:      "Count of one-time code deliveries by result.",
		},
		[]string{"result"},
	)

	codeChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_code_checks_total",
			Help:      "Count of one-time code checks by result.",
		},
		[]string{"result"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wizard_active_sessions",
			Help:      "Number of wizard sessions held in memory.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingAttempts,
			bookingDuration,
			conflictRecoveries,
			stepsEntered,
			accessDenied,
			codesSent,
			codeChecks,
			activeSessions,
		)
	})
}

func IncBookingAttempt(outcome string) {
	bookingAttempts.WithLabelValues(outcome).Inc()
}

func ObserveBookingDuration(seconds float64) {
	bookingDuration.Observe(seconds)
}

func IncConflictRecovery() {
	conflictRecoveries.Inc()
}

func IncStepEntered(step string) {
	stepsEntered.WithLabelValues(step).Inc()
}

func IncAccessDenied(reason string) {
	accessDenied.WithLabelValues(reason).Inc()
}

func IncCodeSent(result string) {
	codesSent.WithLabelValues(result).Inc()
}

func IncCodeCheck(result string) {
	codeChecks.WithLabelValues(result).Inc()
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}
