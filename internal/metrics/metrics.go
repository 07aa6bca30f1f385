package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rota"

var (
	once sync.Once

	eligibilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eligibility_checks_total",
			Help:      "Count of worker/shift eligibility checks by result.",
		},
		[]string{"result"},
	)

	conflictDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_decisions_total",
			Help:      "Count of conflict detector decisions.",
		},
		[]string{"decision"},
	)

	bookingRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_retries_total",
			Help:      "Count of booking commits retried after a concurrent modification.",
		},
	)

	bookingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_duration_seconds",
			Help:      "Time spent deciding and committing a booking.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 2},
		},
	)

	timesheetDispositions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timesheet_dispositions_total",
			Help:      "Count of timesheets by resulting status.",
		},
		[]string{"status"},
	)

	shiftsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shifts_published_total",
			Help:      "Count of shifts moved from draft to published.",
		},
	)

	remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shift_reminders_total",
			Help:      "Count of shift reminders by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			eligibilityChecks,
			conflictDecisions,
			bookingRetries,
			bookingDuration,
			timesheetDispositions,
			shiftsPublished,
			remindersSent,
			httpRequests,
		)
	})
}

func IncEligibility(eligible bool) {
	if eligible {
		eligibilityChecks.WithLabelValues("eligible").Inc()
		return
	}
	eligibilityChecks.WithLabelValues("ineligible").Inc()
}

func IncConflictDecision(accepted bool) {
	if accepted {
		conflictDecisions.WithLabelValues("accepted").Inc()
		return
	}
	conflictDecisions.WithLabelValues("rejected").Inc()
}

func IncBookingRetry() {
	bookingRetries.Inc()
}

func ObserveBookingDuration(seconds float64) {
	bookingDuration.Observe(seconds)
}

func IncTimesheet(status string) {
	timesheetDispositions.WithLabelValues(status).Inc()
}

func AddShiftsPublished(n int) {
	shiftsPublished.Add(float64(n))
}

func IncReminder(result string) {
	remindersSent.WithLabelValues(result).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
