package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wbauth"

var (
	once sync.Once

	loginOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_outcomes_total",
			Help:      "Login workflow results by step and outcome kind.",
		},
		[]string{"step", "outcome"},
	)

	bookingOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_outcomes_total",
			Help:      "Booking workflow results by outcome kind.",
		},
		[]string{"outcome"},
	)

	workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Time spent in a workflow including browser interaction.",
			Buckets:   []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"workflow"},
	)

	sessionsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Login sessions evicted after their TTL.",
		},
	)

	cookiesPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cookies_purged_total",
			Help:      "Expired cookies deleted from storage.",
		},
	)

	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cookie_cache_requests_total",
			Help:      "Cookie cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	codeRequestsThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_requests_throttled_total",
			Help:      "Code requests rejected by the local per-phone limiter.",
		},
	)
)

// Register registers metrics (idempotent). sessionsInFlight, when not nil,
// backs the sessions_in_flight gauge.
func Register(sessionsInFlight func() int) {
	once.Do(func() {
		prometheus.MustRegister(
			loginOutcomes,
			bookingOutcomes,
			workflowDuration,
			sessionsEvicted,
			cookiesPurged,
			cacheRequests,
			codeRequestsThrottled,
		)
		if sessionsInFlight != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "sessions_in_flight",
					Help:      "Login sessions awaiting an SMS code.",
				},
				func() float64 { return float64(sessionsInFlight()) },
			))
		}
	})
}

func IncLoginOutcome(step, outcome string) {
	loginOutcomes.WithLabelValues(step, outcome).Inc()
}

func IncBookingOutcome(outcome string) {
	bookingOutcomes.WithLabelValues(outcome).Inc()
}

func ObserveWorkflow(workflow string, started time.Time) {
	workflowDuration.WithLabelValues(workflow).Observe(time.Since(started).Seconds())
}

func AddSessionsEvicted(n int) {
	if n > 0 {
		sessionsEvicted.Add(float64(n))
	}
}

func AddCookiesPurged(n int64) {
	if n > 0 {
		cookiesPurged.Add(float64(n))
	}
}

func IncCacheRequest(result string) {
	cacheRequests.WithLabelValues(result).Inc()
}

func IncCodeRequestThrottled() {
	codeRequestsThrottled.Inc()
}
