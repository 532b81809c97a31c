package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mailbox / queue metrics
	MailboxSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "actorkit_mailbox_subscriptions",
			Help: "Current number of subscriptions by mailbox",
		},
		[]string{"mbox"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "actorkit_queue_depth",
			Help: "Current number of pending demands by agent",
		},
		[]string{"agent"},
	)

	// Dispatcher metrics
	DispatcherReadyAgents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "actorkit_dispatcher_ready_agents",
			Help: "Current number of ready (non-empty-queue) agents by dispatcher",
		},
		[]string{"dispatcher"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "actorkit_handler_duration_seconds",
			Help:    "Time taken to run one message handler in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent", "type"},
	)

	// Message-limit metrics
	LimitDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actorkit_limit_drops_total",
			Help: "Total number of envelopes dropped by a message-limit policy",
		},
		[]string{"mbox", "type"},
	)

	LimitRedirectHopExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actorkit_limit_redirect_hop_exhausted_total",
			Help: "Total number of redirect/transform chains that exceeded the hop bound and fell back to drop",
		},
		[]string{"mbox", "type"},
	)

	// Synchronous-request metrics
	SvcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actorkit_svc_requests_total",
			Help: "Total number of synchronous requests by outcome",
		},
		[]string{"mbox", "type", "outcome"},
	)

	SvcRequestTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actorkit_svc_request_timeouts_total",
			Help: "Total number of synchronous requests that timed out",
		},
		[]string{"mbox", "type"},
	)

	// Cooperation metrics
	CoopActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "actorkit_coop_active",
			Help: "Current number of registered cooperations",
		},
	)

	CoopAgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "actorkit_coop_agents_total",
			Help: "Current number of agents by cooperation",
		},
		[]string{"coop"},
	)
)

func init() {
	prometheus.MustRegister(
		MailboxSubscriptions,
		QueueDepth,
		DispatcherReadyAgents,
		HandlerDuration,
		LimitDropsTotal,
		LimitRedirectHopExhaustedTotal,
		SvcRequestsTotal,
		SvcRequestTimeoutsTotal,
		CoopActive,
		CoopAgentsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
