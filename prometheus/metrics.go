// Package prometheus reports ledger instrumentation to a Prometheus
// registry
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kode4food/ledger"
)

type (
	// Metrics implements ledger.Metrics with Prometheus collectors
	Metrics struct {
		loadDuration    *prometheus.HistogramVec
		saveDuration    *prometheus.HistogramVec
		eventsAppended  *prometheus.CounterVec
		conflicts       *prometheus.CounterVec
		eventDuration   *prometheus.HistogramVec
		eventsProcessed *prometheus.CounterVec
		checkpoint      *prometheus.GaugeVec
		state           *prometheus.GaugeVec
	}

	timer struct {
		start time.Time
		h     prometheus.Observer
	}
)

// Namespace prefixes every metric name
const Namespace = "ledger"

// DefaultBuckets are the latency buckets, in seconds
var DefaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

var _ ledger.Metrics = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "repository_load_duration_seconds",
			Help:      "Entity load latency in seconds",
			Buckets:   DefaultBuckets,
		}, []string{"entity"}),

		saveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "repository_save_duration_seconds",
			Help:      "Entity save latency in seconds",
			Buckets:   DefaultBuckets,
		}, []string{"entity"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended",
		}, []string{"entity"}),

		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "concurrency_conflicts_total",
			Help:      "Total number of rejected expected versions",
		}, []string{"entity"}),

		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "subscription_event_duration_seconds",
			Help:      "Event handling latency in seconds",
			Buckets:   DefaultBuckets,
		}, []string{"subscription", "live"}),

		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "subscription_events_total",
			Help:      "Total number of events delivered",
		}, []string{"subscription", "live", "success"}),

		checkpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "subscription_checkpoint_position",
			Help:      "Last saved checkpoint position",
		}, []string{"subscription"}),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "subscription_state",
			Help:      "Current subscription state, one series per state",
		}, []string{"subscription", "state"}),
	}

	reg.MustRegister(
		m.loadDuration,
		m.saveDuration,
		m.eventsAppended,
		m.conflicts,
		m.eventDuration,
		m.eventsProcessed,
		m.checkpoint,
		m.state,
	)
	return m
}

func (m *Metrics) LoadDuration(entity string) ledger.Timer {
	return newTimer(m.loadDuration.WithLabelValues(entity))
}

func (m *Metrics) SaveDuration(entity string) ledger.Timer {
	return newTimer(m.saveDuration.WithLabelValues(entity))
}

func (m *Metrics) EventsAppended(entity string, count int) {
	m.eventsAppended.WithLabelValues(entity).Add(float64(count))
}

func (m *Metrics) ConcurrencyConflict(entity string) {
	m.conflicts.WithLabelValues(entity).Inc()
}

func (m *Metrics) EventDuration(sub string, live bool) ledger.Timer {
	return newTimer(
		m.eventDuration.WithLabelValues(sub, strconv.FormatBool(live)),
	)
}

func (m *Metrics) EventProcessed(sub string, live, success bool) {
	m.eventsProcessed.WithLabelValues(
		sub, strconv.FormatBool(live), strconv.FormatBool(success),
	).Inc()
}

func (m *Metrics) CheckpointSaved(sub string, pos ledger.GlobalPosition) {
	m.checkpoint.WithLabelValues(sub).Set(float64(pos))
}

// StateChanged sets the gauge for the new state to 1 and every other
// state of the subscription to 0
func (m *Metrics) StateChanged(sub string, state ledger.SubscriptionState) {
	for s := ledger.Initializing; s <= ledger.Dropped; s++ {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(sub, s.String()).Set(v)
	}
}

func newTimer(h prometheus.Observer) ledger.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}
