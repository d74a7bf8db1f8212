package guide

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query labels.
const (
	queryShort = "short"
	queryFull  = "full"
)

// Metrics exports the guide acquisition counters. A nil *Metrics records nothing.
type Metrics struct {
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
	scheduled     prometheus.Gauge
	inFlight      prometheus.Gauge
	cacheEntries  prometheus.Gauge
	catalogSize   prometheus.Gauge
	breakerState  prometheus.Gauge
	breakerTrips  prometheus.Counter
}

// NewMetrics registers the guide metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nownext_guide_queries_total",
			Help: "Metadata service guide queries by query kind and result",
		}, []string{"query", "result"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nownext_guide_query_duration_seconds",
			Help:    "Latency of metadata service guide queries",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nownext_guide_fetch_outcomes_total",
			Help: "Finished fetch cycles by outcome",
		}, []string{"outcome"}),
		scheduled: f.NewGauge(prometheus.GaugeOpts{
			Name: "nownext_guide_scheduled_fetches",
			Help: "Fetches staged on a timer that has not fired yet",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "nownext_guide_inflight_fetches",
			Help: "Fetch cycles currently running",
		}),
		cacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "nownext_guide_cache_entries",
			Help: "Channels with a cached guide state",
		}),
		catalogSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "nownext_guide_catalog_channels",
			Help: "Channels in the current catalog",
		}),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "nownext_metadata_circuit_breaker_state",
			Help: "Metadata service circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		breakerTrips: f.NewCounter(prometheus.CounterOpts{
			Name: "nownext_metadata_circuit_breaker_trips_total",
			Help: "Times the metadata service circuit breaker opened",
		}),
	}
}

func (m *Metrics) observeQuery(query string, err error, n int, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case n == 0:
		result = "empty"
	}
	m.queries.WithLabelValues(query, result).Inc()
	m.queryDuration.WithLabelValues(query).Observe(took.Seconds())
}

func (m *Metrics) observeOutcome(o Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) setScheduled(n int) {
	if m == nil {
		return
	}
	m.scheduled.Set(float64(n))
}

func (m *Metrics) addInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}

func (m *Metrics) setCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

func (m *Metrics) setCatalogSize(n int) {
	if m == nil {
		return
	}
	m.catalogSize.Set(float64(n))
}

// SetBreakerState records a metadata service circuit breaker transition.
// state is 0 for closed, 1 for open and 2 for half-open.
func (m *Metrics) SetBreakerState(state int, tripped bool) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
	if tripped {
		m.breakerTrips.Inc()
	}
}
