package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"synthstream/internal/pkg/synthstream/stream"
)

// Utterance outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeTimeout   = "timeout"
	OutcomeFailed    = "failed"
	OutcomeEmpty     = "empty"
)

// Metrics groups the Prometheus instruments of a session.
type Metrics struct {
	Utterances        *prometheus.CounterVec
	Superseded        prometheus.Counter
	Evictions         prometheus.Counter
	EvictedBytes      prometheus.Counter
	DroppedItems      *prometheus.CounterVec
	StaleItems        prometheus.Counter
	EngineErrors      prometheus.Counter
	FirstAudioLatency prometheus.Histogram
}

// New creates the instruments and registers them with reg. A nil reg
// leaves them unregistered.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Utterances: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Utterances that reached execution, by outcome.",
		}, []string{"outcome"}),
		Superseded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "superseded_commands_total",
			Help:      "Speak commands dropped because a newer request cancelled them.",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_evictions_total",
			Help:      "Audio items evicted from a full output queue.",
		}),
		EvictedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_evicted_bytes_total",
			Help:      "Unread audio bytes lost to eviction.",
		}),
		DroppedItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Items refused by a full output queue with nothing left to evict.",
		}, []string{"kind"}),
		StaleItems: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_items_total",
			Help:      "Items discarded at read time for belonging to an old generation.",
		}),
		EngineErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Errors reported by the engine while synthesizing.",
		}),
		FirstAudioLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from synthesis start to the first queued audio chunk in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 200, 300, 500, 1000, 2000},
		}),
	}
}

func (m *Metrics) Utterance(outcome string) {
	m.Utterances.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

var _ stream.Observer = (*Metrics)(nil)

func (m *Metrics) Evicted(bytes int) {
	m.Evictions.Inc()
	m.EvictedBytes.Add(float64(bytes))
}

func (m *Metrics) Dropped(kind stream.Kind) {
	m.DroppedItems.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) Stale(n int) {
	m.StaleItems.Add(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
