package monitoring

import (
	"mpcomm/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.MetricsCollector over a default
// registry. Construct once per process; promauto registration panics on
// duplicates.
type PrometheusCollector struct {
	callsActive   prometheus.Gauge
	callsTotal    *prometheus.CounterVec
	callSetup     prometheus.Histogram
	terminations  *prometheus.CounterVec
	volumeSamples prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		callsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mpcomm_calls_active",
			Help: "Number of calls currently in progress",
		}),

		callsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mpcomm_calls_total",
			Help: "Total number of calls started",
		}, []string{"direction"}),

		callSetup: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mpcomm_call_setup_duration_seconds",
			Help:    "Time from dialing to connected",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		terminations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mpcomm_call_terminations_total",
			Help: "Total number of call terminations by reason",
		}, []string{"reason"}),

		volumeSamples: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mpcomm_volume_samples_total",
			Help: "Total number of microphone volume samples processed",
		}),
	}
}

func (p *PrometheusCollector) CallStarted(outbound bool) {
	direction := "inbound"
	if outbound {
		direction = "outbound"
	}
	p.callsActive.Inc()
	p.callsTotal.WithLabelValues(direction).Inc()
}

func (p *PrometheusCollector) CallConnected(setupSeconds float64) {
	p.callSetup.Observe(setupSeconds)
}

func (p *PrometheusCollector) CallTerminated(reason domain.TerminationReason) {
	p.callsActive.Dec()
	p.terminations.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusCollector) VolumeSampleObserved() {
	p.volumeSamples.Inc()
}
