package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "docserve"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration    *prom.HistogramVec
	buildDuration    *prom.HistogramVec
	buildOutcome     *prom.CounterVec
	pagesRendered    prom.Counter
	pagesRecomposed  prom.Counter
	cacheHits        *prom.CounterVec
	reloadClients    prom.Gauge
	reloadBroadcasts prom.Counter
}

// NewPrometheusRecorder constructs the collectors and registers them with reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build stages",
			Buckets:   prom.ExponentialBuckets(0.001, 2, 14),
		}, []string{"stage"}),
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration by mode",
			Buckets:   prom.ExponentialBuckets(0.005, 2, 12),
		}, []string{"mode"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"}),
		pagesRendered: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pages_rendered_total",
			Help:      "Pages converted from markdown",
		}),
		pagesRecomposed: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "pages_recomposed_total",
			Help:      "Pages wrapped in the layout template",
		}),
		cacheHits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Build cache hits by cache",
		}, []string{"cache"}),
		reloadClients: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "livereload_clients",
			Help:      "Connected live reload clients",
		}),
		reloadBroadcasts: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "livereload_broadcasts_total",
			Help:      "Reload notifications sent after successful builds",
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.buildOutcome, pr.pagesRendered,
		pr.pagesRecomposed, pr.cacheHits, pr.reloadClients, pr.reloadBroadcasts)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(mode string, d time.Duration) {
	p.buildDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome OutcomeLabel) {
	p.buildOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddPagesRendered(n int) { p.pagesRendered.Add(float64(n)) }

func (p *PrometheusRecorder) AddPagesRecomposed(n int) { p.pagesRecomposed.Add(float64(n)) }

func (p *PrometheusRecorder) AddCacheHits(cache CacheLabel, n int) {
	p.cacheHits.WithLabelValues(string(cache)).Add(float64(n))
}

func (p *PrometheusRecorder) SetReloadClients(n int) { p.reloadClients.Set(float64(n)) }

func (p *PrometheusRecorder) IncReloadBroadcast() { p.reloadBroadcasts.Inc() }
