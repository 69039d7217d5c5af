package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crossposter"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	cycleDuration     *prom.HistogramVec
	cycleOutcomes     *prom.CounterVec
	items             *prom.CounterVec
	retries           *prom.CounterVec
	rateLimited       *prom.CounterVec
	consecutiveErrors *prom.GaugeVec
	swept             prom.Counter
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs and registers the metrics on reg (a fresh registry when nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		cycleDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of source cycles",
			Buckets:   prom.DefBuckets,
		}, []string{"source"}),
		cycleOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_outcomes_total",
			Help:      "Cycle outcomes by source and final status",
		}, []string{"source", "outcome"}),
		items: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Candidates handled by action",
		}, []string{"action"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "publish_retries_total",
			Help:      "Retries of destination calls after transient failures",
		}, []string{"source"}),
		rateLimited: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Pauses requested by the destination",
		}, []string{"source"}),
		consecutiveErrors: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "source_consecutive_errors",
			Help:      "Consecutive failed cycles per source",
		}, []string{"source"}),
		swept: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "edit_buffer_swept_total",
			Help:      "Edit buffer entries removed by the retention sweep",
		}),
	}
	reg.MustRegister(pr.cycleDuration, pr.cycleOutcomes, pr.items, pr.retries,
		pr.rateLimited, pr.consecutiveErrors, pr.swept)
	return pr
}

func (p *PrometheusRecorder) ObserveCycle(sourceID string, outcome OutcomeLabel, d time.Duration) {
	if p == nil {
		return
	}
	p.cycleDuration.WithLabelValues(sourceID).Observe(d.Seconds())
	p.cycleOutcomes.WithLabelValues(sourceID, string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddItems(action string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.items.WithLabelValues(action).Add(float64(n))
}

func (p *PrometheusRecorder) IncRetry(sourceID string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(sourceID).Inc()
}

func (p *PrometheusRecorder) IncRateLimited(sourceID string) {
	if p == nil {
		return
	}
	p.rateLimited.WithLabelValues(sourceID).Inc()
}

func (p *PrometheusRecorder) SetConsecutiveErrors(sourceID string, n int) {
	if p == nil {
		return
	}
	p.consecutiveErrors.WithLabelValues(sourceID).Set(float64(n))
}

func (p *PrometheusRecorder) AddSwept(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.swept.Add(float64(n))
}

// HTTPHandler serves the metrics gathered by reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
