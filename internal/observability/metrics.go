// Package observability holds the pipeline's Prometheus metrics and the
// OpenTelemetry tracer setup.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "listing_pipeline"

// Recorder records pipeline metrics. A nil Recorder records nothing.
type Recorder struct {
	stageDuration *prometheus.HistogramVec
	stageResults  *prometheus.CounterVec
	runs          *prometheus.CounterVec
	llmCost       prometheus.Counter
	llmTokens     *prometheus.CounterVec
}

// NewRecorder registers the pipeline metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"stage"}),
		stageResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Pipeline stage results by error kind (\"ok\" for success).",
		}, []string{"stage", "result"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status.",
		}, []string{"status"}),
		llmCost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated LLM spend in USD.",
		}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens by direction.",
		}, []string{"direction"}),
	}
}

// ObserveStage records one stage execution.
func (r *Recorder) ObserveStage(stage string, d time.Duration, result string) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	r.stageResults.WithLabelValues(stage, result).Inc()
}

// ObserveRun records the final status of a run.
func (r *Recorder) ObserveRun(status string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
}

// AddLLMUsage accumulates token counts and cost.
func (r *Recorder) AddLLMUsage(inputTokens, outputTokens int64, costUSD float64) {
	if r == nil {
		return
	}
	r.llmTokens.WithLabelValues("input").Add(float64(inputTokens))
	r.llmTokens.WithLabelValues("output").Add(float64(outputTokens))
	r.llmCost.Add(costUSD)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
