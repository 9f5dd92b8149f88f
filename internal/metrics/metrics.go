package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "questionextractor"

var (
	extractionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_started_total",
			Help:      "Extractions accepted and handed to a worker",
		},
	)

	extractionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_finished_total",
			Help:      "Extractions that reached a terminal state, by result (completed, failed)",
		},
		[]string{"result"},
	)

	extractionsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "extractions_inflight",
			Help:      "Extractions currently in progress",
		},
	)

	extractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Wall time of an extraction from start to terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"result"},
	)

	pagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_processed_total",
			Help:      "Pages processed by result (success, failed)",
		},
		[]string{"result"},
	)

	questionsExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_extracted_total",
			Help:      "Questions parsed out of model responses",
		},
	)

	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Model requests by model and result",
		},
		[]string{"model", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of model requests by model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	providerTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens reported by the model API, by direction (in, out)",
		},
		[]string{"direction"},
	)

	registrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_tasks",
			Help:      "Tasks held in the in-memory registry",
		},
	)

	uploadsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Submissions rejected at the boundary, by reason",
		},
		[]string{"reason"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(
		extractionsStarted, extractionsFinished, extractionsInflight, extractionDuration,
		pagesProcessed, questionsExtracted, providerReqs, providerLatency, providerTokens,
		registrySize, uploadsRejected,
	)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ExtractionStarted() {
	extractionsStarted.Inc()
	extractionsInflight.Inc()
}

func ExtractionFinished(result string, dur time.Duration) {
	extractionsFinished.WithLabelValues(result).Inc()
	extractionDuration.WithLabelValues(result).Observe(dur.Seconds())
	extractionsInflight.Dec()
}

func IncPage(result string)     { pagesProcessed.WithLabelValues(result).Inc() }
func AddQuestions(n int)        { questionsExtracted.Add(float64(n)) }
func SetRegistrySize(n int)     { registrySize.Set(float64(n)) }
func IncRejected(reason string) { uploadsRejected.WithLabelValues(reason).Inc() }

func ObserveProvider(model, result string, dur time.Duration) {
	providerReqs.WithLabelValues(model, result).Inc()
	providerLatency.WithLabelValues(model).Observe(dur.Seconds())
}

func AddTokens(in, out int) {
	providerTokens.WithLabelValues("in").Add(float64(in))
	providerTokens.WithLabelValues("out").Add(float64(out))
}
