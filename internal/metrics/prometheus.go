package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_ask_duration_seconds",
			Help:    "Question answering duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status"},
	)

	AskTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_ask_total",
			Help: "Total number of questions processed",
		},
		[]string{"status"},
	)

	ContextTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_context_tokens",
			Help:    "Estimated prompt tokens sent to the answering model",
			Buckets: []float64{250, 500, 1000, 2000, 4000, 8000},
		},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docqa_retrieved_chunks",
			Help:    "Number of chunks retrieved per question",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	ModelAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_model_attempts_total",
			Help: "Model attempts by outcome",
		},
		[]string{"model", "status"},
	)

	ModelAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_model_attempt_duration_seconds",
			Help:    "Duration of a single model attempt",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"model"},
	)

	FailoverExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_failover_exhausted_total",
			Help: "Questions for which every configured model failed",
		},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_documents_processed_total",
			Help: "Total uploads processed",
		},
		[]string{"type", "status"},
	)

	IndexedChunks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docqa_indexed_chunks",
			Help: "Chunks currently in the index",
		},
	)

	IndexedDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docqa_indexed_documents",
			Help: "Documents currently registered",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			AskDuration,
			AskTotal,
			ContextTokens,
			RetrievedChunks,
			ModelAttempts,
			ModelAttemptDuration,
			FailoverExhausted,
			DocumentsProcessed,
			IndexedChunks,
			IndexedDocuments,
			CacheHits,
			CacheMisses,
			RateLimited,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
