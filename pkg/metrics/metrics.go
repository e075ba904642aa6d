package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tome_api_requests_total",
			Help: "Total number of API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tome_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Ingestion metrics
	DocumentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tome_documents_total",
			Help: "Total number of documents by processing status",
		},
		[]string{"status"},
	)

	ChunksIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tome_chunks_ingested_total",
			Help: "Total number of chunks written by the ingestion pipeline",
		},
	)

	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tome_ingest_duration_seconds",
			Help:    "Ingestion pipeline stage duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	EmbeddingCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tome_embedding_cache_hits_total",
			Help: "Total number of chunk embeddings served from the content-addressed cache",
		},
	)

	// Query metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tome_queries_total",
			Help: "Total number of queries by classified intent",
		},
		[]string{"intent"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tome_query_duration_seconds",
			Help:    "Query pipeline stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	QueryCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tome_query_cache_hits_total",
			Help: "Total number of query responses served from cache",
		},
	)

	LLMFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tome_llm_failures_total",
			Help: "Total number of LLM calls that exhausted their retry budget",
		},
	)

	// Scraper metrics
	ScrapePagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tome_scrape_pages_total",
			Help: "Total number of crawled pages by outcome",
		},
		[]string{"outcome"},
	)

	ScrapeFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tome_scrape_fetch_duration_seconds",
			Help:    "Page fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Connector metrics
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tome_sync_runs_total",
			Help: "Total number of connector sync runs by connector type and outcome",
		},
		[]string{"type", "status"},
	)

	// Vector index metrics
	IndexVectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tome_index_vectors_total",
			Help: "Total number of vectors held across all tenant indices",
		},
	)

	IndexSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tome_index_search_duration_seconds",
			Help:    "Vector index search duration in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	IndexRebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tome_index_rebuilds_total",
			Help: "Total number of tenant index rebuilds triggered by drift detection",
		},
	)

	// Job queue metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tome_jobs_total",
			Help: "Total number of background jobs by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	JobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tome_job_queue_depth",
			Help: "Number of jobs currently pending in the durable queue",
		},
	)

	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tome_sessions_active",
			Help: "Number of chat sessions active in the last hour",
		},
	)

	// Auth metrics
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tome_auth_failures_total",
			Help: "Total number of failed authentication attempts by reason",
		},
		[]string{"reason"},
	)

	SessionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tome_auth_sessions_opened_total",
			Help: "Total number of auth sessions opened by login or refresh",
		},
	)

	TokenReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tome_auth_token_replays_total",
			Help: "Total number of rotated refresh tokens presented again",
		},
	)

	// Dependency health metrics
	DependencyUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tome_dependency_up",
			Help: "Whether a dependency health check is passing (1) or failing (0)",
		},
		[]string{"component"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(DocumentsTotal)
	prometheus.MustRegister(ChunksIngested)
	prometheus.MustRegister(IngestDuration)
	prometheus.MustRegister(EmbeddingCacheHits)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryCacheHits)
	prometheus.MustRegister(LLMFailures)
	prometheus.MustRegister(ScrapePagesTotal)
	prometheus.MustRegister(ScrapeFetchDuration)
	prometheus.MustRegister(SyncRunsTotal)
	prometheus.MustRegister(IndexVectors)
	prometheus.MustRegister(IndexSearchDuration)
	prometheus.MustRegister(IndexRebuilds)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobQueueDepth)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(AuthFailures)
	prometheus.MustRegister(SessionsOpened)
	prometheus.MustRegister(TokenReplays)
	prometheus.MustRegister(DependencyUp)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
