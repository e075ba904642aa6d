/*
Package metrics provides Prometheus metrics and health endpoints for Tome.

All collectors are package-level variables registered in init() and named
with the tome_ prefix. Components record into them directly; the Collector
samples aggregate gauges (document counts, queue depth, active sessions,
index size) from the store on a fixed interval.

# Metric Groups

	API        tome_api_requests_total, tome_api_request_duration_seconds
	Ingestion  tome_documents_total, tome_chunks_ingested_total,
	           tome_ingest_duration_seconds, tome_embedding_cache_hits_total
	Query      tome_queries_total, tome_query_duration_seconds,
	           tome_query_cache_hits_total, tome_llm_failures_total
	Scraper    tome_scrape_pages_total, tome_scrape_fetch_duration_seconds
	Index      tome_index_vectors_total, tome_index_search_duration_seconds
	Jobs       tome_jobs_total, tome_job_queue_depth
	Sessions   tome_sessions_active

# Usage

Recording a stage duration:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, "retrieve")

Counting outcomes:

	metrics.ScrapePagesTotal.WithLabelValues(string(page.Status)).Inc()

Serving the endpoints:

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())

Readiness requires the critical components (database, cache, object_store,
index) to have registered healthy; liveness only requires a running process.
*/
package metrics
