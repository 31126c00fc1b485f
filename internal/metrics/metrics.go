package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "windwatts_requests_total",
		Help: "Total number of /api/windwatts requests",
	})
	RequestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "windwatts_request_duration_ms",
		Help:    "Request duration in milliseconds",
		Buckets: []float64{5, 20, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})
	QueriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "windwatts_athena_queries_total",
		Help: "Total Athena query executions by terminal state",
	}, []string{"state"})
	QueryDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "windwatts_athena_query_duration_ms",
		Help:    "Athena query wall time (submit to terminal state) in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
	})
	QueryPollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "windwatts_athena_polls_total",
		Help: "Total status polls against pending Athena executions",
	})
	AggregateHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "windwatts_aggregate_cache_hits_total",
		Help: "Aggregate requests answered from the in-process memo",
	})
	AggregateMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "windwatts_aggregate_cache_misses_total",
		Help: "Aggregate requests that required a remote fetch or recompute",
	})
	RedisHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "windwatts_redis_hits_total",
		Help: "Total redis response cache hits",
	})
	RedisMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "windwatts_redis_misses_total",
		Help: "Total redis response cache misses",
	})
	DownloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "windwatts_downloads_total",
		Help: "Total artifact downloads attempted",
	})
	DownloadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "windwatts_download_failures_total",
		Help: "Total artifact downloads skipped after an error",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(QueryPollsTotal)
	prometheus.MustRegister(AggregateHitsTotal)
	prometheus.MustRegister(AggregateMissesTotal)
	prometheus.MustRegister(RedisHitsTotal)
	prometheus.MustRegister(RedisMissesTotal)
	prometheus.MustRegister(DownloadsTotal)
	prometheus.MustRegister(DownloadFailuresTotal)
}

// Handler：暴露 /metrics
func Handler() http.Handler { return promhttp.Handler() }
