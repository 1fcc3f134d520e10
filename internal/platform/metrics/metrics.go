package metrics

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todoapi_http_requests_total",
		Help: "HTTP requests served, by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "todoapi_http_request_duration_seconds",
		Help:    "HTTP request latency, by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todoapi_store_errors_total",
		Help: "Store operations that returned an error, by operation.",
	}, []string{"op"})

	ListCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "todoapi_list_cache_hits_total",
		Help: "List requests answered from the cache.",
	})

	ListCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "todoapi_list_cache_misses_total",
		Help: "List requests that fell through to the store.",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todoapi_events_published_total",
		Help: "Change-feed events published, by event type.",
	}, []string{"type"})

	EventsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "todoapi_events_failed_total",
		Help: "Change-feed publishes that failed, by event type.",
	}, []string{"type"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterPool exposes the live pgxpool counters so saturation of the
// five-connection bound is visible without touching the database.
func RegisterPool(pool *pgxpool.Pool) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "todoapi_db_pool_acquired_conns",
		Help: "Connections currently checked out of the pool.",
	}, func() float64 {
		return float64(pool.Stat().AcquiredConns())
	})
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "todoapi_db_pool_idle_conns",
		Help: "Idle connections held by the pool.",
	}, func() float64 {
		return float64(pool.Stat().IdleConns())
	})
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "todoapi_db_pool_total_conns",
		Help: "Open connections held by the pool.",
	}, func() float64 {
		return float64(pool.Stat().TotalConns())
	})
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "todoapi_db_pool_max_conns",
		Help: "Configured upper bound on pool connections.",
	}, func() float64 {
		return float64(pool.Stat().MaxConns())
	})
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Name: "todoapi_db_pool_empty_acquires_total",
		Help: "Acquires that had to wait because the pool was exhausted.",
	}, func() float64 {
		return float64(pool.Stat().EmptyAcquireCount())
	})
}
