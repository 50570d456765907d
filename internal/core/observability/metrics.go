package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roughness_runs_total",
			Help: "Pipeline runs by roughness class and outcome.",
		},
		[]string{"class", "outcome"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roughness_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4m
		},
		[]string{"stage"},
	)

	toolCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roughness_tool_call_duration_seconds",
			Help:    "Duration of geospatial tool calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		},
		[]string{"tool", "outcome"},
	)

	lookupRowsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roughness_lookup_rows_skipped_total",
			Help: "Malformed lookup table rows that were skipped.",
		},
		[]string{"file"},
	)

	runCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "run_cache_results_total",
			Help: "Run cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis cache operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	redisOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Land-cover invalidation events by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roughness_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		runsTotal, stageDurationSeconds, toolCallDurationSeconds, lookupRowsSkipped,
		runCacheResults, cacheOps, redisOpDurationSeconds,
		invalidationEvents, buildInfo,
	}
}

var defaultOnce sync.Once

// Init registers the collectors with reg. Registering twice with the same
// registry is a no-op.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

// InitDefault registers with the global registry once, for binaries that
// serve promhttp.Handler().
func InitDefault() {
	defaultOnce.Do(func() { Init(prometheus.DefaultRegisterer) })
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveRun(class, outcome string) {
	runsTotal.WithLabelValues(class, outcome).Inc()
}

func ObserveStage(stage string, durationSeconds float64) {
	stageDurationSeconds.WithLabelValues(stage).Observe(durationSeconds)
}

func ObserveToolCall(tool, outcome string, durationSeconds float64) {
	toolCallDurationSeconds.WithLabelValues(tool, outcome).Observe(durationSeconds)
}

func AddLookupRowsSkipped(file string, n int) {
	if n <= 0 {
		return
	}
	lookupRowsSkipped.WithLabelValues(file).Add(float64(n))
}

func IncRunCacheHit()   { runCacheResults.WithLabelValues("hit").Inc() }
func IncRunCacheMiss()  { runCacheResults.WithLabelValues("miss").Inc() }
func IncRunCacheStale() { runCacheResults.WithLabelValues("stale").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOps.WithLabelValues(op, outcome).Inc()
	redisOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncInvalidation(op, outcome string) {
	invalidationEvents.WithLabelValues(op, outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
