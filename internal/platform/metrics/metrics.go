package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// once 用来保证指标只注册一次。
	// Prometheus 的 registry 不允许重复注册同名指标，否则会直接 panic。
	once sync.Once

	// HTTPRequestsTotal：sidecar 累计请求数（Counter）。
	//
	// labels：
	// - method：HTTP 方法
	// - route：路由模板（chi 的 RoutePattern，不要用真实 path，否则会产生无限 label）
	// - status：HTTP 状态码字符串
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "HTTP请求的总数",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds：请求耗时分布（Histogram），用于算 P95/P99。
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// HTTPInflightRequests：当前正在处理中的请求数（Gauge）。
	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Resolutions：pipeline 解析次数。
	//
	// outcome：handled / failed / no_handler
	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applinks_resolutions_total",
			Help: "Link resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	// ResolutionDurationSeconds：由 timing stage 记录的整条链耗时。
	ResolutionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "applinks_resolution_duration_seconds",
			Help:    "Time spent running the resolution pipeline.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// APIRequests：对远端解析服务的调用。
	//
	// op：retrieve / visit / create
	// status：HTTP 状态码字符串，传输失败为 "network"
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applinks_api_requests_total",
			Help: "Calls made to the link resolution service.",
		},
		[]string{"op", "status"},
	)

	// DeferredOutcomes：首次启动延迟解析的终态分布。
	DeferredOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applinks_deferred_outcomes_total",
			Help: "Deferred resolution attempts by terminal state.",
		},
		[]string{"state"},
	)

	// ListenerDeliveries：kind = result / error / replay / job
	ListenerDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applinks_listener_deliveries_total",
			Help: "Items handed to listeners.",
		},
		[]string{"kind"},
	)

	// PendingDropped：没有 listener 时缓冲区满，被丢弃的最旧条目数。
	PendingDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "applinks_pending_dropped_total",
			Help: "Buffered deliveries dropped because the pending buffer was full.",
		},
	)

	// LinkCacheOperations：retrieve 缓存命中情况。
	//
	// layer：l1 / l2
	// result：hit / miss
	LinkCacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applinks_link_cache_operations_total",
			Help: "Retrieve-by-url cache lookups.",
		},
		[]string{"layer", "result"},
	)

	// StatsEvents：解析统计事件的去向。
	//
	// transport：channel / kafka / redis
	// result：sent / dropped / written / write_failed
	StatsEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applinks_stats_events_total",
			Help: "Resolution stats events by transport and outcome.",
		},
		[]string{"transport", "result"},
	)
)

// Init 注册指标：只允许注册一次（否则 panic: duplicate metrics collector registration）
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			Resolutions,
			ResolutionDurationSeconds,
			APIRequests,
			DeferredOutcomes,
			ListenerDeliveries,
			PendingDropped,
			LinkCacheOperations,
			StatsEvents,
		)
	})
}
