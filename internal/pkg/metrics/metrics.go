package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 监控引擎的 Prometheus 指标。
var (
	// WatchCheckDuration 单个监控检查耗时分布。
	WatchCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vintedwatch",
		Name:      "watch_check_duration_seconds",
		Help:      "Duration of a single watch check (fetch + ingest + stats + detect).",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// APIRequestsTotal 上游目录 API 请求计数，按结果分类。
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vintedwatch",
		Name:      "api_requests_total",
		Help:      "Upstream catalog API requests by outcome.",
	}, []string{"outcome"})

	// PagesFetchedTotal 抓取页数计数。
	PagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vintedwatch",
		Name:      "pages_fetched_total",
		Help:      "Catalog pages fetched.",
	})

	// ItemsIngestedTotal 入库商品计数，按 new/refreshed/blacklisted/skipped 分类。
	ItemsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vintedwatch",
		Name:      "items_ingested_total",
		Help:      "Items ingested by kind.",
	}, []string{"kind"})

	// AlertsGeneratedTotal 新产生的捡漏告警计数。
	AlertsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vintedwatch",
		Name:      "alerts_generated_total",
		Help:      "Underprice alerts created.",
	})

	// AlertEmailsTotal 告警邮件发送计数，按结果分类。
	AlertEmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vintedwatch",
		Name:      "alert_emails_total",
		Help:      "Alert notification emails by outcome.",
	}, []string{"outcome"})

	// UpstreamBlocked 当前封锁状态 (0/1)。
	UpstreamBlocked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vintedwatch",
		Name:      "upstream_blocked",
		Help:      "Whether the upstream is considered blocked (1) or not (0).",
	})

	// ConsecutiveFailures 连续失败次数。
	ConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vintedwatch",
		Name:      "consecutive_failures",
		Help:      "Consecutive upstream failures recorded by the blocking tracker.",
	})

	// QueueDepth 内存任务队列深度。
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vintedwatch",
		Name:      "queue_depth",
		Help:      "Pending jobs in the in-process check queue.",
	})

	// RateLimitWaitDuration 限流等待耗时分布。
	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vintedwatch",
		Name:      "ratelimit_wait_duration_seconds",
		Help:      "Time spent waiting for the upstream rate limiter.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// RateLimitTimeoutTotal 限流等待被取消/超时的次数。
	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vintedwatch",
		Name:      "ratelimit_timeout_total",
		Help:      "Rate limiter waits abandoned due to context cancellation.",
	})
)
