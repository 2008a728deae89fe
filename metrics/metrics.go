// Package metrics provides Prometheus metrics for the dashboard sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dash"

var (
	// 推送数据源连接状态（1=已连接）
	FeedConnected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_connected",
		Help:      "推送数据源连接状态（1=已连接）",
	}, []string{"feed"})

	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_reconnects_total",
		Help:      "推送数据源重连次数",
	}, []string{"feed"})

	MalformedPayloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_payloads_total",
		Help:      "被丢弃的格式错误消息数",
	}, []string{"source"})

	PollFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_fetches_total",
		Help:      "轮询请求次数（按结果）",
	}, []string{"job", "result"})

	PollSkippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_skipped_ticks_total",
		Help:      "因上一请求未完成而跳过的轮询触发次数",
	}, []string{"job"})

	PollInterval = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "poll_interval_seconds",
		Help:      "当前轮询间隔（秒，含退避）",
	}, []string{"job"})

	PollJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "poll_jobs",
		Help:      "运行中的轮询任务数",
	})

	StoreMerges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_merges_total",
		Help:      "规范存储合并次数（按类型与结果）",
	}, []string{"kind", "result"})

	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_events_total",
		Help:      "数据源停止后到达而被丢弃的事件数",
	}, []string{"feed"})

	Notifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "向订阅者发出的通知数",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers",
		Help:      "当前订阅者数量",
	})

	SelectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "selection_changes_total",
		Help:      "选择状态变更次数（按操作）",
	}, []string{"op"})

	WidgetConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "widget_connections",
		Help:      "当前组件 websocket 连接数",
	})
)

// RecordPoll 记录一次轮询结果。
func RecordPoll(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PollFetches.WithLabelValues(job, result).Inc()
}

// RecordMerge 记录一次合并。
func RecordMerge(kind string, applied bool) {
	result := "applied"
	if !applied {
		result = "ignored"
	}
	StoreMerges.WithLabelValues(kind, result).Inc()
}

// SetFeedConnected 更新推送数据源连接状态。
func SetFeedConnected(feed string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	FeedConnected.WithLabelValues(feed).Set(v)
}

// Handler 返回 /metrics 处理器。
func Handler() http.Handler {
	return promhttp.Handler()
}
