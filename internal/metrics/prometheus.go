// Package metrics 节点运行指标（Prometheus）
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuffersPublished 发布到 EventBus 的 Buffer 数
	BuffersPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_node_buffers_published_total",
			Help: "Total number of sample buffers published to subscribers",
		},
	)

	// SpuriousInterrupts FIFO 长度不符被丢弃的中断
	SpuriousInterrupts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_node_spurious_interrupts_total",
			Help: "Interrupts discarded because the FIFO did not hold a full buffer",
		},
	)

	// SamplerTimeouts 等待中断超时次数
	SamplerTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_node_sampler_timeouts_total",
			Help: "Times the sampling task saw no interrupt within the wait timeout",
		},
	)

	// EventsDropped 订阅队列满被丢弃的事件
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_node_events_dropped_total",
			Help: "Buffers dropped because a subscriber queue was full",
		},
		[]string{"subscriber"},
	)

	// ActivityState 当前活动状态（0 unknown, 1 inactive, 2 active）
	ActivityState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensor_node_activity_state",
			Help: "Current activity state (0 unknown, 1 inactive, 2 active)",
		},
	)

	// ActivityMetric 最近一次的 p90-p10 区间和
	ActivityMetric = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensor_node_activity_metric_mg",
			Help: "Latest x+y percentile range metric in milli-g",
		},
	)

	// StatusPushes 状态推送结果
	StatusPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_node_status_pushes_total",
			Help: "Status pushes by result",
		},
		[]string{"result"},
	)

	// RingAppends 环形存储写入结果
	RingAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_node_ring_appends_total",
			Help: "Ring buffer appends by result",
		},
		[]string{"result"},
	)

	// RingOccupiedBytes 环形存储占用字节
	RingOccupiedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensor_node_ring_occupied_bytes",
			Help: "Bytes buffered in the ring and not yet flushed",
		},
	)

	// Flushes flush 结果
	Flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensor_node_flushes_total",
			Help: "Telemetry flush attempts by result",
		},
		[]string{"result"},
	)

	// FlushedBytes 已上传的遥测字节
	FlushedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensor_node_flushed_bytes_total",
			Help: "Telemetry bytes delivered to the collector",
		},
	)

	// SessionRefs 当前网络会话引用数
	SessionRefs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensor_node_session_refs",
			Help: "Current reference count of the network session",
		},
	)

	// SessionConnectDuration 建立网络会话耗时
	SessionConnectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensor_node_session_connect_seconds",
			Help:    "Time spent establishing the network session",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
	)
)

// 结果标签
const (
	ResultOK       = "ok"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
	ResultSkipped  = "skipped"
)
