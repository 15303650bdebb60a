// Package activity 根据加速度区间判断被监测设备是否在工作
//
// 每个 Buffer 得到一个瞬时判定，放入长度 W 的滑动窗口；窗口填满后
// 以窗口内活跃次数是否超过 BiasThreshold 决定状态，状态变化或超过
// UpdateInterval 未推送时通知发送任务。
package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overwasher/sensor-node/internal/config"
	"github.com/overwasher/sensor-node/internal/metrics"
	"github.com/overwasher/sensor-node/internal/models"
	"github.com/overwasher/sensor-node/internal/session"

	"go.uber.org/zap"
)

// StatusSender 状态上行
type StatusSender interface {
	SendStatus(ctx context.Context, active bool) error
}

// TransitionRecorder 记录状态变化，可选
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, nodeID string, status models.Status) error
}

// Classifier 活动状态分类器
// OnBuffer 只在一个订阅 goroutine 中调用，窗口和当前状态不需要加锁
type Classifier struct {
	config   *config.Config
	sessions *session.Manager
	sender   StatusSender
	recorder TransitionRecorder
	logger   *zap.Logger

	window   *Window
	current  models.ActivityState
	lastPush time.Time
	now      func() time.Time

	state    atomic.Int32
	snapshot atomic.Pointer[models.Status]
	signal   chan struct{}

	// 待写入日志的状态变化，按发生顺序；只有发送任务读取 lastSent
	pendingMu sync.Mutex
	pending   []models.Status
	lastSent  *models.Status
}

// maxPendingTransitions 日志写入积压上限，超出时丢弃最旧的记录
const maxPendingTransitions = 64

// NewClassifier 创建分类器，recorder 可为 nil
func NewClassifier(
	cfg *config.Config,
	sessions *session.Manager,
	sender StatusSender,
	recorder TransitionRecorder,
	logger *zap.Logger,
) *Classifier {
	return &Classifier{
		config:   cfg,
		sessions: sessions,
		sender:   sender,
		recorder: recorder,
		logger:   logger,
		window:   NewWindow(cfg.Activity.Window),
		now:      time.Now,
		signal:   make(chan struct{}, 1),
	}
}

// OnBuffer EventBus 回调
func (c *Classifier) OnBuffer(buf *models.Buffer) {
	metric := RangeMetric(buf.Frames)
	metrics.ActivityMetric.Set(float64(metric))
	c.observe(metric > c.config.Activity.AccelThreshold, metric)
}

// observe 推入一次瞬时判定，返回是否触发了推送
func (c *Classifier) observe(instantaneous bool, metric int) bool {
	c.window.Push(instantaneous)
	if !c.window.Primed() {
		return false
	}

	candidate := models.StateInactive
	if c.window.Count() > c.config.Activity.BiasThreshold {
		candidate = models.StateActive
	}

	now := c.now()
	if candidate == c.current && now.Sub(c.lastPush) <= c.config.Activity.UpdateInterval {
		return false
	}

	status := &models.Status{
		State:       candidate,
		Previous:    c.current,
		Metric:      metric,
		ActiveCount: c.window.Count(),
		ObservedAt:  now,
	}
	if status.Changed() {
		c.logger.Info("Activity state changed",
			zap.String("from", c.current.String()),
			zap.String("to", candidate.String()),
			zap.Int("active_count", status.ActiveCount),
			zap.Int("metric", metric),
		)
	}

	c.current = candidate
	c.lastPush = now
	c.state.Store(int32(candidate))
	if status.Changed() && c.recorder != nil {
		c.enqueueTransition(*status)
	}
	c.snapshot.Store(status)
	metrics.ActivityState.Set(float64(candidate))

	select {
	case c.signal <- struct{}{}:
	default:
	}
	return true
}

// State 当前状态，可在任意 goroutine 调用
func (c *Classifier) State() models.ActivityState {
	return models.ActivityState(c.state.Load())
}

// Status 最近一次推送的状态快照，窗口未填满前为 nil
func (c *Classifier) Status() *models.Status {
	return c.snapshot.Load()
}

// RunSender 发送任务：等待通知，推送最新状态
// 推送失败只记日志，下一次状态变化或定时重推时再发送
func (c *Classifier) RunSender(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.signal:
		}
		c.drain(ctx)
	}
}

// drain 写入积压的状态变化，再推送尚未发送过的最新快照
// 通知合并后可能多唤醒一次，同一快照只推送一次
func (c *Classifier) drain(ctx context.Context) {
	for _, st := range c.takeTransitions() {
		if err := c.recorder.RecordTransition(ctx, c.config.Node.ID, st); err != nil {
			c.logger.Warn("Failed to record activity transition", zap.Error(err))
		}
	}

	status := c.snapshot.Load()
	if status == nil || status == c.lastSent {
		return
	}
	c.lastSent = status
	c.push(ctx, status)
}

func (c *Classifier) enqueueTransition(st models.Status) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if len(c.pending) >= maxPendingTransitions {
		c.logger.Warn("Transition journal backlog full, dropping oldest",
			zap.String("dropped_state", c.pending[0].State.String()),
		)
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, st)
}

func (c *Classifier) takeTransitions() []models.Status {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (c *Classifier) push(ctx context.Context, status *models.Status) {
	guard, err := c.sessions.Acquire(ctx)
	if err != nil {
		metrics.StatusPushes.WithLabelValues(metrics.ResultSkipped).Inc()
		c.logger.Warn("No network session, dropping status push",
			zap.String("state", status.State.String()),
			zap.Error(err),
		)
		return
	}
	defer guard.Release()

	if err := c.sender.SendStatus(ctx, status.State == models.StateActive); err != nil {
		metrics.StatusPushes.WithLabelValues(metrics.ResultFailed).Inc()
		c.logger.Warn("Failed to push status",
			zap.String("state", status.State.String()),
			zap.Error(err),
		)
		return
	}
	metrics.StatusPushes.WithLabelValues(metrics.ResultOK).Inc()
	c.logger.Debug("Status pushed", zap.String("state", status.State.String()))
}
