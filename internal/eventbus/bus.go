// Package eventbus 把采样 Buffer 分发给多个独立订阅者
//
// 每个订阅者有自己的有界队列和 goroutine，慢订阅者不会阻塞其他订阅者或生产者。
// 队列满时丢弃新事件（保留队列中已有的数据），生产者最多等待 PublishTimeout。
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overwasher/sensor-node/internal/metrics"
	"github.com/overwasher/sensor-node/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrStarted 启动之后不允许再订阅
	ErrStarted = errors.New("event bus already started")
	// ErrClosed 总线已关闭
	ErrClosed = errors.New("event bus closed")
)

// Handler 订阅回调，buf 只读
type Handler func(buf *models.Buffer)

// SubscriberStats 订阅者统计
type SubscriberStats = models.QueueStats

type subscriber struct {
	name      string
	queue     chan *models.Buffer
	handler   Handler
	delivered atomic.Int64
	dropped   atomic.Int64
}

// Bus 单生产者、多订阅者的事件总线
type Bus struct {
	mu             sync.RWMutex
	subs           []*subscriber
	started        bool
	closed         bool
	publishTimeout time.Duration
	wg             sync.WaitGroup
	logger         *zap.Logger
}

// NewBus 创建事件总线
func NewBus(publishTimeout time.Duration, logger *zap.Logger) *Bus {
	return &Bus{
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

// Subscribe 注册订阅者，必须在 Start 之前调用
func (b *Bus) Subscribe(name string, queueSize int, h Handler) error {
	if queueSize <= 0 {
		return fmt.Errorf("queue size for %s must be positive", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrStarted
	}
	for _, s := range b.subs {
		if s.name == name {
			return fmt.Errorf("subscriber %s already registered", name)
		}
	}

	b.subs = append(b.subs, &subscriber{
		name:    name,
		queue:   make(chan *models.Buffer, queueSize),
		handler: h,
	})
	return nil
}

// Start 为每个订阅者启动处理 goroutine
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.started {
		return ErrStarted
	}
	b.started = true

	for _, s := range b.subs {
		b.wg.Add(1)
		go b.run(ctx, s)
	}

	b.logger.Info("Event bus started", zap.Int("subscribers", len(b.subs)))
	return nil
}

// Publish 把 buf 投递给所有订阅者，返回成功入队的订阅者数量
func (b *Bus) Publish(buf *models.Buffer) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	accepted := 0
	for _, s := range b.subs {
		if b.enqueue(s, buf) {
			accepted++
			continue
		}

		s.dropped.Add(1)
		metrics.EventsDropped.WithLabelValues(s.name).Inc()
		b.logger.Warn("Subscriber queue full, dropping buffer",
			zap.String("subscriber", s.name),
			zap.Int64("buffer_timestamp", buf.Timestamp),
			zap.Int64("dropped_total", s.dropped.Load()),
		)
	}
	return accepted
}

// Stats 各订阅者的统计快照
func (b *Bus) Stats() map[string]SubscriberStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]SubscriberStats, len(b.subs))
	for _, s := range b.subs {
		out[s.name] = SubscriberStats{
			Delivered: s.delivered.Load(),
			Dropped:   s.dropped.Load(),
			Queued:    len(s.queue),
		}
	}
	return out
}

// Close 停止接收新事件并等待所有订阅者退出
// 队列中尚未处理的事件会被处理完
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("Event bus stopped")
}

func (b *Bus) enqueue(s *subscriber, buf *models.Buffer) bool {
	select {
	case s.queue <- buf:
		return true
	default:
	}

	if b.publishTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()
	select {
	case s.queue <- buf:
		return true
	case <-timer.C:
		return false
	}
}

func (b *Bus) run(ctx context.Context, s *subscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case buf, ok := <-s.queue:
			if !ok {
				return
			}
			b.dispatch(s, buf)
		}
	}
}

func (b *Bus) dispatch(s *subscriber, buf *models.Buffer) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Subscriber panicked",
				zap.String("subscriber", s.name),
				zap.Any("panic", r),
			)
		}
	}()

	s.handler(buf)
	s.delivered.Add(1)
}
