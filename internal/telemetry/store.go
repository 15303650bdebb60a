// Package telemetry 把采样 Buffer 追加到持久化环形区域，并在水位达到阈值时
// 由 flush 任务整段上传、擦除、推进 head
//
// 区域满时拒绝写入（ErrRegionFull），不会覆盖未发送的数据；始终保留一个空槽，
// head == tail 只表示空。
package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/overwasher/sensor-node/internal/config"
	"github.com/overwasher/sensor-node/internal/flash"
	"github.com/overwasher/sensor-node/internal/metrics"
	"github.com/overwasher/sensor-node/internal/models"
	"github.com/overwasher/sensor-node/internal/session"

	"go.uber.org/zap"
)

var (
	// ErrRegionFull 区域已满，新 Buffer 被拒绝
	ErrRegionFull = errors.New("telemetry region full")
	// ErrVerifyMismatch 写后校验不一致，介质故障
	ErrVerifyMismatch = errors.New("telemetry write verification mismatch")
	// ErrBufferTooLarge Buffer 放不进一个槽位
	ErrBufferTooLarge = errors.New("buffer larger than ring slot")
)

// TelemetrySender 遥测上行
// 负责把 [head, tail) 按环形顺序整段发送
type TelemetrySender interface {
	SendTelemetry(ctx context.Context, view flash.View, capacity, head, tail int) error
}

// Store 遥测环形存储
type Store struct {
	config   *config.Config
	medium   flash.Medium
	ring     *Ring
	sessions *session.Manager
	sender   TelemetrySender
	logger   *zap.Logger

	// flush 边界，写入对齐与擦除粒度中较大者
	flushAlign int
	flushReq   chan struct{}
	flushMu    sync.Mutex
}

// NewStore 创建环形存储，介质容量必须与配置一致
func NewStore(
	cfg *config.Config,
	medium flash.Medium,
	sessions *session.Manager,
	sender TelemetrySender,
	logger *zap.Logger,
) (*Store, error) {
	if medium.Size() != cfg.Telemetry.Capacity {
		return nil, fmt.Errorf("medium size %d does not match telemetry capacity %d", medium.Size(), cfg.Telemetry.Capacity)
	}
	return &Store{
		config:     cfg,
		medium:     medium,
		ring:       NewRing(cfg.Telemetry.Capacity, cfg.Telemetry.Alignment),
		sessions:   sessions,
		sender:     sender,
		logger:     logger,
		flushAlign: cfg.FlushAlignment(),
		flushReq:   make(chan struct{}, 1),
	}, nil
}

// Reset 擦除整个区域并清空游标，启动时调用
// 游标只保存在内存中，重启前未发送的数据不会保留
func (s *Store) Reset() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.medium.Erase(0, s.medium.Size()); err != nil {
		return fmt.Errorf("failed to erase telemetry region: %w", err)
	}
	s.ring.storeHead(0)
	s.ring.tail.Store(0)
	metrics.RingOccupiedBytes.Set(0)

	s.logger.Info("Telemetry region initialized",
		zap.Int("capacity", s.ring.Capacity()),
		zap.Int("alignment", s.ring.Alignment()),
		zap.Int("flush_alignment", s.flushAlign),
	)
	return nil
}

// Ring 游标
func (s *Store) Ring() *Ring { return s.ring }

// View 区域只读映射
func (s *Store) View() flash.View { return flash.NewView(s.medium) }

// OnBuffer EventBus 回调
func (s *Store) OnBuffer(buf *models.Buffer) {
	if err := s.Append(buf); err != nil {
		if errors.Is(err, ErrRegionFull) {
			return
		}
		s.logger.Error("Failed to append telemetry", zap.Int64("buffer_timestamp", buf.Timestamp), zap.Error(err))
	}
}

// Append 把 buf 写入 tail 所在槽位
func (s *Store) Append(buf *models.Buffer) error {
	data := buf.Encode()
	if len(data) > s.ring.Alignment() {
		metrics.RingAppends.WithLabelValues(metrics.ResultRejected).Inc()
		return fmt.Errorf("%w: %d bytes, slot %d", ErrBufferTooLarge, len(data), s.ring.Alignment())
	}

	if s.ring.Full() {
		metrics.RingAppends.WithLabelValues(metrics.ResultRejected).Inc()
		s.logger.Warn("Telemetry region full, rejecting buffer",
			zap.Int("head", s.ring.Head()),
			zap.Int("tail", s.ring.Tail()),
			zap.Int64("buffer_timestamp", buf.Timestamp),
		)
		s.RequestFlush()
		return ErrRegionFull
	}

	tail := s.ring.Tail()
	if s.medium.EraseBeforeWrite() && tail%s.flushAlign == 0 {
		if err := s.medium.Erase(tail, s.flushAlign); err != nil {
			metrics.RingAppends.WithLabelValues(metrics.ResultFailed).Inc()
			return fmt.Errorf("failed to erase slot at %d: %w", tail, err)
		}
	}

	if _, err := s.medium.WriteAt(data, int64(tail)); err != nil {
		metrics.RingAppends.WithLabelValues(metrics.ResultFailed).Inc()
		return fmt.Errorf("failed to write slot at %d: %w", tail, err)
	}

	if s.config.Telemetry.VerifyWrites {
		readback := make([]byte, len(data))
		if _, err := s.medium.ReadAt(readback, int64(tail)); err != nil {
			metrics.RingAppends.WithLabelValues(metrics.ResultFailed).Inc()
			return fmt.Errorf("failed to read back slot at %d: %w", tail, err)
		}
		if !bytes.Equal(readback, data) {
			metrics.RingAppends.WithLabelValues(metrics.ResultFailed).Inc()
			skipped := s.discardDirtySlot(tail)
			s.logger.Error("Telemetry write verification failed",
				zap.Int("offset", tail),
				zap.Bool("slot_skipped", skipped),
			)
			return fmt.Errorf("%w at offset %d", ErrVerifyMismatch, tail)
		}
	}

	s.ring.advanceTail()
	metrics.RingAppends.WithLabelValues(metrics.ResultOK).Inc()
	s.afterAdvance()
	return nil
}

// afterAdvance 更新水位，达到 C/A - R 个槽位时通知 flush
func (s *Store) afterAdvance() {
	metrics.RingOccupiedBytes.Set(float64(s.ring.Occupied()))
	if s.ring.OccupiedBuffers() >= s.ring.CapacityBuffers()-s.config.Telemetry.ReservedBuffers {
		s.RequestFlush()
	}
}

// discardDirtySlot 处理校验失败的槽位，返回是否跳过了该槽位
// 槽位在 flush 边界上时下次写入会重新擦除，tail 不动；否则同一擦除块里还有
// 未发送的数据，无法擦除，把槽位清零后跳过，避免后续写入落在已编程的字节上
func (s *Store) discardDirtySlot(tail int) bool {
	if !s.medium.EraseBeforeWrite() || tail%s.flushAlign == 0 {
		return false
	}
	if _, err := s.medium.WriteAt(make([]byte, s.ring.Alignment()), int64(tail)); err != nil {
		s.logger.Warn("Failed to clear dirty slot", zap.Int("offset", tail), zap.Error(err))
	}
	s.ring.advanceTail()
	s.afterAdvance()
	return true
}

// RequestFlush 通知 flush 任务，重复请求会合并
func (s *Store) RequestFlush() {
	select {
	case s.flushReq <- struct{}{}:
	default:
	}
}

// RunFlusher flush 任务
// 除水位通知外，配置了 FlushInterval 时定期尝试上传已缓存的数据
func (s *Store) RunFlusher(ctx context.Context) {
	var tick <-chan time.Time
	if s.config.Telemetry.FlushInterval > 0 {
		ticker := time.NewTicker(s.config.Telemetry.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.flushReq:
		case <-tick:
			if s.ring.Occupied() < s.flushAlign {
				continue
			}
		}

		if _, err := s.Flush(ctx); err != nil {
			s.logger.Warn("Telemetry flush failed, will retry on next trigger",
				zap.Int("head", s.ring.Head()),
				zap.Error(err),
			)
		}
	}
}

// Flush 上传 [head, flushTail) 并回收空间，返回发送的字节数
// 失败时 head 不变，下一次 flush 重发同一范围
func (s *Store) Flush(ctx context.Context) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	head := s.ring.Head()
	tail := s.ring.Tail()
	flushTail := tail - tail%s.flushAlign
	if flushTail == head {
		metrics.Flushes.WithLabelValues(metrics.ResultSkipped).Inc()
		return 0, nil
	}
	size := s.ring.occupied(head, flushTail)

	guard, err := s.sessions.Acquire(ctx)
	if err != nil {
		metrics.Flushes.WithLabelValues(metrics.ResultSkipped).Inc()
		return 0, fmt.Errorf("failed to acquire network session: %w", err)
	}
	defer guard.Release()

	if err := s.sender.SendTelemetry(ctx, s.View(), s.ring.Capacity(), head, flushTail); err != nil {
		metrics.Flushes.WithLabelValues(metrics.ResultFailed).Inc()
		return 0, fmt.Errorf("failed to send telemetry: %w", err)
	}

	var eraseErr error
	for _, span := range flash.Split(head, flushTail, s.ring.Capacity()) {
		if err := s.medium.Erase(span.Off, span.Len); err != nil {
			eraseErr = fmt.Errorf("failed to erase flushed span [%d, %d): %w", span.Off, span.End(), err)
			s.logger.Error("Failed to erase flushed span", zap.Int("offset", span.Off), zap.Int("length", span.Len), zap.Error(err))
		}
	}
	s.ring.storeHead(flushTail)

	metrics.Flushes.WithLabelValues(metrics.ResultOK).Inc()
	metrics.FlushedBytes.Add(float64(size))
	metrics.RingOccupiedBytes.Set(float64(s.ring.Occupied()))

	s.logger.Info("Telemetry flushed",
		zap.Int("bytes", size),
		zap.Int("head", flushTail),
		zap.Int("tail", s.ring.Tail()),
	)
	return size, eraseErr
}
