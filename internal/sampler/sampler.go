// Package sampler 把 FIFO 就绪中断转换成采样任务的一次唤醒，
// 读取 FIFO、换算单位后发布 Buffer
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/overwasher/sensor-node/internal/config"
	"github.com/overwasher/sensor-node/internal/device"
	"github.com/overwasher/sensor-node/internal/metrics"
	"github.com/overwasher/sensor-node/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrDeviceUnreachable 初始化时设备无应答，启动失败
	ErrDeviceUnreachable = errors.New("sensor device unreachable")
	// ErrDeviceStalled 长时间无中断且重新初始化失败
	ErrDeviceStalled = errors.New("sensor device stalled")
)

// Publisher Buffer 的下游
type Publisher interface {
	Publish(buf *models.Buffer) int
}

// Sampler 采样任务
type Sampler struct {
	config *config.Config
	dev    device.SensorDevice
	line   device.InterruptLine
	out    Publisher
	logger *zap.Logger

	wake       chan struct{}
	frameBytes int
	raw        []byte
	boot       time.Time
	now        func() time.Time

	mismatches int
	timeouts   int
}

// NewSampler 创建采样任务
func NewSampler(
	cfg *config.Config,
	dev device.SensorDevice,
	line device.InterruptLine,
	out Publisher,
	logger *zap.Logger,
) *Sampler {
	frameBytes := cfg.FramesPerBuffer() * models.FrameSize
	return &Sampler{
		config:     cfg,
		dev:        dev,
		line:       line,
		out:        out,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		frameBytes: frameBytes,
		raw:        make([]byte, frameBytes),
		boot:       time.Now(),
		now:        time.Now,
	}
}

// NotifyReady 中断处理程序调用，只做一次非阻塞唤醒
func (s *Sampler) NotifyReady() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Init 配置设备并挂接中断
func (s *Sampler) Init() error {
	if err := s.dev.Init(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnreachable, err)
	}
	if !s.dev.TestConnection() {
		return ErrDeviceUnreachable
	}
	if err := s.dev.Configure(device.SampleRate(s.config.Device.SampleRate), device.Range16G, device.Filter42Hz); err != nil {
		return fmt.Errorf("failed to configure sensor: %w", err)
	}
	if err := s.dev.EnableFIFO(true); err != nil {
		return fmt.Errorf("failed to enable sensor fifo: %w", err)
	}
	if err := s.line.Arm(device.EdgeFalling, s); err != nil {
		return fmt.Errorf("failed to arm fifo interrupt: %w", err)
	}

	s.logger.Info("Sensor initialized",
		zap.Int("sample_rate", s.config.Device.SampleRate),
		zap.Int("frames_per_buffer", s.config.FramesPerBuffer()),
		zap.Int("fifo_bytes", s.frameBytes),
	)
	return nil
}

// Run 采样循环，直到 ctx 取消或设备失效
//
// 等待超时视为故障：每次超时重新初始化设备；重新初始化失败，
// 或连续 MaxReinit 次超时仍没有拿到数据，返回 ErrDeviceStalled
func (s *Sampler) Run(ctx context.Context) error {
	defer func() {
		if err := s.line.Disarm(); err != nil {
			s.logger.Warn("Failed to disarm fifo interrupt", zap.Error(err))
		}
	}()

	timer := time.NewTimer(s.config.Sampler.WaitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			if err := s.collect(); err != nil {
				s.logger.Error("Failed to read sensor fifo", zap.Error(err))
			}
		case <-timer.C:
			if err := s.reinit(); err != nil {
				return err
			}
		}
		resetTimer(timer, s.config.Sampler.WaitTimeout)
	}
}

// collect 处理一次唤醒
func (s *Sampler) collect() error {
	if _, err := s.dev.InterruptStatus(); err != nil {
		return fmt.Errorf("failed to read interrupt status: %w", err)
	}
	count, err := s.dev.FIFOByteCount()
	if err != nil {
		return fmt.Errorf("failed to read fifo count: %w", err)
	}

	if count != s.frameBytes {
		s.mismatches++
		metrics.SpuriousInterrupts.Inc()
		s.logger.Debug("Discarding partial fifo",
			zap.Int("fifo_count", count),
			zap.Int("expected", s.frameBytes),
		)
		if every := s.config.Sampler.MismatchWarnEvery; every > 0 && s.mismatches%every == 0 {
			s.logger.Warn("Repeated fifo size mismatch, resetting fifo",
				zap.Int("consecutive", s.mismatches),
				zap.Int("fifo_count", count),
			)
			if err := s.dev.EnableFIFO(true); err != nil {
				return fmt.Errorf("failed to reset fifo: %w", err)
			}
		}
		return nil
	}

	n, err := s.dev.ReadFIFO(s.raw)
	if err != nil {
		return fmt.Errorf("failed to read fifo: %w", err)
	}
	if n != s.frameBytes {
		metrics.SpuriousInterrupts.Inc()
		s.logger.Warn("Short fifo read", zap.Int("read", n), zap.Int("expected", s.frameBytes))
		return nil
	}

	s.mismatches = 0
	s.timeouts = 0

	buf := &models.Buffer{
		Timestamp: s.now().Sub(s.boot).Microseconds(),
		Frames:    DecodeFIFO(s.raw, make([]models.SensorFrame, 0, s.config.FramesPerBuffer())),
	}
	s.out.Publish(buf)
	metrics.BuffersPublished.Inc()
	return nil
}

// reinit 等待超时后的处理
func (s *Sampler) reinit() error {
	s.timeouts++
	metrics.SamplerTimeouts.Inc()
	s.logger.Warn("No fifo interrupt within timeout, reinitializing sensor",
		zap.Duration("timeout", s.config.Sampler.WaitTimeout),
		zap.Int("consecutive", s.timeouts),
	)

	if limit := s.config.Sampler.MaxReinit; limit > 0 && s.timeouts > limit {
		return fmt.Errorf("%w: no interrupt after %d reinitializations", ErrDeviceStalled, limit)
	}
	if err := s.Init(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceStalled, err)
	}
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
