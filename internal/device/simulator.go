package device

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/overwasher/sensor-node/internal/models"

	"go.uber.org/zap"
)

// ErrNotResponding 模拟设备不可达
var ErrNotResponding = errors.New("simulated device not responding")

// SimulatorConfig 模拟设备配置
type SimulatorConfig struct {
	FIFOCapacity int // FIFO 字节容量，默认 1024
	Seed         int64
}

// Simulator 在主机上模拟带 FIFO 的加速度传感器
// FIFO 攒满一批（容量向下取整到整帧）后锁存并触发中断，锁存期间到达的帧被丢弃，
// 读空 FIFO 后解除锁存
type Simulator struct {
	mu        sync.Mutex
	cfg       SimulatorConfig
	fifo      []byte
	watermark int
	latched   bool
	status    uint8

	rate     SampleRate
	fsr      FullScaleRange
	enabled  bool
	inited   bool
	notifier ReadyNotifier

	reachable bool
	stalled   bool
	active    bool
	phase     float64
	rnd       *rand.Rand

	logger *zap.Logger
}

// NewSimulator 创建模拟设备
func NewSimulator(cfg SimulatorConfig, logger *zap.Logger) *Simulator {
	if cfg.FIFOCapacity <= 0 {
		cfg.FIFOCapacity = 1024
	}
	watermark := cfg.FIFOCapacity / models.FrameSize * models.FrameSize
	return &Simulator{
		cfg:       cfg,
		fifo:      make([]byte, 0, cfg.FIFOCapacity),
		watermark: watermark,
		rate:      100,
		fsr:       Range16G,
		reachable: true,
		rnd:       rand.New(rand.NewSource(cfg.Seed)),
		logger:    logger,
	}
}

// Init 复位设备
func (s *Simulator) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return ErrNotResponding
	}
	s.fifo = s.fifo[:0]
	s.latched = false
	s.status = 0
	s.enabled = false
	s.stalled = false
	s.inited = true
	s.logger.Debug("Simulated device reset", zap.Int("fifo_capacity", s.cfg.FIFOCapacity))
	return nil
}

// TestConnection 检查设备应答
func (s *Simulator) TestConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable && s.inited
}

// Configure 设置采样率、量程、滤波
func (s *Simulator) Configure(rate SampleRate, fsr FullScaleRange, _ FilterMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return ErrNotResponding
	}
	if rate <= 0 {
		return errors.New("sample rate must be positive")
	}
	s.rate = rate
	s.fsr = fsr
	return nil
}

// EnableFIFO 启用 FIFO（同时清空）
func (s *Simulator) EnableFIFO(_ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return ErrNotResponding
	}
	s.fifo = s.fifo[:0]
	s.latched = false
	s.enabled = true
	return nil
}

// InterruptStatus 读取并清除中断状态
func (s *Simulator) InterruptStatus() (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return 0, ErrNotResponding
	}
	st := s.status
	s.status = 0
	return st, nil
}

// FIFOByteCount FIFO 当前字节数
func (s *Simulator) FIFOByteCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return 0, ErrNotResponding
	}
	return len(s.fifo), nil
}

// ReadFIFO 读出 FIFO 头部的 len(p) 字节
func (s *Simulator) ReadFIFO(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return 0, ErrNotResponding
	}
	n := copy(p, s.fifo)
	s.fifo = append(s.fifo[:0], s.fifo[n:]...)
	if len(s.fifo) < s.watermark {
		s.latched = false
	}
	return n, nil
}

// Arm 注册中断通知
func (s *Simulator) Arm(_ Edge, n ReadyNotifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
	return nil
}

// Disarm 取消中断通知
func (s *Simulator) Disarm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = nil
	return nil
}

// SetActive 切换模拟的振动强度
func (s *Simulator) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

// SetReachable 模拟总线断开/恢复
func (s *Simulator) SetReachable(reachable bool) {
	s.mu.Lock()
	s.reachable = reachable
	s.mu.Unlock()
}

// Stall 模拟中断线失效（不再产生中断），Init 后恢复
func (s *Simulator) Stall() {
	s.mu.Lock()
	s.stalled = true
	s.mu.Unlock()
}

// Run 按采样率产生数据，直到 ctx 取消
func (s *Simulator) Run(ctx context.Context) {
	s.mu.Lock()
	period := time.Second / time.Duration(s.rate)
	s.mu.Unlock()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.tick(); n != nil {
				n.NotifyReady()
			}
		}
	}
}

// tick 产生一帧；FIFO 达到水位时返回需要通知的对象
func (s *Simulator) tick() ReadyNotifier {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || !s.reachable || s.stalled || s.latched {
		return nil
	}

	var frame [models.FrameSize]byte
	x, y, z := s.sample()
	binary.BigEndian.PutUint16(frame[0:], uint16(x))
	binary.BigEndian.PutUint16(frame[2:], uint16(y))
	binary.BigEndian.PutUint16(frame[4:], uint16(z))
	s.fifo = append(s.fifo, frame[:]...)

	if len(s.fifo) >= s.watermark {
		s.latched = true
		s.status |= IntDataReady
		return s.notifier
	}
	return nil
}

// sample 生成一帧原始值（满量程 ±32768）
func (s *Simulator) sample() (int16, int16, int16) {
	amplitude := 3.0
	if s.active {
		amplitude = 250.0
	}
	s.phase += 2 * math.Pi * 7 / float64(s.rate)

	x := amplitude*math.Sin(s.phase) + s.rnd.NormFloat64()*2
	y := amplitude*math.Cos(s.phase*1.3) + s.rnd.NormFloat64()*2
	z := 1000 + s.rnd.NormFloat64()*2
	return s.toRaw(x), s.toRaw(y), s.toRaw(z)
}

func (s *Simulator) toRaw(milliG float64) int16 {
	raw := milliG * 32768 / float64(s.fsr.MilliG())
	if raw > math.MaxInt16 {
		raw = math.MaxInt16
	}
	if raw < math.MinInt16 {
		raw = math.MinInt16
	}
	return int16(raw)
}
