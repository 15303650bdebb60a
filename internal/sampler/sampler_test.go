package sampler

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/overwasher/sensor-node/internal/config"
	"github.com/overwasher/sensor-node/internal/device"
	"github.com/overwasher/sensor-node/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDevice 可控的传感器替身
type fakeDevice struct {
	mu          sync.Mutex
	reachable   bool
	initErr     error
	inits       int
	fifoResets  int
	counts      []int // 依次返回的 FIFO 计数，用完后返回 full
	full        int
	payload     []byte
	configured  device.SampleRate
	filter      device.FilterMode
	fullScale   device.FullScaleRange
	readsServed int
}

func newFakeDevice(frameBytes int) *fakeDevice {
	payload := make([]byte, frameBytes)
	negY := int16(-2048)
	for i := 0; i+models.FrameSize <= frameBytes; i += models.FrameSize {
		binary.BigEndian.PutUint16(payload[i:], uint16(int16(2048)))
		binary.BigEndian.PutUint16(payload[i+2:], uint16(negY))
		binary.BigEndian.PutUint16(payload[i+4:], uint16(int16(32767)))
	}
	return &fakeDevice{reachable: true, full: frameBytes, payload: payload}
}

func (d *fakeDevice) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inits++
	return d.initErr
}

func (d *fakeDevice) TestConnection() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reachable
}

func (d *fakeDevice) Configure(rate device.SampleRate, fsr device.FullScaleRange, filter device.FilterMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configured, d.fullScale, d.filter = rate, fsr, filter
	return nil
}

func (d *fakeDevice) EnableFIFO(bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fifoResets++
	return nil
}

func (d *fakeDevice) InterruptStatus() (uint8, error) { return device.IntDataReady, nil }

func (d *fakeDevice) FIFOByteCount() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.counts) == 0 {
		return d.full, nil
	}
	n := d.counts[0]
	d.counts = d.counts[1:]
	return n, nil
}

func (d *fakeDevice) ReadFIFO(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readsServed++
	return copy(p, d.payload), nil
}

type fakeLine struct {
	mu       sync.Mutex
	notifier device.ReadyNotifier
	disarmed bool
}

func (l *fakeLine) Arm(_ device.Edge, n device.ReadyNotifier) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifier = n
	return nil
}

func (l *fakeLine) Disarm() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disarmed = true
	return nil
}

func (l *fakeLine) fire() {
	l.mu.Lock()
	n := l.notifier
	l.mu.Unlock()
	if n != nil {
		n.NotifyReady()
	}
}

type capture struct {
	ch chan *models.Buffer
}

func (c *capture) Publish(buf *models.Buffer) int {
	c.ch <- buf
	return 1
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestScaleRaw_OddSymmetric(t *testing.T) {
	assert.Equal(t, int16(15999), ScaleRaw(32767))
	assert.Equal(t, int16(-16000), ScaleRaw(-32768))
	assert.Equal(t, int16(0), ScaleRaw(0))
	assert.Equal(t, int16(1000), ScaleRaw(2048))

	for v := int32(-32767); v <= 32767; v++ {
		require.Equal(t, -ScaleRaw(int16(v)), ScaleRaw(int16(-v)), "raw %d", v)
	}
}

func TestDecodeFIFO_BigEndian(t *testing.T) {
	p := []byte{0x08, 0x00, 0xf8, 0x00, 0x7f, 0xff, 0x01}
	frames := DecodeFIFO(p, nil)
	require.Len(t, frames, 1)
	assert.Equal(t, models.SensorFrame{X: 1000, Y: -1000, Z: 15999}, frames[0])
}

func TestSampler_PublishesFullBuffers(t *testing.T) {
	cfg := testConfig(t)
	dev := newFakeDevice(cfg.FramesPerBuffer() * models.FrameSize)
	line := &fakeLine{}
	out := &capture{ch: make(chan *models.Buffer, 4)}

	s := NewSampler(cfg, dev, line, out, zap.NewNop())
	require.NoError(t, s.Init())
	assert.Equal(t, device.SampleRate(100), dev.configured)
	assert.Equal(t, device.Range16G, dev.fullScale)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		line.fire()
		select {
		case buf := <-out.ch:
			require.Len(t, buf.Frames, 170)
			assert.Equal(t, models.SensorFrame{X: 1000, Y: -1000, Z: 15999}, buf.Frames[0])
			assert.GreaterOrEqual(t, buf.Timestamp, int64(0))
		case <-time.After(2 * time.Second):
			t.Fatal("no buffer published")
		}
	}

	cancel()
	require.NoError(t, <-done)
	assert.True(t, line.disarmed)
}

func TestSampler_DiscardsPartialFIFO(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sampler.MismatchWarnEvery = 2
	dev := newFakeDevice(cfg.FramesPerBuffer() * models.FrameSize)
	dev.counts = []int{12, 600}
	line := &fakeLine{}
	out := &capture{ch: make(chan *models.Buffer, 4)}

	s := NewSampler(cfg, dev, line, out, zap.NewNop())
	require.NoError(t, s.Init())
	resetsAfterInit := dev.fifoResets

	require.NoError(t, s.collect())
	require.NoError(t, s.collect())
	assert.Empty(t, out.ch)
	assert.Equal(t, 0, dev.readsServed)
	assert.Equal(t, resetsAfterInit+1, dev.fifoResets)

	require.NoError(t, s.collect())
	assert.Len(t, out.ch, 1)
	assert.Equal(t, 0, s.mismatches)
}

func TestSampler_UnreachableAtInit(t *testing.T) {
	cfg := testConfig(t)
	dev := newFakeDevice(cfg.FramesPerBuffer() * models.FrameSize)
	dev.reachable = false
	line := &fakeLine{}

	s := NewSampler(cfg, dev, line, &capture{ch: make(chan *models.Buffer, 1)}, zap.NewNop())
	assert.ErrorIs(t, s.Init(), ErrDeviceUnreachable)
	assert.Nil(t, line.notifier)
}

func TestSampler_TimeoutReinitializesThenStalls(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sampler.WaitTimeout = 10 * time.Millisecond
	cfg.Sampler.MaxReinit = 2
	dev := newFakeDevice(cfg.FramesPerBuffer() * models.FrameSize)
	line := &fakeLine{}

	s := NewSampler(cfg, dev, line, &capture{ch: make(chan *models.Buffer, 1)}, zap.NewNop())
	require.NoError(t, s.Init())

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrDeviceStalled)
	// 一次启动加两次重新初始化
	assert.Equal(t, 3, dev.inits)
	assert.True(t, line.disarmed)
}

func TestSampler_ReinitFailureStalls(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sampler.WaitTimeout = 10 * time.Millisecond
	dev := newFakeDevice(cfg.FramesPerBuffer() * models.FrameSize)
	line := &fakeLine{}

	s := NewSampler(cfg, dev, line, &capture{ch: make(chan *models.Buffer, 1)}, zap.NewNop())
	require.NoError(t, s.Init())

	dev.mu.Lock()
	dev.initErr = errors.New("i2c nack")
	dev.mu.Unlock()

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrDeviceStalled)
	assert.Contains(t, err.Error(), "i2c nack")
}
