package activity

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/overwasher/sensor-node/internal/config"
	"github.com/overwasher/sensor-node/internal/models"
	"github.com/overwasher/sensor-node/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWindow_CountMatchesTrueEntries(t *testing.T) {
	w := NewWindow(5)
	rnd := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		w.Push(rnd.Intn(3) == 0)

		trues := 0
		for _, v := range w.Values() {
			if v {
				trues++
			}
		}
		require.Equal(t, trues, w.Count(), "step %d", i)
		require.LessOrEqual(t, w.Len(), w.Cap())
	}
	assert.True(t, w.Primed())
}

func TestRangeMetric(t *testing.T) {
	assert.Equal(t, 0, RangeMetric(nil))

	frames := make([]models.SensorFrame, 10)
	for i := range frames {
		frames[i] = models.SensorFrame{X: int16(i * 10), Y: int16(-i), Z: 1000 + int16(i*100)}
	}
	// x: v[9]-v[1] = 90-10; y 排序后 [-9..0]: v[9]-v[1] = 0-(-8)
	assert.Equal(t, 80+8, RangeMetric(frames))

	// 输入不被修改
	assert.Equal(t, int16(90), frames[9].X)
}

func testConfig(t *testing.T, window, bias int) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Activity.Window = window
	cfg.Activity.BiasThreshold = bias
	cfg.Activity.UpdateInterval = time.Hour
	return cfg
}

func newTestClassifier(cfg *config.Config, sender StatusSender, rec TransitionRecorder) *Classifier {
	m := session.NewManager(session.NopLink{}, nil, time.Second, zap.NewNop())
	c := NewClassifier(cfg, m, sender, rec, zap.NewNop())
	fixed := time.Unix(1700000000, 0)
	c.now = func() time.Time { return fixed }
	return c
}

func TestClassifier_WindowScenario(t *testing.T) {
	c := newTestClassifier(testConfig(t, 3, 1), nil, nil)

	assert.False(t, c.observe(true, 0))
	assert.False(t, c.observe(true, 0))
	assert.Equal(t, models.StateUnknown, c.State())
	assert.Nil(t, c.Status())

	assert.True(t, c.observe(false, 0))
	assert.Equal(t, models.StateActive, c.State())
	assert.Equal(t, 2, c.Status().ActiveCount)

	// 淘汰最旧的 true，计数仍为 2
	assert.False(t, c.observe(true, 0))
	assert.Equal(t, models.StateActive, c.State())

	c.observe(false, 0)
	c.observe(false, 0)
	assert.Equal(t, models.StateInactive, c.State())
	assert.Equal(t, 1, c.window.Count())
	assert.Equal(t, models.StateActive, c.Status().Previous)
}

func TestClassifier_Deterministic(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	seq := make([]bool, 400)
	for i := range seq {
		seq[i] = rnd.Intn(2) == 0
	}

	run := func() []models.ActivityState {
		c := newTestClassifier(testConfig(t, 7, 3), nil, nil)
		var transitions []models.ActivityState
		for _, v := range seq {
			if c.observe(v, 0) {
				transitions = append(transitions, c.State())
			}
		}
		return transitions
	}

	first := run()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, run())
}

func TestClassifier_PeriodicRepush(t *testing.T) {
	cfg := testConfig(t, 1, 0)
	cfg.Activity.UpdateInterval = 30 * time.Second
	c := newTestClassifier(cfg, nil, nil)

	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }

	assert.True(t, c.observe(false, 0))
	now = now.Add(10 * time.Second)
	assert.False(t, c.observe(false, 0))
	now = now.Add(25 * time.Second)
	assert.True(t, c.observe(false, 0))
	assert.False(t, c.Status().Changed())
}

func TestClassifier_OnBufferUsesThreshold(t *testing.T) {
	cfg := testConfig(t, 1, 0)
	cfg.Activity.AccelThreshold = 20
	c := newTestClassifier(cfg, nil, nil)

	quiet := make([]models.SensorFrame, 170)
	c.OnBuffer(&models.Buffer{Frames: quiet})
	assert.Equal(t, models.StateInactive, c.State())

	busy := make([]models.SensorFrame, 170)
	for i := range busy {
		busy[i] = models.SensorFrame{X: int16((i % 2) * 100), Y: int16((i % 2) * 100)}
	}
	c.OnBuffer(&models.Buffer{Frames: busy})
	assert.Equal(t, models.StateActive, c.State())
	assert.Equal(t, 200, c.Status().Metric)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []bool
	err  error
	hit  chan struct{}
}

func (s *recordingSender) SendStatus(_ context.Context, active bool) error {
	s.mu.Lock()
	s.sent = append(s.sent, active)
	s.mu.Unlock()
	s.hit <- struct{}{}
	return s.err
}

type recordingJournal struct {
	mu      sync.Mutex
	changes []models.Status
}

func (r *recordingJournal) RecordTransition(_ context.Context, _ string, st models.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, st)
	return nil
}

func TestClassifier_SenderPushesLatestState(t *testing.T) {
	sender := &recordingSender{hit: make(chan struct{}, 4), err: errors.New("offline")}
	journal := &recordingJournal{}
	c := newTestClassifier(testConfig(t, 1, 0), sender, journal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunSender(ctx)

	c.observe(true, 50)
	select {
	case <-sender.hit:
	case <-time.After(2 * time.Second):
		t.Fatal("status was not pushed")
	}

	// 推送失败不影响后续推送
	c.observe(false, 0)
	select {
	case <-sender.hit:
	case <-time.After(2 * time.Second):
		t.Fatal("second status was not pushed")
	}

	sender.mu.Lock()
	assert.Equal(t, []bool{true, false}, sender.sent)
	sender.mu.Unlock()

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Len(t, journal.changes, 2)
	assert.Equal(t, models.StateActive, journal.changes[0].State)
	assert.Equal(t, models.StateUnknown, journal.changes[0].Previous)
}

func TestClassifier_CoalescedWakeupPushesOnce(t *testing.T) {
	sender := &recordingSender{hit: make(chan struct{}, 4)}
	journal := &recordingJournal{}
	c := newTestClassifier(testConfig(t, 1, 0), sender, journal)
	ctx := context.Background()

	// 发送任务取走第一次通知后，第二次状态变化又补发了通知
	c.observe(true, 50)
	<-c.signal
	c.observe(false, 0)

	c.drain(ctx)
	<-c.signal
	c.drain(ctx)

	sender.mu.Lock()
	assert.Equal(t, []bool{false}, sender.sent)
	sender.mu.Unlock()

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Len(t, journal.changes, 2)
	assert.Equal(t, models.StateActive, journal.changes[0].State)
	assert.Equal(t, models.StateInactive, journal.changes[1].State)
	assert.Equal(t, models.StateActive, journal.changes[1].Previous)
}

func TestClassifier_RepushIsNotDeduplicated(t *testing.T) {
	cfg := testConfig(t, 1, 0)
	cfg.Activity.UpdateInterval = 30 * time.Second
	sender := &recordingSender{hit: make(chan struct{}, 4)}
	journal := &recordingJournal{}
	c := newTestClassifier(cfg, sender, journal)

	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.observe(true, 50)
	c.drain(ctx)
	now = now.Add(time.Minute)
	c.observe(true, 50)
	c.drain(ctx)

	sender.mu.Lock()
	assert.Equal(t, []bool{true, true}, sender.sent)
	sender.mu.Unlock()

	journal.mu.Lock()
	defer journal.mu.Unlock()
	assert.Len(t, journal.changes, 1)
}
