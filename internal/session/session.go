// Package session 引用计数的网络会话
//
// 状态推送和遥测 flush 都可能需要网络；第一个使用者拿电源锁并建立连接，
// 最后一个使用者释放时断开连接、归还电源锁。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/overwasher/sensor-node/internal/metrics"

	"go.uber.org/zap"
)

// ErrConnect 建立会话失败
var ErrConnect = errors.New("failed to establish network session")

// Link 实际的网络连接
type Link interface {
	Up(ctx context.Context) error
	Down() error
}

// PowerLock 阻止节点在会话期间进入低功耗
type PowerLock interface {
	Acquire() error
	Release() error
}

// Manager 会话管理器
type Manager struct {
	mu             sync.Mutex
	refs           int
	link           Link
	power          PowerLock
	connectTimeout time.Duration
	logger         *zap.Logger
}

// NewManager 创建会话管理器，power 为 nil 时不加电源锁
func NewManager(link Link, power PowerLock, connectTimeout time.Duration, logger *zap.Logger) *Manager {
	if power == nil {
		power = NopPowerLock{}
	}
	return &Manager{
		link:           link,
		power:          power,
		connectTimeout: connectTimeout,
		logger:         logger,
	}
}

// Acquire 获取会话，返回的 Guard 必须 Release
// 建立连接失败时引用计数不变
func (m *Manager) Acquire(ctx context.Context) (*Guard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		if err := m.establish(ctx); err != nil {
			return nil, err
		}
	}
	m.refs++
	metrics.SessionRefs.Set(float64(m.refs))
	return &Guard{m: m}, nil
}

// Refs 当前引用数
func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

func (m *Manager) establish(ctx context.Context) error {
	if err := m.power.Acquire(); err != nil {
		return fmt.Errorf("%w: power lock: %v", ErrConnect, err)
	}

	if m.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := m.link.Up(ctx); err != nil {
		if perr := m.power.Release(); perr != nil {
			m.logger.Warn("Failed to release power lock", zap.Error(perr))
		}
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	metrics.SessionConnectDuration.Observe(time.Since(start).Seconds())

	m.logger.Debug("Network session up", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		return
	}
	m.refs--
	metrics.SessionRefs.Set(float64(m.refs))
	if m.refs > 0 {
		return
	}

	if err := m.link.Down(); err != nil {
		m.logger.Warn("Failed to tear down network session", zap.Error(err))
	}
	if err := m.power.Release(); err != nil {
		m.logger.Warn("Failed to release power lock", zap.Error(err))
	}
	m.logger.Debug("Network session down")
}

// Guard 一次会话引用
type Guard struct {
	m    *Manager
	once sync.Once
}

// Release 归还引用，重复调用无效
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(g.m.release)
}
