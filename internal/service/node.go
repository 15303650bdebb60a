package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/overwasher/sensor-node/common/database"
	mqttcommon "github.com/overwasher/sensor-node/common/mqtt"
	rediscommon "github.com/overwasher/sensor-node/common/redis"
	"github.com/overwasher/sensor-node/internal/activity"
	"github.com/overwasher/sensor-node/internal/config"
	"github.com/overwasher/sensor-node/internal/device"
	"github.com/overwasher/sensor-node/internal/eventbus"
	httpapi "github.com/overwasher/sensor-node/internal/http"
	"github.com/overwasher/sensor-node/internal/models"
	"github.com/overwasher/sensor-node/internal/repository"
	"github.com/overwasher/sensor-node/internal/sampler"
	"github.com/overwasher/sensor-node/internal/session"
	"github.com/overwasher/sensor-node/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 订阅者名称
const (
	subscriberClassifier = "classifier"
	subscriberTelemetry  = "telemetry"
)

// NodeService 传感器节点服务
type NodeService struct {
	config *config.Config
	logger *zap.Logger
	bootID string
	boot   time.Time

	db          *sql.DB
	redis       *redis.Client
	mqttClient  *mqttcommon.Client
	closeMedium func() error

	sim        *device.Simulator
	journal    *repository.TransitionRepository
	sampler    *sampler.Sampler
	bus        *eventbus.Bus
	sessions   *session.Manager
	classifier *activity.Classifier
	store      *telemetry.Store
	server     *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	err    error
}

// NewNodeService 创建节点服务
func NewNodeService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*NodeService, error) {
	s := &NodeService{
		config: cfg,
		logger: logger,
		bootID: uuid.New().String(),
		boot:   time.Now(),
		done:   make(chan struct{}),
	}
	if err := s.build(ctx); err != nil {
		s.closeClients()
		return nil, err
	}
	return s, nil
}

func (s *NodeService) build(ctx context.Context) error {
	cfg := s.config

	// 初始化Redis
	if needsRedis(cfg) {
		s.redis = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, s.redis); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	// MQTT 客户端只创建，由会话按需连接
	if cfg.Uplink.Mode == "mqtt" {
		if cfg.MQTT.ClientID == "sensor-node" {
			cfg.MQTT.ClientID = cfg.Node.ID
		}
		s.mqttClient = mqttcommon.NewClient(&cfg.MQTT, s.logger.Named("mqtt"))
	}

	// 状态变化日志
	var recorder activity.TransitionRecorder
	if cfg.Journal.Enabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		repo := repository.NewTransitionRepository(db, s.logger.Named("journal"))
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		s.journal = repo
		recorder = repo
	}

	sim, err := newSensor(cfg, s.logger)
	if err != nil {
		return err
	}
	s.sim = sim

	medium, closeMedium, err := newMedium(ctx, cfg, s.redis)
	if err != nil {
		return fmt.Errorf("failed to open telemetry medium: %w", err)
	}
	s.closeMedium = closeMedium

	up, link, err := newUplink(cfg, s.boot, s.redis, s.mqttClient, s.logger.Named("uplink"))
	if err != nil {
		return err
	}

	s.sessions = session.NewManager(link, session.NopPowerLock{}, cfg.Session.ConnectTimeout, s.logger.Named("session"))
	s.bus = eventbus.NewBus(cfg.EventBus.PublishTimeout, s.logger.Named("eventbus"))
	s.classifier = activity.NewClassifier(cfg, s.sessions, up, recorder, s.logger.Named("activity"))

	store, err := telemetry.NewStore(cfg, medium, s.sessions, up, s.logger.Named("telemetry"))
	if err != nil {
		return err
	}
	s.store = store
	s.sampler = sampler.NewSampler(cfg, sim, sim, s.bus, s.logger.Named("sampler"))

	if cfg.Status.Addr != "" {
		s.server = &http.Server{
			Addr:              cfg.Status.Addr,
			Handler:           httpapi.NewRouter(s, s.logger.Named("http")),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return nil
}

// Start 启动流水线
// 传感器不可达时返回错误，不重试
func (s *NodeService) Start(ctx context.Context) error {
	s.logger.Info("Starting sensor node components", zap.String("boot_id", s.bootID))

	if err := s.store.Reset(); err != nil {
		return err
	}
	if err := s.sampler.Init(); err != nil {
		return fmt.Errorf("failed to initialize sensor: %w", err)
	}

	queue := s.config.EventBus.QueueSize
	if err := s.bus.Subscribe(subscriberClassifier, queue, s.classifier.OnBuffer); err != nil {
		return err
	}
	if err := s.bus.Subscribe(subscriberTelemetry, queue, s.store.OnBuffer); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.bus.Start(ctx); err != nil {
		s.cancel()
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	s.spawn(func() { s.sim.Run(ctx) })
	s.spawn(func() { s.classifier.RunSender(ctx) })
	s.spawn(func() { s.store.RunFlusher(ctx) })
	s.spawn(func() {
		defer close(s.done)
		if err := s.sampler.Run(ctx); err != nil {
			// 采样失效时停止流水线，进程保留状态接口
			s.err = err
			s.logger.Error("Sampling stopped, pipeline halted", zap.Error(err))
			s.cancel()
		}
	})

	if s.server != nil {
		s.spawn(func() {
			s.logger.Info("Status server listening", zap.String("addr", s.server.Addr))
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Status server failed", zap.Error(err))
			}
		})
	}

	s.logger.Info("Sensor node started successfully",
		zap.String("node_id", s.config.Node.ID),
		zap.String("uplink_mode", s.config.Uplink.Mode),
		zap.String("telemetry_medium", s.config.Telemetry.Medium),
	)
	return nil
}

// Done 采样任务退出时关闭
func (s *NodeService) Done() <-chan struct{} { return s.done }

// Err 采样任务退出的原因
func (s *NodeService) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Stop 停止服务，尽量把缓存的遥测 flush 出去
func (s *NodeService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sensor node")

	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("Error shutting down status server", zap.Error(err))
		}
	}
	s.bus.Close()
	s.wg.Wait()

	if s.store.Ring().Occupied() > 0 {
		if _, err := s.store.Flush(ctx); err != nil {
			s.logger.Warn("Final telemetry flush failed", zap.Error(err))
		}
	}

	s.closeClients()
	s.logger.Info("Sensor node stopped")
	return nil
}

func (s *NodeService) closeClients() {
	if s.closeMedium != nil {
		if err := s.closeMedium(); err != nil {
			s.logger.Warn("Error closing telemetry medium", zap.Error(err))
		}
	}

	// 断开MQTT
	if s.mqttClient != nil && s.mqttClient.IsConnected() {
		s.mqttClient.Disconnect()
	}

	// 关闭Redis
	if s.redis != nil {
		rediscommon.Close(s.redis)
	}

	// 关闭数据库
	if s.db != nil {
		database.Close(s.db)
	}
}

func (s *NodeService) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// NodeStatus 节点快照
func (s *NodeService) NodeStatus() models.NodeStatus {
	ring := s.store.Ring()
	return models.NodeStatus{
		NodeID:          s.config.Node.ID,
		BootID:          s.bootID,
		FirmwareVersion: s.config.Node.FirmwareVersion,
		UplinkMode:      s.config.Uplink.Mode,
		Uptime:          time.Since(s.boot).Truncate(time.Second).String(),
		State:           s.classifier.State(),
		Activity:        s.classifier.Status(),
		Ring: models.RingStatus{
			Capacity:      ring.Capacity(),
			Alignment:     ring.Alignment(),
			Head:          ring.Head(),
			Tail:          ring.Tail(),
			OccupiedBytes: ring.Occupied(),
		},
		Subscribers: s.bus.Stats(),
		SessionRefs: s.sessions.Refs(),
	}
}

// RequestFlush 请求一次遥测 flush
func (s *NodeService) RequestFlush() {
	s.store.RequestFlush()
}

// RecentTransitions 最近的状态变化，未启用日志时返回 ErrJournalDisabled
func (s *NodeService) RecentTransitions(ctx context.Context, limit int) ([]models.Transition, error) {
	if s.journal == nil {
		return nil, httpapi.ErrJournalDisabled
	}
	return s.journal.ListRecent(ctx, s.config.Node.ID, limit)
}

// Simulator 模拟设备，sim 驱动之外为 nil
func (s *NodeService) Simulator() *device.Simulator { return s.sim }
