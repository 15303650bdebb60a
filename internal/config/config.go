package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/overwasher/sensor-node/common/config"
	"github.com/overwasher/sensor-node/internal/models"
)

// Config 传感器节点配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	Node struct {
		ID              string // 节点标识（上报主题、日志字段）
		FirmwareVersion string
	}

	// 传感器
	Device struct {
		Driver       string // "sim"：主机上的模拟设备
		SampleRate   int    // Hz
		FIFOCapacity int    // FIFO 字节容量
		SimSeed      int64
		SimActive    bool // 模拟设备初始是否处于振动状态
	}

	// 采样任务
	Sampler struct {
		WaitTimeout       time.Duration // 等待中断的超时
		MaxReinit         int           // 连续超时重新初始化的上限
		MismatchWarnEvery int           // 连续 FIFO 长度不符多少次告警一次
	}

	// 事件分发
	EventBus struct {
		QueueSize      int
		PublishTimeout time.Duration // 队列满时最长等待，0 表示立即丢弃
	}

	// 活动检测
	Activity struct {
		Window         int           // 窗口长度 W
		BiasThreshold  int           // 窗口内活跃次数超过该值判定为 active
		AccelThreshold int           // 瞬时判定阈值（mg）
		UpdateInterval time.Duration // 状态未变化时的定时重推间隔
	}

	// 遥测环形存储
	Telemetry struct {
		Medium          string // "memory" | "file" | "redis"
		FilePath        string
		RedisKey        string
		Capacity        int // 区域容量 C（字节）
		Alignment       int // 写入对齐 A（字节），每个槽位一个 Buffer
		EraseBlock      int // 介质擦除粒度，0 表示无需擦除
		ReservedBuffers int
		VerifyWrites    bool
		FlushInterval   time.Duration // 定时尝试 flush，0 表示只按水位触发
	}

	// 上行链路
	Uplink struct {
		Mode            string // "http" | "mqtt" | "redis"
		BaseURL         string
		AuthToken       string
		Timeout         time.Duration
		RetryCount      int
		TopicPrefix     string
		StatusStream    string
		TelemetryStream string
		StreamMaxLen    int64
	}

	Session struct {
		ConnectTimeout time.Duration
	}

	// 状态变化日志（PostgreSQL）
	Journal struct {
		Enabled bool
	}

	// 本地状态/指标 HTTP 服务，STATUS_ADDR=off 关闭
	Status struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "overwatcher",
		SSLMode:  "disable",
		MaxConns: 2,
		MaxIdle:  1,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "sensor-node",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Node.ID = getEnv("NODE_ID", "sensor-node")
	cfg.Node.FirmwareVersion = getEnv("FIRMWARE_VERSION", "dev")

	cfg.Device.Driver = getEnv("DEVICE_DRIVER", "sim")
	cfg.Device.SampleRate = config.EnvInt("DEVICE_SAMPLE_RATE", 100)
	cfg.Device.FIFOCapacity = config.EnvInt("DEVICE_FIFO_CAPACITY", 1024)
	cfg.Device.SimSeed = int64(config.EnvInt("DEVICE_SIM_SEED", 1))
	cfg.Device.SimActive = config.EnvBool("DEVICE_SIM_ACTIVE", false)

	cfg.Sampler.WaitTimeout = config.EnvDuration("SAMPLER_WAIT_TIMEOUT", 5*time.Second)
	cfg.Sampler.MaxReinit = config.EnvInt("SAMPLER_MAX_REINIT", 3)
	cfg.Sampler.MismatchWarnEvery = config.EnvInt("SAMPLER_MISMATCH_WARN_EVERY", 10)

	cfg.EventBus.QueueSize = config.EnvInt("EVENTBUS_QUEUE_SIZE", 4)
	cfg.EventBus.PublishTimeout = config.EnvDuration("EVENTBUS_PUBLISH_TIMEOUT", 0)

	cfg.Activity.Window = config.EnvInt("ACTIVITY_WINDOW", 50)
	cfg.Activity.BiasThreshold = config.EnvInt("ACTIVITY_BIAS_THRESHOLD", 20)
	cfg.Activity.AccelThreshold = config.EnvInt("ACTIVITY_ACCEL_THRESHOLD", 20)
	cfg.Activity.UpdateInterval = config.EnvDuration("ACTIVITY_UPDATE_INTERVAL", 30*time.Second)

	cfg.Telemetry.Medium = getEnv("TELEMETRY_MEDIUM", "memory")
	cfg.Telemetry.FilePath = getEnv("TELEMETRY_FILE_PATH", "telemetry.ring")
	cfg.Telemetry.RedisKey = getEnv("TELEMETRY_REDIS_KEY", "sensor-node:telemetry:region")
	cfg.Telemetry.Capacity = config.EnvInt("TELEMETRY_CAPACITY", 1<<20)
	cfg.Telemetry.Alignment = config.EnvInt("TELEMETRY_ALIGNMENT", 1024)
	cfg.Telemetry.EraseBlock = config.EnvInt("TELEMETRY_ERASE_BLOCK", 4096)
	cfg.Telemetry.ReservedBuffers = config.EnvInt("TELEMETRY_RESERVED_BUFFERS", 16)
	cfg.Telemetry.VerifyWrites = config.EnvBool("TELEMETRY_VERIFY_WRITES", true)
	cfg.Telemetry.FlushInterval = config.EnvDuration("TELEMETRY_FLUSH_INTERVAL", 0)

	cfg.Uplink.Mode = strings.ToLower(getEnv("UPLINK_MODE", "http"))
	cfg.Uplink.BaseURL = getEnv("UPLINK_BASE_URL", "http://localhost:5000/")
	cfg.Uplink.AuthToken = getEnv("UPLINK_AUTH_TOKEN", "")
	cfg.Uplink.Timeout = config.EnvDuration("UPLINK_TIMEOUT", 30*time.Second)
	cfg.Uplink.RetryCount = config.EnvInt("UPLINK_RETRY_COUNT", 2)
	cfg.Uplink.TopicPrefix = getEnv("UPLINK_TOPIC_PREFIX", "sensor")
	cfg.Uplink.StatusStream = getEnv("UPLINK_STATUS_STREAM", "sensor:status:stream")
	cfg.Uplink.TelemetryStream = getEnv("UPLINK_TELEMETRY_STREAM", "sensor:telemetry:stream")
	cfg.Uplink.StreamMaxLen = int64(config.EnvInt("UPLINK_STREAM_MAX_LEN", 1000))

	cfg.Session.ConnectTimeout = config.EnvDuration("SESSION_CONNECT_TIMEOUT", 20*time.Second)

	cfg.Journal.Enabled = config.EnvBool("JOURNAL_ENABLED", false)

	cfg.Status.Addr = getEnv("STATUS_ADDR", ":9102")
	if strings.EqualFold(cfg.Status.Addr, "off") {
		cfg.Status.Addr = ""
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FramesPerBuffer 每个 Buffer 的帧数 N
func (c *Config) FramesPerBuffer() int {
	return c.Device.FIFOCapacity / models.FrameSize
}

// FlushAlignment flush 边界：写入对齐与擦除粒度中较大者
func (c *Config) FlushAlignment() int {
	if c.Telemetry.EraseBlock > c.Telemetry.Alignment {
		return c.Telemetry.EraseBlock
	}
	return c.Telemetry.Alignment
}

// Validate 校验配置之间的约束
func (c *Config) Validate() error {
	var errs []error

	if c.Device.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("device sample rate must be positive, got %d", c.Device.SampleRate))
	}
	if c.FramesPerBuffer() <= 0 {
		errs = append(errs, fmt.Errorf("fifo capacity %d holds no complete frame", c.Device.FIFOCapacity))
	}
	if c.Sampler.WaitTimeout <= 0 {
		errs = append(errs, errors.New("sampler wait timeout must be positive"))
	}
	if c.EventBus.QueueSize <= 0 {
		errs = append(errs, errors.New("event bus queue size must be positive"))
	}

	if c.Activity.Window <= 0 {
		errs = append(errs, fmt.Errorf("activity window must be positive, got %d", c.Activity.Window))
	}
	if c.Activity.BiasThreshold < 0 || c.Activity.BiasThreshold >= c.Activity.Window {
		errs = append(errs, fmt.Errorf("activity bias threshold %d must be in [0, %d)", c.Activity.BiasThreshold, c.Activity.Window))
	}

	t := c.Telemetry
	switch {
	case t.Alignment <= 0:
		errs = append(errs, errors.New("telemetry alignment must be positive"))
	case t.Capacity <= 0 || t.Capacity%t.Alignment != 0:
		errs = append(errs, fmt.Errorf("telemetry capacity %d must be a positive multiple of alignment %d", t.Capacity, t.Alignment))
	default:
		if c.FramesPerBuffer()*models.FrameSize > t.Alignment {
			errs = append(errs, fmt.Errorf("buffer of %d bytes does not fit alignment %d", c.FramesPerBuffer()*models.FrameSize, t.Alignment))
		}
		if t.EraseBlock < 0 {
			errs = append(errs, errors.New("telemetry erase block must not be negative"))
		} else if t.EraseBlock > 0 {
			lo, hi := t.EraseBlock, t.Alignment
			if lo > hi {
				lo, hi = hi, lo
			}
			if hi%lo != 0 || t.Capacity%hi != 0 {
				errs = append(errs, fmt.Errorf("erase block %d is incompatible with alignment %d and capacity %d", t.EraseBlock, t.Alignment, t.Capacity))
			}
		}
		// head 只能停在 flush 边界上，区域内至少要有两个边界才能回收空间
		if blocks := t.Capacity / c.FlushAlignment(); blocks < 2 {
			errs = append(errs, fmt.Errorf("telemetry capacity %d must hold at least 2 flush blocks of %d bytes", t.Capacity, c.FlushAlignment()))
		}
		buffers := t.Capacity / t.Alignment
		if t.ReservedBuffers < 1 || t.ReservedBuffers >= buffers {
			errs = append(errs, fmt.Errorf("reserved buffers %d must be in [1, %d)", t.ReservedBuffers, buffers))
		}
	}
	switch t.Medium {
	case "memory", "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry medium %q", t.Medium))
	}

	switch c.Uplink.Mode {
	case "http", "mqtt", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown uplink mode %q", c.Uplink.Mode))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	return config.EnvString(key, defaultValue)
}
