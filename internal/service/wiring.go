package service

import (
	"context"
	"fmt"
	"time"

	mqttcommon "github.com/overwasher/sensor-node/common/mqtt"
	"github.com/overwasher/sensor-node/internal/config"
	"github.com/overwasher/sensor-node/internal/device"
	"github.com/overwasher/sensor-node/internal/flash"
	"github.com/overwasher/sensor-node/internal/session"
	"github.com/overwasher/sensor-node/internal/uplink"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// newSensor 按驱动名创建传感器和中断线
func newSensor(cfg *config.Config, logger *zap.Logger) (*device.Simulator, error) {
	switch cfg.Device.Driver {
	case "sim":
		sim := device.NewSimulator(device.SimulatorConfig{
			FIFOCapacity: cfg.Device.FIFOCapacity,
			Seed:         cfg.Device.SimSeed,
		}, logger.Named("sim"))
		sim.SetActive(cfg.Device.SimActive)
		return sim, nil
	default:
		return nil, fmt.Errorf("unsupported device driver %q", cfg.Device.Driver)
	}
}

// newMedium 按配置创建遥测区域介质
func newMedium(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (flash.Medium, func() error, error) {
	t := cfg.Telemetry
	switch t.Medium {
	case "memory":
		return flash.NewMemoryFlash(t.Capacity, t.EraseBlock), nil, nil
	case "file":
		m, err := flash.OpenFileFlash(t.FilePath, t.Capacity, t.EraseBlock)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	case "redis":
		m, err := flash.NewRedisFlash(ctx, redisClient, t.RedisKey, t.Capacity, t.EraseBlock)
		if err != nil {
			return nil, nil, err
		}
		return m, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown telemetry medium %q", t.Medium)
	}
}

// newUplink 按 UPLINK_MODE 创建上行和对应的会话连接
func newUplink(
	cfg *config.Config,
	boot time.Time,
	redisClient *redis.Client,
	mqttClient *mqttcommon.Client,
	logger *zap.Logger,
) (uplink.Uplink, session.Link, error) {
	clock := uplink.Clock{Boot: boot}
	u := cfg.Uplink

	switch u.Mode {
	case "http":
		return uplink.NewHTTPUplink(uplink.HTTPConfig{
			BaseURL:         u.BaseURL,
			AuthToken:       u.AuthToken,
			FirmwareVersion: cfg.Node.FirmwareVersion,
			Timeout:         u.Timeout,
			RetryCount:      u.RetryCount,
		}, clock, logger), session.NopLink{}, nil
	case "mqtt":
		return uplink.NewMQTTUplink(mqttClient, u.TopicPrefix, cfg.Node.ID, cfg.MQTT.QoS, clock, logger),
			session.NewMQTTLink(mqttClient), nil
	case "redis":
		return uplink.NewStreamUplink(redisClient, uplink.StreamConfig{
			NodeID:          cfg.Node.ID,
			StatusStream:    u.StatusStream,
			TelemetryStream: u.TelemetryStream,
			MaxLen:          u.StreamMaxLen,
		}, clock, logger), session.NopLink{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown uplink mode %q", u.Mode)
	}
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Telemetry.Medium == "redis" || cfg.Uplink.Mode == "redis"
}
