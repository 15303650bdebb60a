package uplink

import (
	"context"
	"fmt"

	rediscommon "github.com/overwasher/sensor-node/common/redis"
	"github.com/overwasher/sensor-node/internal/flash"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamConfig redis streams 上行配置
type StreamConfig struct {
	NodeID          string
	StatusStream    string
	TelemetryStream string
	MaxLen          int64
}

// StreamUplink 写入本机 redis streams，由同机网关转发
type StreamUplink struct {
	client *redis.Client
	cfg    StreamConfig
	clock  Clock
	logger *zap.Logger
}

// NewStreamUplink 创建 redis streams 上行
func NewStreamUplink(client *redis.Client, cfg StreamConfig, clock Clock, logger *zap.Logger) *StreamUplink {
	return &StreamUplink{
		client: client,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}
}

// SendStatus 追加状态消息
func (u *StreamUplink) SendStatus(ctx context.Context, active bool) error {
	id, err := rediscommon.PublishToStream(ctx, u.client, u.cfg.StatusStream, u.cfg.MaxLen, map[string]interface{}{
		"node_id": u.cfg.NodeID,
		"data":    NewStatusDocument(active),
	})
	if err != nil {
		return fmt.Errorf("failed to publish status to stream %s: %w", u.cfg.StatusStream, err)
	}
	u.logger.Info("Status appended to stream",
		zap.String("stream", u.cfg.StatusStream),
		zap.String("message_id", id),
		zap.Bool("active", active),
	)
	return nil
}

// SendTelemetry 追加遥测包，包体以二进制字段保存
func (u *StreamUplink) SendTelemetry(ctx context.Context, view flash.View, capacity, head, tail int) error {
	parcel, err := BuildParcel(view, capacity, head, tail, u.clock.NewHeader())
	if err != nil {
		return fmt.Errorf("failed to build telemetry parcel: %w", err)
	}

	id, err := rediscommon.PublishToStream(ctx, u.client, u.cfg.TelemetryStream, u.cfg.MaxLen, map[string]interface{}{
		"node_id": u.cfg.NodeID,
		"parcel":  parcel,
		"bytes":   len(parcel) - HeaderSize,
	})
	if err != nil {
		return fmt.Errorf("failed to publish telemetry to stream %s: %w", u.cfg.TelemetryStream, err)
	}
	u.logger.Info("Telemetry appended to stream",
		zap.String("stream", u.cfg.TelemetryStream),
		zap.String("message_id", id),
		zap.Int("parcel_bytes", len(parcel)),
	)
	return nil
}
