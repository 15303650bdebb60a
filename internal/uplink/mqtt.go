package uplink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/overwasher/sensor-node/internal/flash"

	"go.uber.org/zap"
)

// Publisher MQTT 发布能力，由 common/mqtt.Client 实现
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTUplink 通过 MQTT 上报
// 状态以 retained 消息发布，采集端订阅后立即得到最新状态
type MQTTUplink struct {
	client         Publisher
	statusTopic    string
	telemetryTopic string
	qos            byte
	clock          Clock
	logger         *zap.Logger
}

// NewMQTTUplink 创建 MQTT 上行，主题为 {prefix}/{node}/status 和 {prefix}/{node}/telemetry
func NewMQTTUplink(client Publisher, prefix, nodeID string, qos byte, clock Clock, logger *zap.Logger) *MQTTUplink {
	return &MQTTUplink{
		client:         client,
		statusTopic:    fmt.Sprintf("%s/%s/status", prefix, nodeID),
		telemetryTopic: fmt.Sprintf("%s/%s/telemetry", prefix, nodeID),
		qos:            qos,
		clock:          clock,
		logger:         logger,
	}
}

// SendStatus 发布状态
func (u *MQTTUplink) SendStatus(_ context.Context, active bool) error {
	payload, err := json.Marshal(NewStatusDocument(active))
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := u.client.Publish(u.statusTopic, u.qos, true, payload); err != nil {
		return err
	}
	u.logger.Info("Status published", zap.String("topic", u.statusTopic), zap.ByteString("payload", payload))
	return nil
}

// SendTelemetry 发布遥测包
func (u *MQTTUplink) SendTelemetry(_ context.Context, view flash.View, capacity, head, tail int) error {
	parcel, err := BuildParcel(view, capacity, head, tail, u.clock.NewHeader())
	if err != nil {
		return fmt.Errorf("failed to build telemetry parcel: %w", err)
	}
	if err := u.client.Publish(u.telemetryTopic, u.qos, false, parcel); err != nil {
		return err
	}
	u.logger.Info("Telemetry published",
		zap.String("topic", u.telemetryTopic),
		zap.Int("parcel_bytes", len(parcel)),
	)
	return nil
}
