package session

import (
	"context"

	mqttcommon "github.com/overwasher/sensor-node/common/mqtt"
)

// NopLink 主机网络常在线，无需建立连接
type NopLink struct{}

func (NopLink) Up(context.Context) error { return nil }
func (NopLink) Down() error              { return nil }

// NopPowerLock 无电源管理
type NopPowerLock struct{}

func (NopPowerLock) Acquire() error { return nil }
func (NopPowerLock) Release() error { return nil }

// MQTTLink 按需连接和断开 MQTT broker
type MQTTLink struct {
	client *mqttcommon.Client
}

// NewMQTTLink 创建 MQTT 会话连接
func NewMQTTLink(client *mqttcommon.Client) *MQTTLink {
	return &MQTTLink{client: client}
}

// Up 连接 broker
func (l *MQTTLink) Up(ctx context.Context) error {
	if l.client.IsConnected() {
		return nil
	}
	return l.client.Connect(ctx)
}

// Down 断开 broker
func (l *MQTTLink) Down() error {
	l.client.Disconnect()
	return nil
}
