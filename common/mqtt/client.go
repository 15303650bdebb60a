package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/overwasher/sensor-node/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrNotConnected 客户端未连接
var ErrNotConnected = errors.New("mqtt client not connected")

// Client MQTT客户端封装
// 与服务端不同，节点只在需要上报时建立连接，因此 NewClient 不会自动连接
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger
}

// NewClient 创建MQTT客户端（不连接）
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) *Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	// 会话由节点按需建立和断开，不自动重连
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	})

	return &Client{
		client: mqtt.NewClient(opts),
		config: cfg,
		logger: logger,
	}
}

// Connect 连接 broker，ctx 到期时放弃等待
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	c.logger.Debug("MQTT connected", zap.String("broker", c.config.Broker))
	return nil
}

// Publish 发布消息
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.publishTimeout()) {
		return fmt.Errorf("failed to publish to topic %s: timeout", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Disconnect 断开连接
func (c *Client) Disconnect() {
	c.client.Disconnect(250) // 250ms等待时间
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *Client) publishTimeout() time.Duration {
	if c.config.ConnectTimeout > 0 {
		return c.config.ConnectTimeout
	}
	return 10 * time.Second
}
