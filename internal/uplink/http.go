package uplink

import (
	"context"
	"fmt"
	"time"

	"github.com/overwasher/sensor-node/internal/flash"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	statusPath    = "sensor/v1/update"
	telemetryPath = "sensor/v1/telemetry"
)

// HTTPConfig HTTP 上行配置
type HTTPConfig struct {
	BaseURL         string
	AuthToken       string
	FirmwareVersion string
	Timeout         time.Duration
	RetryCount      int
}

// HTTPUplink 向采集服务 POST 状态和遥测
type HTTPUplink struct {
	httpClient *resty.Client
	clock      Clock
	logger     *zap.Logger
}

// NewHTTPUplink 创建 HTTP 上行
func NewHTTPUplink(cfg HTTPConfig, clock Clock, logger *zap.Logger) *HTTPUplink {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")

	if cfg.AuthToken != "" {
		client.SetHeader("Authorization", cfg.AuthToken)
	}
	if cfg.FirmwareVersion != "" {
		client.SetHeader("X-Firmware-Version", cfg.FirmwareVersion)
	}

	return &HTTPUplink{
		httpClient: client,
		clock:      clock,
		logger:     logger,
	}
}

// SendStatus POST {"state": "active"|"inactive"}
func (u *HTTPUplink) SendStatus(ctx context.Context, active bool) error {
	doc := NewStatusDocument(active)
	requestID := uuid.New().String()

	resp, err := u.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetHeader("Content-Type", "application/json").
		SetBody(doc).
		Post(statusPath)
	if err != nil {
		return fmt.Errorf("failed to post status: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("collector rejected status: %s", resp.Status())
	}

	u.logger.Info("Status sent",
		zap.String("state", doc.State),
		zap.String("request_id", requestID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}

// SendTelemetry POST 遥测包
func (u *HTTPUplink) SendTelemetry(ctx context.Context, view flash.View, capacity, head, tail int) error {
	// 包头时间取自会话建立之后、请求发出之前
	parcel, err := BuildParcel(view, capacity, head, tail, u.clock.NewHeader())
	if err != nil {
		return fmt.Errorf("failed to build telemetry parcel: %w", err)
	}
	requestID := uuid.New().String()

	resp, err := u.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(parcel).
		Post(telemetryPath)
	if err != nil {
		return fmt.Errorf("failed to post telemetry: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("collector rejected telemetry: %s", resp.Status())
	}

	u.logger.Info("Telemetry sent",
		zap.Int("parcel_bytes", len(parcel)),
		zap.Int("head", head),
		zap.Int("tail", tail),
		zap.String("request_id", requestID),
	)
	return nil
}
