package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel 解析日志级别
// level: "debug", "info", "warn", "error" (默认: "info")
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger 创建节点 Logger
// format: "json" 或 "console" (默认: "json")
// serviceName: 服务名称，会作为固定字段输出（如 "sensor-node"）
// nodeID: 节点标识，为空时不输出
func NewLogger(level, format, serviceName, nodeID string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		// 控制台输出（开发调试）
		cfg = zap.NewDevelopmentConfig()
	} else {
		// JSON 输出（便于日志收集器采集）
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	if serviceName != "" {
		base = base.With(zap.String("service_name", serviceName))
	}
	if nodeID != "" {
		base = base.With(zap.String("node_id", nodeID))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		base = base.With(zap.String("hostname", hostname))
	}

	return base, nil
}
