package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overwasher/sensor-node/common/logger"
	"github.com/overwasher/sensor-node/internal/config"
	"github.com/overwasher/sensor-node/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zl, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "sensor-node", cfg.Node.ID)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("Starting sensor-node",
		zap.String("version", cfg.Node.FirmwareVersion),
		zap.String("device_driver", cfg.Device.Driver),
		zap.String("uplink_mode", cfg.Uplink.Mode),
		zap.String("telemetry_medium", cfg.Telemetry.Medium),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建服务
	node, err := service.NewNodeService(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Failed to create sensor node", zap.Error(err))
	}

	// 启动服务
	if err := node.Start(ctx); err != nil {
		zl.Fatal("Failed to start sensor node", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		zl.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-node.Done():
		// 采样失效后保留状态接口，等待运维处理
		zl.Error("Sampling pipeline halted", zap.Error(node.Err()))
		sig := <-sigChan
		zl.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	}

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := node.Stop(shutdownCtx); err != nil {
		zl.Error("Error during shutdown", zap.Error(err))
	}

	zl.Info("Sensor node stopped")
}
