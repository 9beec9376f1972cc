package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"safetysec-engine/internal/config"
	"safetysec-engine/internal/service"
	"safetysec-engine/pkg/common/logger"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(logger.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "safetysec-engine",
		File:        cfg.Log.File,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting safetysec-engine service",
		zap.String("protected_id", cfg.ProtectedID),
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("timezone", cfg.Timezone),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建服务
	guardian, err := service.NewGuardianService(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create guardian service", zap.Error(err))
	}

	// 启动服务
	if err := guardian.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start guardian service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := guardian.Stop(stopCtx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
