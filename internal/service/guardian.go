package service

import (
	"context"
	"database/sql"
	"fmt"

	"safetysec-engine/internal/config"
	"safetysec-engine/internal/consumer"
	"safetysec-engine/internal/lifecycle"
	"safetysec-engine/internal/notifier"
	"safetysec-engine/internal/repository"
	"safetysec-engine/pkg/common/database"
	mqttcommon "safetysec-engine/pkg/common/mqtt"
	rediscommon "safetysec-engine/pkg/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// GuardianService 被监护人安全监控服务
type GuardianService struct {
	config     *config.Config
	logger     *zap.Logger
	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client

	dispatcher *notifier.Dispatcher
	runner     *lifecycle.Runner
	engine     *consumer.Engine
	feed       *consumer.ChangeFeed
	consumer   *consumer.MQTTConsumer

	feedCancel   context.CancelFunc
	engineCancel context.CancelFunc
	runnerCancel context.CancelFunc
}

// NewGuardianService 创建服务并连接数据库、Redis、MQTT
func NewGuardianService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*GuardianService, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// 初始化数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		rediscommon.Close(redisClient)
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	sink, err := newSink(cfg, redisClient)
	if err != nil {
		mqttClient.Disconnect()
		rediscommon.Close(redisClient)
		database.Close(db)
		return nil, err
	}

	// 创建Repository
	ruleRepo := repository.NewRuleRepository(db, logger)
	windowRepo := repository.NewTimeWindowRepository(db, logger)
	relationRepo := repository.NewRelationRepository(db, logger)
	profileRepo := repository.NewProfileRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)

	profiles := consumer.NewCachedProfileStore(
		consumer.NewRedisKVStore(redisClient),
		profileRepo,
		cfg.Store.ProfileKeyPrefix,
		cfg.Store.ProfileTTL,
		logger,
	)
	states := consumer.NewStateManager(redisClient, cfg.Store.StateKeyPrefix, cfg.Store.StateTTL, logger)

	dispatcher := notifier.NewDispatcher(sink, notifier.DispatcherOptions{
		Workers:    cfg.Notifier.Workers,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
		Burst:      cfg.Notifier.Burst,
		MaxRetries: cfg.Notifier.MaxRetries,
	}, logger.Named("notifier"))

	device := notifier.NewDeviceChannel(mqttClient, cfg.Topics.Prefix, cfg.ProtectedID, cfg.MQTT.QoS, logger)

	manager := lifecycle.NewManager(
		lifecycle.Options{
			ProtectedID:       cfg.ProtectedID,
			CountdownSeconds:  cfg.Lifecycle.CountdownSeconds,
			StoreTimeout:      cfg.Lifecycle.StoreTimeout,
			ActiveBatchLimit:  cfg.Lifecycle.ActiveBatchLimit,
			SideEffectTimeout: cfg.Lifecycle.SideEffectTimeout,
		},
		alertRepo,
		relationRepo,
		profiles,
		device,
		device,
		dispatcher,
		logger.Named("lifecycle"),
	)
	runner := lifecycle.NewRunner(manager, cfg.Lifecycle.CandidateQueueSize, cfg.Lifecycle.TickInterval, logger.Named("lifecycle"))

	engine := consumer.NewEngine(consumer.EngineOptions{
		ProtectedID:        cfg.ProtectedID,
		Location:           loc,
		InactivityInterval: cfg.Engine.InactivityInterval,
		QueueSize:          cfg.Engine.SampleQueueSize,
		MetricsInterval:    cfg.Engine.MetricsInterval,
		CheckpointMaxAge:   cfg.Engine.CheckpointMaxAge,
	}, runner, states, logger.Named("engine"))

	feed := consumer.NewChangeFeed(
		redisClient,
		cfg.Store.ChangeChannel,
		cfg.ProtectedID,
		ruleRepo,
		windowRepo,
		engine,
		profiles,
		cfg.Store.ResyncInterval,
		logger.Named("feed"),
	)

	mqttConsumer := consumer.NewMQTTConsumer(mqttClient, cfg.Topics.Prefix, cfg.ProtectedID, cfg.MQTT.QoS, engine, runner, logger)

	return &GuardianService{
		config:     cfg,
		logger:     logger,
		db:         db,
		redis:      redisClient,
		mqttClient: mqttClient,
		dispatcher: dispatcher,
		runner:     runner,
		engine:     engine,
		feed:       feed,
		consumer:   mqttConsumer,
	}, nil
}

// newSink 按配置选择通知出口
func newSink(cfg *config.Config, redisClient *redis.Client) (notifier.Sink, error) {
	switch cfg.Notifier.Sink {
	case config.SinkRedis:
		return notifier.NewRedisStreamSink(redisClient, cfg.Notifier.Stream, cfg.Notifier.StreamMaxLen), nil
	case config.SinkKafka:
		return notifier.NewKafkaSink(cfg.Notifier.KafkaBrokers, cfg.Notifier.KafkaTopic), nil
	case config.SinkWebhook:
		return notifier.NewWebhookSink(cfg.Notifier.WebhookURL, cfg.Notifier.WebhookTimeout), nil
	default:
		return nil, fmt.Errorf("unknown notifier sink: %q", cfg.Notifier.Sink)
	}
}

// Start 启动服务
// 各组件使用独立的 context，由 Stop 按顺序关闭
func (s *GuardianService) Start(ctx context.Context) error {
	s.logger.Info("Starting guardian service components",
		zap.String("protected_id", s.config.ProtectedID),
		zap.String("notifier_sink", s.config.Notifier.Sink),
	)

	base := context.WithoutCancel(ctx)

	// 通知分发
	s.dispatcher.Start()

	// 报警生命周期
	runnerCtx, runnerCancel := context.WithCancel(base)
	s.runnerCancel = runnerCancel
	s.run("lifecycle runner", func() error { return s.runner.Start(runnerCtx) })

	// 信号处理引擎
	engineCtx, engineCancel := context.WithCancel(base)
	s.engineCancel = engineCancel
	s.run("engine", func() error { return s.engine.Start(engineCtx) })

	// 规则/时间窗口变更订阅
	feedCtx, feedCancel := context.WithCancel(base)
	s.feedCancel = feedCancel
	s.run("change feed", func() error { return s.feed.Start(feedCtx) })

	// 启动MQTT消费者
	if err := s.consumer.Subscribe(); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	s.logger.Info("Guardian service started successfully")
	return nil
}

func (s *GuardianService) run(name string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			s.logger.Error("Component exited with error", zap.String("component", name), zap.Error(err))
		}
	}()
}

// Stop 停止服务：先停止输入，再停止引擎和生命周期，最后排空通知队列
func (s *GuardianService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping guardian service")

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("Error stopping MQTT consumer", zap.Error(err))
		}
	}

	if s.feedCancel != nil {
		s.feedCancel()
	}
	if s.engineCancel != nil {
		s.engineCancel()
		s.wait(ctx, s.engine.Done(), "engine")
	}
	if s.runnerCancel != nil {
		s.runnerCancel()
		s.wait(ctx, s.runner.Done(), "lifecycle runner")
	}

	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}

	// 断开MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭Redis
	if s.redis != nil {
		if err := rediscommon.Close(s.redis); err != nil {
			s.logger.Error("Error closing Redis client", zap.Error(err))
		}
	}

	// 关闭数据库
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Error closing database connection", zap.Error(err))
		}
	}

	s.logger.Info("Guardian service stopped",
		zap.Any("engine", s.engine.GetMetrics()),
		zap.Any("lifecycle", s.runner.Metrics()),
		zap.Any("notifier", s.dispatcher.Stats()),
	)
	return nil
}

func (s *GuardianService) wait(ctx context.Context, done <-chan struct{}, name string) {
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for component", zap.String("component", name))
	}
}
