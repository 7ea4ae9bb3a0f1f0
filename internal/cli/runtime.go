package cli

import (
	"fmt"
	"log/slog"

	"github.com/PurgingPanda/vinted-koopjes/internal/config"
	"github.com/PurgingPanda/vinted-koopjes/internal/model"
	"github.com/PurgingPanda/vinted-koopjes/internal/monitor"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/logger"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/notify"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/queue"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/ratelimit"
	"github.com/PurgingPanda/vinted-koopjes/internal/vinted"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Runtime 命令共用的运行时依赖。
type Runtime struct {
	Cfg    *config.Config
	Logger *slog.Logger
	DB     *gorm.DB
	RDB    *redis.Client
	Tokens *vinted.RedisTokenSource
}

// NewRuntime 按配置文件组装 CLI 运行时。
func NewRuntime(configPath string) (*Runtime, error) {
	cfg := config.LoadOrDefault(configPath)
	log := logger.NewDefault(cfg.App.LogLevel)

	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.Watch{}, &model.Item{}, &model.WatchItem{},
		&model.PriceStatistics{}, &model.UnderpriceAlert{},
		&model.BlockingState{}, &model.ActivityRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})

	return &Runtime{
		Cfg:    cfg,
		Logger: log,
		DB:     db,
		RDB:    rdb,
		Tokens: vinted.NewRedisTokenSource(rdb, log, "", cfg.Vinted.TokenTTL),
	}, nil
}

// BuildMonitor 组装完整的监控管线（含真实客户端与限流器）。
func (rt *Runtime) BuildMonitor() (*monitor.Monitor, *monitor.BlockingTracker, error) {
	limiter := ratelimit.NewRedisRateLimiter(rt.RDB, rt.Logger, "", rt.Cfg.App.RateLimit, rt.Cfg.App.RateBurst)
	client := vinted.NewClient(&rt.Cfg.Vinted, rt.Tokens, limiter, rt.Logger)

	tracker, err := monitor.NewBlockingTracker(rt.DB, rt.Logger, rt.Cfg.App.CheckInterval, rt.Cfg.App.BlockedCheckInterval)
	if err != nil {
		return nil, nil, err
	}

	indexer := monitor.NewIndexer(rt.DB, rt.Logger)
	notifier := notify.NewEmailNotifier(&rt.Cfg.Email, rt.Logger)
	mon := monitor.NewMonitor(
		&rt.Cfg.App, rt.DB, rt.Logger, client,
		queue.NewQueue(rt.Logger, rt.Cfg.App.WorkerPoolSize, rt.Cfg.App.QueueCapacity),
		tracker,
		indexer,
		monitor.NewStatsEngine(rt.DB, rt.Logger),
		monitor.NewDetector(rt.DB, rt.Logger, notifier),
		monitor.NewActivityRecorder(rt.DB, rt.Logger),
		monitor.NewCleaner(rt.DB, rt.Logger, indexer),
	)
	return mon, tracker, nil
}

// Close 释放连接。
func (rt *Runtime) Close() {
	if rt.RDB != nil {
		_ = rt.RDB.Close()
	}
	if rt.DB != nil {
		if sqlDB, err := rt.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
