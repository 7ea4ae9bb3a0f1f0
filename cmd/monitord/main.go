package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/api"
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

// main 是监控守护进程的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志
// 2. 连接 MySQL 与 Redis
// 3. 组装监控管线并启动调度循环
// 4. 暴露管理 API 与指标端点
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		appLogger.Error("open mysql failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := db.AutoMigrate(
		&model.User{}, &model.Watch{}, &model.Item{}, &model.WatchItem{},
		&model.PriceStatistics{}, &model.UnderpriceAlert{},
		&model.BlockingState{}, &model.ActivityRecord{},
	); err != nil {
		appLogger.Error("migrate failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("redis ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tokens := vinted.NewRedisTokenSource(rdb, appLogger, "", cfg.Vinted.TokenTTL)
	limiter := ratelimit.NewRedisRateLimiter(rdb, appLogger, "", cfg.App.RateLimit, cfg.App.RateBurst)
	client := vinted.NewClient(&cfg.Vinted, tokens, limiter, appLogger)

	tracker, err := monitor.NewBlockingTracker(db, appLogger, cfg.App.CheckInterval, cfg.App.BlockedCheckInterval)
	if err != nil {
		appLogger.Error("init blocking tracker failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	indexer := monitor.NewIndexer(db, appLogger)
	activity := monitor.NewActivityRecorder(db, appLogger)
	jobQueue := queue.NewQueue(appLogger, cfg.App.WorkerPoolSize, cfg.App.QueueCapacity)
	notifier := notify.NewEmailNotifier(&cfg.Email, appLogger)

	mon := monitor.NewMonitor(
		&cfg.App, db, appLogger, client, jobQueue, tracker,
		indexer,
		monitor.NewStatsEngine(db, appLogger),
		monitor.NewDetector(db, appLogger, notifier),
		activity,
		monitor.NewCleaner(db, appLogger, indexer),
	)

	go func() {
		if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("monitor loop exited", slog.String("error", err.Error()))
		}
	}()

	srv := api.NewServer(cfg, appLogger, db, mon, tracker, activity, tokens)
	httpServer := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: srv.Router(),
	}

	go func() {
		appLogger.Info("admin api listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down monitord...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := jobQueue.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("queue shutdown failed", slog.String("error", err.Error()))
	}
	if err := rdb.Close(); err != nil {
		appLogger.Error("close redis failed", slog.String("error", err.Error()))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
