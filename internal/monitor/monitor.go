package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/config"
	"github.com/PurgingPanda/vinted-koopjes/internal/model"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/metrics"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/queue"
	"github.com/PurgingPanda/vinted-koopjes/internal/vinted"

	"gorm.io/gorm"
)

// ErrCheckInFlight 表示该监控已有检查在排队或执行中。
var ErrCheckInFlight = errors.New("watch check already in flight")

// Searcher 抽象目录搜索，便于测试替换真实客户端。
type Searcher interface {
	SearchPage(ctx context.Context, params *vinted.SearchParams, page, perPage int) (*vinted.Page, error)
}

// Monitor 调度器：周期性检查所有活跃监控，封锁期间降级为金丝雀探测。
type Monitor struct {
	cfg      *config.AppConfig
	db       *gorm.DB
	logger   *slog.Logger
	client   Searcher
	queue    *queue.Queue
	tracker  *BlockingTracker
	indexer  *Indexer
	stats    *StatsEngine
	detector *Detector
	activity *ActivityRecorder
	cleaner  *Cleaner
}

// NewMonitor 组装调度器。
func NewMonitor(
	cfg *config.AppConfig,
	db *gorm.DB,
	logger *slog.Logger,
	client Searcher,
	q *queue.Queue,
	tracker *BlockingTracker,
	indexer *Indexer,
	stats *StatsEngine,
	detector *Detector,
	activity *ActivityRecorder,
	cleaner *Cleaner,
) *Monitor {
	return &Monitor{
		cfg:      cfg,
		db:       db,
		logger:   logger,
		client:   client,
		queue:    q,
		tracker:  tracker,
		indexer:  indexer,
		stats:    stats,
		detector: detector,
		activity: activity,
		cleaner:  cleaner,
	}
}

// Run 启动调度循环，直到 ctx 被取消。
//
// 间隔每轮重新读取：封锁状态切换后下一轮立即生效。
func (m *Monitor) Run(ctx context.Context) error {
	m.queue.Start(ctx)
	m.logger.Info("monitor started",
		slog.String("check_interval", m.cfg.CheckInterval.String()),
		slog.String("blocked_interval", m.cfg.BlockedCheckInterval.String()))

	// 启动后先跑一轮，不等第一个 tick
	m.runCycle(ctx)

	for {
		interval := m.tracker.CheckInterval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			m.logger.Info("monitor stopped")
			return ctx.Err()
		case <-timer.C:
			m.runCycle(ctx)
		}
	}
}

// runCycle 执行一轮调度。
func (m *Monitor) runCycle(ctx context.Context) {
	metrics.QueueDepth.Set(float64(m.queue.Len()))

	if m.tracker.IsBlocked() {
		m.runProbe(ctx)
		return
	}

	watches, err := m.activeWatches(ctx)
	if err != nil {
		m.logger.Error("load watches failed", slog.String("error", err.Error()))
		return
	}

	for i := range watches {
		w := watches[i]
		m.queue.Enqueue(watchKey(w.ID), func(jobCtx context.Context) error {
			_, err := m.CheckWatch(jobCtx, &w, m.cfg.MaxPagesAuto)
			return err
		})
	}

	// 维护性工作不走队列，每轮顺序执行一次
	if _, err := m.cleaner.Run(ctx, m.cfg.ItemGracePeriod); err != nil {
		m.logger.Error("cleanup failed", slog.String("error", err.Error()))
	}
	if _, err := m.detector.RetryUnsent(ctx); err != nil {
		m.logger.Error("retry unsent alerts failed", slog.String("error", err.Error()))
	}
}

// runProbe 封锁期间只用金丝雀监控探测恢复，避免全量请求加剧封锁。
func (m *Monitor) runProbe(ctx context.Context) {
	canary, err := m.canaryWatch(ctx)
	if err != nil {
		m.logger.Error("select canary watch failed", slog.String("error", err.Error()))
		return
	}
	if canary == nil {
		m.logger.Warn("no active watch available for canary probe")
		return
	}

	m.logger.Info("blocked mode, probing with canary",
		slog.Uint64("watch_id", uint64(canary.ID)))
	m.queue.Enqueue(watchKey(canary.ID), func(jobCtx context.Context) error {
		_, err := m.CheckWatch(jobCtx, canary, 1)
		return err
	})
}

// CheckWatch 同步执行一次监控检查：抓取、入库、统计、检测。
//
// 结果同时反映到封锁跟踪器：封锁与传输类失败计一次失败，
// 成功抓到页面即记成功。
func (m *Monitor) CheckWatch(ctx context.Context, watch *model.Watch, maxPages int) (*model.ActivityRecord, error) {
	start := time.Now()
	defer func() {
		metrics.WatchCheckDuration.Observe(time.Since(start).Seconds())
	}()

	var out *model.ActivityRecord
	err := m.activity.Track(ctx, model.TaskTypeCheckWatch, &watch.ID, func(ctx context.Context, rec *model.ActivityRecord) error {
		out = rec
		return m.checkWatch(ctx, watch, maxPages, rec)
	})
	return out, err
}

func (m *Monitor) checkWatch(ctx context.Context, watch *model.Watch, maxPages int, rec *model.ActivityRecord) error {
	params, err := vinted.DecodeSearchParams(watch.SearchParams)
	if err != nil {
		return fmt.Errorf("watch %d params: %w", watch.ID, err)
	}

	fetchedAny := false
	for page := 1; page <= maxPages; page++ {
		result, err := m.client.SearchPage(ctx, params, page, m.cfg.PageSize)
		if err != nil {
			// 封锁信号与重试耗尽的传输故障计入失败，影响调度节奏；
			// 凭证、解析错误与本地关停取消不影响封锁判定
			if ctx.Err() == nil {
				switch vinted.KindOf(err) {
				case vinted.KindBlocked, vinted.KindTransient:
					if terr := m.tracker.RecordFailure(ctx); terr != nil {
						m.logger.Error("record failure failed", slog.String("error", terr.Error()))
					}
				}
			}
			return fmt.Errorf("fetch page %d: %w", page, err)
		}

		fetchedAny = true
		rec.PagesFetched++

		if result.Empty() {
			break
		}

		ingest, err := m.indexer.Ingest(ctx, watch, result.Items)
		if err != nil {
			return err
		}
		rec.ItemsProcessed += len(result.Items)
		rec.NewItemsFound += ingest.NewItems

		if result.TotalPages > 0 && page >= result.TotalPages {
			break
		}
	}

	if fetchedAny {
		if terr := m.tracker.RecordSuccess(ctx); terr != nil {
			m.logger.Error("record success failed", slog.String("error", terr.Error()))
		}
	}

	if err := m.stats.Recompute(ctx, watch.ID); err != nil {
		return err
	}
	alerts, err := m.detector.Detect(ctx, watch)
	if err != nil {
		return err
	}
	rec.AlertsGenerated = alerts

	m.logger.Info("watch checked",
		slog.Uint64("watch_id", uint64(watch.ID)),
		slog.Int("pages", rec.PagesFetched),
		slog.Int("items", rec.ItemsProcessed),
		slog.Int("new_items", rec.NewItemsFound),
		slog.Int("alerts", alerts))
	return nil
}

// TriggerCheck 手动触发一次监控检查并等待结果。
//
// 与自动调度共用同一个互斥 key：已有在途检查时返回 ErrCheckInFlight。
func (m *Monitor) TriggerCheck(ctx context.Context, watchID uint, maxPages int) (*model.ActivityRecord, error) {
	var watch model.Watch
	if err := m.db.WithContext(ctx).Preload("User").First(&watch, watchID).Error; err != nil {
		return nil, fmt.Errorf("load watch %d: %w", watchID, err)
	}

	if maxPages <= 0 || maxPages > m.cfg.MaxPagesManual {
		maxPages = m.cfg.MaxPagesManual
	}

	var (
		mu     sync.Mutex
		rec    *model.ActivityRecord
		runErr error
	)
	done := make(chan struct{})

	enqueued, err := m.queue.EnqueueWait(ctx, watchKey(watch.ID), func(jobCtx context.Context) error {
		r, e := m.CheckWatch(jobCtx, &watch, maxPages)
		mu.Lock()
		rec, runErr = r, e
		mu.Unlock()
		close(done)
		return e
	})
	if err != nil {
		return nil, err
	}
	if !enqueued {
		return nil, ErrCheckInFlight
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	mu.Lock()
	defer mu.Unlock()
	return rec, runErr
}

// activeWatches 返回全部参与调度的监控。
func (m *Monitor) activeWatches(ctx context.Context) ([]model.Watch, error) {
	var watches []model.Watch
	err := m.db.WithContext(ctx).Preload("User").
		Where("is_active = ?", true).
		Order("id").
		Find(&watches).Error
	if err != nil {
		return nil, fmt.Errorf("load active watches: %w", err)
	}
	return watches, nil
}

// canaryWatch 选择探测用监控：优先显式标记的，其次最老的活跃监控。
func (m *Monitor) canaryWatch(ctx context.Context) (*model.Watch, error) {
	state := m.tracker.State()
	if state.CanaryWatchID != nil {
		var watch model.Watch
		err := m.db.WithContext(ctx).Preload("User").First(&watch, *state.CanaryWatchID).Error
		if err == nil && watch.IsActive {
			return &watch, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var watch model.Watch
	err := m.db.WithContext(ctx).Preload("User").
		Where("is_active = ?", true).
		Order("canary DESC, id ASC").
		First(&watch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &watch, nil
}

func watchKey(id uint) string {
	return fmt.Sprintf("watch:%d", id)
}
