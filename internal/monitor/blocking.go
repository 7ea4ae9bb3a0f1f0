package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/metrics"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// blockedThreshold 连续失败多少次后进入封锁模式。
const blockedThreshold = 3

// BlockingTracker 维护上游封锁状态的单例。
//
// 状态持久化在 blocking_states 表的固定一行（id=1），进程重启后
// 沿用上次的判断。所有写操作经由内部互斥锁串行化，调用方可以
// 从任意 goroutine 安全调用。
type BlockingTracker struct {
	db     *gorm.DB
	logger *slog.Logger

	normalInterval  time.Duration
	blockedInterval time.Duration

	mu    sync.Mutex
	state model.BlockingState
}

// NewBlockingTracker 加载（或初始化）持久化状态并返回跟踪器。
func NewBlockingTracker(db *gorm.DB, logger *slog.Logger, normalInterval, blockedInterval time.Duration) (*BlockingTracker, error) {
	t := &BlockingTracker{
		db:              db,
		logger:          logger,
		normalInterval:  normalInterval,
		blockedInterval: blockedInterval,
	}

	state := model.BlockingState{ID: 1, LastCheckedAt: time.Now()}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error; err != nil {
		return nil, fmt.Errorf("init blocking state: %w", err)
	}
	if err := db.First(&t.state, 1).Error; err != nil {
		return nil, fmt.Errorf("load blocking state: %w", err)
	}

	t.exportMetrics()
	if t.state.IsBlocked {
		logger.Warn("resuming in blocked mode",
			slog.Time("blocked_since", derefTime(t.state.BlockedSince)))
	}
	return t, nil
}

// RecordSuccess 记录一次成功的上游交互。单次成功即解除封锁。
func (t *BlockingTracker) RecordSuccess(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	wasBlocked := t.state.IsBlocked

	t.state.ConsecutiveFailures = 0
	t.state.IsBlocked = false
	t.state.BlockedSince = nil
	t.state.LastCheckedAt = now
	t.state.LastSuccessAt = &now

	if err := t.persist(ctx); err != nil {
		return err
	}
	if wasBlocked {
		t.logger.Info("upstream unblocked after successful probe")
	}
	return nil
}

// RecordFailure 记录一次影响调度节奏的失败（封锁信号或传输故障）。
// 连续失败达到阈值后进入封锁模式。
func (t *BlockingTracker) RecordFailure(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.state.ConsecutiveFailures++
	t.state.LastCheckedAt = now

	if !t.state.IsBlocked && t.state.ConsecutiveFailures >= blockedThreshold {
		t.state.IsBlocked = true
		t.state.BlockedSince = &now
		t.logger.Error("upstream blocked, entering probe mode",
			slog.Int("consecutive_failures", t.state.ConsecutiveFailures))
	} else {
		t.logger.Warn("upstream failure recorded",
			slog.Int("consecutive_failures", t.state.ConsecutiveFailures))
	}

	return t.persist(ctx)
}

// SetCanary 指定封锁期间用于探测的监控。
func (t *BlockingTracker) SetCanary(ctx context.Context, watchID *uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.CanaryWatchID = watchID
	return t.persist(ctx)
}

// IsBlocked 返回当前是否处于封锁模式。
func (t *BlockingTracker) IsBlocked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.IsBlocked
}

// CheckInterval 返回当前应使用的调度间隔。
func (t *BlockingTracker) CheckInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsBlocked {
		return t.blockedInterval
	}
	return t.normalInterval
}

// State 返回当前状态的副本。
func (t *BlockingTracker) State() model.BlockingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// persist 调用方必须持有 t.mu。
func (t *BlockingTracker) persist(ctx context.Context) error {
	if err := t.db.WithContext(ctx).Save(&t.state).Error; err != nil {
		return fmt.Errorf("persist blocking state: %w", err)
	}
	t.exportMetrics()
	return nil
}

func (t *BlockingTracker) exportMetrics() {
	if t.state.IsBlocked {
		metrics.UpstreamBlocked.Set(1)
	} else {
		metrics.UpstreamBlocked.Set(0)
	}
	metrics.ConsecutiveFailures.Set(float64(t.state.ConsecutiveFailures))
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
