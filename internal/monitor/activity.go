package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"

	"gorm.io/gorm"
)

// ActivityRecorder 把每次后台任务的执行情况写入活动日志。
type ActivityRecorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewActivityRecorder(db *gorm.DB, logger *slog.Logger) *ActivityRecorder {
	return &ActivityRecorder{db: db, logger: logger}
}

// Begin 写入一条 started 状态的记录。
func (ar *ActivityRecorder) Begin(ctx context.Context, taskType string, watchID *uint) (*model.ActivityRecord, error) {
	rec := &model.ActivityRecord{
		TaskType:  taskType,
		Status:    model.ActivityStarted,
		WatchID:   watchID,
		StartedAt: time.Now(),
	}
	if err := ar.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("begin activity: %w", err)
	}
	return rec, nil
}

// Complete 把记录标记为完成并写入统计字段。
func (ar *ActivityRecorder) Complete(ctx context.Context, rec *model.ActivityRecord) error {
	return ar.finish(ctx, rec, model.ActivityCompleted, "")
}

// Fail 把记录标记为失败并保存错误信息。
func (ar *ActivityRecorder) Fail(ctx context.Context, rec *model.ActivityRecord, taskErr error) error {
	msg := ""
	if taskErr != nil {
		msg = taskErr.Error()
	}
	return ar.finish(ctx, rec, model.ActivityFailed, msg)
}

func (ar *ActivityRecorder) finish(ctx context.Context, rec *model.ActivityRecord, status, errMsg string) error {
	now := time.Now()
	rec.Status = status
	rec.CompletedAt = &now
	rec.DurationSeconds = now.Sub(rec.StartedAt).Seconds()
	rec.ErrorMessage = errMsg

	if err := ar.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("finish activity: %w", err)
	}
	return nil
}

// Track 围绕 fn 的执行维护一条活动记录。
//
// 无论 fn 正常返回、报错还是 panic，记录都不会停留在 started：
// panic 被转成 failed 记录后重新抛出，由上层的恢复逻辑处理。
func (ar *ActivityRecorder) Track(ctx context.Context, taskType string, watchID *uint, fn func(ctx context.Context, rec *model.ActivityRecord) error) error {
	rec, err := ar.Begin(ctx, taskType, watchID)
	if err != nil {
		// 活动日志写不进去不阻塞任务本身
		ar.logger.Error("activity begin failed",
			slog.String("task_type", taskType),
			slog.String("error", err.Error()))
		return fn(ctx, &model.ActivityRecord{TaskType: taskType, StartedAt: time.Now()})
	}

	defer func() {
		if r := recover(); r != nil {
			_ = ar.Fail(ctx, rec, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if err := fn(ctx, rec); err != nil {
		if ferr := ar.Fail(ctx, rec, err); ferr != nil {
			ar.logger.Error("activity fail-mark failed", slog.String("error", ferr.Error()))
		}
		return err
	}
	if cerr := ar.Complete(ctx, rec); cerr != nil {
		ar.logger.Error("activity complete-mark failed", slog.String("error", cerr.Error()))
	}
	return nil
}

// Recent 返回最近的活动记录，最新在前。
func (ar *ActivityRecorder) Recent(ctx context.Context, limit int) ([]model.ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []model.ActivityRecord
	err := ar.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load activity records: %w", err)
	}
	return records, nil
}
