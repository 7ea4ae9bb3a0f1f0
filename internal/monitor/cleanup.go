package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"

	"gorm.io/gorm"
)

// Cleaner 负责过期商品的降级与孤儿数据的清理。
type Cleaner struct {
	db      *gorm.DB
	logger  *slog.Logger
	indexer *Indexer
}

func NewCleaner(db *gorm.DB, logger *slog.Logger, indexer *Indexer) *Cleaner {
	return &Cleaner{db: db, logger: logger, indexer: indexer}
}

// CleanupResult 单轮清理的统计。
type CleanupResult struct {
	Deactivated int64 // 标记为不活跃的商品数
	Deleted     int64 // 物理删除的孤儿商品数
}

// Run 执行一轮清理。
//
// 两步：宽限期内未再出现的商品先标记为不活跃；
// 不活跃且不再关联任何监控的商品物理删除。
func (c *Cleaner) Run(ctx context.Context, gracePeriod time.Duration) (*CleanupResult, error) {
	result := &CleanupResult{}

	deactivated, err := c.indexer.MarkStale(ctx, gracePeriod)
	if err != nil {
		return result, err
	}
	result.Deactivated = deactivated

	res := c.db.WithContext(ctx).
		Where("is_active = ?", false).
		Where("NOT EXISTS (SELECT 1 FROM watch_items WHERE watch_items.item_id = items.id)").
		Delete(&model.Item{})
	if res.Error != nil {
		return result, fmt.Errorf("delete orphan items: %w", res.Error)
	}
	result.Deleted = res.RowsAffected

	if result.Deactivated > 0 || result.Deleted > 0 {
		c.logger.Info("cleanup finished",
			slog.Int64("deactivated", result.Deactivated),
			slog.Int64("deleted", result.Deleted))
	}
	return result, nil
}
