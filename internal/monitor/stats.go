package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// minSampleSize 每个成色分组至少需要的样本数，低于此数不产出统计。
const minSampleSize = 2

// StatsEngine 维护每个 (监控, 成色) 分组的价格统计。
type StatsEngine struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStatsEngine(db *gorm.DB, logger *slog.Logger) *StatsEngine {
	return &StatsEngine{db: db, logger: logger}
}

// Recompute 对一个监控全量重算价格统计。
//
// 只统计活跃且未被黑名单标记的商品。整轮替换而非增量更新：
// 样本跌到阈值以下的分组会被删除，结果与商品的观测顺序无关。
func (se *StatsEngine) Recompute(ctx context.Context, watchID uint) error {
	type sample struct {
		Condition int
		Price     float64
	}
	var samples []sample

	err := se.db.WithContext(ctx).Model(&model.Item{}).
		Select("items.item_condition AS condition, items.price").
		Joins("JOIN watch_items ON watch_items.item_id = items.id").
		Where("watch_items.watch_id = ? AND watch_items.blacklisted = ? AND items.is_active = ?",
			watchID, false, true).
		Scan(&samples).Error
	if err != nil {
		return fmt.Errorf("load price samples: %w", err)
	}

	prices := make(map[int][]float64)
	for _, s := range samples {
		prices[s.Condition] = append(prices[s.Condition], s.Price)
	}

	now := time.Now()
	kept := make([]int, 0, len(prices))

	return se.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for condition, vals := range prices {
			if len(vals) < minSampleSize {
				continue
			}
			mean, stddev := meanAndStdDev(vals)
			stat := model.PriceStatistics{
				WatchID:        watchID,
				Condition:      condition,
				MeanPrice:      mean,
				StdDeviation:   stddev,
				ItemCount:      len(vals),
				LastCalculated: now,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "watch_id"}, {Name: "item_condition"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"mean_price", "std_deviation", "item_count", "last_calculated",
				}),
			}).Create(&stat).Error; err != nil {
				return fmt.Errorf("upsert statistics: %w", err)
			}
			kept = append(kept, condition)
		}

		// 清掉本轮没有产出的分组
		del := tx.Where("watch_id = ?", watchID)
		if len(kept) > 0 {
			del = del.Where("item_condition NOT IN ?", kept)
		}
		if err := del.Delete(&model.PriceStatistics{}).Error; err != nil {
			return fmt.Errorf("delete stale statistics: %w", err)
		}

		se.logger.Debug("statistics recomputed",
			slog.Uint64("watch_id", uint64(watchID)),
			slog.Int("groups", len(kept)),
			slog.Int("samples", len(samples)))
		return nil
	})
}

// meanAndStdDev 计算算术平均与总体标准差（除以 N，不是 N-1）。
func meanAndStdDev(vals []float64) (float64, float64) {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(vals)))
}
