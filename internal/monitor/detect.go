package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/metrics"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/notify"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Detector 基于价格统计识别低价商品并产生告警。
type Detector struct {
	db       *gorm.DB
	logger   *slog.Logger
	notifier notify.Notifier
}

// NewDetector 创建检测器。notifier 可为 nil（只落库，不发通知）。
func NewDetector(db *gorm.DB, logger *slog.Logger, notifier notify.Notifier) *Detector {
	return &Detector{db: db, logger: logger, notifier: notifier}
}

// Detect 对一个监控执行一轮捡漏检测，返回新产生的告警数。
//
// 判定条件（满足其一即告警）：
//   - 价格低于同成色均值至少 StdDevThreshold 个标准差
//   - 价格不高于 AbsolutePriceThreshold（若设置）
//
// (watch, item) 上的唯一索引保证同一商品只告警一次：数据库层
// DO NOTHING 使重复检测天然幂等，也挡住并发下的双写。
func (d *Detector) Detect(ctx context.Context, watch *model.Watch) (int, error) {
	stats, err := d.loadStats(ctx, watch.ID)
	if err != nil {
		return 0, err
	}

	var items []model.Item
	err = d.db.WithContext(ctx).
		Joins("JOIN watch_items ON watch_items.item_id = items.id").
		Where("watch_items.watch_id = ? AND watch_items.blacklisted = ? AND items.is_active = ?",
			watch.ID, false, true).
		Find(&items).Error
	if err != nil {
		return 0, fmt.Errorf("load candidate items: %w", err)
	}

	created := 0
	for i := range items {
		item := &items[i]

		var stdDevsBelow float64
		qualifies := false

		if stat, ok := stats[item.Condition]; ok && stat.StdDeviation > 0 {
			stdDevsBelow = (stat.MeanPrice - item.Price) / stat.StdDeviation
			if stdDevsBelow >= watch.StdDevThreshold {
				qualifies = true
			}
		}
		if watch.AbsolutePriceThreshold != nil && item.Price <= *watch.AbsolutePriceThreshold {
			qualifies = true
		}
		if !qualifies {
			continue
		}

		isNew, err := d.createAlert(ctx, watch, item, stats[item.Condition], stdDevsBelow)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}

	if created > 0 {
		d.logger.Info("underprice alerts generated",
			slog.Uint64("watch_id", uint64(watch.ID)),
			slog.Int("count", created))
	}
	return created, nil
}

func (d *Detector) loadStats(ctx context.Context, watchID uint) (map[int]*model.PriceStatistics, error) {
	var rows []model.PriceStatistics
	if err := d.db.WithContext(ctx).Where("watch_id = ?", watchID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}
	stats := make(map[int]*model.PriceStatistics, len(rows))
	for i := range rows {
		stats[rows[i].Condition] = &rows[i]
	}
	return stats, nil
}

// createAlert 幂等创建告警，返回是否为新告警。
func (d *Detector) createAlert(ctx context.Context, watch *model.Watch, item *model.Item, stat *model.PriceStatistics, stdDevsBelow float64) (bool, error) {
	alert := model.UnderpriceAlert{
		WatchID:      watch.ID,
		ItemID:       item.ID,
		DetectedAt:   time.Now(),
		StdDevsBelow: stdDevsBelow,
	}
	if stat != nil {
		alert.PriceDifference = stat.MeanPrice - item.Price
	}

	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "watch_id"}, {Name: "item_id"}},
		DoNothing: true,
	}).Create(&alert)
	if res.Error != nil {
		return false, fmt.Errorf("create alert: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	metrics.AlertsGeneratedTotal.Inc()
	d.logger.Info("underpriced item detected",
		slog.Uint64("watch_id", uint64(watch.ID)),
		slog.Int64("vinted_id", item.VintedID),
		slog.Float64("price", item.Price),
		slog.Float64("std_devs_below", stdDevsBelow))

	d.sendAlert(ctx, &alert, watch, item)
	return true, nil
}

// sendAlert 发送通知并在成功后标记。失败只记日志：
// 告警已落库，EmailSent 保持 false，等 RetryUnsent 补发。
func (d *Detector) sendAlert(ctx context.Context, alert *model.UnderpriceAlert, watch *model.Watch, item *model.Item) {
	if d.notifier == nil {
		return
	}

	email := watch.User.Email
	if email == "" {
		var user model.User
		if err := d.db.WithContext(ctx).First(&user, watch.UserID).Error; err == nil {
			email = user.Email
		}
	}

	if err := d.notifier.NotifyUnderprice(ctx, alert, watch, item, email); err != nil {
		metrics.AlertEmailsTotal.WithLabelValues("error").Inc()
		d.logger.Error("alert notification failed",
			slog.Uint64("alert_id", uint64(alert.ID)),
			slog.String("error", err.Error()))
		return
	}

	now := time.Now()
	if err := d.db.WithContext(ctx).Model(alert).
		Updates(map[string]interface{}{"email_sent": true, "email_sent_at": now}).Error; err != nil {
		d.logger.Error("mark alert sent failed",
			slog.Uint64("alert_id", uint64(alert.ID)),
			slog.String("error", err.Error()))
		return
	}
	metrics.AlertEmailsTotal.WithLabelValues("success").Inc()
}

// RetryUnsent 补发所有未成功通知的告警，返回补发成功数。
func (d *Detector) RetryUnsent(ctx context.Context) (int, error) {
	var alerts []model.UnderpriceAlert
	err := d.db.WithContext(ctx).
		Preload("Watch").Preload("Watch.User").Preload("Item").
		Where("email_sent = ? AND hidden = ?", false, false).
		Find(&alerts).Error
	if err != nil {
		return 0, fmt.Errorf("load unsent alerts: %w", err)
	}

	sent := 0
	for i := range alerts {
		a := &alerts[i]
		d.sendAlert(ctx, a, &a.Watch, &a.Item)

		var refreshed model.UnderpriceAlert
		if err := d.db.WithContext(ctx).Select("email_sent").First(&refreshed, a.ID).Error; err == nil && refreshed.EmailSent {
			sent++
		}
	}
	return sent, nil
}
