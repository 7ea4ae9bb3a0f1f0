package monitor

import (
	"context"
	"math"
	"testing"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"
)

func TestMeanAndStdDev(t *testing.T) {
	mean, stddev := meanAndStdDev([]float64{20, 22, 21, 19, 60})
	if math.Abs(mean-28.4) > 1e-9 {
		t.Errorf("mean = %v, want 28.4", mean)
	}
	// 总体标准差（除以 N）
	if math.Abs(stddev-15.8316) > 0.001 {
		t.Errorf("stddev = %v, want ~15.8316", stddev)
	}

	mean, stddev = meanAndStdDev([]float64{10, 10})
	if mean != 10 || stddev != 0 {
		t.Errorf("uniform prices: mean=%v stddev=%v", mean, stddev)
	}
}

func TestStatsEngine_Recompute(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	se := NewStatsEngine(db, newTestLogger())

	user := seedUser(t, db)
	watch := seedWatch(t, db, user)

	for i, price := range []float64{20, 22, 21, 19, 60} {
		seedLinkedItem(t, db, watch, int64(500+i), price, model.ConditionVeryGood)
	}
	// 单样本分组不产出统计
	seedLinkedItem(t, db, watch, 600, 99.0, model.ConditionGood)

	if err := se.Recompute(ctx, watch.ID); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	var stats []model.PriceStatistics
	if err := db.Where("watch_id = ?", watch.ID).Find(&stats).Error; err != nil {
		t.Fatalf("load stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("groups = %d, want 1", len(stats))
	}

	s := stats[0]
	if s.Condition != model.ConditionVeryGood || s.ItemCount != 5 {
		t.Errorf("stat = %+v", s)
	}
	if math.Abs(s.MeanPrice-28.4) > 1e-9 {
		t.Errorf("mean = %v", s.MeanPrice)
	}
	if math.Abs(s.StdDeviation-15.8316) > 0.001 {
		t.Errorf("stddev = %v", s.StdDeviation)
	}
}

func TestStatsEngine_ExcludesBlacklistedAndInactive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	se := NewStatsEngine(db, newTestLogger())

	user := seedUser(t, db)
	watch := seedWatch(t, db, user)

	seedLinkedItem(t, db, watch, 701, 20.0, 2)
	seedLinkedItem(t, db, watch, 702, 30.0, 2)

	black := seedLinkedItem(t, db, watch, 703, 500.0, 2)
	db.Model(&model.WatchItem{}).
		Where("watch_id = ? AND item_id = ?", watch.ID, black.ID).
		Update("blacklisted", true)

	inactive := seedLinkedItem(t, db, watch, 704, 800.0, 2)
	db.Model(&model.Item{}).Where("id = ?", inactive.ID).Update("is_active", false)

	if err := se.Recompute(ctx, watch.ID); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	var stat model.PriceStatistics
	if err := db.Where("watch_id = ?", watch.ID).First(&stat).Error; err != nil {
		t.Fatalf("load stat: %v", err)
	}
	if stat.ItemCount != 2 {
		t.Errorf("samples = %d, want 2 (blacklisted and inactive excluded)", stat.ItemCount)
	}
	if stat.MeanPrice != 25.0 {
		t.Errorf("mean = %v, want 25", stat.MeanPrice)
	}
}

func TestStatsEngine_DropsStaleGroups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	se := NewStatsEngine(db, newTestLogger())

	user := seedUser(t, db)
	watch := seedWatch(t, db, user)

	a := seedLinkedItem(t, db, watch, 801, 20.0, 2)
	b := seedLinkedItem(t, db, watch, 802, 30.0, 2)

	if err := se.Recompute(ctx, watch.ID); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	var count int64
	db.Model(&model.PriceStatistics{}).Where("watch_id = ?", watch.ID).Count(&count)
	if count != 1 {
		t.Fatalf("groups = %d, want 1", count)
	}

	// 样本跌破阈值后，原有统计行必须被删除
	db.Model(&model.Item{}).Where("id IN ?", []uint{a.ID, b.ID}).Update("is_active", false)
	if err := se.Recompute(ctx, watch.ID); err != nil {
		t.Fatalf("second Recompute: %v", err)
	}

	db.Model(&model.PriceStatistics{}).Where("watch_id = ?", watch.ID).Count(&count)
	if count != 0 {
		t.Errorf("stale groups remain: %d", count)
	}
}
