package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/config"
	"github.com/PurgingPanda/vinted-koopjes/internal/model"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/queue"
	"github.com/PurgingPanda/vinted-koopjes/internal/vinted"

	"gorm.io/gorm"
)

// fakeSearcher 返回预置页面或错误。
type fakeSearcher struct {
	pages map[int]*vinted.Page
	err   error
	calls atomic.Int32
}

func (f *fakeSearcher) SearchPage(ctx context.Context, params *vinted.SearchParams, page, perPage int) (*vinted.Page, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.pages[page]; ok {
		return p, nil
	}
	return &vinted.Page{CurrentPage: page}, nil
}

func testAppConfig() *config.AppConfig {
	return &config.AppConfig{
		CheckInterval:        5 * time.Minute,
		BlockedCheckInterval: 60 * time.Minute,
		ItemGracePeriod:      24 * time.Hour,
		WorkerPoolSize:       2,
		QueueCapacity:        16,
		MaxPagesAuto:         5,
		MaxPagesManual:       10,
		PageSize:             96,
	}
}

func newTestMonitor(t *testing.T, db *gorm.DB, searcher Searcher) *Monitor {
	t.Helper()
	logger := newTestLogger()

	tracker, err := NewBlockingTracker(db, logger, 5*time.Minute, 60*time.Minute)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	indexer := NewIndexer(db, logger)
	cfg := testAppConfig()
	return NewMonitor(
		cfg, db, logger, searcher,
		queue.NewQueue(logger, cfg.WorkerPoolSize, cfg.QueueCapacity),
		tracker,
		indexer,
		NewStatsEngine(db, logger),
		NewDetector(db, logger, nil),
		NewActivityRecorder(db, logger),
		NewCleaner(db, logger, indexer),
	)
}

func pageOf(page, totalPages int, items ...vinted.CatalogItem) *vinted.Page {
	return &vinted.Page{
		CurrentPage: page,
		TotalPages:  totalPages,
		Items:       items,
	}
}

func TestMonitor_CheckWatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := seedUser(t, db)
	watch := seedWatch(t, db, user)

	searcher := &fakeSearcher{pages: map[int]*vinted.Page{
		1: pageOf(1, 2,
			catalogItem(2001, 20.0, 2, "jacket a"),
			catalogItem(2002, 22.0, 2, "jacket b")),
		2: pageOf(2, 2,
			catalogItem(2003, 21.0, 2, "jacket c")),
	}}
	m := newTestMonitor(t, db, searcher)

	rec, err := m.CheckWatch(ctx, watch, 5)
	if err != nil {
		t.Fatalf("CheckWatch: %v", err)
	}

	if rec.PagesFetched != 2 {
		t.Errorf("pages = %d, want 2 (stop at total_pages)", rec.PagesFetched)
	}
	if rec.ItemsProcessed != 3 || rec.NewItemsFound != 3 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Status != model.ActivityCompleted {
		t.Errorf("status = %q", rec.Status)
	}

	var itemCount int64
	db.Model(&model.Item{}).Count(&itemCount)
	if itemCount != 3 {
		t.Errorf("items in db = %d", itemCount)
	}

	// 成功抓取应重置封锁计数
	if st := m.tracker.State(); st.LastSuccessAt == nil {
		t.Error("success should be recorded on tracker")
	}

	var stat model.PriceStatistics
	if err := db.Where("watch_id = ?", watch.ID).First(&stat).Error; err != nil {
		t.Errorf("statistics should be recomputed: %v", err)
	}
}

func TestMonitor_CheckWatchStopsOnEmptyPage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := seedUser(t, db)
	watch := seedWatch(t, db, user)

	searcher := &fakeSearcher{pages: map[int]*vinted.Page{
		1: pageOf(1, 10, catalogItem(2101, 20.0, 2, "jacket")),
		// 第 2 页为空
	}}
	m := newTestMonitor(t, db, searcher)

	rec, err := m.CheckWatch(ctx, watch, 5)
	if err != nil {
		t.Fatalf("CheckWatch: %v", err)
	}
	if rec.PagesFetched != 2 {
		t.Errorf("pages = %d, want 2 (fetch until empty)", rec.PagesFetched)
	}
	if searcher.calls.Load() != 2 {
		t.Errorf("calls = %d", searcher.calls.Load())
	}
}

func TestMonitor_CheckWatchBlockedFeedsTracker(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := seedUser(t, db)
	watch := seedWatch(t, db, user)

	searcher := &fakeSearcher{err: &vinted.APIError{Kind: vinted.KindBlocked, StatusCode: 403, Err: errors.New("forbidden")}}
	m := newTestMonitor(t, db, searcher)

	for i := 0; i < 3; i++ {
		if _, err := m.CheckWatch(ctx, watch, 5); err == nil {
			t.Fatal("expected error")
		}
	}

	if !m.tracker.IsBlocked() {
		t.Error("3 blocked failures should trip the tracker")
	}

	// 活动记录不能停留在 started
	var records []model.ActivityRecord
	db.Find(&records)
	for _, r := range records {
		if r.Status == model.ActivityStarted {
			t.Errorf("record %d left in started", r.ID)
		}
	}
}

func TestMonitor_TransientErrorFeedsTracker(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := seedUser(t, db)
	watch := seedWatch(t, db, user)

	// 重试耗尽的传输故障与封锁一样影响调度节奏
	searcher := &fakeSearcher{err: &vinted.APIError{Kind: vinted.KindTransient, StatusCode: 502, Err: errors.New("bad gateway")}}
	m := newTestMonitor(t, db, searcher)

	for i := 0; i < 3; i++ {
		_, _ = m.CheckWatch(ctx, watch, 5)
	}
	if !m.tracker.IsBlocked() {
		t.Error("3 exhausted transport failures should trip the tracker")
	}
}

func TestMonitor_AuthErrorDoesNotFeedTracker(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := seedUser(t, db)
	watch := seedWatch(t, db, user)

	searcher := &fakeSearcher{err: &vinted.APIError{Kind: vinted.KindAuthExpired, StatusCode: 401, Err: errors.New("unauthorized")}}
	m := newTestMonitor(t, db, searcher)

	for i := 0; i < 5; i++ {
		_, _ = m.CheckWatch(ctx, watch, 5)
	}
	if m.tracker.IsBlocked() {
		t.Error("auth failures must not trip blocking")
	}
	if got := m.tracker.State().ConsecutiveFailures; got != 0 {
		t.Errorf("failures = %d, want 0", got)
	}
}

func TestMonitor_TriggerCheckConflict(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	user := seedUser(t, db)
	watch := seedWatch(t, db, user)

	searcher := &fakeSearcher{pages: map[int]*vinted.Page{}}
	m := newTestMonitor(t, db, searcher)
	m.queue.Start(ctx)
	defer func() { _ = m.queue.ShutdownWithTimeout(2 * time.Second) }()

	// 占住该监控的互斥 key
	release := make(chan struct{})
	started := make(chan struct{})
	m.queue.Enqueue(fmt.Sprintf("watch:%d", watch.ID), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if _, err := m.TriggerCheck(ctx, watch.ID, 1); !errors.Is(err, ErrCheckInFlight) {
		t.Errorf("expected ErrCheckInFlight, got %v", err)
	}
	close(release)
	time.Sleep(100 * time.Millisecond)

	// 释放后可以正常触发
	rec, err := m.TriggerCheck(ctx, watch.ID, 1)
	if err != nil {
		t.Fatalf("TriggerCheck: %v", err)
	}
	if rec == nil || rec.Status != model.ActivityCompleted {
		t.Errorf("record = %+v", rec)
	}
}

func TestMonitor_TriggerCheckUnknownWatch(t *testing.T) {
	db := newTestDB(t)
	m := newTestMonitor(t, db, &fakeSearcher{})

	if _, err := m.TriggerCheck(context.Background(), 12345, 1); err == nil {
		t.Error("expected error for unknown watch")
	}
}

func TestMonitor_CanarySelection(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user := seedUser(t, db)
	first := seedWatch(t, db, user)
	flagged := seedWatch(t, db, user, func(w *model.Watch) { w.Canary = true })

	m := newTestMonitor(t, db, &fakeSearcher{})

	// 显式金丝雀优先
	canary, err := m.canaryWatch(ctx)
	if err != nil {
		t.Fatalf("canaryWatch: %v", err)
	}
	if canary == nil || canary.ID != flagged.ID {
		t.Errorf("canary = %v, want flagged watch %d", canary, flagged.ID)
	}

	// 没有标记时回退到最老的活跃监控
	db.Model(&model.Watch{}).Where("id = ?", flagged.ID).Update("canary", false)
	canary, err = m.canaryWatch(ctx)
	if err != nil {
		t.Fatalf("canaryWatch: %v", err)
	}
	if canary == nil || canary.ID != first.ID {
		t.Errorf("fallback canary = %v, want %d", canary, first.ID)
	}

	// 跟踪器上显式指定的优先级最高
	id := flagged.ID
	if err := m.tracker.SetCanary(ctx, &id); err != nil {
		t.Fatalf("SetCanary: %v", err)
	}
	canary, err = m.canaryWatch(ctx)
	if err != nil {
		t.Fatalf("canaryWatch: %v", err)
	}
	if canary == nil || canary.ID != flagged.ID {
		t.Errorf("pinned canary = %v, want %d", canary, flagged.ID)
	}
}
