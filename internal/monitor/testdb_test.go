package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"
	"github.com/PurgingPanda/vinted-koopjes/internal/vinted"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	// 内存库只能有一个连接，否则连接池的每个连接各是一个空库
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&model.User{},
		&model.Watch{},
		&model.Item{},
		&model.WatchItem{},
		&model.PriceStatistics{},
		&model.UnderpriceAlert{},
		&model.BlockingState{},
		&model.ActivityRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seedUser(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()
	user := &model.User{Username: "tester", Email: "tester@example.com"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedWatch(t *testing.T, db *gorm.DB, user *model.User, mutate ...func(*model.Watch)) *model.Watch {
	t.Helper()
	params, _ := (&vinted.SearchParams{SearchText: "barbour"}).Encode()
	watch := &model.Watch{
		UserID:          user.ID,
		Name:            "barbour jackets",
		SearchParams:    params,
		StdDevThreshold: 1.0,
		IsActive:        true,
	}
	for _, fn := range mutate {
		fn(watch)
	}
	if err := db.Create(watch).Error; err != nil {
		t.Fatalf("seed watch: %v", err)
	}
	return watch
}

// catalogItem 构造一个最小可入库的目录商品。
func catalogItem(id int64, price float64, condition int64, title string) vinted.CatalogItem {
	return vinted.CatalogItem{
		ID:       id,
		Title:    title,
		Status:   "Very good",
		StatusID: &condition,
		Price:    vinted.Money{Amount: fmt.Sprintf("%.2f", price), CurrencyCode: "EUR"},
		Raw:      []byte(fmt.Sprintf(`{"id":%d}`, id)),
	}
}

func seedLinkedItem(t *testing.T, db *gorm.DB, watch *model.Watch, vintedID int64, price float64, condition int) *model.Item {
	t.Helper()
	now := time.Now()
	item := &model.Item{
		VintedID:  vintedID,
		Price:     price,
		Condition: condition,
		Title:     fmt.Sprintf("item %d", vintedID),
		FirstSeen: now,
		LastSeen:  now,
		IsActive:  true,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	if err := db.Create(&model.WatchItem{WatchID: watch.ID, ItemID: item.ID, CreatedAt: now}).Error; err != nil {
		t.Fatalf("link item: %v", err)
	}
	return item
}
