package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"
	"github.com/PurgingPanda/vinted-koopjes/internal/pkg/metrics"
	"github.com/PurgingPanda/vinted-koopjes/internal/vinted"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Indexer 负责把抓取结果幂等写入商品库并维护监控关联。
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewIndexer(db *gorm.DB, logger *slog.Logger) *Indexer {
	return &Indexer{db: db, logger: logger}
}

// IngestResult 单次入库的统计结果。
type IngestResult struct {
	NewItems       int // 首次见到的商品数
	RefreshedItems int // 已存在、仅刷新的商品数
	Blacklisted    int // 本监控下命中黑名单词的数
	Highlighted    int // 本监控下命中高亮词的数
}

// Ingest 把一批目录商品写入数据库并关联到监控。
//
// 同一商品重复出现是幂等的：FirstSeen 只在首次写入，后续只刷新
// 价格等快照字段与 LastSeen。黑名单命中的商品照常入库，只在
// 关联表上打标，统计与检测阶段会跳过它们。
func (ix *Indexer) Ingest(ctx context.Context, watch *model.Watch, items []vinted.CatalogItem) (*IngestResult, error) {
	result := &IngestResult{}
	blacklist := splitWords(watch.BlacklistWords)
	highlight := splitWords(watch.HighlightWords)
	now := time.Now()

	for i := range items {
		ci := &items[i]

		itemID, isNew, err := ix.upsertItem(ctx, ci, now)
		if err != nil {
			return result, fmt.Errorf("upsert item %d: %w", ci.ID, err)
		}
		if isNew {
			result.NewItems++
			metrics.ItemsIngestedTotal.WithLabelValues("new").Inc()
		} else {
			result.RefreshedItems++
			metrics.ItemsIngestedTotal.WithLabelValues("refreshed").Inc()
		}

		haystack := matchText(ci)
		blacklisted := matchesAnyWord(haystack, blacklist)
		highlighted := matchesAnyWord(haystack, highlight)
		if blacklisted {
			result.Blacklisted++
		}
		if highlighted {
			result.Highlighted++
		}

		link := model.WatchItem{
			WatchID:     watch.ID,
			ItemID:      itemID,
			CreatedAt:   now,
			Blacklisted: blacklisted,
			Highlighted: highlighted,
		}
		// 词表可能被编辑过，冲突时刷新两个标记
		if err := ix.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "watch_id"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"blacklisted", "highlighted"}),
		}).Create(&link).Error; err != nil {
			return result, fmt.Errorf("link watch item: %w", err)
		}
	}

	ix.logger.Debug("ingest finished",
		slog.Uint64("watch_id", uint64(watch.ID)),
		slog.Int("new", result.NewItems),
		slog.Int("refreshed", result.RefreshedItems),
		slog.Int("blacklisted", result.Blacklisted))
	return result, nil
}

// upsertItem 以 vinted_id 为冲突键做原子 Upsert，返回内部 ID 与是否新增。
func (ix *Indexer) upsertItem(ctx context.Context, ci *vinted.CatalogItem, now time.Time) (uint, bool, error) {
	item := normalizeItem(ci, now)

	var existingID uint
	err := ix.db.WithContext(ctx).Model(&model.Item{}).
		Select("id").
		Where("vinted_id = ?", ci.ID).
		Limit(1).
		Scan(&existingID).Error
	if err != nil {
		return 0, false, err
	}
	isNew := existingID == 0

	if err := ix.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "vinted_id"}},
		// first_seen 有意不在更新列表里：它只写一次
		DoUpdates: clause.AssignmentColumns([]string{
			"price", "item_condition", "title", "brand", "size", "color", "description",
			"url", "photo_url", "seller_id", "seller_login", "seller_business",
			"favourite_count", "view_count", "service_fee", "total_price",
			"raw_payload", "last_seen", "is_active",
		}),
	}).Create(item).Error; err != nil {
		return 0, false, err
	}

	if item.ID == 0 {
		// 冲突更新时部分驱动不回填 ID，兜底查询
		var existing model.Item
		if err := ix.db.WithContext(ctx).Select("id").Where("vinted_id = ?", ci.ID).First(&existing).Error; err != nil {
			return 0, false, err
		}
		item.ID = existing.ID
	}
	return item.ID, isNew, nil
}

// normalizeItem 把上游商品转换成库内模型。
func normalizeItem(ci *vinted.CatalogItem, now time.Time) *model.Item {
	item := &model.Item{
		VintedID:    ci.ID,
		Price:       ci.Price.Float(),
		Condition:   conditionOf(ci),
		Title:       ci.Title,
		Brand:       ci.BrandTitle,
		Size:        ci.SizeTitle,
		Description: ci.Description,
		URL:         ci.URL,
		RawPayload:  string(ci.Raw),
		FirstSeen:   now,
		LastSeen:    now,
		IsActive:    true,
	}
	if ci.Photo != nil {
		item.PhotoURL = ci.Photo.URL
		if ts := ci.Photo.HighResolution.Timestamp; ts > 0 {
			upload := time.Unix(ts, 0)
			item.UploadDate = &upload
		}
	}
	if ci.User != nil {
		id := ci.User.ID
		item.SellerID = &id
		item.SellerLogin = ci.User.Login
		item.SellerBusiness = ci.User.Business
	}
	item.FavouriteCount = ci.FavouriteCount
	item.ViewCount = ci.ViewCount
	if ci.ServiceFee != nil {
		fee := ci.ServiceFee.Float()
		item.ServiceFee = &fee
	}
	if ci.TotalItemPrice != nil {
		total := ci.TotalItemPrice.Float()
		item.TotalPrice = &total
	}
	return item
}

// conditionOf 优先使用数值 status_id，缺失时按成色文本映射。
func conditionOf(ci *vinted.CatalogItem) int {
	if ci.StatusID != nil {
		return int(*ci.StatusID)
	}
	switch strings.ToLower(strings.TrimSpace(ci.Status)) {
	case "new with tags", "as new with price tag":
		return model.ConditionNewWithTag
	case "new without tags", "as new without price tag", "as new":
		return model.ConditionNewWithoutTag
	case "very good":
		return model.ConditionVeryGood
	case "good":
		return model.ConditionGood
	case "satisfactory", "heavily used", "satisfactory/heavily used":
		return model.ConditionSatisfactory
	default:
		return 0
	}
}

// MarkStale 把宽限期内未再出现的商品置为不活跃，返回影响行数。
func (ix *Indexer) MarkStale(ctx context.Context, gracePeriod time.Duration) (int64, error) {
	cutoff := time.Now().Add(-gracePeriod)
	res := ix.db.WithContext(ctx).Model(&model.Item{}).
		Where("is_active = ? AND last_seen < ?", true, cutoff).
		Update("is_active", false)
	if res.Error != nil {
		return 0, fmt.Errorf("mark stale items: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		ix.logger.Info("stale items deactivated",
			slog.Int64("count", res.RowsAffected),
			slog.Time("cutoff", cutoff))
	}
	return res.RowsAffected, nil
}

// splitWords 解析逗号分隔词表，去空白、转小写。
func splitWords(s string) []string {
	var words []string
	for _, w := range strings.Split(s, ",") {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// matchText 拼出参与词表匹配的文本（标题 + 描述 + 品牌）。
func matchText(ci *vinted.CatalogItem) string {
	return strings.ToLower(ci.Title + " " + ci.Description + " " + ci.BrandTitle)
}

func matchesAnyWord(haystack string, words []string) bool {
	for _, w := range words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}
