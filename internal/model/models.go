package model

import (
	"time"
)

// Watch 表示一个价格监控任务（保存的 Vinted 搜索条件）。
//
// 它记录了用户设定的搜索参数（关键词、分类、品牌、最高价等）以及
// 捡漏判定阈值。监控与商品是多对多关系（通过 watch_items 表关联）。
type Watch struct {
	ID        uint      `gorm:"primaryKey"` // 监控唯一标识
	CreatedAt time.Time // 创建时间
	UpdatedAt time.Time // 更新时间

	UserID uint   `gorm:"not null"`          // 所属用户 ID
	User   User   `gorm:"foreignKey:UserID"` // 所属用户
	Name   string `gorm:"not null"`          // 监控名称

	// SearchParams 保存序列化后的搜索参数（vinted.SearchParams 的 JSON）。
	SearchParams string `gorm:"type:text;not null"`

	StdDevThreshold        float64  `gorm:"default:1.5"` // 统计阈值：低于均值多少个标准差触发
	AbsolutePriceThreshold *float64 // 绝对价格阈值（nil 表示不启用）

	BlacklistWords string `gorm:"type:text"` // 黑名单词（逗号分隔），命中则排除出统计
	HighlightWords string `gorm:"type:text"` // 高亮词（逗号分隔），命中则打标

	IsActive bool `gorm:"default:true"`  // 是否参与调度
	Canary   bool `gorm:"default:false"` // 封锁期间用于探测恢复的金丝雀监控

	Items []Item `gorm:"many2many:watch_items;joinForeignKey:WatchID;joinReferences:ItemID"` // 关联的商品列表
}

// 商品成色枚举（对应 Vinted status_id）。
const (
	ConditionNewWithTag    = 6 // 全新带吊牌
	ConditionNewWithoutTag = 1 // 全新无吊牌
	ConditionVeryGood      = 2 // 非常好
	ConditionGood          = 3 // 良好
	ConditionSatisfactory  = 4 // 一般 / 使用痕迹明显
)

// ConditionName 返回成色枚举的展示名称。
func ConditionName(condition int) string {
	switch condition {
	case ConditionNewWithTag:
		return "As new with price tag"
	case ConditionNewWithoutTag:
		return "As new without price tag"
	case ConditionVeryGood:
		return "Very good"
	case ConditionGood:
		return "Good"
	case ConditionSatisfactory:
		return "Satisfactory/Heavily used"
	default:
		return "Unknown"
	}
}

// Item 表示从 Vinted 目录 API 抓取到的商品。
//
// VintedID 是商品在 Vinted 的唯一标识，用于幂等 Upsert。
// RawPayload 保留上游返回的完整 JSON，未显式建模的字段都在里面。
type Item struct {
	ID uint `gorm:"primaryKey"` // 内部 ID

	VintedID  int64   `gorm:"uniqueIndex;not null"`                                           // Vinted 商品 ID (唯一索引)
	Price     float64 `gorm:"not null;index:idx_cond_price,priority:2"`                       // 当前价格 (EUR)
	Condition int     `gorm:"column:item_condition;not null;index:idx_cond_price,priority:1"` // 成色枚举

	Title       string `gorm:"size:500"`
	Brand       string `gorm:"size:200"`
	Size        string `gorm:"size:100"`
	Color       string `gorm:"size:100"`
	Description string `gorm:"type:text"`
	URL         string `gorm:"size:500"` // 商品详情页链接
	PhotoURL    string `gorm:"size:500"` // 首图链接

	UploadDate *time.Time // 商品上架时间（来自 API 时间戳，可能缺失）

	SellerID       *int64 // 卖家 Vinted 用户 ID
	SellerLogin    string `gorm:"size:200"` // 卖家用户名
	SellerBusiness bool   // 是否商业卖家

	FavouriteCount *int     // 收藏数
	ViewCount      *int     // 浏览数
	ServiceFee     *float64 // 平台服务费
	TotalPrice     *float64 // 含费用总价

	RawPayload string `gorm:"type:text"` // 上游原始 JSON，原样保留

	FirstSeen time.Time `gorm:"index"`              // 首次抓取时间（只写一次）
	LastSeen  time.Time `gorm:"index"`              // 最近一次出现在抓取结果的时间
	IsActive  bool      `gorm:"default:true;index"` // 连续缺席超过宽限期后置为 false
}

// WatchItem 是监控与商品的关联表（多对多中间表）。
//
// Blacklisted 标记该商品在此监控下命中了黑名单词：商品本身仍然保留，
// 但统计与检测都会跳过它。
type WatchItem struct {
	WatchID uint `gorm:"primaryKey"` // 监控 ID
	ItemID  uint `gorm:"primaryKey"` // 商品 ID

	CreatedAt   time.Time // 关联创建时间（即该监控首次看到此商品）
	Blacklisted bool      `gorm:"default:false"` // 命中黑名单词
	Highlighted bool      `gorm:"default:false"` // 命中高亮词
}

// PriceStatistics 保存每个 (监控, 成色) 分组的价格统计。
//
// 每轮检查整体重算并替换，不做增量更新，保证与观测顺序无关。
type PriceStatistics struct {
	ID uint `gorm:"primaryKey"`

	WatchID   uint `gorm:"uniqueIndex:idx_watch_condition,priority:1;not null"`
	Condition int  `gorm:"column:item_condition;uniqueIndex:idx_watch_condition,priority:2;not null"`

	MeanPrice    float64 // 价格算术平均
	StdDeviation float64 // 总体标准差
	ItemCount    int     // 样本数量

	LastCalculated time.Time // 最近重算时间
}

// UnderpriceAlert 表示一次捡漏告警。
//
// (WatchID, ItemID) 全局唯一：同一商品在同一监控下永远只产生一条告警，
// 重复检测是 no-op。通知失败不会删除告警，EmailSent 保持 false 等待补发。
type UnderpriceAlert struct {
	ID uint `gorm:"primaryKey"`

	WatchID uint  `gorm:"uniqueIndex:idx_watch_item,priority:1;not null"`
	ItemID  uint  `gorm:"uniqueIndex:idx_watch_item,priority:2;not null"`
	Watch   Watch `gorm:"foreignKey:WatchID"`
	Item    Item  `gorm:"foreignKey:ItemID"`

	DetectedAt      time.Time `gorm:"index"`
	PriceDifference float64   // 均价 - 商品价
	StdDevsBelow    float64   // 低于均值的标准差数

	EmailSent   bool `gorm:"default:false;index"`
	EmailSentAt *time.Time
	Hidden      bool `gorm:"default:false"` // 用户手动隐藏
}

// BlockingState 记录上游封锁状态，进程级单例（固定 id=1）。
//
// 它必须持久化：重启不应该抹掉"正在被封"的记忆。
type BlockingState struct {
	ID uint `gorm:"primaryKey"`

	IsBlocked           bool
	BlockedSince        *time.Time // 进入封锁状态的时间（封锁期间不重置）
	LastCheckedAt       time.Time  // 最近一次上报（成功或失败）
	LastSuccessAt       *time.Time
	ConsecutiveFailures int

	CanaryWatchID *uint // 指定的金丝雀监控（nil 表示自动选择）
}

// 活动记录的任务类型。
const (
	TaskTypeMonitor      = "monitor"       // 全量监控轮询
	TaskTypeCheckWatch   = "check_watch"   // 单个监控检查
	TaskTypeReindex      = "reindex"       // 手动重建索引
	TaskTypeTokenRefresh = "token_refresh" // 凭证刷新
	TaskTypeCleanup      = "cleanup"       // 过期商品清理
)

// 活动记录的状态。
const (
	ActivityStarted   = "started"
	ActivityCompleted = "completed"
	ActivityFailed    = "failed"
)

// ActivityRecord 记录每次后台任务的执行情况，用于可观测性。
//
// 不变量：任何一次运行最终都必须落在 completed 或 failed，
// 永远不允许停留在 started。
type ActivityRecord struct {
	ID uint `gorm:"primaryKey"`

	TaskType string `gorm:"size:20;index:idx_type_started,priority:1;not null"`
	Status   string `gorm:"size:10;default:started;index"`

	WatchID *uint // 相关监控（全量轮询时为 nil）

	ItemsProcessed  int // 处理商品数
	PagesFetched    int // 抓取页数
	NewItemsFound   int // 新发现商品数
	AlertsGenerated int // 新产生告警数

	ErrorMessage string `gorm:"type:text"` // 失败时的错误详情

	StartedAt       time.Time `gorm:"index:idx_type_started,priority:2"`
	CompletedAt     *time.Time
	DurationSeconds float64
}
