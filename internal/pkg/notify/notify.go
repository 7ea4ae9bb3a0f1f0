package notify

import (
	"context"

	"github.com/PurgingPanda/vinted-koopjes/internal/model"
)

// Notifier 定义捡漏告警的通知接口。
type Notifier interface {
	// NotifyUnderprice 发送捡漏通知。
	//
	// 参数:
	//   ctx: 上下文
	//   alert: 告警记录（含偏离倍数与差价）
	//   watch: 触发告警的监控
	//   item: 命中的商品
	//   toEmail: 接收邮箱
	NotifyUnderprice(ctx context.Context, alert *model.UnderpriceAlert, watch *model.Watch, item *model.Item, toEmail string) error
}
