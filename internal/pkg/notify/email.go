package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PurgingPanda/vinted-koopjes/internal/config"
	"github.com/PurgingPanda/vinted-koopjes/internal/model"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// NotifyUnderprice 发送捡漏通知邮件。
//
// SMTP 未配置或收件人为空时跳过但不报错：告警记录本身已经落库，
// 邮件只是附加通道。
func (n *EmailNotifier) NotifyUnderprice(ctx context.Context, alert *model.UnderpriceAlert, watch *model.Watch, item *model.Item, toEmail string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		n.logger.Warn("email recipient empty, skip notification",
			slog.Uint64("watch_id", uint64(watch.ID)))
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", fmt.Sprintf("[VintedWatch] 🎯 捡漏提醒: %s", watch.Name))

	m.SetBody("text/html", n.buildHTMLBody(alert, watch, item))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("underprice email sent",
		slog.String("to", toEmail),
		slog.Uint64("watch_id", uint64(watch.ID)),
		slog.Int64("vinted_id", item.VintedID))
	return nil
}

func (n *EmailNotifier) buildHTMLBody(alert *model.UnderpriceAlert, watch *model.Watch, item *model.Item) string {
	detail := fmt.Sprintf("均价低 €%.2f（%.1f 个标准差）", alert.PriceDifference, alert.StdDevsBelow)
	if watch.AbsolutePriceThreshold != nil && item.Price <= *watch.AbsolutePriceThreshold {
		detail = fmt.Sprintf("低于绝对阈值 €%.2f", *watch.AbsolutePriceThreshold)
	}

	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .hero img { width: 100%%; max-width: 520px; display: block; margin: 0 auto 16px; border-radius: 8px; }
  .price { font-size: 26px; font-weight: bold; color: #ef4444; margin: 8px 0 12px; }
  .title { font-size: 16px; margin-bottom: 8px; }
  .meta { font-size: 13px; color: #6b7280; margin-bottom: 16px; }
  .cta { display: inline-block; padding: 12px 20px; background: #22c55e; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">[VintedWatch] 🎯 捡漏提醒: %s</div>
    <div class="content">
      <div class="hero"><img src="%s" alt="Item Image" /></div>
      <div class="price">€ %.2f</div>
      <div class="title">%s</div>
      <div class="meta">%s · %s · %s</div>
      <div style="text-align:center; margin-bottom: 12px;">
        <a class="cta" href="%s" target="_blank">立即去 Vinted 查看</a>
      </div>
      <div class="footer">%s</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template,
		watch.Name,
		item.PhotoURL,
		item.Price,
		item.Title,
		item.Brand,
		item.Size,
		model.ConditionName(item.Condition),
		item.URL,
		detail)
}
