package model

import "time"

// User 表示监控的所有者，告警邮件的接收人。
type User struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time

	Username string `gorm:"type:varchar(191);uniqueIndex;not null"` // 用户名
	Email    string `gorm:"type:varchar(191);not null"`             // 告警接收邮箱
}
