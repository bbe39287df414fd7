package users

import "time"

// User is the durable subscription record for a Telegram user.
// A user is never deleted; InGroup reflects the last membership state
// this bot applied, not authoritative platform truth.
type User struct {
	TelegramID int64  `gorm:"primaryKey;autoIncrement:false;column:telegram_id"`
	Username   string `gorm:"column:username"`

	SubscriptionEnd *time.Time `gorm:"column:subscription_end"`
	InGroup         bool       `gorm:"column:in_group;default:false"`

	// Idempotency guards for expiry reminders. Reset on every extension.
	NotifiedExpiringSoon     bool `gorm:"column:notified_expiring_soon;default:false"`
	NotifiedExpiringTomorrow bool `gorm:"column:notified_expiring_tomorrow;default:false"`

	LastInvoiceTime *time.Time `gorm:"column:last_invoice_time"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
