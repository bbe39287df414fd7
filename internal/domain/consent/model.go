package consent

import "time"

// Agreement is one accepted public offer. The table is append-only:
// rows are never updated or deleted.
type Agreement struct {
	ID           uint   `gorm:"primaryKey"`
	TelegramID   int64  `gorm:"column:telegram_id;index"`
	Username     string `gorm:"column:username"`
	OfferType    string `gorm:"column:offer_type"`
	OfferVersion string `gorm:"column:offer_version;default:'v1'"`
	AcceptedAt   time.Time
}
