package invites

import "time"

// TTL is how long a single-use invite link stays valid on the platform.
const TTL = 24 * time.Hour

// InviteLink records a single-use group invite handed to a user.
type InviteLink struct {
	ID         uint   `gorm:"primaryKey"`
	TelegramID int64  `gorm:"column:telegram_id;index"`
	Link       string `gorm:"column:link;uniqueIndex"`
	Used       bool   `gorm:"column:used;default:false"`
	CreatedAt  time.Time
}

// Usable reports whether the link can still be handed out: never
// consumed and younger than the platform-side TTL.
func (l *InviteLink) Usable(now time.Time) bool {
	return !l.Used && now.Sub(l.CreatedAt) < TTL
}
