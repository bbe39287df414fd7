package billing

import "time"

type Status string

const (
	StatusPending        Status = "pending"
	StatusAwaitingReview Status = "awaiting_review"
	StatusConfirmed      Status = "confirmed"
	StatusRejected       Status = "rejected"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// OpenStatuses are the non-terminal statuses. At most one request per
// user may carry one of these at any time.
var OpenStatuses = []Status{StatusPending, StatusAwaitingReview}

// PaymentRequest is a manually reviewed purchase: the user transfers
// money out of band, attaches a receipt, and the operator confirms or
// rejects it.
type PaymentRequest struct {
	ID         uint   `gorm:"primaryKey"`
	TelegramID int64  `gorm:"column:telegram_id;index"`
	Username   string `gorm:"column:username"`

	Plan   Plan   `gorm:"column:plan;type:varchar(32)"`
	Amount int64  `gorm:"column:amount"` // minor currency units (kopecks)
	Status Status `gorm:"column:status;type:varchar(32);default:'pending'"`

	ProofFileID string `gorm:"column:proof_file_id"`

	ReviewerID   *int64 `gorm:"column:reviewer_id"`
	ReviewerNote string `gorm:"column:reviewer_note"`

	Phone string `gorm:"column:phone"`
	Email string `gorm:"column:email"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
