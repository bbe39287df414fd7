// Package payments owns the lifecycle of manually reviewed payment
// requests: pending -> awaiting_review -> confirmed/rejected, with a
// manual cancelled exit from either open state.
package payments

import (
	"errors"
	"fmt"
	"time"

	"subscription-bot/internal/domain/billing"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyProcessed signals a decision on a request that already
	// reached a terminal status.
	ErrAlreadyProcessed = errors.New("payment request already processed")

	// ErrNotAwaitingProof signals a proof attach on a request that is
	// not in the pending state.
	ErrNotAwaitingProof = errors.New("payment request is not awaiting a receipt")

	// ErrNotFound signals an unknown request id.
	ErrNotFound = errors.New("payment request not found")

	// ErrInvalidPlan signals an unrecognized plan name.
	ErrInvalidPlan = errors.New("invalid plan")
)

// Outcome is what a reviewer decision yields. The caller orchestrates
// downstream effects (ledger extension, invite issuance); this service
// only records the decision.
type Outcome struct {
	RequestID  uint
	TelegramID int64
	Username   string
	Plan       billing.Plan
	Amount     int64
	Approved   bool
}

type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// CreateOrReplace opens a payment request for the user. If an open
// (non-terminal) request already exists it is reset to the new plan and
// amount, clearing any previously attached proof: the user changed
// their mind before paying. The open-request count per user never
// exceeds one.
func (s *Service) CreateOrReplace(telegramID int64, username string, plan billing.Plan, amount int64) (uint, error) {
	if !plan.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("invalid amount %d", amount)
	}

	var id uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var open billing.PaymentRequest
		err := tx.Where("telegram_id = ? AND status IN ?", telegramID, billing.OpenStatuses).
			Order("id DESC").
			First(&open).Error

		switch {
		case err == nil:
			updates := map[string]interface{}{
				"plan":          plan,
				"amount":        amount,
				"status":        billing.StatusPending,
				"proof_file_id": "",
				"created_at":    time.Now(),
			}
			if err := tx.Model(&billing.PaymentRequest{}).
				Where("id = ?", open.ID).
				Updates(updates).Error; err != nil {
				return fmt.Errorf("replace request %d: %w", open.ID, err)
			}
			id = open.ID
			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			req := billing.PaymentRequest{
				TelegramID: telegramID,
				Username:   username,
				Plan:       plan,
				Amount:     amount,
				Status:     billing.StatusPending,
			}
			if err := tx.Create(&req).Error; err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			id = req.ID
			return nil

		default:
			return fmt.Errorf("find open request: %w", err)
		}
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("payment request opened",
		zap.Uint("request_id", id),
		zap.Int64("telegram_id", telegramID),
		zap.String("plan", string(plan)),
		zap.Int64("amount", amount),
	)
	return id, nil
}

// AttachProof stores the uploaded receipt reference and moves the
// request to awaiting_review. Valid only while the request is pending;
// the guarded update never touches a terminal record.
func (s *Service) AttachProof(requestID uint, fileID string) error {
	res := s.db.Model(&billing.PaymentRequest{}).
		Where("id = ? AND status = ?", requestID, billing.StatusPending).
		Updates(map[string]interface{}{
			"proof_file_id": fileID,
			"status":        billing.StatusAwaitingReview,
		})
	if res.Error != nil {
		return fmt.Errorf("attach proof to request %d: %w", requestID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(requestID); err != nil {
			return err
		}
		return ErrNotAwaitingProof
	}
	return nil
}

// AttachContacts stores the contact details some flows collect before
// review. The status is unchanged.
func (s *Service) AttachContacts(requestID uint, phone, email string) error {
	res := s.db.Model(&billing.PaymentRequest{}).
		Where("id = ?", requestID).
		Updates(map[string]interface{}{"phone": phone, "email": email})
	if res.Error != nil {
		return fmt.Errorf("attach contacts to request %d: %w", requestID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Decide records the reviewer's verdict. A request that is already
// terminal yields ErrAlreadyProcessed; the stored record is never
// mutated twice.
func (s *Service) Decide(requestID uint, reviewerID int64, approve bool, note string) (*Outcome, error) {
	req, err := s.Get(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, ErrAlreadyProcessed
	}

	status := billing.StatusRejected
	if approve {
		status = billing.StatusConfirmed
	}

	res := s.db.Model(&billing.PaymentRequest{}).
		Where("id = ? AND status IN ?", requestID, billing.OpenStatuses).
		Updates(map[string]interface{}{
			"status":        status,
			"reviewer_id":   reviewerID,
			"reviewer_note": note,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("decide request %d: %w", requestID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race against a concurrent decision.
		return nil, ErrAlreadyProcessed
	}

	s.logger.Info("payment request decided",
		zap.Uint("request_id", requestID),
		zap.Int64("reviewer_id", reviewerID),
		zap.Bool("approved", approve),
	)

	return &Outcome{
		RequestID:  requestID,
		TelegramID: req.TelegramID,
		Username:   req.Username,
		Plan:       req.Plan,
		Amount:     req.Amount,
		Approved:   approve,
	}, nil
}

// Cancel closes an open request without a reviewer verdict.
func (s *Service) Cancel(requestID uint) error {
	res := s.db.Model(&billing.PaymentRequest{}).
		Where("id = ? AND status IN ?", requestID, billing.OpenStatuses).
		Update("status", billing.StatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("cancel request %d: %w", requestID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(requestID); err != nil {
			return err
		}
		return ErrAlreadyProcessed
	}
	return nil
}

// CleanupAbandoned cancels open requests untouched for longer than
// maxAge. Records are kept, not deleted.
func (s *Service) CleanupAbandoned(maxAge time.Duration) (int64, error) {
	res := s.db.Model(&billing.PaymentRequest{}).
		Where("status IN ? AND updated_at < ?", billing.OpenStatuses, time.Now().Add(-maxAge)).
		Update("status", billing.StatusCancelled)
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup abandoned requests: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("abandoned payment requests cancelled", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Get loads a request by id.
func (s *Service) Get(requestID uint) (*billing.PaymentRequest, error) {
	var req billing.PaymentRequest
	err := s.db.Where("id = ?", requestID).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load request %d: %w", requestID, err)
	}
	return &req, nil
}

// OpenForUser returns the user's open request, or nil.
func (s *Service) OpenForUser(telegramID int64) (*billing.PaymentRequest, error) {
	var req billing.PaymentRequest
	err := s.db.Where("telegram_id = ? AND status IN ?", telegramID, billing.OpenStatuses).
		Order("id DESC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load open request for %d: %w", telegramID, err)
	}
	return &req, nil
}

// List returns all requests, newest first, for the operator panel.
func (s *Service) List(limit int) ([]billing.PaymentRequest, error) {
	var reqs []billing.PaymentRequest
	q := s.db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return reqs, nil
}
