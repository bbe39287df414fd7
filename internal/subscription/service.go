// Package subscription orchestrates the purchase workflows: it is the
// layer the presentation front and the payment webhooks call into.
package subscription

import (
	"errors"
	"fmt"
	"time"

	"subscription-bot/internal/access"
	"subscription-bot/internal/domain/billing"
	"subscription-bot/internal/domain/consent"
	"subscription-bot/internal/ledger"
	"subscription-bot/internal/payments"
	"subscription-bot/internal/session"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Invoicer sends an in-platform payment invoice.
type Invoicer interface {
	SendInvoice(chatID int64, title, description, payload, currency string, amount int64) error
}

var (
	// ErrInvoiceThrottled signals a purchase-intent action inside the
	// per-user cooldown window.
	ErrInvoiceThrottled = errors.New("invoice recently sent, try again shortly")

	// ErrNoReceiptExpected signals a receipt upload from a user who has
	// no pending attach-receipt step.
	ErrNoReceiptExpected = errors.New("no receipt expected from this user")

	// ErrNoContactsExpected signals contact details from a user who has
	// no pending contact-collection step.
	ErrNoContactsExpected = errors.New("no contact details expected from this user")
)

type Service struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	requests    *payments.Service
	provisioner *access.Provisioner
	messenger   access.Messenger
	invoicer    Invoicer
	sessions    *session.Store
	logger      *zap.Logger

	adminID int64
}

func NewService(
	db *gorm.DB,
	led *ledger.Ledger,
	requests *payments.Service,
	provisioner *access.Provisioner,
	messenger access.Messenger,
	invoicer Invoicer,
	sessions *session.Store,
	logger *zap.Logger,
	adminID int64,
) *Service {
	return &Service{
		db:          db,
		ledger:      led,
		requests:    requests,
		provisioner: provisioner,
		messenger:   messenger,
		invoicer:    invoicer,
		sessions:    sessions,
		logger:      logger,
		adminID:     adminID,
	}
}

func formatEnd(t time.Time) string {
	return t.Format("January 2, 2006 at 15:04")
}

// HandleSuccessfulPayment processes a completed in-platform payment.
// The invoice payload selects the purchased duration. A user not yet
// in the group gets an invite link; a renewal only moves the expiry.
// Invite failure after a confirmed payment never rolls back the
// extension: the user is told to contact support and the operator is
// alerted.
func (s *Service) HandleSuccessfulPayment(telegramID int64, username, payload string) error {
	days := billing.DurationForPayload(payload)

	newEnd, inGroup, err := s.ledger.ExtendMembership(telegramID, days, username)
	if err != nil {
		return err
	}

	s.logger.Info("successful payment",
		zap.Int64("telegram_id", telegramID),
		zap.String("payload", payload),
		zap.Int("days", days),
	)

	if inGroup {
		s.send(telegramID, fmt.Sprintf(
			"Payment received, your subscription is extended.\n\nNew end date: %s\n\nYou are already a member of the private group.",
			formatEnd(newEnd)))
		return nil
	}

	return s.admit(telegramID, username, newEnd)
}

// admit issues an invite for a paid-up user who is not in the group yet
// and notifies both sides.
func (s *Service) admit(telegramID int64, username string, newEnd time.Time) error {
	link, err := s.provisioner.IssueInvite(telegramID)
	if err != nil {
		s.send(telegramID,
			"Payment received, but the invite link could not be created. Please contact the administrator.")
		s.notifyAdmin(fmt.Sprintf("Invite creation failed for user %d: %v", telegramID, err))
		return nil
	}

	if err := s.provisioner.Grant(telegramID); err != nil {
		return err
	}

	s.send(telegramID, fmt.Sprintf(
		"Payment received, your subscription is active.\n\n"+
			"Your personal link to join the private group:\n%s\n\n"+
			"Valid until: %s\n\nThe link is single-use and expires in 24 hours.",
		link, formatEnd(newEnd)))

	s.notifyAdmin(fmt.Sprintf(
		"New payment from @%s (ID: %d)\nSubscription until: %s\nInvite: %s",
		username, telegramID, formatEnd(newEnd), link))
	return nil
}

// HandleApproval applies the downstream effects of a reviewer decision
// returned by the payment request state machine.
func (s *Service) HandleApproval(outcome *payments.Outcome) error {
	if !outcome.Approved {
		s.send(outcome.TelegramID,
			"Your payment was not confirmed. Please contact the administrator.")
		return nil
	}

	if !outcome.Plan.GrantsGroupAccess() {
		s.send(outcome.TelegramID,
			"Your payment is confirmed, thank you! The administrator will contact you shortly.")
		return nil
	}

	days, mapped := billing.DurationForAmount(outcome.Amount)
	if !mapped {
		s.logger.Warn("unmapped subscription amount, using default duration",
			zap.Uint("request_id", outcome.RequestID),
			zap.Int64("amount", outcome.Amount),
			zap.Int("default_days", days),
		)
	}

	newEnd, inGroup, err := s.ledger.ExtendMembership(outcome.TelegramID, days, outcome.Username)
	if err != nil {
		return err
	}

	if inGroup {
		s.send(outcome.TelegramID, fmt.Sprintf(
			"Subscription extended!\n\nNew end date: %s", formatEnd(newEnd)))
		return nil
	}
	return s.admit(outcome.TelegramID, outcome.Username, newEnd)
}

// RecordConsent appends an accepted-offer row to the audit log.
func (s *Service) RecordConsent(telegramID int64, username, offerType string) error {
	row := consent.Agreement{
		TelegramID:   telegramID,
		Username:     username,
		OfferType:    offerType,
		OfferVersion: "v1",
		AcceptedAt:   time.Now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("save agreement: %w", err)
	}
	return nil
}

// StartPaymentRequest opens a manually reviewed payment request and
// marks the user as owing a receipt. Subject to the same
// purchase-intent throttle as invoices.
func (s *Service) StartPaymentRequest(telegramID int64, username string, plan billing.Plan, amount int64) (uint, error) {
	if !s.sessions.AllowInvoice(telegramID, time.Now()) {
		return 0, ErrInvoiceThrottled
	}
	id, err := s.requests.CreateOrReplace(telegramID, username, plan, amount)
	if err != nil {
		return 0, err
	}
	s.sessions.SetReceiptWait(telegramID, id, plan)
	return id, nil
}

// AttachReceipt stores the uploaded proof for the request the user is
// expected to document and alerts the operator. The in-memory wait
// state is cleared only after the store write succeeded, so a store
// failure lets the user simply resend the receipt. One-off service
// plans additionally open the contact-collection step.
func (s *Service) AttachReceipt(telegramID int64, fileID string) (uint, error) {
	wait, ok := s.sessions.ReceiptWaitFor(telegramID)
	if !ok {
		return 0, ErrNoReceiptExpected
	}

	if err := s.requests.AttachProof(wait.RequestID, fileID); err != nil {
		return 0, err
	}
	s.sessions.ClearReceiptWait(telegramID)

	if !wait.Plan.GrantsGroupAccess() {
		s.sessions.SetContactsWait(telegramID, wait.RequestID)
	}

	s.notifyAdmin(fmt.Sprintf(
		"New receipt for request #%d (user %d, plan %s). Review it in the admin panel.",
		wait.RequestID, telegramID, wait.Plan))
	return wait.RequestID, nil
}

// AttachContactDetails stores the contact details for the request
// awaiting them.
func (s *Service) AttachContactDetails(telegramID int64, phone, email string) error {
	requestID, ok := s.sessions.ContactsWaitFor(telegramID)
	if !ok {
		return ErrNoContactsExpected
	}
	if err := s.requests.AttachContacts(requestID, phone, email); err != nil {
		return err
	}
	s.sessions.Clear(telegramID)
	return nil
}

// CancelPaymentRequest closes the user's open request and drops any
// wait state.
func (s *Service) CancelPaymentRequest(telegramID int64) error {
	open, err := s.requests.OpenForUser(telegramID)
	if err != nil {
		return err
	}
	if open == nil {
		s.sessions.Clear(telegramID)
		return nil
	}
	if err := s.requests.Cancel(open.ID); err != nil {
		return err
	}
	s.sessions.Clear(telegramID)
	return nil
}

// SendSubscriptionInvoice sends an in-platform invoice, throttled to
// one purchase-intent action per user per cooldown window.
func (s *Service) SendSubscriptionInvoice(telegramID int64, title, payload string, amount int64) error {
	now := time.Now()
	if !s.sessions.AllowInvoice(telegramID, now) {
		return ErrInvoiceThrottled
	}
	if err := s.ledger.TouchInvoiceTime(telegramID, now); err != nil {
		s.logger.Warn("could not persist invoice time", zap.Int64("telegram_id", telegramID), zap.Error(err))
	}
	if err := s.invoicer.SendInvoice(telegramID, title,
		title+" for access to the private group", payload, "RUB", amount); err != nil {
		return fmt.Errorf("send invoice to %d: %w", telegramID, err)
	}
	return nil
}

// send delivers a user-facing message best-effort.
func (s *Service) send(telegramID int64, text string) {
	if err := s.messenger.SendMessage(telegramID, text); err != nil {
		s.logger.Warn("user notification failed",
			zap.Int64("telegram_id", telegramID),
			zap.Error(err),
		)
	}
}

func (s *Service) notifyAdmin(text string) {
	if s.adminID == 0 {
		return
	}
	if err := s.messenger.SendMessage(s.adminID, text); err != nil {
		s.logger.Warn("operator notification failed", zap.Error(err))
	}
}
