// Package session holds per-process interaction state: which users owe
// a receipt upload or contact details, and the duplicate-click invoice
// throttle. Nothing here is durable; a restart drops all of it and the
// user simply restarts the flow.
package session

import (
	"sync"
	"time"

	"subscription-bot/internal/domain/billing"
)

// InvoiceCooldown is the minimum gap between purchase-intent actions
// for one user, absorbing duplicate-click bursts.
const InvoiceCooldown = 10 * time.Second

// ReceiptWait records that a user is expected to upload a receipt for
// a specific payment request.
type ReceiptWait struct {
	RequestID uint
	Plan      billing.Plan
}

type Store struct {
	mu            sync.Mutex
	receiptWaits  map[int64]ReceiptWait
	contactsWaits map[int64]uint
	lastInvoice   map[int64]time.Time
}

func NewStore() *Store {
	return &Store{
		receiptWaits:  make(map[int64]ReceiptWait),
		contactsWaits: make(map[int64]uint),
		lastInvoice:   make(map[int64]time.Time),
	}
}

// SetReceiptWait marks the user as owing a receipt for the request.
func (s *Store) SetReceiptWait(telegramID int64, requestID uint, plan billing.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiptWaits[telegramID] = ReceiptWait{RequestID: requestID, Plan: plan}
}

// ReceiptWaitFor returns the pending wait, if any.
func (s *Store) ReceiptWaitFor(telegramID int64) (ReceiptWait, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.receiptWaits[telegramID]
	return w, ok
}

// ClearReceiptWait removes the wait. Callers clear only after the
// store write for the attached proof succeeded.
func (s *Store) ClearReceiptWait(telegramID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.receiptWaits, telegramID)
}

// SetContactsWait marks the user as owing contact details for the request.
func (s *Store) SetContactsWait(telegramID int64, requestID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactsWaits[telegramID] = requestID
}

// ContactsWaitFor returns the request awaiting contacts, if any.
func (s *Store) ContactsWaitFor(telegramID int64) (uint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.contactsWaits[telegramID]
	return id, ok
}

// Clear drops all transient state for the user.
func (s *Store) Clear(telegramID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.receiptWaits, telegramID)
	delete(s.contactsWaits, telegramID)
}

// AllowInvoice reports whether the user may trigger another
// purchase-intent action at `now`, and records the attempt when
// allowed. Best-effort: the window resets on process restart.
func (s *Store) AllowInvoice(telegramID int64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastInvoice[telegramID]; ok && now.Sub(last) < InvoiceCooldown {
		return false
	}
	s.lastInvoice[telegramID] = now
	return true
}
