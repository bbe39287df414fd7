package session

import (
	"testing"
	"time"

	"subscription-bot/internal/domain/billing"

	"github.com/stretchr/testify/assert"
)

func TestReceiptWait(t *testing.T) {
	s := NewStore()

	_, ok := s.ReceiptWaitFor(100)
	assert.False(t, ok)

	s.SetReceiptWait(100, 7, billing.PlanSubscription)
	w, ok := s.ReceiptWaitFor(100)
	assert.True(t, ok)
	assert.EqualValues(t, 7, w.RequestID)
	assert.Equal(t, billing.PlanSubscription, w.Plan)

	s.ClearReceiptWait(100)
	_, ok = s.ReceiptWaitFor(100)
	assert.False(t, ok)
}

func TestContactsWait(t *testing.T) {
	s := NewStore()

	s.SetContactsWait(100, 7)
	id, ok := s.ContactsWaitFor(100)
	assert.True(t, ok)
	assert.EqualValues(t, 7, id)

	_, ok = s.ContactsWaitFor(200)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.SetReceiptWait(100, 7, billing.PlanAmulet)
	s.SetContactsWait(100, 7)

	s.Clear(100)

	_, ok := s.ReceiptWaitFor(100)
	assert.False(t, ok)
	_, ok = s.ContactsWaitFor(100)
	assert.False(t, ok)
}

func TestAllowInvoice(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, s.AllowInvoice(100, t0))
	assert.False(t, s.AllowInvoice(100, t0.Add(3*time.Second)), "duplicate click inside cooldown")
	assert.True(t, s.AllowInvoice(200, t0.Add(time.Second)), "other users are unaffected")
	assert.True(t, s.AllowInvoice(100, t0.Add(InvoiceCooldown+time.Second)))
}
