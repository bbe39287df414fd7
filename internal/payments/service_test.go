package payments

import (
	"fmt"
	"testing"
	"time"

	"subscription-bot/database"
	"subscription-bot/internal/domain/billing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return NewService(db, zap.NewNop())
}

func countRequests(t *testing.T, s *Service, telegramID int64) int64 {
	t.Helper()
	var count int64
	require.NoError(t, s.db.Model(&billing.PaymentRequest{}).
		Where("telegram_id = ?", telegramID).Count(&count).Error)
	return count
}

func TestCreateOrReplace_NewRequest(t *testing.T) {
	s := newTestService(t)

	id, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)
	require.NotZero(t, id)

	req, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, req.Status)
	assert.Equal(t, billing.PlanSubscription, req.Plan)
	assert.EqualValues(t, 50000, req.Amount)
}

func TestCreateOrReplace_ReplacesOpenRequest(t *testing.T) {
	s := newTestService(t)

	first, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)
	require.NoError(t, s.AttachProof(first, "file-1"))

	// User changes their mind before the review happens.
	second, err := s.CreateOrReplace(100, "alice", billing.PlanAmulet, 250000)
	require.NoError(t, err)

	assert.Equal(t, first, second, "open request must be reused, not duplicated")
	assert.EqualValues(t, 1, countRequests(t, s, 100))

	req, err := s.Get(second)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, req.Status)
	assert.Equal(t, billing.PlanAmulet, req.Plan)
	assert.EqualValues(t, 250000, req.Amount)
	assert.Empty(t, req.ProofFileID, "prior proof must be cleared")
}

func TestCreateOrReplace_NewRequestAfterTerminal(t *testing.T) {
	s := newTestService(t)

	first, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)
	_, err = s.Decide(first, 1, false, "")
	require.NoError(t, err)

	second, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.EqualValues(t, 2, countRequests(t, s, 100))
}

func TestCreateOrReplace_Validation(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateOrReplace(100, "alice", billing.Plan("yacht"), 50000)
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = s.CreateOrReplace(100, "alice", billing.PlanSubscription, 0)
	assert.Error(t, err)

	assert.EqualValues(t, 0, countRequests(t, s, 100), "validation failures must not create rows")
}

func TestAttachProof(t *testing.T) {
	s := newTestService(t)

	id, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)

	require.NoError(t, s.AttachProof(id, "file-1"))

	req, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusAwaitingReview, req.Status)
	assert.Equal(t, "file-1", req.ProofFileID)
}

func TestAttachProof_NotPending(t *testing.T) {
	s := newTestService(t)

	id, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)
	require.NoError(t, s.AttachProof(id, "file-1"))

	// awaiting_review is no longer pending
	assert.ErrorIs(t, s.AttachProof(id, "file-2"), ErrNotAwaitingProof)

	_, err = s.Decide(id, 1, true, "")
	require.NoError(t, err)
	assert.ErrorIs(t, s.AttachProof(id, "file-3"), ErrNotAwaitingProof)

	req, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusConfirmed, req.Status)
	assert.Equal(t, "file-1", req.ProofFileID, "terminal record must stay untouched")

	assert.ErrorIs(t, s.AttachProof(9999, "file-4"), ErrNotFound)
}

func TestAttachContacts(t *testing.T) {
	s := newTestService(t)

	id, err := s.CreateOrReplace(100, "alice", billing.PlanConsultation, 500000)
	require.NoError(t, err)
	require.NoError(t, s.AttachProof(id, "file-1"))

	require.NoError(t, s.AttachContacts(id, "+79990001122", "alice@example.com"))

	req, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "+79990001122", req.Phone)
	assert.Equal(t, "alice@example.com", req.Email)
	assert.Equal(t, billing.StatusAwaitingReview, req.Status, "contacts must not change status")

	assert.ErrorIs(t, s.AttachContacts(9999, "x", "y"), ErrNotFound)
}

func TestDecide_Approve(t *testing.T) {
	s := newTestService(t)

	id, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)
	require.NoError(t, s.AttachProof(id, "file-1"))

	outcome, err := s.Decide(id, 42, true, "looks good")
	require.NoError(t, err)
	assert.Equal(t, id, outcome.RequestID)
	assert.EqualValues(t, 100, outcome.TelegramID)
	assert.Equal(t, billing.PlanSubscription, outcome.Plan)
	assert.EqualValues(t, 50000, outcome.Amount)
	assert.True(t, outcome.Approved)

	req, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusConfirmed, req.Status)
	require.NotNil(t, req.ReviewerID)
	assert.EqualValues(t, 42, *req.ReviewerID)
	assert.Equal(t, "looks good", req.ReviewerNote)
}

func TestDecide_AlreadyProcessed(t *testing.T) {
	s := newTestService(t)

	id, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)
	_, err = s.Decide(id, 42, true, "")
	require.NoError(t, err)

	_, err = s.Decide(id, 42, true, "")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	_, err = s.Decide(id, 42, false, "")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	req, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusConfirmed, req.Status, "terminal status is immutable")
}

func TestDecide_Reject(t *testing.T) {
	s := newTestService(t)

	id, err := s.CreateOrReplace(100, "alice", billing.PlanAmulet, 250000)
	require.NoError(t, err)

	outcome, err := s.Decide(id, 42, false, "no transfer received")
	require.NoError(t, err)
	assert.False(t, outcome.Approved)

	req, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusRejected, req.Status)
	assert.Equal(t, "no transfer received", req.ReviewerNote)
}

func TestCancel(t *testing.T) {
	s := newTestService(t)

	id, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(id))

	req, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, req.Status)

	assert.ErrorIs(t, s.Cancel(id), ErrAlreadyProcessed)
	assert.ErrorIs(t, s.Cancel(9999), ErrNotFound)
}

func TestCleanupAbandoned(t *testing.T) {
	s := newTestService(t)

	stale, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)
	fresh, err := s.CreateOrReplace(200, "bob", billing.PlanSubscription, 50000)
	require.NoError(t, err)

	require.NoError(t, s.db.Model(&billing.PaymentRequest{}).
		Where("id = ?", stale).
		UpdateColumn("updated_at", time.Now().Add(-72*time.Hour)).Error)

	count, err := s.CleanupAbandoned(48 * time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	staleReq, err := s.Get(stale)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, staleReq.Status)

	freshReq, err := s.Get(fresh)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, freshReq.Status)
}

func TestOpenForUser(t *testing.T) {
	s := newTestService(t)

	open, err := s.OpenForUser(100)
	require.NoError(t, err)
	assert.Nil(t, open)

	id, err := s.CreateOrReplace(100, "alice", billing.PlanSubscription, 50000)
	require.NoError(t, err)

	open, err = s.OpenForUser(100)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, id, open.ID)

	_, err = s.Decide(id, 1, true, "")
	require.NoError(t, err)

	open, err = s.OpenForUser(100)
	require.NoError(t, err)
	assert.Nil(t, open)
}
