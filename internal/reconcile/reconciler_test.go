package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"subscription-bot/database"
	"subscription-bot/internal/access"
	"subscription-bot/internal/domain/users"
	"subscription-bot/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeMessenger struct {
	messages map[int64][]string
	banErrs  map[int64]error
	sendErrs map[int64]error
	bans     []int64
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		messages: make(map[int64][]string),
		banErrs:  make(map[int64]error),
		sendErrs: make(map[int64]error),
	}
}

func (f *fakeMessenger) SendMessage(chatID int64, text string) error {
	if err := f.sendErrs[chatID]; err != nil {
		return err
	}
	f.messages[chatID] = append(f.messages[chatID], text)
	return nil
}

func (f *fakeMessenger) CreateInviteLink(chatID int64, name string, expireAt time.Time, memberLimit int) (string, error) {
	return "https://t.me/+" + name, nil
}

func (f *fakeMessenger) BanChatMember(chatID, userID int64) error {
	if err := f.banErrs[userID]; err != nil {
		return err
	}
	f.bans = append(f.bans, userID)
	return nil
}

func (f *fakeMessenger) UnbanChatMember(chatID, userID int64) error { return nil }

const testAdminID = int64(999)

type fixture struct {
	reconciler *Reconciler
	messenger  *fakeMessenger
	ledger     *ledger.Ledger
	db         *gorm.DB
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	messenger := newFakeMessenger()
	logger := zap.NewNop()
	led := ledger.NewLedger(db, logger)
	provisioner := access.NewProvisioner(db, led, messenger, logger, -100500, testAdminID)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(led, provisioner, messenger, logger, time.Hour, testAdminID)
	r.now = func() time.Time { return now }

	return &fixture{reconciler: r, messenger: messenger, ledger: led, db: db, now: now}
}

func (f *fixture) seed(t *testing.T, id int64, username string, end time.Time, inGroup bool) {
	t.Helper()
	require.NoError(t, f.db.Create(&users.User{
		TelegramID:      id,
		Username:        username,
		SubscriptionEnd: &end,
		InGroup:         inGroup,
	}).Error)
}

func (f *fixture) user(t *testing.T, id int64) users.User {
	t.Helper()
	var u users.User
	require.NoError(t, f.db.Where("telegram_id = ?", id).First(&u).Error)
	return u
}

func TestRunTick_RevokesExpired(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "alice", f.now.Add(-time.Hour), true)
	f.seed(t, 2, "bob", f.now.Add(48*time.Hour), true)

	require.NoError(t, f.reconciler.RunTick(context.Background()))

	assert.False(t, f.user(t, 1).InGroup)
	assert.True(t, f.user(t, 2).InGroup)
	assert.Equal(t, []int64{1}, f.messenger.bans)
}

func TestRunTick_FailureIsolationPerUser(t *testing.T) {
	// One user failing during the platform removal must not stop the
	// rest of the batch.
	f := newFixture(t)
	f.seed(t, 1, "alice", f.now.Add(-time.Hour), true)
	f.seed(t, 2, "bob", f.now.Add(-time.Hour), true)
	f.seed(t, 3, "carol", f.now.Add(-time.Hour), true)
	f.messenger.banErrs[2] = errors.New("chat not found")
	f.messenger.sendErrs[2] = errors.New("blocked by user")

	require.NoError(t, f.reconciler.RunTick(context.Background()))

	assert.False(t, f.user(t, 1).InGroup)
	assert.False(t, f.user(t, 2).InGroup)
	assert.False(t, f.user(t, 3).InGroup)
	assert.Len(t, f.messenger.messages[1], 1)
	assert.Len(t, f.messenger.messages[3], 1)
}

func TestRunTick_TomorrowReminderSentOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "alice", f.now.Add(12*time.Hour), true)

	require.NoError(t, f.reconciler.RunTick(context.Background()))
	require.NoError(t, f.reconciler.RunTick(context.Background()))

	assert.Len(t, f.messenger.messages[1], 1, "reminder must be sent at most once per crossing")
	assert.True(t, f.user(t, 1).NotifiedExpiringTomorrow)
}

func TestRunTick_SoonReminder(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "alice", f.now.Add(3*24*time.Hour), true)

	require.NoError(t, f.reconciler.RunTick(context.Background()))

	require.Len(t, f.messenger.messages[1], 1)
	assert.Contains(t, f.messenger.messages[1][0], "Renew")
	u := f.user(t, 1)
	assert.True(t, u.NotifiedExpiringSoon)
	assert.False(t, u.NotifiedExpiringTomorrow)
}

func TestRunTick_ReminderSendFailureLeavesFlagUnset(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "alice", f.now.Add(12*time.Hour), true)
	f.messenger.sendErrs[1] = errors.New("blocked by user")

	require.NoError(t, f.reconciler.RunTick(context.Background()))
	assert.False(t, f.user(t, 1).NotifiedExpiringTomorrow)

	// Delivery works again on a later tick; the reminder goes out then.
	delete(f.messenger.sendErrs, 1)
	require.NoError(t, f.reconciler.RunTick(context.Background()))
	assert.Len(t, f.messenger.messages[1], 1)
	assert.True(t, f.user(t, 1).NotifiedExpiringTomorrow)
}

func TestRunTick_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "alice", f.now.Add(-time.Hour), true)

	require.NoError(t, f.reconciler.RunTick(context.Background()))
	require.NoError(t, f.reconciler.RunTick(context.Background()))

	// Second tick finds no expired in-group user; no duplicate kick or
	// notification happens.
	assert.Equal(t, []int64{1}, f.messenger.bans)
	assert.Len(t, f.messenger.messages[1], 1)
}

func TestRunTick_RenewalBetweenScanAndRevokeWins(t *testing.T) {
	// The expired scan returns a snapshot; a renewal payment can land
	// before the revoke reaches that user. The re-read under the user
	// lock must see the new expiry and leave the membership alone.
	f := newFixture(t)
	f.seed(t, 1, "alice", f.now.Add(-time.Hour), true)
	stale := f.user(t, 1)

	_, inGroup, err := f.ledger.ExtendMembership(1, 60, "alice")
	require.NoError(t, err)
	require.True(t, inGroup)

	require.NoError(t, f.reconciler.revokeExpired(stale))

	assert.Empty(t, f.messenger.bans)
	assert.True(t, f.user(t, 1).InGroup)
	assert.Empty(t, f.messenger.messages[1])
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.reconciler.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.reconciler.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop after cancellation")
	}
}
