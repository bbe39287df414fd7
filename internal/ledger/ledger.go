// Package ledger owns the subscription expiry arithmetic and the
// classification of users against the current clock.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"subscription-bot/internal/domain/users"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Classification of a user's subscription at a point in time.
type Classification int

const (
	NoSubscription Classification = iota
	Active
	ExpiringWithin
	Expired
)

func (c Classification) String() string {
	switch c {
	case NoSubscription:
		return "no_subscription"
	case Active:
		return "active"
	case ExpiringWithin:
		return "expiring_within"
	case Expired:
		return "expired"
	}
	return "unknown"
}

type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger

	// Serializes read-modify-write per user. Concurrent payment
	// confirmations for the same user must not lose an extension.
	mu        sync.Mutex
	userLocks map[int64]*sync.Mutex

	now func() time.Time
}

func NewLedger(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:        db,
		logger:    logger,
		userLocks: make(map[int64]*sync.Mutex),
		now:       time.Now,
	}
}

func (l *Ledger) lockUser(telegramID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.userLocks[telegramID]
	if !ok {
		m = &sync.Mutex{}
		l.userLocks[telegramID] = m
	}
	return m
}

// WithUserLock runs fn while holding the user's lock. Workflows whose
// read-modify-write sequences may race each other on the same user
// (a renewal payment against a reconciliation revoke) share this lock.
// fn must not call back into a locking method for the same user.
func (l *Ledger) WithUserLock(telegramID int64, fn func() error) error {
	mu := l.lockUser(telegramID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// Extend adds the purchased duration to the user's subscription and
// returns the new expiry. Renewal is additive from the prior expiry,
// even when that expiry is already in the past: a user renewing after
// lapsing gains the purchased days from their original end date, not
// from today. Reminder flags are reset so the next threshold crossing
// notifies again.
func (l *Ledger) Extend(telegramID int64, days int, username string, inGroup bool) (time.Time, error) {
	var newEnd time.Time
	err := l.WithUserLock(telegramID, func() error {
		var err error
		newEnd, err = l.extend(telegramID, days, username, inGroup)
		return err
	})
	return newEnd, err
}

// ExtendMembership reads the tracked membership state and extends the
// subscription with it in one critical section, returning whether the
// user was in the group at that moment. Callers decide between the
// renewal and the invite path from the returned flag; reading it
// outside the lock could resurrect the in_group flag of a user the
// reconciler kicked in between.
func (l *Ledger) ExtendMembership(telegramID int64, days int, username string) (time.Time, bool, error) {
	var (
		newEnd  time.Time
		inGroup bool
	)
	err := l.WithUserLock(telegramID, func() error {
		user, err := l.Get(telegramID)
		if err != nil {
			return err
		}
		inGroup = user != nil && user.InGroup
		newEnd, err = l.extend(telegramID, days, username, inGroup)
		return err
	})
	return newEnd, inGroup, err
}

// extend is the unlocked read-modify-write; callers hold the user lock.
func (l *Ledger) extend(telegramID int64, days int, username string, inGroup bool) (time.Time, error) {
	var user users.User
	err := l.db.Where("telegram_id = ?", telegramID).First(&user).Error

	now := l.now()
	var newEnd time.Time

	switch {
	case err == nil && user.SubscriptionEnd != nil:
		newEnd = user.SubscriptionEnd.Add(time.Duration(days) * 24 * time.Hour)
	case err == nil || errors.Is(err, gorm.ErrRecordNotFound):
		newEnd = now.Add(time.Duration(days) * 24 * time.Hour)
	default:
		return time.Time{}, fmt.Errorf("load user %d: %w", telegramID, err)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = users.User{
			TelegramID:      telegramID,
			Username:        username,
			SubscriptionEnd: &newEnd,
			InGroup:         inGroup,
		}
		if err := l.db.Create(&user).Error; err != nil {
			return time.Time{}, fmt.Errorf("create user %d: %w", telegramID, err)
		}
	} else {
		updates := map[string]interface{}{
			"subscription_end":           newEnd,
			"username":                   username,
			"in_group":                   inGroup,
			"notified_expiring_soon":     false,
			"notified_expiring_tomorrow": false,
		}
		if err := l.db.Model(&users.User{}).
			Where("telegram_id = ?", telegramID).
			Updates(updates).Error; err != nil {
			return time.Time{}, fmt.Errorf("extend user %d: %w", telegramID, err)
		}
	}

	l.logger.Info("subscription extended",
		zap.Int64("telegram_id", telegramID),
		zap.Int("days", days),
		zap.Time("new_end", newEnd),
	)
	return newEnd, nil
}

// Get returns the user's record, or nil when the user has never been seen.
func (l *Ledger) Get(telegramID int64) (*users.User, error) {
	var user users.User
	err := l.db.Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %d: %w", telegramID, err)
	}
	return &user, nil
}

// Classify reports the subscription state at `now`. Only users last
// marked in-group are subject to expiry: a user who never joined is
// not revoked by the reconciliation loop.
func (l *Ledger) Classify(user *users.User, now time.Time, window time.Duration) Classification {
	if user == nil || user.SubscriptionEnd == nil {
		return NoSubscription
	}
	end := *user.SubscriptionEnd
	if end.Before(now) {
		if user.InGroup {
			return Expired
		}
		return NoSubscription
	}
	if !end.After(now.Add(window)) {
		return ExpiringWithin
	}
	return Active
}

// SetInGroup flips the tracked membership flag in a single update.
// Workflows that read other state before flipping it must wrap the
// whole sequence in WithUserLock.
func (l *Ledger) SetInGroup(telegramID int64, inGroup bool) error {
	if err := l.db.Model(&users.User{}).
		Where("telegram_id = ?", telegramID).
		Update("in_group", inGroup).Error; err != nil {
		return fmt.Errorf("set in_group for %d: %w", telegramID, err)
	}
	return nil
}

// Expired lists users whose subscription ended before `now` and who are
// still marked in-group.
func (l *Ledger) Expired(now time.Time) ([]users.User, error) {
	var expired []users.User
	err := l.db.
		Where("subscription_end IS NOT NULL AND subscription_end < ? AND in_group = ?", now, true).
		Find(&expired).Error
	if err != nil {
		return nil, fmt.Errorf("query expired subscriptions: %w", err)
	}
	return expired, nil
}

// ExpiringWithin lists users whose subscription ends inside
// [now, now+window].
func (l *Ledger) ExpiringWithin(now time.Time, window time.Duration) ([]users.User, error) {
	var expiring []users.User
	err := l.db.
		Where("subscription_end IS NOT NULL AND subscription_end BETWEEN ? AND ?", now, now.Add(window)).
		Find(&expiring).Error
	if err != nil {
		return nil, fmt.Errorf("query expiring subscriptions: %w", err)
	}
	return expiring, nil
}

// Reminder flags guarding duplicate expiry reminders.
type ReminderFlag string

const (
	RemindedSoon     ReminderFlag = "notified_expiring_soon"
	RemindedTomorrow ReminderFlag = "notified_expiring_tomorrow"
)

// MarkReminded sets the given reminder flag after a successful send.
func (l *Ledger) MarkReminded(telegramID int64, flag ReminderFlag) error {
	if err := l.db.Model(&users.User{}).
		Where("telegram_id = ?", telegramID).
		Update(string(flag), true).Error; err != nil {
		return fmt.Errorf("mark %s for %d: %w", flag, telegramID, err)
	}
	return nil
}

// TouchInvoiceTime persists the last invoice timestamp used by the
// duplicate-click throttle.
func (l *Ledger) TouchInvoiceTime(telegramID int64, at time.Time) error {
	if err := l.db.Model(&users.User{}).
		Where("telegram_id = ?", telegramID).
		Update("last_invoice_time", at).Error; err != nil {
		return fmt.Errorf("touch invoice time for %d: %w", telegramID, err)
	}
	return nil
}
