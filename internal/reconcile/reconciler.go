// Package reconcile runs the periodic job that aligns group membership
// with subscription expiry and sends expiry reminders.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"subscription-bot/internal/access"
	"subscription-bot/internal/domain/users"
	"subscription-bot/internal/ledger"

	"go.uber.org/zap"
)

const (
	soonWindow     = 7 * 24 * time.Hour
	tomorrowWindow = 24 * time.Hour
)

type Reconciler struct {
	ledger      *ledger.Ledger
	provisioner *access.Provisioner
	messenger   access.Messenger
	logger      *zap.Logger

	interval time.Duration
	adminID  int64

	now func() time.Time
}

func NewReconciler(led *ledger.Ledger, provisioner *access.Provisioner, messenger access.Messenger, logger *zap.Logger, interval time.Duration, adminID int64) *Reconciler {
	return &Reconciler{
		ledger:      led,
		provisioner: provisioner,
		messenger:   messenger,
		logger:      logger,
		interval:    interval,
		adminID:     adminID,
		now:         time.Now,
	}
}

// Run ticks until the context is cancelled. A failing tick is reported
// and the loop continues; cancellation waits for the tick in flight.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if err := r.RunTick(ctx); err != nil {
		r.logger.Error("reconciliation tick failed", zap.Error(err))
		if r.adminID != 0 {
			if serr := r.messenger.SendMessage(r.adminID,
				fmt.Sprintf("Subscription check failed: %v", err)); serr != nil {
				r.logger.Warn("could not report tick failure to operator", zap.Error(serr))
			}
		}
	}
}

// RunTick revokes expired memberships and sends due reminders. It is
// idempotent and safe to invoke out of schedule, e.g. from an operator
// command. A failure on one user never aborts the rest of the batch.
func (r *Reconciler) RunTick(ctx context.Context) error {
	now := r.now()

	expired, err := r.ledger.Expired(now)
	if err != nil {
		return err
	}
	for _, user := range expired {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.revokeExpired(user); err != nil {
			r.logger.Error("revocation failed",
				zap.Int64("telegram_id", user.TelegramID),
				zap.Error(err),
			)
			continue
		}
	}

	r.remind(ctx, now)
	return nil
}

// revokeExpired kicks one user from the scan batch. The user's state is
// re-read under the per-user lock before the kick: a renewal payment
// that landed between the scan and this point moves the expiry forward,
// and the revoke for the stale snapshot must not happen.
func (r *Reconciler) revokeExpired(user users.User) error {
	return r.ledger.WithUserLock(user.TelegramID, func() error {
		current, err := r.ledger.Get(user.TelegramID)
		if err != nil {
			return err
		}
		if r.ledger.Classify(current, r.now(), 0) != ledger.Expired {
			r.logger.Info("revocation skipped, subscription renewed",
				zap.Int64("telegram_id", user.TelegramID),
			)
			return nil
		}
		if _, err := r.provisioner.Revoke(user.TelegramID, user.Username); err != nil {
			return err
		}
		r.logger.Info("membership revoked",
			zap.Int64("telegram_id", user.TelegramID),
			zap.String("username", user.Username),
		)
		return nil
	})
}

// remind sends the 7-day and 1-day expiry reminders. Each flag is set
// only after a successful send, and only once per threshold crossing.
func (r *Reconciler) remind(ctx context.Context, now time.Time) {
	expiring, err := r.ledger.ExpiringWithin(now, soonWindow)
	if err != nil {
		r.logger.Error("reminder scan failed", zap.Error(err))
		return
	}

	for _, user := range expiring {
		if ctx.Err() != nil {
			return
		}
		if user.SubscriptionEnd == nil {
			continue
		}
		left := user.SubscriptionEnd.Sub(now)

		switch {
		case left <= tomorrowWindow && !user.NotifiedExpiringTomorrow:
			r.sendReminder(user.TelegramID,
				"Your subscription expires within a day. Renew now to keep access to the private group.",
				ledger.RemindedTomorrow)
		case left <= soonWindow && !user.NotifiedExpiringSoon:
			r.sendReminder(user.TelegramID,
				fmt.Sprintf("Your subscription expires on %s. Renew in time to keep access to the private group.",
					user.SubscriptionEnd.Format("January 2, 2006")),
				ledger.RemindedSoon)
		}
	}
}

func (r *Reconciler) sendReminder(telegramID int64, text string, flag ledger.ReminderFlag) {
	if err := r.messenger.SendMessage(telegramID, text); err != nil {
		r.logger.Warn("reminder send failed",
			zap.Int64("telegram_id", telegramID),
			zap.Error(err),
		)
		return
	}
	if err := r.ledger.MarkReminded(telegramID, flag); err != nil {
		r.logger.Error("could not mark reminder sent",
			zap.Int64("telegram_id", telegramID),
			zap.Error(err),
		)
	}
}
