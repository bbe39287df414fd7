// Package access owns the side-effecting workflow of granting and
// revoking private-group membership.
package access

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"subscription-bot/internal/domain/invites"
	"subscription-bot/internal/ledger"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInviteCreation signals that the platform refused to create an
// invite link. The caller must not mark the user in-group.
var ErrInviteCreation = errors.New("invite link creation failed")

// Messenger is the subset of the chat platform the provisioning
// workflow needs. Removal is the ban-then-unban kick idiom: a one-time
// eviction that leaves no permanent ban record.
type Messenger interface {
	SendMessage(chatID int64, text string) error
	CreateInviteLink(chatID int64, name string, expireAt time.Time, memberLimit int) (string, error)
	BanChatMember(chatID, userID int64) error
	UnbanChatMember(chatID, userID int64) error
}

type Provisioner struct {
	db        *gorm.DB
	ledger    *ledger.Ledger
	messenger Messenger
	logger    *zap.Logger

	groupChatID int64
	adminID     int64

	now func() time.Time
}

func NewProvisioner(db *gorm.DB, led *ledger.Ledger, messenger Messenger, logger *zap.Logger, groupChatID, adminID int64) *Provisioner {
	return &Provisioner{
		db:          db,
		ledger:      led,
		messenger:   messenger,
		logger:      logger,
		groupChatID: groupChatID,
		adminID:     adminID,
		now:         time.Now,
	}
}

// IssueInvite returns a usable single-use invite link for the user.
// An unused link younger than the platform TTL is handed out again
// instead of minting a duplicate; otherwise a fresh 24-hour single-join
// link is created and persisted.
func (p *Provisioner) IssueInvite(telegramID int64) (string, error) {
	var existing invites.InviteLink
	err := p.db.Where("telegram_id = ? AND used = ?", telegramID, false).
		Order("id DESC").
		First(&existing).Error
	if err == nil && existing.Usable(p.now()) {
		return existing.Link, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("load invite links for %d: %w", telegramID, err)
	}

	name := fmt.Sprintf("invite_%d_%s", telegramID, ulid.MustNew(ulid.Now(), rand.Reader).String())
	link, err := p.messenger.CreateInviteLink(p.groupChatID, name, p.now().Add(invites.TTL), 1)
	if err != nil {
		p.logger.Error("invite link creation failed",
			zap.Int64("telegram_id", telegramID),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", ErrInviteCreation, err)
	}

	record := invites.InviteLink{TelegramID: telegramID, Link: link}
	if err := p.db.Create(&record).Error; err != nil {
		return "", fmt.Errorf("save invite link for %d: %w", telegramID, err)
	}
	return link, nil
}

// MarkInviteUsed consumes the link once the user joins.
func (p *Provisioner) MarkInviteUsed(link string) error {
	if err := p.db.Model(&invites.InviteLink{}).
		Where("link = ?", link).
		Update("used", true).Error; err != nil {
		return fmt.Errorf("mark invite used: %w", err)
	}
	return nil
}

// Grant marks the user in-group. Call only after IssueInvite succeeded
// or the user is confirmed already a member.
func (p *Provisioner) Grant(telegramID int64) error {
	return p.ledger.SetInGroup(telegramID, true)
}

// RevokeResult reports which best-effort steps of a revocation went
// through. FlagCleared is the only step whose failure fails the call.
type RevokeResult struct {
	Kicked           bool
	FlagCleared      bool
	UserNotified     bool
	OperatorNotified bool
}

// Revoke removes an expired user from the group. The kick is
// best-effort (the user may have left on their own). The in_group flag
// is cleared before any notification is attempted, so a notification
// failure cannot leave the user queued for another revocation. Callers
// racing renewal payments are expected to hold the ledger's user lock;
// Revoke itself does not take it.
func (p *Provisioner) Revoke(telegramID int64, username string) (RevokeResult, error) {
	var result RevokeResult

	if err := p.messenger.BanChatMember(p.groupChatID, telegramID); err != nil {
		p.logger.Warn("kick failed, user may have already left",
			zap.Int64("telegram_id", telegramID),
			zap.String("username", username),
			zap.Error(err),
		)
	} else {
		result.Kicked = true
		if err := p.messenger.UnbanChatMember(p.groupChatID, telegramID); err != nil {
			p.logger.Warn("unban after kick failed",
				zap.Int64("telegram_id", telegramID),
				zap.Error(err),
			)
		}
	}

	if err := p.ledger.SetInGroup(telegramID, false); err != nil {
		return result, fmt.Errorf("clear in_group for %d: %w", telegramID, err)
	}
	result.FlagCleared = true

	if err := p.messenger.SendMessage(telegramID,
		"Your subscription has expired and you were removed from the private group. "+
			"Renew your subscription to regain access."); err != nil {
		p.logger.Warn("expiry notification failed",
			zap.Int64("telegram_id", telegramID),
			zap.Error(err),
		)
	} else {
		result.UserNotified = true
	}

	if p.adminID != 0 {
		if err := p.messenger.SendMessage(p.adminID,
			fmt.Sprintf("User @%s (ID: %d) was removed from the private group after subscription expiry.", username, telegramID)); err != nil {
			p.logger.Warn("operator notification failed", zap.Error(err))
		} else {
			result.OperatorNotified = true
		}
	}

	return result, nil
}
