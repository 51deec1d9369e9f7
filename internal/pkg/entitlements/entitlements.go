package entitlements

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotEntitled       = errors.New("no open trial or verified subscription")
)

// Window is the effective entitlement window of a tenant bot.
type Window struct {
	Start time.Time
	End   time.Time
	// Source is "trial", "plan" or "subscription".
	Source string
}

// EffectiveWindow resolves the entitlement window in force at now. Trial,
// plan expiry and every verified subscription that has started are candidates;
// overlapping windows resolve to the latest end. The result may already have
// ended, callers compare End with now.
func EffectiveWindow(bot *models.TenantBot, now time.Time) (Window, bool) {
	if bot == nil {
		return Window{}, false
	}

	var best Window
	found := false
	consider := func(start, end time.Time, source string) {
		if start.After(now) {
			return
		}
		if !found || end.After(best.End) {
			best = Window{Start: start, End: end, Source: source}
			found = true
		}
	}

	if bot.TrialExpiresAt != nil {
		consider(bot.CreatedAt, *bot.TrialExpiresAt, "trial")
	}
	if bot.PlanExpiresAt != nil {
		consider(bot.CreatedAt, *bot.PlanExpiresAt, "plan")
	}
	for i := range bot.Subscriptions {
		sub := &bot.Subscriptions[i]
		if !sub.IsVerified() {
			continue
		}
		source := "subscription"
		if sub.Kind == models.SubscriptionKindTrial {
			source = "trial"
		}
		consider(sub.StartsAt, sub.EndsAt, source)
	}
	return best, found
}

// HasOpenWindow reports whether some trial or verified window covers now,
// regardless of the bot status.
func HasOpenWindow(bot *models.TenantBot, now time.Time) bool {
	w, ok := EffectiveWindow(bot, now)
	return ok && now.Before(w.End)
}

// IsEntitled reports whether the bot may answer messages at now. It only
// reads the already loaded record and its subscriptions.
func IsEntitled(bot *models.TenantBot, now time.Time) bool {
	if bot == nil || normalizeStatus(bot.Status) != models.BOT_STATUS_ACTIVE {
		return false
	}
	return HasOpenWindow(bot, now)
}

// Approve moves a pending registration to active. The operator approval is
// only honored while a trial or verified subscription is open.
func Approve(bot *models.TenantBot, approverID int64, now time.Time) error {
	if normalizeStatus(bot.Status) != models.BOT_STATUS_PENDING {
		return fmt.Errorf("%w: approve from %q", ErrInvalidTransition, bot.Status)
	}
	if !HasOpenWindow(bot, now) {
		return ErrNotEntitled
	}
	bot.Status = models.BOT_STATUS_ACTIVE
	bot.ApprovedAt = &now
	bot.ApprovedBy = approverID
	return nil
}

// Expire moves an active bot to inactive once its window has lapsed. It
// returns true when the status changed.
func Expire(bot *models.TenantBot, now time.Time) bool {
	if normalizeStatus(bot.Status) != models.BOT_STATUS_ACTIVE {
		return false
	}
	if HasOpenWindow(bot, now) {
		return false
	}
	bot.Status = models.BOT_STATUS_INACTIVE
	return true
}

// VerifySubscription marks a submitted payment window verified and
// re-activates the bot when that is allowed. Suspended bots stay suspended
// and pending bots still wait for the approval unless they were approved
// before.
func VerifySubscription(bot *models.TenantBot, sub *models.Subscription, verifierID int64, now time.Time) error {
	if sub.TenantBotID != bot.ID {
		return fmt.Errorf("subscription %d does not belong to bot %d", sub.ID, bot.ID)
	}
	if sub.Status == models.SubscriptionStatusRejected {
		return fmt.Errorf("%w: subscription %d was rejected", ErrInvalidTransition, sub.ID)
	}

	sub.Status = models.SubscriptionStatusVerified
	sub.VerifiedBy = verifierID
	sub.VerifiedAt = &now

	found := false
	for i := range bot.Subscriptions {
		if bot.Subscriptions[i].ID == sub.ID && sub.ID != 0 {
			bot.Subscriptions[i] = *sub
			found = true
			break
		}
	}
	if !found {
		bot.Subscriptions = append(bot.Subscriptions, *sub)
	}

	if sub.Kind == models.SubscriptionKindPaid {
		bot.Plan = sub.Plan
		if bot.PlanExpiresAt == nil || sub.EndsAt.After(*bot.PlanExpiresAt) {
			end := sub.EndsAt
			bot.PlanExpiresAt = &end
		}
	}

	switch normalizeStatus(bot.Status) {
	case models.BOT_STATUS_INACTIVE:
		if HasOpenWindow(bot, now) {
			bot.Status = models.BOT_STATUS_ACTIVE
		}
	case models.BOT_STATUS_PENDING:
		if bot.IsApproved() && HasOpenWindow(bot, now) {
			bot.Status = models.BOT_STATUS_ACTIVE
		}
	}
	return nil
}

// Suspend blocks the bot regardless of its current status.
func Suspend(bot *models.TenantBot, reason string) error {
	if normalizeStatus(bot.Status) == models.BOT_STATUS_SUSPENDED {
		return fmt.Errorf("%w: already suspended", ErrInvalidTransition)
	}
	bot.Status = models.BOT_STATUS_SUSPENDED
	bot.SuspendReason = strings.TrimSpace(reason)
	return nil
}

// Reinstate lifts a suspension. The bot returns to pending when it was never
// approved, to active when still entitled and to inactive otherwise.
func Reinstate(bot *models.TenantBot, now time.Time) error {
	if normalizeStatus(bot.Status) != models.BOT_STATUS_SUSPENDED {
		return fmt.Errorf("%w: reinstate from %q", ErrInvalidTransition, bot.Status)
	}
	bot.SuspendReason = ""
	switch {
	case !bot.IsApproved():
		bot.Status = models.BOT_STATUS_PENDING
	case HasOpenWindow(bot, now):
		bot.Status = models.BOT_STATUS_ACTIVE
	default:
		bot.Status = models.BOT_STATUS_INACTIVE
	}
	return nil
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
