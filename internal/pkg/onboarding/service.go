// Package onboarding registers tenant bots and applies operator decisions on
// approvals and payment proofs.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/ManuelReschke/GhostRelay/app/repository"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/entitlements"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/security"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram"
	"github.com/gofiber/fiber/v2/log"
)

const DefaultTrialDays = 3

var ErrDuplicateCredential = errors.New("credential is already registered")

// Sealer encrypts credentials for storage.
type Sealer interface {
	SealCredential(token string) (string, error)
}

type Service struct {
	repos     *repository.Repositories
	sealer    Sealer
	pepper    string
	trialDays int
	// Provider, when set, verifies a credential with Telegram before it is stored.
	Provider telegram.Provider
	now      func() time.Time
}

func NewService(repos *repository.Repositories, sealer Sealer, pepper string, trialDays int) *Service {
	if trialDays <= 0 {
		trialDays = DefaultTrialDays
	}
	return &Service{
		repos:     repos,
		sealer:    sealer,
		pepper:    pepper,
		trialDays: trialDays,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register stores a new pending tenant bot with a trial window.
func (s *Service) Register(ctx context.Context, ownerID uint, adminChatID int64, token string) (*models.TenantBot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("credential is empty")
	}

	hash := security.CredentialFingerprint(token, s.pepper)
	if _, err := s.repos.TenantBot.GetByCredentialHash(ctx, hash); err == nil {
		return nil, ErrDuplicateCredential
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	var self telegram.User
	if s.Provider != nil {
		session, err := s.Provider.Open(ctx, token)
		if err != nil {
			return nil, err
		}
		self = session.Self()
		if err := session.Close(); err != nil {
			log.Warnf("[Onboarding] Closing verification session for %s: %v", security.MaskCredential(token), err)
		}
	}

	sealed, err := s.sealer.SealCredential(token)
	if err != nil {
		return nil, err
	}

	bot, err := models.NewTenantBot(ownerID, adminChatID, sealed, hash, s.trialDays)
	if err != nil {
		return nil, err
	}
	bot.BotUsername = self.Username
	bot.BotName = self.FullName()

	if err := s.repos.TenantBot.Create(ctx, bot); err != nil {
		return nil, err
	}

	log.Infof("[Onboarding] Registered bot %d (%s) for owner %d", bot.ID, security.MaskCredential(token), ownerID)
	return bot, nil
}

// Approve moves a pending bot to active.
func (s *Service) Approve(ctx context.Context, botID uint, approverID int64) (*models.TenantBot, error) {
	bot, err := s.repos.TenantBot.GetByID(ctx, botID)
	if err != nil {
		return nil, err
	}
	from := bot.Status
	if err := entitlements.Approve(bot, approverID, s.now()); err != nil {
		return nil, err
	}
	if err := s.repos.TenantBot.UpdateLifecycle(ctx, bot, from); err != nil {
		return nil, err
	}
	log.Infof("[Onboarding] Bot %d approved by %d", bot.ID, approverID)
	return bot, nil
}

// PaymentProof is a submitted payment for a subscription window.
type PaymentProof struct {
	Plan          string
	Days          int
	Amount        float64
	PaymentMethod string
	TransactionID string
}

// SubmitPayment records a pending paid window starting now or at the end of
// the current plan, whichever is later.
func (s *Service) SubmitPayment(ctx context.Context, botID uint, proof PaymentProof) (*models.Subscription, error) {
	if proof.Days <= 0 {
		return nil, fmt.Errorf("invalid subscription length %d", proof.Days)
	}
	bot, err := s.repos.TenantBot.GetByID(ctx, botID)
	if err != nil {
		return nil, err
	}

	start := s.now()
	if bot.PlanExpiresAt != nil && bot.PlanExpiresAt.After(start) {
		start = *bot.PlanExpiresAt
	}
	sub := &models.Subscription{
		TenantBotID:   bot.ID,
		Kind:          models.SubscriptionKindPaid,
		Plan:          proof.Plan,
		Amount:        proof.Amount,
		PaymentMethod: proof.PaymentMethod,
		TransactionID: proof.TransactionID,
		Status:        models.SubscriptionStatusPending,
		StartsAt:      start,
		EndsAt:        start.Add(time.Duration(proof.Days) * 24 * time.Hour),
	}
	if err := s.repos.Subscription.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// VerifyPayment marks a payment verified and reactivates the bot when allowed.
func (s *Service) VerifyPayment(ctx context.Context, subscriptionID uint, verifierID int64) (*models.TenantBot, error) {
	sub, err := s.repos.Subscription.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	bot, err := s.repos.TenantBot.GetByID(ctx, sub.TenantBotID)
	if err != nil {
		return nil, err
	}
	from := bot.Status
	if err := entitlements.VerifySubscription(bot, sub, verifierID, s.now()); err != nil {
		return nil, err
	}
	if err := s.repos.TenantBot.UpdateLifecycle(ctx, bot, from); err != nil {
		return nil, err
	}
	if err := s.repos.Subscription.Update(ctx, sub); err != nil {
		return nil, err
	}
	log.Infof("[Onboarding] Subscription %d verified, bot %d is %s", sub.ID, bot.ID, bot.Status)
	return bot, nil
}

// RejectPayment marks a pending payment rejected.
func (s *Service) RejectPayment(ctx context.Context, subscriptionID uint, note string) (*models.Subscription, error) {
	sub, err := s.repos.Subscription.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusPending {
		return nil, fmt.Errorf("%w: subscription %d is %s", entitlements.ErrInvalidTransition, sub.ID, sub.Status)
	}
	sub.Status = models.SubscriptionStatusRejected
	sub.Notes = strings.TrimSpace(note)
	if err := s.repos.Subscription.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// PendingPayments lists payments waiting for an operator.
func (s *Service) PendingPayments(ctx context.Context, limit int) ([]models.Subscription, error) {
	return s.repos.Subscription.ListPending(ctx, limit)
}
