package entitlements

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func botWithTrial(status string, trialEnd time.Time) *models.TenantBot {
	return &models.TenantBot{
		ID:             7,
		Status:         status,
		CreatedAt:      testNow.Add(-72 * time.Hour),
		TrialExpiresAt: &trialEnd,
	}
}

func TestIsEntitled_StatusGate(t *testing.T) {
	openTrial := testNow.Add(24 * time.Hour)
	for _, status := range []string{
		models.BOT_STATUS_PENDING,
		models.BOT_STATUS_INACTIVE,
		models.BOT_STATUS_SUSPENDED,
	} {
		bot := botWithTrial(status, openTrial)
		assert.False(t, IsEntitled(bot, testNow), "status %q must not be entitled", status)
	}

	assert.True(t, IsEntitled(botWithTrial(models.BOT_STATUS_ACTIVE, openTrial), testNow))
	assert.True(t, IsEntitled(botWithTrial("ACTIVE ", openTrial), testNow))
	assert.False(t, IsEntitled(nil, testNow))
}

func TestIsEntitled_WindowBoundaries(t *testing.T) {
	bot := botWithTrial(models.BOT_STATUS_ACTIVE, testNow)
	assert.False(t, IsEntitled(bot, testNow), "window end is exclusive")
	assert.True(t, IsEntitled(bot, testNow.Add(-time.Second)))

	noWindow := &models.TenantBot{Status: models.BOT_STATUS_ACTIVE}
	assert.False(t, IsEntitled(noWindow, testNow))
}

func TestIsEntitled_DoesNotMutate(t *testing.T) {
	bot := botWithTrial(models.BOT_STATUS_ACTIVE, testNow.Add(-time.Hour))
	for i := 0; i < 3; i++ {
		assert.False(t, IsEntitled(bot, testNow))
	}
	assert.Equal(t, models.BOT_STATUS_ACTIVE, bot.Status)
}

func TestEffectiveWindow_LatestEndWins(t *testing.T) {
	bot := botWithTrial(models.BOT_STATUS_ACTIVE, testNow.Add(-time.Hour))
	bot.Subscriptions = []models.Subscription{
		{ID: 1, TenantBotID: 7, Kind: models.SubscriptionKindPaid, Status: models.SubscriptionStatusVerified,
			StartsAt: testNow.Add(-48 * time.Hour), EndsAt: testNow.Add(10 * 24 * time.Hour)},
		{ID: 2, TenantBotID: 7, Kind: models.SubscriptionKindPaid, Status: models.SubscriptionStatusVerified,
			StartsAt: testNow.Add(-24 * time.Hour), EndsAt: testNow.Add(30 * 24 * time.Hour)},
		{ID: 3, TenantBotID: 7, Kind: models.SubscriptionKindPaid, Status: models.SubscriptionStatusPending,
			StartsAt: testNow.Add(-24 * time.Hour), EndsAt: testNow.Add(365 * 24 * time.Hour)},
		{ID: 4, TenantBotID: 7, Kind: models.SubscriptionKindPaid, Status: models.SubscriptionStatusVerified,
			StartsAt: testNow.Add(24 * time.Hour), EndsAt: testNow.Add(400 * 24 * time.Hour)},
	}

	w, ok := EffectiveWindow(bot, testNow)
	require.True(t, ok)
	assert.Equal(t, testNow.Add(30*24*time.Hour), w.End)
	assert.Equal(t, "subscription", w.Source)
	assert.True(t, IsEntitled(bot, testNow))
}

func TestApprove(t *testing.T) {
	bot := botWithTrial(models.BOT_STATUS_PENDING, testNow.Add(24*time.Hour))
	require.NoError(t, Approve(bot, 99, testNow))
	assert.Equal(t, models.BOT_STATUS_ACTIVE, bot.Status)
	assert.True(t, bot.IsApproved())
	assert.Equal(t, int64(99), bot.ApprovedBy)

	err := Approve(bot, 99, testNow)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	lapsed := botWithTrial(models.BOT_STATUS_PENDING, testNow.Add(-time.Hour))
	assert.ErrorIs(t, Approve(lapsed, 99, testNow), ErrNotEntitled)
	assert.Equal(t, models.BOT_STATUS_PENDING, lapsed.Status)
}

func TestExpire(t *testing.T) {
	open := botWithTrial(models.BOT_STATUS_ACTIVE, testNow.Add(time.Hour))
	assert.False(t, Expire(open, testNow))
	assert.Equal(t, models.BOT_STATUS_ACTIVE, open.Status)

	lapsed := botWithTrial(models.BOT_STATUS_ACTIVE, testNow.Add(-time.Hour))
	assert.True(t, Expire(lapsed, testNow))
	assert.Equal(t, models.BOT_STATUS_INACTIVE, lapsed.Status)

	suspended := botWithTrial(models.BOT_STATUS_SUSPENDED, testNow.Add(-time.Hour))
	assert.False(t, Expire(suspended, testNow))
	assert.Equal(t, models.BOT_STATUS_SUSPENDED, suspended.Status)
}

func TestVerifySubscription(t *testing.T) {
	approvedAt := testNow.Add(-48 * time.Hour)
	bot := botWithTrial(models.BOT_STATUS_INACTIVE, testNow.Add(-time.Hour))
	bot.ApprovedAt = &approvedAt

	sub := &models.Subscription{
		ID: 11, TenantBotID: 7, Kind: models.SubscriptionKindPaid, Plan: "60",
		Status: models.SubscriptionStatusPending, StartsAt: testNow, EndsAt: testNow.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, VerifySubscription(bot, sub, 1, testNow))
	assert.Equal(t, models.BOT_STATUS_ACTIVE, bot.Status)
	assert.Equal(t, "60", bot.Plan)
	require.NotNil(t, bot.PlanExpiresAt)
	assert.Equal(t, sub.EndsAt, *bot.PlanExpiresAt)
	assert.True(t, IsEntitled(bot, testNow))

	t.Run("suspended stays suspended", func(t *testing.T) {
		b := botWithTrial(models.BOT_STATUS_SUSPENDED, testNow.Add(-time.Hour))
		s := &models.Subscription{ID: 12, TenantBotID: 7, Kind: models.SubscriptionKindPaid, Plan: "100",
			StartsAt: testNow, EndsAt: testNow.Add(time.Hour)}
		require.NoError(t, VerifySubscription(b, s, 1, testNow))
		assert.Equal(t, models.BOT_STATUS_SUSPENDED, b.Status)
	})

	t.Run("never approved stays pending", func(t *testing.T) {
		b := botWithTrial(models.BOT_STATUS_PENDING, testNow.Add(-time.Hour))
		s := &models.Subscription{ID: 13, TenantBotID: 7, Kind: models.SubscriptionKindPaid, Plan: "100",
			StartsAt: testNow, EndsAt: testNow.Add(time.Hour)}
		require.NoError(t, VerifySubscription(b, s, 1, testNow))
		assert.Equal(t, models.BOT_STATUS_PENDING, b.Status)
	})

	t.Run("rejected and foreign subscriptions fail", func(t *testing.T) {
		b := botWithTrial(models.BOT_STATUS_INACTIVE, testNow.Add(-time.Hour))
		rejected := &models.Subscription{ID: 14, TenantBotID: 7, Status: models.SubscriptionStatusRejected}
		assert.ErrorIs(t, VerifySubscription(b, rejected, 1, testNow), ErrInvalidTransition)
		foreign := &models.Subscription{ID: 15, TenantBotID: 8}
		assert.Error(t, VerifySubscription(b, foreign, 1, testNow))
	})
}

func TestSuspendAndReinstate(t *testing.T) {
	approvedAt := testNow.Add(-48 * time.Hour)

	active := botWithTrial(models.BOT_STATUS_ACTIVE, testNow.Add(time.Hour))
	active.ApprovedAt = &approvedAt
	require.NoError(t, Suspend(active, " spam "))
	assert.Equal(t, models.BOT_STATUS_SUSPENDED, active.Status)
	assert.Equal(t, "spam", active.SuspendReason)
	assert.False(t, IsEntitled(active, testNow))
	assert.ErrorIs(t, Suspend(active, "again"), ErrInvalidTransition)

	require.NoError(t, Reinstate(active, testNow))
	assert.Equal(t, models.BOT_STATUS_ACTIVE, active.Status)
	assert.Empty(t, active.SuspendReason)

	lapsed := botWithTrial(models.BOT_STATUS_SUSPENDED, testNow.Add(-time.Hour))
	lapsed.ApprovedAt = &approvedAt
	require.NoError(t, Reinstate(lapsed, testNow))
	assert.Equal(t, models.BOT_STATUS_INACTIVE, lapsed.Status)

	unapproved := botWithTrial(models.BOT_STATUS_SUSPENDED, testNow.Add(time.Hour))
	require.NoError(t, Reinstate(unapproved, testNow))
	assert.Equal(t, models.BOT_STATUS_PENDING, unapproved.Status)

	assert.ErrorIs(t, Reinstate(unapproved, testNow), ErrInvalidTransition)
}

type sweepStoreStub struct {
	bots   []models.TenantBot
	saved  []uint
	failID uint
}

func (s *sweepStoreStub) ListActiveTenants(ctx context.Context) ([]models.TenantBot, error) {
	return s.bots, nil
}

func (s *sweepStoreStub) TransitionTenant(ctx context.Context, bot *models.TenantBot, fromStatus string) error {
	if bot.ID == s.failID {
		return errors.New("db down")
	}
	if fromStatus != models.BOT_STATUS_ACTIVE || bot.Status != models.BOT_STATUS_INACTIVE {
		return fmt.Errorf("unexpected transition %s -> %s", fromStatus, bot.Status)
	}
	s.saved = append(s.saved, bot.ID)
	return nil
}

func TestSweeper_ExpiresLapsedOnly(t *testing.T) {
	lapsed := testNow.Add(-time.Hour)
	open := testNow.Add(time.Hour)
	store := &sweepStoreStub{
		bots: []models.TenantBot{
			{ID: 1, Status: models.BOT_STATUS_ACTIVE, TrialExpiresAt: &lapsed},
			{ID: 2, Status: models.BOT_STATUS_ACTIVE, TrialExpiresAt: &open},
			{ID: 3, Status: models.BOT_STATUS_ACTIVE, TrialExpiresAt: &lapsed},
		},
		failID: 3,
	}
	s := NewSweeper(store)
	s.now = func() time.Time { return testNow }

	expired, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, expired)
	assert.Equal(t, []uint{1}, store.saved)
}
