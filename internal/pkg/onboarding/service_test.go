package onboarding

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/ManuelReschke/GhostRelay/app/repository"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/database"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/entitlements"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/security"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram/telegramtest"
)

func setupService(t *testing.T) (*Service, *security.AgeSealer, *telegramtest.Provider) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sealer, _, err := security.GenerateAgeSealer()
	require.NoError(t, err)
	provider := telegramtest.NewProvider()

	svc := NewService(repository.NewRepositories(db), sealer, "pepper", 0)
	svc.Provider = provider
	return svc, sealer, provider
}

func TestRegister(t *testing.T) {
	svc, sealer, provider := setupService(t)
	ctx := context.Background()

	bot, err := svc.Register(ctx, 7, 555, " 123:secret ")
	require.NoError(t, err)
	assert.Equal(t, models.BOT_STATUS_PENDING, bot.Status)
	assert.NotEmpty(t, bot.BotUsername)
	assert.NotContains(t, bot.CredentialEnc, "secret")
	require.NotNil(t, bot.TrialExpiresAt)

	plain, err := sealer.DecryptCredential(bot.CredentialEnc)
	require.NoError(t, err)
	assert.Equal(t, "123:secret", plain)
	assert.Equal(t, 1, provider.Opens("123:secret"))
	assert.True(t, provider.Session("123:secret").Closed())

	_, err = svc.Register(ctx, 8, 556, "123:secret")
	assert.ErrorIs(t, err, ErrDuplicateCredential)

	provider.Reject("999:revoked", true)
	_, err = svc.Register(ctx, 9, 557, "999:revoked")
	assert.True(t, telegram.IsAuthError(err))
}

func TestApprove(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	bot, err := svc.Register(ctx, 7, 555, "123:secret")
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, bot.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, models.BOT_STATUS_ACTIVE, approved.Status)
	assert.Equal(t, int64(42), approved.ApprovedBy)
	assert.True(t, entitlements.IsEntitled(approved, time.Now()))

	_, err = svc.Approve(ctx, bot.ID, 42)
	assert.ErrorIs(t, err, entitlements.ErrInvalidTransition)

	_, err = svc.Approve(ctx, 404, 42)
	assert.True(t, repository.IsNotFound(err))
}

func TestPaymentVerification(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	bot, err := svc.Register(ctx, 7, 555, "123:secret")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, bot.ID, 42)
	require.NoError(t, err)

	sub, err := svc.SubmitPayment(ctx, bot.ID, PaymentProof{Plan: "60", Days: 30, Amount: 60, PaymentMethod: "bkash", TransactionID: "TX1"})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPending, sub.Status)

	pending, err := svc.PendingPayments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	updated, err := svc.VerifyPayment(ctx, sub.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, "60", updated.Plan)
	require.NotNil(t, updated.PlanExpiresAt)
	assert.Equal(t, models.BOT_STATUS_ACTIVE, updated.Status)

	pending, err = svc.PendingPayments(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = svc.SubmitPayment(ctx, bot.ID, PaymentProof{Plan: "60", Days: 0})
	assert.Error(t, err)
}

func TestVerifyPayment_PendingBotWaitsForApproval(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	bot, err := svc.Register(ctx, 7, 555, "123:secret")
	require.NoError(t, err)
	sub, err := svc.SubmitPayment(ctx, bot.ID, PaymentProof{Plan: "60", Days: 30})
	require.NoError(t, err)

	updated, err := svc.VerifyPayment(ctx, sub.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, models.BOT_STATUS_PENDING, updated.Status)
}

func TestRejectPayment(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	bot, err := svc.Register(ctx, 7, 555, "123:secret")
	require.NoError(t, err)
	sub, err := svc.SubmitPayment(ctx, bot.ID, PaymentProof{Plan: "60", Days: 30, TransactionID: "FAKE"})
	require.NoError(t, err)

	rejected, err := svc.RejectPayment(ctx, sub.ID, "unknown transaction")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusRejected, rejected.Status)

	_, err = svc.RejectPayment(ctx, sub.ID, "")
	assert.ErrorIs(t, err, entitlements.ErrInvalidTransition)

	_, err = svc.VerifyPayment(ctx, sub.ID, 42)
	assert.ErrorIs(t, err, entitlements.ErrInvalidTransition)
}
