package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tenantBotRepository implements the TenantBotRepository interface
type tenantBotRepository struct {
	db *gorm.DB
}

// NewTenantBotRepository creates a new tenant bot repository instance
func NewTenantBotRepository(db *gorm.DB) TenantBotRepository {
	return &tenantBotRepository{db: db}
}

// Create creates a new tenant bot
func (r *tenantBotRepository) Create(ctx context.Context, bot *models.TenantBot) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(bot).Error
}

// GetByID retrieves a tenant bot with its subscription windows
func (r *tenantBotRepository) GetByID(ctx context.Context, id uint) (*models.TenantBot, error) {
	var bot models.TenantBot
	err := r.db.WithContext(ctx).Preload("Subscriptions").First(&bot, id).Error
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// GetByCredentialHash retrieves the bot registered for a credential fingerprint
func (r *tenantBotRepository) GetByCredentialHash(ctx context.Context, hash string) (*models.TenantBot, error) {
	var bot models.TenantBot
	err := r.db.WithContext(ctx).Where("credential_hash = ?", hash).First(&bot).Error
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

// UpdateProfile writes the identity columns synced from the messaging platform.
func (r *tenantBotRepository) UpdateProfile(ctx context.Context, bot *models.TenantBot) error {
	return r.db.WithContext(ctx).
		Model(&models.TenantBot{}).
		Where("id = ?", bot.ID).
		Updates(map[string]interface{}{
			"bot_username":  bot.BotUsername,
			"bot_name":      bot.BotName,
			"clone_profile": bot.CloneProfile,
		}).Error
}

// UpdateLifecycle writes the lifecycle columns of bot, provided the stored
// status is still fromStatus. Otherwise nothing is written and
// ErrStatusChanged is returned.
func (r *tenantBotRepository) UpdateLifecycle(ctx context.Context, bot *models.TenantBot, fromStatus string) error {
	res := r.db.WithContext(ctx).
		Model(&models.TenantBot{}).
		Where("id = ? AND status = ?", bot.ID, fromStatus).
		Updates(map[string]interface{}{
			"status":           bot.Status,
			"plan":             bot.Plan,
			"trial_expires_at": bot.TrialExpiresAt,
			"plan_expires_at":  bot.PlanExpiresAt,
			"approved_at":      bot.ApprovedAt,
			"approved_by":      bot.ApprovedBy,
			"suspend_reason":   bot.SuspendReason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

// ListByStatus retrieves all bots in a lifecycle status with their subscriptions
func (r *tenantBotRepository) ListByStatus(ctx context.Context, status string) ([]models.TenantBot, error) {
	var bots []models.TenantBot
	err := r.db.WithContext(ctx).
		Preload("Subscriptions").
		Where("status = ?", status).
		Order("id ASC").
		Find(&bots).Error
	return bots, err
}

// List retrieves a page of bots
func (r *tenantBotRepository) List(ctx context.Context, offset, limit int) ([]models.TenantBot, error) {
	var bots []models.TenantBot
	q := r.db.WithContext(ctx).Order("id ASC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&bots).Error
	return bots, err
}

// Count returns the total number of bots
func (r *tenantBotRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TenantBot{}).Count(&count).Error
	return count, err
}

// ApplyActivity adds delta to the message counter and moves last_active_at
// forward, never backwards.
func (r *tenantBotRepository) ApplyActivity(ctx context.Context, id uint, lastActive time.Time, delta int64) error {
	return r.db.WithContext(ctx).
		Model(&models.TenantBot{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"total_messages": gorm.Expr("total_messages + ?", delta),
			"last_active_at": gorm.Expr("CASE WHEN last_active_at IS NULL OR last_active_at < ? THEN ? ELSE last_active_at END", lastActive, lastActive),
		}).Error
}
