package repository

import (
	"context"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"gorm.io/gorm"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create stores a new trial or payment window
func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

// GetByID retrieves a subscription by its ID
func (r *subscriptionRepository) GetByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListByTenant retrieves all windows of a bot, newest first
func (r *subscriptionRepository) ListByTenant(ctx context.Context, tenantBotID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_bot_id = ?", tenantBotID).
		Order("ends_at DESC").
		Find(&subs).Error
	return subs, err
}

// ListPending retrieves payment windows awaiting operator review
func (r *subscriptionRepository) ListPending(ctx context.Context, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	q := r.db.WithContext(ctx).
		Where("status = ?", models.SubscriptionStatusPending).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&subs).Error
	return subs, err
}

// Update saves a subscription
func (r *subscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}
