package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"gorm.io/gorm"
)

// TenantBotRepository defines the interface for tenant bot database operations
type TenantBotRepository interface {
	Create(ctx context.Context, bot *models.TenantBot) error
	GetByID(ctx context.Context, id uint) (*models.TenantBot, error)
	GetByCredentialHash(ctx context.Context, hash string) (*models.TenantBot, error)
	UpdateProfile(ctx context.Context, bot *models.TenantBot) error
	UpdateLifecycle(ctx context.Context, bot *models.TenantBot, fromStatus string) error
	ListByStatus(ctx context.Context, status string) ([]models.TenantBot, error)
	List(ctx context.Context, offset, limit int) ([]models.TenantBot, error)
	Count(ctx context.Context) (int64, error)
	ApplyActivity(ctx context.Context, id uint, lastActive time.Time, delta int64) error
}

// SubscriptionRepository defines the interface for trial and subscription windows
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id uint) (*models.Subscription, error)
	ListByTenant(ctx context.Context, tenantBotID uint) ([]models.Subscription, error)
	ListPending(ctx context.Context, limit int) ([]models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) error
}

// ConversationRepository defines the interface for the append-only conversation log
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	ListByTenant(ctx context.Context, tenantBotID uint, limit int) ([]models.Conversation, error)
	CountByTenant(ctx context.Context, tenantBotID uint) (int64, error)
}

// PatternRepository defines the interface for persisted pattern stores
type PatternRepository interface {
	GetByTenant(ctx context.Context, tenantBotID uint) (*models.PatternRecord, error)
	Upsert(ctx context.Context, rec *models.PatternRecord) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	TenantBot    TenantBotRepository
	Subscription SubscriptionRepository
	Conversation ConversationRepository
	Pattern      PatternRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		TenantBot:    NewTenantBotRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Conversation: NewConversationRepository(db),
		Pattern:      NewPatternRepository(db),
	}
}
