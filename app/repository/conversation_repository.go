package repository

import (
	"context"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"gorm.io/gorm"
)

// conversationRepository implements the ConversationRepository interface
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository instance
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create appends a conversation record
func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

// ListByTenant returns the most recent conversations of a bot in the order
// they were received.
func (r *conversationRepository) ListByTenant(ctx context.Context, tenantBotID uint, limit int) ([]models.Conversation, error) {
	var convs []models.Conversation
	q := r.db.WithContext(ctx).
		Where("tenant_bot_id = ?", tenantBotID).
		Order("received_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(convs)-1; i < j; i, j = i+1, j-1 {
		convs[i], convs[j] = convs[j], convs[i]
	}
	return convs, nil
}

// CountByTenant returns the number of stored conversations of a bot
func (r *conversationRepository) CountByTenant(ctx context.Context, tenantBotID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("tenant_bot_id = ?", tenantBotID).
		Count(&count).Error
	return count, err
}
