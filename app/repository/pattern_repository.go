package repository

import (
	"context"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// patternRepository implements the PatternRepository interface
type patternRepository struct {
	db *gorm.DB
}

// NewPatternRepository creates a new pattern repository instance
func NewPatternRepository(db *gorm.DB) PatternRepository {
	return &patternRepository{db: db}
}

// GetByTenant retrieves the pattern store of a bot
func (r *patternRepository) GetByTenant(ctx context.Context, tenantBotID uint) (*models.PatternRecord, error) {
	var rec models.PatternRecord
	err := r.db.WithContext(ctx).Where("tenant_bot_id = ?", tenantBotID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert writes the pattern store, keyed by tenant_bot_id, and sets rec.ID
// to the stored row.
func (r *patternRepository) Upsert(ctx context.Context, rec *models.PatternRecord) error {
	row := *rec
	row.ID = 0
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_bot_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"inbound", "outbound", "context", "accuracy", "training_count", "last_trained_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return err
	}

	var stored models.PatternRecord
	if err := r.db.WithContext(ctx).Select("id").Where("tenant_bot_id = ?", rec.TenantBotID).First(&stored).Error; err != nil {
		return err
	}
	rec.ID = stored.ID
	return nil
}
