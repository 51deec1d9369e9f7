package models

import (
	"time"

	"gorm.io/datatypes"
)

// FrequencyMap maps an observed token to the number of times it was seen.
type FrequencyMap map[string]int64

// PatternContext is the rolling context blob kept next to the frequency maps.
type PatternContext struct {
	LastInteraction   *time.Time `json:"last_interaction,omitempty"`
	TotalInteractions int64      `json:"total_interactions"`
	DisplayName       string     `json:"display_name,omitempty"`
}

// PatternRecord is the persisted pattern store of one tenant bot.
type PatternRecord struct {
	ID            uint                               `gorm:"primaryKey" json:"id"`
	TenantBotID   uint                               `gorm:"uniqueIndex;not null" json:"tenant_bot_id"`
	Inbound       datatypes.JSONType[FrequencyMap]   `gorm:"type:json" json:"inbound"`
	Outbound      datatypes.JSONType[FrequencyMap]   `gorm:"type:json" json:"outbound"`
	Context       datatypes.JSONType[PatternContext] `gorm:"type:json" json:"context"`
	Accuracy      float64                            `gorm:"default:0" json:"accuracy"`
	TrainingCount int64                              `gorm:"default:0" json:"training_count"`
	LastTrainedAt *time.Time                         `gorm:"type:timestamp;default:null" json:"last_trained_at,omitempty"`
	CreatedAt     time.Time                          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time                          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PatternRecord) TableName() string {
	return "pattern_stores"
}
