package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	BOT_STATUS_PENDING   = "pending"
	BOT_STATUS_ACTIVE    = "active"
	BOT_STATUS_INACTIVE  = "inactive"
	BOT_STATUS_SUSPENDED = "suspended"
)

const (
	PLAN_TRIAL = "trial"
)

// Language modes recognized by the response engine.
const (
	LanguageBanglish = "banglish"
	LanguageEnglish  = "english"
)

// BotSettings holds the per-bot options an owner can configure.
type BotSettings struct {
	Impersonation bool   `json:"impersonation"`
	Learning      bool   `json:"learning"`
	AutoReply     bool   `json:"auto_reply"`
	Language      string `json:"language" validate:"omitempty,oneof=banglish english"`
}

// DefaultBotSettings mirrors the defaults a newly registered bot receives.
func DefaultBotSettings() BotSettings {
	return BotSettings{
		Impersonation: true,
		Learning:      true,
		AutoReply:     true,
		Language:      LanguageBanglish,
	}
}

// LanguageMode returns the configured language, falling back to banglish.
func (s BotSettings) LanguageMode() string {
	switch strings.ToLower(strings.TrimSpace(s.Language)) {
	case LanguageEnglish:
		return LanguageEnglish
	default:
		return LanguageBanglish
	}
}

// CloneProfile is the owner profile a ghost bot imitates when impersonation is on.
type CloneProfile struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// IsEmpty reports whether no profile data has been captured yet.
func (p CloneProfile) IsEmpty() bool {
	return p.ID == 0 && p.Username == "" && p.FirstName == ""
}

// TenantBot is one registered messaging credential and its owner-configured behavior.
type TenantBot struct {
	ID             uint                             `gorm:"primaryKey" json:"id"`
	OwnerID        uint                             `gorm:"not null;index" json:"owner_id" validate:"required"`
	CredentialEnc  string                           `gorm:"type:text;not null" json:"-" validate:"required"`
	CredentialHash string                           `gorm:"type:char(64);uniqueIndex;not null" json:"-" validate:"required,len=64"`
	BotUsername    string                           `gorm:"type:varchar(100)" json:"bot_username" validate:"max=100"`
	BotName        string                           `gorm:"type:varchar(100)" json:"bot_name" validate:"max=100"`
	AdminChatID    int64                            `gorm:"not null" json:"admin_chat_id" validate:"required"`
	Status         string                           `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"oneof=pending active inactive suspended"`
	Plan           string                           `gorm:"type:varchar(20);not null;default:'trial'" json:"plan"`
	TrialExpiresAt *time.Time                       `gorm:"type:timestamp;default:null" json:"trial_expires_at,omitempty"`
	PlanExpiresAt  *time.Time                       `gorm:"type:timestamp;default:null" json:"plan_expires_at,omitempty"`
	ApprovedAt     *time.Time                       `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	ApprovedBy     int64                            `gorm:"default:0" json:"approved_by"`
	SuspendReason  string                           `gorm:"type:text;default:null" json:"suspend_reason,omitempty"`
	Settings       datatypes.JSONType[BotSettings]  `gorm:"type:json" json:"settings"`
	CloneProfile   datatypes.JSONType[CloneProfile] `gorm:"type:json" json:"clone_profile"`
	LastActiveAt   *time.Time                       `gorm:"type:timestamp;default:null" json:"last_active_at,omitempty"`
	TotalMessages  int64                            `gorm:"default:0" json:"total_messages"`
	Subscriptions  []Subscription                   `gorm:"foreignKey:TenantBotID" json:"subscriptions,omitempty"`
	CreatedAt      time.Time                        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt                   `gorm:"index" json:"-"`
}

func (b *TenantBot) Validate() error {
	v := validator.New()
	if err := v.Struct(b); err != nil {
		return err
	}
	settings := b.Settings.Data()
	return v.Struct(&settings)
}

// BotSettings returns the typed settings of the bot.
func (b *TenantBot) BotSettings() BotSettings {
	return b.Settings.Data()
}

// SetBotSettings replaces the stored settings.
func (b *TenantBot) SetBotSettings(s BotSettings) {
	b.Settings = datatypes.NewJSONType(s)
}

// Profile returns the captured owner profile.
func (b *TenantBot) Profile() CloneProfile {
	return b.CloneProfile.Data()
}

// SetProfile replaces the captured owner profile.
func (b *TenantBot) SetProfile(p CloneProfile) {
	b.CloneProfile = datatypes.NewJSONType(p)
}

// IsApproved reports whether an operator approved the registration at some point.
func (b *TenantBot) IsApproved() bool {
	return b.ApprovedAt != nil && !b.ApprovedAt.IsZero()
}

// DisplayName returns a human readable label for logs; never the credential.
func (b *TenantBot) DisplayName() string {
	if b.BotUsername != "" {
		return "@" + b.BotUsername
	}
	if b.BotName != "" {
		return b.BotName
	}
	return "unnamed"
}

// NewTenantBot prepares a pending bot registration with a trial window.
func NewTenantBot(ownerID uint, adminChatID int64, credentialEnc, credentialHash string, trialDays int) (*TenantBot, error) {
	b := &TenantBot{
		OwnerID:        ownerID,
		AdminChatID:    adminChatID,
		CredentialEnc:  credentialEnc,
		CredentialHash: credentialHash,
		Status:         BOT_STATUS_PENDING,
		Plan:           PLAN_TRIAL,
	}
	if trialDays > 0 {
		expires := time.Now().Add(time.Duration(trialDays) * 24 * time.Hour)
		b.TrialExpiresAt = &expires
	}
	b.SetBotSettings(DefaultBotSettings())

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
