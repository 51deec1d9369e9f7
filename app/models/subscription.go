package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	SubscriptionKindTrial = "trial"
	SubscriptionKindPaid  = "paid"
)

const (
	SubscriptionStatusPending  = "pending"
	SubscriptionStatusVerified = "verified"
	SubscriptionStatusRejected = "rejected"
)

// Subscription is one entitlement window of a tenant bot. Paid windows only
// count once an operator verified the submitted payment proof.
type Subscription struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TenantBotID   uint       `gorm:"not null;index:idx_subscriptions_bot_status,priority:1" json:"tenant_bot_id" validate:"required"`
	Kind          string     `gorm:"type:varchar(10);not null;default:'paid'" json:"kind" validate:"oneof=trial paid"`
	Plan          string     `gorm:"type:varchar(20);not null" json:"plan" validate:"required,max=20"`
	Amount        float64    `gorm:"default:0" json:"amount" validate:"gte=0"`
	PaymentMethod string     `gorm:"type:varchar(20);default:null" json:"payment_method,omitempty" validate:"max=20"`
	TransactionID string     `gorm:"type:varchar(100);default:null" json:"transaction_id,omitempty" validate:"max=100"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_subscriptions_bot_status,priority:2" json:"status" validate:"oneof=pending verified rejected"`
	VerifiedBy    int64      `gorm:"default:0" json:"verified_by"`
	VerifiedAt    *time.Time `gorm:"type:timestamp;default:null" json:"verified_at,omitempty"`
	StartsAt      time.Time  `gorm:"type:timestamp;not null" json:"starts_at"`
	EndsAt        time.Time  `gorm:"type:timestamp;not null" json:"ends_at" validate:"gtfield=StartsAt"`
	Notes         string     `gorm:"type:text;default:null" json:"notes,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscription) Validate() error {
	v := validator.New()
	return v.Struct(s)
}

// IsVerified reports whether the window counts towards entitlement.
func (s *Subscription) IsVerified() bool {
	return s.Status == SubscriptionStatusVerified
}

// Covers reports whether t falls inside [StartsAt, EndsAt).
func (s *Subscription) Covers(t time.Time) bool {
	return !t.Before(s.StartsAt) && t.Before(s.EndsAt)
}
