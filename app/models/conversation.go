package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageTypePrivate      = "private"
	MessageTypeGroupMention = "group_mention"
)

// Conversation is the append-only record of one inbound message and the reply
// that was sent for it. A nil Reply means no answer went out.
type Conversation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UUID          string     `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	TenantBotID   uint       `gorm:"not null;index:idx_conversations_bot_received,priority:1" json:"tenant_bot_id"`
	SenderID      int64      `gorm:"not null;index" json:"sender_id"`
	ChatID        int64      `gorm:"not null" json:"chat_id"`
	RecipientID   int64      `gorm:"not null" json:"recipient_id"`
	MessageType   string     `gorm:"type:varchar(20);not null;default:'private'" json:"message_type"`
	InboundText   string     `gorm:"type:text" json:"inbound_text"`
	Reply         *string    `gorm:"type:text;default:null" json:"reply,omitempty"`
	ResponseStage string     `gorm:"type:varchar(20);default:null" json:"response_stage,omitempty"`
	Impersonated  bool       `gorm:"default:false" json:"impersonated"`
	ReceivedAt    time.Time  `gorm:"type:timestamp;not null;index:idx_conversations_bot_received,priority:2" json:"received_at"`
	RepliedAt     *time.Time `gorm:"type:timestamp;default:null" json:"replied_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// NewConversation creates a record for an inbound message.
func NewConversation(tenantBotID uint, senderID, chatID, recipientID int64, messageType, text string, receivedAt time.Time) *Conversation {
	return &Conversation{
		UUID:        uuid.New().String(),
		TenantBotID: tenantBotID,
		SenderID:    senderID,
		ChatID:      chatID,
		RecipientID: recipientID,
		MessageType: messageType,
		InboundText: text,
		ReceivedAt:  receivedAt,
	}
}

// SetReply attaches the outbound reply to the record.
func (c *Conversation) SetReply(text, stage string, impersonated bool, repliedAt time.Time) {
	c.Reply = &text
	c.ResponseStage = stage
	c.Impersonated = impersonated
	c.RepliedAt = &repliedAt
}
