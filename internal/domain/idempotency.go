package domain

import "time"

// Idempotency represents a recorded result of a previously processed send,
// keyed by (principal_key, conversation_id, key). It enables safe retries of
// POST /conversations/:id/messages by returning the originally produced
// message without persisting a duplicate.
type Idempotency struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	PrincipalKey   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_principal_conversation_key,priority:1"`
	ConversationID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_principal_conversation_key,priority:2"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_principal_conversation_key,priority:3"`
	MessageID      string    `gorm:"type:TEXT NOT NULL"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt      time.Time `gorm:"type:TIMESTAMP NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:TIMESTAMP NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
