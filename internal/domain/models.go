// Package domain defines the persistence models for conversations and
// messages exchanged between users and companies. These types are mapped
// with GORM and form the core data layer of the messaging engine.
package domain

import (
	"time"
)

// Conversation is the durable pairing of one user and one company that are
// permitted to exchange messages. At most one row exists per
// (UserID, CompanyID); the unique index enforces it at the store level.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), time-ordered (v7).
//   - UserID / CompanyID: identities owned by the account system.
//   - Status: free-form state label set by the hiring workflow (e.g. "Active").
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Conversation struct {
	ID        string    `json:"conversationId" gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"userId"         gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair,priority:1"`
	CompanyID string    `json:"companyId"      gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair,priority:2;index:idx_company_conversations"`
	Status    string    `json:"status"         gorm:"type:varchar(32);not null;default:'Active'"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Room returns the live-delivery room name for the conversation.
func (c Conversation) Room() string { return RoomName(c.ID) }

// Counterpart returns the other side of the conversation as seen by p.
func (c Conversation) Counterpart(p Principal) Principal {
	if p.Kind == RoleCompany {
		return Principal{Kind: RoleUser, ID: c.UserID}
	}
	return Principal{Kind: RoleCompany, ID: c.CompanyID}
}

// HasParticipant reports whether p is one of the two sides.
func (c Conversation) HasParticipant(p Principal) bool {
	switch p.Kind {
	case RoleUser:
		return c.UserID == p.ID
	case RoleCompany:
		return c.CompanyID == p.ID
	}
	return false
}

// Message is a single immutable entry of a conversation. SenderRole records
// which side sent it; the conversation already fixes both identities.
//
// Fields:
//   - ID: UUID v7 primary key; sorts in insertion order.
//   - ConversationID: owning conversation (FK, cascade on delete).
//   - SenderRole: "user" or "company" (enforced by DB constraint).
//   - Content: message text, unbounded.
//   - SentAt: assigned by the server at persistence time.
type Message struct {
	ID             string    `json:"messageId"      gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversationId" gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1"`
	SenderRole     Role      `json:"senderRole"     gorm:"type:varchar(16);not null;check:sender_role IN ('user','company')"`
	Content        string    `json:"content"        gorm:"type:text;not null"`
	SentAt         time.Time `json:"sentAt"         gorm:"not null;index:idx_conversation_msgs,priority:2"`

	// Conversation is the parent. Messages are cascade-deleted with it.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// UserProfile is the read-only slice of the account system's users table
// needed to render a company's inbox.
type UserProfile struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	FirstName string `gorm:"type:varchar(100)"`
	LastName  string `gorm:"type:varchar(100)"`
	Photo     string `gorm:"type:varchar(512)"`
	Status    string `gorm:"type:varchar(32)"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "users" }

// CompanyProfile is the read-only slice of the account system's companies
// table needed to render a user's inbox.
type CompanyProfile struct {
	ID      string `gorm:"type:varchar(64);primaryKey"`
	Name    string `gorm:"type:varchar(255)"`
	Logo    string `gorm:"type:varchar(512)"`
	Website string `gorm:"type:varchar(512)"`
}

// TableName returns the database table name for CompanyProfile.
func (CompanyProfile) TableName() string { return "companies" }
