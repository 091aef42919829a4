package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// Store exposes the package functions as methods so they satisfy the
// repository interfaces declared by the services.
type Store struct{}

func (Store) CreateConversation(ctx context.Context, db *gorm.DB, userID, companyID, status string) (*domain.Conversation, bool, error) {
	return CreateConversation(ctx, db, userID, companyID, status)
}

func (Store) FindConversation(ctx context.Context, db *gorm.DB, userID, companyID string) (*domain.Conversation, error) {
	return FindConversation(ctx, db, userID, companyID)
}

func (Store) GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	return GetConversation(ctx, db, id)
}

func (Store) ListConversations(ctx context.Context, db *gorm.DB, p domain.Principal) ([]domain.Conversation, error) {
	return ListConversations(ctx, db, p)
}

func (Store) ListConversationProfiles(ctx context.Context, db *gorm.DB, p domain.Principal) ([]domain.Profile, error) {
	return ListConversationProfiles(ctx, db, p)
}

func (Store) UpdateConversationStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	return UpdateConversationStatus(ctx, db, id, status)
}

func (Store) DeleteConversation(ctx context.Context, db *gorm.DB, id string) error {
	return DeleteConversation(ctx, db, id)
}

func (Store) AppendMessage(ctx context.Context, db *gorm.DB, conversationID string, role domain.Role, content string) (*domain.Message, error) {
	return AppendMessage(ctx, db, conversationID, role, content)
}

func (Store) CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	return CountMessages(ctx, db, conversationID)
}

func (Store) ListMessagesNewestFirst(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	return ListMessagesNewestFirst(ctx, db, conversationID, offset, limit)
}

func (Store) ListTranscript(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error) {
	return ListTranscript(ctx, db, conversationID)
}

func (Store) LastMessages(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Message, error) {
	return LastMessages(ctx, db, ids)
}

func (Store) ListMessagesFor(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Message, error) {
	return ListMessagesFor(ctx, db, ids)
}
