// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// ConversationsStats returns the number of conversations p participates in
// and the greatest UpdatedAt among them (nil when there are none).
func ConversationsStats(ctx context.Context, db *gorm.DB, p domain.Principal) (count int64, maxUpdatedAt *time.Time, err error) {
	col, err := participantColumn(p)
	if err != nil {
		return 0, nil, err
	}
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Where(col+" = ?", p.ID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns the number of messages in a conversation and the
// newest SentAt (nil when empty). Messages are immutable, so the pair is a
// sufficient validator for any page of the conversation.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxSentAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		SentAt time.Time
	}
	if err = q.Select("sent_at").Order("sent_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.SentAt, nil
}
