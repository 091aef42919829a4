// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. Messages are append-only: there is no update or delete here.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// newestFirst orders by (sent_at, id) descending. Ids are time-ordered so
// the tiebreak follows insertion order when timestamps collide.
const (
	newestFirst = "sent_at DESC, id DESC"
	oldestFirst = "sent_at ASC, id ASC"
)

// AppendMessage verifies that conversationID exists and appends a message
// to it, stamping SentAt with the current UTC time. Returns ErrNotFound when
// the conversation does not exist.
func AppendMessage(ctx context.Context, db *gorm.DB, conversationID string, role domain.Role, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:             newID(),
		ConversationID: conversationID,
		SenderRole:     role,
		Content:        content,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Conversation{}).Where("id = ?", conversationID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		m.SentAt = time.Now().UTC()
		return tx.Omit("Conversation").Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// ListMessagesNewestFirst returns up to limit messages of a conversation,
// newest first, skipping the offset most recent ones.
func ListMessagesNewestFirst(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order(newestFirst).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListTranscript returns the whole history of one conversation oldest first.
// Cost grows with the conversation; prefer paging for display.
func ListTranscript(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order(oldestFirst).
		Find(&out).Error
	return out, err
}

// LastMessages returns, in one round trip, the most recent message of each
// conversation in ids, ranked per conversation with ROW_NUMBER() by
// (sent_at DESC, id DESC). Conversations without messages are simply absent
// from the result.
func LastMessages(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db = db.WithContext(ctx)
	ranked := db.Model(&domain.Message{}).
		Select("*, ROW_NUMBER() OVER (PARTITION BY conversation_id ORDER BY " + newestFirst + ") AS rn").
		Where("conversation_id IN ?", ids)

	var out []domain.Message
	err := db.Table("(?) AS ranked", ranked).
		Where("rn = 1").
		Find(&out).Error
	return out, err
}

// ListMessagesFor returns every message of every conversation in ids,
// grouped by conversation and oldest first within each. It is O(total
// messages); LastMessages is the inbox path.
func ListMessagesFor(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id IN ?", ids).
		Order("conversation_id ASC, " + oldestFirst).
		Find(&out).Error
	return out, err
}
