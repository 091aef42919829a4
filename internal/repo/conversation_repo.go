// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. An
// external workflow (e.g. accepting an invitation) can therefore open a
// conversation inside its own transaction by passing the tx handle.
//
// Error semantics:
//   - When a conversation is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrInvalidPrincipal is returned when a principal kind has no column.
var ErrInvalidPrincipal = errors.New("invalid principal")

// newID returns a time-ordered UUID so that primary keys sort in insertion
// order, falling back to a random one if the clock source fails.
func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func participantColumn(p domain.Principal) (string, error) {
	switch p.Kind {
	case domain.RoleUser:
		return "user_id", nil
	case domain.RoleCompany:
		return "company_id", nil
	}
	return "", ErrInvalidPrincipal
}

// CreateConversation inserts the (userID, companyID) pairing or, when it
// already exists, returns the existing row. created reports which happened.
// Uniqueness is enforced by idx_conversation_pair, so concurrent callers
// always converge on a single row.
func CreateConversation(ctx context.Context, db *gorm.DB, userID, companyID, status string) (c *domain.Conversation, created bool, err error) {
	now := time.Now().UTC()
	row := &domain.Conversation{
		ID:        newID(),
		UserID:    userID,
		CompanyID: companyID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "company_id"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return row, true, nil
	}
	existing, err := FindConversation(ctx, db, userID, companyID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindConversation returns the pairing for (userID, companyID) or ErrNotFound.
func FindConversation(ctx context.Context, db *gorm.DB, userID, companyID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ? AND company_id = ?", userID, companyID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation fetches a conversation by id, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns every conversation p participates in, newest
// first. It returns an empty slice when there are none.
func ListConversations(ctx context.Context, db *gorm.DB, p domain.Principal) ([]domain.Conversation, error) {
	col, err := participantColumn(p)
	if err != nil {
		return nil, err
	}
	var out []domain.Conversation
	err = db.WithContext(ctx).
		Where(col+" = ?", p.ID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// UpdateConversationStatus sets the status label. Returns ErrNotFound when
// no row matched.
func UpdateConversationStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes the pairing. Its messages go with it through
// the ON DELETE CASCADE foreign key; they are also deleted explicitly so the
// outcome does not depend on the driver enforcing FKs.
func DeleteConversation(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

type profileRow struct {
	ConversationID string
	UserID         string
	CompanyID      string
	Status         string
	CreatedAt      time.Time
	Name           string
	FirstName      string
	LastName       string
	Avatar         string
	Website        string
	AccountStatus  string
}

// ListConversationProfiles returns p's conversations joined with the
// counterpart's profile in a single query, newest conversation first.
// A missing profile row yields empty profile fields rather than dropping
// the conversation.
func ListConversationProfiles(ctx context.Context, db *gorm.DB, p domain.Principal) ([]domain.Profile, error) {
	q := db.WithContext(ctx).Table("conversations AS c")
	switch p.Kind {
	case domain.RoleUser:
		q = q.Select(`c.id AS conversation_id, c.user_id, c.company_id, c.status, c.created_at,
			COALESCE(co.name, '') AS name, COALESCE(co.logo, '') AS avatar, COALESCE(co.website, '') AS website`).
			Joins("LEFT JOIN companies AS co ON co.id = c.company_id").
			Where("c.user_id = ?", p.ID)
	case domain.RoleCompany:
		q = q.Select(`c.id AS conversation_id, c.user_id, c.company_id, c.status, c.created_at,
			COALESCE(u.first_name, '') AS first_name, COALESCE(u.last_name, '') AS last_name,
			COALESCE(u.photo, '') AS avatar, COALESCE(u.status, '') AS account_status`).
			Joins("LEFT JOIN users AS u ON u.id = c.user_id").
			Where("c.company_id = ?", p.ID)
	default:
		return nil, ErrInvalidPrincipal
	}

	var rows []profileRow
	if err := q.Order("c.created_at DESC, c.id DESC").Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]domain.Profile, 0, len(rows))
	for _, r := range rows {
		pr := domain.Profile{
			ConversationID: r.ConversationID,
			Status:         r.Status,
			CreatedAt:      r.CreatedAt,
			Avatar:         r.Avatar,
			Website:        r.Website,
			AccountStatus:  r.AccountStatus,
		}
		if p.Kind == domain.RoleUser {
			pr.CounterpartID, pr.CounterpartType, pr.Name = r.CompanyID, domain.RoleCompany, r.Name
		} else {
			pr.CounterpartID, pr.CounterpartType = r.UserID, domain.RoleUser
			pr.Name = strings.TrimSpace(r.FirstName + " " + r.LastName)
		}
		out = append(out, pr)
	}
	return out, nil
}
