// Package services – ConversationService
//
// This file implements ConversationService, which owns the lifecycle of the
// user/company pairing: opening it (insert or return existing), listing a
// principal's conversations, changing the status label and closing it.
//
// Conversation lists are cached per principal when a Cache is configured;
// every mutation invalidates the lists of both participants. Live rooms are
// kept in step through the optional RoomDirectory.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobboard-chat/internal/cache"
	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// DefaultStatus is the label given to pairings opened without one.
const DefaultStatus = "Active"

// ConversationRepo defines the repository contract required by
// ConversationService and InboxService.
type ConversationRepo interface {
	CreateConversation(ctx context.Context, db *gorm.DB, userID, companyID, status string) (*domain.Conversation, bool, error)
	FindConversation(ctx context.Context, db *gorm.DB, userID, companyID string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, db *gorm.DB, p domain.Principal) ([]domain.Conversation, error)
	ListConversationProfiles(ctx context.Context, db *gorm.DB, p domain.Principal) ([]domain.Profile, error)
	UpdateConversationStatus(ctx context.Context, db *gorm.DB, id, status string) error
	DeleteConversation(ctx context.Context, db *gorm.DB, id string) error
}

// RoomDirectory is notified when pairings appear or disappear so that live
// connections can join or leave the matching room.
type RoomDirectory interface {
	JoinConversation(c domain.Conversation)
	CloseRoom(conversationID string)
}

// ConversationService provides conversation-level operations.
type ConversationService struct {
	DB   *gorm.DB
	Repo ConversationRepo

	// Cache memoizes ListConversations per principal; CacheTTL bounds staleness.
	Cache    cache.Cache
	CacheTTL time.Duration

	// Rooms is optional.
	Rooms RoomDirectory
}

// NewConversationService constructs a ConversationService without caching.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{
		DB:       db,
		Repo:     r,
		Cache:    cache.Noop{},
		CacheTTL: 30 * time.Second,
	}
}

func conversationsKey(p domain.Principal) string { return "conversations:" + p.Key() }

// List returns every conversation p participates in, newest first.
func (s *ConversationService) List(ctx context.Context, p domain.Principal) ([]domain.Conversation, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("principal.type", string(p.Kind)),
			attribute.String("principal.id", p.ID),
		),
	)
	defer span.End()

	if !p.Valid() {
		return nil, ErrInvalidPrincipal
	}

	key := conversationsKey(p)
	if raw, err := s.cache().Get(ctx, key); err == nil {
		var out []domain.Conversation
		if json.Unmarshal(raw, &out) == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return out, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("conversation cache read failed")
	}

	out, err := s.Repo.ListConversations(ctx, s.DB, p)
	if err != nil {
		return nil, storeErr(err)
	}
	if out == nil {
		out = []domain.Conversation{}
	}
	if raw, err := json.Marshal(out); err == nil {
		if err := s.cache().Set(ctx, key, raw, s.CacheTTL); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("conversation cache write failed")
		}
	}
	return out, nil
}

// Open returns the conversation between userID and companyID, creating it
// with status when absent. The acting principal must be one of the two
// sides. created reports whether a new row was inserted.
func (s *ConversationService) Open(ctx context.Context, actor domain.Principal, userID, companyID, status string) (c *domain.Conversation, created bool, err error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Open",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("company.id", companyID),
		),
	)
	defer span.End()

	if !actor.Valid() {
		return nil, false, ErrInvalidPrincipal
	}
	if userID, err = cleanID(userID); err != nil {
		return nil, false, err
	}
	if companyID, err = cleanID(companyID); err != nil {
		return nil, false, err
	}
	if status, err = cleanStatus(status, DefaultStatus); err != nil {
		return nil, false, err
	}
	pair := domain.Conversation{UserID: userID, CompanyID: companyID}
	if !pair.HasParticipant(actor) {
		return nil, false, ErrForbidden
	}

	c, created, err = s.Repo.CreateConversation(ctx, s.DB, userID, companyID, status)
	if err != nil {
		return nil, false, storeErr(err)
	}
	span.SetAttributes(attribute.Bool("conversation.created", created))
	if created {
		s.invalidate(ctx, *c)
		if s.Rooms != nil {
			s.Rooms.JoinConversation(*c)
		}
	}
	return c, created, nil
}

// Find returns the pairing for (userID, companyID) or ErrConversationNotFound.
func (s *ConversationService) Find(ctx context.Context, userID, companyID string) (*domain.Conversation, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Find")
	defer span.End()

	var err error
	if userID, err = cleanID(userID); err != nil {
		return nil, err
	}
	if companyID, err = cleanID(companyID); err != nil {
		return nil, err
	}
	c, err := s.Repo.FindConversation(ctx, s.DB, userID, companyID)
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}

// Get returns conversation id when p participates in it. Conversations of
// other principals are reported as not found.
func (s *ConversationService) Get(ctx context.Context, p domain.Principal, id string) (*domain.Conversation, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("conversation.id", id)),
	)
	defer span.End()
	return authorizeConversation(ctx, s.DB, s.Repo, p, id)
}

// UpdateStatus sets the status label of a conversation p participates in.
func (s *ConversationService) UpdateStatus(ctx context.Context, p domain.Principal, id, status string) (*domain.Conversation, error) {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "UpdateStatus",
		trace.WithAttributes(attribute.String("conversation.id", id)),
	)
	defer span.End()

	status, err := cleanStatus(status, "")
	if err != nil {
		return nil, err
	}
	c, err := authorizeConversation(ctx, s.DB, s.Repo, p, id)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.UpdateConversationStatus(ctx, s.DB, c.ID, status); err != nil {
		return nil, storeErr(err)
	}
	c.Status = status
	s.invalidate(ctx, *c)
	return c, nil
}

// Close deletes a conversation p participates in, together with its
// messages, and drops the live room.
func (s *ConversationService) Close(ctx context.Context, p domain.Principal, id string) error {
	ctx, span := otel.Tracer("services/ConversationService").Start(ctx, "Close",
		trace.WithAttributes(attribute.String("conversation.id", id)),
	)
	defer span.End()

	c, err := authorizeConversation(ctx, s.DB, s.Repo, p, id)
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteConversation(ctx, s.DB, c.ID); err != nil {
		return storeErr(err)
	}
	s.invalidate(ctx, *c)
	if s.Rooms != nil {
		s.Rooms.CloseRoom(c.ID)
	}
	return nil
}

func (s *ConversationService) cache() cache.Cache {
	if s.Cache == nil {
		return cache.Noop{}
	}
	return s.Cache
}

// invalidate drops the cached lists of both participants.
func (s *ConversationService) invalidate(ctx context.Context, c domain.Conversation) {
	keys := []string{
		conversationsKey(domain.Principal{Kind: domain.RoleUser, ID: c.UserID}),
		conversationsKey(domain.Principal{Kind: domain.RoleCompany, ID: c.CompanyID}),
	}
	if err := s.cache().Del(ctx, keys...); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Strs("keys", keys).Msg("conversation cache invalidation failed")
	}
}

// authorizeConversation loads id and checks that p is a participant.
func authorizeConversation(ctx context.Context, db *gorm.DB, r ConversationLookup, p domain.Principal, id string) (*domain.Conversation, error) {
	if !p.Valid() {
		return nil, ErrInvalidPrincipal
	}
	id, err := cleanID(id)
	if err != nil {
		return nil, err
	}
	c, err := r.GetConversation(ctx, db, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !c.HasParticipant(p) {
		return nil, ErrConversationNotFound
	}
	return c, nil
}
