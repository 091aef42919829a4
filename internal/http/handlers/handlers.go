package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
	"github.com/tbourn/go-jobboard-chat/internal/http/middleware"
	"github.com/tbourn/go-jobboard-chat/internal/services"
)

// ConversationService is the conversation lifecycle used by the handlers.
type ConversationService interface {
	List(ctx context.Context, p domain.Principal) ([]domain.Conversation, error)
	Open(ctx context.Context, actor domain.Principal, userID, companyID, status string) (*domain.Conversation, bool, error)
	Get(ctx context.Context, p domain.Principal, id string) (*domain.Conversation, error)
	UpdateStatus(ctx context.Context, p domain.Principal, id, status string) (*domain.Conversation, error)
	Close(ctx context.Context, p domain.Principal, id string) error
}

// MessageService sends messages and reads history.
type MessageService interface {
	Send(ctx context.Context, p domain.Principal, conversationID, content string) (*domain.Message, error)
	Page(ctx context.Context, p domain.Principal, conversationID string, page, pageSize int) (*services.MessagePage, error)
	Recent(ctx context.Context, p domain.Principal, conversationID string, limit int) ([]domain.Message, error)
	Transcript(ctx context.Context, p domain.Principal, conversationID string) ([]domain.Message, error)
}

// InboxService builds the aggregate inbox views.
type InboxService interface {
	WithLastMessage(ctx context.Context, p domain.Principal) ([]services.InboxEntry, error)
	WithMessages(ctx context.Context, p domain.Principal) ([]services.TranscriptEntry, error)
}

// Broadcaster pushes a persisted message to live connections.
type Broadcaster interface {
	Deliver(ctx context.Context, m domain.Message, exclude string)
}

// Options carries the optional collaborators of Handlers.
type Options struct {
	// DB enables ETags and idempotent replays; nil disables both.
	DB *gorm.DB
	// IdempotencyTTL is how long a recorded send can be replayed.
	IdempotencyTTL time.Duration
	// Live receives messages posted over REST; nil skips live delivery.
	Live Broadcaster
	// DefaultPageSize and MaxPageSize shape history queries.
	DefaultPageSize int
	MaxPageSize     int
}

// Handlers groups the REST endpoints.
type Handlers struct {
	convSvc  ConversationService
	msgSvc   MessageService
	inboxSvc InboxService
	opts     Options
}

// New binds the handlers to their services.
func New(conv ConversationService, msg MessageService, inbox InboxService, opts Options) *Handlers {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = services.DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = services.MaxPageSize
	}
	return &Handlers{convSvc: conv, msgSvc: msg, inboxSvc: inbox, opts: opts}
}

// principal returns the authenticated principal or writes 401.
func principal(c *gin.Context) (domain.Principal, bool) {
	p, found := middleware.PrincipalFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	}
	return p, found
}

// notModified sets a weak ETag and reports whether the client copy is fresh.
func notModified(c *gin.Context, scope string, count int64, last *time.Time) bool {
	var ts int64
	if last != nil {
		ts = last.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, scope, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
