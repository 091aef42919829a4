// Package services – MessageService
//
// This file implements MessageService: sending messages into a conversation
// and reading its history. Reads come in three costs:
//
//   - Page: windowed history with a total count (count and page fetch run
//     concurrently; under concurrent inserts the two may disagree by a few
//     messages, which is harmless because history only grows).
//   - Recent: the newest N messages for the initial conversation load, with
//     no count.
//   - Transcript: the full history, for export. Cost grows with the
//     conversation.
//
// All reads return messages oldest first regardless of fetch direction.
package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
	"github.com/tbourn/go-jobboard-chat/internal/utils"
)

// Paging defaults for message history.
const (
	DefaultPageSize = 15
	MaxPageSize     = 100
)

// MessageRepo defines the repository contract required by MessageService
// and InboxService.
type MessageRepo interface {
	AppendMessage(ctx context.Context, db *gorm.DB, conversationID string, role domain.Role, content string) (*domain.Message, error)
	CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error)
	ListMessagesNewestFirst(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error)
	ListTranscript(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error)
	LastMessages(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Message, error)
	ListMessagesFor(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Message, error)
}

// ConversationLookup resolves a conversation by id.
type ConversationLookup interface {
	GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error)
}

// MessagePage is one window of a conversation's history.
type MessagePage struct {
	Messages    []domain.Message
	HasMore     bool
	TotalCount  int64
	CurrentPage int
	PageSize    int
}

// MessageService coordinates message persistence and history reads.
type MessageService struct {
	DB            *gorm.DB
	Conversations ConversationLookup
	Messages      MessageRepo

	// MaxContentRunes rejects longer messages when > 0.
	MaxContentRunes int
	// DefaultPageSize and MaxPageSize shape Page and Recent; zero values
	// fall back to the package defaults.
	DefaultPageSize int
	MaxPageSize     int
}

// NewMessageService constructs a MessageService with package defaults.
func NewMessageService(db *gorm.DB, conversations ConversationLookup, messages MessageRepo) *MessageService {
	return &MessageService{
		DB:              db,
		Conversations:   conversations,
		Messages:        messages,
		DefaultPageSize: DefaultPageSize,
		MaxPageSize:     MaxPageSize,
	}
}

// Send appends content to conversationID on behalf of p. The sender role is
// always p.Kind; it is never taken from client input.
func (s *MessageService) Send(ctx context.Context, p domain.Principal, conversationID, content string) (*domain.Message, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("principal.type", string(p.Kind)),
		),
	)
	defer span.End()

	content, err := s.cleanContent(content)
	if err != nil {
		return nil, err
	}
	c, err := authorizeConversation(ctx, s.DB, s.Conversations, p, conversationID)
	if err != nil {
		return nil, err
	}
	m, err := s.Messages.AppendMessage(ctx, s.DB, c.ID, p.Kind, content)
	if err != nil {
		return nil, storeErr(err)
	}
	span.SetAttributes(attribute.String("message.id", m.ID))
	return m, nil
}

// Page returns page (1-based) of the conversation history, pageSize
// messages per page, counting from the newest message backwards. Messages
// within the page are oldest first. A page past the end is empty with
// HasMore=false.
func (s *MessageService) Page(ctx context.Context, p domain.Principal, conversationID string, page, pageSize int) (*MessagePage, error) {
	page, pageSize = s.clampPage(page, pageSize)
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Page",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	c, err := authorizeConversation(ctx, s.DB, s.Conversations, p, conversationID)
	if err != nil {
		return nil, err
	}

	skip := utils.Offset(page, pageSize)
	var (
		total int64
		items []domain.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.Messages.CountMessages(gctx, s.DB, c.ID)
		total = n
		return err
	})
	g.Go(func() error {
		ms, err := s.Messages.ListMessagesNewestFirst(gctx, s.DB, c.ID, skip, pageSize)
		items = ms
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storeErr(err)
	}

	reverse(items)
	if items == nil {
		items = []domain.Message{}
	}
	return &MessagePage{
		Messages:    items,
		HasMore:     utils.HasMore(skip, len(items), total),
		TotalCount:  total,
		CurrentPage: page,
		PageSize:    pageSize,
	}, nil
}

// Recent returns the newest limit messages oldest first. It skips the count
// query, which makes it the cheaper path for opening a conversation.
func (s *MessageService) Recent(ctx context.Context, p domain.Principal, conversationID string, limit int) ([]domain.Message, error) {
	_, limit = s.clampPage(1, limit)
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Recent",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	c, err := authorizeConversation(ctx, s.DB, s.Conversations, p, conversationID)
	if err != nil {
		return nil, err
	}
	items, err := s.Messages.ListMessagesNewestFirst(ctx, s.DB, c.ID, 0, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	reverse(items)
	if items == nil {
		items = []domain.Message{}
	}
	return items, nil
}

// Transcript returns the complete history oldest first.
func (s *MessageService) Transcript(ctx context.Context, p domain.Principal, conversationID string) ([]domain.Message, error) {
	ctx, span := otel.Tracer("services/MessageService").Start(ctx, "Transcript",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	c, err := authorizeConversation(ctx, s.DB, s.Conversations, p, conversationID)
	if err != nil {
		return nil, err
	}
	items, err := s.Messages.ListTranscript(ctx, s.DB, c.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	if items == nil {
		items = []domain.Message{}
	}
	return items, nil
}

// cleanContent NFC-normalizes content and enforces the non-empty and
// length rules. Surrounding whitespace is kept; only blank content is
// rejected.
func (s *MessageService) cleanContent(content string) (string, error) {
	content = norm.NFC.String(content)
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return "", ErrContentTooLong
	}
	return content, nil
}

func (s *MessageService) clampPage(page, pageSize int) (int, int) {
	def, max := s.DefaultPageSize, s.MaxPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	if max <= 0 {
		max = MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = def
	}
	if pageSize > max {
		pageSize = max
	}
	return page, pageSize
}

func reverse(ms []domain.Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
