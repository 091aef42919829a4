// Package services – InboxService
//
// InboxService builds the aggregate read model behind a principal's inbox:
// every conversation with the counterpart's profile and a preview of the
// latest message.
//
// WithLastMessage always issues two store round trips regardless of the
// number of conversations: one join for conversations plus profiles, one
// batched query for the newest message of each. WithMessages is the older
// full-history variant; it is O(total messages) and exists for callers that
// need every transcript inline.
package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// Preview roles, relative to the principal reading the inbox.
const (
	PreviewSender   = "sender"
	PreviewReceiver = "receiver"
)

// LastMessage is the inbox preview of a conversation's newest message.
type LastMessage struct {
	MessageID string    `json:"messageId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sentAt"`
}

// InboxEntry is one row of the inbox. LastMessage is nil for conversations
// without messages.
type InboxEntry struct {
	Profile     domain.Profile `json:"profile"`
	LastMessage *LastMessage   `json:"lastMessage"`
}

// TranscriptEntry pairs a conversation with its whole history.
type TranscriptEntry struct {
	Profile  domain.Profile   `json:"profile"`
	Messages []domain.Message `json:"messages"`
}

// ProfileLister is the slice of ConversationRepo the inbox needs.
type ProfileLister interface {
	ListConversationProfiles(ctx context.Context, db *gorm.DB, p domain.Principal) ([]domain.Profile, error)
}

// InboxService composes conversation profiles with message previews.
type InboxService struct {
	DB       *gorm.DB
	Profiles ProfileLister
	Messages MessageRepo
}

// WithLastMessage returns p's conversations, newest first, each annotated
// with the counterpart profile and the latest message.
func (s *InboxService) WithLastMessage(ctx context.Context, p domain.Principal) ([]InboxEntry, error) {
	ctx, span := otel.Tracer("services/InboxService").Start(ctx, "WithLastMessage",
		trace.WithAttributes(
			attribute.String("principal.type", string(p.Kind)),
			attribute.String("principal.id", p.ID),
		),
	)
	defer span.End()

	profiles, ids, err := s.profiles(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]InboxEntry, len(profiles))
	if len(profiles) == 0 {
		return out, nil
	}

	last, err := s.Messages.LastMessages(ctx, s.DB, ids)
	if err != nil {
		return nil, storeErr(err)
	}
	byConversation := make(map[string]domain.Message, len(last))
	for _, m := range last {
		byConversation[m.ConversationID] = m
	}

	for i, pr := range profiles {
		out[i] = InboxEntry{Profile: pr}
		if m, ok := byConversation[pr.ConversationID]; ok {
			out[i].LastMessage = previewOf(p, m)
		}
	}
	span.SetAttributes(attribute.Int("inbox.size", len(out)))
	return out, nil
}

// WithMessages returns p's conversations, newest first, each with its full
// history oldest first. Prefer WithLastMessage for inbox rendering.
func (s *InboxService) WithMessages(ctx context.Context, p domain.Principal) ([]TranscriptEntry, error) {
	ctx, span := otel.Tracer("services/InboxService").Start(ctx, "WithMessages",
		trace.WithAttributes(
			attribute.String("principal.type", string(p.Kind)),
			attribute.String("principal.id", p.ID),
		),
	)
	defer span.End()

	profiles, ids, err := s.profiles(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]TranscriptEntry, len(profiles))
	if len(profiles) == 0 {
		return out, nil
	}

	all, err := s.Messages.ListMessagesFor(ctx, s.DB, ids)
	if err != nil {
		return nil, storeErr(err)
	}
	grouped := make(map[string][]domain.Message, len(profiles))
	for _, m := range all {
		grouped[m.ConversationID] = append(grouped[m.ConversationID], m)
	}
	for i, pr := range profiles {
		msgs := grouped[pr.ConversationID]
		if msgs == nil {
			msgs = []domain.Message{}
		}
		out[i] = TranscriptEntry{Profile: pr, Messages: msgs}
	}
	span.SetAttributes(attribute.Int("messages.total", len(all)))
	return out, nil
}

func (s *InboxService) profiles(ctx context.Context, p domain.Principal) ([]domain.Profile, []string, error) {
	if !p.Valid() {
		return nil, nil, ErrInvalidPrincipal
	}
	profiles, err := s.Profiles.ListConversationProfiles(ctx, s.DB, p)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	ids := make([]string, len(profiles))
	for i, pr := range profiles {
		ids[i] = pr.ConversationID
	}
	return profiles, ids, nil
}

func previewOf(p domain.Principal, m domain.Message) *LastMessage {
	role := PreviewReceiver
	if m.SenderRole == p.Kind {
		role = PreviewSender
	}
	return &LastMessage{MessageID: m.ID, Role: role, Content: m.Content, SentAt: m.SentAt}
}
