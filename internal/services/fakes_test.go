package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
	"github.com/tbourn/go-jobboard-chat/internal/repo"
)

// ----- In-memory store -----

// memStore implements ConversationRepo and MessageRepo on maps and counts
// every call so tests can assert round trips.
type memStore struct {
	mu    sync.Mutex
	convs map[string]*domain.Conversation
	msgs  map[string][]domain.Message
	seq   int
	clock time.Time

	calls map[string]int
	err   error // returned by every call when set
}

func newMemStore() *memStore {
	return &memStore{
		convs: map[string]*domain.Conversation{},
		msgs:  map[string][]domain.Message{},
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		calls: map[string]int{},
	}
}

func (m *memStore) hit(name string) error {
	m.calls[name]++
	return m.err
}

func (m *memStore) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *memStore) resetCalls() {
	m.mu.Lock()
	m.calls = map[string]int{}
	m.mu.Unlock()
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s%04d", prefix, m.seq)
}

func (m *memStore) CreateConversation(ctx context.Context, db *gorm.DB, userID, companyID, status string) (*domain.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateConversation"); err != nil {
		return nil, false, err
	}
	for _, c := range m.convs {
		if c.UserID == userID && c.CompanyID == companyID {
			cp := *c
			return &cp, false, nil
		}
	}
	now := m.tick()
	c := &domain.Conversation{ID: m.nextID("c"), UserID: userID, CompanyID: companyID, Status: status, CreatedAt: now, UpdatedAt: now}
	m.convs[c.ID] = c
	cp := *c
	return &cp, true, nil
}

func (m *memStore) FindConversation(ctx context.Context, db *gorm.DB, userID, companyID string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("FindConversation"); err != nil {
		return nil, err
	}
	for _, c := range m.convs {
		if c.UserID == userID && c.CompanyID == companyID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memStore) GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("GetConversation"); err != nil {
		return nil, err
	}
	c, ok := m.convs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) conversationsOf(p domain.Principal) []domain.Conversation {
	var out []domain.Conversation
	for _, c := range m.convs {
		if c.HasParticipant(p) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memStore) ListConversations(ctx context.Context, db *gorm.DB, p domain.Principal) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListConversations"); err != nil {
		return nil, err
	}
	return m.conversationsOf(p), nil
}

func (m *memStore) ListConversationProfiles(ctx context.Context, db *gorm.DB, p domain.Principal) ([]domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListConversationProfiles"); err != nil {
		return nil, err
	}
	var out []domain.Profile
	for _, c := range m.conversationsOf(p) {
		cp := c.Counterpart(p)
		out = append(out, domain.Profile{
			ConversationID:  c.ID,
			Status:          c.Status,
			CreatedAt:       c.CreatedAt,
			CounterpartID:   cp.ID,
			CounterpartType: cp.Kind,
			Name:            "name of " + cp.ID,
		})
	}
	return out, nil
}

func (m *memStore) UpdateConversationStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("UpdateConversationStatus"); err != nil {
		return err
	}
	c, ok := m.convs[id]
	if !ok {
		return repo.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memStore) DeleteConversation(ctx context.Context, db *gorm.DB, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("DeleteConversation"); err != nil {
		return err
	}
	if _, ok := m.convs[id]; !ok {
		return repo.ErrNotFound
	}
	delete(m.convs, id)
	delete(m.msgs, id)
	return nil
}

func (m *memStore) AppendMessage(ctx context.Context, db *gorm.DB, conversationID string, role domain.Role, content string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("AppendMessage"); err != nil {
		return nil, err
	}
	if _, ok := m.convs[conversationID]; !ok {
		return nil, repo.ErrNotFound
	}
	msg := domain.Message{ID: m.nextID("m"), ConversationID: conversationID, SenderRole: role, Content: content, SentAt: m.tick()}
	m.msgs[conversationID] = append(m.msgs[conversationID], msg)
	return &msg, nil
}

func (m *memStore) CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CountMessages"); err != nil {
		return 0, err
	}
	return int64(len(m.msgs[conversationID])), nil
}

func (m *memStore) ListMessagesNewestFirst(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListMessagesNewestFirst"); err != nil {
		return nil, err
	}
	all := m.msgs[conversationID]
	var out []domain.Message
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memStore) ListTranscript(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListTranscript"); err != nil {
		return nil, err
	}
	return append([]domain.Message(nil), m.msgs[conversationID]...), nil
}

func (m *memStore) LastMessages(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("LastMessages"); err != nil {
		return nil, err
	}
	var out []domain.Message
	for _, id := range ids {
		if all := m.msgs[id]; len(all) > 0 {
			out = append(out, all[len(all)-1])
		}
	}
	return out, nil
}

func (m *memStore) ListMessagesFor(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListMessagesFor"); err != nil {
		return nil, err
	}
	var out []domain.Message
	for _, id := range ids {
		out = append(out, m.msgs[id]...)
	}
	return out, nil
}

// ----- helpers -----

var (
	alice = domain.Principal{Kind: domain.RoleUser, ID: "u1"}
	acme  = domain.Principal{Kind: domain.RoleCompany, ID: "co1"}
	bob   = domain.Principal{Kind: domain.RoleUser, ID: "u2"}
)

func (m *memStore) seed(userID, companyID string, n int, from domain.Role) *domain.Conversation {
	c, _, _ := m.CreateConversation(context.Background(), nil, userID, companyID, DefaultStatus)
	for i := 0; i < n; i++ {
		_, _ = m.AppendMessage(context.Background(), nil, c.ID, from, fmt.Sprintf("msg-%d", i+1))
	}
	return c
}
