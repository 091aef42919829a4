package services

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-jobboard-chat/internal/cache"
	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

type fakeRooms struct {
	joined []string
	closed []string
}

func (r *fakeRooms) JoinConversation(c domain.Conversation) { r.joined = append(r.joined, c.ID) }
func (r *fakeRooms) CloseRoom(id string)                    { r.closed = append(r.closed, id) }

func TestNewConversationService_Defaults(t *testing.T) {
	st := newMemStore()
	s := NewConversationService(nil, st)
	if s.Repo != st {
		t.Fatalf("repo not set")
	}
	if _, ok := s.Cache.(cache.Noop); !ok {
		t.Fatalf("expected Noop cache, got %T", s.Cache)
	}
	if s.CacheTTL <= 0 {
		t.Fatalf("CacheTTL must be positive")
	}
}

func TestOpen_CreatesOnceThenReturnsExisting(t *testing.T) {
	st := newMemStore()
	rooms := &fakeRooms{}
	s := NewConversationService(nil, st)
	s.Rooms = rooms
	ctx := context.Background()

	c1, created, err := s.Open(ctx, alice, "u1", "co1", "")
	if err != nil || !created {
		t.Fatalf("first open: created=%v err=%v", created, err)
	}
	if c1.Status != DefaultStatus {
		t.Fatalf("status = %q, want %q", c1.Status, DefaultStatus)
	}
	c2, created, err := s.Open(ctx, acme, " u1 ", "co1", "Interview")
	if err != nil || created {
		t.Fatalf("second open: created=%v err=%v", created, err)
	}
	if c2.ID != c1.ID {
		t.Fatalf("ids differ: %s vs %s", c1.ID, c2.ID)
	}
	if c2.Status != DefaultStatus {
		t.Fatalf("existing status must be kept, got %q", c2.Status)
	}
	if len(rooms.joined) != 1 || rooms.joined[0] != c1.ID {
		t.Fatalf("rooms joined = %v", rooms.joined)
	}
}

func TestOpen_Validation(t *testing.T) {
	st := newMemStore()
	s := NewConversationService(nil, st)
	ctx := context.Background()

	cases := []struct {
		name    string
		actor   domain.Principal
		user    string
		company string
		want    error
	}{
		{"blank user", alice, "  ", "co1", ErrInvalidID},
		{"blank company", alice, "u1", "", ErrInvalidID},
		{"bad actor", domain.Principal{}, "u1", "co1", ErrInvalidPrincipal},
		{"outsider", bob, "u1", "co1", ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := s.Open(ctx, tc.actor, tc.user, tc.company, "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if st.totalCalls() != 0 {
		t.Fatalf("validation must not reach the store, calls=%v", st.calls)
	}
	if !errors.Is(ErrInvalidID, ErrValidation) {
		t.Fatalf("ErrInvalidID must wrap ErrValidation")
	}
}

func TestFind(t *testing.T) {
	st := newMemStore()
	c := st.seed("u1", "co1", 0, domain.RoleUser)
	s := NewConversationService(nil, st)

	got, err := s.Find(context.Background(), "u1", "co1")
	if err != nil || got.ID != c.ID {
		t.Fatalf("Find = %v, %v", got, err)
	}
	if _, err := s.Find(context.Background(), "u1", "co2"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("want ErrConversationNotFound, got %v", err)
	}
}

func TestGet_HidesForeignConversations(t *testing.T) {
	st := newMemStore()
	c := st.seed("u1", "co1", 0, domain.RoleUser)
	s := NewConversationService(nil, st)

	if _, err := s.Get(context.Background(), alice, c.ID); err != nil {
		t.Fatalf("participant: %v", err)
	}
	if _, err := s.Get(context.Background(), bob, c.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("outsider: want not found, got %v", err)
	}
}

func TestUpdateStatusAndClose(t *testing.T) {
	st := newMemStore()
	c := st.seed("u1", "co1", 3, domain.RoleUser)
	rooms := &fakeRooms{}
	s := NewConversationService(nil, st)
	s.Rooms = rooms
	ctx := context.Background()

	if _, err := s.UpdateStatus(ctx, acme, c.ID, "  "); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("blank status: %v", err)
	}
	got, err := s.UpdateStatus(ctx, acme, c.ID, "Hired")
	if err != nil || got.Status != "Hired" {
		t.Fatalf("UpdateStatus = %v, %v", got, err)
	}

	if err := s.Close(ctx, alice, c.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(rooms.closed) != 1 || rooms.closed[0] != c.ID {
		t.Fatalf("closed rooms = %v", rooms.closed)
	}
	if err := s.Close(ctx, alice, c.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("second close: %v", err)
	}
}

func TestList_StoreFailureIsWrapped(t *testing.T) {
	st := newMemStore()
	st.err = errors.New("connection refused")
	s := NewConversationService(nil, st)

	_, err := s.List(context.Background(), alice)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, st.err) {
		t.Fatalf("cause must stay inspectable")
	}
}

func TestList_CachedAndInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := newMemStore()
	s := NewConversationService(nil, st)
	s.Cache = cache.NewRedis(client, "test:")
	ctx := context.Background()

	st.seed("u1", "co1", 0, domain.RoleUser)
	first, err := s.List(ctx, alice)
	if err != nil || len(first) != 1 {
		t.Fatalf("List = %v, %v", first, err)
	}
	if _, err := s.List(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if st.calls["ListConversations"] != 1 {
		t.Fatalf("second List should hit the cache, store calls=%d", st.calls["ListConversations"])
	}

	// Opening a new pairing invalidates both participants' lists.
	if _, _, err := s.Open(ctx, alice, "u1", "co2", ""); err != nil {
		t.Fatal(err)
	}
	got, err := s.List(ctx, alice)
	if err != nil || len(got) != 2 {
		t.Fatalf("after open List = %v, %v", got, err)
	}
	if st.calls["ListConversations"] != 2 {
		t.Fatalf("invalidation did not force a reload")
	}
}
