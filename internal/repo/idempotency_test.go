package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

func TestGetIdempotency_NoConversationID_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	rec, err := GetIdempotency(context.Background(), db, "user:u1", "   ", "k1", time.Now().UTC())
	if rec != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (nil, ErrNotFound) for empty conversationID, got (%v, %v)", rec, err)
	}
}

func TestGetIdempotency_ExpiredOrMissing_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	exp := &domain.Idempotency{
		ID:             "expired",
		PrincipalKey:   "user:u1",
		ConversationID: "c1",
		Key:            "k1",
		MessageID:      "m0",
		Status:         201,
		CreatedAt:      now.Add(-2 * time.Hour),
		ExpiresAt:      now.Add(-time.Hour),
	}
	if err := db.Create(exp).Error; err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	if rec, err := GetIdempotency(context.Background(), db, "user:u1", "c1", "k1", now); rec != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (nil, ErrNotFound) for expired, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "user:u1", "c1", "missing", now); rec != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (nil, ErrNotFound) for missing, got (%v, %v)", rec, err)
	}
}

func TestCreateIdempotency_SuccessGetAndDuplicate(t *testing.T) {
	db := newTestDB(t, &domain.Idempotency{})
	ctx := context.Background()
	start := time.Now().UTC()

	rec, err := CreateIdempotency(ctx, db, "company:co9", "c9", "k9", "m9", 201, 90*time.Minute)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.PrincipalKey != "company:co9" || rec.ConversationID != "c9" || rec.MessageID != "m9" || rec.Status != 201 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Hour))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	got, err := GetIdempotency(ctx, db, "company:co9", "c9", "k9", time.Now().UTC())
	if err != nil || got.MessageID != "m9" {
		t.Fatalf("GetIdempotency: %+v err=%v", got, err)
	}

	if _, err := CreateIdempotency(ctx, db, "company:co9", "c9", "k9", "mX", 201, time.Minute); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Same key from the other side is independent.
	if _, err := CreateIdempotency(ctx, db, "user:u9", "c9", "k9", "mY", 201, time.Minute); err != nil {
		t.Fatalf("other principal: %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newTestDB(t) // intentionally NOT migrated
	_, err := CreateIdempotency(context.Background(), db, "user:u1", "c1", "k1", "m1", 201, time.Minute)
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected non-duplicate error, got %v", err)
	}
}
