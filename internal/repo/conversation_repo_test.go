package repo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// newRepoDB opens a fresh file-backed database through OpenSQLite so the
// PRAGMAs (FKs, busy timeout) match production, then migrates everything.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "repo_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Logger = logger.Default.LogMode(logger.Silent)

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustConversation(t *testing.T, db *gorm.DB, userID, companyID string) *domain.Conversation {
	t.Helper()
	c, _, err := CreateConversation(context.Background(), db, userID, companyID, "Active")
	if err != nil {
		t.Fatalf("CreateConversation(%s,%s): %v", userID, companyID, err)
	}
	return c
}

func TestCreateConversation_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	c, _, err := CreateConversation(context.Background(), db, "u1", "co1", "Active")
	if err == nil || c != nil {
		t.Fatalf("expected error creating without table, got c=%v err=%v", c, err)
	}
}

func TestCreateConversation_ThenFind(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	c, created, err := CreateConversation(ctx, db, "u1", "co1", "Active")
	if err != nil || !created {
		t.Fatalf("CreateConversation: created=%v err=%v", created, err)
	}
	if c.ID == "" || c.UserID != "u1" || c.CompanyID != "co1" || c.Status != "Active" {
		t.Fatalf("unexpected fields: %+v", c)
	}

	got, err := FindConversation(ctx, db, "u1", "co1")
	if err != nil {
		t.Fatalf("FindConversation: %v", err)
	}
	if got.ID != c.ID {
		t.Fatalf("Find returned %q; want %q", got.ID, c.ID)
	}

	if _, err := FindConversation(ctx, db, "u1", "co2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateConversation_SecondCallReturnsExisting(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	first, _, err := CreateConversation(ctx, db, "u1", "co1", "Active")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, created, err := CreateConversation(ctx, db, "u1", "co1", "Pending")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatalf("second create must not report a new row")
	}
	if second.ID != first.ID || second.Status != "Active" {
		t.Fatalf("expected existing row %q/Active, got %+v", first.ID, second)
	}

	var n int64
	db.Model(&domain.Conversation{}).Where("user_id = ? AND company_id = ?", "u1", "co1").Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly one row for the pair, got %d", n)
	}
}

func TestCreateConversation_ConcurrentCallersConverge(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := CreateConversation(ctx, db, "u1", "co1", "Active")
			errs[i] = err
			if c != nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("workers disagree on id: %q vs %q", ids[i], ids[0])
		}
	}
	var n int64
	db.Model(&domain.Conversation{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
}

func TestListConversations_FilterAndOrder(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	a := mustConversation(t, db, "u1", "co1")
	b := mustConversation(t, db, "u1", "co2")
	mustConversation(t, db, "u2", "co1")

	got, err := ListConversations(ctx, db, domain.Principal{Kind: domain.RoleUser, ID: "u1"})
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(got) != 2 || got[0].ID != b.ID || got[1].ID != a.ID {
		t.Fatalf("expected [b a], got %+v", got)
	}

	got, err = ListConversations(ctx, db, domain.Principal{Kind: domain.RoleCompany, ID: "co1"})
	if err != nil {
		t.Fatalf("ListConversations(company): %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 conversations for co1, got %d", len(got))
	}

	if _, err := ListConversations(ctx, db, domain.Principal{Kind: "admin", ID: "x"}); !errors.Is(err, ErrInvalidPrincipal) {
		t.Fatalf("expected ErrInvalidPrincipal, got %v", err)
	}
}

func TestGetAndUpdateConversationStatus(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := mustConversation(t, db, "u1", "co1")

	if err := UpdateConversationStatus(ctx, db, c.ID, "Hired"); err != nil {
		t.Fatalf("UpdateConversationStatus: %v", err)
	}
	got, err := GetConversation(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Status != "Hired" {
		t.Fatalf("status = %q; want Hired", got.Status)
	}

	if err := UpdateConversationStatus(ctx, db, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := GetConversation(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteConversation_CascadesMessages(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	c := mustConversation(t, db, "u1", "co1")
	for i := 0; i < 3; i++ {
		if _, err := AppendMessage(ctx, db, c.ID, domain.RoleUser, "hi"); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	if err := DeleteConversation(ctx, db, c.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	n, err := CountMessages(ctx, db, c.ID)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 messages after delete, got %d err=%v", n, err)
	}
	if err := DeleteConversation(ctx, db, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}

	// The pair can be opened again afterwards.
	again, created, err := CreateConversation(ctx, db, "u1", "co1", "Active")
	if err != nil || !created || again.ID == c.ID {
		t.Fatalf("re-open: created=%v err=%v id=%v", created, err, again)
	}
}

func TestListConversationProfiles_JoinsCounterpart(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	db.Create(&domain.CompanyProfile{ID: "co1", Name: "Acme", Logo: "acme.png", Website: "acme.io"})
	db.Create(&domain.UserProfile{ID: "u1", FirstName: "Ada", LastName: "Lovelace", Photo: "ada.png", Status: "open"})

	a := mustConversation(t, db, "u1", "co1")
	time.Sleep(2 * time.Millisecond)
	b := mustConversation(t, db, "u1", "co-missing")

	got, err := ListConversationProfiles(ctx, db, domain.Principal{Kind: domain.RoleUser, ID: "u1"})
	if err != nil {
		t.Fatalf("ListConversationProfiles(user): %v", err)
	}
	if len(got) != 2 || got[0].ConversationID != b.ID || got[1].ConversationID != a.ID {
		t.Fatalf("expected newest first [b a], got %+v", got)
	}
	if got[1].Name != "Acme" || got[1].Avatar != "acme.png" || got[1].Website != "acme.io" ||
		got[1].CounterpartID != "co1" || got[1].CounterpartType != domain.RoleCompany {
		t.Fatalf("unexpected company card: %+v", got[1])
	}
	if got[0].Name != "" || got[0].CounterpartID != "co-missing" {
		t.Fatalf("missing profile should yield empty fields, got %+v", got[0])
	}

	got, err = ListConversationProfiles(ctx, db, domain.Principal{Kind: domain.RoleCompany, ID: "co1"})
	if err != nil {
		t.Fatalf("ListConversationProfiles(company): %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 conversation for co1, got %d", len(got))
	}
	if got[0].Name != "Ada Lovelace" || got[0].Avatar != "ada.png" || got[0].AccountStatus != "open" ||
		got[0].CounterpartType != domain.RoleUser {
		t.Fatalf("unexpected user card: %+v", got[0])
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not scanned")
	}

	if _, err := ListConversationProfiles(ctx, db, domain.Principal{Kind: "x", ID: "1"}); !errors.Is(err, ErrInvalidPrincipal) {
		t.Fatalf("expected ErrInvalidPrincipal, got %v", err)
	}
}
