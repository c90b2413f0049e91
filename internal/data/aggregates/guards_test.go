package aggregates

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	repotest "github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

func TestRequireStatusAllowed(t *testing.T) {
	if err := RequireStatusAllowed("published", "published", "unpublished"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := RequireStatusAllowed("archived", "published"); err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestRequireCASSuccess(t *testing.T) {
	if err := RequireCASSuccess(true, "ok"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := RequireCASSuccess(false, "stale"); err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestCASGuardUpdateByStatus(t *testing.T) {
	db := repotest.DB(t)
	ctx := context.Background()
	row := &types.OutboxEntry{
		Kind:          jobs.OutboxKindLedgerEntry,
		DedupeKey:     uuid.NewString(),
		Payload:       datatypes.JSON(`{}`),
		Status:        jobs.OutboxPending,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	guard := NewCASGuard(db)
	dbc := dbctx.Context{Ctx: ctx}

	ok, err := guard.UpdateByStatus(dbc, &types.OutboxEntry{}, row.ID, []string{jobs.OutboxPending}, map[string]interface{}{"status": jobs.OutboxDone})
	if err != nil || !ok {
		t.Fatalf("first CAS: ok=%v err=%v", ok, err)
	}
	ok, err = guard.UpdateByStatus(dbc, &types.OutboxEntry{}, row.ID, []string{jobs.OutboxPending}, map[string]interface{}{"status": jobs.OutboxDead})
	if err != nil || ok {
		t.Fatalf("second CAS: want ok=false got ok=%v err=%v", ok, err)
	}
}
