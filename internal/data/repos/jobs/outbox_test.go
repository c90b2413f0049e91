package jobs

import (
	"context"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

func TestOutboxRepoListDueSkipsFutureAndDone(t *testing.T) {
	db := testutil.DB(t)
	repo := NewOutboxRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := []*types.OutboxEntry{
		{Kind: jobs.OutboxKindLedgerEntry, DedupeKey: "due", Payload: datatypes.JSON(`{}`), Status: jobs.OutboxPending, NextAttemptAt: now.Add(-time.Minute)},
		{Kind: jobs.OutboxKindLedgerEntry, DedupeKey: "future", Payload: datatypes.JSON(`{}`), Status: jobs.OutboxPending, NextAttemptAt: now.Add(time.Hour)},
		{Kind: jobs.OutboxKindOrgNotification, DedupeKey: "done", Payload: datatypes.JSON(`{}`), Status: jobs.OutboxDone, NextAttemptAt: now.Add(-time.Hour)},
	}
	for _, r := range rows {
		if _, err := repo.Create(dbc, r); err != nil {
			t.Fatalf("Create %s: %v", r.DedupeKey, err)
		}
	}

	due, err := repo.ListDue(dbc, now, 10)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 1 || due[0].DedupeKey != "due" {
		t.Fatalf("ListDue: want [due] got=%d rows", len(due))
	}

	got, err := repo.GetByDedupeKey(dbc, "future")
	if err != nil || got == nil {
		t.Fatalf("GetByDedupeKey: got=%v err=%v", got, err)
	}
	if _, err := repo.Create(dbc, &types.OutboxEntry{Kind: jobs.OutboxKindLedgerEntry, DedupeKey: "due", Payload: datatypes.JSON(`{}`), Status: jobs.OutboxPending, NextAttemptAt: now}); err == nil {
		t.Fatalf("Create duplicate dedupe key: expected error")
	}
}
