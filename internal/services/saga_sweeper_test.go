package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/saga"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/redislock"
)

type finishedStep struct {
	name   string
	result any
}

// seedAbandonedUpgrade leaves an upgrade run in status running with the given
// steps recorded as done, as if the process died right after the last one.
func (e *testEnv) seedAbandonedUpgrade(ref string, org uuid.UUID, steps ...finishedStep) uuid.UUID {
	e.t.Helper()
	ctx := context.Background()
	begin, err := e.sagas.Begin(ctx, domainagg.BeginSagaInput{Kind: SagaKindSubscriptionUpgrade, Reference: ref, OrganizationID: org})
	if err != nil {
		e.t.Fatalf("Begin: %v", err)
	}
	for _, st := range steps {
		appended, err := e.sagas.AppendAction(ctx, domainagg.AppendSagaActionInput{SagaID: begin.SagaID, Kind: st.name, Phase: jobs.SagaPhaseExecute})
		if err != nil {
			e.t.Fatalf("AppendAction %s: %v", st.name, err)
		}
		raw, _ := json.Marshal(st.result)
		if err := e.sagas.FinishAction(ctx, domainagg.FinishSagaActionInput{ActionID: appended.ActionID, Status: "done", Result: raw}); err != nil {
			e.t.Fatalf("FinishAction %s: %v", st.name, err)
		}
	}
	return begin.SagaID
}

func (e *testEnv) sagaSweeper(locks redislock.Locker) *SagaSweeper {
	sw := NewSagaSweeper(e.log, SagaSweeperDeps{
		Runs:        repos.NewSagaRunRepo(e.db, e.log),
		Actions:     repos.NewSagaActionRepo(e.db, e.log),
		Sagas:       e.sagas,
		Provider:    e.provider,
		SideEffects: e.side,
		Locks:       locks,
	}, SagaSweeperConfig{StaleAfter: 15 * time.Minute})
	sw.now = func() time.Time { return time.Now().Add(time.Hour) }
	return sw
}

func (e *testEnv) sagaStatus(id uuid.UUID) string {
	e.t.Helper()
	run, err := repos.NewSagaRunRepo(e.db, e.log).GetByID(dbctx.Context{Ctx: context.Background()}, id)
	if err != nil || run == nil {
		e.t.Fatalf("GetByID: run=%v err=%v", run, err)
	}
	return run.Status
}

func TestSagaSweeperRecoversAbandonedUpgrades(t *testing.T) {
	created := finishedStep{StepCreateSubscription, map[string]string{"subscription_code": "SUB_orphan"}}
	cases := []struct {
		name        string
		steps       []finishedStep
		wantStatus  string
		wantOrphan  string
		wantRetries int64
	}{
		{
			name:        "died before creating",
			steps:       []finishedStep{{StepDisableOldSubscription, nil}},
			wantStatus:  saga.StatusCompensated,
			wantOrphan:  "active",
			wantRetries: 1,
		},
		{
			name:        "died after creating",
			steps:       []finishedStep{{StepDisableOldSubscription, nil}, created},
			wantStatus:  saga.StatusCompensated,
			wantOrphan:  "cancelled",
			wantRetries: 1,
		},
		{
			name:        "died after the local update",
			steps:       []finishedStep{{StepDisableOldSubscription, nil}, created, {StepUpdateLocalSubscription, map[string]string{"from_tier": "launch"}}},
			wantStatus:  saga.StatusSucceeded,
			wantOrphan:  "active",
			wantRetries: 0,
		},
		{
			name:        "created code never recorded",
			steps:       []finishedStep{{StepDisableOldSubscription, nil}, {StepCreateSubscription, nil}},
			wantStatus:  saga.StatusFailed,
			wantOrphan:  "active",
			wantRetries: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t)
			e.provider.addActive("SUB_orphan", "CUS_1")
			id := e.seedAbandonedUpgrade("ref-stale", uuid.New(), tc.steps...)

			n, err := e.sagaSweeper(nil).SweepOnce(context.Background())
			if err != nil {
				t.Fatalf("SweepOnce: %v", err)
			}
			if n != 1 {
				t.Fatalf("finished: want=1 got=%d", n)
			}
			if got := e.sagaStatus(id); got != tc.wantStatus {
				t.Fatalf("saga status: want=%s got=%s", tc.wantStatus, got)
			}
			if got := e.provider.status("SUB_orphan"); got != tc.wantOrphan {
				t.Fatalf("orphan subscription: want=%s got=%s", tc.wantOrphan, got)
			}
			if got := e.count(&types.OutboxEntry{}, "kind = ? AND dedupe_key = ?", jobs.OutboxKindRefundRetry, "refund_retry:ref-stale"); got != tc.wantRetries {
				t.Fatalf("refund retries: want=%d got=%d", tc.wantRetries, got)
			}
		})
	}
}

func TestSagaSweeperRetriesFailedDisableOnNextSweep(t *testing.T) {
	e := newTestEnv(t)
	e.provider.addActive("SUB_orphan", "CUS_1")
	e.provider.DisableErr["SUB_orphan"] = errInjected
	id := e.seedAbandonedUpgrade("ref-stale", uuid.New(),
		finishedStep{StepDisableOldSubscription, nil},
		finishedStep{StepCreateSubscription, map[string]string{"subscription_code": "SUB_orphan"}})
	sw := e.sagaSweeper(nil)

	if n, err := sw.SweepOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("first sweep: n=%d err=%v", n, err)
	}
	if got := e.sagaStatus(id); got != saga.StatusCompensating {
		t.Fatalf("after failed disable: want=%s got=%s", saga.StatusCompensating, got)
	}

	delete(e.provider.DisableErr, "SUB_orphan")
	sw.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	if n, err := sw.SweepOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
	if got := e.sagaStatus(id); got != saga.StatusCompensated {
		t.Fatalf("after retry: want=%s got=%s", saga.StatusCompensated, got)
	}
	if got := e.provider.status("SUB_orphan"); got != "cancelled" {
		t.Fatalf("orphan subscription: want=cancelled got=%s", got)
	}
}

func TestSagaSweeperLeavesFreshAndLockedRuns(t *testing.T) {
	e := newTestEnv(t)
	org := uuid.New()
	id := e.seedAbandonedUpgrade("ref-busy", org, finishedStep{StepDisableOldSubscription, nil})

	fresh := e.sagaSweeper(nil)
	fresh.now = time.Now
	if n, err := fresh.SweepOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("fresh sweep: n=%d err=%v", n, err)
	}

	locks := redislock.NewLocalLocker()
	release, err := locks.TryAcquire(context.Background(), redislock.SubscriptionKey(org), time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	defer release()
	if n, err := e.sagaSweeper(locks).SweepOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("locked sweep: n=%d err=%v", n, err)
	}
	if got := e.sagaStatus(id); got != saga.StatusRunning {
		t.Fatalf("saga status: want=%s got=%s", saga.StatusRunning, got)
	}
	if e.provider.callCount() != 0 {
		t.Fatalf("provider called for an untouched run: %d", e.provider.callCount())
	}
}
