package aggregates

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	jobrepos "github.com/gonasi/gonasi-backend/internal/data/repos/jobs"
	repotest "github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

type sagaFixture struct {
	agg     domainagg.SagaAggregate
	runs    jobrepos.SagaRunRepo
	actions jobrepos.SagaActionRepo
}

func newSagaFixture(t *testing.T, db *gorm.DB, runner TxRunner) sagaFixture {
	t.Helper()
	log := repotest.Logger(t)
	f := sagaFixture{
		runs:    jobrepos.NewSagaRunRepo(db, log),
		actions: jobrepos.NewSagaActionRepo(db, log),
	}
	if runner == nil {
		runner = NewGormTxRunner(db)
	}
	f.agg = NewSagaAggregate(SagaAggregateDeps{
		Base:    BaseDeps{DB: db, Log: log, Runner: runner},
		Runs:    f.runs,
		Actions: f.actions,
	})
	return f
}

func beginSaga(t *testing.T, f sagaFixture, reference string) uuid.UUID {
	t.Helper()
	res, err := f.agg.Begin(context.Background(), domainagg.BeginSagaInput{
		Kind:           "subscription_upgrade",
		Reference:      reference,
		OrganizationID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return res.SagaID
}

func TestSagaAggregateBeginResumesByReference(t *testing.T) {
	f := newSagaFixture(t, repotest.DB(t), nil)
	ctx := context.Background()

	first, err := f.agg.Begin(ctx, domainagg.BeginSagaInput{Kind: "subscription_upgrade", Reference: "ref-1"})
	if err != nil {
		t.Fatalf("Begin first: %v", err)
	}
	if first.Resumed || first.Status != sagaStatusRunning {
		t.Fatalf("Begin first: got=%+v", first)
	}
	second, err := f.agg.Begin(ctx, domainagg.BeginSagaInput{Kind: "subscription_upgrade", Reference: "ref-1"})
	if err != nil {
		t.Fatalf("Begin second: %v", err)
	}
	if !second.Resumed || second.SagaID != first.SagaID {
		t.Fatalf("Begin second: want resumed %s got=%+v", first.SagaID, second)
	}
}

func TestSagaAggregateAppendActionHappyPath(t *testing.T) {
	f := newSagaFixture(t, repotest.DB(t), nil)
	ctx := context.Background()
	sagaID := beginSaga(t, f, "ref-append")

	first, err := f.agg.AppendAction(ctx, domainagg.AppendSagaActionInput{
		SagaID:  sagaID,
		Kind:    "disable_subscription",
		Payload: json.RawMessage(`{"subscription_code":"SUB_old"}`),
	})
	if err != nil {
		t.Fatalf("AppendAction first: %v", err)
	}
	if first.Seq != 1 || first.Status != sagaActionStatusPending {
		t.Fatalf("first: got seq=%d status=%q", first.Seq, first.Status)
	}

	second, err := f.agg.AppendAction(ctx, domainagg.AppendSagaActionInput{
		SagaID: sagaID,
		Kind:   "create_subscription",
	})
	if err != nil {
		t.Fatalf("AppendAction second: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("second seq: want=2 got=%d", second.Seq)
	}
	if err := f.agg.FinishAction(ctx, domainagg.FinishSagaActionInput{ActionID: first.ActionID, Status: sagaActionStatusDone}); err != nil {
		t.Fatalf("FinishAction: %v", err)
	}
	// Repeating the same outcome is a no-op.
	if err := f.agg.FinishAction(ctx, domainagg.FinishSagaActionInput{ActionID: first.ActionID, Status: sagaActionStatusDone}); err != nil {
		t.Fatalf("FinishAction repeat: %v", err)
	}
	if err := f.agg.FinishAction(ctx, domainagg.FinishSagaActionInput{ActionID: first.ActionID, Status: sagaActionStatusFailed}); !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("FinishAction flip: want conflict got=%v", err)
	}

	rows, err := f.actions.ListBySagaID(dbctx.Context{Ctx: ctx}, sagaID)
	if err != nil {
		t.Fatalf("ListBySagaID: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("actions len: want=2 got=%d", len(rows))
	}
	if rows[0].Seq != 1 || rows[0].Status != sagaActionStatusDone || rows[0].Phase != jobs.SagaPhaseExecute {
		t.Fatalf("first row: got=%+v", rows[0])
	}
	if string(rows[1].Payload) != `{}` {
		t.Fatalf("empty payload: want={} got=%s", rows[1].Payload)
	}
}

func TestSagaAggregateAppendActionRespectsStatus(t *testing.T) {
	f := newSagaFixture(t, repotest.DB(t), nil)
	ctx := context.Background()
	sagaID := beginSaga(t, f, "ref-status")

	if _, err := f.agg.TransitionStatus(ctx, domainagg.TransitionSagaStatusInput{SagaID: sagaID, ToStatus: sagaStatusCompensating}); err != nil {
		t.Fatalf("TransitionStatus compensating: %v", err)
	}
	if _, err := f.agg.AppendAction(ctx, domainagg.AppendSagaActionInput{SagaID: sagaID, Kind: "create_subscription"}); !domainagg.IsCode(err, domainagg.CodeInvariantViolation) {
		t.Fatalf("execute while compensating: want invariant violation got=%v", err)
	}
	if _, err := f.agg.AppendAction(ctx, domainagg.AppendSagaActionInput{SagaID: sagaID, Kind: "refund_payment", Phase: jobs.SagaPhaseCompensate}); err != nil {
		t.Fatalf("compensate while compensating: %v", err)
	}

	if _, err := f.agg.TransitionStatus(ctx, domainagg.TransitionSagaStatusInput{SagaID: sagaID, ToStatus: sagaStatusCompensated, Reason: "subscription_creation_failed"}); err != nil {
		t.Fatalf("TransitionStatus compensated: %v", err)
	}
	if _, err := f.agg.AppendAction(ctx, domainagg.AppendSagaActionInput{SagaID: sagaID, Kind: "refund_payment", Phase: jobs.SagaPhaseCompensate}); !domainagg.IsCode(err, domainagg.CodeInvariantViolation) {
		t.Fatalf("append after compensated: want invariant violation got=%v", err)
	}
	if _, err := f.agg.TransitionStatus(ctx, domainagg.TransitionSagaStatusInput{SagaID: sagaID, ToStatus: sagaStatusRunning}); !domainagg.IsCode(err, domainagg.CodeInvariantViolation) {
		t.Fatalf("compensated -> running: want invariant violation got=%v", err)
	}

	run, err := f.runs.GetByID(dbctx.Context{Ctx: ctx}, sagaID)
	if err != nil || run == nil {
		t.Fatalf("GetByID: run=%v err=%v", run, err)
	}
	if run.Error != "subscription_creation_failed" {
		t.Fatalf("run error: want=subscription_creation_failed got=%q", run.Error)
	}
}

func TestSagaAggregateAppendActionRollbackOnInjectedFailure(t *testing.T) {
	db := repotest.DB(t)
	setup := newSagaFixture(t, db, nil)
	sagaID := beginSaga(t, setup, "ref-rollback")

	f := newSagaFixture(t, db, rollbackAfterBodyRunner{db: db, err: errors.New("injected aggregate failure")})
	ctx := context.Background()
	if _, err := f.agg.AppendAction(ctx, domainagg.AppendSagaActionInput{SagaID: sagaID, Kind: "disable_subscription"}); err == nil {
		t.Fatalf("expected injected failure")
	}

	rows, err := f.actions.ListBySagaID(dbctx.Context{Ctx: ctx}, sagaID)
	if err != nil {
		t.Fatalf("ListBySagaID: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected rollback with no persisted actions, got=%d", len(rows))
	}
}

func TestSagaAggregateTransitionStatusConcurrentConflict(t *testing.T) {
	f := newSagaFixture(t, repotest.DB(t), nil)
	ctx := context.Background()
	sagaID := beginSaga(t, f, "ref-race")

	start := make(chan struct{})
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, to := range []string{sagaStatusFailed, sagaStatusSucceeded} {
		wg.Add(1)
		go func(to string) {
			defer wg.Done()
			<-start
			_, err := f.agg.TransitionStatus(ctx, domainagg.TransitionSagaStatusInput{
				SagaID:     sagaID,
				FromStatus: sagaStatusRunning,
				ToStatus:   to,
			})
			errs <- err
		}(to)
	}
	close(start)
	wg.Wait()
	close(errs)

	var successCount, conflictCount int
	for err := range errs {
		switch {
		case err == nil:
			successCount++
		case domainagg.IsCode(err, domainagg.CodeConflict):
			conflictCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successCount != 1 || conflictCount != 1 {
		t.Fatalf("want one success and one conflict, got success=%d conflict=%d", successCount, conflictCount)
	}
}

// rollbackAfterBodyRunner runs fn in a real transaction and then fails it.
type rollbackAfterBodyRunner struct {
	db  *gorm.DB
	err error
}

func (r rollbackAfterBodyRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if r.db == nil {
		return errors.New("missing db")
	}
	injected := r.err
	if injected == nil {
		injected = errors.New("forced rollback")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(dbctx.Context{Ctx: ctx, Tx: tx}); err != nil {
			return err
		}
		return injected
	})
}
