package aggregates

import (
	"context"
	"errors"
	"testing"
	"time"

	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

func TestExecuteWriteReportsOutcome(t *testing.T) {
	cases := []struct {
		name          string
		body          error
		wantStatus    string
		wantConflicts int
		wantRetries   int
	}{
		{name: "success", wantStatus: "success"},
		{name: "invariant", body: InvariantError("ledger pair incomplete"), wantStatus: string(domainagg.CodeInvariantViolation)},
		{name: "conflict", body: ConflictError("stale status"), wantStatus: string(domainagg.CodeConflict), wantConflicts: 1},
		{name: "retryable", body: RetryableError("lock not available"), wantStatus: string(domainagg.CodeRetryable), wantRetries: 1},
		{name: "internal", body: errors.New("disk full"), wantStatus: string(domainagg.CodeInternal)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hooks := &spyHooks{}
			op := "aggregate.test." + tc.name
			err := executeWrite(context.Background(), BaseDeps{Runner: spyTxRunner{}, Hooks: hooks}, op, func(_ dbctx.Context) error {
				return tc.body
			})
			if (err == nil) != (tc.body == nil) {
				t.Fatalf("err: want=%v got=%v", tc.body, err)
			}
			if len(hooks.Operations) != 1 || hooks.Operations[0].Name != op || hooks.Operations[0].Status != tc.wantStatus {
				t.Fatalf("operations: want one %s/%s got=%+v", op, tc.wantStatus, hooks.Operations)
			}
			if len(hooks.Conflicts) != tc.wantConflicts {
				t.Fatalf("conflicts: want=%d got=%+v", tc.wantConflicts, hooks.Conflicts)
			}
			if len(hooks.Retries) != tc.wantRetries {
				t.Fatalf("retries: want=%d got=%+v", tc.wantRetries, hooks.Retries)
			}
		})
	}
}

func TestAggregateErrorStatusMapsRawErrors(t *testing.T) {
	if got := aggregateErrorStatus(context.DeadlineExceeded); got != string(domainagg.CodeRetryable) {
		t.Fatalf("deadline status: got=%s", got)
	}
	if got := aggregateErrorStatus(NotFoundError("missing")); got != string(domainagg.CodeNotFound) {
		t.Fatalf("not found status: got=%s", got)
	}
}

type spyTxRunner struct{}

func (spyTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(dbctx.Context{Ctx: ctx})
}

type spyHooks struct {
	Operations []spyOperation
	Conflicts  []string
	Retries    []string
}

type spyOperation struct {
	Name   string
	Status string
}

func (h *spyHooks) ObserveOperation(name, status string, _ time.Duration) {
	h.Operations = append(h.Operations, spyOperation{Name: name, Status: status})
}

func (h *spyHooks) IncConflict(name string) { h.Conflicts = append(h.Conflicts, name) }

func (h *spyHooks) IncRetry(name string) { h.Retries = append(h.Retries, name) }
