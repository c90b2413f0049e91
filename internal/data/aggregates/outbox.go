package aggregates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

type OutboxAggregateDeps struct {
	Base BaseDeps

	Entries repos.OutboxRepo
}

type outboxAggregate struct {
	deps OutboxAggregateDeps
}

func NewOutboxAggregate(deps OutboxAggregateDeps) domainagg.OutboxAggregate {
	deps.Base = deps.Base.withDefaults()
	return &outboxAggregate{deps: deps}
}

func (a *outboxAggregate) Contract() domainagg.Contract {
	return domainagg.OutboxAggregateContract
}

func (a *outboxAggregate) Enqueue(ctx context.Context, in domainagg.EnqueueOutboxInput) (domainagg.EnqueueOutboxResult, error) {
	const op = "Jobs.Outbox.Enqueue"
	var out domainagg.EnqueueOutboxResult

	kind := strings.TrimSpace(in.Kind)
	key := strings.TrimSpace(in.DedupeKey)
	if kind == "" || key == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing kind or dedupe_key", nil)
	}
	payload := normalizeSagaPayload(in.Payload)
	if !json.Valid(payload) {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "payload must be valid JSON", nil)
	}
	if a.deps.Entries == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "outbox repo not configured", nil)
	}
	at := in.At.UTC()
	if in.At.IsZero() {
		at = time.Now().UTC()
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		existing, err := a.deps.Entries.GetByDedupeKey(dbc, key)
		if err != nil {
			return err
		}
		if existing != nil {
			out = domainagg.EnqueueOutboxResult{EntryID: existing.ID, Duplicate: true}
			return nil
		}
		row := &types.OutboxEntry{
			ID:            uuid.New(),
			Kind:          kind,
			DedupeKey:     key,
			Payload:       datatypes.JSON(payload),
			Status:        jobs.OutboxPending,
			NextAttemptAt: at,
			LastError:     strings.TrimSpace(in.LastError),
		}
		if _, err := a.deps.Entries.Create(dbc, row); err != nil {
			return err
		}
		out = domainagg.EnqueueOutboxResult{EntryID: row.ID}
		return nil
	})
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeConflict) {
			if existing, readErr := a.deps.Entries.GetByDedupeKey(dbctx.Context{Ctx: ctx}, key); readErr == nil && existing != nil {
				return domainagg.EnqueueOutboxResult{EntryID: existing.ID, Duplicate: true}, nil
			}
		}
		return domainagg.EnqueueOutboxResult{}, err
	}
	return out, nil
}

func (a *outboxAggregate) Complete(ctx context.Context, id uuid.UUID) error {
	const op = "Jobs.Outbox.Complete"
	if id == uuid.Nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "missing outbox id", nil)
	}
	return executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		ok, err := a.deps.Base.CASGuard.UpdateByStatus(dbc, &types.OutboxEntry{}, id,
			[]string{jobs.OutboxPending},
			map[string]interface{}{
				"status":     jobs.OutboxDone,
				"last_error": "",
				"updated_at": time.Now().UTC(),
			})
		if err != nil {
			return err
		}
		return RequireCASSuccess(ok, fmt.Sprintf("outbox entry %s is no longer pending", id))
	})
}

func (a *outboxAggregate) Fail(ctx context.Context, in domainagg.FailOutboxInput) (domainagg.FailOutboxResult, error) {
	const op = "Jobs.Outbox.Fail"
	var out domainagg.FailOutboxResult
	if in.ID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing outbox id", nil)
	}
	if in.MaxAttempts <= 0 {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "max attempts must be positive", nil)
	}
	if a.deps.Entries == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "outbox repo not configured", nil)
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		row, err := a.deps.Entries.LockByID(dbc, in.ID)
		if err != nil {
			return err
		}
		if row == nil {
			return NotFoundError(fmt.Sprintf("outbox entry %s not found", in.ID))
		}
		if err := RequireStatusAllowed(row.Status, jobs.OutboxPending); err != nil {
			return err
		}
		attempts := row.Attempts + 1
		status := jobs.OutboxPending
		if attempts >= in.MaxAttempts {
			status = jobs.OutboxDead
		}
		updates := map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": strings.TrimSpace(in.Error),
		}
		if status == jobs.OutboxPending && !in.NextAttemptAt.IsZero() {
			updates["next_attempt_at"] = in.NextAttemptAt.UTC()
		}
		if err := a.deps.Entries.UpdateFields(dbc, row.ID, updates); err != nil {
			return err
		}
		out = domainagg.FailOutboxResult{Attempts: attempts, Dead: status == jobs.OutboxDead}
		return nil
	})
	if err != nil {
		return domainagg.FailOutboxResult{}, err
	}
	return out, nil
}
