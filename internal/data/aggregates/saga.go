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

type SagaAggregateDeps struct {
	Base BaseDeps

	Runs    repos.SagaRunRepo
	Actions repos.SagaActionRepo
}

type sagaAggregate struct {
	deps SagaAggregateDeps
}

func NewSagaAggregate(deps SagaAggregateDeps) domainagg.SagaAggregate {
	deps.Base = deps.Base.withDefaults()
	return &sagaAggregate{deps: deps}
}

func (a *sagaAggregate) Contract() domainagg.Contract {
	return domainagg.SagaAggregateContract
}

func (a *sagaAggregate) Begin(ctx context.Context, in domainagg.BeginSagaInput) (domainagg.BeginSagaResult, error) {
	const op = "Jobs.Saga.Begin"
	var out domainagg.BeginSagaResult

	kind := strings.TrimSpace(in.Kind)
	reference := strings.TrimSpace(in.Reference)
	if kind == "" || reference == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing saga kind or reference", nil)
	}
	if a.deps.Runs == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "saga run repo not configured", nil)
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		existing, err := a.deps.Runs.GetByReference(dbc, reference)
		if err != nil {
			return err
		}
		if existing != nil {
			out = domainagg.BeginSagaResult{SagaID: existing.ID, Status: existing.Status, Resumed: true}
			return nil
		}
		row := &types.SagaRun{
			ID:             uuid.New(),
			Kind:           kind,
			Reference:      reference,
			OrganizationID: in.OrganizationID,
			Status:         sagaStatusRunning,
		}
		if _, err := a.deps.Runs.Create(dbc, []*types.SagaRun{row}); err != nil {
			return err
		}
		out = domainagg.BeginSagaResult{SagaID: row.ID, Status: row.Status}
		return nil
	})
	return out, err
}

func (a *sagaAggregate) AppendAction(ctx context.Context, in domainagg.AppendSagaActionInput) (domainagg.AppendSagaActionResult, error) {
	const op = "Jobs.Saga.AppendAction"
	var out domainagg.AppendSagaActionResult

	kind := strings.TrimSpace(in.Kind)
	if in.SagaID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing saga_id", nil)
	}
	if kind == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing saga action kind", nil)
	}
	phase := normalizeSagaStatus(in.Phase)
	if phase == "" {
		phase = jobs.SagaPhaseExecute
	}
	if phase != jobs.SagaPhaseExecute && phase != jobs.SagaPhaseCompensate {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "phase must be execute or compensate", nil)
	}
	if a.deps.Runs == nil || a.deps.Actions == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "saga aggregate repos not configured", nil)
	}

	actionID := in.ActionID
	if actionID == uuid.Nil {
		actionID = uuid.New()
	}
	appendedAt := in.AppendedAt.UTC()
	if in.AppendedAt.IsZero() {
		appendedAt = time.Now().UTC()
	}

	payload := normalizeSagaPayload(in.Payload)
	if !json.Valid(payload) {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "payload must be valid JSON", nil)
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		sr, err := a.deps.Runs.LockByID(dbc, in.SagaID)
		if err != nil {
			return err
		}
		if sr == nil {
			return NotFoundError(fmt.Sprintf("saga_run not found: %s", in.SagaID))
		}

		current := normalizeSagaStatus(sr.Status)
		if !canAppendSagaAction(current, phase) {
			return InvariantError(fmt.Sprintf("cannot append %s action when saga status is %q", phase, current))
		}

		maxSeq, err := a.deps.Actions.GetMaxSeq(dbc, in.SagaID)
		if err != nil {
			return err
		}

		row := &types.SagaAction{
			ID:        actionID,
			SagaID:    in.SagaID,
			Seq:       maxSeq + 1,
			Kind:      kind,
			Phase:     phase,
			Payload:   datatypes.JSON(payload),
			Status:    sagaActionStatusPending,
			CreatedAt: appendedAt,
			UpdatedAt: appendedAt,
		}
		if _, err := a.deps.Actions.Create(dbc, []*types.SagaAction{row}); err != nil {
			return err
		}

		out = domainagg.AppendSagaActionResult{
			SagaID:     row.SagaID,
			ActionID:   row.ID,
			Seq:        row.Seq,
			Status:     row.Status,
			AppendedAt: appendedAt,
		}
		return nil
	})
	return out, err
}

func (a *sagaAggregate) FinishAction(ctx context.Context, in domainagg.FinishSagaActionInput) error {
	const op = "Jobs.Saga.FinishAction"
	status := normalizeSagaStatus(in.Status)
	if in.ActionID == uuid.Nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "missing action_id", nil)
	}
	if status != sagaActionStatusDone && status != sagaActionStatusFailed {
		return domainagg.NewError(domainagg.CodeValidation, op, "action status must be done or failed", nil)
	}
	if a.deps.Actions == nil {
		return domainagg.NewError(domainagg.CodeInternal, op, "saga action repo not configured", nil)
	}

	updates := map[string]interface{}{
		"status":     status,
		"error":      strings.TrimSpace(in.Error),
		"updated_at": time.Now().UTC(),
	}
	if len(strings.TrimSpace(string(in.Result))) > 0 {
		if !json.Valid(in.Result) {
			return domainagg.NewError(domainagg.CodeValidation, op, "result must be valid JSON", nil)
		}
		updates["result"] = datatypes.JSON(in.Result)
	}

	return executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		ok, err := a.deps.Base.CASGuard.UpdateByStatus(dbc, &types.SagaAction{}, in.ActionID,
			[]string{sagaActionStatusPending}, updates)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		row, err := a.deps.Actions.GetByID(dbc, in.ActionID)
		if err != nil {
			return err
		}
		if row == nil {
			return NotFoundError(fmt.Sprintf("saga_action not found: %s", in.ActionID))
		}
		if row.Status == status {
			return nil
		}
		return ConflictError(fmt.Sprintf("saga action already %s", row.Status))
	})
}

func (a *sagaAggregate) TransitionStatus(ctx context.Context, in domainagg.TransitionSagaStatusInput) (domainagg.TransitionSagaStatusResult, error) {
	const op = "Jobs.Saga.TransitionStatus"
	var out domainagg.TransitionSagaStatusResult
	if in.SagaID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing saga_id", nil)
	}
	if a.deps.Runs == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "saga run repo not configured", nil)
	}

	to := normalizeSagaStatus(in.ToStatus)
	if !isKnownSagaStatus(to) {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "invalid target saga status", nil)
	}
	from := normalizeSagaStatus(in.FromStatus)
	transitionAt := in.TransitionAt.UTC()
	if in.TransitionAt.IsZero() {
		transitionAt = time.Now().UTC()
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		sr, err := a.deps.Runs.LockByID(dbc, in.SagaID)
		if err != nil {
			return err
		}
		if sr == nil {
			return NotFoundError(fmt.Sprintf("saga_run not found: %s", in.SagaID))
		}

		current := normalizeSagaStatus(sr.Status)
		if from != "" && from != current {
			return ConflictError(fmt.Sprintf("saga status changed (expected=%s actual=%s)", from, current))
		}
		out = domainagg.TransitionSagaStatusResult{SagaID: sr.ID, Status: to, TransitionAt: transitionAt}
		if current == to {
			return nil
		}
		if !isAllowedSagaTransition(current, to) {
			return InvariantError(fmt.Sprintf("invalid saga transition %s -> %s", current, to))
		}

		updates := map[string]interface{}{
			"status":     to,
			"updated_at": transitionAt,
		}
		if reason := strings.TrimSpace(in.Reason); reason != "" {
			updates["error"] = reason
		}
		return a.deps.Runs.UpdateFields(dbc, sr.ID, updates)
	})
	if err != nil {
		return domainagg.TransitionSagaStatusResult{}, err
	}
	return out, nil
}

const (
	sagaStatusRunning      = "running"
	sagaStatusSucceeded    = "succeeded"
	sagaStatusFailed       = "failed"
	sagaStatusCompensating = "compensating"
	sagaStatusCompensated  = "compensated"

	sagaActionStatusPending = "pending"
	sagaActionStatusDone    = "done"
	sagaActionStatusFailed  = "failed"
)

func normalizeSagaPayload(raw json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func normalizeSagaStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// Steps run while the saga is running; compensations also while it is compensating.
func canAppendSagaAction(status, phase string) bool {
	if status == sagaStatusRunning {
		return true
	}
	return status == sagaStatusCompensating && phase == jobs.SagaPhaseCompensate
}

func isKnownSagaStatus(status string) bool {
	switch status {
	case sagaStatusRunning, sagaStatusSucceeded, sagaStatusFailed, sagaStatusCompensating, sagaStatusCompensated:
		return true
	default:
		return false
	}
}

func isAllowedSagaTransition(from, to string) bool {
	switch normalizeSagaStatus(from) {
	case sagaStatusRunning:
		return to == sagaStatusSucceeded || to == sagaStatusFailed || to == sagaStatusCompensating
	case sagaStatusFailed:
		return to == sagaStatusCompensating
	case sagaStatusCompensating:
		return to == sagaStatusCompensated || to == sagaStatusFailed
	default:
		return false
	}
}
