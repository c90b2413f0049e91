package aggregates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

var SagaAggregateContract = Contract{
	Name:             "Jobs.SagaAggregate",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyInvariantScoped,
	Notes:            "Owns saga run + action progression so every provider side effect and its compensation is on record.",
}

// SagaAggregate owns saga transition invariants.
type SagaAggregate interface {
	Aggregate

	// Begin opens a saga run for reference, or returns the existing one.
	Begin(ctx context.Context, in BeginSagaInput) (BeginSagaResult, error)

	// AppendAction records a step or compensation before it runs.
	AppendAction(ctx context.Context, in AppendSagaActionInput) (AppendSagaActionResult, error)

	// FinishAction records the outcome of an appended action.
	FinishAction(ctx context.Context, in FinishSagaActionInput) error

	// TransitionStatus moves the run through running/succeeded/failed/compensating/compensated.
	TransitionStatus(ctx context.Context, in TransitionSagaStatusInput) (TransitionSagaStatusResult, error)
}

type BeginSagaInput struct {
	Kind           string
	Reference      string
	OrganizationID uuid.UUID
}

type BeginSagaResult struct {
	SagaID uuid.UUID
	Status string
	// Resumed is set when a run for the reference already existed.
	Resumed bool
}

type AppendSagaActionInput struct {
	SagaID     uuid.UUID
	ActionID   uuid.UUID
	Kind       string
	Phase      string
	Payload    json.RawMessage
	AppendedAt time.Time
}

type AppendSagaActionResult struct {
	SagaID     uuid.UUID
	ActionID   uuid.UUID
	Seq        int64
	Status     string
	AppendedAt time.Time
}

type FinishSagaActionInput struct {
	ActionID uuid.UUID
	// done|failed
	Status string
	Error  string
	// Result is the value the action returned, kept for recovery.
	Result json.RawMessage
}

type TransitionSagaStatusInput struct {
	SagaID       uuid.UUID
	FromStatus   string
	ToStatus     string
	Reason       string
	TransitionAt time.Time
}

type TransitionSagaStatusResult struct {
	SagaID       uuid.UUID
	Status       string
	TransitionAt time.Time
}
