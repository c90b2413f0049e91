package aggregates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

var OutboxAggregateContract = Contract{
	Name:             "Jobs.OutboxAggregate",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyTableRepoQueries,
	Notes:            "Owns side-effect outbox status progression (pending -> done|dead).",
}

type OutboxAggregate interface {
	Aggregate

	// Enqueue stores a side effect for retry. A second enqueue with the same
	// dedupe key is a no-op.
	Enqueue(ctx context.Context, in EnqueueOutboxInput) (EnqueueOutboxResult, error)

	// Complete marks a pending entry done.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records a failed attempt and either reschedules the entry or marks it dead.
	Fail(ctx context.Context, in FailOutboxInput) (FailOutboxResult, error)
}

type EnqueueOutboxInput struct {
	Kind      string
	DedupeKey string
	Payload   json.RawMessage
	LastError string
	At        time.Time
}

type EnqueueOutboxResult struct {
	EntryID   uuid.UUID
	Duplicate bool
}

type FailOutboxInput struct {
	ID            uuid.UUID
	Error         string
	MaxAttempts   int
	NextAttemptAt time.Time
}

type FailOutboxResult struct {
	Attempts int
	Dead     bool
}
