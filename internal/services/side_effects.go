package services

import (
	"context"
	"encoding/json"
	"time"

	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/deadletter"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

// SideEffects hands a failed best-effort write to the retry queue. When even
// the queue rejects it, the payload goes straight to the dead-letter writer.
type SideEffects interface {
	Defer(ctx context.Context, kind, dedupeKey string, payload any, cause error)
}

type sideEffects struct {
	log     *logger.Logger
	outbox  domainagg.OutboxAggregate
	dead    deadletter.Writer
	metrics *observability.Metrics
}

func NewSideEffects(baseLog *logger.Logger, outbox domainagg.OutboxAggregate, dead deadletter.Writer, metrics *observability.Metrics) SideEffects {
	if dead == nil {
		dead = deadletter.NewLogWriter(baseLog)
	}
	return &sideEffects{
		log:     baseLog.With("service", "SideEffects"),
		outbox:  outbox,
		dead:    dead,
		metrics: metrics,
	}
}

func (s *sideEffects) Defer(ctx context.Context, kind, dedupeKey string, payload any, cause error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("side effect payload not encodable", "kind", kind, "key", dedupeKey, "error", err)
		raw = json.RawMessage(`{}`)
	}
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	if s.outbox != nil {
		res, enqErr := s.outbox.Enqueue(ctx, domainagg.EnqueueOutboxInput{
			Kind:      kind,
			DedupeKey: dedupeKey,
			Payload:   raw,
			LastError: lastErr,
			At:        time.Now().UTC(),
		})
		if enqErr == nil {
			s.log.Warn("side effect deferred to outbox", "kind", kind, "key", dedupeKey, "entry_id", res.EntryID, "duplicate", res.Duplicate, "cause", lastErr)
			return
		}
		s.log.Error("outbox enqueue failed", "kind", kind, "key", dedupeKey, "error", enqErr)
		if lastErr == "" {
			lastErr = enqErr.Error()
		}
	}
	// The hand-off must outlive a cancelled request.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.dead.Publish(pubCtx, deadletter.Message{
		Kind:      kind,
		Key:       dedupeKey,
		Payload:   raw,
		LastError: lastErr,
		Source:    "direct",
	}); err != nil {
		s.log.Error("CRITICAL: side effect lost", "kind", kind, "key", dedupeKey, "error", err, "payload", string(raw))
		return
	}
	s.metrics.IncDeadLetter(kind, "direct")
}
