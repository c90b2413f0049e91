package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/deadletter"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

// OutboxHandler delivers one deferred side effect. It must be idempotent.
type OutboxHandler func(ctx context.Context, payload json.RawMessage) error

type OutboxConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	BatchSize    int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Hour
	}
	return c
}

type OutboxDispatcher struct {
	log      *logger.Logger
	entries  repos.OutboxRepo
	agg      domainagg.OutboxAggregate
	dead     deadletter.Writer
	metrics  *observability.Metrics
	cfg      OutboxConfig
	handlers map[string]OutboxHandler
	now      func() time.Time
}

func NewOutboxDispatcher(
	baseLog *logger.Logger,
	entries repos.OutboxRepo,
	agg domainagg.OutboxAggregate,
	dead deadletter.Writer,
	metrics *observability.Metrics,
	cfg OutboxConfig,
) *OutboxDispatcher {
	if dead == nil {
		dead = deadletter.NewLogWriter(baseLog)
	}
	return &OutboxDispatcher{
		log:      baseLog.With("service", "OutboxDispatcher"),
		entries:  entries,
		agg:      agg,
		dead:     dead,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		handlers: map[string]OutboxHandler{},
		now:      time.Now,
	}
}

func (d *OutboxDispatcher) Register(kind string, h OutboxHandler) {
	d.handlers[kind] = h
}

// RegisterBillingHandlers wires the side effects billing flows defer.
func (d *OutboxDispatcher) RegisterBillingHandlers(payments domainagg.PaymentAggregate, subs domainagg.SubscriptionAggregate, refunds RefundService) {
	d.Register(jobs.OutboxKindLedgerEntry, func(ctx context.Context, payload json.RawMessage) error {
		var in domainagg.SubscriptionPaymentInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return fmt.Errorf("decode ledger entry: %w", err)
		}
		_, err := payments.ProcessSubscriptionUpgradePayment(ctx, in)
		return err
	})
	d.Register(jobs.OutboxKindRefundEntry, func(ctx context.Context, payload json.RawMessage) error {
		var in domainagg.RecordRefundInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return fmt.Errorf("decode refund entry: %w", err)
		}
		_, err := payments.RecordRefund(ctx, in)
		return err
	})
	d.Register(jobs.OutboxKindRefundRetry, func(ctx context.Context, payload json.RawMessage) error {
		var req RefundRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decode refund retry: %w", err)
		}
		if out := refunds.RefundSubscriptionPayment(ctx, req); !out.Success {
			return errors.New(out.Error)
		}
		return nil
	})
	d.Register(jobs.OutboxKindOrgNotification, func(ctx context.Context, payload json.RawMessage) error {
		var in domainagg.OrgNotificationInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		_, err := subs.InsertOrgNotification(ctx, in)
		return err
	})
}

// Run polls until ctx is done.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	d.log.Info("outbox dispatcher started", "poll_interval", d.cfg.PollInterval, "max_attempts", d.cfg.MaxAttempts)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("outbox poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.log.Info("outbox dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers every due entry once and returns how many succeeded.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	due, err := d.entries.ListDue(dbctx.Context{Ctx: ctx}, d.now().UTC(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, entry := range due {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if d.deliver(ctx, entry) {
			delivered++
		}
	}
	return delivered, nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, entry *types.OutboxEntry) bool {
	log := d.log.With("entry_id", entry.ID, "kind", entry.Kind, "key", entry.DedupeKey)
	h, ok := d.handlers[entry.Kind]
	var err error
	if !ok {
		err = fmt.Errorf("no handler for outbox kind %q", entry.Kind)
	} else {
		err = h(ctx, json.RawMessage(entry.Payload))
	}
	if err == nil {
		if cerr := d.agg.Complete(ctx, entry.ID); cerr != nil {
			log.Warn("outbox complete failed", "error", cerr)
		}
		d.metrics.IncOutboxDispatch(entry.Kind, "delivered")
		return true
	}

	attempts := entry.Attempts + 1
	res, ferr := d.agg.Fail(ctx, domainagg.FailOutboxInput{
		ID:            entry.ID,
		Error:         err.Error(),
		MaxAttempts:   d.cfg.MaxAttempts,
		NextAttemptAt: d.now().UTC().Add(d.backoff(attempts)),
	})
	if ferr != nil {
		log.Warn("outbox fail bookkeeping failed", "error", ferr, "cause", err)
		return false
	}
	if !res.Dead {
		log.Warn("outbox delivery failed, rescheduled", "attempts", res.Attempts, "error", err)
		d.metrics.IncOutboxDispatch(entry.Kind, "retry")
		return false
	}

	d.metrics.IncOutboxDispatch(entry.Kind, "dead")
	if perr := d.dead.Publish(ctx, deadletter.Message{
		Kind:      entry.Kind,
		Key:       entry.DedupeKey,
		Payload:   json.RawMessage(entry.Payload),
		Attempts:  res.Attempts,
		LastError: err.Error(),
		Source:    "outbox",
	}); perr != nil {
		log.Error("CRITICAL: dead outbox entry not published", "error", perr)
		return false
	}
	d.metrics.IncDeadLetter(entry.Kind, "outbox")
	return false
}

func (d *OutboxDispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return delay
}
