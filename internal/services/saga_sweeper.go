package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/saga"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/platform/paystack"
	"github.com/gonasi/gonasi-backend/internal/platform/redislock"
)

type SagaSweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

func (c SagaSweeperConfig) withDefaults() SagaSweeperConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	// Well past subscriptionLockTTL so a live upgrade is never swept.
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	return c
}

type SagaSweeperDeps struct {
	Runs        repos.SagaRunRepo
	Actions     repos.SagaActionRepo
	Sagas       domainagg.SagaAggregate
	Provider    paystack.Client
	SideEffects SideEffects
	Locks       redislock.Locker
	Metrics     *observability.Metrics
}

// SagaSweeper finishes upgrade sagas left running or compensating by a
// process that died mid-run. A run whose local update landed is marked
// succeeded; anything else is compensated.
type SagaSweeper struct {
	log      *logger.Logger
	runs     repos.SagaRunRepo
	actions  repos.SagaActionRepo
	sagas    domainagg.SagaAggregate
	provider paystack.Client
	side     SideEffects
	locks    redislock.Locker
	metrics  *observability.Metrics
	cfg      SagaSweeperConfig
	now      func() time.Time
}

func NewSagaSweeper(baseLog *logger.Logger, deps SagaSweeperDeps, cfg SagaSweeperConfig) *SagaSweeper {
	locks := deps.Locks
	if locks == nil {
		locks = redislock.NewLocalLocker()
	}
	return &SagaSweeper{
		log:      baseLog.With("service", "SagaSweeper"),
		runs:     deps.Runs,
		actions:  deps.Actions,
		sagas:    deps.Sagas,
		provider: deps.Provider,
		side:     deps.SideEffects,
		locks:    locks,
		metrics:  deps.Metrics,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Run sweeps until ctx is done.
func (s *SagaSweeper) Run(ctx context.Context) {
	s.log.Info("saga sweeper started", "interval", s.cfg.Interval, "stale_after", s.cfg.StaleAfter)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("saga sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.log.Info("saga sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce recovers one batch of stale runs and returns how many reached a
// terminal status.
func (s *SagaSweeper) SweepOnce(ctx context.Context) (int, error) {
	before := s.now().UTC().Add(-s.cfg.StaleAfter)
	runs, err := s.runs.ListByStatusBefore(dbctx.Context{Ctx: ctx}, []string{saga.StatusRunning, saga.StatusCompensating}, before, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale sagas: %w", err)
	}
	finished := 0
	for _, run := range runs {
		if ctx.Err() != nil {
			return finished, ctx.Err()
		}
		if run.Kind != SagaKindSubscriptionUpgrade {
			continue
		}
		ok, err := s.recoverUpgrade(ctx, run)
		if err != nil {
			s.log.Warn("stale saga not recovered", "saga_id", run.ID, "reference", run.Reference, "error", err)
			continue
		}
		if ok {
			finished++
		}
	}
	return finished, nil
}

func (s *SagaSweeper) recoverUpgrade(ctx context.Context, run *types.SagaRun) (bool, error) {
	release, err := s.locks.TryAcquire(ctx, redislock.SubscriptionKey(run.OrganizationID), subscriptionLockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrLockHeld) {
			return false, nil
		}
		return false, err
	}
	defer release()

	log := s.log.With("saga_id", run.ID, "reference", run.Reference, "organization_id", run.OrganizationID)
	actions, err := s.actions.ListBySagaID(dbctx.Context{Ctx: ctx}, run.ID)
	if err != nil {
		return false, fmt.Errorf("list saga actions: %w", err)
	}
	history := sagaHistory(actions)

	if run.Status == saga.StatusRunning && history.done(jobs.SagaPhaseExecute, StepUpdateLocalSubscription) {
		if err := s.transition(ctx, run, saga.StatusRunning, saga.StatusSucceeded, ""); err != nil {
			return false, err
		}
		log.Info("stale upgrade saga marked succeeded")
		s.metrics.IncSaga(run.Kind, saga.StatusSucceeded)
		return true, nil
	}

	if run.Status == saga.StatusRunning {
		if err := s.transition(ctx, run, saga.StatusRunning, saga.StatusCompensating, "abandoned mid-run"); err != nil {
			return false, err
		}
	}

	final := saga.StatusCompensated
	created := history.done(jobs.SagaPhaseExecute, StepCreateSubscription)
	if created && !history.done(jobs.SagaPhaseCompensate, CompDisableNewSubscription) {
		code := history.subscriptionCode()
		err := s.record(ctx, run.ID, CompDisableNewSubscription, map[string]interface{}{"subscription_code": code}, func(ctx context.Context) (any, error) {
			if code == "" {
				return nil, errUnknownSubscriptionCode
			}
			return s.disableCreated(ctx, code)
		})
		switch {
		case errors.Is(err, errUnknownSubscriptionCode):
			log.Error("created subscription cannot be disabled", "error", err)
			final = saga.StatusFailed
		case err != nil:
			// Left compensating; the next sweep retries the disable.
			return false, err
		}
	}
	if !history.done(jobs.SagaPhaseCompensate, CompRefundPayment) {
		reason := RefundReasonSubscriptionCreationFailed
		if created {
			reason = RefundReasonTierUpdateFailed
		}
		req := RefundRequest{PaymentReference: run.Reference, OrganizationID: run.OrganizationID, Reason: reason}
		err := s.record(ctx, run.ID, CompRefundPayment, map[string]interface{}{"reference": run.Reference}, func(ctx context.Context) (any, error) {
			s.side.Defer(ctx, jobs.OutboxKindRefundRetry, "refund_retry:"+run.Reference, req, errors.New("upgrade saga abandoned"))
			return map[string]interface{}{"status": RefundStatusRetryQueued}, nil
		})
		if err != nil {
			return false, err
		}
	}

	reason := ""
	if final == saga.StatusFailed {
		reason = "new subscription left active"
	}
	if err := s.transition(ctx, run, saga.StatusCompensating, final, reason); err != nil {
		return false, err
	}
	log.Warn("stale upgrade saga compensated", "status", final, "created_subscription", created)
	s.metrics.IncSaga(run.Kind, final)
	return true, nil
}

var errUnknownSubscriptionCode = errors.New("created subscription code not recorded")

func (s *SagaSweeper) disableCreated(ctx context.Context, code string) (any, error) {
	sub, err := s.provider.FetchSubscription(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("fetch new subscription: %w", err)
	}
	if !sub.IsActive() {
		return map[string]interface{}{"skipped": sub.Status}, nil
	}
	if err := s.provider.DisableSubscription(ctx, paystack.DisableSubscriptionRequest{Code: sub.SubscriptionCode, Token: sub.EmailToken}); err != nil {
		return nil, fmt.Errorf("disable new subscription: %w", err)
	}
	return map[string]interface{}{"disabled": sub.SubscriptionCode}, nil
}

// record runs one compensation and stores it the way the saga runner does.
func (s *SagaSweeper) record(ctx context.Context, sagaID uuid.UUID, name string, payload any, run saga.Action) error {
	raw, _ := json.Marshal(payload)
	appended, err := s.sagas.AppendAction(ctx, domainagg.AppendSagaActionInput{
		SagaID:     sagaID,
		Kind:       name,
		Phase:      jobs.SagaPhaseCompensate,
		Payload:    raw,
		AppendedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	res, runErr := run(ctx)
	finish := domainagg.FinishSagaActionInput{ActionID: appended.ActionID, Status: "done"}
	if runErr != nil {
		finish.Status, finish.Error = "failed", runErr.Error()
	} else if res != nil {
		finish.Result, _ = json.Marshal(res)
	}
	if err := s.sagas.FinishAction(ctx, finish); err != nil {
		s.log.Warn("saga action outcome not recorded", "action", name, "error", err)
	}
	return runErr
}

func (s *SagaSweeper) transition(ctx context.Context, run *types.SagaRun, from, to, reason string) error {
	_, err := s.sagas.TransitionStatus(ctx, domainagg.TransitionSagaStatusInput{
		SagaID:       run.ID,
		FromStatus:   from,
		ToStatus:     to,
		Reason:       reason,
		TransitionAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	run.Status = to
	return nil
}

type sagaHistory []*types.SagaAction

func (h sagaHistory) last(phase, kind string) *types.SagaAction {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Phase == phase && h[i].Kind == kind {
			return h[i]
		}
	}
	return nil
}

func (h sagaHistory) done(phase, kind string) bool {
	a := h.last(phase, kind)
	return a != nil && a.Status == "done"
}

func (h sagaHistory) subscriptionCode() string {
	a := h.last(jobs.SagaPhaseExecute, StepCreateSubscription)
	if a == nil || len(a.Result) == 0 {
		return ""
	}
	var res struct {
		SubscriptionCode string `json:"subscription_code"`
	}
	if err := json.Unmarshal(a.Result, &res); err != nil {
		return ""
	}
	return strings.TrimSpace(res.SubscriptionCode)
}
