package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

const (
	StatusRunning      = "running"
	StatusSucceeded    = "succeeded"
	StatusFailed       = "failed"
	StatusCompensating = "compensating"
	StatusCompensated  = "compensated"

	actionDone   = "done"
	actionFailed = "failed"
)

// ErrInFlight is returned when a run for the same reference is still running.
var ErrInFlight = errors.New("saga already in flight for reference")

// Action is one side effect. The returned value, when non-nil, is stored as the
// action result so a recovering process can pick up where the run stopped.
type Action func(ctx context.Context) (any, error)

// Step is a forward action with the compensation that undoes it. Compensate is
// nil for steps that cannot be undone.
type Step struct {
	Name       string
	Payload    any
	Run        Action
	Compensate *Compensation
}

type Compensation struct {
	Name    string
	Payload any
	Run     Action
}

// Definition is the step table of one saga kind. OnAbort runs after the
// per-step compensations whenever any step fails.
type Definition struct {
	Kind    string
	Steps   []Step
	OnAbort []Compensation
}

type Outcome struct {
	SagaID uuid.UUID
	Status string
	// FailedStep and StepErr are set when a forward step failed.
	FailedStep string
	StepErr    error
	// CompensationErrs maps compensation name to its failure.
	CompensationErrs map[string]error
	// Results holds the values returned by successful actions, by name.
	Results map[string]any
	Resumed bool
}

func (o Outcome) Succeeded() bool { return o.Status == StatusSucceeded }

type Runner struct {
	log *logger.Logger
	agg domainagg.SagaAggregate
	now func() time.Time
}

func NewRunner(baseLog *logger.Logger, agg domainagg.SagaAggregate) *Runner {
	return &Runner{log: baseLog.With("service", "SagaRunner"), agg: agg, now: time.Now}
}

// Run executes def for reference. A reference that already reached a terminal
// status returns that status without running anything.
func (r *Runner) Run(ctx context.Context, def Definition, reference string, organizationID uuid.UUID) (Outcome, error) {
	if r == nil || r.agg == nil {
		return Outcome{}, fmt.Errorf("saga aggregate not configured")
	}
	begin, err := r.agg.Begin(ctx, domainagg.BeginSagaInput{Kind: def.Kind, Reference: reference, OrganizationID: organizationID})
	if err != nil {
		return Outcome{}, fmt.Errorf("begin saga: %w", err)
	}
	out := Outcome{SagaID: begin.SagaID, Status: begin.Status, Resumed: begin.Resumed, Results: map[string]any{}}
	if begin.Resumed {
		if begin.Status == StatusRunning || begin.Status == StatusCompensating {
			return out, ErrInFlight
		}
		r.log.Info("saga already finished", "saga_id", begin.SagaID, "reference", reference, "status", begin.Status)
		return out, nil
	}
	log := r.log.With("saga_id", begin.SagaID, "kind", def.Kind, "reference", reference)

	var done []Step
	for _, step := range def.Steps {
		res, stepErr := r.execute(ctx, log, begin.SagaID, jobs.SagaPhaseExecute, step.Name, step.Payload, step.Run)
		if stepErr != nil {
			out.FailedStep, out.StepErr = step.Name, stepErr
			log.Warn("saga step failed", "step", step.Name, "error", stepErr)
			return r.compensate(ctx, log, out, done, def.OnAbort), nil
		}
		out.Results[step.Name] = res
		done = append(done, step)
	}

	r.transition(ctx, log, begin.SagaID, StatusRunning, StatusSucceeded, "")
	out.Status = StatusSucceeded
	return out, nil
}

func (r *Runner) compensate(ctx context.Context, log *logger.Logger, out Outcome, done []Step, onAbort []Compensation) Outcome {
	r.transition(ctx, log, out.SagaID, StatusRunning, StatusCompensating, fmt.Sprintf("%s: %v", out.FailedStep, out.StepErr))

	var plan []Compensation
	for i := len(done) - 1; i >= 0; i-- {
		if c := done[i].Compensate; c != nil {
			plan = append(plan, *c)
		}
	}
	plan = append(plan, onAbort...)

	out.CompensationErrs = map[string]error{}
	for _, c := range plan {
		res, err := r.execute(ctx, log, out.SagaID, jobs.SagaPhaseCompensate, c.Name, c.Payload, c.Run)
		if err != nil {
			log.Error("saga compensation failed", "compensation", c.Name, "error", err)
			out.CompensationErrs[c.Name] = err
			continue
		}
		out.Results[c.Name] = res
	}

	final := StatusCompensated
	reason := ""
	if len(out.CompensationErrs) > 0 {
		final = StatusFailed
		reason = fmt.Sprintf("%d compensation(s) failed", len(out.CompensationErrs))
	}
	r.transition(ctx, log, out.SagaID, StatusCompensating, final, reason)
	out.Status = final
	return out
}

// execute records the action before running it. When recording fails the action
// still runs for compensations, which must not be skipped, but not for steps.
func (r *Runner) execute(ctx context.Context, log *logger.Logger, sagaID uuid.UUID, phase, name string, payload any, run Action) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil || payload == nil {
		raw = json.RawMessage(`{}`)
	}
	appended, appendErr := r.agg.AppendAction(ctx, domainagg.AppendSagaActionInput{
		SagaID:     sagaID,
		Kind:       name,
		Phase:      phase,
		Payload:    raw,
		AppendedAt: r.now(),
	})
	if appendErr != nil {
		log.Error("saga action not recorded", "action", name, "phase", phase, "error", appendErr)
		if phase == jobs.SagaPhaseExecute {
			return nil, fmt.Errorf("record %s: %w", name, appendErr)
		}
	}

	res, runErr := run(ctx)

	if appendErr == nil {
		finish := domainagg.FinishSagaActionInput{ActionID: appended.ActionID, Status: actionDone}
		if runErr != nil {
			finish.Status, finish.Error = actionFailed, runErr.Error()
		} else if res != nil {
			if b, err := json.Marshal(res); err == nil {
				finish.Result = b
			}
		}
		if err := r.agg.FinishAction(ctx, finish); err != nil {
			log.Warn("saga action outcome not recorded", "action", name, "error", err)
		}
	}
	return res, runErr
}

func (r *Runner) transition(ctx context.Context, log *logger.Logger, sagaID uuid.UUID, from, to, reason string) {
	if _, err := r.agg.TransitionStatus(ctx, domainagg.TransitionSagaStatusInput{
		SagaID:       sagaID,
		FromStatus:   from,
		ToStatus:     to,
		Reason:       reason,
		TransitionAt: r.now(),
	}); err != nil {
		log.Error("saga transition failed", "from", from, "to", to, "error", err)
	}
}
