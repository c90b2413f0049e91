package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/paystackevent"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/saga"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/apierr"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/platform/paystack"
	"github.com/gonasi/gonasi-backend/internal/platform/redislock"
)

const (
	SagaKindSubscriptionUpgrade = "subscription_upgrade"

	StepDisableOldSubscription  = "disable_old_subscription"
	StepCreateSubscription      = "create_subscription"
	StepUpdateLocalSubscription = "update_local_subscription"
	CompDisableNewSubscription  = "disable_new_subscription"
	CompRefundPayment           = "refund_payment"

	subscriptionLockTTL = 2 * time.Minute
)

type SubscriptionConfig struct {
	FreeTier string
}

type RevenueBreakdown struct {
	Amount      decimal.Decimal `json:"amount"`
	ProviderFee decimal.Decimal `json:"provider_fee"`
	Net         decimal.Decimal `json:"net"`
	Currency    string          `json:"currency"`
}

type UpgradeResult struct {
	OrganizationID   uuid.UUID        `json:"organization_id"`
	FromTier         string           `json:"from_tier"`
	ToTier           string           `json:"to_tier"`
	SubscriptionCode string           `json:"subscription_code,omitempty"`
	NextPaymentDate  *time.Time       `json:"next_payment_date,omitempty"`
	Revenue          RevenueBreakdown `json:"revenue"`
	LedgerDeferred   bool             `json:"ledger_deferred,omitempty"`
	// AlreadyProcessed is set when a previous delivery of the same payment
	// already finished the upgrade saga.
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	SagaStatus       string `json:"saga_status,omitempty"`
}

// UpgradeError is returned when the upgrade saga aborted. The payment refund
// outcome is carried so the caller can report it.
type UpgradeError struct {
	Step         string
	Err          error
	RefundStatus string
	Refund       RefundOutcome
}

func (e *UpgradeError) Error() string {
	return fmt.Sprintf("subscription upgrade failed at %s: %v", e.Step, e.Err)
}

func (e *UpgradeError) Unwrap() error { return e.Err }

func (e *UpgradeError) HTTPStatus() int { return http.StatusInternalServerError }

type DowngradeRequest struct {
	OrganizationID uuid.UUID
	TargetTier     string
	RequestedBy    uuid.UUID
}

type DowngradeResult struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	CurrentTier    string    `json:"current_tier"`
	TargetTier     string    `json:"target_tier"`
	EffectiveAt    time.Time `json:"effective_date"`
	AlreadyStaged  bool      `json:"already_staged"`
	Message        string    `json:"message"`
}

type SubscriptionService interface {
	Upgrade(ctx context.Context, up paystackevent.SubscriptionUpgrade) (*UpgradeResult, error)
	Downgrade(ctx context.Context, req DowngradeRequest) (*DowngradeResult, error)
}

type sagaRunner interface {
	Run(ctx context.Context, def saga.Definition, reference string, organizationID uuid.UUID) (saga.Outcome, error)
}

type subscriptionService struct {
	log        *logger.Logger
	subs       repos.SubscriptionRepo
	tierLimits repos.TierLimitsRepo
	payments   domainagg.PaymentAggregate
	subAgg     domainagg.SubscriptionAggregate
	provider   paystack.Client
	sagas      sagaRunner
	refunds    RefundService
	side       SideEffects
	locks      redislock.Locker
	metrics    *observability.Metrics
	cfg        SubscriptionConfig
	now        func() time.Time
}

type SubscriptionServiceDeps struct {
	Subscriptions repos.SubscriptionRepo
	TierLimits    repos.TierLimitsRepo
	Payments      domainagg.PaymentAggregate
	SubAgg        domainagg.SubscriptionAggregate
	Provider      paystack.Client
	Sagas         sagaRunner
	Refunds       RefundService
	SideEffects   SideEffects
	Locks         redislock.Locker
	Metrics       *observability.Metrics
}

func NewSubscriptionService(baseLog *logger.Logger, deps SubscriptionServiceDeps, cfg SubscriptionConfig) SubscriptionService {
	if strings.TrimSpace(cfg.FreeTier) == "" {
		cfg.FreeTier = "launch"
	}
	locks := deps.Locks
	if locks == nil {
		locks = redislock.NewLocalLocker()
	}
	return &subscriptionService{
		log:        baseLog.With("service", "SubscriptionService"),
		subs:       deps.Subscriptions,
		tierLimits: deps.TierLimits,
		payments:   deps.Payments,
		subAgg:     deps.SubAgg,
		provider:   deps.Provider,
		sagas:      deps.Sagas,
		refunds:    deps.Refunds,
		side:       deps.SideEffects,
		locks:      locks,
		metrics:    deps.Metrics,
		cfg:        cfg,
		now:        time.Now,
	}
}

func (s *subscriptionService) Upgrade(ctx context.Context, up paystackevent.SubscriptionUpgrade) (*UpgradeResult, error) {
	log := s.log.With("organization_id", up.OrganizationID, "reference", up.Reference, "from_tier", up.CurrentTier, "to_tier", up.TargetTier)
	if up.OrganizationID == uuid.Nil || strings.TrimSpace(up.TargetTier) == "" || strings.TrimSpace(up.Reference) == "" {
		return nil, apierr.BadRequest("invalid_metadata", "organization, target tier and reference are required")
	}

	release, err := s.locks.TryAcquire(ctx, redislock.SubscriptionKey(up.OrganizationID), subscriptionLockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrLockHeld) {
			return nil, apierr.Conflict("subscription_change_in_progress", "another subscription change is in progress")
		}
		return nil, apierr.Internal("subscription_lock_failed", err)
	}
	defer release()

	result := &UpgradeResult{
		OrganizationID: up.OrganizationID,
		FromTier:       up.CurrentTier,
		ToTier:         up.TargetTier,
		Revenue: RevenueBreakdown{
			Amount:      up.Amount,
			ProviderFee: up.Fee,
			Net:         up.Amount.Sub(up.Fee),
			Currency:    up.Currency,
		},
	}

	// The charge already happened, so a ledger failure must not stop the upgrade.
	payment := domainagg.SubscriptionPaymentInput{
		PaymentReference: up.Reference,
		OrganizationID:   up.OrganizationID,
		FromTier:         up.CurrentTier,
		ToTier:           up.TargetTier,
		Amount:           up.Amount,
		ProviderFee:      up.Fee,
		CurrencyCode:     up.Currency,
		Metadata:         upgradeMetadata(up),
	}
	if _, err := s.payments.ProcessSubscriptionUpgradePayment(ctx, payment); err != nil {
		log.Warn("upgrade ledger write failed, deferring", "error", err)
		s.side.Defer(ctx, jobs.OutboxKindLedgerEntry, "ledger:subscription_payment:"+up.Reference, payment, err)
		result.LedgerDeferred = true
	}

	planCode, err := s.planCode(ctx, up)
	if err != nil {
		return nil, err
	}

	current, err := s.subs.GetByOrganizationID(dbctx.Context{Ctx: ctx}, up.OrganizationID)
	if err != nil {
		return nil, apierr.Internal("subscription_lookup_failed", err)
	}

	run := &upgradeRun{svc: s, up: up, planCode: planCode, current: current}
	outcome, err := s.sagas.Run(ctx, run.definition(), up.Reference, up.OrganizationID)
	if err != nil {
		if errors.Is(err, saga.ErrInFlight) {
			return nil, apierr.Conflict("upgrade_in_progress", "this payment is already being processed")
		}
		return nil, apierr.Internal("upgrade_saga_failed", err)
	}
	s.metrics.IncSaga(SagaKindSubscriptionUpgrade, outcome.Status)
	result.SagaStatus = outcome.Status

	if outcome.Resumed {
		result.AlreadyProcessed = true
		if !outcome.Succeeded() {
			log.Warn("upgrade replay of an aborted saga", "saga_status", outcome.Status)
			result.ToTier = up.CurrentTier
			return result, nil
		}
		log.Info("upgrade already processed", "saga_status", outcome.Status)
		return result, nil
	}
	if !outcome.Succeeded() {
		refund := run.refund
		status := "failed"
		if refund.Success || refund.RetryQueued {
			status = refund.Status
		}
		log.Error("subscription upgrade aborted", "step", outcome.FailedStep, "error", outcome.StepErr, "refund_status", status, "refund_error", refund.Error)
		s.notify(ctx, domainagg.OrgNotificationInput{
			OrganizationID: up.OrganizationID,
			TypeKey:        billing.NotificationSubscriptionRefundIssue,
			Metadata: mustJSON(map[string]interface{}{
				"target_tier":   up.TargetTier,
				"reference":     up.Reference,
				"refund_status": status,
				"failed_step":   outcome.FailedStep,
			}),
			PerformedBy: up.InitiatedBy,
			DedupeKey:   "refund:" + up.Reference,
		})
		return nil, &UpgradeError{Step: outcome.FailedStep, Err: outcome.StepErr, RefundStatus: status, Refund: refund}
	}

	if run.created != nil {
		result.SubscriptionCode = run.created.SubscriptionCode
		result.NextPaymentDate = run.created.NextPaymentDate
	}
	if run.applied.FromTier != "" {
		result.FromTier = run.applied.FromTier
	}
	s.notify(ctx, domainagg.OrgNotificationInput{
		OrganizationID: up.OrganizationID,
		TypeKey:        billing.NotificationSubscriptionUpgraded,
		Metadata: mustJSON(map[string]interface{}{
			"from_tier": result.FromTier,
			"to_tier":   result.ToTier,
			"amount":    result.Revenue.Amount.String(),
			"currency":  result.Revenue.Currency,
			"reference": up.Reference,
		}),
		PerformedBy: up.InitiatedBy,
		DedupeKey:   "upgrade:" + up.Reference,
	})
	log.Info("subscription upgraded", "subscription_code", result.SubscriptionCode)
	return result, nil
}

func (s *subscriptionService) planCode(ctx context.Context, up paystackevent.SubscriptionUpgrade) (string, error) {
	limits, err := s.tierLimits.GetByTier(dbctx.Context{Ctx: ctx}, up.TargetTier)
	if err != nil {
		return "", apierr.Internal("tier_lookup_failed", err)
	}
	if limits != nil && limits.PaystackPlanCode != nil && strings.TrimSpace(*limits.PaystackPlanCode) != "" {
		return strings.TrimSpace(*limits.PaystackPlanCode), nil
	}
	if code := strings.TrimSpace(up.NewPlanCode); code != "" {
		return code, nil
	}
	return "", apierr.BadRequest("missing_plan_code", "no provider plan configured for tier "+up.TargetTier)
}

func (s *subscriptionService) notify(ctx context.Context, in domainagg.OrgNotificationInput) {
	if _, err := s.subAgg.InsertOrgNotification(ctx, in); err != nil {
		s.log.Warn("notification insert failed, deferring", "type", in.TypeKey, "organization_id", in.OrganizationID, "error", err)
		s.side.Defer(ctx, jobs.OutboxKindOrgNotification, "notification:"+in.DedupeKey, in, err)
	}
}

// upgradeRun holds the state shared by the steps of one upgrade saga.
type upgradeRun struct {
	svc      *subscriptionService
	up       paystackevent.SubscriptionUpgrade
	planCode string
	current  *types.OrganizationSubscription

	previous     *paystack.Subscription
	created      *paystack.Subscription
	applied      domainagg.ApplyUpgradeResult
	refundReason string
	refund       RefundOutcome
}

func (r *upgradeRun) definition() saga.Definition {
	return saga.Definition{
		Kind: SagaKindSubscriptionUpgrade,
		Steps: []saga.Step{
			{
				Name:    StepDisableOldSubscription,
				Payload: map[string]interface{}{"subscription_code": r.currentCode()},
				Run:     r.disableOld,
			},
			{
				Name:    StepCreateSubscription,
				Payload: map[string]interface{}{"plan": r.planCode, "tier": r.up.TargetTier},
				Run:     r.createNew,
				Compensate: &saga.Compensation{
					Name: CompDisableNewSubscription,
					Run:  r.disableNew,
				},
			},
			{
				Name:    StepUpdateLocalSubscription,
				Payload: map[string]interface{}{"tier": r.up.TargetTier},
				Run:     r.updateLocal,
			},
		},
		OnAbort: []saga.Compensation{{
			Name:    CompRefundPayment,
			Payload: map[string]interface{}{"reference": r.up.Reference},
			Run:     r.refundPayment,
		}},
	}
}

func (r *upgradeRun) currentCode() string {
	if r.current == nil || r.current.PaystackSubscriptionCode == nil {
		return ""
	}
	return strings.TrimSpace(*r.current.PaystackSubscriptionCode)
}

func (r *upgradeRun) disableOld(ctx context.Context) (any, error) {
	r.refundReason = RefundReasonSubscriptionCreationFailed
	code := r.currentCode()
	if code == "" {
		return map[string]interface{}{"skipped": "no_current_subscription"}, nil
	}
	sub, err := r.svc.provider.FetchSubscription(ctx, code)
	if err != nil {
		if errors.Is(err, paystack.ErrNotFound) {
			return map[string]interface{}{"skipped": "not_found_at_provider"}, nil
		}
		return nil, fmt.Errorf("fetch current subscription: %w", err)
	}
	r.previous = sub
	if !sub.IsActive() {
		return map[string]interface{}{"skipped": "already_" + sub.Status}, nil
	}
	if err := r.svc.provider.DisableSubscription(ctx, paystack.DisableSubscriptionRequest{Code: sub.SubscriptionCode, Token: sub.EmailToken}); err != nil {
		return nil, fmt.Errorf("disable current subscription: %w", err)
	}
	return map[string]interface{}{"disabled": sub.SubscriptionCode}, nil
}

func (r *upgradeRun) createNew(ctx context.Context) (any, error) {
	r.refundReason = RefundReasonSubscriptionCreationFailed
	customer := r.customerCode()
	if customer == "" {
		return nil, errors.New("no provider customer to subscribe")
	}
	authorization := r.up.AuthorizationCode
	if authorization == "" && r.previous != nil && r.previous.Authorization.Reusable {
		authorization = r.previous.Authorization.AuthorizationCode
	}
	sub, err := r.svc.provider.CreateSubscription(ctx, paystack.CreateSubscriptionRequest{
		Customer:      customer,
		Plan:          r.planCode,
		Authorization: authorization,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	r.created = sub
	return map[string]interface{}{"subscription_code": sub.SubscriptionCode}, nil
}

func (r *upgradeRun) customerCode() string {
	switch {
	case strings.TrimSpace(r.up.CustomerCode) != "":
		return strings.TrimSpace(r.up.CustomerCode)
	case r.previous != nil && r.previous.Customer.CustomerCode != "":
		return r.previous.Customer.CustomerCode
	case r.current != nil && r.current.PaystackCustomerCode != nil:
		return strings.TrimSpace(*r.current.PaystackCustomerCode)
	}
	return strings.TrimSpace(r.up.OrganizationEmail)
}

func (r *upgradeRun) disableNew(ctx context.Context) (any, error) {
	if r.created == nil {
		return nil, nil
	}
	if err := r.svc.provider.DisableSubscription(ctx, paystack.DisableSubscriptionRequest{Code: r.created.SubscriptionCode, Token: r.created.EmailToken}); err != nil {
		return nil, fmt.Errorf("disable new subscription: %w", err)
	}
	return map[string]interface{}{"disabled": r.created.SubscriptionCode}, nil
}

func (r *upgradeRun) updateLocal(ctx context.Context) (any, error) {
	r.refundReason = RefundReasonTierUpdateFailed
	if r.created == nil {
		return nil, errors.New("no provider subscription to record")
	}
	customer := r.created.Customer.CustomerCode
	if customer == "" {
		customer = r.customerCode()
	}
	res, err := r.svc.subAgg.ApplyUpgrade(ctx, domainagg.ApplyUpgradeInput{
		OrganizationID:   r.up.OrganizationID,
		ToTier:           r.up.TargetTier,
		SubscriptionCode: r.created.SubscriptionCode,
		CustomerCode:     customer,
		NextPaymentDate:  r.created.NextPaymentDate,
		UpdatedBy:        r.up.InitiatedBy,
		At:               r.svc.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	r.applied = res
	return map[string]interface{}{"subscription_id": res.SubscriptionID, "from_tier": res.FromTier}, nil
}

func (r *upgradeRun) refundPayment(ctx context.Context) (any, error) {
	reason := r.refundReason
	if reason == "" {
		reason = RefundReasonSubscriptionCreationFailed
	}
	req := RefundRequest{
		PaymentReference: r.up.Reference,
		OrganizationID:   r.up.OrganizationID,
		Reason:           reason,
	}
	r.refund = r.svc.refunds.RefundSubscriptionPayment(ctx, req)
	if !r.refund.Success {
		// The customer was charged; keep a refund in flight until it lands.
		cause := errors.New(r.refund.Error)
		r.svc.side.Defer(ctx, jobs.OutboxKindRefundRetry, "refund_retry:"+r.up.Reference, req, cause)
		r.refund.RetryQueued = true
		r.refund.Status = RefundStatusRetryQueued
		return nil, cause
	}
	return r.refund, nil
}

func upgradeMetadata(up paystackevent.SubscriptionUpgrade) json.RawMessage {
	m := map[string]interface{}{
		"transaction_id":     up.TransactionID,
		"organization_email": up.OrganizationEmail,
		"customer_code":      up.CustomerCode,
	}
	if up.InitiatedBy != nil {
		m["initiated_by"] = up.InitiatedBy.String()
	}
	return mustJSON(m)
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func (s *subscriptionService) Downgrade(ctx context.Context, req DowngradeRequest) (*DowngradeResult, error) {
	target := strings.ToLower(strings.TrimSpace(req.TargetTier))
	switch {
	case req.OrganizationID == uuid.Nil:
		return nil, apierr.BadRequest("missing_organization", "organization id is required")
	case target == "":
		return nil, apierr.BadRequest("missing_target_tier", "target tier is required")
	case req.RequestedBy == uuid.Nil:
		return nil, apierr.BadRequest("missing_user", "requesting user is required")
	}
	log := s.log.With("organization_id", req.OrganizationID, "target_tier", target, "user_id", req.RequestedBy)

	release, err := s.locks.TryAcquire(ctx, redislock.SubscriptionKey(req.OrganizationID), subscriptionLockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrLockHeld) {
			return nil, apierr.Conflict("subscription_change_in_progress", "another subscription change is in progress")
		}
		return nil, apierr.Internal("subscription_lock_failed", err)
	}
	defer release()

	current, err := s.subs.GetByOrganizationID(dbctx.Context{Ctx: ctx}, req.OrganizationID)
	if err != nil {
		return nil, apierr.Internal("subscription_lookup_failed", err)
	}
	if current == nil {
		return nil, apierr.New(http.StatusNotFound, "subscription_not_found", errors.New("organization has no subscription"))
	}
	if current.Tier == target {
		return nil, apierr.BadRequest("same_tier", "organization is already on tier "+target)
	}
	targetLimits, err := s.checkDowngradeRank(ctx, current.Tier, target)
	if err != nil {
		return nil, err
	}
	if target != s.cfg.FreeTier && current.Status == billing.SubscriptionNonRenewing &&
		current.NextTier != nil && *current.NextTier == target {
		effective := s.now().UTC()
		if current.DowngradeEffectiveAt != nil {
			effective = *current.DowngradeEffectiveAt
		}
		log.Info("downgrade already staged")
		return &DowngradeResult{
			OrganizationID: req.OrganizationID,
			CurrentTier:    current.Tier,
			TargetTier:     target,
			EffectiveAt:    effective,
			AlreadyStaged:  true,
			Message:        downgradeMessage(target, effective),
		}, nil
	}

	var nextPlanCode *string
	if target != s.cfg.FreeTier {
		nextPlanCode = targetLimits.PaystackPlanCode
	}

	effective := s.effectiveDate(ctx, log, current, target)
	staged, err := s.subAgg.StageDowngrade(ctx, domainagg.StageDowngradeInput{
		OrganizationID: req.OrganizationID,
		TargetTier:     target,
		NextPlanCode:   nextPlanCode,
		RequestedBy:    req.RequestedBy,
		RequestedAt:    s.now().UTC(),
		EffectiveAt:    effective,
		FreeTier:       s.cfg.FreeTier,
	})
	if err != nil {
		log.Error("stage downgrade failed", "error", err)
		return nil, aggregateAPIError("downgrade_failed", err)
	}

	if !staged.AlreadyStaged {
		requestedBy := req.RequestedBy
		s.notify(ctx, domainagg.OrgNotificationInput{
			OrganizationID: req.OrganizationID,
			TypeKey:        billing.NotificationSubscriptionDowngrade,
			Metadata: mustJSON(map[string]interface{}{
				"current_tier":   staged.CurrentTier,
				"target_tier":    staged.TargetTier,
				"effective_date": staged.EffectiveAt.Format(time.RFC3339),
			}),
			PerformedBy: &requestedBy,
			DedupeKey:   fmt.Sprintf("downgrade:%s:%s:%d", req.OrganizationID, target, staged.EffectiveAt.Unix()),
		})
	}
	log.Info("downgrade staged", "effective_at", staged.EffectiveAt, "already_staged", staged.AlreadyStaged)
	return &DowngradeResult{
		OrganizationID: req.OrganizationID,
		CurrentTier:    staged.CurrentTier,
		TargetTier:     staged.TargetTier,
		EffectiveAt:    staged.EffectiveAt,
		AlreadyStaged:  staged.AlreadyStaged,
		Message:        downgradeMessage(target, staged.EffectiveAt),
	}, nil
}

// effectiveDate never consults the provider for the free tier.
// checkDowngradeRank rejects targets priced at or above the current tier.
// The free tier ranks below every paid tier even without a tier_limits row.
func (s *subscriptionService) checkDowngradeRank(ctx context.Context, currentTier, target string) (*billing.TierLimits, error) {
	dbc := dbctx.Context{Ctx: ctx}
	targetLimits, err := s.tierLimits.GetByTier(dbc, target)
	if err != nil {
		return nil, apierr.Internal("tier_lookup_failed", err)
	}
	if targetLimits == nil {
		if target != s.cfg.FreeTier {
			return nil, apierr.BadRequest("unknown_tier", "unknown tier "+target)
		}
		targetLimits = &billing.TierLimits{Tier: target}
	}
	if target == s.cfg.FreeTier {
		return targetLimits, nil
	}
	if currentTier == s.cfg.FreeTier {
		return nil, apierr.BadRequest("not_a_downgrade", fmt.Sprintf("tier %s is not below %s; upgrade instead", target, currentTier))
	}
	currentLimits, err := s.tierLimits.GetByTier(dbc, currentTier)
	if err != nil {
		return nil, apierr.Internal("tier_lookup_failed", err)
	}
	if currentLimits == nil {
		return nil, apierr.Internal("tier_lookup_failed", fmt.Errorf("no tier_limits row for current tier %s", currentTier))
	}
	if !targetLimits.PriceMonthly.LessThan(currentLimits.PriceMonthly) {
		return nil, apierr.BadRequest("not_a_downgrade", fmt.Sprintf("tier %s is not below %s; upgrade instead", target, currentTier))
	}
	return targetLimits, nil
}

func (s *subscriptionService) effectiveDate(ctx context.Context, log *logger.Logger, current *types.OrganizationSubscription, target string) time.Time {
	fallback := s.now().UTC()
	if current.CurrentPeriodEnd != nil {
		fallback = current.CurrentPeriodEnd.UTC()
	}
	if target == s.cfg.FreeTier {
		return fallback
	}
	if current.PaystackSubscriptionCode == nil || strings.TrimSpace(*current.PaystackSubscriptionCode) == "" || s.provider == nil {
		return fallback
	}
	sub, err := s.provider.FetchSubscription(ctx, strings.TrimSpace(*current.PaystackSubscriptionCode))
	if err != nil {
		log.Warn("provider subscription fetch failed, using period end", "error", err)
		return fallback
	}
	if sub.NextPaymentDate != nil {
		return sub.NextPaymentDate.UTC()
	}
	return fallback
}

func downgradeMessage(tier string, at time.Time) string {
	return fmt.Sprintf("Your plan will change to %s on %s.", tier, at.Format("January 2, 2006"))
}
