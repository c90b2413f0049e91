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
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

type SubscriptionAggregateDeps struct {
	Base BaseDeps

	Subscriptions repos.SubscriptionRepo
	Notifications repos.NotificationRepo
}

type subscriptionAggregate struct {
	deps SubscriptionAggregateDeps
}

func NewSubscriptionAggregate(deps SubscriptionAggregateDeps) domainagg.SubscriptionAggregate {
	deps.Base = deps.Base.withDefaults()
	return &subscriptionAggregate{deps: deps}
}

func (a *subscriptionAggregate) Contract() domainagg.Contract {
	return domainagg.SubscriptionAggregateContract
}

func (a *subscriptionAggregate) ApplyUpgrade(ctx context.Context, in domainagg.ApplyUpgradeInput) (domainagg.ApplyUpgradeResult, error) {
	const op = "Billing.Subscription.ApplyUpgrade"
	var out domainagg.ApplyUpgradeResult

	toTier := strings.TrimSpace(in.ToTier)
	code := strings.TrimSpace(in.SubscriptionCode)
	if in.OrganizationID == uuid.Nil || toTier == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing organization_id or tier", nil)
	}
	if code == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing provider subscription code", nil)
	}
	if a.deps.Subscriptions == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "subscription repo not configured", nil)
	}
	at := in.At.UTC()
	if in.At.IsZero() {
		at = time.Now().UTC()
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		sub, err := a.deps.Subscriptions.LockByOrganizationID(dbc, in.OrganizationID)
		if err != nil {
			return err
		}
		if sub == nil {
			row := &types.OrganizationSubscription{
				ID:                       uuid.New(),
				OrganizationID:           in.OrganizationID,
				Tier:                     toTier,
				PaystackSubscriptionCode: &code,
				PaystackCustomerCode:     optionalString(in.CustomerCode),
				Status:                   billing.SubscriptionActive,
				StartDate:                at,
				CurrentPeriodStart:       at,
				CurrentPeriodEnd:         in.NextPaymentDate,
				NextPaymentDate:          in.NextPaymentDate,
				UpdatedBy:                in.UpdatedBy,
			}
			if _, err := a.deps.Subscriptions.Create(dbc, []*types.OrganizationSubscription{row}); err != nil {
				return err
			}
			out = domainagg.ApplyUpgradeResult{SubscriptionID: row.ID, ToTier: toTier, Created: true}
			return nil
		}

		updates := map[string]interface{}{
			"tier":                       toTier,
			"paystack_subscription_code": code,
			"status":                     billing.SubscriptionActive,
			"cancel_at_period_end":       false,
			"current_period_start":       at,
			"next_tier":                  nil,
			"next_plan_code":             nil,
			"downgrade_requested_at":     nil,
			"downgrade_effective_at":     nil,
			"downgrade_requested_by":     nil,
			"updated_by":                 in.UpdatedBy,
			"updated_at":                 at,
		}
		if c := optionalString(in.CustomerCode); c != nil {
			updates["paystack_customer_code"] = *c
		}
		if in.NextPaymentDate != nil {
			updates["next_payment_date"] = in.NextPaymentDate.UTC()
			updates["current_period_end"] = in.NextPaymentDate.UTC()
		}
		if err := a.deps.Subscriptions.UpdateFields(dbc, sub.ID, updates); err != nil {
			return err
		}
		out = domainagg.ApplyUpgradeResult{SubscriptionID: sub.ID, FromTier: sub.Tier, ToTier: toTier}
		return nil
	})
	if err != nil {
		return domainagg.ApplyUpgradeResult{}, err
	}
	return out, nil
}

func (a *subscriptionAggregate) StageDowngrade(ctx context.Context, in domainagg.StageDowngradeInput) (domainagg.StageDowngradeResult, error) {
	const op = "Billing.Subscription.StageDowngrade"
	var out domainagg.StageDowngradeResult

	target := strings.TrimSpace(in.TargetTier)
	if in.OrganizationID == uuid.Nil || target == "" || in.RequestedBy == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing organization_id, target tier or requested_by", nil)
	}
	if in.EffectiveAt.IsZero() {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing effective date", nil)
	}
	if a.deps.Subscriptions == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "subscription repo not configured", nil)
	}
	requestedAt := in.RequestedAt.UTC()
	if in.RequestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}
	effectiveAt := in.EffectiveAt.UTC()

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		sub, err := a.deps.Subscriptions.LockByOrganizationID(dbc, in.OrganizationID)
		if err != nil {
			return err
		}
		if sub == nil {
			return NotFoundError(fmt.Sprintf("organization %s has no subscription", in.OrganizationID))
		}
		out.CurrentTier = sub.Tier
		out.TargetTier = target
		if sub.Tier == target {
			return ValidationError("organization is already on tier " + target)
		}
		if sub.Status == billing.SubscriptionNonRenewing && sub.NextTier != nil && *sub.NextTier == target && target != in.FreeTier {
			out.AlreadyStaged = true
			out.EffectiveAt = effectiveAt
			if sub.DowngradeEffectiveAt != nil {
				out.EffectiveAt = sub.DowngradeEffectiveAt.UTC()
			}
			return nil
		}

		requestedBy := in.RequestedBy
		if err := a.deps.Subscriptions.UpdateFields(dbc, sub.ID, map[string]interface{}{
			"next_tier":              target,
			"next_plan_code":         in.NextPlanCode,
			"downgrade_requested_at": requestedAt,
			"downgrade_requested_by": requestedBy,
			"downgrade_effective_at": effectiveAt,
			"cancel_at_period_end":   true,
			"status":                 billing.SubscriptionNonRenewing,
			"updated_by":             requestedBy,
			"updated_at":             requestedAt,
		}); err != nil {
			return err
		}
		out.EffectiveAt = effectiveAt
		return nil
	})
	if err != nil {
		return domainagg.StageDowngradeResult{}, err
	}
	return out, nil
}

func (a *subscriptionAggregate) InsertOrgNotification(ctx context.Context, in domainagg.OrgNotificationInput) (domainagg.OrgNotificationResult, error) {
	const op = "Billing.Subscription.InsertOrgNotification"
	var out domainagg.OrgNotificationResult

	typeKey := strings.TrimSpace(in.TypeKey)
	if in.OrganizationID == uuid.Nil || typeKey == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing organization_id or type_key", nil)
	}
	metadata := normalizeSagaPayload(in.Metadata)
	if !json.Valid(metadata) {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "metadata must be valid JSON", nil)
	}
	if a.deps.Notifications == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "notification repo not configured", nil)
	}
	dedupe := optionalString(in.DedupeKey)

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		if dedupe != nil {
			existing, err := a.deps.Notifications.GetByDedupeKey(dbc, *dedupe)
			if err != nil {
				return err
			}
			if existing != nil {
				out = domainagg.OrgNotificationResult{NotificationID: existing.ID, Duplicate: true}
				return nil
			}
		}
		row := &types.OrgNotification{
			ID:             uuid.New(),
			OrganizationID: in.OrganizationID,
			TypeKey:        typeKey,
			Metadata:       datatypes.JSON(metadata),
			PerformedBy:    in.PerformedBy,
			DedupeKey:      dedupe,
		}
		if _, err := a.deps.Notifications.Create(dbc, []*types.OrgNotification{row}); err != nil {
			return err
		}
		out = domainagg.OrgNotificationResult{NotificationID: row.ID}
		return nil
	})
	if err != nil {
		if dedupe != nil && domainagg.IsCode(err, domainagg.CodeConflict) {
			if existing, readErr := a.deps.Notifications.GetByDedupeKey(dbctx.Context{Ctx: ctx}, *dedupe); readErr == nil && existing != nil {
				return domainagg.OrgNotificationResult{NotificationID: existing.ID, Duplicate: true}, nil
			}
		}
		return domainagg.OrgNotificationResult{}, err
	}
	return out, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
