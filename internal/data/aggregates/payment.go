package aggregates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	"github.com/gonasi/gonasi-backend/internal/domain/courses"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

const defaultFreeTier = "launch"

var hundred = decimal.NewFromInt(100)

type PaymentAggregateDeps struct {
	Base BaseDeps

	Published      repos.PublishedCourseRepo
	Enrollments    repos.EnrollmentRepo
	CoursePayments repos.CoursePaymentRepo
	Ledger         repos.LedgerRepo
	Subscriptions  repos.SubscriptionRepo
	TierLimits     repos.TierLimitsRepo

	// FreeTier is assumed for organizations without a subscription row.
	FreeTier string
}

type paymentAggregate struct {
	deps PaymentAggregateDeps
}

func NewPaymentAggregate(deps PaymentAggregateDeps) domainagg.PaymentAggregate {
	deps.Base = deps.Base.withDefaults()
	if strings.TrimSpace(deps.FreeTier) == "" {
		deps.FreeTier = defaultFreeTier
	}
	return &paymentAggregate{deps: deps}
}

// currentVersion resolves a published row id to the course's current published
// version, so a checkout started against an older version still settles.
func (a *paymentAggregate) currentVersion(dbc dbctx.Context, publishedCourseID uuid.UUID) (*types.PublishedCourse, error) {
	row, err := a.deps.Published.GetByID(dbc, publishedCourseID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, NotFoundError(fmt.Sprintf("published course %s not found", publishedCourseID))
	}
	pc := row
	if !row.IsCurrentVersion {
		pc, err = a.deps.Published.GetCurrentByCourseID(dbc, row.CourseID)
		if err != nil {
			return nil, err
		}
	}
	if pc == nil || pc.Status != courses.PublishStatusPublished {
		return nil, NotFoundError(fmt.Sprintf("course %s is not published", row.CourseID))
	}
	return pc, nil
}

func (a *paymentAggregate) Contract() domainagg.Contract {
	return domainagg.PaymentAggregateContract
}

func (a *paymentAggregate) ProcessCoursePayment(ctx context.Context, in domainagg.ProcessCoursePaymentInput) (domainagg.ProcessCoursePaymentResult, error) {
	const op = "Billing.Payment.ProcessCoursePayment"
	var out domainagg.ProcessCoursePaymentResult

	reference := strings.TrimSpace(in.PaymentReference)
	switch {
	case reference == "":
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing payment_reference", nil)
	case in.UserID == uuid.Nil || in.PublishedCourseID == uuid.Nil || in.PricingTierID == uuid.Nil:
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing user, course or pricing tier id", nil)
	case !in.Amount.IsPositive():
		return out, domainagg.NewError(domainagg.CodeValidation, op, "amount must be positive", nil)
	case in.ProviderFee.IsNegative() || in.ProviderFee.GreaterThan(in.Amount):
		return out, domainagg.NewError(domainagg.CodeValidation, op, "provider fee must be between zero and amount", nil)
	}
	if a.deps.Published == nil || a.deps.Enrollments == nil || a.deps.CoursePayments == nil || a.deps.Ledger == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "payment aggregate repos not configured", nil)
	}
	paidAt := in.PaidAt.UTC()
	if in.PaidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		existing, err := a.deps.CoursePayments.GetByPaymentReference(dbc, reference)
		if err != nil {
			return err
		}
		if existing != nil {
			out = coursePaymentResult(existing, true)
			return nil
		}

		pc, err := a.currentVersion(dbc, in.PublishedCourseID)
		if err != nil {
			return err
		}
		tiers, err := courses.ParsePricingTiers(pc.PricingTiers)
		if err != nil {
			return InvariantError("published pricing tiers are unreadable: " + err.Error())
		}
		tier := courses.FindTier(tiers, in.PricingTierID.String())
		if tier == nil || !tier.IsActive {
			return ValidationError(fmt.Sprintf("pricing tier %s is not available on the published course", in.PricingTierID))
		}
		if tier.IsFree {
			return ValidationError("free pricing tiers cannot be purchased")
		}
		if in.CurrencyCode != "" && !strings.EqualFold(in.CurrencyCode, tier.CurrencyCode) {
			return ValidationError(fmt.Sprintf("currency %s does not match tier currency %s", in.CurrencyCode, tier.CurrencyCode))
		}

		feePct, err := a.platformFeePercentage(dbc, pc.OrganizationID)
		if err != nil {
			return err
		}
		settlement := in.Amount.Sub(in.ProviderFee)
		platformFee := in.Amount.Mul(feePct).Div(hundred).Round(2)
		orgPayout := settlement.Sub(platformFee)
		if orgPayout.IsNegative() {
			return InvariantError("fees exceed the amount paid")
		}

		years, months := courses.AccessPeriod(tier.PaymentFrequency)
		expiresAt := paidAt.AddDate(years, months, 0)
		enrollment := &types.Enrollment{
			ID:                uuid.New(),
			UserID:            in.UserID,
			PublishedCourseID: pc.ID,
			OrganizationID:    pc.OrganizationID,
			PricingTierID:     in.PricingTierID,
			PaymentReference:  reference,
			AmountPaid:        in.Amount,
			CurrencyCode:      tier.CurrencyCode,
			PaymentFrequency:  tier.PaymentFrequency,
			EnrolledAt:        paidAt,
			ExpiresAt:         &expiresAt,
			IsActive:          true,
		}
		if _, err := a.deps.Enrollments.Create(dbc, []*types.Enrollment{enrollment}); err != nil {
			return err
		}

		metadata, err := mergeMetadata(in.Metadata, map[string]interface{}{
			"transaction_id":          in.TransactionID,
			"payment_method":          in.PaymentMethod,
			"course_id":               pc.CourseID,
			"published_version":       pc.Version,
			"provider_fee":            in.ProviderFee.String(),
			"platform_fee_percentage": feePct.String(),
		})
		if err != nil {
			return ValidationError("metadata must be a JSON object: " + err.Error())
		}

		payment := &types.CoursePayment{
			ID:                    uuid.New(),
			PaymentReference:      reference,
			PaystackTransactionID: in.TransactionID,
			EnrollmentID:          enrollment.ID,
			UserID:                in.UserID,
			OrganizationID:        pc.OrganizationID,
			PublishedCourseID:     pc.ID,
			PricingTierID:         in.PricingTierID,
			CurrencyCode:          tier.CurrencyCode,
			PaymentMethod:         in.PaymentMethod,
			AmountPaid:            in.Amount,
			PaystackFee:           in.ProviderFee,
			PlatformFee:           platformFee,
			PlatformFeePercentage: feePct,
			OrgPayout:             orgPayout,
			Metadata:              metadata,
		}
		if _, err := a.deps.CoursePayments.Create(dbc, []*types.CoursePayment{payment}); err != nil {
			return err
		}

		orgID := pc.OrganizationID
		entries := []*types.WalletLedgerEntry{
			{
				SourceWalletType:      billing.WalletExternal,
				DestinationWalletType: billing.WalletOrganization,
				DestinationWalletID:   &orgID,
				CurrencyCode:          tier.CurrencyCode,
				Amount:                orgPayout,
				Direction:             billing.DirectionCredit,
				PaymentReference:      reference,
				Type:                  billing.LedgerTypeCourseSale,
				RelatedEntityType:     billing.RelatedEnrollment,
				RelatedEntityID:       enrollment.ID,
				Metadata:              metadata,
				Status:                billing.LedgerStatusCompleted,
			},
			{
				SourceWalletType:      billing.WalletExternal,
				DestinationWalletType: billing.WalletPlatform,
				CurrencyCode:          tier.CurrencyCode,
				Amount:                platformFee,
				Direction:             billing.DirectionCredit,
				PaymentReference:      reference,
				Type:                  billing.LedgerTypePlatformFee,
				RelatedEntityType:     billing.RelatedEnrollment,
				RelatedEntityID:       enrollment.ID,
				Metadata:              metadata,
				Status:                billing.LedgerStatusCompleted,
			},
		}
		if _, err := a.deps.Ledger.Create(dbc, entries); err != nil {
			return err
		}

		out = coursePaymentResult(payment, false)
		return nil
	})
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeConflict) {
			// A concurrent delivery of the same webhook won the insert race.
			if existing, readErr := a.deps.CoursePayments.GetByPaymentReference(dbctx.Context{Ctx: ctx}, reference); readErr == nil && existing != nil {
				return coursePaymentResult(existing, true), nil
			}
		}
		return domainagg.ProcessCoursePaymentResult{}, err
	}
	return out, nil
}

func (a *paymentAggregate) platformFeePercentage(dbc dbctx.Context, organizationID uuid.UUID) (decimal.Decimal, error) {
	tier := a.deps.FreeTier
	if a.deps.Subscriptions != nil {
		sub, err := a.deps.Subscriptions.GetByOrganizationID(dbc, organizationID)
		if err != nil {
			return decimal.Zero, err
		}
		if sub != nil && sub.Tier != "" {
			tier = sub.Tier
		}
	}
	if a.deps.TierLimits == nil {
		return decimal.Zero, nil
	}
	limits, err := a.deps.TierLimits.GetByTier(dbc, tier)
	if err != nil {
		return decimal.Zero, err
	}
	if limits == nil {
		return decimal.Zero, domainagg.NewError(domainagg.CodePreconditionFailed, "Billing.Payment.platformFee", "no tier_limits row for tier "+tier, nil)
	}
	return limits.PlatformFeePercentage, nil
}

func coursePaymentResult(p *types.CoursePayment, duplicate bool) domainagg.ProcessCoursePaymentResult {
	return domainagg.ProcessCoursePaymentResult{
		EnrollmentID:     p.EnrollmentID,
		CoursePaymentID:  p.ID,
		OrganizationID:   p.OrganizationID,
		PaymentReference: p.PaymentReference,
		AmountPaid:       p.AmountPaid,
		Settlement:       p.AmountPaid.Sub(p.PaystackFee),
		PlatformFee:      p.PlatformFee,
		OrgPayout:        p.OrgPayout,
		Duplicate:        duplicate,
	}
}

func (a *paymentAggregate) ProcessSubscriptionUpgradePayment(ctx context.Context, in domainagg.SubscriptionPaymentInput) (domainagg.SubscriptionPaymentResult, error) {
	const op = "Billing.Payment.ProcessSubscriptionUpgradePayment"
	var out domainagg.SubscriptionPaymentResult

	reference := strings.TrimSpace(in.PaymentReference)
	switch {
	case reference == "" || in.OrganizationID == uuid.Nil:
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing payment_reference or organization_id", nil)
	case strings.TrimSpace(in.ToTier) == "":
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing target tier", nil)
	case !in.Amount.IsPositive() || in.ProviderFee.IsNegative():
		return out, domainagg.NewError(domainagg.CodeValidation, op, "amount must be positive and fee non-negative", nil)
	}
	if a.deps.Ledger == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "ledger repo not configured", nil)
	}
	key := repos.LedgerQuery{PaymentReference: reference, Type: billing.LedgerTypeSubscriptionPayment, RelatedEntityID: in.OrganizationID}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		existing, err := a.deps.Ledger.FindOne(dbc, key)
		if err != nil {
			return err
		}
		if existing != nil {
			out = domainagg.SubscriptionPaymentResult{LedgerEntryID: existing.ID, Duplicate: true}
			return nil
		}
		metadata, err := mergeMetadata(in.Metadata, map[string]interface{}{
			"from_tier":    in.FromTier,
			"to_tier":      in.ToTier,
			"provider_fee": in.ProviderFee.String(),
			"settlement":   in.Amount.Sub(in.ProviderFee).String(),
		})
		if err != nil {
			return ValidationError("metadata must be a JSON object: " + err.Error())
		}
		entry := &types.WalletLedgerEntry{
			SourceWalletType:      billing.WalletExternal,
			DestinationWalletType: billing.WalletPlatform,
			CurrencyCode:          strings.ToUpper(strings.TrimSpace(in.CurrencyCode)),
			Amount:                in.Amount,
			Direction:             billing.DirectionCredit,
			PaymentReference:      reference,
			Type:                  billing.LedgerTypeSubscriptionPayment,
			RelatedEntityType:     billing.RelatedOrganization,
			RelatedEntityID:       in.OrganizationID,
			Metadata:              metadata,
			Status:                billing.LedgerStatusCompleted,
		}
		if _, err := a.deps.Ledger.Create(dbc, []*types.WalletLedgerEntry{entry}); err != nil {
			return err
		}
		out = domainagg.SubscriptionPaymentResult{LedgerEntryID: entry.ID}
		return nil
	})
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeConflict) {
			if existing, readErr := a.deps.Ledger.FindOne(dbctx.Context{Ctx: ctx}, key); readErr == nil && existing != nil {
				return domainagg.SubscriptionPaymentResult{LedgerEntryID: existing.ID, Duplicate: true}, nil
			}
		}
		return domainagg.SubscriptionPaymentResult{}, err
	}
	return out, nil
}

var refundReasons = map[string]bool{
	"subscription_creation_failed": true,
	"tier_update_failed":           true,
	"manual_refund":                true,
}

func (a *paymentAggregate) RecordRefund(ctx context.Context, in domainagg.RecordRefundInput) (domainagg.RecordRefundResult, error) {
	const op = "Billing.Payment.RecordRefund"
	var out domainagg.RecordRefundResult

	if in.OriginalEntryID == uuid.Nil || strings.TrimSpace(in.ProviderRefundID) == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing original entry or provider refund id", nil)
	}
	if !refundReasons[in.Reason] {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "unknown refund reason "+in.Reason, nil)
	}
	if a.deps.Ledger == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "ledger repo not configured", nil)
	}

	var key repos.LedgerQuery
	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		original, err := a.deps.Ledger.GetByID(dbc, in.OriginalEntryID)
		if err != nil {
			return err
		}
		if original == nil {
			return NotFoundError(fmt.Sprintf("ledger entry %s not found", in.OriginalEntryID))
		}
		if original.Type == billing.LedgerTypeRefund {
			return InvariantError("a refund entry cannot be refunded")
		}
		key = repos.LedgerQuery{PaymentReference: original.PaymentReference, Type: billing.LedgerTypeRefund, RelatedEntityID: original.ID}
		existing, err := a.deps.Ledger.FindOne(dbc, key)
		if err != nil {
			return err
		}
		if existing != nil {
			out = domainagg.RecordRefundResult{RefundEntryID: existing.ID, Amount: existing.Amount, Duplicate: true}
			return nil
		}

		metadata, err := mergeMetadata(in.Metadata, map[string]interface{}{
			"provider_refund_id": in.ProviderRefundID,
			"reason":             in.Reason,
			"original_entry_id":  original.ID,
		})
		if err != nil {
			return ValidationError("metadata must be a JSON object: " + err.Error())
		}
		entry := &types.WalletLedgerEntry{
			SourceWalletType:      original.DestinationWalletType,
			SourceWalletID:        original.DestinationWalletID,
			DestinationWalletType: billing.WalletExternal,
			CurrencyCode:          original.CurrencyCode,
			Amount:                original.Amount,
			Direction:             billing.DirectionDebit,
			PaymentReference:      original.PaymentReference,
			Type:                  billing.LedgerTypeRefund,
			RelatedEntityType:     billing.RelatedLedgerEntry,
			RelatedEntityID:       original.ID,
			Metadata:              metadata,
			Status:                billing.LedgerStatusCompleted,
		}
		if _, err := a.deps.Ledger.Create(dbc, []*types.WalletLedgerEntry{entry}); err != nil {
			return err
		}
		out = domainagg.RecordRefundResult{RefundEntryID: entry.ID, Amount: entry.Amount}
		return nil
	})
	if err != nil {
		if domainagg.IsCode(err, domainagg.CodeConflict) && key.PaymentReference != "" {
			if existing, readErr := a.deps.Ledger.FindOne(dbctx.Context{Ctx: ctx}, key); readErr == nil && existing != nil {
				return domainagg.RecordRefundResult{RefundEntryID: existing.ID, Amount: existing.Amount, Duplicate: true}, nil
			}
		}
		return domainagg.RecordRefundResult{}, err
	}
	return out, nil
}

// mergeMetadata nests the caller's metadata under "source" next to extra keys.
func mergeMetadata(raw json.RawMessage, extra map[string]interface{}) (datatypes.JSON, error) {
	doc := map[string]interface{}{}
	for k, v := range extra {
		doc[k] = v
	}
	if len(strings.TrimSpace(string(raw))) > 0 {
		var source map[string]interface{}
		if err := json.Unmarshal(raw, &source); err != nil {
			return nil, err
		}
		doc["source"] = source
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
