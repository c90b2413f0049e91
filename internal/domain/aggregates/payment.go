package aggregates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var PaymentAggregateContract = Contract{
	Name:             "Billing.PaymentAggregate",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyInvariantScoped,
	Notes:            "Settles provider payments into enrollments and ledger entries exactly once per payment reference.",
}

// PaymentAggregate owns ledger writes. Every method is idempotent on its ledger
// key and reports replays with Duplicate=true instead of an error.
type PaymentAggregate interface {
	Aggregate

	// ProcessCoursePayment enrolls the buyer and writes the course_sale and
	// platform_fee ledger pair for one payment reference.
	ProcessCoursePayment(ctx context.Context, in ProcessCoursePaymentInput) (ProcessCoursePaymentResult, error)

	// ProcessSubscriptionUpgradePayment records an upgrade charge in the ledger.
	ProcessSubscriptionUpgradePayment(ctx context.Context, in SubscriptionPaymentInput) (SubscriptionPaymentResult, error)

	// RecordRefund appends the compensating debit for an original ledger entry.
	RecordRefund(ctx context.Context, in RecordRefundInput) (RecordRefundResult, error)
}

// ProcessCoursePaymentInput carries amounts already converted to major units.
type ProcessCoursePaymentInput struct {
	PaymentReference string
	TransactionID    string

	UserID            uuid.UUID
	PublishedCourseID uuid.UUID
	PricingTierID     uuid.UUID

	Amount        decimal.Decimal
	ProviderFee   decimal.Decimal
	CurrencyCode  string
	PaymentMethod string
	PaidAt        time.Time

	Metadata json.RawMessage
}

type ProcessCoursePaymentResult struct {
	EnrollmentID     uuid.UUID
	CoursePaymentID  uuid.UUID
	OrganizationID   uuid.UUID
	PaymentReference string

	AmountPaid  decimal.Decimal
	Settlement  decimal.Decimal
	PlatformFee decimal.Decimal
	OrgPayout   decimal.Decimal

	Duplicate bool
}

type SubscriptionPaymentInput struct {
	PaymentReference string
	OrganizationID   uuid.UUID
	FromTier         string
	ToTier           string

	Amount       decimal.Decimal
	ProviderFee  decimal.Decimal
	CurrencyCode string

	Metadata json.RawMessage
}

type SubscriptionPaymentResult struct {
	LedgerEntryID uuid.UUID
	Duplicate     bool
}

type RecordRefundInput struct {
	OriginalEntryID  uuid.UUID
	ProviderRefundID string
	// subscription_creation_failed|tier_update_failed|manual_refund
	Reason   string
	Metadata json.RawMessage
}

type RecordRefundResult struct {
	RefundEntryID uuid.UUID
	Amount        decimal.Decimal
	Duplicate     bool
}
