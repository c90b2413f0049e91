package aggregates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

var SubscriptionAggregateContract = Contract{
	Name:             "Billing.SubscriptionAggregate",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyInvariantScoped,
	Notes:            "Owns the organization subscription row under a row lock; upgrades clear staged downgrades.",
}

type SubscriptionAggregate interface {
	Aggregate

	// ApplyUpgrade moves the organization to the new tier and provider
	// subscription in a single update and clears every staged-downgrade field.
	ApplyUpgrade(ctx context.Context, in ApplyUpgradeInput) (ApplyUpgradeResult, error)

	// StageDowngrade records a downgrade that takes effect at EffectiveAt.
	StageDowngrade(ctx context.Context, in StageDowngradeInput) (StageDowngradeResult, error)

	// InsertOrgNotification appends an organization notification.
	InsertOrgNotification(ctx context.Context, in OrgNotificationInput) (OrgNotificationResult, error)
}

type ApplyUpgradeInput struct {
	OrganizationID   uuid.UUID
	ToTier           string
	SubscriptionCode string
	CustomerCode     string
	NextPaymentDate  *time.Time
	UpdatedBy        *uuid.UUID
	At               time.Time
}

type ApplyUpgradeResult struct {
	SubscriptionID uuid.UUID
	FromTier       string
	ToTier         string
	Created        bool
}

type StageDowngradeInput struct {
	OrganizationID uuid.UUID
	TargetTier     string
	NextPlanCode   *string
	RequestedBy    uuid.UUID
	RequestedAt    time.Time
	EffectiveAt    time.Time
	// FreeTier never short-circuits as already staged.
	FreeTier string
}

type StageDowngradeResult struct {
	CurrentTier   string
	TargetTier    string
	EffectiveAt   time.Time
	AlreadyStaged bool
}

type OrgNotificationInput struct {
	OrganizationID uuid.UUID
	TypeKey        string
	Metadata       json.RawMessage
	PerformedBy    *uuid.UUID
	DedupeKey      string
}

type OrgNotificationResult struct {
	NotificationID uuid.UUID
	Duplicate      bool
}
