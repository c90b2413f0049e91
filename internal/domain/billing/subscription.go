package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	SubscriptionActive      = "active"
	SubscriptionNonRenewing = "non-renewing"
	SubscriptionAttention   = "attention"
	SubscriptionCancelled   = "cancelled"
)

// OrganizationSubscription is the current-state row per organization. The next_*
// and downgrade_* columns hold a staged downgrade until its effective date.
type OrganizationSubscription struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"organization_id"`

	Tier                     string  `gorm:"column:tier;not null" json:"tier"`
	PaystackSubscriptionCode *string `gorm:"column:paystack_subscription_code" json:"paystack_subscription_code"`
	PaystackCustomerCode     *string `gorm:"column:paystack_customer_code" json:"paystack_customer_code"`
	Status                   string  `gorm:"column:status;not null" json:"status"`

	StartDate          time.Time  `gorm:"column:start_date;not null" json:"start_date"`
	CurrentPeriodStart time.Time  `gorm:"column:current_period_start;not null" json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `gorm:"column:current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd  bool       `gorm:"column:cancel_at_period_end;not null" json:"cancel_at_period_end"`

	NextTier             *string    `gorm:"column:next_tier" json:"next_tier"`
	NextPlanCode         *string    `gorm:"column:next_plan_code" json:"next_plan_code"`
	NextPaymentDate      *time.Time `gorm:"column:next_payment_date" json:"next_payment_date"`
	DowngradeRequestedAt *time.Time `gorm:"column:downgrade_requested_at" json:"downgrade_requested_at"`
	DowngradeEffectiveAt *time.Time `gorm:"column:downgrade_effective_at" json:"downgrade_effective_at"`
	DowngradeRequestedBy *uuid.UUID `gorm:"type:uuid" json:"downgrade_requested_by"`

	UpdatedBy *uuid.UUID `gorm:"type:uuid" json:"updated_by"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (OrganizationSubscription) TableName() string { return "organization_subscriptions" }

func (s *OrganizationSubscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// HasStagedDowngrade reports whether any downgrade staging column is set.
func (s *OrganizationSubscription) HasStagedDowngrade() bool {
	if s == nil {
		return false
	}
	return s.NextTier != nil || s.NextPlanCode != nil || s.DowngradeRequestedAt != nil ||
		s.DowngradeEffectiveAt != nil || s.DowngradeRequestedBy != nil
}

// TierLimits is the per-tier configuration row.
type TierLimits struct {
	Tier                  string          `gorm:"column:tier;primaryKey" json:"tier"`
	PaystackPlanCode      *string         `gorm:"column:paystack_plan_code" json:"paystack_plan_code"`
	PlatformFeePercentage decimal.Decimal `gorm:"column:platform_fee_percentage;type:numeric(5,2);not null" json:"platform_fee_percentage"`
	PriceMonthly          decimal.Decimal `gorm:"column:price_monthly;type:numeric(19,4);not null" json:"price_monthly"`
	MaxPublishedCourses   int             `gorm:"column:max_published_courses;not null" json:"max_published_courses"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (TierLimits) TableName() string { return "tier_limits" }
