package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	WalletExternal     = "external"
	WalletOrganization = "organization"
	WalletPlatform     = "platform"
	WalletUser         = "user"

	DirectionCredit = "credit"
	DirectionDebit  = "debit"

	LedgerTypeCourseSale          = "course_sale"
	LedgerTypePlatformFee         = "platform_fee"
	LedgerTypeSubscriptionPayment = "subscription_payment"
	LedgerTypeRefund              = "refund"
	LedgerTypeOrgPayout           = "org_payout"

	LedgerStatusCompleted = "completed"
	LedgerStatusPending   = "pending"
	LedgerStatusFailed    = "failed"

	RelatedEnrollment   = "course_enrollment"
	RelatedOrganization = "organization"
	RelatedLedgerEntry  = "wallet_ledger_entry"
)

// WalletLedgerEntry is an append-only money movement between two wallets.
// (payment_reference, type, related_entity_id) is the idempotency key.
type WalletLedgerEntry struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	SourceWalletType      string     `gorm:"column:source_wallet_type;not null" json:"source_wallet_type"`
	SourceWalletID        *uuid.UUID `gorm:"type:uuid" json:"source_wallet_id"`
	DestinationWalletType string     `gorm:"column:destination_wallet_type;not null;index" json:"destination_wallet_type"`
	DestinationWalletID   *uuid.UUID `gorm:"type:uuid;index" json:"destination_wallet_id"`

	CurrencyCode string          `gorm:"column:currency_code;not null" json:"currency_code"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(19,4);not null" json:"amount"`
	// credit|debit
	Direction string `gorm:"column:direction;not null" json:"direction"`

	PaymentReference  string    `gorm:"column:payment_reference;not null;index:idx_ledger_idempotency,unique,priority:1;index" json:"payment_reference"`
	Type              string    `gorm:"column:type;not null;index:idx_ledger_idempotency,unique,priority:2" json:"type"`
	RelatedEntityType string    `gorm:"column:related_entity_type;not null" json:"related_entity_type"`
	RelatedEntityID   uuid.UUID `gorm:"type:uuid;not null;index:idx_ledger_idempotency,unique,priority:3;index" json:"related_entity_id"`

	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	Status   string         `gorm:"column:status;not null" json:"status"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

func (WalletLedgerEntry) TableName() string { return "wallet_ledger_entries" }

func (e *WalletLedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// CoursePayment is the provider-side record of a course sale.
type CoursePayment struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PaymentReference      string    `gorm:"column:payment_reference;not null;uniqueIndex" json:"payment_reference"`
	PaystackTransactionID string    `gorm:"column:paystack_transaction_id;not null" json:"paystack_transaction_id"`

	EnrollmentID      uuid.UUID `gorm:"type:uuid;not null;index" json:"enrollment_id"`
	UserID            uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	OrganizationID    uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`
	PublishedCourseID uuid.UUID `gorm:"type:uuid;not null" json:"published_course_id"`
	PricingTierID     uuid.UUID `gorm:"type:uuid;not null" json:"pricing_tier_id"`

	CurrencyCode          string          `gorm:"column:currency_code;not null" json:"currency_code"`
	PaymentMethod         string          `gorm:"column:payment_method" json:"payment_method"`
	AmountPaid            decimal.Decimal `gorm:"column:amount_paid;type:numeric(19,4);not null" json:"amount_paid"`
	PaystackFee           decimal.Decimal `gorm:"column:paystack_fee;type:numeric(19,4);not null" json:"paystack_fee"`
	PlatformFee           decimal.Decimal `gorm:"column:platform_fee;type:numeric(19,4);not null" json:"platform_fee"`
	PlatformFeePercentage decimal.Decimal `gorm:"column:platform_fee_percentage;type:numeric(5,2);not null" json:"platform_fee_percentage"`
	OrgPayout             decimal.Decimal `gorm:"column:org_payout;type:numeric(19,4);not null" json:"org_payout"`

	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (CoursePayment) TableName() string { return "course_payments" }

func (p *CoursePayment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
