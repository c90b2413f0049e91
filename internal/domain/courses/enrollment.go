package courses

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Enrollment grants a user access to a published course. One enrollment exists
// per payment reference.
type Enrollment struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID            uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	PublishedCourseID uuid.UUID `gorm:"type:uuid;not null;index" json:"published_course_id"`
	OrganizationID    uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`
	PricingTierID     uuid.UUID `gorm:"type:uuid;not null" json:"pricing_tier_id"`

	PaymentReference string          `gorm:"column:payment_reference;not null;uniqueIndex" json:"payment_reference"`
	AmountPaid       decimal.Decimal `gorm:"column:amount_paid;type:numeric(19,4);not null" json:"amount_paid"`
	CurrencyCode     string          `gorm:"column:currency_code;not null" json:"currency_code"`
	PaymentFrequency string          `gorm:"column:payment_frequency;not null" json:"payment_frequency"`

	EnrolledAt time.Time  `gorm:"column:enrolled_at;not null" json:"enrolled_at"`
	ExpiresAt  *time.Time `gorm:"column:expires_at" json:"expires_at"`
	IsActive   bool       `gorm:"column:is_active;not null" json:"is_active"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Enrollment) TableName() string { return "course_enrollments" }

func (e *Enrollment) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// AccessPeriod returns how long an enrollment bought at the given frequency lasts.
func AccessPeriod(frequency string) (years, months int) {
	switch frequency {
	case FrequencyBiMonthly:
		return 0, 2
	case FrequencyQuarterly:
		return 0, 3
	case FrequencySemiAnnual:
		return 0, 6
	case FrequencyAnnual:
		return 1, 0
	default:
		return 0, 1
	}
}
