package courses

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	FrequencyMonthly    = "monthly"
	FrequencyBiMonthly  = "bi_monthly"
	FrequencyQuarterly  = "quarterly"
	FrequencySemiAnnual = "semi_annual"
	FrequencyAnnual     = "annual"
)

// CoursePricingTier is a course-level priced access option.
type CoursePricingTier struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID       uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`

	PaymentFrequency string          `gorm:"column:payment_frequency;not null" json:"payment_frequency"`
	IsFree           bool            `gorm:"column:is_free;not null" json:"is_free"`
	Price            decimal.Decimal `gorm:"column:price;type:numeric(19,4);not null" json:"price"`
	CurrencyCode     string          `gorm:"column:currency_code;not null" json:"currency_code"`

	PromotionalPrice   decimal.NullDecimal `gorm:"column:promotional_price;type:numeric(19,4)" json:"promotional_price"`
	PromotionStartDate *time.Time          `gorm:"column:promotion_start_date" json:"promotion_start_date"`
	PromotionEndDate   *time.Time          `gorm:"column:promotion_end_date" json:"promotion_end_date"`

	TierName        *string `gorm:"column:tier_name" json:"tier_name"`
	TierDescription *string `gorm:"column:tier_description" json:"tier_description"`
	IsActive        bool    `gorm:"column:is_active;not null" json:"is_active"`
	Position        int     `gorm:"column:position;not null" json:"position"`
	IsPopular       bool    `gorm:"column:is_popular;not null" json:"is_popular"`
	IsRecommended   bool    `gorm:"column:is_recommended;not null" json:"is_recommended"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (CoursePricingTier) TableName() string { return "course_pricing_tiers" }

func (t *CoursePricingTier) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
