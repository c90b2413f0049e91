package courses

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the wire format of every timestamp inside a snapshot document.
const TimeLayout = time.RFC3339

func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func FormatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

// Document is a candidate published course: the draft fields, the denormalized
// structure and the pricing copy, as they are validated and then stored.
type Document struct {
	CourseID       string  `json:"id" validate:"required,uuid"`
	OrganizationID string  `json:"organization_id" validate:"required,uuid"`
	CategoryID     *string `json:"category_id" validate:"omitempty,uuid"`
	SubcategoryID  *string `json:"subcategory_id" validate:"omitempty,uuid"`

	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description"`
	ImageURL    *string `json:"image_url"`
	BlurHash    *string `json:"blur_hash"`
	Visibility  string  `json:"visibility" validate:"oneof=public private restricted"`

	Status        string  `json:"status" validate:"oneof=published unpublished archived"`
	PublishedBy   string  `json:"published_by" validate:"required,uuid"`
	PublishedAt   string  `json:"published_at" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	UnpublishedAt *string `json:"unpublished_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	UnpublishedBy *string `json:"unpublished_by" validate:"omitempty,uuid"`

	TotalChapters int `json:"total_chapters"`
	TotalLessons  int `json:"total_lessons"`
	TotalBlocks   int `json:"total_blocks"`

	PricingTiers    []PublishedPricingTier `json:"pricing_tiers" validate:"dive"`
	CourseStructure CourseStructure        `json:"course_structure"`
}

type CourseStructure struct {
	TotalChapters int                `json:"total_chapters"`
	TotalLessons  int                `json:"total_lessons"`
	TotalBlocks   int                `json:"total_blocks"`
	Chapters      []StructureChapter `json:"chapters" validate:"dive"`
}

type StructureChapter struct {
	ID           string            `json:"id" validate:"required,uuid"`
	Name         string            `json:"name" validate:"required"`
	Description  string            `json:"description"`
	Position     int               `json:"position"`
	TotalLessons int               `json:"total_lessons"`
	TotalBlocks  int               `json:"total_blocks"`
	Lessons      []StructureLesson `json:"lessons" validate:"dive"`
}

type StructureLesson struct {
	ID           string               `json:"id" validate:"required,uuid"`
	ChapterID    string               `json:"chapter_id" validate:"required,uuid"`
	LessonTypeID string               `json:"lesson_type_id" validate:"required,uuid"`
	LessonType   *StructureLessonType `json:"lesson_types"`
	Name         string               `json:"name" validate:"required"`
	Position     int                  `json:"position"`
	Settings     json.RawMessage      `json:"settings"`
	TotalBlocks  int                  `json:"total_blocks"`
	Blocks       []StructureBlock     `json:"blocks" validate:"dive"`
}

type StructureLessonType struct {
	ID          string `json:"id" validate:"required,uuid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	LucideIcon  string `json:"lucide_icon"`
	BgColor     string `json:"bg_color"`
}

type StructureBlock struct {
	ID         string          `json:"id" validate:"required,uuid"`
	LessonID   string          `json:"lesson_id" validate:"required,uuid"`
	PluginType string          `json:"plugin_type" validate:"required"`
	Content    json.RawMessage `json:"content"`
	Settings   json.RawMessage `json:"settings"`
	Position   int             `json:"position"`
}

// PublishedPricingTier is the subset of a pricing tier copied into a snapshot.
type PublishedPricingTier struct {
	ID               string          `json:"id" validate:"required,uuid"`
	CourseID         string          `json:"course_id" validate:"required,uuid"`
	PaymentFrequency string          `json:"payment_frequency" validate:"oneof=monthly bi_monthly quarterly semi_annual annual"`
	IsFree           bool            `json:"is_free"`
	Price            decimal.Decimal `json:"price"`
	CurrencyCode     string          `json:"currency_code" validate:"required,len=3"`

	PromotionalPrice   *decimal.Decimal `json:"promotional_price"`
	PromotionStartDate *string          `json:"promotion_start_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	PromotionEndDate   *string          `json:"promotion_end_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`

	TierName        *string `json:"tier_name"`
	TierDescription *string `json:"tier_description"`
	IsActive        bool    `json:"is_active"`
	Position        int     `json:"position"`
	IsPopular       bool    `json:"is_popular"`
	IsRecommended   bool    `json:"is_recommended"`
}

// ParsePricingTiers decodes the pricing copy stored on a published course.
func ParsePricingTiers(raw []byte) ([]PublishedPricingTier, error) {
	var out []PublishedPricingTier
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindTier returns the tier with the given id, or nil.
func FindTier(tiers []PublishedPricingTier, id string) *PublishedPricingTier {
	for i := range tiers {
		if tiers[i].ID == id {
			return &tiers[i]
		}
	}
	return nil
}
