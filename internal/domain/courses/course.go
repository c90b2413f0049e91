package courses

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	VisibilityPublic     = "public"
	VisibilityPrivate    = "private"
	VisibilityRestricted = "restricted"
)

// Course is the mutable authoring-side draft.
type Course struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"organization_id"`
	CategoryID     *uuid.UUID `gorm:"type:uuid;index" json:"category_id,omitempty"`
	SubcategoryID  *uuid.UUID `gorm:"type:uuid;index" json:"subcategory_id,omitempty"`

	Name        string  `gorm:"column:name;not null" json:"name"`
	Description string  `gorm:"column:description;type:text" json:"description"`
	ImageURL    *string `gorm:"column:image_url" json:"image_url,omitempty"`
	BlurHash    *string `gorm:"column:blur_hash" json:"blur_hash,omitempty"`
	// public|private|restricted
	Visibility string `gorm:"column:visibility;not null" json:"visibility"`

	CreatedBy uuid.UUID `gorm:"type:uuid;not null" json:"created_by"`
	UpdatedBy uuid.UUID `gorm:"type:uuid;not null" json:"updated_by"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Course) TableName() string { return "courses" }

func (c *Course) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

type Chapter struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID       uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`

	Name            string `gorm:"column:name;not null" json:"name"`
	Description     string `gorm:"column:description;type:text" json:"description"`
	Position        int    `gorm:"column:position;not null" json:"position"`
	RequiresPayment bool   `gorm:"column:requires_payment;not null" json:"requires_payment"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Chapter) TableName() string { return "chapters" }

func (c *Chapter) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// LessonType is the catalogue entry a lesson renders as (e.g. "quiz", "reading").
type LessonType struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"column:description" json:"description"`
	LucideIcon  string    `gorm:"column:lucide_icon" json:"lucide_icon"`
	BgColor     string    `gorm:"column:bg_color" json:"bg_color"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (LessonType) TableName() string { return "lesson_types" }

func (t *LessonType) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

type Lesson struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID       uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	ChapterID      uuid.UUID `gorm:"type:uuid;not null;index" json:"chapter_id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`
	LessonTypeID   uuid.UUID `gorm:"type:uuid;not null;index" json:"lesson_type_id"`

	Name     string         `gorm:"column:name;not null" json:"name"`
	Position int            `gorm:"column:position;not null" json:"position"`
	Settings datatypes.JSON `gorm:"column:settings;type:jsonb" json:"settings"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Lesson) TableName() string { return "lessons" }

func (l *Lesson) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// LessonBlock is one interactive unit inside a lesson. Content and settings are
// plugin-specific and stay opaque here.
type LessonBlock struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LessonID       uuid.UUID `gorm:"type:uuid;not null;index" json:"lesson_id"`
	CourseID       uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`

	// true_or_false|multiple_choice_single|rich_text_editor|step_by_step_reveal|...
	PluginType string         `gorm:"column:plugin_type;not null" json:"plugin_type"`
	Content    datatypes.JSON `gorm:"column:content;type:jsonb" json:"content"`
	Settings   datatypes.JSON `gorm:"column:settings;type:jsonb" json:"settings"`
	Position   int            `gorm:"column:position;not null" json:"position"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (LessonBlock) TableName() string { return "lesson_blocks" }

func (b *LessonBlock) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
