package courses

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PublishStatusPublished   = "published"
	PublishStatusUnpublished = "unpublished"
	PublishStatusArchived    = "archived"
)

// PublishedCourse is one immutable version of a course snapshot. Republishing
// inserts a new version and archives the previous current row.
type PublishedCourse struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_published_course_version,unique,priority:1;index" json:"course_id"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"organization_id"`
	CategoryID     *uuid.UUID `gorm:"type:uuid" json:"category_id,omitempty"`
	SubcategoryID  *uuid.UUID `gorm:"type:uuid" json:"subcategory_id,omitempty"`

	Name        string  `gorm:"column:name;not null" json:"name"`
	Description string  `gorm:"column:description;type:text" json:"description"`
	ImageURL    *string `gorm:"column:image_url" json:"image_url,omitempty"`
	BlurHash    *string `gorm:"column:blur_hash" json:"blur_hash,omitempty"`
	Visibility  string  `gorm:"column:visibility;not null" json:"visibility"`

	Version          int  `gorm:"column:version;not null;index:idx_published_course_version,unique,priority:2" json:"version"`
	IsCurrentVersion bool `gorm:"column:is_current_version;not null;index" json:"is_current_version"`

	// published|unpublished|archived
	Status      string    `gorm:"column:status;not null;index" json:"status"`
	PublishedAt time.Time `gorm:"column:published_at;not null" json:"published_at"`
	PublishedBy uuid.UUID `gorm:"type:uuid;not null" json:"published_by"`

	UnpublishedAt   *time.Time `gorm:"column:unpublished_at" json:"unpublished_at"`
	UnpublishedBy   *uuid.UUID `gorm:"type:uuid" json:"unpublished_by"`
	UnpublishReason *string    `gorm:"column:unpublish_reason" json:"unpublish_reason"`

	TotalChapters int `gorm:"column:total_chapters;not null" json:"total_chapters"`
	TotalLessons  int `gorm:"column:total_lessons;not null" json:"total_lessons"`
	TotalBlocks   int `gorm:"column:total_blocks;not null" json:"total_blocks"`

	PricingTiers datatypes.JSON `gorm:"column:pricing_tiers;type:jsonb;not null" json:"pricing_tiers"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (PublishedCourse) TableName() string { return "published_courses" }

func (p *PublishedCourse) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// CourseStructureContent holds the denormalized chapter/lesson/block tree for one
// published version. It is written in the same transaction as its PublishedCourse.
type CourseStructureContent struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PublishedCourseID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"published_course_id"`
	CourseID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Version           int            `gorm:"column:version;not null" json:"version"`
	CourseStructure   datatypes.JSON `gorm:"column:course_structure;type:jsonb;not null" json:"course_structure"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (CourseStructureContent) TableName() string { return "course_structure_content" }

func (c *CourseStructureContent) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
