package aggregates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

var PublishAggregateContract = Contract{
	Name:             "Courses.PublishAggregate",
	WriteTxOwnership: WriteTxOwnedByAggregate,
	ReadPolicy:       ReadPolicyInvariantScoped,
	Notes:            "Writes a published course version and its structure content together, and moves the current-version pointer.",
}

// PublishAggregate owns published-course versioning.
type PublishAggregate interface {
	Aggregate

	// UpsertPublishedCourseWithContent inserts the next version of the course and its
	// structure content, archiving the previous current version. Either both rows are
	// written or neither is.
	UpsertPublishedCourseWithContent(ctx context.Context, in UpsertPublishedCourseInput) (UpsertPublishedCourseResult, error)

	// Unpublish marks the current version unpublished with at/by/reason set together.
	Unpublish(ctx context.Context, in UnpublishCourseInput) (UnpublishCourseResult, error)
}

type UpsertPublishedCourseInput struct {
	CourseID       uuid.UUID
	OrganizationID uuid.UUID
	CategoryID     *uuid.UUID
	SubcategoryID  *uuid.UUID

	Name        string
	Description string
	ImageURL    *string
	BlurHash    *string
	Visibility  string

	PublishedBy uuid.UUID
	PublishedAt time.Time

	TotalChapters int
	TotalLessons  int
	TotalBlocks   int

	PricingTiers    json.RawMessage
	CourseStructure json.RawMessage
}

type UpsertPublishedCourseResult struct {
	PublishedCourseID uuid.UUID
	CourseID          uuid.UUID
	Version           int
	PreviousVersion   int
	PublishedAt       time.Time
}

type UnpublishCourseInput struct {
	CourseID       uuid.UUID
	OrganizationID uuid.UUID
	UnpublishedBy  uuid.UUID
	Reason         string
	At             time.Time
}

type UnpublishCourseResult struct {
	PublishedCourseID uuid.UUID
	Version           int
	UnpublishedAt     time.Time
	// AlreadyUnpublished is set when the current version was unpublished before this call.
	AlreadyUnpublished bool
}
