package aggregates_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gonasi/gonasi-backend/internal/data/aggregates"
	"github.com/gonasi/gonasi-backend/internal/data/repos"
	repotest "github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/courses"
)

func baseDeps(t *testing.T, db *gorm.DB, runner aggregates.TxRunner) aggregates.BaseDeps {
	t.Helper()
	if runner == nil {
		runner = aggregates.NewGormTxRunner(db)
	}
	return aggregates.BaseDeps{DB: db, Log: repotest.Logger(t), Runner: runner}
}

func newPublishAggregate(t *testing.T, db *gorm.DB, runner aggregates.TxRunner) domainagg.PublishAggregate {
	t.Helper()
	return newPublishAggregateWithBase(db, baseDeps(t, db, runner))
}

func newPublishAggregateWithBase(db *gorm.DB, base aggregates.BaseDeps) domainagg.PublishAggregate {
	return aggregates.NewPublishAggregate(aggregates.PublishAggregateDeps{
		Base:      base,
		Published: repos.NewPublishedCourseRepo(db, base.Log),
		Content:   repos.NewCourseStructureContentRepo(db, base.Log),
	})
}

func paidTier(courseID uuid.UUID, active bool) courses.PublishedPricingTier {
	return courses.PublishedPricingTier{
		ID:               uuid.NewString(),
		CourseID:         courseID.String(),
		PaymentFrequency: courses.FrequencyMonthly,
		Price:            decimal.NewFromInt(1500),
		CurrencyCode:     "KES",
		IsActive:         active,
		Position:         1,
	}
}

func publishInput(t *testing.T, courseID, orgID uuid.UUID, tiers ...courses.PublishedPricingTier) domainagg.UpsertPublishedCourseInput {
	t.Helper()
	pricing, err := json.Marshal(tiers)
	if err != nil {
		t.Fatalf("marshal tiers: %v", err)
	}
	return domainagg.UpsertPublishedCourseInput{
		CourseID:        courseID,
		OrganizationID:  orgID,
		Name:            "Intro to Go",
		Visibility:      courses.VisibilityPublic,
		PublishedBy:     uuid.New(),
		PublishedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		TotalChapters:   2,
		TotalLessons:    4,
		TotalBlocks:     8,
		PricingTiers:    pricing,
		CourseStructure: json.RawMessage(`{"total_chapters":2,"chapters":[]}`),
	}
}

// publishCourse publishes a fresh course carrying tiers and returns the course
// id and the published row id.
func publishCourse(t *testing.T, db *gorm.DB, orgID uuid.UUID, tiers ...courses.PublishedPricingTier) (uuid.UUID, uuid.UUID) {
	t.Helper()
	courseID := uuid.New()
	for i := range tiers {
		tiers[i].CourseID = courseID.String()
	}
	res, err := newPublishAggregate(t, db, nil).UpsertPublishedCourseWithContent(context.Background(), publishInput(t, courseID, orgID, tiers...))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return courseID, res.PublishedCourseID
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}
