package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	"github.com/gonasi/gonasi-backend/internal/domain/courses"
)

// CourseShape sizes a seeded course graph.
type CourseShape struct {
	Chapters          int
	LessonsPerChapter int
	BlocksPerLesson   int
}

// SeededCourse is what SeedCourse created.
type SeededCourse struct {
	Course   *types.Course
	Chapters []*types.Chapter
	Lessons  []*types.Lesson
	Blocks   []*types.LessonBlock
	Tiers    []*types.CoursePricingTier
	AuthorID uuid.UUID
}

// SeedCourse writes a draft course with the given shape and a single active paid tier.
// Positions are written in reverse fetch order so sorting is observable.
func SeedCourse(tb testing.TB, ctx context.Context, db *gorm.DB, shape CourseShape) *SeededCourse {
	tb.Helper()
	orgID := uuid.New()
	authorID := uuid.New()
	image := "thumbnails/" + uuid.NewString() + ".webp"

	course := &types.Course{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           "Intro to Go",
		Description:    "A practical course",
		ImageURL:       &image,
		Visibility:     courses.VisibilityPublic,
		CreatedBy:      authorID,
		UpdatedBy:      authorID,
	}
	mustCreate(tb, ctx, db, course)

	lt := &types.LessonType{ID: uuid.New(), Name: "quiz-" + uuid.NewString()[:8], BgColor: "#fff"}
	mustCreate(tb, ctx, db, lt)

	out := &SeededCourse{Course: course, AuthorID: authorID}
	for c := 0; c < shape.Chapters; c++ {
		ch := &types.Chapter{
			ID:             uuid.New(),
			CourseID:       course.ID,
			OrganizationID: orgID,
			Name:           fmt.Sprintf("Chapter %d", c+1),
			Position:       shape.Chapters - c,
		}
		mustCreate(tb, ctx, db, ch)
		out.Chapters = append(out.Chapters, ch)
		for l := 0; l < shape.LessonsPerChapter; l++ {
			ls := &types.Lesson{
				ID:             uuid.New(),
				CourseID:       course.ID,
				ChapterID:      ch.ID,
				OrganizationID: orgID,
				LessonTypeID:   lt.ID,
				Name:           fmt.Sprintf("Lesson %d.%d", c+1, l+1),
				Position:       shape.LessonsPerChapter - l,
				Settings:       datatypes.JSON(`{}`),
			}
			mustCreate(tb, ctx, db, ls)
			out.Lessons = append(out.Lessons, ls)
			for b := 0; b < shape.BlocksPerLesson; b++ {
				blk := &types.LessonBlock{
					ID:             uuid.New(),
					LessonID:       ls.ID,
					CourseID:       course.ID,
					OrganizationID: orgID,
					PluginType:     "true_or_false",
					Content:        datatypes.JSON(`{"questionState":"Go has generics","correctAnswer":"true"}`),
					Settings:       datatypes.JSON(`{"weight":1}`),
					Position:       shape.BlocksPerLesson - b,
				}
				mustCreate(tb, ctx, db, blk)
				out.Blocks = append(out.Blocks, blk)
			}
		}
	}

	tier := &types.CoursePricingTier{
		ID:               uuid.New(),
		CourseID:         course.ID,
		OrganizationID:   orgID,
		PaymentFrequency: courses.FrequencyMonthly,
		Price:            decimal.NewFromInt(1500),
		CurrencyCode:     "KES",
		IsActive:         true,
		Position:         1,
	}
	mustCreate(tb, ctx, db, tier)
	out.Tiers = []*types.CoursePricingTier{tier}
	return out
}

// SeedSubscription writes an organization subscription on tier.
func SeedSubscription(tb testing.TB, ctx context.Context, db *gorm.DB, orgID uuid.UUID, tier string, periodEnd time.Time) *types.OrganizationSubscription {
	tb.Helper()
	code := "SUB_" + uuid.NewString()[:8]
	customer := "CUS_" + uuid.NewString()[:8]
	now := time.Now().UTC()
	sub := &types.OrganizationSubscription{
		ID:                       uuid.New(),
		OrganizationID:           orgID,
		Tier:                     tier,
		PaystackSubscriptionCode: &code,
		PaystackCustomerCode:     &customer,
		Status:                   billing.SubscriptionActive,
		StartDate:                now.AddDate(0, -1, 0),
		CurrentPeriodStart:       now.AddDate(0, 0, -5),
		CurrentPeriodEnd:         &periodEnd,
	}
	mustCreate(tb, ctx, db, sub)
	return sub
}

// SeedTierLimits writes the launch/scale/impact tiers used across tests.
func SeedTierLimits(tb testing.TB, ctx context.Context, db *gorm.DB) {
	tb.Helper()
	scale, impact := "PLN_scale", "PLN_impact"
	rows := []*types.TierLimits{
		{Tier: "launch", PlatformFeePercentage: decimal.NewFromInt(15), PriceMonthly: decimal.Zero, MaxPublishedCourses: 2},
		{Tier: "scale", PaystackPlanCode: &scale, PlatformFeePercentage: decimal.NewFromInt(10), PriceMonthly: decimal.NewFromInt(2500), MaxPublishedCourses: 10},
		{Tier: "impact", PaystackPlanCode: &impact, PlatformFeePercentage: decimal.NewFromInt(5), PriceMonthly: decimal.NewFromInt(5000), MaxPublishedCourses: 50},
	}
	for _, r := range rows {
		mustCreate(tb, ctx, db, r)
	}
}

func mustCreate(tb testing.TB, ctx context.Context, db *gorm.DB, row interface{}) {
	tb.Helper()
	if err := db.WithContext(ctx).Create(row).Error; err != nil {
		tb.Fatalf("seed %T: %v", row, err)
	}
}
