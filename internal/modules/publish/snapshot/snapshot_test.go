package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	"github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/modules/publish/validation"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

func newTestBuilder(t *testing.T) (*Builder, func(testutil.CourseShape) *testutil.SeededCourse) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	b := NewBuilder(log, repos.NewCourseRepo(db, log), repos.NewCourseGraphRepo(db, log), repos.NewPricingTierRepo(db, log))
	seed := func(shape testutil.CourseShape) *testutil.SeededCourse {
		return testutil.SeedCourse(t, context.Background(), db, shape)
	}
	return b, seed
}

func TestBuildSortsAndCounts(t *testing.T) {
	b, seed := newTestBuilder(t)
	seeded := seed(testutil.CourseShape{Chapters: 3, LessonsPerChapter: 2, BlocksPerLesson: 2})

	publishedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	doc, err := b.Build(context.Background(), Request{
		CourseID:       seeded.Course.ID,
		OrganizationID: seeded.Course.OrganizationID,
		PublishedBy:    seeded.AuthorID,
		PublishedAt:    publishedAt,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if doc.TotalChapters != 3 || doc.TotalLessons != 6 || doc.TotalBlocks != 12 {
		t.Fatalf("totals: got chapters=%d lessons=%d blocks=%d", doc.TotalChapters, doc.TotalLessons, doc.TotalBlocks)
	}
	if doc.CourseStructure.TotalBlocks != doc.TotalBlocks {
		t.Fatalf("structure totals diverge from document totals")
	}
	if doc.PublishedAt != "2026-05-01T10:00:00Z" {
		t.Fatalf("published_at: got %q", doc.PublishedAt)
	}
	for i, ch := range doc.CourseStructure.Chapters {
		if i > 0 && doc.CourseStructure.Chapters[i-1].Position >= ch.Position {
			t.Fatalf("chapters not sorted by position: %+v", doc.CourseStructure.Chapters)
		}
		if ch.TotalLessons != 2 || ch.TotalBlocks != 4 {
			t.Fatalf("chapter %s totals: lessons=%d blocks=%d", ch.ID, ch.TotalLessons, ch.TotalBlocks)
		}
		for j, ls := range ch.Lessons {
			if ls.ChapterID != ch.ID {
				t.Fatalf("lesson %s grouped under wrong chapter", ls.ID)
			}
			if j > 0 && ch.Lessons[j-1].Position >= ls.Position {
				t.Fatalf("lessons not sorted in chapter %s", ch.ID)
			}
			if ls.LessonType == nil || ls.LessonType.ID != ls.LessonTypeID {
				t.Fatalf("lesson type not attached to %s", ls.ID)
			}
			if len(ls.Blocks) != 2 || ls.Blocks[0].Position > ls.Blocks[1].Position {
				t.Fatalf("blocks in lesson %s: %+v", ls.ID, ls.Blocks)
			}
		}
	}
	if len(doc.PricingTiers) != 1 || doc.PricingTiers[0].ID != seeded.Tiers[0].ID.String() {
		t.Fatalf("pricing copy: %+v", doc.PricingTiers)
	}

	if res := validation.New(validation.DefaultPolicy()).Validate(doc); !res.Valid {
		t.Fatalf("built snapshot failed validation: %+v", res.Violations)
	}
}

func TestBuildEmptyCourse(t *testing.T) {
	b, seed := newTestBuilder(t)
	seeded := seed(testutil.CourseShape{})

	doc, err := b.Build(context.Background(), Request{
		CourseID:       seeded.Course.ID,
		OrganizationID: seeded.Course.OrganizationID,
		PublishedBy:    seeded.AuthorID,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if doc.TotalChapters != 0 || doc.TotalLessons != 0 || doc.TotalBlocks != 0 {
		t.Fatalf("expected zero totals, got %d/%d/%d", doc.TotalChapters, doc.TotalLessons, doc.TotalBlocks)
	}
	if doc.CourseStructure.Chapters == nil {
		t.Fatalf("chapters should be an empty slice, not nil")
	}
	res := validation.New(validation.DefaultPolicy()).Validate(doc)
	if res.Valid {
		t.Fatalf("empty course passed the chapter minimum")
	}
}

func TestBuildWrongOrganizationIsNotFound(t *testing.T) {
	b, seed := newTestBuilder(t)
	seeded := seed(testutil.CourseShape{Chapters: 1, LessonsPerChapter: 1, BlocksPerLesson: 1})

	_, err := b.Build(context.Background(), Request{CourseID: seeded.Course.ID, OrganizationID: uuid.New()})
	if !errors.Is(err, ErrCourseNotFound) || !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrCourseNotFound wrapping ErrFetchFailed, got %v", err)
	}
}

type failingGraph struct {
	repos.CourseGraphRepo
	err error
}

func (f failingGraph) ListBlocks(dbctx.Context, uuid.UUID) ([]*types.LessonBlock, error) {
	return nil, f.err
}

func TestBuildFetchFailureIsDistinct(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	seeded := testutil.SeedCourse(t, context.Background(), db, testutil.CourseShape{Chapters: 2, LessonsPerChapter: 2, BlocksPerLesson: 2})

	graph := failingGraph{CourseGraphRepo: repos.NewCourseGraphRepo(db, log), err: errors.New("connection refused")}
	b := NewBuilder(log, repos.NewCourseRepo(db, log), graph, repos.NewPricingTierRepo(db, log))

	_, err := b.Build(context.Background(), Request{CourseID: seeded.Course.ID, OrganizationID: seeded.Course.OrganizationID})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("fetch failure reported as not found")
	}
}
