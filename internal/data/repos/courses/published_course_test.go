package courses

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/domain/courses"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

func TestPublishedCourseRepoCurrentAndMaxVersion(t *testing.T) {
	db := testutil.DB(t)
	repo := NewPublishedCourseRepo(db, testutil.Logger(t))
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	courseID := uuid.New()

	if v, err := repo.GetMaxVersion(dbc, courseID); err != nil || v != 0 {
		t.Fatalf("GetMaxVersion empty: want=0 got=%d err=%v", v, err)
	}
	cur, err := repo.GetCurrentByCourseID(dbc, courseID)
	if err != nil || cur != nil {
		t.Fatalf("GetCurrentByCourseID empty: got=%v err=%v", cur, err)
	}

	mk := func(version int, current bool, status string) *types.PublishedCourse {
		return &types.PublishedCourse{
			CourseID:         courseID,
			OrganizationID:   uuid.New(),
			Name:             "c",
			Visibility:       courses.VisibilityPublic,
			Version:          version,
			IsCurrentVersion: current,
			Status:           status,
			PublishedAt:      time.Now().UTC(),
			PublishedBy:      uuid.New(),
			PricingTiers:     datatypes.JSON(`[]`),
		}
	}
	if _, err := repo.Create(dbc, []*types.PublishedCourse{
		mk(1, false, courses.PublishStatusArchived),
		mk(2, true, courses.PublishStatusPublished),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	v, err := repo.GetMaxVersion(dbc, courseID)
	if err != nil || v != 2 {
		t.Fatalf("GetMaxVersion: want=2 got=%d err=%v", v, err)
	}
	cur, err = repo.LockCurrentByCourseID(dbc, courseID)
	if err != nil {
		t.Fatalf("LockCurrentByCourseID: %v", err)
	}
	if cur == nil || cur.Version != 2 {
		t.Fatalf("current version: want=2 got=%+v", cur)
	}

	if _, err := repo.Create(dbc, []*types.PublishedCourse{mk(2, false, courses.PublishStatusArchived)}); err == nil {
		t.Fatalf("Create duplicate version: expected unique violation")
	}
}

func TestCourseGraphRepoListsWholeCourse(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	seeded := testutil.SeedCourse(t, ctx, db, testutil.CourseShape{Chapters: 2, LessonsPerChapter: 2, BlocksPerLesson: 3})

	repo := NewCourseGraphRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}
	chapters, err := repo.ListChapters(dbc, seeded.Course.ID)
	if err != nil || len(chapters) != 2 {
		t.Fatalf("ListChapters: want=2 got=%d err=%v", len(chapters), err)
	}
	lessons, err := repo.ListLessons(dbc, seeded.Course.ID)
	if err != nil || len(lessons) != 4 {
		t.Fatalf("ListLessons: want=4 got=%d err=%v", len(lessons), err)
	}
	blocks, err := repo.ListBlocks(dbc, seeded.Course.ID)
	if err != nil || len(blocks) != 12 {
		t.Fatalf("ListBlocks: want=12 got=%d err=%v", len(blocks), err)
	}
	lts, err := repo.GetLessonTypesByIDs(dbc, []uuid.UUID{lessons[0].LessonTypeID})
	if err != nil || len(lts) != 1 {
		t.Fatalf("GetLessonTypesByIDs: want=1 got=%d err=%v", len(lts), err)
	}
}
