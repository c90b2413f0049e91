package courses

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

// CourseGraphRepo reads and seeds the mutable chapter/lesson/block tree of a draft.
// Rows come back in fetch order; callers sort by position.
type CourseGraphRepo interface {
	ListChapters(dbc dbctx.Context, courseID uuid.UUID) ([]*types.Chapter, error)
	ListLessons(dbc dbctx.Context, courseID uuid.UUID) ([]*types.Lesson, error)
	ListBlocks(dbc dbctx.Context, courseID uuid.UUID) ([]*types.LessonBlock, error)
	GetLessonTypesByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.LessonType, error)

	CreateChapters(dbc dbctx.Context, rows []*types.Chapter) error
	CreateLessons(dbc dbctx.Context, rows []*types.Lesson) error
	CreateBlocks(dbc dbctx.Context, rows []*types.LessonBlock) error
	CreateLessonTypes(dbc dbctx.Context, rows []*types.LessonType) error
}

type courseGraphRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCourseGraphRepo(db *gorm.DB, baseLog *logger.Logger) CourseGraphRepo {
	return &courseGraphRepo{db: db, log: baseLog.With("repo", "CourseGraphRepo")}
}

func (r *courseGraphRepo) ListChapters(dbc dbctx.Context, courseID uuid.UUID) ([]*types.Chapter, error) {
	var out []*types.Chapter
	if courseID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("course_id = ?", courseID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *courseGraphRepo) ListLessons(dbc dbctx.Context, courseID uuid.UUID) ([]*types.Lesson, error) {
	var out []*types.Lesson
	if courseID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("course_id = ?", courseID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *courseGraphRepo) ListBlocks(dbc dbctx.Context, courseID uuid.UUID) ([]*types.LessonBlock, error) {
	var out []*types.LessonBlock
	if courseID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("course_id = ?", courseID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *courseGraphRepo) GetLessonTypesByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.LessonType, error) {
	var out []*types.LessonType
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *courseGraphRepo) CreateChapters(dbc dbctx.Context, rows []*types.Chapter) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&rows).Error
}

func (r *courseGraphRepo) CreateLessons(dbc dbctx.Context, rows []*types.Lesson) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&rows).Error
}

func (r *courseGraphRepo) CreateBlocks(dbc dbctx.Context, rows []*types.LessonBlock) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&rows).Error
}

func (r *courseGraphRepo) CreateLessonTypes(dbc dbctx.Context, rows []*types.LessonType) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&rows).Error
}
