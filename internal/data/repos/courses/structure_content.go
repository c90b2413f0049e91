package courses

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type CourseStructureContentRepo interface {
	Create(dbc dbctx.Context, rows []*types.CourseStructureContent) ([]*types.CourseStructureContent, error)
	GetByPublishedCourseID(dbc dbctx.Context, publishedCourseID uuid.UUID) (*types.CourseStructureContent, error)
	CountByCourseID(dbc dbctx.Context, courseID uuid.UUID) (int64, error)
}

type courseStructureContentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCourseStructureContentRepo(db *gorm.DB, baseLog *logger.Logger) CourseStructureContentRepo {
	return &courseStructureContentRepo{db: db, log: baseLog.With("repo", "CourseStructureContentRepo")}
}

func (r *courseStructureContentRepo) Create(dbc dbctx.Context, rows []*types.CourseStructureContent) ([]*types.CourseStructureContent, error) {
	if len(rows) == 0 {
		return []*types.CourseStructureContent{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *courseStructureContentRepo) GetByPublishedCourseID(dbc dbctx.Context, publishedCourseID uuid.UUID) (*types.CourseStructureContent, error) {
	if publishedCourseID == uuid.Nil {
		return nil, nil
	}
	var row types.CourseStructureContent
	if err := dbc.DB(r.db).Where("published_course_id = ?", publishedCourseID).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *courseStructureContentRepo) CountByCourseID(dbc dbctx.Context, courseID uuid.UUID) (int64, error) {
	var n int64
	if courseID == uuid.Nil {
		return 0, nil
	}
	if err := dbc.DB(r.db).Model(&types.CourseStructureContent{}).Where("course_id = ?", courseID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
