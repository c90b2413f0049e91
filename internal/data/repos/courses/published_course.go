package courses

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type PublishedCourseRepo interface {
	Create(dbc dbctx.Context, rows []*types.PublishedCourse) ([]*types.PublishedCourse, error)

	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PublishedCourse, error)
	GetCurrentByCourseID(dbc dbctx.Context, courseID uuid.UUID) (*types.PublishedCourse, error)
	LockCurrentByCourseID(dbc dbctx.Context, courseID uuid.UUID) (*types.PublishedCourse, error)
	ListByCourseID(dbc dbctx.Context, courseID uuid.UUID) ([]*types.PublishedCourse, error)
	GetMaxVersion(dbc dbctx.Context, courseID uuid.UUID) (int, error)

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type publishedCourseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPublishedCourseRepo(db *gorm.DB, baseLog *logger.Logger) PublishedCourseRepo {
	return &publishedCourseRepo{db: db, log: baseLog.With("repo", "PublishedCourseRepo")}
}

func (r *publishedCourseRepo) Create(dbc dbctx.Context, rows []*types.PublishedCourse) ([]*types.PublishedCourse, error) {
	if len(rows) == 0 {
		return []*types.PublishedCourse{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *publishedCourseRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PublishedCourse, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.PublishedCourse
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *publishedCourseRepo) GetCurrentByCourseID(dbc dbctx.Context, courseID uuid.UUID) (*types.PublishedCourse, error) {
	return r.current(dbc.DB(r.db), courseID)
}

// LockCurrentByCourseID takes a row lock on the current version so concurrent
// publishes of one course serialize.
func (r *publishedCourseRepo) LockCurrentByCourseID(dbc dbctx.Context, courseID uuid.UUID) (*types.PublishedCourse, error) {
	return r.current(dbc.DB(r.db).Clauses(clause.Locking{Strength: "UPDATE"}), courseID)
}

func (r *publishedCourseRepo) current(q *gorm.DB, courseID uuid.UUID) (*types.PublishedCourse, error) {
	if courseID == uuid.Nil {
		return nil, nil
	}
	var row types.PublishedCourse
	if err := q.
		Where("course_id = ? AND is_current_version = ?", courseID, true).
		Order("version DESC").
		Limit(1).
		Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *publishedCourseRepo) ListByCourseID(dbc dbctx.Context, courseID uuid.UUID) ([]*types.PublishedCourse, error) {
	var out []*types.PublishedCourse
	if courseID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("course_id = ?", courseID).Order("version ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *publishedCourseRepo) GetMaxVersion(dbc dbctx.Context, courseID uuid.UUID) (int, error) {
	if courseID == uuid.Nil {
		return 0, nil
	}
	var max int
	if err := dbc.DB(r.db).
		Model(&types.PublishedCourse{}).
		Select("COALESCE(MAX(version), 0)").
		Where("course_id = ?", courseID).
		Scan(&max).Error; err != nil {
		return 0, err
	}
	return max, nil
}

func (r *publishedCourseRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&types.PublishedCourse{}).
		Where("id = ?", id).
		Updates(updates).Error
}
