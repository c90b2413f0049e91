package courses

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type EnrollmentRepo interface {
	Create(dbc dbctx.Context, rows []*types.Enrollment) ([]*types.Enrollment, error)
	GetByPaymentReference(dbc dbctx.Context, reference string) (*types.Enrollment, error)
	CountByUserAndCourse(dbc dbctx.Context, userID, publishedCourseID uuid.UUID) (int64, error)
}

type enrollmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEnrollmentRepo(db *gorm.DB, baseLog *logger.Logger) EnrollmentRepo {
	return &enrollmentRepo{db: db, log: baseLog.With("repo", "EnrollmentRepo")}
}

func (r *enrollmentRepo) Create(dbc dbctx.Context, rows []*types.Enrollment) ([]*types.Enrollment, error) {
	if len(rows) == 0 {
		return []*types.Enrollment{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *enrollmentRepo) GetByPaymentReference(dbc dbctx.Context, reference string) (*types.Enrollment, error) {
	if reference == "" {
		return nil, nil
	}
	var row types.Enrollment
	if err := dbc.DB(r.db).Where("payment_reference = ?", reference).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *enrollmentRepo) CountByUserAndCourse(dbc dbctx.Context, userID, publishedCourseID uuid.UUID) (int64, error) {
	var n int64
	if err := dbc.DB(r.db).
		Model(&types.Enrollment{}).
		Where("user_id = ? AND published_course_id = ?", userID, publishedCourseID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
