package billing

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type CoursePaymentRepo interface {
	Create(dbc dbctx.Context, rows []*types.CoursePayment) ([]*types.CoursePayment, error)
	GetByPaymentReference(dbc dbctx.Context, reference string) (*types.CoursePayment, error)
}

type coursePaymentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCoursePaymentRepo(db *gorm.DB, baseLog *logger.Logger) CoursePaymentRepo {
	return &coursePaymentRepo{db: db, log: baseLog.With("repo", "CoursePaymentRepo")}
}

func (r *coursePaymentRepo) Create(dbc dbctx.Context, rows []*types.CoursePayment) ([]*types.CoursePayment, error) {
	if len(rows) == 0 {
		return []*types.CoursePayment{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *coursePaymentRepo) GetByPaymentReference(dbc dbctx.Context, reference string) (*types.CoursePayment, error) {
	if reference == "" {
		return nil, nil
	}
	var row types.CoursePayment
	if err := dbc.DB(r.db).Where("payment_reference = ?", reference).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}
