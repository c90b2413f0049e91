package courses

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type PricingTierRepo interface {
	Create(dbc dbctx.Context, rows []*types.CoursePricingTier) ([]*types.CoursePricingTier, error)
	ListByCourseID(dbc dbctx.Context, courseID uuid.UUID) ([]*types.CoursePricingTier, error)
}

type pricingTierRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPricingTierRepo(db *gorm.DB, baseLog *logger.Logger) PricingTierRepo {
	return &pricingTierRepo{db: db, log: baseLog.With("repo", "PricingTierRepo")}
}

func (r *pricingTierRepo) Create(dbc dbctx.Context, rows []*types.CoursePricingTier) ([]*types.CoursePricingTier, error) {
	if len(rows) == 0 {
		return []*types.CoursePricingTier{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *pricingTierRepo) ListByCourseID(dbc dbctx.Context, courseID uuid.UUID) ([]*types.CoursePricingTier, error) {
	var out []*types.CoursePricingTier
	if courseID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("course_id = ?", courseID).
		Order("position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
