package jobs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type SagaActionRepo interface {
	Create(dbc dbctx.Context, rows []*types.SagaAction) ([]*types.SagaAction, error)

	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SagaAction, error)
	ListBySagaID(dbc dbctx.Context, sagaID uuid.UUID) ([]*types.SagaAction, error)

	GetMaxSeq(dbc dbctx.Context, sagaID uuid.UUID) (int64, error)
}

type sagaActionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSagaActionRepo(db *gorm.DB, baseLog *logger.Logger) SagaActionRepo {
	return &sagaActionRepo{db: db, log: baseLog.With("repo", "SagaActionRepo")}
}

func (r *sagaActionRepo) Create(dbc dbctx.Context, rows []*types.SagaAction) ([]*types.SagaAction, error) {
	if len(rows) == 0 {
		return []*types.SagaAction{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *sagaActionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.SagaAction, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.SagaAction
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

// ListBySagaID returns actions in execution order.
func (r *sagaActionRepo) ListBySagaID(dbc dbctx.Context, sagaID uuid.UUID) ([]*types.SagaAction, error) {
	var out []*types.SagaAction
	if sagaID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("saga_id = ?", sagaID).
		Order("seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sagaActionRepo) GetMaxSeq(dbc dbctx.Context, sagaID uuid.UUID) (int64, error) {
	if sagaID == uuid.Nil {
		return 0, nil
	}
	var max int64
	if err := dbc.DB(r.db).
		Model(&types.SagaAction{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("saga_id = ?", sagaID).
		Scan(&max).Error; err != nil {
		return 0, err
	}
	return max, nil
}
