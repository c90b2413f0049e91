package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type SubscriptionRepo interface {
	Create(dbc dbctx.Context, rows []*types.OrganizationSubscription) ([]*types.OrganizationSubscription, error)
	GetByOrganizationID(dbc dbctx.Context, organizationID uuid.UUID) (*types.OrganizationSubscription, error)
	LockByOrganizationID(dbc dbctx.Context, organizationID uuid.UUID) (*types.OrganizationSubscription, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type subscriptionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubscriptionRepo(db *gorm.DB, baseLog *logger.Logger) SubscriptionRepo {
	return &subscriptionRepo{db: db, log: baseLog.With("repo", "SubscriptionRepo")}
}

func (r *subscriptionRepo) Create(dbc dbctx.Context, rows []*types.OrganizationSubscription) ([]*types.OrganizationSubscription, error) {
	if len(rows) == 0 {
		return []*types.OrganizationSubscription{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *subscriptionRepo) GetByOrganizationID(dbc dbctx.Context, organizationID uuid.UUID) (*types.OrganizationSubscription, error) {
	return r.byOrganization(dbc.DB(r.db), organizationID)
}

func (r *subscriptionRepo) LockByOrganizationID(dbc dbctx.Context, organizationID uuid.UUID) (*types.OrganizationSubscription, error) {
	return r.byOrganization(dbc.DB(r.db).Clauses(clause.Locking{Strength: "UPDATE"}), organizationID)
}

func (r *subscriptionRepo) byOrganization(q *gorm.DB, organizationID uuid.UUID) (*types.OrganizationSubscription, error) {
	if organizationID == uuid.Nil {
		return nil, nil
	}
	var row types.OrganizationSubscription
	if err := q.Where("organization_id = ?", organizationID).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *subscriptionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.OrganizationSubscription{}).
		Where("id = ?", id).
		Updates(updates).Error
}

type TierLimitsRepo interface {
	Upsert(dbc dbctx.Context, rows []*types.TierLimits) error
	GetByTier(dbc dbctx.Context, tier string) (*types.TierLimits, error)
}

type tierLimitsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTierLimitsRepo(db *gorm.DB, baseLog *logger.Logger) TierLimitsRepo {
	return &tierLimitsRepo{db: db, log: baseLog.With("repo", "TierLimitsRepo")}
}

func (r *tierLimitsRepo) Upsert(dbc dbctx.Context, rows []*types.TierLimits) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tier"}},
			DoUpdates: clause.AssignmentColumns([]string{"paystack_plan_code", "platform_fee_percentage", "price_monthly", "max_published_courses", "updated_at"}),
		}).
		Create(&rows).Error
}

func (r *tierLimitsRepo) GetByTier(dbc dbctx.Context, tier string) (*types.TierLimits, error) {
	tier = strings.TrimSpace(tier)
	if tier == "" {
		return nil, nil
	}
	var row types.TierLimits
	if err := dbc.DB(r.db).Where("tier = ?", tier).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.Tier == "" {
		return nil, nil
	}
	return &row, nil
}
