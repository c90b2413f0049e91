package billing

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type NotificationRepo interface {
	Create(dbc dbctx.Context, rows []*types.OrgNotification) ([]*types.OrgNotification, error)
	GetByDedupeKey(dbc dbctx.Context, key string) (*types.OrgNotification, error)
	ListByOrganizationID(dbc dbctx.Context, organizationID uuid.UUID, limit int) ([]*types.OrgNotification, error)
}

type notificationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNotificationRepo(db *gorm.DB, baseLog *logger.Logger) NotificationRepo {
	return &notificationRepo{db: db, log: baseLog.With("repo", "NotificationRepo")}
}

func (r *notificationRepo) Create(dbc dbctx.Context, rows []*types.OrgNotification) ([]*types.OrgNotification, error) {
	if len(rows) == 0 {
		return []*types.OrgNotification{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *notificationRepo) GetByDedupeKey(dbc dbctx.Context, key string) (*types.OrgNotification, error) {
	if key == "" {
		return nil, nil
	}
	var row types.OrgNotification
	if err := dbc.DB(r.db).Where("dedupe_key = ?", key).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *notificationRepo) ListByOrganizationID(dbc dbctx.Context, organizationID uuid.UUID, limit int) ([]*types.OrgNotification, error) {
	var out []*types.OrgNotification
	if organizationID == uuid.Nil {
		return out, nil
	}
	q := dbc.DB(r.db).Where("organization_id = ?", organizationID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type WebhookEventRepo interface {
	Create(dbc dbctx.Context, row *types.PaymentWebhookEvent) (*types.PaymentWebhookEvent, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ListByReference(dbc dbctx.Context, reference string) ([]*types.PaymentWebhookEvent, error)
}

type webhookEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWebhookEventRepo(db *gorm.DB, baseLog *logger.Logger) WebhookEventRepo {
	return &webhookEventRepo{db: db, log: baseLog.With("repo", "WebhookEventRepo")}
}

func (r *webhookEventRepo) Create(dbc dbctx.Context, row *types.PaymentWebhookEvent) (*types.PaymentWebhookEvent, error) {
	if row == nil {
		return nil, nil
	}
	if err := dbc.DB(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *webhookEventRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.PaymentWebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *webhookEventRepo) ListByReference(dbc dbctx.Context, reference string) ([]*types.PaymentWebhookEvent, error) {
	var out []*types.PaymentWebhookEvent
	if reference == "" {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("reference = ?", reference).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
