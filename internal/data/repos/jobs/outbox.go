package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type OutboxRepo interface {
	Create(dbc dbctx.Context, row *types.OutboxEntry) (*types.OutboxEntry, error)
	GetByDedupeKey(dbc dbctx.Context, key string) (*types.OutboxEntry, error)
	LockByID(dbc dbctx.Context, id uuid.UUID) (*types.OutboxEntry, error)
	ListDue(dbc dbctx.Context, now time.Time, limit int) ([]*types.OutboxEntry, error)
	CountByStatus(dbc dbctx.Context, status string) (int64, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type outboxRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutboxRepo(db *gorm.DB, baseLog *logger.Logger) OutboxRepo {
	return &outboxRepo{db: db, log: baseLog.With("repo", "OutboxRepo")}
}

func (r *outboxRepo) Create(dbc dbctx.Context, row *types.OutboxEntry) (*types.OutboxEntry, error) {
	if row == nil {
		return nil, nil
	}
	if err := dbc.DB(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *outboxRepo) GetByDedupeKey(dbc dbctx.Context, key string) (*types.OutboxEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var row types.OutboxEntry
	if err := dbc.DB(r.db).Where("dedupe_key = ?", key).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *outboxRepo) LockByID(dbc dbctx.Context, id uuid.UUID) (*types.OutboxEntry, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.OutboxEntry
	if err := dbc.DB(r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

// ListDue returns pending entries whose next attempt is at or before now.
func (r *outboxRepo) ListDue(dbc dbctx.Context, now time.Time, limit int) ([]*types.OutboxEntry, error) {
	var out []*types.OutboxEntry
	q := dbc.DB(r.db).
		Where("status = ? AND next_attempt_at <= ?", jobs.OutboxPending, now).
		Order("next_attempt_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *outboxRepo) CountByStatus(dbc dbctx.Context, status string) (int64, error) {
	var n int64
	if err := dbc.DB(r.db).Model(&types.OutboxEntry{}).Where("status = ?", status).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *outboxRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.OutboxEntry{}).
		Where("id = ?", id).
		Updates(updates).Error
}
