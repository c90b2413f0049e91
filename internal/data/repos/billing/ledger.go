package billing

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

// LedgerQuery narrows a ledger lookup. Empty fields are not filtered on.
type LedgerQuery struct {
	PaymentReference      string
	Type                  string
	DestinationWalletType string
	RelatedEntityID       uuid.UUID
}

type LedgerRepo interface {
	Create(dbc dbctx.Context, rows []*types.WalletLedgerEntry) ([]*types.WalletLedgerEntry, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.WalletLedgerEntry, error)
	FindOne(dbc dbctx.Context, q LedgerQuery) (*types.WalletLedgerEntry, error)
	ListByPaymentReference(dbc dbctx.Context, reference string) ([]*types.WalletLedgerEntry, error)
}

type ledgerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLedgerRepo(db *gorm.DB, baseLog *logger.Logger) LedgerRepo {
	return &ledgerRepo{db: db, log: baseLog.With("repo", "LedgerRepo")}
}

func (r *ledgerRepo) Create(dbc dbctx.Context, rows []*types.WalletLedgerEntry) ([]*types.WalletLedgerEntry, error) {
	if len(rows) == 0 {
		return []*types.WalletLedgerEntry{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ledgerRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.WalletLedgerEntry, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.WalletLedgerEntry
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *ledgerRepo) FindOne(dbc dbctx.Context, q LedgerQuery) (*types.WalletLedgerEntry, error) {
	if strings.TrimSpace(q.PaymentReference) == "" && q.RelatedEntityID == uuid.Nil {
		return nil, nil
	}
	tx := dbc.DB(r.db)
	if q.PaymentReference != "" {
		tx = tx.Where("payment_reference = ?", q.PaymentReference)
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.DestinationWalletType != "" {
		tx = tx.Where("destination_wallet_type = ?", q.DestinationWalletType)
	}
	if q.RelatedEntityID != uuid.Nil {
		tx = tx.Where("related_entity_id = ?", q.RelatedEntityID)
	}
	var row types.WalletLedgerEntry
	if err := tx.Order("created_at ASC").Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *ledgerRepo) ListByPaymentReference(dbc dbctx.Context, reference string) ([]*types.WalletLedgerEntry, error) {
	var out []*types.WalletLedgerEntry
	if reference == "" {
		return out, nil
	}
	if err := dbc.DB(r.db).Where("payment_reference = ?", reference).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
