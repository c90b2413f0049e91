package aggregates

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

// CASGuard performs compare-and-set updates keyed on a row's status column.
type CASGuard struct {
	db *gorm.DB
}

func NewCASGuard(db *gorm.DB) CASGuard {
	return CASGuard{db: db}
}

// UpdateByStatus updates model's row id only while its status is one of allowed.
// It reports whether a row changed.
func (g CASGuard) UpdateByStatus(dbc dbctx.Context, model interface{}, id uuid.UUID, allowed []string, updates map[string]interface{}) (bool, error) {
	if dbc.Tx == nil && g.db == nil {
		return false, ValidationError("missing db transaction context")
	}
	if id == uuid.Nil {
		return false, ValidationError("id is required for UpdateByStatus")
	}
	if len(allowed) == 0 {
		return false, ValidationError("allowed statuses must not be empty")
	}
	res := dbc.DB(g.db).Model(model).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RequireCASSuccess turns a lost compare-and-set into a conflict.
func RequireCASSuccess(ok bool, message string) error {
	if ok {
		return nil
	}
	return ConflictError(message)
}

// RequireStatusAllowed fails with a conflict unless current is one of allowed.
func RequireStatusAllowed(current string, allowed ...string) error {
	if len(allowed) == 0 {
		return ValidationError("allowed statuses cannot be empty")
	}
	current = strings.TrimSpace(current)
	for _, s := range allowed {
		if strings.EqualFold(current, s) {
			return nil
		}
	}
	return ConflictError("status transition not allowed from " + current)
}
