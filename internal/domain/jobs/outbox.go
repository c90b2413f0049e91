package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	OutboxPending = "pending"
	OutboxDone    = "done"
	OutboxDead    = "dead"

	OutboxKindLedgerEntry     = "ledger_entry"
	OutboxKindOrgNotification = "org_notification"
	OutboxKindRefundEntry     = "refund_entry"
	OutboxKindRefundRetry     = "refund_retry"
)

// OutboxEntry is a side effect that failed inline and is retried by the dispatcher.
type OutboxEntry struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Kind      string         `gorm:"column:kind;not null;index" json:"kind"`
	DedupeKey string         `gorm:"column:dedupe_key;not null;uniqueIndex" json:"dedupe_key"`
	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`

	// pending|done|dead
	Status        string    `gorm:"column:status;not null;index:idx_outbox_due,priority:1" json:"status"`
	Attempts      int       `gorm:"column:attempts;not null" json:"attempts"`
	NextAttemptAt time.Time `gorm:"column:next_attempt_at;not null;index:idx_outbox_due,priority:2" json:"next_attempt_at"`
	LastError     string    `gorm:"column:last_error;type:text" json:"last_error"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (OutboxEntry) TableName() string { return "side_effect_outbox" }

func (e *OutboxEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
