package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SagaRun is the durable header row for one multi-step provider choreography.
// Reference is the business key (the payment reference for upgrades).
type SagaRun struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Kind           string    `gorm:"column:kind;not null;index" json:"kind"`
	Reference      string    `gorm:"column:reference;not null;uniqueIndex" json:"reference"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index" json:"organization_id"`

	// running|succeeded|failed|compensating|compensated
	Status string `gorm:"column:status;not null;index" json:"status"`
	Error  string `gorm:"column:error;type:text" json:"error"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime;index" json:"updated_at"`
}

func (SagaRun) TableName() string { return "saga_run" }

func (r *SagaRun) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

const (
	SagaPhaseExecute    = "execute"
	SagaPhaseCompensate = "compensate"
)

// SagaAction records one executed step or compensation of a saga run.
type SagaAction struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	SagaID uuid.UUID `gorm:"type:uuid;not null;index:idx_saga_action_saga_seq,unique,priority:1;index" json:"saga_id"`
	Seq    int64     `gorm:"column:seq;type:bigint;not null;index:idx_saga_action_saga_seq,unique,priority:2" json:"seq"`

	// disable_subscription|create_subscription|update_local_subscription|refund_payment|...
	Kind string `gorm:"column:kind;not null;index" json:"kind"`
	// execute|compensate
	Phase string `gorm:"column:phase;not null" json:"phase"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result  datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`

	// pending|done|failed
	Status string `gorm:"column:status;not null;index" json:"status"`
	Error  string `gorm:"column:error;type:text" json:"error"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (SagaAction) TableName() string { return "saga_action" }

func (a *SagaAction) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
