package billing

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	NotificationSubscriptionUpgraded    = "subscription_upgraded"
	NotificationSubscriptionDowngrade   = "subscription_downgrade_scheduled"
	NotificationCoursePurchased         = "course_purchased"
	NotificationSubscriptionRefundIssue = "subscription_refund_initiated"
)

type OrgNotification struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	TypeKey        string         `gorm:"column:type_key;not null;index" json:"type_key"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
	PerformedBy    *uuid.UUID     `gorm:"type:uuid" json:"performed_by"`
	// Optional dedupe key so retried deliveries land once.
	DedupeKey *string    `gorm:"column:dedupe_key;uniqueIndex" json:"dedupe_key"`
	ReadAt    *time.Time `gorm:"column:read_at" json:"read_at"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

func (OrgNotification) TableName() string { return "org_notifications" }

func (n *OrgNotification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

const (
	WebhookReceived  = "received"
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
	WebhookFailed    = "failed"
)

// PaymentWebhookEvent logs every provider delivery that passed the origin check.
type PaymentWebhookEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Provider  string    `gorm:"column:provider;not null" json:"provider"`
	Event     string    `gorm:"column:event;not null;index" json:"event"`
	Reference string    `gorm:"column:reference;index" json:"reference"`
	ClientIP  string    `gorm:"column:client_ip" json:"client_ip"`

	Signature      string `gorm:"column:signature" json:"signature"`
	SignatureValid *bool  `gorm:"column:signature_valid" json:"signature_valid"`

	Headers datatypes.JSON `gorm:"column:headers;type:jsonb" json:"headers"`
	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`

	// received|processed|ignored|failed
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	Error       string     `gorm:"column:error;type:text" json:"error"`
	ProcessedAt *time.Time `gorm:"column:processed_at" json:"processed_at"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (PaymentWebhookEvent) TableName() string { return "payment_webhook_events" }

func (e *PaymentWebhookEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
