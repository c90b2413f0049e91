package paystackevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"

	TransactionCourseSale          = "course_sale"
	TransactionSubscriptionUpgrade = "subscription_upgrade"
)

var ErrMalformed = errors.New("malformed webhook payload")

// FieldError names one missing or invalid field, using the wire path.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// MetadataError is returned when a handled event lacks the metadata its flow needs.
type MetadataError struct {
	Fields []FieldError
}

func (e *MetadataError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Reason)
	}
	return "invalid webhook metadata: " + strings.Join(parts, ", ")
}

type Event struct {
	Event string     `json:"event" validate:"required"`
	Data  ChargeData `json:"data"`
}

type ChargeData struct {
	ID              int64          `json:"id"`
	Status          string         `json:"status"`
	Reference       string         `json:"reference"`
	Amount          int64          `json:"amount"`
	Fees            *int64         `json:"fees"`
	Currency        string         `json:"currency"`
	Channel         string         `json:"channel"`
	GatewayResponse string         `json:"gateway_response"`
	PaidAt          *time.Time     `json:"paid_at"`
	CreatedAt       *time.Time     `json:"created_at"`
	Metadata        Metadata       `json:"metadata"`
	Customer        Customer       `json:"customer"`
	Authorization   *Authorization `json:"authorization"`
}

type Customer struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone"`
}

type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Reusable          bool   `json:"reusable"`
	Channel           string `json:"channel"`
	CardType          string `json:"card_type"`
	Last4             string `json:"last4"`
}

// Metadata is the caller-supplied bag attached at checkout. Paystack may send it
// as an object or as a JSON-encoded string; both decode here.
type Metadata struct {
	TransactionType string `json:"transaction_type"`

	UserID            string `json:"userId"`
	PublishedCourseID string `json:"publishedCourseId"`
	PricingTierID     string `json:"pricingTierId"`

	OrganizationID    string `json:"organizationId"`
	CurrentTier       string `json:"currentTier"`
	TargetTier        string `json:"targetTier"`
	OrganizationEmail string `json:"organizationEmail"`
	NewPlanCode       string `json:"newPlanCode"`
	InitiatedBy       string `json:"initiatedBy"`

	Raw json.RawMessage `json:"-"`
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*m = Metadata{}
		return nil
	}
	if b[0] == '"' {
		var inner string
		if err := json.Unmarshal(b, &inner); err != nil {
			return err
		}
		b = []byte(inner)
	}
	type plain Metadata
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	*m = Metadata(out)
	m.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Parse decodes a webhook body. Unknown fields are tolerated; structural
// mismatches are reported as ErrMalformed.
func Parse(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(ev.Event) == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	return &ev, nil
}

// Handled reports whether the event type carries business logic.
func (e *Event) Handled() bool {
	return e.Event == EventChargeSuccess || e.Event == EventChargeFailed
}

// ToMajor converts an amount in minor currency units to major units.
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

type CourseSale struct {
	Reference         string
	TransactionID     string
	UserID            uuid.UUID
	PublishedCourseID uuid.UUID
	PricingTierID     uuid.UUID
	Amount            decimal.Decimal
	Fee               decimal.Decimal
	Settlement        decimal.Decimal
	Currency          string
	PaymentMethod     string
	PaidAt            time.Time
	Customer          Customer
}

type courseSaleFields struct {
	Reference         string `json:"data.reference" validate:"required"`
	UserID            string `json:"metadata.userId" validate:"required,uuid"`
	PublishedCourseID string `json:"metadata.publishedCourseId" validate:"required,uuid"`
	PricingTierID     string `json:"metadata.pricingTierId" validate:"required,uuid"`
	Amount            int64  `json:"data.amount" validate:"gt=0"`
}

// CourseSale extracts the course sale from a charge.success event.
func (e *Event) CourseSale() (*CourseSale, error) {
	d := e.Data
	if err := check(courseSaleFields{
		Reference:         d.Reference,
		UserID:            d.Metadata.UserID,
		PublishedCourseID: d.Metadata.PublishedCourseID,
		PricingTierID:     d.Metadata.PricingTierID,
		Amount:            d.Amount,
	}); err != nil {
		return nil, err
	}
	amount, fee := e.amounts()
	return &CourseSale{
		Reference:         d.Reference,
		TransactionID:     fmt.Sprint(d.ID),
		UserID:            uuid.MustParse(d.Metadata.UserID),
		PublishedCourseID: uuid.MustParse(d.Metadata.PublishedCourseID),
		PricingTierID:     uuid.MustParse(d.Metadata.PricingTierID),
		Amount:            amount,
		Fee:               fee,
		Settlement:        amount.Sub(fee),
		Currency:          strings.ToUpper(d.Currency),
		PaymentMethod:     d.Channel,
		PaidAt:            e.paidAt(),
		Customer:          d.Customer,
	}, nil
}

type SubscriptionUpgrade struct {
	Reference         string
	TransactionID     string
	OrganizationID    uuid.UUID
	CurrentTier       string
	TargetTier        string
	OrganizationEmail string
	NewPlanCode       string
	InitiatedBy       *uuid.UUID
	Amount            decimal.Decimal
	Fee               decimal.Decimal
	Currency          string
	CustomerCode      string
	AuthorizationCode string
}

type upgradeFields struct {
	Reference         string `json:"data.reference" validate:"required"`
	OrganizationID    string `json:"metadata.organizationId" validate:"required,uuid"`
	CurrentTier       string `json:"metadata.currentTier" validate:"required"`
	TargetTier        string `json:"metadata.targetTier" validate:"required"`
	OrganizationEmail string `json:"metadata.organizationEmail" validate:"required,email"`
	InitiatedBy       string `json:"metadata.initiatedBy" validate:"omitempty,uuid"`
}

// SubscriptionUpgrade extracts the upgrade request from a charge.success event.
func (e *Event) SubscriptionUpgrade() (*SubscriptionUpgrade, error) {
	d := e.Data
	m := d.Metadata
	if err := check(upgradeFields{
		Reference:         d.Reference,
		OrganizationID:    m.OrganizationID,
		CurrentTier:       m.CurrentTier,
		TargetTier:        m.TargetTier,
		OrganizationEmail: m.OrganizationEmail,
		InitiatedBy:       m.InitiatedBy,
	}); err != nil {
		return nil, err
	}
	amount, fee := e.amounts()
	out := &SubscriptionUpgrade{
		Reference:         d.Reference,
		TransactionID:     fmt.Sprint(d.ID),
		OrganizationID:    uuid.MustParse(m.OrganizationID),
		CurrentTier:       m.CurrentTier,
		TargetTier:        m.TargetTier,
		OrganizationEmail: m.OrganizationEmail,
		NewPlanCode:       m.NewPlanCode,
		Amount:            amount,
		Fee:               fee,
		Currency:          strings.ToUpper(d.Currency),
		CustomerCode:      d.Customer.CustomerCode,
	}
	if m.InitiatedBy != "" {
		id := uuid.MustParse(m.InitiatedBy)
		out.InitiatedBy = &id
	}
	if d.Authorization != nil && d.Authorization.Reusable {
		out.AuthorizationCode = d.Authorization.AuthorizationCode
	}
	return out, nil
}

func (e *Event) amounts() (decimal.Decimal, decimal.Decimal) {
	amount := ToMajor(e.Data.Amount)
	fee := decimal.Zero
	if e.Data.Fees != nil {
		fee = ToMajor(*e.Data.Fees)
	}
	return amount, fee
}

func (e *Event) paidAt() time.Time {
	if e.Data.PaidAt != nil {
		return e.Data.PaidAt.UTC()
	}
	return time.Now().UTC()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return v
}

func check(fields interface{}) error {
	err := validate.Struct(fields)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &MetadataError{}
	for _, fe := range verrs {
		reason := "is invalid"
		switch fe.Tag() {
		case "required":
			reason = "is required"
		case "uuid":
			reason = "must be a UUID"
		case "email":
			reason = "must be an email"
		case "gt":
			reason = "must be positive"
		}
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Reason: reason})
	}
	return out
}
