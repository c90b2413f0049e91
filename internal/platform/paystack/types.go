package paystack

import (
	"encoding/json"
	"time"
)

// envelope is the common response shape of every Paystack endpoint.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Subscription struct {
	SubscriptionCode string        `json:"subscription_code"`
	EmailToken       string        `json:"email_token"`
	Status           string        `json:"status"`
	NextPaymentDate  *time.Time    `json:"next_payment_date"`
	Plan             Plan          `json:"plan"`
	Authorization    Authorization `json:"authorization"`
	Customer         Customer      `json:"customer"`
}

func (s Subscription) IsActive() bool {
	return s.Status == "active" || s.Status == "non-renewing"
}

type Plan struct {
	PlanCode string `json:"plan_code"`
	Name     string `json:"name"`
	Interval string `json:"interval"`
}

type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Reusable          bool   `json:"reusable"`
}

type Customer struct {
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

type CreateSubscriptionRequest struct {
	Customer      string     `json:"customer"`
	Plan          string     `json:"plan"`
	Authorization string     `json:"authorization,omitempty"`
	StartDate     *time.Time `json:"start_date,omitempty"`
}

type DisableSubscriptionRequest struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

type RefundRequest struct {
	Transaction  string `json:"transaction"`
	MerchantNote string `json:"merchant_note,omitempty"`
	CustomerNote string `json:"customer_note,omitempty"`
}

type Refund struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}
