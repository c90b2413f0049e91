package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/paystackevent"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/saga"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/apierr"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/platform/paystack"
)

const providerPaystack = "paystack"

// DefaultPaystackIPs are the addresses Paystack sends webhooks from.
var DefaultPaystackIPs = []string{"52.31.139.75", "52.49.173.169", "52.214.14.220"}

type WebhookConfig struct {
	AllowedIPs      []string
	SecretKey       string
	VerifySignature bool
}

type WebhookRequest struct {
	Body      []byte
	Headers   map[string]string
	ClientIP  string
	Signature string
}

// WebhookResponse is rendered as-is to the provider.
type WebhookResponse struct {
	Status  int  `json:"-"`
	ignored bool

	Received     bool                       `json:"received"`
	Message      string                     `json:"message,omitempty"`
	Error        string                     `json:"error,omitempty"`
	Fields       []paystackevent.FieldError `json:"fields,omitempty"`
	Reference    string                     `json:"reference,omitempty"`
	EnrollmentID *uuid.UUID                 `json:"enrollment_id,omitempty"`
	AmountPaid   *decimal.Decimal           `json:"amount_paid,omitempty"`
	Duplicate    bool                       `json:"duplicate,omitempty"`
	Upgrade      *UpgradeResult             `json:"upgrade,omitempty"`
	RefundStatus string                     `json:"refund_status,omitempty"`
}

type WebhookService interface {
	Handle(ctx context.Context, req WebhookRequest) WebhookResponse
}

type webhookService struct {
	log      *logger.Logger
	events   repos.WebhookEventRepo
	payments domainagg.PaymentAggregate
	subAgg   domainagg.SubscriptionAggregate
	subs     SubscriptionService
	side     SideEffects
	metrics  *observability.Metrics
	allowed  map[string]bool
	cfg      WebhookConfig
}

type WebhookServiceDeps struct {
	Events        repos.WebhookEventRepo
	Payments      domainagg.PaymentAggregate
	SubAgg        domainagg.SubscriptionAggregate
	Subscriptions SubscriptionService
	SideEffects   SideEffects
	Metrics       *observability.Metrics
}

func NewWebhookService(baseLog *logger.Logger, deps WebhookServiceDeps, cfg WebhookConfig) WebhookService {
	ips := cfg.AllowedIPs
	if len(ips) == 0 {
		ips = DefaultPaystackIPs
	}
	allowed := make(map[string]bool, len(ips))
	for _, ip := range ips {
		if ip = strings.TrimSpace(ip); ip != "" {
			allowed[ip] = true
		}
	}
	return &webhookService{
		log:      baseLog.With("service", "WebhookService"),
		events:   deps.Events,
		payments: deps.Payments,
		subAgg:   deps.SubAgg,
		subs:     deps.Subscriptions,
		side:     deps.SideEffects,
		metrics:  deps.Metrics,
		allowed:  allowed,
		cfg:      cfg,
	}
}

func (s *webhookService) Handle(ctx context.Context, req WebhookRequest) (resp WebhookResponse) {
	if !s.allowed[req.ClientIP] {
		s.log.Warn("webhook from untrusted origin", "client_ip", req.ClientIP)
		s.metrics.IncWebhook("unknown", "forbidden")
		return WebhookResponse{Status: http.StatusForbidden, Error: "forbidden"}
	}

	var (
		eventID   *uuid.UUID
		eventName = "unknown"
	)
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("webhook handler panicked", "panic", fmt.Sprint(rec))
			resp = WebhookResponse{Status: http.StatusInternalServerError, Error: "internal error"}
		}
		s.finish(ctx, eventID, resp)
		s.metrics.IncWebhook(eventName, webhookOutcome(resp))
	}()

	ev, parseErr := paystackevent.Parse(req.Body)
	if ev != nil {
		eventName = ev.Event
	}
	sigValid := s.checkSignature(req)
	eventID = s.record(ctx, req, ev, sigValid)

	if s.cfg.VerifySignature && (sigValid == nil || !*sigValid) {
		s.log.Warn("webhook signature rejected", "client_ip", req.ClientIP)
		return WebhookResponse{Status: http.StatusUnauthorized, Error: "invalid signature"}
	}
	if parseErr != nil {
		s.log.Warn("webhook payload rejected", "error", parseErr)
		return WebhookResponse{Status: http.StatusBadRequest, Error: parseErr.Error()}
	}
	log := s.log.With("event", ev.Event, "reference", ev.Data.Reference)

	if !ev.Handled() {
		log.Info("webhook event acknowledged without processing")
		return WebhookResponse{Status: http.StatusOK, Received: true, Message: "event ignored", ignored: true}
	}
	if ev.Event == paystackevent.EventChargeFailed {
		log.Info("charge failed", "gateway_response", ev.Data.GatewayResponse, "transaction_type", ev.Data.Metadata.TransactionType)
		return WebhookResponse{Status: http.StatusOK, Received: true, Message: "charge failure noted", Reference: ev.Data.Reference, ignored: true}
	}

	switch ev.Data.Metadata.TransactionType {
	case paystackevent.TransactionCourseSale:
		return s.courseSale(ctx, log, ev, req)
	case paystackevent.TransactionSubscriptionUpgrade:
		return s.subscriptionUpgrade(ctx, log, ev)
	}
	log.Info("charge.success with unhandled transaction type", "transaction_type", ev.Data.Metadata.TransactionType)
	return WebhookResponse{Status: http.StatusOK, Received: true, Message: "event ignored", Reference: ev.Data.Reference, ignored: true}
}

func (s *webhookService) courseSale(ctx context.Context, log *logger.Logger, ev *paystackevent.Event, req WebhookRequest) WebhookResponse {
	sale, err := ev.CourseSale()
	if err != nil {
		return metadataRejection(log, err)
	}
	res, err := s.payments.ProcessCoursePayment(ctx, domainagg.ProcessCoursePaymentInput{
		PaymentReference:  sale.Reference,
		TransactionID:     sale.TransactionID,
		UserID:            sale.UserID,
		PublishedCourseID: sale.PublishedCourseID,
		PricingTierID:     sale.PricingTierID,
		Amount:            sale.Amount,
		ProviderFee:       sale.Fee,
		CurrencyCode:      sale.Currency,
		PaymentMethod:     sale.PaymentMethod,
		PaidAt:            sale.PaidAt,
		Metadata:          saleMetadata(ev, req),
	})
	if err != nil {
		log.Error("course payment processing failed", "error", err)
		return WebhookResponse{Status: http.StatusInternalServerError, Error: err.Error(), Reference: sale.Reference}
	}
	log.Info("course payment processed", "enrollment_id", res.EnrollmentID, "amount_paid", res.AmountPaid.String(), "duplicate", res.Duplicate)

	if !res.Duplicate {
		userID := sale.UserID
		in := domainagg.OrgNotificationInput{
			OrganizationID: res.OrganizationID,
			TypeKey:        billing.NotificationCoursePurchased,
			Metadata: mustJSON(map[string]interface{}{
				"published_course_id": sale.PublishedCourseID,
				"pricing_tier_id":     sale.PricingTierID,
				"enrollment_id":       res.EnrollmentID,
				"amount":              res.AmountPaid.String(),
				"org_payout":          res.OrgPayout.String(),
				"currency":            sale.Currency,
			}),
			PerformedBy: &userID,
			DedupeKey:   "purchase:" + sale.Reference,
		}
		if _, err := s.subAgg.InsertOrgNotification(ctx, in); err != nil {
			log.Warn("purchase notification failed, deferring", "error", err)
			s.side.Defer(ctx, jobs.OutboxKindOrgNotification, "notification:"+in.DedupeKey, in, err)
		}
	}

	enrollmentID := res.EnrollmentID
	amount := res.AmountPaid
	return WebhookResponse{
		Status:       http.StatusOK,
		Received:     true,
		Message:      "payment processed",
		Reference:    res.PaymentReference,
		EnrollmentID: &enrollmentID,
		AmountPaid:   &amount,
		Duplicate:    res.Duplicate,
	}
}

func (s *webhookService) subscriptionUpgrade(ctx context.Context, log *logger.Logger, ev *paystackevent.Event) WebhookResponse {
	up, err := ev.SubscriptionUpgrade()
	if err != nil {
		return metadataRejection(log, err)
	}
	res, err := s.subs.Upgrade(ctx, *up)
	if err != nil {
		var ue *UpgradeError
		if errors.As(err, &ue) {
			return WebhookResponse{
				Status:       ue.HTTPStatus(),
				Error:        ue.Error(),
				Reference:    up.Reference,
				RefundStatus: ue.RefundStatus,
			}
		}
		status, _ := apierr.StatusOf(err)
		return WebhookResponse{Status: status, Error: err.Error(), Reference: up.Reference}
	}
	msg := "subscription upgraded"
	switch {
	case res.AlreadyProcessed && res.SagaStatus == saga.StatusSucceeded:
		msg = "subscription upgrade already processed"
	case res.AlreadyProcessed:
		// Acknowledged so the provider stops retrying, but not reported as an upgrade.
		msg = fmt.Sprintf("subscription upgrade previously aborted (saga status: %s)", res.SagaStatus)
	}
	return WebhookResponse{Status: http.StatusOK, Received: true, Message: msg, Reference: up.Reference, Upgrade: res}
}

func metadataRejection(log *logger.Logger, err error) WebhookResponse {
	log.Warn("webhook metadata rejected", "error", err)
	resp := WebhookResponse{Status: http.StatusBadRequest, Error: err.Error()}
	var me *paystackevent.MetadataError
	if errors.As(err, &me) {
		resp.Error = "missing required metadata"
		resp.Fields = me.Fields
	}
	return resp
}

func saleMetadata(ev *paystackevent.Event, req WebhookRequest) json.RawMessage {
	d := ev.Data
	bundle := map[string]interface{}{
		"webhook_headers": req.Headers,
		"transaction": map[string]interface{}{
			"id":               d.ID,
			"status":           d.Status,
			"reference":        d.Reference,
			"amount":           d.Amount,
			"fees":             d.Fees,
			"currency":         d.Currency,
			"channel":          d.Channel,
			"gateway_response": d.GatewayResponse,
			"paid_at":          d.PaidAt,
		},
		"customer": d.Customer,
	}
	if len(d.Metadata.Raw) > 0 {
		bundle["request_metadata"] = d.Metadata.Raw
	}
	if d.Authorization != nil {
		bundle["authorization"] = map[string]interface{}{
			"channel":   d.Authorization.Channel,
			"card_type": d.Authorization.CardType,
			"last4":     d.Authorization.Last4,
		}
	}
	return mustJSON(bundle)
}

// checkSignature returns nil when no secret is configured.
func (s *webhookService) checkSignature(req WebhookRequest) *bool {
	if strings.TrimSpace(s.cfg.SecretKey) == "" {
		if req.Signature != "" {
			s.log.Debug("webhook signature present but no secret configured")
		}
		return nil
	}
	ok := paystack.VerifySignature(s.cfg.SecretKey, req.Body, req.Signature)
	if !ok && !s.cfg.VerifySignature {
		s.log.Warn("webhook signature mismatch (not enforced)", "client_ip", req.ClientIP)
	}
	return &ok
}

func (s *webhookService) record(ctx context.Context, req WebhookRequest, ev *paystackevent.Event, sigValid *bool) *uuid.UUID {
	if s.events == nil {
		return nil
	}
	row := &types.PaymentWebhookEvent{
		Provider:       providerPaystack,
		Event:          "unparsed",
		ClientIP:       req.ClientIP,
		Signature:      req.Signature,
		SignatureValid: sigValid,
		Headers:        datatypes.JSON(mustJSON(req.Headers)),
		Payload:        datatypes.JSON(rawOrEmpty(req.Body)),
		Status:         billing.WebhookReceived,
	}
	if ev != nil {
		row.Event = ev.Event
		row.Reference = ev.Data.Reference
	}
	created, err := s.events.Create(dbctx.Context{Ctx: ctx}, row)
	if err != nil || created == nil {
		s.log.Warn("webhook event log write failed", "error", err)
		return nil
	}
	return &created.ID
}

func (s *webhookService) finish(ctx context.Context, id *uuid.UUID, resp WebhookResponse) {
	if id == nil || s.events == nil {
		return
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       webhookStatus(resp),
		"processed_at": now,
		"error":        resp.Error,
	}
	if err := s.events.UpdateFields(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, *id, updates); err != nil {
		s.log.Warn("webhook event status update failed", "event_id", *id, "error", err)
	}
}

func webhookStatus(resp WebhookResponse) string {
	switch {
	case resp.Status >= 400:
		return billing.WebhookFailed
	case resp.ignored:
		return billing.WebhookIgnored
	}
	return billing.WebhookProcessed
}

func webhookOutcome(resp WebhookResponse) string {
	switch {
	case resp.Status == http.StatusForbidden:
		return "forbidden"
	case resp.Status >= 500:
		return "error"
	case resp.Status >= 400:
		return "rejected"
	case resp.Duplicate:
		return "duplicate"
	}
	return webhookStatus(resp)
}

// rawOrEmpty keeps only bodies that are valid JSON.
func rawOrEmpty(body []byte) json.RawMessage {
	if json.Valid(body) {
		return body
	}
	return mustJSON(map[string]string{"raw": string(body)})
}
