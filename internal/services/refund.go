package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/platform/paystack"
)

const (
	RefundReasonSubscriptionCreationFailed = "subscription_creation_failed"
	RefundReasonTierUpdateFailed           = "tier_update_failed"
	RefundReasonManual                     = "manual_refund"
)

var validRefundReasons = map[string]bool{
	RefundReasonSubscriptionCreationFailed: true,
	RefundReasonTierUpdateFailed:           true,
	RefundReasonManual:                     true,
}

type RefundRequest struct {
	PaymentReference string    `json:"payment_reference"`
	OrganizationID   uuid.UUID `json:"organization_id"`
	Reason           string    `json:"reason"`
}

// RefundOutcome is never paired with an error; failures set Success=false.
type RefundOutcome struct {
	Success          bool             `json:"success"`
	Error            string           `json:"error,omitempty"`
	Status           string           `json:"status,omitempty"`
	ProviderRefundID string           `json:"provider_refund_id,omitempty"`
	RefundEntryID    *uuid.UUID       `json:"refund_entry_id,omitempty"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Duplicate        bool             `json:"duplicate,omitempty"`
	// LedgerDeferred is set when the provider refunded but the debit entry
	// was handed to the outbox.
	LedgerDeferred bool `json:"ledger_deferred,omitempty"`
	// RetryQueued is set when the refund itself failed and was handed to the
	// outbox for another attempt.
	RetryQueued bool `json:"retry_queued,omitempty"`
}

// RefundStatusRetryQueued reports a refund that failed inline and is retried
// by the outbox dispatcher.
const RefundStatusRetryQueued = "retry_queued"

type RefundService interface {
	RefundSubscriptionPayment(ctx context.Context, req RefundRequest) RefundOutcome
}

type refundService struct {
	log      *logger.Logger
	ledger   repos.LedgerRepo
	payments domainagg.PaymentAggregate
	provider paystack.Client
	side     SideEffects
}

func NewRefundService(
	baseLog *logger.Logger,
	ledger repos.LedgerRepo,
	payments domainagg.PaymentAggregate,
	provider paystack.Client,
	side SideEffects,
) RefundService {
	return &refundService{
		log:      baseLog.With("service", "RefundService"),
		ledger:   ledger,
		payments: payments,
		provider: provider,
		side:     side,
	}
}

func (s *refundService) RefundSubscriptionPayment(ctx context.Context, req RefundRequest) RefundOutcome {
	log := s.log.With("reference", req.PaymentReference, "organization_id", req.OrganizationID, "reason", req.Reason)
	reference := strings.TrimSpace(req.PaymentReference)
	if reference == "" || req.OrganizationID == uuid.Nil {
		return RefundOutcome{Error: "payment reference and organization id are required"}
	}
	if !validRefundReasons[req.Reason] {
		return RefundOutcome{Error: "unknown refund reason " + req.Reason}
	}

	dbc := dbctx.Context{Ctx: ctx}
	original, err := s.ledger.FindOne(dbc, repos.LedgerQuery{
		PaymentReference:      reference,
		Type:                  billing.LedgerTypeSubscriptionPayment,
		DestinationWalletType: billing.WalletPlatform,
		RelatedEntityID:       req.OrganizationID,
	})
	if err != nil {
		log.Error("refund lookup failed", "error", err)
		return RefundOutcome{Error: "failed to look up original payment"}
	}
	if original == nil {
		log.Warn("refund refused: no ledger entry for payment")
		return RefundOutcome{Error: "original payment not found in ledger"}
	}

	existing, err := s.ledger.FindOne(dbc, repos.LedgerQuery{
		PaymentReference: reference,
		Type:             billing.LedgerTypeRefund,
		RelatedEntityID:  original.ID,
	})
	if err != nil {
		log.Error("refund idempotency check failed", "error", err)
		return RefundOutcome{Error: "failed to check for an existing refund"}
	}
	if existing != nil {
		log.Info("refund already recorded", "refund_entry_id", existing.ID)
		amount := existing.Amount
		return RefundOutcome{
			Success:       true,
			Status:        "processed",
			RefundEntryID: &existing.ID,
			Amount:        &amount,
			Duplicate:     true,
		}
	}

	refund, err := s.provider.CreateRefund(ctx, paystack.RefundRequest{
		Transaction:  reference,
		MerchantNote: req.Reason,
		CustomerNote: "Your subscription upgrade could not be completed and has been refunded.",
	})
	if err != nil {
		log.Error("provider refund failed", "error", err)
		return RefundOutcome{Error: fmt.Sprintf("refund request failed: %v", err)}
	}
	providerRefundID := strconv.FormatInt(refund.ID, 10)
	status := refund.Status
	if status == "" {
		status = "pending"
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"provider_status": status,
		"provider_amount": refund.Amount,
		"currency":        refund.Currency,
	})
	in := domainagg.RecordRefundInput{
		OriginalEntryID:  original.ID,
		ProviderRefundID: providerRefundID,
		Reason:           req.Reason,
		Metadata:         meta,
	}
	out := RefundOutcome{Success: true, Status: status, ProviderRefundID: providerRefundID}
	rec, err := s.payments.RecordRefund(ctx, in)
	if err != nil {
		log.Error("refund ledger write failed", "provider_refund_id", providerRefundID, "error", err)
		s.side.Defer(ctx, jobs.OutboxKindRefundEntry, "refund:"+original.ID.String(), in, err)
		out.LedgerDeferred = true
		return out
	}
	out.RefundEntryID = &rec.RefundEntryID
	out.Amount = &rec.Amount
	out.Duplicate = rec.Duplicate
	log.Info("refund initiated", "provider_refund_id", providerRefundID, "status", status, "refund_entry_id", rec.RefundEntryID)
	return out
}
