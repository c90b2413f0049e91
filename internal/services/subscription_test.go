package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	repotest "github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/paystackevent"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/saga"
	"github.com/gonasi/gonasi-backend/internal/platform/apierr"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

func loadSubscription(t *testing.T, e *testEnv, orgID uuid.UUID) *types.OrganizationSubscription {
	t.Helper()
	sub, err := repos.NewSubscriptionRepo(e.db, e.log).GetByOrganizationID(dbctx.Context{Ctx: context.Background()}, orgID)
	if err != nil || sub == nil {
		t.Fatalf("load subscription: sub=%v err=%v", sub, err)
	}
	return sub
}

func upgradeFor(orgID uuid.UUID, reference string) paystackevent.SubscriptionUpgrade {
	by := uuid.New()
	return paystackevent.SubscriptionUpgrade{
		Reference:         reference,
		TransactionID:     "4099260516",
		OrganizationID:    orgID,
		CurrentTier:       "launch",
		TargetTier:        "scale",
		OrganizationEmail: "ops@acme.example",
		InitiatedBy:       &by,
		Amount:            decimal.NewFromInt(2500),
		Fee:               decimal.RequireFromString("37.50"),
		Currency:          "KES",
	}
}

func TestDowngradeToFreeTierNeverCallsProvider(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	periodEnd := time.Now().UTC().AddDate(0, 0, 9).Truncate(time.Second)
	repotest.SeedSubscription(t, context.Background(), e.db, orgID, "scale", periodEnd)

	res, err := e.subscriptionService().Downgrade(context.Background(), DowngradeRequest{
		OrganizationID: orgID,
		TargetTier:     "launch",
		RequestedBy:    uuid.New(),
	})
	if err != nil {
		t.Fatalf("Downgrade: %v", err)
	}
	if e.provider.callCount() != 0 {
		t.Fatalf("provider calls: want none got=%v", e.provider.calls)
	}
	if !res.EffectiveAt.Equal(periodEnd) {
		t.Fatalf("effective date: want=%s got=%s", periodEnd, res.EffectiveAt)
	}
	sub := loadSubscription(t, e, orgID)
	if sub.Status != billing.SubscriptionNonRenewing {
		t.Fatalf("status: want=%s got=%s", billing.SubscriptionNonRenewing, sub.Status)
	}
	if sub.NextTier == nil || *sub.NextTier != "launch" {
		t.Fatalf("next_tier: got=%v", sub.NextTier)
	}
	if sub.Tier != "scale" {
		t.Fatalf("tier must not change until the effective date, got=%s", sub.Tier)
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatalf("cancel_at_period_end: want true")
	}
	if n := e.count(&types.OrgNotification{}, "type_key = ?", billing.NotificationSubscriptionDowngrade); n != 1 {
		t.Fatalf("downgrade notifications: want=1 got=%d", n)
	}
}

func TestDowngradeToPaidTierUsesProviderNextPaymentDate(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	periodEnd := time.Now().UTC().AddDate(0, 0, 20).Truncate(time.Second)
	seeded := repotest.SeedSubscription(t, context.Background(), e.db, orgID, "impact", periodEnd)
	e.provider.addActive(*seeded.PaystackSubscriptionCode, *seeded.PaystackCustomerCode)
	providerDate := e.provider.subs[*seeded.PaystackSubscriptionCode].NextPaymentDate

	res, err := e.subscriptionService().Downgrade(context.Background(), DowngradeRequest{
		OrganizationID: orgID,
		TargetTier:     "scale",
		RequestedBy:    uuid.New(),
	})
	if err != nil {
		t.Fatalf("Downgrade: %v", err)
	}
	if !res.EffectiveAt.Equal(*providerDate) {
		t.Fatalf("effective date: want=%s got=%s", providerDate, res.EffectiveAt)
	}
	sub := loadSubscription(t, e, orgID)
	if sub.NextPlanCode == nil || *sub.NextPlanCode != "PLN_scale" {
		t.Fatalf("next_plan_code: got=%v", sub.NextPlanCode)
	}
	if got := e.provider.status(*seeded.PaystackSubscriptionCode); got != "active" {
		t.Fatalf("provider subscription must stay active until the effective date, got=%s", got)
	}
}

func TestDowngradeAlreadyStagedIsNoop(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	repotest.SeedSubscription(t, context.Background(), e.db, orgID, "impact", time.Now().UTC().AddDate(0, 0, 3))
	svc := e.subscriptionService()
	req := DowngradeRequest{OrganizationID: orgID, TargetTier: "scale", RequestedBy: uuid.New()}

	first, err := svc.Downgrade(context.Background(), req)
	if err != nil {
		t.Fatalf("first Downgrade: %v", err)
	}
	second, err := svc.Downgrade(context.Background(), req)
	if err != nil {
		t.Fatalf("second Downgrade: %v", err)
	}
	if !second.AlreadyStaged {
		t.Fatalf("second downgrade should report already staged")
	}
	if !second.EffectiveAt.Equal(first.EffectiveAt) {
		t.Fatalf("effective date changed: first=%s second=%s", first.EffectiveAt, second.EffectiveAt)
	}
	if n := e.count(&types.OrgNotification{}, "type_key = ?", billing.NotificationSubscriptionDowngrade); n != 1 {
		t.Fatalf("downgrade notifications: want=1 got=%d", n)
	}
}

func TestDowngradeRejectsInvalidRequests(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	repotest.SeedSubscription(t, context.Background(), e.db, orgID, "scale", time.Now().UTC())
	svc := e.subscriptionService()

	cases := []struct {
		name string
		req  DowngradeRequest
		want int
	}{
		{"missing tier", DowngradeRequest{OrganizationID: orgID, RequestedBy: uuid.New()}, http.StatusBadRequest},
		{"missing user", DowngradeRequest{OrganizationID: orgID, TargetTier: "launch"}, http.StatusBadRequest},
		{"same tier", DowngradeRequest{OrganizationID: orgID, TargetTier: "scale", RequestedBy: uuid.New()}, http.StatusBadRequest},
		{"no subscription", DowngradeRequest{OrganizationID: uuid.New(), TargetTier: "launch", RequestedBy: uuid.New()}, http.StatusNotFound},
		{"higher tier", DowngradeRequest{OrganizationID: orgID, TargetTier: "impact", RequestedBy: uuid.New()}, http.StatusBadRequest},
		{"unknown tier", DowngradeRequest{OrganizationID: orgID, TargetTier: "enterprise", RequestedBy: uuid.New()}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Downgrade(context.Background(), tc.req)
			if err == nil {
				t.Fatalf("want error")
			}
			if status, _ := apierr.StatusOf(err); status != tc.want {
				t.Fatalf("status: want=%d got=%d (%v)", tc.want, status, err)
			}
		})
	}

	sub, err := repos.NewSubscriptionRepo(e.db, e.log).GetByOrganizationID(dbctx.Context{Ctx: context.Background()}, orgID)
	if err != nil || sub == nil {
		t.Fatalf("GetByOrganizationID: sub=%v err=%v", sub, err)
	}
	if sub.HasStagedDowngrade() {
		t.Fatalf("rejected request staged a downgrade to %v", sub.NextTier)
	}
}

func TestUpgradeReplacesProviderSubscription(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	seeded := repotest.SeedSubscription(t, context.Background(), e.db, orgID, "launch", time.Now().UTC().AddDate(0, 0, 10))
	oldCode := *seeded.PaystackSubscriptionCode
	e.provider.addActive(oldCode, *seeded.PaystackCustomerCode)

	// A staged downgrade must be cleared by the upgrade.
	staged := time.Now().UTC()
	if err := e.db.Model(&types.OrganizationSubscription{}).Where("id = ?", seeded.ID).Updates(map[string]interface{}{
		"next_tier":              "launch",
		"downgrade_requested_at": staged,
		"downgrade_effective_at": staged.AddDate(0, 0, 10),
		"cancel_at_period_end":   true,
		"status":                 billing.SubscriptionNonRenewing,
	}).Error; err != nil {
		t.Fatalf("stage downgrade: %v", err)
	}

	res, err := e.subscriptionService().Upgrade(context.Background(), upgradeFor(orgID, "ref-up-1"))
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if res.ToTier != "scale" || res.FromTier != "launch" {
		t.Fatalf("tiers: got from=%s to=%s", res.FromTier, res.ToTier)
	}
	if !res.Revenue.Net.Equal(decimal.RequireFromString("2462.50")) {
		t.Fatalf("net revenue: want=2462.50 got=%s", res.Revenue.Net)
	}

	active := e.provider.activeCodes()
	if len(active) != 1 || active[0] != res.SubscriptionCode {
		t.Fatalf("active provider subscriptions: want only %s got=%v", res.SubscriptionCode, active)
	}
	if e.provider.status(oldCode) != "cancelled" {
		t.Fatalf("old subscription should be disabled")
	}
	if len(e.provider.created) != 1 || e.provider.created[0].Authorization != "AUTH_old" || e.provider.created[0].Plan != "PLN_scale" {
		t.Fatalf("create request: got=%+v", e.provider.created)
	}
	calls := e.provider.calls
	if calls[0] != "fetch:"+oldCode || calls[1] != "disable:"+oldCode || calls[2] != "create:PLN_scale" {
		t.Fatalf("provider call order: got=%v", calls)
	}

	sub := loadSubscription(t, e, orgID)
	if sub.Tier != "scale" || sub.Status != billing.SubscriptionActive {
		t.Fatalf("local subscription: tier=%s status=%s", sub.Tier, sub.Status)
	}
	if sub.HasStagedDowngrade() {
		t.Fatalf("staged downgrade fields must be cleared: %+v", sub)
	}
	if sub.PaystackSubscriptionCode == nil || *sub.PaystackSubscriptionCode != res.SubscriptionCode {
		t.Fatalf("subscription code not recorded")
	}
	if n := e.count(&types.WalletLedgerEntry{}, "payment_reference = ? AND type = ?", "ref-up-1", billing.LedgerTypeSubscriptionPayment); n != 1 {
		t.Fatalf("upgrade ledger entries: want=1 got=%d", n)
	}
	if n := e.count(&types.OrgNotification{}, "type_key = ?", billing.NotificationSubscriptionUpgraded); n != 1 {
		t.Fatalf("upgrade notifications: want=1 got=%d", n)
	}
	if n := e.count(&types.SagaRun{}, "status = ?", saga.StatusSucceeded); n != 1 {
		t.Fatalf("succeeded sagas: want=1 got=%d", n)
	}
}

func TestUpgradeReplayIsNoop(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	seeded := repotest.SeedSubscription(t, context.Background(), e.db, orgID, "launch", time.Now().UTC())
	e.provider.addActive(*seeded.PaystackSubscriptionCode, *seeded.PaystackCustomerCode)
	svc := e.subscriptionService()

	if _, err := svc.Upgrade(context.Background(), upgradeFor(orgID, "ref-up-2")); err != nil {
		t.Fatalf("first Upgrade: %v", err)
	}
	calls := e.provider.callCount()
	res, err := svc.Upgrade(context.Background(), upgradeFor(orgID, "ref-up-2"))
	if err != nil {
		t.Fatalf("replayed Upgrade: %v", err)
	}
	if !res.AlreadyProcessed {
		t.Fatalf("replay should report already processed")
	}
	if e.provider.callCount() != calls {
		t.Fatalf("replay must not call the provider again")
	}
}

func TestUpgradeCreateFailureRefundsPayment(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	seeded := repotest.SeedSubscription(t, context.Background(), e.db, orgID, "launch", time.Now().UTC())
	oldCode := *seeded.PaystackSubscriptionCode
	e.provider.addActive(oldCode, *seeded.PaystackCustomerCode)
	e.provider.CreateErr = errors.New("plan not found")

	_, err := e.subscriptionService().Upgrade(context.Background(), upgradeFor(orgID, "ref-up-3"))
	var ue *UpgradeError
	if !errors.As(err, &ue) {
		t.Fatalf("want UpgradeError got=%v", err)
	}
	if ue.Step != StepCreateSubscription || ue.RefundStatus != "pending" || ue.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("upgrade error: got=%+v", ue)
	}
	if len(e.provider.refunds) != 1 || e.provider.refunds[0].Transaction != "ref-up-3" || e.provider.refunds[0].MerchantNote != RefundReasonSubscriptionCreationFailed {
		t.Fatalf("refunds: got=%+v", e.provider.refunds)
	}
	if len(e.provider.activeCodes()) != 0 {
		t.Fatalf("no provider subscription should be active, got=%v", e.provider.activeCodes())
	}
	if sub := loadSubscription(t, e, orgID); sub.Tier != "launch" {
		t.Fatalf("local tier must stay launch, got=%s", sub.Tier)
	}
	if n := e.count(&types.WalletLedgerEntry{}, "type = ?", billing.LedgerTypeRefund); n != 1 {
		t.Fatalf("refund entries: want=1 got=%d", n)
	}
	if n := e.count(&types.SagaRun{}, "status = ?", saga.StatusCompensated); n != 1 {
		t.Fatalf("compensated sagas: want=1 got=%d", n)
	}
}

func TestUpgradeLocalUpdateFailureDisablesNewSubscription(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	seeded := repotest.SeedSubscription(t, context.Background(), e.db, orgID, "launch", time.Now().UTC())
	e.provider.addActive(*seeded.PaystackSubscriptionCode, *seeded.PaystackCustomerCode)
	svc := e.subscriptionServiceWith(e.payments, failingSubscriptionAggregate{SubscriptionAggregate: e.subAgg, applyErr: errInjected})

	_, err := svc.Upgrade(context.Background(), upgradeFor(orgID, "ref-up-4"))
	var ue *UpgradeError
	if !errors.As(err, &ue) || ue.Step != StepUpdateLocalSubscription {
		t.Fatalf("want UpgradeError at %s got=%v", StepUpdateLocalSubscription, err)
	}
	if len(e.provider.created) != 1 {
		t.Fatalf("created: want=1 got=%d", len(e.provider.created))
	}
	if e.provider.status("SUB_new_1") != "cancelled" {
		t.Fatalf("new subscription should be disabled by compensation")
	}
	if len(e.provider.refunds) != 1 || e.provider.refunds[0].MerchantNote != RefundReasonTierUpdateFailed {
		t.Fatalf("refunds: got=%+v", e.provider.refunds)
	}
}

func TestUpgradeLedgerFailureIsDeferredNotFatal(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	repotest.SeedSubscription(t, context.Background(), e.db, orgID, "launch", time.Now().UTC())
	svc := e.subscriptionServiceWith(failingPaymentAggregate{PaymentAggregate: e.payments, upgradeErr: errInjected}, e.subAgg)

	up := upgradeFor(orgID, "ref-up-5")
	up.CustomerCode = "CUS_fresh"
	res, err := svc.Upgrade(context.Background(), up)
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if !res.LedgerDeferred {
		t.Fatalf("ledger write should be deferred")
	}
	if n := e.count(&types.OutboxEntry{}, "kind = ?", jobs.OutboxKindLedgerEntry); n != 1 {
		t.Fatalf("outbox ledger entries: want=1 got=%d", n)
	}
}

func TestUpgradeWithoutPlanCodeIsBadRequest(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	up := upgradeFor(orgID, "ref-up-6")
	up.TargetTier = "enterprise"

	_, err := e.subscriptionService().Upgrade(context.Background(), up)
	if status, code := apierr.StatusOf(err); status != http.StatusBadRequest || code != "missing_plan_code" {
		t.Fatalf("want 400 missing_plan_code got=%d %s (%v)", status, code, err)
	}
	if e.provider.callCount() != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestUpgradeFailureAlwaysLeavesRefundInFlight(t *testing.T) {
	cases := []struct {
		name       string
		reference  string
		setup      func(e *testEnv, oldCode string)
		ledgerDown bool
		step       string
		refund     string
		refunds    int
		queued     int64
	}{
		{
			name:      "disable old subscription fails",
			reference: "ref-up-7",
			setup: func(e *testEnv, oldCode string) {
				e.provider.DisableErr[oldCode] = errors.New("paystack unavailable")
			},
			step:    StepDisableOldSubscription,
			refund:  "pending",
			refunds: 1,
		},
		{
			name:      "provider refund fails",
			reference: "ref-up-8",
			setup: func(e *testEnv, _ string) {
				e.provider.CreateErr = errors.New("plan not found")
				e.provider.RefundErr = errors.New("refund endpoint down")
			},
			step:   StepCreateSubscription,
			refund: RefundStatusRetryQueued,
			queued: 1,
		},
		{
			name:      "ledger deferred then create fails",
			reference: "ref-up-9",
			setup: func(e *testEnv, _ string) {
				e.provider.CreateErr = errors.New("plan not found")
			},
			ledgerDown: true,
			step:       StepCreateSubscription,
			refund:     RefundStatusRetryQueued,
			queued:     1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t)
			ctx := context.Background()
			orgID := uuid.New()
			seeded := repotest.SeedSubscription(t, ctx, e.db, orgID, "launch", time.Now().UTC())
			oldCode := *seeded.PaystackSubscriptionCode
			e.provider.addActive(oldCode, *seeded.PaystackCustomerCode)
			tc.setup(e, oldCode)
			svc := e.subscriptionService()
			if tc.ledgerDown {
				svc = e.subscriptionServiceWith(failingPaymentAggregate{PaymentAggregate: e.payments, upgradeErr: errInjected}, e.subAgg)
			}

			_, err := svc.Upgrade(ctx, upgradeFor(orgID, tc.reference))
			var ue *UpgradeError
			if !errors.As(err, &ue) {
				t.Fatalf("want UpgradeError got=%v", err)
			}
			if ue.Step != tc.step || ue.RefundStatus != tc.refund || ue.HTTPStatus() != http.StatusInternalServerError {
				t.Fatalf("upgrade error: want step=%s refund=%s got=%+v", tc.step, tc.refund, ue)
			}
			if len(e.provider.refunds) != tc.refunds {
				t.Fatalf("provider refunds: want=%d got=%d", tc.refunds, len(e.provider.refunds))
			}
			if n := e.count(&types.OutboxEntry{}, "kind = ?", jobs.OutboxKindRefundRetry); n != tc.queued {
				t.Fatalf("queued refund retries: want=%d got=%d", tc.queued, n)
			}
			if tc.queued == 0 {
				return
			}

			// Once the provider recovers the dispatcher completes the refund.
			e.provider.RefundErr = nil
			d := newDispatcher(e, OutboxConfig{})
			clock := time.Now().UTC()
			for pass := 0; pass < 3 && len(e.provider.refunds) == 0; pass++ {
				d.now = func() time.Time { return clock }
				if _, err := d.DispatchOnce(ctx); err != nil {
					t.Fatalf("DispatchOnce: %v", err)
				}
				clock = clock.Add(2 * time.Hour)
			}
			if len(e.provider.refunds) != 1 || e.provider.refunds[0].Transaction != tc.reference {
				t.Fatalf("refund after retry: got=%+v", e.provider.refunds)
			}
			if n := e.count(&types.WalletLedgerEntry{}, "payment_reference = ? AND type = ?", tc.reference, billing.LedgerTypeRefund); n != 1 {
				t.Fatalf("refund ledger rows: want=1 got=%d", n)
			}
		})
	}
}
