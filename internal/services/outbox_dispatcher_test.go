package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
)

func newDispatcher(e *testEnv, cfg OutboxConfig) *OutboxDispatcher {
	d := NewOutboxDispatcher(e.log, repos.NewOutboxRepo(e.db, e.log), e.outbox, e.dead, nil, cfg)
	d.RegisterBillingHandlers(e.payments, e.subAgg, e.refundService())
	return d
}

func TestOutboxDeliversDeferredLedgerEntry(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	e.side.Defer(context.Background(), jobs.OutboxKindLedgerEntry, "ledger:subscription_payment:ref-ob-1", domainagg.SubscriptionPaymentInput{
		PaymentReference: "ref-ob-1",
		OrganizationID:   orgID,
		FromTier:         "launch",
		ToTier:           "impact",
		Amount:           decimal.NewFromInt(5000),
		ProviderFee:      decimal.NewFromInt(75),
		CurrencyCode:     "KES",
	}, errors.New("connection reset"))

	d := newDispatcher(e, OutboxConfig{})
	delivered, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("delivered: want=1 got=%d", delivered)
	}
	if n := e.count(&types.WalletLedgerEntry{}, "payment_reference = ? AND type = ?", "ref-ob-1", billing.LedgerTypeSubscriptionPayment); n != 1 {
		t.Fatalf("ledger entries: want=1 got=%d", n)
	}
	if n := e.count(&types.OutboxEntry{}, "status = ?", jobs.OutboxDone); n != 1 {
		t.Fatalf("done entries: want=1 got=%d", n)
	}

	delivered, err = d.DispatchOnce(context.Background())
	if err != nil || delivered != 0 {
		t.Fatalf("second pass: delivered=%d err=%v", delivered, err)
	}
}

func TestOutboxDeliversDeferredNotification(t *testing.T) {
	e := newTestEnv(t)
	orgID := uuid.New()
	e.side.Defer(context.Background(), jobs.OutboxKindOrgNotification, "notification:upgrade:ref-ob-2", domainagg.OrgNotificationInput{
		OrganizationID: orgID,
		TypeKey:        billing.NotificationSubscriptionUpgraded,
		Metadata:       json.RawMessage(`{"to_tier":"scale"}`),
		DedupeKey:      "upgrade:ref-ob-2",
	}, errors.New("timeout"))

	if _, err := newDispatcher(e, OutboxConfig{}).DispatchOnce(context.Background()); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if n := e.count(&types.OrgNotification{}, "organization_id = ?", orgID); n != 1 {
		t.Fatalf("notifications: want=1 got=%d", n)
	}
}

func TestOutboxExhaustedEntryGoesToDeadLetter(t *testing.T) {
	e := newTestEnv(t)
	e.side.Defer(context.Background(), "unknown_kind", "mystery-1", map[string]string{"a": "b"}, nil)

	d := newDispatcher(e, OutboxConfig{MaxAttempts: 2, BaseBackoff: time.Millisecond})
	clock := time.Now().UTC()
	d.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		if _, err := d.DispatchOnce(context.Background()); err != nil {
			t.Fatalf("DispatchOnce %d: %v", i, err)
		}
		clock = clock.Add(time.Hour)
	}
	msgs := e.dead.messages()
	if len(msgs) != 1 {
		t.Fatalf("dead letters: want=1 got=%d", len(msgs))
	}
	if msgs[0].Source != "outbox" || msgs[0].Key != "mystery-1" || msgs[0].Attempts != 2 {
		t.Fatalf("dead letter: got=%+v", msgs[0])
	}
	if n := e.count(&types.OutboxEntry{}, "status = ?", jobs.OutboxDead); n != 1 {
		t.Fatalf("dead entries: want=1 got=%d", n)
	}
}

func TestOutboxBackoffIsCapped(t *testing.T) {
	d := &OutboxDispatcher{cfg: OutboxConfig{BaseBackoff: time.Second, MaxBackoff: 10 * time.Second}.withDefaults()}
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := d.backoff(tc.attempts); got != tc.want {
			t.Fatalf("backoff(%d): want=%s got=%s", tc.attempts, tc.want, got)
		}
	}
}

func TestSideEffectsFallBackToDeadLetter(t *testing.T) {
	e := newTestEnv(t)
	side := NewSideEffects(e.log, failingOutbox{}, e.dead, nil)
	side.Defer(context.Background(), jobs.OutboxKindOrgNotification, "notification:x", map[string]string{"k": "v"}, errors.New("db down"))

	msgs := e.dead.messages()
	if len(msgs) != 1 || msgs[0].Source != "direct" || msgs[0].LastError != "db down" {
		t.Fatalf("dead letters: got=%+v", msgs)
	}
}

type failingOutbox struct{ domainagg.OutboxAggregate }

func (failingOutbox) Enqueue(context.Context, domainagg.EnqueueOutboxInput) (domainagg.EnqueueOutboxResult, error) {
	return domainagg.EnqueueOutboxResult{}, errInjected
}
