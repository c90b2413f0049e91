package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/gonasi/gonasi-backend/internal/data/aggregates"
	"github.com/gonasi/gonasi-backend/internal/data/repos"
	repotest "github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/saga"
	"github.com/gonasi/gonasi-backend/internal/platform/deadletter"
	"github.com/gonasi/gonasi-backend/internal/platform/gcp"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/platform/paystack"
)

type testEnv struct {
	t   *testing.T
	db  *gorm.DB
	log *logger.Logger

	payments domainagg.PaymentAggregate
	subAgg   domainagg.SubscriptionAggregate
	publish  domainagg.PublishAggregate
	outbox   domainagg.OutboxAggregate
	sagas    domainagg.SagaAggregate

	provider *fakePaystack
	dead     *recordingDeadLetter
	side     SideEffects
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := repotest.DB(t)
	log := repotest.Logger(t)
	base := aggregates.BaseDeps{DB: db, Log: log}
	e := &testEnv{t: t, db: db, log: log, provider: newFakePaystack(), dead: &recordingDeadLetter{}}
	e.payments = aggregates.NewPaymentAggregate(aggregates.PaymentAggregateDeps{
		Base:           base,
		Published:      repos.NewPublishedCourseRepo(db, log),
		Enrollments:    repos.NewEnrollmentRepo(db, log),
		CoursePayments: repos.NewCoursePaymentRepo(db, log),
		Ledger:         repos.NewLedgerRepo(db, log),
		Subscriptions:  repos.NewSubscriptionRepo(db, log),
		TierLimits:     repos.NewTierLimitsRepo(db, log),
		FreeTier:       "launch",
	})
	e.subAgg = aggregates.NewSubscriptionAggregate(aggregates.SubscriptionAggregateDeps{
		Base:          base,
		Subscriptions: repos.NewSubscriptionRepo(db, log),
		Notifications: repos.NewNotificationRepo(db, log),
	})
	e.publish = aggregates.NewPublishAggregate(aggregates.PublishAggregateDeps{
		Base:      base,
		Published: repos.NewPublishedCourseRepo(db, log),
		Content:   repos.NewCourseStructureContentRepo(db, log),
	})
	e.outbox = aggregates.NewOutboxAggregate(aggregates.OutboxAggregateDeps{Base: base, Entries: repos.NewOutboxRepo(db, log)})
	e.sagas = aggregates.NewSagaAggregate(aggregates.SagaAggregateDeps{
		Base:    base,
		Runs:    repos.NewSagaRunRepo(db, log),
		Actions: repos.NewSagaActionRepo(db, log),
	})
	e.side = NewSideEffects(log, e.outbox, e.dead, nil)
	repotest.SeedTierLimits(t, context.Background(), db)
	return e
}

func (e *testEnv) refundService() RefundService {
	return NewRefundService(e.log, repos.NewLedgerRepo(e.db, e.log), e.payments, e.provider, e.side)
}

func (e *testEnv) subscriptionService() *subscriptionService {
	return e.subscriptionServiceWith(e.payments, e.subAgg)
}

func (e *testEnv) subscriptionServiceWith(payments domainagg.PaymentAggregate, subAgg domainagg.SubscriptionAggregate) *subscriptionService {
	return NewSubscriptionService(e.log, SubscriptionServiceDeps{
		Subscriptions: repos.NewSubscriptionRepo(e.db, e.log),
		TierLimits:    repos.NewTierLimitsRepo(e.db, e.log),
		Payments:      payments,
		SubAgg:        subAgg,
		Provider:      e.provider,
		Sagas:         saga.NewRunner(e.log, e.sagas),
		Refunds:       e.refundService(),
		SideEffects:   e.side,
	}, SubscriptionConfig{FreeTier: "launch"}).(*subscriptionService)
}

func (e *testEnv) webhookService(cfg WebhookConfig) WebhookService {
	return NewWebhookService(e.log, WebhookServiceDeps{
		Events:        repos.NewWebhookEventRepo(e.db, e.log),
		Payments:      e.payments,
		SubAgg:        e.subAgg,
		Subscriptions: e.subscriptionService(),
		SideEffects:   e.side,
	}, cfg)
}

func (e *testEnv) count(model interface{}, where string, args ...interface{}) int64 {
	e.t.Helper()
	var n int64
	q := e.db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		e.t.Fatalf("count %T: %v", model, err)
	}
	return n
}

// fakePaystack keeps subscriptions in memory and records every call.
type fakePaystack struct {
	mu sync.Mutex

	subs map[string]*paystack.Subscription
	seq  int

	FetchErr   error
	DisableErr map[string]error
	CreateErr  error
	RefundErr  error

	calls   []string
	created []paystack.CreateSubscriptionRequest
	refunds []paystack.RefundRequest
}

func newFakePaystack() *fakePaystack {
	return &fakePaystack{subs: map[string]*paystack.Subscription{}, DisableErr: map[string]error{}}
}

func (f *fakePaystack) addActive(code, customer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := time.Now().UTC().AddDate(0, 0, 12).Truncate(time.Second)
	f.subs[code] = &paystack.Subscription{
		SubscriptionCode: code,
		EmailToken:       "tok_" + code,
		Status:           "active",
		NextPaymentDate:  &next,
		Authorization:    paystack.Authorization{AuthorizationCode: "AUTH_old", Reusable: true},
		Customer:         paystack.Customer{CustomerCode: customer},
	}
}

func (f *fakePaystack) FetchSubscription(_ context.Context, code string) (*paystack.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetch:"+code)
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	sub, ok := f.subs[code]
	if !ok {
		return nil, paystack.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakePaystack) DisableSubscription(_ context.Context, req paystack.DisableSubscriptionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disable:"+req.Code)
	if err := f.DisableErr[req.Code]; err != nil {
		return err
	}
	sub, ok := f.subs[req.Code]
	if !ok || sub.EmailToken != req.Token {
		return paystack.ErrNotFound
	}
	sub.Status = "cancelled"
	return nil
}

func (f *fakePaystack) CreateSubscription(_ context.Context, req paystack.CreateSubscriptionRequest) (*paystack.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "create:"+req.Plan)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.seq++
	code := fmt.Sprintf("SUB_new_%d", f.seq)
	next := time.Now().UTC().AddDate(0, 1, 0).Truncate(time.Second)
	sub := &paystack.Subscription{
		SubscriptionCode: code,
		EmailToken:       "tok_" + code,
		Status:           "active",
		NextPaymentDate:  &next,
		Plan:             paystack.Plan{PlanCode: req.Plan},
		Customer:         paystack.Customer{CustomerCode: req.Customer},
	}
	f.subs[code] = sub
	f.created = append(f.created, req)
	cp := *sub
	return &cp, nil
}

func (f *fakePaystack) CreateRefund(_ context.Context, req paystack.RefundRequest) (*paystack.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "refund:"+req.Transaction)
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	f.refunds = append(f.refunds, req)
	return &paystack.Refund{ID: int64(9000 + len(f.refunds)), Status: "pending", Amount: 250000, Currency: "KES"}, nil
}

func (f *fakePaystack) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePaystack) activeCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for code, s := range f.subs {
		if s.IsActive() {
			out = append(out, code)
		}
	}
	return out
}

func (f *fakePaystack) status(code string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.subs[code]; ok {
		return s.Status
	}
	return ""
}

type recordingDeadLetter struct {
	mu   sync.Mutex
	msgs []deadletter.Message
	err  error
}

func (r *recordingDeadLetter) Publish(_ context.Context, msg deadletter.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingDeadLetter) Close() error { return nil }

func (r *recordingDeadLetter) messages() []deadletter.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]deadletter.Message(nil), r.msgs...)
}

type fakeBuckets struct {
	mu      sync.Mutex
	ops     []string
	CopyErr error
}

func (b *fakeBuckets) CopyObject(_ context.Context, src gcp.BucketCategory, srcKey string, dst gcp.BucketCategory, dstKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, fmt.Sprintf("copy:%s/%s->%s/%s", src, srcKey, dst, dstKey))
	return b.CopyErr
}

func (b *fakeBuckets) DeleteFile(_ context.Context, category gcp.BucketCategory, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, fmt.Sprintf("delete:%s/%s", category, key))
	return fmt.Errorf("delete: %w", gcp.ErrObjectNotFound)
}

func (b *fakeBuckets) ObjectExists(context.Context, gcp.BucketCategory, string) (bool, error) {
	return false, nil
}

func (b *fakeBuckets) GetPublicURL(category gcp.BucketCategory, key string) string {
	return "https://cdn.example.com/" + string(category) + "/" + key
}

func (b *fakeBuckets) Close() error { return nil }

func (b *fakeBuckets) operations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ops...)
}

// failingSubscriptionAggregate fails ApplyUpgrade and/or notification inserts.
type failingSubscriptionAggregate struct {
	domainagg.SubscriptionAggregate
	applyErr  error
	notifyErr error
}

func (f failingSubscriptionAggregate) ApplyUpgrade(ctx context.Context, in domainagg.ApplyUpgradeInput) (domainagg.ApplyUpgradeResult, error) {
	if f.applyErr != nil {
		return domainagg.ApplyUpgradeResult{}, f.applyErr
	}
	return f.SubscriptionAggregate.ApplyUpgrade(ctx, in)
}

func (f failingSubscriptionAggregate) InsertOrgNotification(ctx context.Context, in domainagg.OrgNotificationInput) (domainagg.OrgNotificationResult, error) {
	if f.notifyErr != nil {
		return domainagg.OrgNotificationResult{}, f.notifyErr
	}
	return f.SubscriptionAggregate.InsertOrgNotification(ctx, in)
}

// failingPaymentAggregate fails the ledger writes it is told to.
type failingPaymentAggregate struct {
	domainagg.PaymentAggregate
	upgradeErr error
	refundErr  error
	panicOn    bool
}

func (f failingPaymentAggregate) ProcessCoursePayment(ctx context.Context, in domainagg.ProcessCoursePaymentInput) (domainagg.ProcessCoursePaymentResult, error) {
	if f.panicOn {
		panic("boom")
	}
	return f.PaymentAggregate.ProcessCoursePayment(ctx, in)
}

func (f failingPaymentAggregate) ProcessSubscriptionUpgradePayment(ctx context.Context, in domainagg.SubscriptionPaymentInput) (domainagg.SubscriptionPaymentResult, error) {
	if f.upgradeErr != nil {
		return domainagg.SubscriptionPaymentResult{}, f.upgradeErr
	}
	return f.PaymentAggregate.ProcessSubscriptionUpgradePayment(ctx, in)
}

func (f failingPaymentAggregate) RecordRefund(ctx context.Context, in domainagg.RecordRefundInput) (domainagg.RecordRefundResult, error) {
	if f.refundErr != nil {
		return domainagg.RecordRefundResult{}, f.refundErr
	}
	return f.PaymentAggregate.RecordRefund(ctx, in)
}

var errInjected = errors.New("injected failure")
