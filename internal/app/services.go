package app

import (
	"gorm.io/gorm"

	"github.com/gonasi/gonasi-backend/internal/data/aggregates"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/modules/billing/saga"
	"github.com/gonasi/gonasi-backend/internal/modules/publish/snapshot"
	"github.com/gonasi/gonasi-backend/internal/modules/publish/validation"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/services"
)

type Aggregates struct {
	Payments      domainagg.PaymentAggregate
	Subscriptions domainagg.SubscriptionAggregate
	Publish       domainagg.PublishAggregate
	Outbox        domainagg.OutboxAggregate
	Sagas         domainagg.SagaAggregate
}

type Services struct {
	Auth          services.AuthService
	Publish       services.PublishService
	Refunds       services.RefundService
	Subscriptions services.SubscriptionService
	Webhooks      services.WebhookService
	SideEffects   services.SideEffects
	Outbox        *services.OutboxDispatcher
	SagaSweeper   *services.SagaSweeper
}

func wireAggregates(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, metrics *observability.Metrics) Aggregates {
	log.Info("Wiring aggregates...")
	base := aggregates.BaseDeps{DB: db, Log: log, Hooks: aggregates.NewObservabilityHooks(metrics)}
	return Aggregates{
		Payments: aggregates.NewPaymentAggregate(aggregates.PaymentAggregateDeps{
			Base:           base,
			Published:      r.Published,
			Enrollments:    r.Enrollments,
			CoursePayments: r.CoursePayments,
			Ledger:         r.Ledger,
			Subscriptions:  r.Subscriptions,
			TierLimits:     r.TierLimits,
			FreeTier:       cfg.FreeTier,
		}),
		Subscriptions: aggregates.NewSubscriptionAggregate(aggregates.SubscriptionAggregateDeps{
			Base:          base,
			Subscriptions: r.Subscriptions,
			Notifications: r.Notifications,
		}),
		Publish: aggregates.NewPublishAggregate(aggregates.PublishAggregateDeps{
			Base:      base,
			Published: r.Published,
			Content:   r.StructureContent,
		}),
		Outbox: aggregates.NewOutboxAggregate(aggregates.OutboxAggregateDeps{Base: base, Entries: r.Outbox}),
		Sagas: aggregates.NewSagaAggregate(aggregates.SagaAggregateDeps{
			Base:    base,
			Runs:    r.SagaRuns,
			Actions: r.SagaActions,
		}),
	}
}

func wireServices(log *logger.Logger, cfg Config, r Repos, agg Aggregates, clients Clients, metrics *observability.Metrics) Services {
	log.Info("Wiring services...")
	side := services.NewSideEffects(log, agg.Outbox, clients.DeadLetter, metrics)
	refunds := services.NewRefundService(log, r.Ledger, agg.Payments, clients.Paystack, side)

	builder := snapshot.NewBuilder(log, r.Courses, r.CourseGraph, r.PricingTiers)
	publish := services.NewPublishService(log, builder, validation.New(cfg.PublishPolicy), clients.Buckets, agg.Publish, clients.Locks, metrics)

	subs := services.NewSubscriptionService(log, services.SubscriptionServiceDeps{
		Subscriptions: r.Subscriptions,
		TierLimits:    r.TierLimits,
		Payments:      agg.Payments,
		SubAgg:        agg.Subscriptions,
		Provider:      clients.Paystack,
		Sagas:         saga.NewRunner(log, agg.Sagas),
		Refunds:       refunds,
		SideEffects:   side,
		Locks:         clients.Locks,
		Metrics:       metrics,
	}, services.SubscriptionConfig{FreeTier: cfg.FreeTier})

	webhooks := services.NewWebhookService(log, services.WebhookServiceDeps{
		Events:        r.WebhookEvents,
		Payments:      agg.Payments,
		SubAgg:        agg.Subscriptions,
		Subscriptions: subs,
		SideEffects:   side,
		Metrics:       metrics,
	}, services.WebhookConfig{
		AllowedIPs:      cfg.PaystackAllowedIPs,
		SecretKey:       cfg.PaystackSecretKey,
		VerifySignature: cfg.PaystackVerifySignature,
	})

	dispatcher := services.NewOutboxDispatcher(log, r.Outbox, agg.Outbox, clients.DeadLetter, metrics, cfg.Outbox)
	dispatcher.RegisterBillingHandlers(agg.Payments, agg.Subscriptions, refunds)

	sweeper := services.NewSagaSweeper(log, services.SagaSweeperDeps{
		Runs:        r.SagaRuns,
		Actions:     r.SagaActions,
		Sagas:       agg.Sagas,
		Provider:    clients.Paystack,
		SideEffects: side,
		Locks:       clients.Locks,
		Metrics:     metrics,
	}, cfg.SagaSweeper)

	return Services{
		Auth:          services.NewAuthService(log, cfg.JWTSecretKey, cfg.AccessTokenTTL),
		Publish:       publish,
		Refunds:       refunds,
		Subscriptions: subs,
		Webhooks:      webhooks,
		SideEffects:   side,
		Outbox:        dispatcher,
		SagaSweeper:   sweeper,
	}
}
