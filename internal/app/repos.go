package app

import (
	"gorm.io/gorm"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type Repos struct {
	Courses          repos.CourseRepo
	CourseGraph      repos.CourseGraphRepo
	PricingTiers     repos.PricingTierRepo
	Published        repos.PublishedCourseRepo
	StructureContent repos.CourseStructureContentRepo
	Enrollments      repos.EnrollmentRepo

	Ledger         repos.LedgerRepo
	CoursePayments repos.CoursePaymentRepo
	Subscriptions  repos.SubscriptionRepo
	TierLimits     repos.TierLimitsRepo
	Notifications  repos.NotificationRepo
	WebhookEvents  repos.WebhookEventRepo

	SagaRuns    repos.SagaRunRepo
	SagaActions repos.SagaActionRepo
	Outbox      repos.OutboxRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Courses:          repos.NewCourseRepo(db, log),
		CourseGraph:      repos.NewCourseGraphRepo(db, log),
		PricingTiers:     repos.NewPricingTierRepo(db, log),
		Published:        repos.NewPublishedCourseRepo(db, log),
		StructureContent: repos.NewCourseStructureContentRepo(db, log),
		Enrollments:      repos.NewEnrollmentRepo(db, log),

		Ledger:         repos.NewLedgerRepo(db, log),
		CoursePayments: repos.NewCoursePaymentRepo(db, log),
		Subscriptions:  repos.NewSubscriptionRepo(db, log),
		TierLimits:     repos.NewTierLimitsRepo(db, log),
		Notifications:  repos.NewNotificationRepo(db, log),
		WebhookEvents:  repos.NewWebhookEventRepo(db, log),

		SagaRuns:    repos.NewSagaRunRepo(db, log),
		SagaActions: repos.NewSagaActionRepo(db, log),
		Outbox:      repos.NewOutboxRepo(db, log),
	}
}
