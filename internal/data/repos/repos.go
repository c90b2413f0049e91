package repos

import (
	"gorm.io/gorm"

	"github.com/gonasi/gonasi-backend/internal/data/repos/billing"
	"github.com/gonasi/gonasi-backend/internal/data/repos/courses"
	"github.com/gonasi/gonasi-backend/internal/data/repos/jobs"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type CourseRepo = courses.CourseRepo
type CourseGraphRepo = courses.CourseGraphRepo
type PricingTierRepo = courses.PricingTierRepo
type PublishedCourseRepo = courses.PublishedCourseRepo
type CourseStructureContentRepo = courses.CourseStructureContentRepo
type EnrollmentRepo = courses.EnrollmentRepo

type LedgerRepo = billing.LedgerRepo
type LedgerQuery = billing.LedgerQuery
type CoursePaymentRepo = billing.CoursePaymentRepo
type SubscriptionRepo = billing.SubscriptionRepo
type TierLimitsRepo = billing.TierLimitsRepo
type NotificationRepo = billing.NotificationRepo
type WebhookEventRepo = billing.WebhookEventRepo

type SagaRunRepo = jobs.SagaRunRepo
type SagaActionRepo = jobs.SagaActionRepo
type OutboxRepo = jobs.OutboxRepo

func NewCourseRepo(db *gorm.DB, baseLog *logger.Logger) CourseRepo {
	return courses.NewCourseRepo(db, baseLog)
}
func NewCourseGraphRepo(db *gorm.DB, baseLog *logger.Logger) CourseGraphRepo {
	return courses.NewCourseGraphRepo(db, baseLog)
}
func NewPricingTierRepo(db *gorm.DB, baseLog *logger.Logger) PricingTierRepo {
	return courses.NewPricingTierRepo(db, baseLog)
}
func NewPublishedCourseRepo(db *gorm.DB, baseLog *logger.Logger) PublishedCourseRepo {
	return courses.NewPublishedCourseRepo(db, baseLog)
}
func NewCourseStructureContentRepo(db *gorm.DB, baseLog *logger.Logger) CourseStructureContentRepo {
	return courses.NewCourseStructureContentRepo(db, baseLog)
}
func NewEnrollmentRepo(db *gorm.DB, baseLog *logger.Logger) EnrollmentRepo {
	return courses.NewEnrollmentRepo(db, baseLog)
}

func NewLedgerRepo(db *gorm.DB, baseLog *logger.Logger) LedgerRepo {
	return billing.NewLedgerRepo(db, baseLog)
}
func NewCoursePaymentRepo(db *gorm.DB, baseLog *logger.Logger) CoursePaymentRepo {
	return billing.NewCoursePaymentRepo(db, baseLog)
}
func NewSubscriptionRepo(db *gorm.DB, baseLog *logger.Logger) SubscriptionRepo {
	return billing.NewSubscriptionRepo(db, baseLog)
}
func NewTierLimitsRepo(db *gorm.DB, baseLog *logger.Logger) TierLimitsRepo {
	return billing.NewTierLimitsRepo(db, baseLog)
}
func NewNotificationRepo(db *gorm.DB, baseLog *logger.Logger) NotificationRepo {
	return billing.NewNotificationRepo(db, baseLog)
}
func NewWebhookEventRepo(db *gorm.DB, baseLog *logger.Logger) WebhookEventRepo {
	return billing.NewWebhookEventRepo(db, baseLog)
}

func NewSagaRunRepo(db *gorm.DB, baseLog *logger.Logger) SagaRunRepo {
	return jobs.NewSagaRunRepo(db, baseLog)
}
func NewSagaActionRepo(db *gorm.DB, baseLog *logger.Logger) SagaActionRepo {
	return jobs.NewSagaActionRepo(db, baseLog)
}
func NewOutboxRepo(db *gorm.DB, baseLog *logger.Logger) OutboxRepo {
	return jobs.NewOutboxRepo(db, baseLog)
}
