package domain

import (
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	"github.com/gonasi/gonasi-backend/internal/domain/courses"
	"github.com/gonasi/gonasi-backend/internal/domain/jobs"
)

type Course = courses.Course
type Chapter = courses.Chapter
type LessonType = courses.LessonType
type Lesson = courses.Lesson
type LessonBlock = courses.LessonBlock
type CoursePricingTier = courses.CoursePricingTier
type PublishedCourse = courses.PublishedCourse
type CourseStructureContent = courses.CourseStructureContent
type Enrollment = courses.Enrollment

type WalletLedgerEntry = billing.WalletLedgerEntry
type CoursePayment = billing.CoursePayment
type OrganizationSubscription = billing.OrganizationSubscription
type TierLimits = billing.TierLimits
type OrgNotification = billing.OrgNotification
type PaymentWebhookEvent = billing.PaymentWebhookEvent

type SagaRun = jobs.SagaRun
type SagaAction = jobs.SagaAction
type OutboxEntry = jobs.OutboxEntry

// AllModels lists every persisted model in migration order.
func AllModels() []any {
	return []any{
		&Course{},
		&Chapter{},
		&LessonType{},
		&Lesson{},
		&LessonBlock{},
		&CoursePricingTier{},
		&PublishedCourse{},
		&CourseStructureContent{},
		&Enrollment{},

		&WalletLedgerEntry{},
		&CoursePayment{},
		&OrganizationSubscription{},
		&TierLimits{},
		&OrgNotification{},
		&PaymentWebhookEvent{},

		&SagaRun{},
		&SagaAction{},
		&OutboxEntry{},
	}
}
