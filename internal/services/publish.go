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

	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/courses"
	"github.com/gonasi/gonasi-backend/internal/modules/publish/snapshot"
	"github.com/gonasi/gonasi-backend/internal/modules/publish/validation"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/apierr"
	"github.com/gonasi/gonasi-backend/internal/platform/gcp"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/platform/redislock"
)

const (
	PhaseFetch     = "fetch"
	PhaseValidate  = "validate"
	PhaseThumbnail = "thumbnail"
	PhaseUpsert    = "upsert"
)

const publishLockTTL = 2 * time.Minute

// PublishError reports which publish phase failed.
type PublishError struct {
	Phase      string
	Err        error
	Violations []validation.Violation
}

func (e *PublishError) Error() string {
	switch e.Phase {
	case PhaseValidate:
		return fmt.Sprintf("course failed validation (%d violations)", len(e.Violations))
	case PhaseThumbnail:
		return fmt.Sprintf("thumbnail copy failed: %v", e.Err)
	}
	return fmt.Sprintf("publish %s: %v", e.Phase, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) HTTPStatus() int {
	switch e.Phase {
	case PhaseFetch:
		if errors.Is(e.Err, snapshot.ErrCourseNotFound) {
			return http.StatusNotFound
		}
	case PhaseValidate:
		return http.StatusUnprocessableEntity
	case PhaseUpsert:
		if domainagg.IsCode(e.Err, domainagg.CodeConflict, domainagg.CodeRetryable) {
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

type PublishRequest struct {
	CourseID       uuid.UUID
	OrganizationID uuid.UUID
	UserID         uuid.UUID
}

type PublishResult struct {
	PublishedCourseID uuid.UUID `json:"published_course_id"`
	CourseID          uuid.UUID `json:"course_id"`
	Version           int       `json:"version"`
	PublishedAt       time.Time `json:"published_at"`
	ThumbnailURL      string    `json:"thumbnail_url,omitempty"`
	Message           string    `json:"message"`
}

type UnpublishRequest struct {
	CourseID       uuid.UUID
	OrganizationID uuid.UUID
	UserID         uuid.UUID
	Reason         string
}

type UnpublishResult struct {
	PublishedCourseID  uuid.UUID `json:"published_course_id"`
	Version            int       `json:"version"`
	UnpublishedAt      time.Time `json:"unpublished_at"`
	AlreadyUnpublished bool      `json:"already_unpublished"`
	Message            string    `json:"message"`
}

type PublishService interface {
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
	Unpublish(ctx context.Context, req UnpublishRequest) (*UnpublishResult, error)
}

type snapshotBuilder interface {
	Build(ctx context.Context, req snapshot.Request) (*courses.Document, error)
}

type publishService struct {
	log       *logger.Logger
	builder   snapshotBuilder
	validator *validation.Validator
	buckets   gcp.BucketService
	agg       domainagg.PublishAggregate
	locks     redislock.Locker
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewPublishService(
	baseLog *logger.Logger,
	builder snapshotBuilder,
	validator *validation.Validator,
	buckets gcp.BucketService,
	agg domainagg.PublishAggregate,
	locks redislock.Locker,
	metrics *observability.Metrics,
) PublishService {
	if locks == nil {
		locks = redislock.NewLocalLocker()
	}
	if validator == nil {
		validator = validation.New(validation.DefaultPolicy())
	}
	return &publishService{
		log:       baseLog.With("service", "PublishService"),
		builder:   builder,
		validator: validator,
		buckets:   buckets,
		agg:       agg,
		locks:     locks,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (s *publishService) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	log := s.log.With("course_id", req.CourseID, "organization_id", req.OrganizationID, "user_id", req.UserID)

	release, err := s.locks.TryAcquire(ctx, redislock.PublishKey(req.CourseID), publishLockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrLockHeld) {
			s.metrics.IncPublish("rejected", "lock")
			return nil, apierr.Conflict("publish_in_progress", "course is already being published")
		}
		return nil, apierr.Internal("publish_lock_failed", err)
	}
	defer release()

	doc, err := s.builder.Build(ctx, snapshot.Request{
		CourseID:       req.CourseID,
		OrganizationID: req.OrganizationID,
		PublishedBy:    req.UserID,
		PublishedAt:    s.now().UTC(),
	})
	if err != nil {
		log.Warn("publish fetch failed", "error", err)
		return nil, s.fail(PhaseFetch, &PublishError{Phase: PhaseFetch, Err: err})
	}

	if res := s.validator.Validate(doc); !res.Valid {
		log.Info("publish rejected by validation", "violations", len(res.Violations))
		return nil, s.fail(PhaseValidate, &PublishError{Phase: PhaseValidate, Violations: res.Violations})
	}

	if err := s.promoteThumbnail(ctx, doc.ImageURL); err != nil {
		log.Warn("thumbnail promotion failed", "error", err)
		return nil, s.fail(PhaseThumbnail, &PublishError{Phase: PhaseThumbnail, Err: err})
	}

	in, err := upsertInput(doc, req)
	if err != nil {
		return nil, s.fail(PhaseUpsert, &PublishError{Phase: PhaseUpsert, Err: err})
	}
	out, err := s.agg.UpsertPublishedCourseWithContent(ctx, in)
	if err != nil {
		log.Error("publish upsert failed", "error", err)
		return nil, s.fail(PhaseUpsert, &PublishError{Phase: PhaseUpsert, Err: err})
	}

	s.metrics.IncPublish("published", "")
	log.Info("course published", "published_course_id", out.PublishedCourseID, "version", out.Version, "previous_version", out.PreviousVersion)
	res := &PublishResult{
		PublishedCourseID: out.PublishedCourseID,
		CourseID:          out.CourseID,
		Version:           out.Version,
		PublishedAt:       out.PublishedAt,
		Message:           fmt.Sprintf("%s published as version %d", doc.Name, out.Version),
	}
	if doc.ImageURL != nil && strings.TrimSpace(*doc.ImageURL) != "" {
		res.ThumbnailURL = s.buckets.GetPublicURL(gcp.BucketCategoryPublished, strings.TrimSpace(*doc.ImageURL))
	}
	return res, nil
}

func (s *publishService) fail(phase string, err *PublishError) error {
	s.metrics.IncPublish("failed", phase)
	return err
}

// promoteThumbnail copies the draft thumbnail to the same key in the published
// bucket. Courses without an image skip this phase.
func (s *publishService) promoteThumbnail(ctx context.Context, imageURL *string) error {
	if imageURL == nil || strings.TrimSpace(*imageURL) == "" {
		return nil
	}
	if s.buckets == nil {
		return errors.New("object storage not configured")
	}
	key := strings.TrimSpace(*imageURL)
	if err := s.buckets.DeleteFile(ctx, gcp.BucketCategoryPublished, key); err != nil && !errors.Is(err, gcp.ErrObjectNotFound) {
		s.log.Debug("stale published thumbnail not removed", "key", key, "error", err)
	}
	return s.buckets.CopyObject(ctx, gcp.BucketCategoryDraft, key, gcp.BucketCategoryPublished, key)
}

func upsertInput(doc *courses.Document, req PublishRequest) (domainagg.UpsertPublishedCourseInput, error) {
	publishedAt, err := time.Parse(courses.TimeLayout, doc.PublishedAt)
	if err != nil {
		return domainagg.UpsertPublishedCourseInput{}, fmt.Errorf("published_at: %w", err)
	}
	structure, err := json.Marshal(doc.CourseStructure)
	if err != nil {
		return domainagg.UpsertPublishedCourseInput{}, fmt.Errorf("encode structure: %w", err)
	}
	tiers, err := json.Marshal(doc.PricingTiers)
	if err != nil {
		return domainagg.UpsertPublishedCourseInput{}, fmt.Errorf("encode pricing: %w", err)
	}
	return domainagg.UpsertPublishedCourseInput{
		CourseID:        req.CourseID,
		OrganizationID:  req.OrganizationID,
		CategoryID:      parseUUIDPtr(doc.CategoryID),
		SubcategoryID:   parseUUIDPtr(doc.SubcategoryID),
		Name:            doc.Name,
		Description:     doc.Description,
		ImageURL:        doc.ImageURL,
		BlurHash:        doc.BlurHash,
		Visibility:      doc.Visibility,
		PublishedBy:     req.UserID,
		PublishedAt:     publishedAt,
		TotalChapters:   doc.TotalChapters,
		TotalLessons:    doc.TotalLessons,
		TotalBlocks:     doc.TotalBlocks,
		PricingTiers:    tiers,
		CourseStructure: structure,
	}, nil
}

func parseUUIDPtr(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

func (s *publishService) Unpublish(ctx context.Context, req UnpublishRequest) (*UnpublishResult, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apierr.BadRequest("missing_reason", "reason is required")
	}
	release, err := s.locks.TryAcquire(ctx, redislock.PublishKey(req.CourseID), publishLockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrLockHeld) {
			return nil, apierr.Conflict("publish_in_progress", "course is being published")
		}
		return nil, apierr.Internal("publish_lock_failed", err)
	}
	defer release()

	out, err := s.agg.Unpublish(ctx, domainagg.UnpublishCourseInput{
		CourseID:       req.CourseID,
		OrganizationID: req.OrganizationID,
		UnpublishedBy:  req.UserID,
		Reason:         reason,
		At:             s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("unpublish failed", "course_id", req.CourseID, "error", err)
		return nil, aggregateAPIError("unpublish_failed", err)
	}
	s.metrics.IncPublish("unpublished", "")
	msg := "course unpublished"
	if out.AlreadyUnpublished {
		msg = "course was already unpublished"
	}
	return &UnpublishResult{
		PublishedCourseID:  out.PublishedCourseID,
		Version:            out.Version,
		UnpublishedAt:      out.UnpublishedAt,
		AlreadyUnpublished: out.AlreadyUnpublished,
		Message:            msg,
	}, nil
}
