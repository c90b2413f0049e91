package aggregates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/courses"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

type PublishAggregateDeps struct {
	Base BaseDeps

	Published repos.PublishedCourseRepo
	Content   repos.CourseStructureContentRepo
}

type publishAggregate struct {
	deps PublishAggregateDeps
}

func NewPublishAggregate(deps PublishAggregateDeps) domainagg.PublishAggregate {
	deps.Base = deps.Base.withDefaults()
	return &publishAggregate{deps: deps}
}

func (a *publishAggregate) Contract() domainagg.Contract {
	return domainagg.PublishAggregateContract
}

func (a *publishAggregate) UpsertPublishedCourseWithContent(ctx context.Context, in domainagg.UpsertPublishedCourseInput) (domainagg.UpsertPublishedCourseResult, error) {
	const op = "Courses.Publish.UpsertPublishedCourseWithContent"
	var out domainagg.UpsertPublishedCourseResult

	if in.CourseID == uuid.Nil || in.OrganizationID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing course_id or organization_id", nil)
	}
	if in.PublishedBy == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing published_by", nil)
	}
	if strings.TrimSpace(in.Name) == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing course name", nil)
	}
	if !json.Valid(in.CourseStructure) || !json.Valid(in.PricingTiers) {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "course_structure and pricing_tiers must be valid JSON", nil)
	}
	if a.deps.Published == nil || a.deps.Content == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "publish aggregate repos not configured", nil)
	}
	publishedAt := in.PublishedAt.UTC()
	if in.PublishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		current, err := a.deps.Published.LockCurrentByCourseID(dbc, in.CourseID)
		if err != nil {
			return err
		}
		if current != nil && current.OrganizationID != in.OrganizationID {
			return InvariantError(fmt.Sprintf("course %s is published under another organization", in.CourseID))
		}
		maxVersion, err := a.deps.Published.GetMaxVersion(dbc, in.CourseID)
		if err != nil {
			return err
		}

		if current != nil {
			if err := a.deps.Published.UpdateFields(dbc, current.ID, map[string]interface{}{
				"is_current_version": false,
				"status":             courses.PublishStatusArchived,
			}); err != nil {
				return err
			}
		}

		row := &types.PublishedCourse{
			ID:               uuid.New(),
			CourseID:         in.CourseID,
			OrganizationID:   in.OrganizationID,
			CategoryID:       in.CategoryID,
			SubcategoryID:    in.SubcategoryID,
			Name:             strings.TrimSpace(in.Name),
			Description:      in.Description,
			ImageURL:         in.ImageURL,
			BlurHash:         in.BlurHash,
			Visibility:       in.Visibility,
			Version:          maxVersion + 1,
			IsCurrentVersion: true,
			Status:           courses.PublishStatusPublished,
			PublishedAt:      publishedAt,
			PublishedBy:      in.PublishedBy,
			TotalChapters:    in.TotalChapters,
			TotalLessons:     in.TotalLessons,
			TotalBlocks:      in.TotalBlocks,
			PricingTiers:     datatypes.JSON(in.PricingTiers),
		}
		if _, err := a.deps.Published.Create(dbc, []*types.PublishedCourse{row}); err != nil {
			return err
		}

		content := &types.CourseStructureContent{
			ID:                uuid.New(),
			PublishedCourseID: row.ID,
			CourseID:          in.CourseID,
			Version:           row.Version,
			CourseStructure:   datatypes.JSON(in.CourseStructure),
		}
		if _, err := a.deps.Content.Create(dbc, []*types.CourseStructureContent{content}); err != nil {
			return err
		}

		out = domainagg.UpsertPublishedCourseResult{
			PublishedCourseID: row.ID,
			CourseID:          row.CourseID,
			Version:           row.Version,
			PreviousVersion:   maxVersion,
			PublishedAt:       publishedAt,
		}
		return nil
	})
	if err != nil {
		return domainagg.UpsertPublishedCourseResult{}, err
	}
	return out, nil
}

func (a *publishAggregate) Unpublish(ctx context.Context, in domainagg.UnpublishCourseInput) (domainagg.UnpublishCourseResult, error) {
	const op = "Courses.Publish.Unpublish"
	var out domainagg.UnpublishCourseResult

	reason := strings.TrimSpace(in.Reason)
	if in.CourseID == uuid.Nil || in.UnpublishedBy == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing course_id or unpublished_by", nil)
	}
	if reason == "" {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "unpublish reason is required", nil)
	}
	at := in.At.UTC()
	if in.At.IsZero() {
		at = time.Now().UTC()
	}

	err := executeWrite(ctx, a.deps.Base, op, func(dbc dbctx.Context) error {
		current, err := a.deps.Published.LockCurrentByCourseID(dbc, in.CourseID)
		if err != nil {
			return err
		}
		if current == nil {
			return NotFoundError(fmt.Sprintf("course %s has no published version", in.CourseID))
		}
		if in.OrganizationID != uuid.Nil && current.OrganizationID != in.OrganizationID {
			return NotFoundError(fmt.Sprintf("course %s has no published version in organization", in.CourseID))
		}
		out.PublishedCourseID = current.ID
		out.Version = current.Version
		if current.Status == courses.PublishStatusUnpublished {
			out.AlreadyUnpublished = true
			if current.UnpublishedAt != nil {
				out.UnpublishedAt = *current.UnpublishedAt
			}
			return nil
		}

		by := in.UnpublishedBy
		ok, err := a.deps.Base.CASGuard.UpdateByStatus(dbc, &types.PublishedCourse{}, current.ID,
			[]string{courses.PublishStatusPublished},
			map[string]interface{}{
				"status":           courses.PublishStatusUnpublished,
				"unpublished_at":   at,
				"unpublished_by":   by,
				"unpublish_reason": reason,
				"updated_at":       at,
			})
		if err != nil {
			return err
		}
		if err := RequireCASSuccess(ok, "published course status changed concurrently"); err != nil {
			return err
		}
		out.UnpublishedAt = at
		return nil
	})
	if err != nil {
		return domainagg.UnpublishCourseResult{}, err
	}
	return out, nil
}
