package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/domain/courses"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

// ErrFetchFailed marks a failure to read the draft graph, as opposed to a
// draft that reads fine but does not validate.
var ErrFetchFailed = errors.New("course fetch failed")

var ErrCourseNotFound = fmt.Errorf("%w: course not found", ErrFetchFailed)

type Request struct {
	CourseID       uuid.UUID
	OrganizationID uuid.UUID
	PublishedBy    uuid.UUID
	PublishedAt    time.Time
}

type Builder struct {
	log     *logger.Logger
	courses repos.CourseRepo
	graph   repos.CourseGraphRepo
	pricing repos.PricingTierRepo
}

func NewBuilder(baseLog *logger.Logger, courseRepo repos.CourseRepo, graph repos.CourseGraphRepo, pricing repos.PricingTierRepo) *Builder {
	return &Builder{
		log:     baseLog.With("service", "SnapshotBuilder"),
		courses: courseRepo,
		graph:   graph,
		pricing: pricing,
	}
}

// Build reads the live draft and returns the candidate snapshot. It does not
// validate; a course with no chapters yields an empty structure.
func (b *Builder) Build(ctx context.Context, req Request) (*courses.Document, error) {
	dbc := dbctx.Context{Ctx: ctx}
	course, err := b.courses.GetByIDForOrganization(dbc, req.CourseID, req.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("%w: load course: %v", ErrFetchFailed, err)
	}
	if course == nil {
		return nil, ErrCourseNotFound
	}

	var (
		chapters []*types.Chapter
		lessons  []*types.Lesson
		blocks   []*types.LessonBlock
		tiers    []*types.CoursePricingTier
	)
	g, gctx := errgroup.WithContext(ctx)
	gdbc := dbctx.Context{Ctx: gctx}
	g.Go(func() (err error) {
		chapters, err = b.graph.ListChapters(gdbc, course.ID)
		return wrapFetch("chapters", err)
	})
	g.Go(func() (err error) {
		lessons, err = b.graph.ListLessons(gdbc, course.ID)
		return wrapFetch("lessons", err)
	})
	g.Go(func() (err error) {
		blocks, err = b.graph.ListBlocks(gdbc, course.ID)
		return wrapFetch("blocks", err)
	})
	g.Go(func() (err error) {
		tiers, err = b.pricing.ListByCourseID(gdbc, course.ID)
		return wrapFetch("pricing tiers", err)
	})
	if err := g.Wait(); err != nil {
		b.log.Warn("snapshot fetch failed", "course_id", course.ID, "error", err)
		return nil, err
	}

	lessonTypes, err := b.graph.GetLessonTypesByIDs(dbc, lessonTypeIDs(lessons))
	if err != nil {
		return nil, wrapFetch("lesson types", err)
	}

	structure := assemble(chapters, lessons, blocks, lessonTypes)
	publishedAt := req.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}
	doc := &courses.Document{
		CourseID:        course.ID.String(),
		OrganizationID:  course.OrganizationID.String(),
		CategoryID:      uuidString(course.CategoryID),
		SubcategoryID:   uuidString(course.SubcategoryID),
		Name:            course.Name,
		Description:     course.Description,
		ImageURL:        course.ImageURL,
		BlurHash:        course.BlurHash,
		Visibility:      course.Visibility,
		Status:          courses.PublishStatusPublished,
		PublishedBy:     req.PublishedBy.String(),
		PublishedAt:     courses.FormatTime(publishedAt),
		TotalChapters:   structure.TotalChapters,
		TotalLessons:    structure.TotalLessons,
		TotalBlocks:     structure.TotalBlocks,
		PricingTiers:    pricingCopy(tiers),
		CourseStructure: structure,
	}
	b.log.Debug("snapshot built",
		"course_id", course.ID,
		"chapters", doc.TotalChapters,
		"lessons", doc.TotalLessons,
		"blocks", doc.TotalBlocks,
	)
	return doc, nil
}

func wrapFetch(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: list %s: %v", ErrFetchFailed, what, err)
}

func assemble(chapters []*types.Chapter, lessons []*types.Lesson, blocks []*types.LessonBlock, lessonTypes []*types.LessonType) courses.CourseStructure {
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Position < chapters[j].Position })
	sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].Position < lessons[j].Position })
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Position < blocks[j].Position })

	typeByID := make(map[uuid.UUID]*types.LessonType, len(lessonTypes))
	for _, lt := range lessonTypes {
		typeByID[lt.ID] = lt
	}
	blocksByLesson := map[uuid.UUID][]courses.StructureBlock{}
	for _, blk := range blocks {
		blocksByLesson[blk.LessonID] = append(blocksByLesson[blk.LessonID], courses.StructureBlock{
			ID:         blk.ID.String(),
			LessonID:   blk.LessonID.String(),
			PluginType: blk.PluginType,
			Content:    rawJSON(blk.Content),
			Settings:   rawJSON(blk.Settings),
			Position:   blk.Position,
		})
	}
	lessonsByChapter := map[uuid.UUID][]courses.StructureLesson{}
	for _, ls := range lessons {
		out := courses.StructureLesson{
			ID:           ls.ID.String(),
			ChapterID:    ls.ChapterID.String(),
			LessonTypeID: ls.LessonTypeID.String(),
			Name:         ls.Name,
			Position:     ls.Position,
			Settings:     rawJSON(ls.Settings),
			Blocks:       blocksByLesson[ls.ID],
		}
		if out.Blocks == nil {
			out.Blocks = []courses.StructureBlock{}
		}
		if lt := typeByID[ls.LessonTypeID]; lt != nil {
			out.LessonType = &courses.StructureLessonType{
				ID:          lt.ID.String(),
				Name:        lt.Name,
				Description: lt.Description,
				LucideIcon:  lt.LucideIcon,
				BgColor:     lt.BgColor,
			}
		}
		out.TotalBlocks = len(out.Blocks)
		lessonsByChapter[ls.ChapterID] = append(lessonsByChapter[ls.ChapterID], out)
	}

	structure := courses.CourseStructure{Chapters: make([]courses.StructureChapter, 0, len(chapters))}
	for _, ch := range chapters {
		out := courses.StructureChapter{
			ID:          ch.ID.String(),
			Name:        ch.Name,
			Description: ch.Description,
			Position:    ch.Position,
			Lessons:     lessonsByChapter[ch.ID],
		}
		if out.Lessons == nil {
			out.Lessons = []courses.StructureLesson{}
		}
		for _, ls := range out.Lessons {
			out.TotalBlocks += ls.TotalBlocks
		}
		out.TotalLessons = len(out.Lessons)

		structure.Chapters = append(structure.Chapters, out)
		structure.TotalLessons += out.TotalLessons
		structure.TotalBlocks += out.TotalBlocks
	}
	structure.TotalChapters = len(structure.Chapters)
	return structure
}

func pricingCopy(tiers []*types.CoursePricingTier) []courses.PublishedPricingTier {
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Position < tiers[j].Position })
	out := make([]courses.PublishedPricingTier, 0, len(tiers))
	for _, t := range tiers {
		p := courses.PublishedPricingTier{
			ID:                 t.ID.String(),
			CourseID:           t.CourseID.String(),
			PaymentFrequency:   t.PaymentFrequency,
			IsFree:             t.IsFree,
			Price:              t.Price,
			CurrencyCode:       t.CurrencyCode,
			PromotionStartDate: courses.FormatTimePtr(t.PromotionStartDate),
			PromotionEndDate:   courses.FormatTimePtr(t.PromotionEndDate),
			TierName:           t.TierName,
			TierDescription:    t.TierDescription,
			IsActive:           t.IsActive,
			Position:           t.Position,
			IsPopular:          t.IsPopular,
			IsRecommended:      t.IsRecommended,
		}
		if t.PromotionalPrice.Valid {
			promo := t.PromotionalPrice.Decimal
			p.PromotionalPrice = &promo
		}
		out = append(out, p)
	}
	return out
}

func lessonTypeIDs(lessons []*types.Lesson) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	out := make([]uuid.UUID, 0)
	for _, ls := range lessons {
		if ls.LessonTypeID == uuid.Nil || seen[ls.LessonTypeID] {
			continue
		}
		seen[ls.LessonTypeID] = true
		out = append(out, ls.LessonTypeID)
	}
	return out
}

func uuidString(id *uuid.UUID) *string {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(b)
}
