package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gonasi/gonasi-backend/internal/domain/courses"
)

const (
	CodeRequired        = "required"
	CodeInvalidUUID     = "invalid_uuid"
	CodeInvalidDatetime = "invalid_datetime"
	CodeInvalidValue    = "invalid_value"

	CodeTooFewChapters  = "too_few_chapters"
	CodeTooFewLessons   = "too_few_lessons"
	CodeTooFewBlocks    = "too_few_blocks"
	CodeDuplicatePos    = "duplicate_position"
	CodeCountMismatch   = "count_mismatch"
	CodePriceNotPos     = "price_not_positive"
	CodePromoNotBelow   = "promotion_not_below_price"
	CodePromoDates      = "promotion_dates_out_of_order"
	CodeFreePromotion   = "free_tier_has_promotion"
	CodeNoActiveTier    = "no_active_tier"
	CodeUnpublishFields = "unpublish_fields_inconsistent"
)

// Violation is one rule a document breaks. Path uses json field names.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Policy sets the structural minimums. A zero minimum disables that rule.
type Policy struct {
	MinChapters          int `yaml:"min_chapters"`
	MinLessonsPerChapter int `yaml:"min_lessons_per_chapter"`
	MinBlocksPerLesson   int `yaml:"min_blocks_per_lesson"`
}

func DefaultPolicy() Policy {
	return Policy{MinChapters: 2, MinLessonsPerChapter: 2, MinBlocksPerLesson: 2}
}

type Validator struct {
	policy   Policy
	validate *validator.Validate
}

func New(policy Policy) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{policy: policy, validate: v}
}

func (v *Validator) Policy() Policy { return v.policy }

// Validate runs every rule and collects all violations. It never fails for
// rule violations.
func (v *Validator) Validate(doc *courses.Document) Result {
	var c collector
	if doc == nil {
		c.add("", "document is required", CodeRequired)
		return c.result()
	}
	v.checkSchema(&c, doc)
	v.checkMinimums(&c, doc)
	checkPositions(&c, doc)
	checkCounts(&c, doc)
	checkPricing(&c, doc.PricingTiers)
	checkUnpublishState(&c, doc)
	return c.result()
}

type collector struct {
	violations []Violation
}

func (c *collector) add(path, message, code string) {
	c.violations = append(c.violations, Violation{Path: path, Message: message, Code: code})
}

func (c *collector) result() Result {
	return Result{Valid: len(c.violations) == 0, Violations: c.violations}
}

func (v *Validator) checkSchema(c *collector, doc *courses.Document) {
	err := v.validate.Struct(doc)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		c.add("", err.Error(), CodeInvalidValue)
		return
	}
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		switch fe.Tag() {
		case "required":
			c.add(path, "is required", CodeRequired)
		case "uuid":
			c.add(path, fmt.Sprintf("%v is not a valid UUID", fe.Value()), CodeInvalidUUID)
		case "datetime":
			c.add(path, fmt.Sprintf("%v is not an ISO-8601 datetime", fe.Value()), CodeInvalidDatetime)
		case "oneof":
			c.add(path, fmt.Sprintf("must be one of: %s", fe.Param()), CodeInvalidValue)
		default:
			c.add(path, fmt.Sprintf("failed %s %s", fe.Tag(), fe.Param()), CodeInvalidValue)
		}
	}
}

func (v *Validator) checkMinimums(c *collector, doc *courses.Document) {
	chapters := doc.CourseStructure.Chapters
	if min := v.policy.MinChapters; min > 0 && len(chapters) < min {
		c.add("course_structure.chapters", fmt.Sprintf("a course needs at least %d chapters, has %d", min, len(chapters)), CodeTooFewChapters)
	}
	for i, ch := range chapters {
		if min := v.policy.MinLessonsPerChapter; min > 0 && len(ch.Lessons) < min {
			c.add(fmt.Sprintf("course_structure.chapters[%d].lessons", i), fmt.Sprintf("chapter %q needs at least %d lessons, has %d", ch.Name, min, len(ch.Lessons)), CodeTooFewLessons)
		}
		for j, ls := range ch.Lessons {
			if min := v.policy.MinBlocksPerLesson; min > 0 && len(ls.Blocks) < min {
				c.add(fmt.Sprintf("course_structure.chapters[%d].lessons[%d].blocks", i, j), fmt.Sprintf("lesson %q needs at least %d blocks, has %d", ls.Name, min, len(ls.Blocks)), CodeTooFewBlocks)
			}
		}
	}
}

func checkPositions(c *collector, doc *courses.Document) {
	chapters := doc.CourseStructure.Chapters
	seenChapter := map[int]int{}
	for i, ch := range chapters {
		path := fmt.Sprintf("course_structure.chapters[%d]", i)
		if prev, ok := seenChapter[ch.Position]; ok {
			c.add(path+".position", fmt.Sprintf("position %d already used by chapters[%d]", ch.Position, prev), CodeDuplicatePos)
		} else {
			seenChapter[ch.Position] = i
		}
		seenLesson := map[int]int{}
		for j, ls := range ch.Lessons {
			lpath := fmt.Sprintf("%s.lessons[%d]", path, j)
			if prev, ok := seenLesson[ls.Position]; ok {
				c.add(lpath+".position", fmt.Sprintf("position %d already used by lessons[%d]", ls.Position, prev), CodeDuplicatePos)
			} else {
				seenLesson[ls.Position] = j
			}
			seenBlock := map[int]int{}
			for k, b := range ls.Blocks {
				if prev, ok := seenBlock[b.Position]; ok {
					c.add(fmt.Sprintf("%s.blocks[%d].position", lpath, k), fmt.Sprintf("position %d already used by blocks[%d]", b.Position, prev), CodeDuplicatePos)
				} else {
					seenBlock[b.Position] = k
				}
			}
		}
	}
}

func checkCounts(c *collector, doc *courses.Document) {
	cs := doc.CourseStructure
	lessons, blocks := 0, 0
	for i, ch := range cs.Chapters {
		chBlocks := 0
		for j, ls := range ch.Lessons {
			if ls.TotalBlocks != len(ls.Blocks) {
				c.add(fmt.Sprintf("course_structure.chapters[%d].lessons[%d].total_blocks", i, j), countMessage(ls.TotalBlocks, len(ls.Blocks)), CodeCountMismatch)
			}
			chBlocks += len(ls.Blocks)
		}
		if ch.TotalLessons != len(ch.Lessons) {
			c.add(fmt.Sprintf("course_structure.chapters[%d].total_lessons", i), countMessage(ch.TotalLessons, len(ch.Lessons)), CodeCountMismatch)
		}
		if ch.TotalBlocks != chBlocks {
			c.add(fmt.Sprintf("course_structure.chapters[%d].total_blocks", i), countMessage(ch.TotalBlocks, chBlocks), CodeCountMismatch)
		}
		lessons += len(ch.Lessons)
		blocks += chBlocks
	}
	chapters := len(cs.Chapters)
	for _, chk := range []struct {
		path     string
		declared int
		actual   int
	}{
		{"total_chapters", doc.TotalChapters, chapters},
		{"total_lessons", doc.TotalLessons, lessons},
		{"total_blocks", doc.TotalBlocks, blocks},
		{"course_structure.total_chapters", cs.TotalChapters, chapters},
		{"course_structure.total_lessons", cs.TotalLessons, lessons},
		{"course_structure.total_blocks", cs.TotalBlocks, blocks},
	} {
		if chk.declared != chk.actual {
			c.add(chk.path, countMessage(chk.declared, chk.actual), CodeCountMismatch)
		}
	}
}

func countMessage(declared, actual int) string {
	return fmt.Sprintf("declared %d but structure has %d", declared, actual)
}

func checkPricing(c *collector, tiers []courses.PublishedPricingTier) {
	active := false
	for i, t := range tiers {
		path := fmt.Sprintf("pricing_tiers[%d]", i)
		if t.IsActive {
			active = true
		}
		if t.IsFree {
			if t.PromotionalPrice != nil || t.PromotionStartDate != nil || t.PromotionEndDate != nil {
				c.add(path+".promotional_price", "free tiers cannot carry promotional pricing", CodeFreePromotion)
			}
			continue
		}
		if !t.Price.IsPositive() {
			c.add(path+".price", "paid tiers need a price greater than zero", CodePriceNotPos)
		}
		if t.PromotionalPrice != nil && !t.PromotionalPrice.LessThan(t.Price) {
			c.add(path+".promotional_price", "promotional price must be below the price", CodePromoNotBelow)
		}
		if t.PromotionStartDate != nil && t.PromotionEndDate != nil {
			start, errStart := time.Parse(courses.TimeLayout, *t.PromotionStartDate)
			end, errEnd := time.Parse(courses.TimeLayout, *t.PromotionEndDate)
			if errStart == nil && errEnd == nil && !start.Before(end) {
				c.add(path+".promotion_end_date", "promotion must start before it ends", CodePromoDates)
			}
		}
	}
	if !active {
		c.add("pricing_tiers", "at least one pricing tier must be active", CodeNoActiveTier)
	}
}

func checkUnpublishState(c *collector, doc *courses.Document) {
	hasAt, hasBy := doc.UnpublishedAt != nil, doc.UnpublishedBy != nil
	if doc.Status == courses.PublishStatusUnpublished {
		if !hasAt || !hasBy {
			c.add("unpublished_at", "unpublished courses need both unpublished_at and unpublished_by", CodeUnpublishFields)
		}
		return
	}
	if hasAt || hasBy {
		c.add("unpublished_at", "unpublished_at and unpublished_by are only set on unpublished courses", CodeUnpublishFields)
	}
}
