package aggregates_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gonasi/gonasi-backend/internal/data/aggregates"
	"github.com/gonasi/gonasi-backend/internal/data/repos"
	repotest "github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/domain/billing"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

func newSubscriptionAggregate(t *testing.T, db *gorm.DB) (domainagg.SubscriptionAggregate, repos.SubscriptionRepo) {
	t.Helper()
	log := repotest.Logger(t)
	subs := repos.NewSubscriptionRepo(db, log)
	return aggregates.NewSubscriptionAggregate(aggregates.SubscriptionAggregateDeps{
		Base:          baseDeps(t, db, nil),
		Subscriptions: subs,
		Notifications: repos.NewNotificationRepo(db, log),
	}), subs
}

func TestStageDowngradeThenUpgradeClearsStaging(t *testing.T) {
	db := repotest.DB(t)
	ctx := context.Background()
	agg, subs := newSubscriptionAggregate(t, db)
	orgID := uuid.New()
	periodEnd := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repotest.SeedSubscription(t, ctx, db, orgID, "impact", periodEnd)
	planCode := "PLN_scale"
	user := uuid.New()

	staged, err := agg.StageDowngrade(ctx, domainagg.StageDowngradeInput{
		OrganizationID: orgID,
		TargetTier:     "scale",
		NextPlanCode:   &planCode,
		RequestedBy:    user,
		EffectiveAt:    periodEnd,
		FreeTier:       "launch",
	})
	if err != nil {
		t.Fatalf("StageDowngrade: %v", err)
	}
	if staged.AlreadyStaged || staged.CurrentTier != "impact" || !staged.EffectiveAt.Equal(periodEnd) {
		t.Fatalf("StageDowngrade: %+v", staged)
	}

	again, err := agg.StageDowngrade(ctx, domainagg.StageDowngradeInput{
		OrganizationID: orgID,
		TargetTier:     "scale",
		RequestedBy:    user,
		EffectiveAt:    periodEnd.AddDate(0, 1, 0),
		FreeTier:       "launch",
	})
	if err != nil || !again.AlreadyStaged || !again.EffectiveAt.Equal(periodEnd) {
		t.Fatalf("repeat StageDowngrade: res=%+v err=%v", again, err)
	}

	row, err := subs.GetByOrganizationID(dbctx.Context{Ctx: ctx}, orgID)
	if err != nil || row == nil {
		t.Fatalf("GetByOrganizationID: row=%v err=%v", row, err)
	}
	if row.Status != billing.SubscriptionNonRenewing || !row.CancelAtPeriodEnd || row.NextTier == nil || *row.NextTier != "scale" {
		t.Fatalf("staged row: status=%s cancel=%v next=%v", row.Status, row.CancelAtPeriodEnd, row.NextTier)
	}
	if row.Tier != "impact" {
		t.Fatalf("tier must not change until the effective date, got=%s", row.Tier)
	}

	next := periodEnd.AddDate(0, 1, 0)
	up, err := agg.ApplyUpgrade(ctx, domainagg.ApplyUpgradeInput{
		OrganizationID:   orgID,
		ToTier:           "impact",
		SubscriptionCode: "SUB_new",
		NextPaymentDate:  &next,
	})
	if err != nil {
		t.Fatalf("ApplyUpgrade: %v", err)
	}
	if up.Created || up.FromTier != "impact" {
		t.Fatalf("ApplyUpgrade: %+v", up)
	}
	row, _ = subs.GetByOrganizationID(dbctx.Context{Ctx: ctx}, orgID)
	if row.HasStagedDowngrade() || row.CancelAtPeriodEnd || row.Status != billing.SubscriptionActive {
		t.Fatalf("upgrade must clear staging: %+v", row)
	}
	if row.PaystackSubscriptionCode == nil || *row.PaystackSubscriptionCode != "SUB_new" {
		t.Fatalf("subscription code: %v", row.PaystackSubscriptionCode)
	}
}

func TestStageDowngradeToFreeTierRestages(t *testing.T) {
	db := repotest.DB(t)
	ctx := context.Background()
	agg, _ := newSubscriptionAggregate(t, db)
	orgID := uuid.New()
	periodEnd := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repotest.SeedSubscription(t, ctx, db, orgID, "scale", periodEnd)

	in := domainagg.StageDowngradeInput{OrganizationID: orgID, TargetTier: "launch", RequestedBy: uuid.New(), EffectiveAt: periodEnd, FreeTier: "launch"}
	for i := 0; i < 2; i++ {
		res, err := agg.StageDowngrade(ctx, in)
		if err != nil {
			t.Fatalf("StageDowngrade #%d: %v", i, err)
		}
		if res.AlreadyStaged {
			t.Fatalf("free tier downgrades are never short-circuited")
		}
	}

	in.TargetTier = "scale"
	if _, err := agg.StageDowngrade(ctx, in); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("same tier: want validation got=%v", err)
	}
	in.OrganizationID = uuid.New()
	in.TargetTier = "launch"
	if _, err := agg.StageDowngrade(ctx, in); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("no subscription: want not_found got=%v", err)
	}
}

func TestApplyUpgradeCreatesMissingRow(t *testing.T) {
	db := repotest.DB(t)
	agg, subs := newSubscriptionAggregate(t, db)
	orgID := uuid.New()

	res, err := agg.ApplyUpgrade(context.Background(), domainagg.ApplyUpgradeInput{
		OrganizationID:   orgID,
		ToTier:           "scale",
		SubscriptionCode: "SUB_first",
		CustomerCode:     "CUS_1",
	})
	if err != nil || !res.Created {
		t.Fatalf("ApplyUpgrade: res=%+v err=%v", res, err)
	}
	row, err := subs.GetByOrganizationID(dbctx.Context{Ctx: context.Background()}, orgID)
	if err != nil || row == nil || row.Tier != "scale" || row.Status != billing.SubscriptionActive {
		t.Fatalf("created row: %+v err=%v", row, err)
	}
}

func TestInsertOrgNotificationDedupes(t *testing.T) {
	db := repotest.DB(t)
	agg, _ := newSubscriptionAggregate(t, db)
	ctx := context.Background()
	orgID := uuid.New()
	in := domainagg.OrgNotificationInput{
		OrganizationID: orgID,
		TypeKey:        billing.NotificationSubscriptionUpgraded,
		Metadata:       json.RawMessage(`{"from":"launch","to":"scale"}`),
		DedupeKey:      "upgrade:ref-1",
	}
	first, err := agg.InsertOrgNotification(ctx, in)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := agg.InsertOrgNotification(ctx, in)
	if err != nil || !second.Duplicate || second.NotificationID != first.NotificationID {
		t.Fatalf("second: res=%+v err=%v", second, err)
	}
	// No dedupe key: every call inserts.
	in.DedupeKey = ""
	if _, err := agg.InsertOrgNotification(ctx, in); err != nil {
		t.Fatalf("no key: %v", err)
	}
	rows, err := repos.NewNotificationRepo(db, repotest.Logger(t)).ListByOrganizationID(dbctx.Context{Ctx: ctx}, orgID, 10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("notifications: len=%d err=%v", len(rows), err)
	}
}
