package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gonasi/gonasi-backend/internal/data/repos"
	repotest "github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GONASI_CONFIG_FILE", "")
	t.Setenv("PAYSTACK_ALLOWED_IPS", "")
	t.Setenv("PUBLISH_MIN_CHAPTERS", "")
	t.Setenv("FREE_TIER", "")
	t.Setenv("PAYSTACK_VERIFY_SIGNATURE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"52.31.139.75", "52.49.173.169", "52.214.14.220"}, cfg.PaystackAllowedIPs)
	require.Equal(t, 2, cfg.PublishPolicy.MinChapters)
	require.Equal(t, "launch", cfg.FreeTier)
	require.False(t, cfg.PaystackVerifySignature)
	require.Equal(t, "https://api.paystack.co", cfg.PaystackBaseURL)
}

func TestLoadConfigYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gonasi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
paystack:
  allowed_ips: ["10.1.1.1"]
publish:
  min_chapters: 1
  min_lessons_per_chapter: 0
  min_blocks_per_lesson: 3
tiers:
  - tier: scale
    plan_code: PLN_scale
    platform_fee_percentage: "10"
    price_monthly: "2500"
    max_published_courses: 25
`), 0o600))
	t.Setenv("GONASI_CONFIG_FILE", path)
	t.Setenv("PAYSTACK_ALLOWED_IPS", "1.2.3.4")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"10.1.1.1"}, cfg.PaystackAllowedIPs)
	require.Equal(t, 1, cfg.PublishPolicy.MinChapters)
	require.Equal(t, 0, cfg.PublishPolicy.MinLessonsPerChapter)
	require.Equal(t, 3, cfg.PublishPolicy.MinBlocksPerLesson)
	require.Len(t, cfg.Tiers, 1)
}

func TestLoadConfigRejectsEnforcedSignatureWithoutSecret(t *testing.T) {
	t.Setenv("GONASI_CONFIG_FILE", "")
	t.Setenv("PAYSTACK_VERIFY_SIGNATURE", "true")
	t.Setenv("PAYSTACK_SECRET_KEY", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestSeedTierLimitsUpserts(t *testing.T) {
	db := repotest.DB(t)
	log := repotest.Logger(t)
	repo := repos.NewTierLimitsRepo(db, log)
	ctx := context.Background()

	require.NoError(t, seedTierLimits(ctx, repo, []TierSetting{
		{Tier: "Scale", PlanCode: "PLN_old", PlatformFeePercentage: "12.5", PriceMonthly: "2500", MaxPublishedCourses: 10},
	}))
	require.NoError(t, seedTierLimits(ctx, repo, []TierSetting{
		{Tier: "scale", PlanCode: "PLN_new", PlatformFeePercentage: "10", PriceMonthly: "2500", MaxPublishedCourses: 25},
	}))

	row, err := repo.GetByTier(dbctx.Context{Ctx: ctx}, "scale")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "PLN_new", *row.PaystackPlanCode)
	require.Equal(t, "10", row.PlatformFeePercentage.String())
	require.Equal(t, 25, row.MaxPublishedCourses)
}
