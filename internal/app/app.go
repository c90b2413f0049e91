package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/gonasi/gonasi-backend/internal/data/db"
	"github.com/gonasi/gonasi-backend/internal/data/repos"
	types "github.com/gonasi/gonasi-backend/internal/domain"
	apphttp "github.com/gonasi/gonasi-backend/internal/http"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/dbctx"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics
	Server   *apphttp.Server

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics(0)
	}

	pg, err := db.NewPostgresService(log, cfg.Postgres)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)
	if err := seedTierLimits(ctx, reposet.TierLimits, cfg.Tiers); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	aggs := wireAggregates(theDB, log, cfg, reposet, metrics)
	serviceset := wireServices(log, cfg, reposet, aggs, clients, metrics)
	handlerset := wireHandlers(log, theDB, serviceset)
	middleware := wireMiddleware(log, serviceset)
	server := wireServer(log, cfg, handlerset, middleware, metrics)

	return &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Metrics:      metrics,
		Server:       server,
		pg:           pg,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the outbox dispatcher, the saga sweeper and metrics collectors.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
	a.Metrics.StartOutboxCollector(ctx, a.Log, a.DB)
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
	}

	if a.Services.Outbox != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Services.Outbox.Run(ctx)
		}()
	}
	if a.Services.SagaSweeper != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Services.SagaSweeper.Run(ctx)
		}()
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("http server listening", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Log.Warn("http shutdown", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.wg.Wait()
	a.Clients.close(a.Log)
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			a.Log.Warn("postgres close", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(shutdownCtx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
	}
	a.Log.Sync()
}

func seedTierLimits(ctx context.Context, repo repos.TierLimitsRepo, tiers []TierSetting) error {
	if len(tiers) == 0 {
		return nil
	}
	rows := make([]*types.TierLimits, 0, len(tiers))
	for _, t := range tiers {
		row := &types.TierLimits{
			Tier:                  strings.ToLower(strings.TrimSpace(t.Tier)),
			PlatformFeePercentage: decimal.RequireFromString(orZero(t.PlatformFeePercentage)),
			PriceMonthly:          decimal.RequireFromString(orZero(t.PriceMonthly)),
			MaxPublishedCourses:   t.MaxPublishedCourses,
		}
		if code := strings.TrimSpace(t.PlanCode); code != "" {
			row.PaystackPlanCode = &code
		}
		rows = append(rows, row)
	}
	if err := repo.Upsert(dbctx.Context{Ctx: ctx}, rows); err != nil {
		return fmt.Errorf("seed tier limits: %w", err)
	}
	return nil
}
