package app

import (
	"gorm.io/gorm"

	apphttp "github.com/gonasi/gonasi-backend/internal/http"
	httpH "github.com/gonasi/gonasi-backend/internal/http/handlers"
	httpMW "github.com/gonasi/gonasi-backend/internal/http/middleware"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type Handlers struct {
	Health       *httpH.HealthHandler
	Webhook      *httpH.WebhookHandler
	Publish      *httpH.PublishHandler
	Subscription *httpH.SubscriptionHandler
}

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func wireHandlers(log *logger.Logger, db *gorm.DB, svc Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:       httpH.NewHealthHandler(db),
		Webhook:      httpH.NewWebhookHandler(log, svc.Webhooks),
		Publish:      httpH.NewPublishHandler(log, svc.Publish),
		Subscription: httpH.NewSubscriptionHandler(log, svc.Subscriptions),
	}
}

func wireMiddleware(log *logger.Logger, svc Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{Auth: httpMW.NewAuthMiddleware(log, svc.Auth)}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, mw Middleware, metrics *observability.Metrics) *apphttp.Server {
	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	return apphttp.NewServer(cfg.HTTPAddr, apphttp.RouterConfig{
		Log:                 log,
		Metrics:             metrics,
		ServiceName:         serviceName,
		CORSOrigins:         cfg.CORSOrigins,
		TrustedProxies:      cfg.TrustedProxies,
		AuthMiddleware:      mw.Auth,
		WebhookHandler:      handlers.Webhook,
		PublishHandler:      handlers.Publish,
		SubscriptionHandler: handlers.Subscription,
		HealthHandler:       handlers.Health,
	})
}
