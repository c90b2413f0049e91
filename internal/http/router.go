package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/gonasi/gonasi-backend/internal/http/handlers"
	httpMW "github.com/gonasi/gonasi-backend/internal/http/middleware"
	"github.com/gonasi/gonasi-backend/internal/observability"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	// TrustedProxies lists the proxy IPs/CIDRs whose X-Forwarded-For is believed.
	// Empty trusts none, so the client IP is the connection address.
	TrustedProxies []string

	AuthMiddleware *httpMW.AuthMiddleware

	WebhookHandler      *httpH.WebhookHandler
	PublishHandler      *httpH.PublishHandler
	SubscriptionHandler *httpH.SubscriptionHandler
	HealthHandler       *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		cfg.Log.Warn("invalid trusted proxies, trusting none", "proxies", cfg.TrustedProxies, "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	// Provider callbacks (no auth; origin allow-list enforced by the service)
	if cfg.WebhookHandler != nil {
		r.POST("/webhooks/paystack", cfg.WebhookHandler.Paystack)
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}
	org := api.Group("/organizations/:orgID")
	{
		if cfg.PublishHandler != nil {
			org.POST("/courses/:courseID/publish", cfg.PublishHandler.Publish)
			org.POST("/courses/:courseID/unpublish", cfg.PublishHandler.Unpublish)
		}
		if cfg.SubscriptionHandler != nil {
			org.POST("/subscription/downgrade", cfg.SubscriptionHandler.Downgrade)
		}
	}

	return r
}
