package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/revaiconcierge/concierge/internal/clock"
	"github.com/revaiconcierge/concierge/internal/config"
	"github.com/revaiconcierge/concierge/internal/observability"
	obslogger "github.com/revaiconcierge/concierge/internal/observability/logger"
	obsmetrics "github.com/revaiconcierge/concierge/internal/observability/metrics"
	obstracing "github.com/revaiconcierge/concierge/internal/observability/tracing"
	"github.com/revaiconcierge/concierge/internal/plan"
	plandomain "github.com/revaiconcierge/concierge/internal/plan/domain"
	"github.com/revaiconcierge/concierge/internal/reply"
	replydomain "github.com/revaiconcierge/concierge/internal/reply/domain"
	"github.com/revaiconcierge/concierge/internal/subscription"
	subscriptiondomain "github.com/revaiconcierge/concierge/internal/subscription/domain"
	"github.com/revaiconcierge/concierge/internal/usagelimit"
	usagelimitdomain "github.com/revaiconcierge/concierge/internal/usagelimit/domain"
	"github.com/revaiconcierge/concierge/internal/usagemetric"
	usagemetricdomain "github.com/revaiconcierge/concierge/internal/usagemetric/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	plan.Module,
	subscription.Module,
	usagelimit.Module,
	usagemetric.Module,
	reply.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{
		QuotaAttributes: obsCfg.QuotaSpanAttributes,
		ResourceKey:     contextResourceKey,
		DecisionKey:     contextQuotaDecision,
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if obsCfg.PrometheusEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	clock           clock.Clock
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	usageLimitSvc   usagelimitdomain.Service
	usageMetricSvc  usagemetricdomain.Service
	replySvc        replydomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Clock           clock.Clock
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UsageLimitSvc   usagelimitdomain.Service
	UsageMetricSvc  usagemetricdomain.Service
	ReplySvc        replydomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		clock:           p.Clock,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		usageLimitSvc:   p.UsageLimitSvc,
		usageMetricSvc:  p.UsageMetricSvc,
		replySvc:        p.ReplySvc,
	}

	svc.registerAPIRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/plans", s.ListPlans)

	tenant := api.Group("", TenantContext())

	// -------- Quotas --------
	tenant.GET("/usage/limits", s.ListUsageLimits)
	tenant.GET("/usage/limits/:resource_type", s.GetUsageLimit)

	// -------- Analytics --------
	tenant.GET("/usage-metrics", s.ListUsageMetrics)
	tenant.GET("/usage-metrics/summary", s.GetUsageMetricSummary)

	// -------- Billing --------
	tenant.GET("/subscription", s.GetSubscription)
	tenant.GET("/subscription/plan", s.GetCurrentPlan)

	// -------- Metered API --------
	metered := tenant.Group("", s.APILimit())
	metered.POST("/ai-replies/generate", s.GenerateAIReply)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/api/v1/internal", s.InternalAuthRequired())

	internal.POST("/subscriptions", s.UpsertSubscription)
	internal.POST("/subscriptions/change-plan", s.ChangeSubscriptionPlan)
	internal.POST("/subscriptions/cancel", s.CancelSubscription)

	// Metering writes on behalf of a tenant.
	metering := internal.Group("", TenantContext())
	metering.POST("/usage/limits/:resource_type/increment", s.IncrementUsageLimit)
	metering.POST("/usage-metrics", s.RecordUsageMetric)
}
