package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tixgate/internal/authorization"
	"github.com/smallbiznis/tixgate/internal/config"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
	notificationdomain "github.com/smallbiznis/tixgate/internal/notification/domain"
	"github.com/smallbiznis/tixgate/internal/observability"
	obsmiddleware "github.com/smallbiznis/tixgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tixgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tixgate/internal/observability/tracing"
	outboxdomain "github.com/smallbiznis/tixgate/internal/outbox/domain"
	paymentdomain "github.com/smallbiznis/tixgate/internal/payment/domain"
	"github.com/smallbiznis/tixgate/internal/ratelimit"
	"github.com/smallbiznis/tixgate/internal/slo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(provideSLOReporter),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// SLOReporter is the read side of the SLO report.
type SLOReporter interface {
	Report(ctx context.Context, orgID snowflake.ID) (slo.Report, error)
}

func provideSLOReporter(r *slo.Reporter) SLOReporter {
	return r
}

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	log             *zap.Logger
	authzSvc        authorization.Service
	paymentSvc      paymentdomain.Service
	webhookSvc      paymentdomain.WebhookService
	entitlementSvc  entitlementdomain.Service
	notificationSvc notificationdomain.Service
	outboxSvc       outboxdomain.Service
	sloReporter     SLOReporter
	webhookLimiter  *ratelimit.WebhookLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	PaymentSvc      paymentdomain.Service
	WebhookSvc      paymentdomain.WebhookService
	EntitlementSvc  entitlementdomain.Service
	NotificationSvc notificationdomain.Service
	OutboxSvc       outboxdomain.Service
	SLOReporter     SLOReporter
	WebhookLimiter  *ratelimit.WebhookLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		paymentSvc:      p.PaymentSvc,
		webhookSvc:      p.WebhookSvc,
		entitlementSvc:  p.EntitlementSvc,
		notificationSvc: p.NotificationSvc,
		outboxSvc:       p.OutboxSvc,
		sloReporter:     p.SLOReporter,
		webhookLimiter:  p.WebhookLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerWebhookRoutes()
	svc.registerEntitlementRoutes()
	svc.registerPaymentRoutes()
	svc.registerOpsRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks")
	webhooks.POST("/payments/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)
}

func (s *Server) registerEntitlementRoutes() {
	entitlements := s.engine.Group("/entitlements", s.RolesFromHeader(), s.OrgRequired())

	entitlements.GET("/:id/effective", s.authorize(authorization.ObjectEntitlement, authorization.ActionEntitlementView), s.GetEffectiveEntitlement)
	entitlements.POST("/:id/checkins", s.authorize(authorization.ObjectCheckin, authorization.ActionCheckinRecord), s.RecordCheckin)
}

func (s *Server) registerPaymentRoutes() {
	payments := s.engine.Group("/payments", s.RolesFromHeader(), s.OrgRequired())

	payments.POST("", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRegister), s.RegisterPayment)
	payments.GET("/:reference", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPayment)
	payments.GET("/:reference/ledger", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentView), s.GetPaymentLedger)
	payments.POST("/:reference/refunds", s.authorize(authorization.ObjectPayment, authorization.ActionPaymentRefund), s.RecordRefund)
}

func (s *Server) registerOpsRoutes() {
	ops := s.engine.Group("/ops", s.RolesFromHeader())

	// -------- SLO --------
	ops.GET("/slo", s.authorize(authorization.ObjectSLO, authorization.ActionSLOView), s.GetSLOReport)

	// -------- Outbox --------
	ops.GET("/outbox/dead-letters", s.OrgRequired(), s.authorize(authorization.ObjectOutbox, authorization.ActionOutboxView), s.ListDeadLetters)
	ops.POST("/outbox/:id/replay", s.OrgRequired(), s.authorize(authorization.ObjectOutbox, authorization.ActionOutboxReplay), s.ReplayOutboxEvent)

	// -------- Notifications --------
	ops.POST("/notifications/schedule-changes", s.OrgRequired(), s.authorize(authorization.ObjectNotification, authorization.ActionNotificationSend), s.NotifyScheduleChange)
}
