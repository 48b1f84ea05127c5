package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/moradacoop/morada/internal/auth"
	"github.com/moradacoop/morada/internal/config"
	memberdomain "github.com/moradacoop/morada/internal/member/domain"
	obsmetrics "github.com/moradacoop/morada/internal/observability/metrics"
	paymentservice "github.com/moradacoop/morada/internal/payment/service"
	paymentwebhook "github.com/moradacoop/morada/internal/payment/webhook"
	"github.com/moradacoop/morada/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
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
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	authMgr    *auth.Manager
	memberRepo memberdomain.Repository
	paymentSvc *paymentservice.Service
	webhookSvc *paymentwebhook.Service
	limiter    *ratelimit.ChargeLimiter
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuthMgr    *auth.Manager
	MemberRepo memberdomain.Repository
	PaymentSvc *paymentservice.Service
	WebhookSvc *paymentwebhook.Service
	Limiter    *ratelimit.ChargeLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("server"),
		genID:      p.GenID,
		authMgr:    p.AuthMgr,
		memberRepo: p.MemberRepo,
		paymentSvc: p.PaymentSvc,
		webhookSvc: p.WebhookSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// the provider was configured with the bare path before the provider
	// segment was added; keep accepting both
	s.engine.POST("/webhook", s.HandleCiabraWebhook)
	s.engine.POST("/webhook/ciabra", s.HandleCiabraWebhook)

	api := s.engine.Group("/api", auth.Middleware(s.authMgr))
	{
		api.GET("/me", s.HandleGetProfile)
		api.POST("/payments/charge", s.HandleEnsureCharge)
		api.GET("/payments", s.HandleListPayments)
		api.GET("/payments/:id", s.HandleGetPayment)
	}
}
