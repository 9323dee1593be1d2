package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/phage/internal/auth/domain"
	"github.com/smallbiznis/phage/internal/auth/session"
	"github.com/smallbiznis/phage/internal/config"
	contactdomain "github.com/smallbiznis/phage/internal/contact/domain"
	"github.com/smallbiznis/phage/internal/currency"
	ledgerdomain "github.com/smallbiznis/phage/internal/ledger/domain"
	"github.com/smallbiznis/phage/internal/observability"
	obsmiddleware "github.com/smallbiznis/phage/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/phage/internal/observability/metrics"
	obstracing "github.com/smallbiznis/phage/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/phage/internal/payment/domain"
	"github.com/smallbiznis/phage/internal/ratelimit"
	"github.com/smallbiznis/phage/internal/receipt"
	simdomain "github.com/smallbiznis/phage/internal/simulation/domain"
	"github.com/smallbiznis/phage/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxMultipartMemory = 32 << 20

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = maxMultipartMemory
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		Quiet:           []string{"/health", "/metrics"},
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(SecurityHeaders(cfg.IsProduction()))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if httpMetrics != nil {
		r.GET("/metrics", httpMetrics.Handler())
	}

	return r
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
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

type currencyService interface {
	Rates(ctx context.Context) currency.Rates
	Quote(ctx context.Context, credits float64, code string) (*currency.Quote, error)
}

type receiptRenderer interface {
	Render(ctx context.Context, userID, transactionID snowflake.ID) (*receipt.Document, error)
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	authsvc     authdomain.Service
	sessions    *session.Manager
	simsvc      simdomain.Service
	ledgersvc   ledgerdomain.Service
	checkoutsvc paymentdomain.CheckoutService
	webhooksvc  paymentdomain.WebhookService
	contactsvc  contactdomain.Service
	currencysvc currencyService
	receiptsvc  receiptRenderer
	store       storage.Store
	signer      *storage.Signer
	limiter     *ratelimit.Limiter
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Authsvc     authdomain.Service
	Sessions    *session.Manager
	SimSvc      simdomain.Service
	LedgerSvc   ledgerdomain.Service
	CheckoutSvc paymentdomain.CheckoutService
	WebhookSvc  paymentdomain.WebhookService
	ContactSvc  contactdomain.Service
	CurrencySvc *currency.Service
	ReceiptSvc  *receipt.Service
	Store       storage.Store
	Signer      *storage.Signer
	Limiter     *ratelimit.Limiter  `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		authsvc:     p.Authsvc,
		sessions:    p.Sessions,
		simsvc:      p.SimSvc,
		ledgersvc:   p.LedgerSvc,
		checkoutsvc: p.CheckoutSvc,
		webhooksvc:  p.WebhookSvc,
		contactsvc:  p.ContactSvc,
		currencysvc: p.CurrencySvc,
		receiptsvc:  p.ReceiptSvc,
		store:       p.Store,
		signer:      p.Signer,
		limiter:     p.Limiter,
		obsMetrics:  p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerFileRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.RateLimit(ratelimit.PolicyAuth), s.SignUp)
	auth.POST("/login", s.RateLimit(ratelimit.PolicyAuth), s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/currencies", s.ListCurrencies)
	api.GET("/currencies/quote", s.QuoteCredits)

	api.POST("/contact", s.RateLimit(ratelimit.PolicyContact), s.SubmitContact)

	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)

	authed := api.Group("", s.AuthRequired())
	{
		authed.POST("/simulations", s.CreateSimulation)
		authed.GET("/simulations", s.ListSimulations)
		authed.GET("/simulations/:id", s.GetSimulation)
		authed.POST("/simulations/:id/status", s.CheckSimulationStatus)
		authed.GET("/simulations/:id/results", s.GetSimulationResults)

		authed.GET("/transactions", s.ListTransactions)
		authed.GET("/transactions/:id/receipt", s.DownloadReceipt)

		authed.POST("/checkout", s.RateLimit(ratelimit.PolicyCheckout), s.CreateCheckout)
	}
}

func (s *Server) registerFileRoutes() {
	s.engine.GET("/files/*key", s.ServeFile)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

// respond wraps data in the response envelope.
func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}
