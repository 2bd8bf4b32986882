package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/learnly/platform/internal/auth"
	"github.com/learnly/platform/internal/guard"
	"github.com/learnly/platform/internal/handler"
	"github.com/learnly/platform/internal/infra"
	"github.com/learnly/platform/internal/invoice"
	"github.com/learnly/platform/internal/pricing"
	"github.com/learnly/platform/internal/provider"
	"github.com/learnly/platform/internal/repository"
	"github.com/learnly/platform/internal/service"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Pool     *pgxpool.Pool
	Config   *infra.Config
	JWTMgr   *auth.JWTManager
	Logger   *slog.Logger
	Notifier service.Notifier
	// Limiter throttles checkout attempts per student; the caller sweeps it.
	Limiter *guard.RateLimiter
}

// Services builds the checkout services on top of the pool.
type Services struct {
	Checkout     *service.CheckoutService
	Confirmation *service.ConfirmationService
	Commissions  *service.CommissionService
	Reconcile    *service.ReconcileService
}

// NewServices wires repositories, pricing, invoicing and the gateway client
// into the services. notifier and limiter may be nil.
func NewServices(pool *pgxpool.Pool, cfg *infra.Config, logger *slog.Logger, notifier service.Notifier, limiter *guard.RateLimiter) Services {
	repos := repository.NewRepositories()
	deps := service.Deps{
		DB:       pool,
		Tx:       repository.NewTransactor(pool),
		Repos:    repos,
		Notifier: notifier,
		Logger:   logger,
		Now:      time.Now,
	}

	checkout := service.NewCheckoutService(deps, service.CheckoutOptions{
		Engine:         pricing.NewEngine(cfg.TaxRate),
		Sequencer:      invoice.NewSequencer(repos.InvoiceCounters, cfg.InvoicePrefix, cfg.FiscalYearStart(), deps.Now),
		Gateway:        provider.NewGatewayClient(cfg.GatewayBaseURL, cfg.GatewayKeyID, cfg.GatewayKeySecret, cfg.GatewayTimeout),
		Breaker:        guard.NewCircuitBreaker(cfg.CircuitMaxFailures, cfg.CircuitResetTimeout),
		Limiter:        limiter,
		GatewayTimeout: cfg.GatewayTimeout,
	})

	return Services{
		Checkout:     checkout,
		Confirmation: service.NewConfirmationService(deps, provider.NewSignatureVerifier(cfg.GatewayWebhookSecret)),
		Commissions:  service.NewCommissionService(deps),
		Reconcile:    service.NewReconcileService(deps),
	}
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	pool := deps.Pool
	jwtMgr := deps.JWTMgr
	logger := deps.Logger

	svcs := NewServices(pool, deps.Config, logger, deps.Notifier, deps.Limiter)

	checkoutHandler := handler.NewCheckoutHandler(svcs.Checkout, svcs.Confirmation)
	webhookHandler := handler.NewWebhookHandler(svcs.Confirmation, logger)
	commissionHandler := handler.NewCommissionHandler(svcs.Commissions)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(deps.Config.CORSAllowedOrigins))
	r.Use(handler.JSONContentType)

	// Health (no auth)
	r.Get("/health", handler.HealthHandler(func(ctx context.Context) error {
		return infra.HealthCheck(ctx, pool)
	}))

	// Webhooks (no JWT, the payload carries an HMAC signature)
	r.Post("/webhooks/gateway", webhookHandler.HandleGateway)

	// Student-authenticated routes
	r.Route("/checkout", func(r chi.Router) {
		r.Use(auth.AuthenticateStudent(jwtMgr))

		r.Post("/orders", checkoutHandler.CreateOrder)
		r.Get("/payments/{id}", checkoutHandler.GetPayment)
		r.Post("/payments/{id}/confirm", checkoutHandler.ConfirmPayment)
	})

	// Affiliate-authenticated routes
	r.Route("/affiliate", func(r chi.Router) {
		r.Use(auth.AuthenticateAffiliate(jwtMgr))

		r.Get("/commissions", commissionHandler.ListMine)
	})

	// Admin-authenticated routes
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.AuthenticateAdmin(jwtMgr))

		r.Route("/commissions", func(r chi.Router) {
			r.With(auth.RequireRole(auth.AllAdminRoles()...)).Get("/", commissionHandler.List)
			r.With(auth.RequireRole(auth.PayoutRoles()...)).Post("/{id}/paid", commissionHandler.MarkPaid)
		})
	})

	return r
}
