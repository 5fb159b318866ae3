// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/averix/go-payments-backend/internal/breaker"
	"github.com/averix/go-payments-backend/internal/chain"
	"github.com/averix/go-payments-backend/internal/config"
	"github.com/averix/go-payments-backend/internal/coupon"
	"github.com/averix/go-payments-backend/internal/domain"
	"github.com/averix/go-payments-backend/internal/http/handlers"
	"github.com/averix/go-payments-backend/internal/http/middleware"
	"github.com/averix/go-payments-backend/internal/money"
	"github.com/averix/go-payments-backend/internal/processor"
	"github.com/averix/go-payments-backend/internal/repo"
	"github.com/averix/go-payments-backend/internal/services"
	"github.com/averix/go-payments-backend/internal/webhook"
)

// Deps carries the rail-side dependencies built in main: the proof verifier
// and refund executor (both talking to external systems) and the wallet
// monitor. Any of them may be nil in reduced deployments; the services
// degrade to their no-op or fail-fast paths.
type Deps struct {
	Assets   *money.Registry
	Verifier services.ProofVerifier
	Executor services.RefundExecutor
	Wallets  handlers.WalletMonitor
	Networks map[string]chain.NetworkConfig
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Tenant resolution (everything below is tenant-scoped)
//  8. Idempotency replay (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per tenant/IP, bypass on replay)
// 10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
			processor.SignatureHeader,
			webhook.SignatureHeader,
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Compress responses
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Tenant scope for everything below
	r.Use(middleware.Tenant())

	// 8) Idempotency replay backed by the idempotency store
	r.Use(middleware.Idempotency(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, tenantID, key string, now time.Time) (*domain.Idempotency, error) {
			return repo.GetIdempotency(ctx, db, tenantID, key, now)
		},
		func(ctx context.Context, tenantID, key, requestHash string, status int, body []byte) error {
			_, err := repo.CreateIdempotency(ctx, db, tenantID, key, requestHash, status, body, cfg.IdempotencyTTL)
			return err
		},
	))

	// 9) Token-bucket rate limiter per tenant/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByTenantOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderTenantID, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Idempotency-Replayed", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderTenantID, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Idempotency-Replayed", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/rails
	assets := deps.Assets
	if assets == nil {
		assets = money.DefaultRegistry()
	}

	events := &services.EventSink{
		Destinations: func(tenantID string) string { return cfg.Webhook.Destinations[tenantID] },
		MaxAttempts:  cfg.Webhook.MaxAttempts,
	}

	paySvc := services.NewPaymentService(db, assets, deps.Verifier)
	paySvc.Networks = deps.Networks
	paySvc.Network = cfg.Chain.Network
	paySvc.PayTo = cfg.Chain.PayTo
	paySvc.StackPolicy = coupon.StackPolicy(cfg.Payments.StackPolicy)
	paySvc.QuoteTTL = cfg.Payments.QuoteTTL
	paySvc.MinConfirmations = cfg.Chain.MinConfs
	paySvc.Events = events
	paySvc.RPCBreaker = breaker.New(breaker.Config{
		Name:                "chain-rpc",
		Interval:            time.Minute,
		Cooldown:            30 * time.Second,
		ProbeRequests:       1,
		FailureRatio:        0.5,
		MinRequests:         5,
		ConsecutiveFailures: 5,
	})

	cartSvc := services.NewCartService(paySvc)
	cartSvc.CartTTL = cfg.Payments.CartTTL

	creditsSvc := services.NewCreditsService(db, assets)

	refundSvc := services.NewRefundService(db, deps.Executor)
	refundSvc.QuoteTTL = cfg.Payments.RefundTTL
	refundSvc.Events = events
	refundSvc.ExecBreaker = breaker.New(breaker.Config{
		Name:                "refund-executor",
		Interval:            time.Minute,
		Cooldown:            time.Minute,
		ProbeRequests:       1,
		FailureRatio:        0.5,
		MinRequests:         3,
		ConsecutiveFailures: 3,
	})

	h := handlers.New(paySvc, cartSvc, creditsSvc, refundSvc, deps.Wallets, cfg.Processor.Secret)
	admin := handlers.NewAdminHandlers(db, cfg.Webhook.MaxAttempts)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Payments
		api.POST("/payments/quote", h.CreateQuote)
		api.POST("/payments/:id/proof", h.SubmitProof)
		api.GET("/payments/:id", h.GetPayment)

		// Carts
		api.POST("/carts/quote", h.CreateCart)
		api.GET("/carts/:id", h.GetCart)
		api.POST("/carts/:id/pay", h.PayCart)

		// Credit holds
		api.POST("/holds", h.CreateHold)
		api.GET("/holds/:id", h.GetHold)
		api.POST("/holds/:id/capture", h.CaptureHold)
		api.POST("/holds/:id/release", h.ReleaseHold)

		// Refunds
		api.POST("/refunds/quote", h.CreateRefundQuote)
		api.GET("/refunds/:id", h.GetRefund)
		api.POST("/refunds/:id/approve", h.ApproveRefund)
		api.POST("/refunds/:id/deny", h.DenyRefund)

		// Card rail inbound
		api.POST("/processor/webhook", h.ProcessorWebhook)

		// Operational
		api.GET("/wallet/health", h.WalletHealth)
		api.GET("/admin/dlq", admin.ListDlq)
		api.POST("/admin/dlq/:id/replay", admin.ReplayDlq)
		api.DELETE("/admin/dlq/:id", admin.DeleteDlq)
		api.GET("/admin/stats", admin.Stats)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
