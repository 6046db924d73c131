package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"storefront-payments/internal/http/handlers"
	"storefront-payments/internal/http/middleware"
	"storefront-payments/internal/http/validation"
	"storefront-payments/internal/idempotency"
)

type RouterDeps struct {
	Logger         *slog.Logger
	Payments       *handlers.PaymentHandler
	Health         *handlers.HealthHandler
	Idempotency    idempotency.Store
	AllowedOrigins []string
}

func NewRouter(d RouterDeps) *gin.Engine {
	validation.UseJSONNames()

	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(d.Logger),
		middleware.ErrorHandler(d.Logger),
		middleware.Recovery(d.Logger),
	)

	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     d.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.HeaderIdempotencyKey, middleware.HeaderRequestID},
			ExposeHeaders:    []string{middleware.HeaderRequestID, middleware.HeaderReplayed},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", d.Health.Health)

	p := r.Group("/payments")
	p.POST("/create-checkout", middleware.Idempotency(d.Idempotency, "create-checkout", d.Logger), d.Payments.CreateCheckout)
	p.GET("/verify-status", d.Payments.VerifyStatus)
	p.POST("/webhook", d.Payments.Webhook)

	authed := p.Group("", middleware.RequireUser())
	authed.POST("/create-payout", middleware.Idempotency(d.Idempotency, "create-payout", d.Logger), d.Payments.CreatePayout)
	authed.GET("/balance/:sellerId", d.Payments.Balance)

	return r
}

// NewHTTPServer wraps the router with the server timeouts used in production.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
