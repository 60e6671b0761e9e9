package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yasashii-care/caredocs/internal/admin"
	"github.com/yasashii-care/caredocs/internal/api/handler"
	"github.com/yasashii-care/caredocs/internal/api/middleware"
	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/identity"
	"github.com/yasashii-care/caredocs/internal/payments"
	"github.com/yasashii-care/caredocs/internal/ratelimit"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	DBPinger    handler.DBPinger
	Version     string
	OpenAPISpec []byte
	CORSOrigins []string
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable behind a proxy that overwrites them.
	TrustProxyHeaders bool

	Users                *identity.Service
	Ledger               *entitlement.Ledger
	DefaultAccessProduct string

	// Payments is nil when outbound payment calls are not configured; the
	// billing routes are then not mounted.
	Payments      payments.Client
	Billing       handler.BillingSettings
	Events        handler.EventHandler
	WebhookSecret string

	UsageCounter ratelimit.Counter

	Admin       *admin.Service
	AdminSecret string
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", middleware.AdminKeyHeader, "X-Admin-Actor"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	healthHandler := handler.NewHealthHandler(deps.DBPinger, deps.Version)
	r.Get("/health", healthHandler.ServeHTTP)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	if len(deps.OpenAPISpec) > 0 {
		openapiHandler := handler.NewOpenAPIHandler(deps.OpenAPISpec)
		r.Get("/openapi.json", openapiHandler.ServeHTTP)
	}

	if deps.Users != nil && deps.Ledger != nil {
		authHandler := handler.NewAuthHandler(deps.Users)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/change-password", authHandler.ChangePassword)

		accessHandler := handler.NewAccessHandler(deps.Users, deps.Ledger, deps.DefaultAccessProduct)
		r.Post("/access/check", accessHandler.Check)
		r.Post("/entitlement/check", accessHandler.EntitlementCheck)
		r.Post("/entitlement/resolve-app", accessHandler.ResolveApp)

		userHandler := handler.NewUserHandler(deps.Users, deps.Ledger)
		r.Post("/users/me", userHandler.Me)

		if deps.Payments != nil {
			billingHandler := handler.NewBillingHandler(deps.Users, deps.Ledger, deps.Payments, deps.Billing)
			r.Post("/billing/checkout", billingHandler.Checkout)
			r.Post("/billing/portal", billingHandler.Portal)
		}
	}

	if deps.UsageCounter != nil {
		usageHandler := handler.NewUsageHandler(deps.UsageCounter)
		r.Post("/usage/anonymous", usageHandler.Anonymous)
	}

	if deps.Events != nil {
		webhookHandler := handler.NewWebhookHandler(deps.WebhookSecret, deps.Events)
		r.Post("/webhooks/payments", webhookHandler.ServeHTTP)
	}

	if deps.Admin != nil {
		adminHandler := handler.NewAdminHandler(deps.Admin)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminKey(deps.AdminSecret))
			r.Post("/users", adminHandler.CreateUser)
			r.Get("/users", adminHandler.ListUsers)
			r.Get("/users/{id}/entitlements", adminHandler.ListEntitlements)
			r.Post("/users/{id}/reset-password", adminHandler.ResetPassword)
			r.Post("/users/{id}/billing", adminHandler.ChangeBilling)
			r.Post("/entitlements", adminHandler.GrantEntitlement)
			r.Get("/audit", adminHandler.ListAudit)
			r.Get("/warnings", adminHandler.ListWarnings)
		})
	}

	return r
}
