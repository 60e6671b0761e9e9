package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yasashii-care/caredocs/internal/admin"
	"github.com/yasashii-care/caredocs/internal/api"
	"github.com/yasashii-care/caredocs/internal/api/handler"
	"github.com/yasashii-care/caredocs/internal/audit"
	"github.com/yasashii-care/caredocs/internal/config"
	"github.com/yasashii-care/caredocs/internal/database"
	"github.com/yasashii-care/caredocs/internal/entitlement"
	"github.com/yasashii-care/caredocs/internal/identity"
	"github.com/yasashii-care/caredocs/internal/notify"
	"github.com/yasashii-care/caredocs/internal/payments"
	"github.com/yasashii-care/caredocs/internal/ratelimit"
	"github.com/yasashii-care/caredocs/internal/reconciler"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to apply database schema", "error", err)
		os.Exit(1)
	}

	var provider identity.Provider = identity.LocalProvider{}
	if cfg.IdentityProviderURL != "" {
		provider = identity.NewGoTrueProvider(cfg.IdentityProviderURL, cfg.IdentityServiceKey)
		slog.Info("identity provider configured", "url", cfg.IdentityProviderURL)
	}

	users := identity.NewService(identity.NewRepository(db.Pool()), provider, cfg.BcryptCost)
	ledger := entitlement.NewLedger(entitlement.NewRepository(db.Pool()))
	entries := audit.NewRepository(db.Pool())

	var client payments.Client
	if cfg.StripeEnabled() {
		client = payments.NewStripeClient(cfg.StripeSecretKey)
	} else {
		slog.Warn("STRIPE_SECRET_KEY not set; checkout, portal and provider lookups are disabled")
	}

	counter := newUsageCounter(ctx, cfg)

	var sender notify.Sender
	if cfg.ResendAPIKey != "" {
		sender = notify.NewResendSender(cfg.ResendAPIKey)
	} else {
		sender = notify.NewLogSender(func(to, subject string) {
			slog.Info("email not sent; RESEND_API_KEY not set", "to", to, "subject", subject)
		})
	}
	mailer := notify.NewMailer(sender, cfg.MailFrom, cfg.BaseURL+"/login.html")

	events := payments.NewReconciler(ledger, users, entries, client, mailer, cfg.DefaultProductCode)

	router := api.NewRouter(api.RouterDeps{
		DBPinger:             db,
		Version:              cfg.Version,
		OpenAPISpec:          api.OpenAPISpec,
		CORSOrigins:          cfg.CORSOrigins,
		TrustProxyHeaders:    cfg.TrustProxyHeaders,
		Users:                users,
		Ledger:               ledger,
		DefaultAccessProduct: cfg.DefaultAccessProduct,
		Payments:             client,
		Billing: handler.BillingSettings{
			Prices:    cfg.StripePrices,
			TrialDays: cfg.CheckoutTrialDays,
			BaseURL:   cfg.BaseURL,
		},
		Events:        events,
		WebhookSecret: cfg.StripeWebhookSecret,
		UsageCounter:  counter,
		Admin:         admin.NewService(db, users, ledger, entries),
		AdminSecret:   cfg.AdminSecretKey,
	})

	if cfg.ResyncInterval > 0 && client != nil {
		resync := reconciler.New(ledger, client,
			time.Duration(cfg.ResyncInterval)*time.Second,
			time.Duration(cfg.ResyncStaleAge)*time.Second,
		)
		go resync.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting caredocs server", "port", cfg.Port, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

// newUsageCounter prefers a shared Redis counter and falls back to a
// per-process one.
func newUsageCounter(ctx context.Context, cfg *config.Config) ratelimit.Counter {
	if cfg.RedisURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rdb, err := ratelimit.Connect(connectCtx, cfg.RedisURL)
		if err == nil {
			return ratelimit.NewRedisCounter(rdb, "caredocs:anon", cfg.AnonymousFreeLimit, cfg.AnonymousWindow)
		}
		slog.Warn("redis unavailable; using in-memory usage counter", "error", err)
	}
	return ratelimit.NewMemoryCounter(cfg.AnonymousFreeLimit, cfg.AnonymousWindow)
}
