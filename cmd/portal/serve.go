package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/set-night/billingportal"
	"github.com/set-night/billingportal/internal/config"
	"github.com/set-night/billingportal/internal/dedupe"
	"github.com/set-night/billingportal/internal/events"
	"github.com/set-night/billingportal/internal/handler"
	"github.com/set-night/billingportal/internal/middleware"
	"github.com/set-night/billingportal/internal/payment"
	"github.com/set-night/billingportal/internal/repository"
	"github.com/set-night/billingportal/internal/service"
	"github.com/set-night/billingportal/internal/telegram"
	"github.com/spf13/cobra"
	"github.com/stripe/stripe-go/v82"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and Stripe webhook receiver",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	setupLogging(cfg.SlogLevel())

	// Document store
	migrationsFS, err := postgresMigrations()
	if err != nil {
		return err
	}
	store, closeStore, err := repository.OpenStore(ctx, cfg, migrationsFS)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer closeStore()

	// Webhook dedupe
	var deduper dedupe.Deduper = dedupe.NewMemoryDeduper()
	if cfg.RedisURL != "" {
		rd, err := dedupe.NewRedisDeduper(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rd.Close()
		deduper = rd
		slog.Info("webhook dedupe using redis")
	}

	// Event publishing falls back to logging when the broker is unreachable.
	var publisher events.Publisher = events.LogPublisher{}
	if cfg.RabbitMQURL != "" {
		rp, err := events.NewRabbitPublisher(cfg.RabbitMQURL, config.EventsExchange)
		if err != nil {
			slog.Warn("rabbitmq unavailable, events will only be logged", "error", err)
		} else {
			publisher = rp
			slog.Info("publishing events to rabbitmq", "exchange", config.EventsExchange)
		}
	}
	defer publisher.Close()

	// Initialize telegram logger
	tgLogger, err := telegram.NewTelegramLogger(cfg)
	if err != nil {
		return err
	}

	// Payment provider
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: config.ProviderTimeout},
	})
	gateway := payment.NewGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, backend)

	// Initialize services
	rebates := service.NewRebateService(store, publisher, tgLogger)
	settlement := service.NewSettlementService(store, rebates, publisher, tgLogger)

	// Initialize handler
	h := handler.New(handler.Deps{
		Settlement: settlement,
		Rebates:    rebates,
		Gateway:    gateway,
		Deduper:    deduper,
		Notifier:   tgLogger,
	})
	jwks, err := middleware.NewJWKS(ctx, cfg.AuthJWKSURL, config.JWKSCacheTTL)
	if err != nil {
		return err
	}
	auth := middleware.Auth(jwks.Keyfunc, cfg.AuthIssuer, cfg.AuthAudience)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h.Routes(auth, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", "addr", srv.Addr, "docstore", cfg.DocstoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}

func postgresMigrations() (fs.FS, error) {
	migrationsFS, err := fs.Sub(billingportal.MigrationsFS, "migrations/postgres")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	return migrationsFS, nil
}
