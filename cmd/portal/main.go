package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Billing portal payment settlement and rebate service",
	Long: `portal settles bill payments confirmed by Stripe and credits
rebate points to the paying user's profile.

Commands:
  serve    run the HTTP API and webhook receiver
  migrate  apply database migrations
  quote    compute the rebate points for a payment without writing anything`,
	SilenceUsage: true,
}

func main() {
	// Setup structured logging; the level is refined once config is loaded.
	setupLogging(slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}
