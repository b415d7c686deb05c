package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/set-night/billingportal/internal/config"
	"github.com/set-night/billingportal/internal/domain"
	"github.com/set-night/billingportal/internal/repository"
	"github.com/set-night/billingportal/internal/service"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var quoteFlags struct {
	amount    string
	due       string
	paid      string
	rate      string
	threshold int64
	bonus     int64
	fromStore bool
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Compute rebate points for a payment without writing anything",
	Long: `Compute the rebate points a payment would earn.

Settings come from flags, or from the configured document store with
--from-store.

Example:
  portal quote --amount 1250.50 --due 2026-11-01 --paid 2026-10-20 --rate 0.5`,
	RunE: runQuote,
}

func init() {
	f := quoteCmd.Flags()
	f.StringVar(&quoteFlags.amount, "amount", "", "amount paid")
	f.StringVar(&quoteFlags.due, "due", "", "bill due date (YYYY-MM-DD or RFC3339)")
	f.StringVar(&quoteFlags.paid, "paid", "", "payment date (YYYY-MM-DD or RFC3339), default now")
	f.StringVar(&quoteFlags.rate, "rate", "1", "points per peso")
	f.Int64Var(&quoteFlags.threshold, "threshold", config.DefaultEarlyPaymentDaysThreshold, "early payment days threshold")
	f.Int64Var(&quoteFlags.bonus, "bonus", config.DefaultEarlyPaymentBonusPoints, "early payment bonus points")
	f.BoolVar(&quoteFlags.fromStore, "from-store", false, "read program settings from the document store")
	_ = quoteCmd.MarkFlagRequired("amount")

	rootCmd.AddCommand(quoteCmd)
}

func runQuote(cmd *cobra.Command, args []string) error {
	amount, err := decimal.NewFromString(quoteFlags.amount)
	if err != nil || !amount.IsPositive() {
		return fmt.Errorf("invalid --amount %q", quoteFlags.amount)
	}

	now := time.Now()
	bill := &domain.Bill{ID: "quote", Status: domain.BillStatusPaid}
	if quoteFlags.due != "" {
		due, err := parseDate(quoteFlags.due)
		if err != nil {
			return fmt.Errorf("invalid --due: %w", err)
		}
		bill.DueDate = &due
	}
	if quoteFlags.paid != "" {
		paid, err := parseDate(quoteFlags.paid)
		if err != nil {
			return fmt.Errorf("invalid --paid: %w", err)
		}
		bill.PaymentDate = &paid
	}

	settings, err := flagSettings(quoteFlags.rate, quoteFlags.threshold, quoteFlags.bonus)
	if err != nil {
		return err
	}

	if quoteFlags.fromStore {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		migrationsFS, err := postgresMigrations()
		if err != nil {
			return err
		}
		store, closeStore, err := repository.OpenStore(cmd.Context(), cfg, migrationsFS)
		if err != nil {
			return fmt.Errorf("open document store: %w", err)
		}
		defer closeStore()

		settings, err = service.LoadProgramSettings(cmd.Context(), store)
		if err != nil {
			return err
		}
	}

	out := quoteResult(bill, amount, settings, now)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// flagSettings builds program settings from the quote flags. Negative values
// are rejected rather than quoted.
func flagSettings(rate string, threshold, bonus int64) (domain.ProgramSettings, error) {
	perPeso, err := decimal.NewFromString(rate)
	if err != nil || perPeso.IsNegative() {
		return domain.ProgramSettings{}, fmt.Errorf("invalid --rate %q", rate)
	}
	if threshold < 0 {
		return domain.ProgramSettings{}, fmt.Errorf("invalid --threshold %d", threshold)
	}
	if bonus < 0 {
		return domain.ProgramSettings{}, fmt.Errorf("invalid --bonus %d", bonus)
	}
	return domain.ProgramSettings{
		IsRebateProgramEnabled:    true,
		PointsPerPeso:             perPeso,
		EarlyPaymentDaysThreshold: threshold,
		EarlyPaymentBonusPoints:   bonus,
	}, nil
}

func quoteResult(bill *domain.Bill, amount decimal.Decimal, settings domain.ProgramSettings, now time.Time) map[string]any {
	quote := service.CalculateRebatePoints(bill, amount, settings, now)
	points := quote.Points
	// Settings read from the store are not validated, so clamp here too.
	if !settings.IsRebateProgramEnabled || !settings.PointsPerPeso.IsPositive() || points < 0 {
		points = 0
	}
	return map[string]any{
		"programEnabled": settings.IsRebateProgramEnabled,
		"pointsPerPeso":  settings.PointsPerPeso.String(),
		"basePoints":     quote.BasePoints.String(),
		"hasDueDate":     quote.HasDueDate,
		"daysEarly":      quote.DaysEarly,
		"bonusApplied":   quote.BonusApplied,
		"points":         points,
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
