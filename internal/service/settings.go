package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/set-night/billingportal/internal/config"
	"github.com/set-night/billingportal/internal/docstore"
	"github.com/set-night/billingportal/internal/domain"
	"github.com/shopspring/decimal"
)

// LoadProgramSettings reads the rebate program document. A missing document
// means the program is off. Settings are read on every call.
func LoadProgramSettings(ctx context.Context, store docstore.Store) (domain.ProgramSettings, error) {
	doc, err := store.Get(ctx, docstore.ProgramSettingsPath)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ParseProgramSettings(nil), nil
		}
		return domain.ProgramSettings{}, fmt.Errorf("get program settings: %w", err)
	}
	return ParseProgramSettings(doc), nil
}

// ParseProgramSettings applies the program defaults: a rate that does not
// parse is zero, and a missing or malformed threshold or bonus falls back to
// its default.
func ParseProgramSettings(doc *docstore.Document) domain.ProgramSettings {
	settings := domain.ProgramSettings{
		PointsPerPeso:             decimal.Zero,
		EarlyPaymentDaysThreshold: config.DefaultEarlyPaymentDaysThreshold,
		EarlyPaymentBonusPoints:   config.DefaultEarlyPaymentBonusPoints,
	}
	if doc == nil {
		return settings
	}

	if enabled, ok := doc.Bool(fieldRebateEnabled); ok {
		settings.IsRebateProgramEnabled = enabled
	}
	if rate, ok := doc.Decimal(fieldPointsPerPeso); ok && rate.IsPositive() {
		settings.PointsPerPeso = rate
	}
	if threshold, ok := doc.Int64(fieldEarlyThreshold); ok && threshold >= 0 {
		settings.EarlyPaymentDaysThreshold = threshold
	}
	if bonus, ok := doc.Int64(fieldEarlyBonus); ok && bonus >= 0 {
		settings.EarlyPaymentBonusPoints = bonus
	}
	return settings
}
