package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/set-night/billingportal/internal/config"
	"github.com/set-night/billingportal/internal/docstore"
	"github.com/set-night/billingportal/internal/domain"
	"github.com/shopspring/decimal"
)

// RebateQuote is the outcome of the points rule for one payment.
type RebateQuote struct {
	BasePoints   decimal.Decimal
	DaysEarly    float64
	HasDueDate   bool
	BonusApplied bool
	BonusPoints  int64
	Points       int64
}

// CalculateRebatePoints applies the points rule: amount times rate, plus a
// flat bonus when the bill was paid at least the threshold number of days
// before its due date. The sum is rounded half away from zero.
func CalculateRebatePoints(bill *domain.Bill, amountPaid decimal.Decimal, settings domain.ProgramSettings, now time.Time) RebateQuote {
	quote := RebateQuote{BasePoints: amountPaid.Mul(settings.PointsPerPeso)}

	total := quote.BasePoints
	if bill != nil {
		quote.DaysEarly, quote.HasDueDate = bill.DaysEarly(now)
		if quote.HasDueDate && quote.DaysEarly >= float64(settings.EarlyPaymentDaysThreshold) {
			quote.BonusApplied = true
			quote.BonusPoints = settings.EarlyPaymentBonusPoints
			total = total.Add(decimal.NewFromInt(settings.EarlyPaymentBonusPoints))
		}
	}

	quote.Points = total.Round(0).IntPart()
	return quote
}

type RebateService struct {
	store     docstore.Store
	publisher EventPublisher
	notifier  Notifier
	now       func() time.Time
	attempts  int
}

func NewRebateService(store docstore.Store, publisher EventPublisher, notifier Notifier) *RebateService {
	return &RebateService{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		now:       time.Now,
		attempts:  config.AwardMaxAttempts,
	}
}

// Award credits rebate points for a settled bill. It never returns an error:
// every failure is logged and swallowed so a rebate problem cannot undo or
// block the payment that triggered it.
func (s *RebateService) Award(ctx context.Context, userID string, bill *domain.Bill, amountPaid decimal.Decimal, settings domain.ProgramSettings) {
	s.award(ctx, userID, bill, amountPaid, settings)
}

func (s *RebateService) award(ctx context.Context, userID string, bill *domain.Bill, amountPaid decimal.Decimal, settings domain.ProgramSettings) domain.AwardOutcome {
	billID := ""
	if bill != nil {
		billID = bill.ID
	}
	log := slog.With("user_id", userID, "bill_id", billID)

	if !settings.IsRebateProgramEnabled || userID == "" {
		log.Info("rebate skipped: program disabled or no user")
		return domain.AwardSkippedDisabled
	}
	if !settings.PointsPerPeso.IsPositive() {
		log.Info("rebate skipped: points per peso is zero")
		return domain.AwardSkippedZeroRate
	}

	quote := CalculateRebatePoints(bill, amountPaid, settings, s.now())
	if bill != nil && bill.PaymentReference != "" && !docstore.ValidID(bill.PaymentReference) {
		log.Warn("rebate ledger skipped: payment reference is not a valid id", "payment_ref", bill.PaymentReference)
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		doc, err := s.store.Get(ctx, docstore.UserProfilePath(userID))
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				log.Warn("rebate skipped: user profile missing")
				return domain.AwardSkippedNoProfile
			}
			log.Error("rebate failed: read user profile", "error", err)
			s.notifier.LogError(err, "rebate: read profile "+userID)
			return domain.AwardFailed
		}

		if quote.Points <= 0 {
			log.Info("rebate skipped: award rounds to zero", "base_points", quote.BasePoints.String())
			return domain.AwardSkippedZero
		}

		current := profileFromDocument(doc, userID)
		award := domain.RebateAward{
			UserID:       userID,
			BillID:       billID,
			Points:       quote.Points,
			BonusApplied: quote.BonusApplied,
			NewTotal:     current.RebatePoints + quote.Points,
			AwardedAt:    s.now().UTC(),
		}
		award.NewTier = domain.TierForPoints(award.NewTotal)
		if bill != nil {
			award.PaymentRef = bill.PaymentReference
		}

		err = s.store.Commit(ctx, s.awardBatch(award, doc.Version))
		switch {
		case err == nil:
			log.Info("rebate awarded",
				"points", award.Points,
				"bonus_applied", award.BonusApplied,
				"new_total", award.NewTotal,
				"tier", award.NewTier,
			)
			s.afterAward(ctx, award)
			return domain.AwardApplied
		case errors.Is(err, docstore.ErrAlreadyExists):
			log.Info("rebate skipped: payment already awarded", "payment_ref", award.PaymentRef)
			return domain.AwardDuplicate
		case errors.Is(err, docstore.ErrConflict):
			log.Warn("rebate profile changed concurrently, retrying", "attempt", attempt)
			continue
		default:
			log.Error("rebate failed: persist award", "error", err, "points", award.Points)
			s.notifier.LogError(err, "rebate: persist award for "+userID)
			return domain.AwardFailed
		}
	}

	log.Error("rebate failed: profile kept changing", "attempts", s.attempts)
	s.notifier.LogError(docstore.ErrConflict, "rebate: retries exhausted for "+userID)
	return domain.AwardFailed
}

// awardBatch writes the new balance to both profile copies in one commit.
// The canonical copy is conditional on the version the total was computed
// from. With a payment reference the ledger entry is created first so a
// replayed payment fails on it before touching the profiles.
func (s *RebateService) awardBatch(award domain.RebateAward, profileVersion int64) *docstore.Batch {
	batch := docstore.NewBatch()
	if award.PaymentRef != "" && docstore.ValidID(award.PaymentRef) {
		batch.Create(docstore.RebateAwardPath(award.PaymentRef), map[string]any{
			"userId":       award.UserID,
			"billId":       award.BillID,
			"points":       award.Points,
			"bonusApplied": award.BonusApplied,
			"awardedAt":    award.AwardedAt,
		})
	}

	fields := map[string]any{
		fieldRebatePoints: award.NewTotal,
		fieldRebateTier:   string(award.NewTier),
	}
	batch.Update(docstore.UserProfilePath(award.UserID), fields, docstore.IfVersion(profileVersion))
	batch.Update(docstore.PublicProfilePath(award.UserID), fields)
	return batch
}

func (s *RebateService) afterAward(ctx context.Context, award domain.RebateAward) {
	if err := s.publisher.Publish(ctx, config.EventRebateAwarded, award); err != nil {
		slog.Error("publish rebate awarded", "error", err, "user_id", award.UserID)
	}
	s.notifier.LogRebateAward(award)
}

// Profile returns the user's current points and tier from the canonical copy.
func (s *RebateService) Profile(ctx context.Context, userID string) (*domain.RebateProfile, error) {
	if !docstore.ValidID(userID) {
		return nil, domain.ErrMissingUser
	}
	doc, err := s.store.Get(ctx, docstore.UserProfilePath(userID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return profileFromDocument(doc, userID), nil
}
