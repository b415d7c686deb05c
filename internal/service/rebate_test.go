package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/set-night/billingportal/internal/config"
	"github.com/set-night/billingportal/internal/docstore"
	"github.com/set-night/billingportal/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func enabledSettings(rate string) domain.ProgramSettings {
	return domain.ProgramSettings{
		IsRebateProgramEnabled:    true,
		PointsPerPeso:             decimal.RequireFromString(rate),
		EarlyPaymentDaysThreshold: 7,
		EarlyPaymentBonusPoints:   10,
	}
}

func seedProfiles(t *testing.T, store docstore.Store, userID string, points int64) {
	t.Helper()
	fields := map[string]any{
		"rebatePoints": points,
		"rebateTier":   string(domain.TierForPoints(points)),
	}
	batch := docstore.NewBatch().
		Set(docstore.UserProfilePath(userID), fields).
		Set(docstore.PublicProfilePath(userID), fields)
	require.NoError(t, store.Commit(context.Background(), batch))
}

func readProfile(t *testing.T, store docstore.Store, path string) (int64, string) {
	t.Helper()
	doc, err := store.Get(context.Background(), path)
	require.NoError(t, err)
	points, _ := doc.Int64("rebatePoints")
	return points, doc.String("rebateTier")
}

func newTestRebateService(store docstore.Store) (*RebateService, *fakePublisher, *fakeNotifier) {
	pub := &fakePublisher{}
	notifier := &fakeNotifier{}
	svc := NewRebateService(store, pub, notifier)
	svc.now = func() time.Time { return testNow }
	return svc, pub, notifier
}

func paidBill(id string, due *time.Time, paidAt time.Time) *domain.Bill {
	return &domain.Bill{ID: id, DueDate: due, Status: domain.BillStatusPaid, PaymentDate: &paidAt}
}

func ptr(t time.Time) *time.Time { return &t }

func TestCalculateRebatePoints_NoDueDateIsRoundedBase(t *testing.T) {
	cases := []struct {
		amount, rate string
		want         int64
	}{
		{"500", "2", 1000},
		{"100", "0.5", 50},
		{"101", "0.5", 51},
		{"99.49", "1", 99},
		{"0.4", "1", 0},
		{"1234.56", "0.25", 309},
	}
	for _, tc := range cases {
		quote := CalculateRebatePoints(paidBill("b", nil, testNow), decimal.RequireFromString(tc.amount), enabledSettings(tc.rate), testNow)
		assert.Equal(t, tc.want, quote.Points, "%s x %s", tc.amount, tc.rate)
		assert.False(t, quote.BonusApplied)
		assert.False(t, quote.HasDueDate)
	}
}

func TestCalculateRebatePoints_BonusBoundaryIsInclusive(t *testing.T) {
	settings := enabledSettings("1")

	due := testNow.Add(7 * 24 * time.Hour)
	quote := CalculateRebatePoints(paidBill("b", &due, testNow), decimal.NewFromInt(100), settings, testNow)
	assert.True(t, quote.BonusApplied)
	assert.Equal(t, int64(110), quote.Points)
	assert.InDelta(t, 7.0, quote.DaysEarly, 1e-9)

	due = testNow.Add(7*24*time.Hour - time.Hour)
	quote = CalculateRebatePoints(paidBill("b", &due, testNow), decimal.NewFromInt(100), settings, testNow)
	assert.False(t, quote.BonusApplied)
	assert.Equal(t, int64(100), quote.Points)
}

func TestCalculateRebatePoints_BonusIsFlat(t *testing.T) {
	due := testNow.Add(60 * 24 * time.Hour)
	quote := CalculateRebatePoints(paidBill("b", &due, testNow), decimal.NewFromInt(10), enabledSettings("1"), testNow)
	assert.Equal(t, int64(20), quote.Points)
	assert.Equal(t, int64(10), quote.BonusPoints)
}

func TestCalculateRebatePoints_PaymentDateDefaultsToNow(t *testing.T) {
	due := testNow.Add(8 * 24 * time.Hour)
	bill := &domain.Bill{ID: "b", DueDate: &due}
	quote := CalculateRebatePoints(bill, decimal.NewFromInt(100), enabledSettings("0.5"), testNow)
	assert.True(t, quote.BonusApplied)
	assert.Equal(t, int64(60), quote.Points)
}

func TestCalculateRebatePoints_LatePaymentGetsNoBonus(t *testing.T) {
	due := testNow.Add(-2 * 24 * time.Hour)
	quote := CalculateRebatePoints(paidBill("b", &due, testNow), decimal.NewFromInt(100), enabledSettings("1"), testNow)
	assert.False(t, quote.BonusApplied)
	assert.Less(t, quote.DaysEarly, 0.0)
}

func TestAward_DisabledOrZeroRateWritesNothing(t *testing.T) {
	cases := map[string]domain.ProgramSettings{
		"disabled":  {IsRebateProgramEnabled: false, PointsPerPeso: decimal.NewFromInt(2), EarlyPaymentDaysThreshold: 7, EarlyPaymentBonusPoints: 10},
		"zero rate": enabledSettings("0"),
	}
	for name, settings := range cases {
		t.Run(name, func(t *testing.T) {
			store := &countingStore{Store: docstore.NewMemoryStore()}
			seedProfiles(t, store, "u1", 0)
			store.commits = 0

			svc, pub, _ := newTestRebateService(store)
			due := testNow.Add(30 * 24 * time.Hour)
			svc.Award(context.Background(), "u1", paidBill("b1", &due, testNow), decimal.NewFromInt(500), settings)

			assert.Zero(t, store.commits)
			assert.Empty(t, pub.keys())
		})
	}
}

func TestAward_MissingUserIsNoop(t *testing.T) {
	store := &countingStore{Store: docstore.NewMemoryStore()}
	svc, _, _ := newTestRebateService(store)

	outcome := svc.award(context.Background(), "", paidBill("b1", nil, testNow), decimal.NewFromInt(500), enabledSettings("2"))
	assert.Equal(t, domain.AwardSkippedDisabled, outcome)
	assert.Zero(t, store.commits)
}

func TestAward_MissingProfileIsNoop(t *testing.T) {
	store := &countingStore{Store: docstore.NewMemoryStore()}
	svc, _, notifier := newTestRebateService(store)

	outcome := svc.award(context.Background(), "ghost", paidBill("b1", nil, testNow), decimal.NewFromInt(500), enabledSettings("2"))
	assert.Equal(t, domain.AwardSkippedNoProfile, outcome)
	assert.Zero(t, store.commits)
	assert.Empty(t, notifier.errors)
}

func TestAward_ZeroAwardIsNoop(t *testing.T) {
	store := &countingStore{Store: docstore.NewMemoryStore()}
	seedProfiles(t, store, "u1", 10)
	store.commits = 0
	svc, _, _ := newTestRebateService(store)

	outcome := svc.award(context.Background(), "u1", paidBill("b1", nil, testNow), decimal.RequireFromString("0.2"), enabledSettings("1"))
	assert.Equal(t, domain.AwardSkippedZero, outcome)
	assert.Zero(t, store.commits)
}

func TestAward_ReachesGold(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProfiles(t, store, "u1", 1400)
	svc, pub, notifier := newTestRebateService(store)

	outcome := svc.award(context.Background(), "u1", paidBill("b1", nil, testNow), decimal.NewFromInt(500), enabledSettings("2"))
	require.Equal(t, domain.AwardApplied, outcome)

	for _, path := range []string{docstore.UserProfilePath("u1"), docstore.PublicProfilePath("u1")} {
		points, tier := readProfile(t, store, path)
		assert.Equal(t, int64(2400), points, path)
		assert.Equal(t, "Gold", tier, path)
	}

	assert.Equal(t, []string{config.EventRebateAwarded}, pub.keys())
	require.Len(t, notifier.awards, 1)
	assert.Equal(t, int64(1000), notifier.awards[0].Points)
	assert.Equal(t, domain.TierGold, notifier.awards[0].NewTier)
}

func TestAward_EarlyBonusFromZero(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProfiles(t, store, "u1", 0)
	svc, _, _ := newTestRebateService(store)

	due := testNow.Add(10 * 24 * time.Hour)
	outcome := svc.award(context.Background(), "u1", paidBill("b1", &due, testNow), decimal.NewFromInt(100), enabledSettings("0.5"))
	require.Equal(t, domain.AwardApplied, outcome)

	for _, path := range []string{docstore.UserProfilePath("u1"), docstore.PublicProfilePath("u1")} {
		points, tier := readProfile(t, store, path)
		assert.Equal(t, int64(60), points)
		assert.Equal(t, "Bronze", tier)
	}
}

func TestAward_FailedSecondWriteLeavesBothCopiesUntouched(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProfiles(t, store, "u1", 1400)
	store.InjectFault(docstore.PublicProfilePath("u1"), errors.New("write rejected"))
	svc, pub, notifier := newTestRebateService(store)

	outcome := svc.award(context.Background(), "u1", paidBill("b1", nil, testNow), decimal.NewFromInt(500), enabledSettings("2"))
	assert.Equal(t, domain.AwardFailed, outcome)

	userPoints, userTier := readProfile(t, store, docstore.UserProfilePath("u1"))
	publicPoints, publicTier := readProfile(t, store, docstore.PublicProfilePath("u1"))
	assert.Equal(t, int64(1400), userPoints)
	assert.Equal(t, userPoints, publicPoints)
	assert.Equal(t, userTier, publicTier)
	assert.Empty(t, pub.keys())
	assert.Len(t, notifier.errors, 1)
}

func TestAward_MissingPublicCopyFailsWholeBatch(t *testing.T) {
	store := docstore.NewMemoryStore()
	require.NoError(t, store.Commit(context.Background(), docstore.NewBatch().
		Set(docstore.UserProfilePath("u1"), map[string]any{"rebatePoints": 0})))
	svc, _, _ := newTestRebateService(store)

	outcome := svc.award(context.Background(), "u1", paidBill("b1", nil, testNow), decimal.NewFromInt(100), enabledSettings("1"))
	assert.Equal(t, domain.AwardFailed, outcome)

	points, _ := readProfile(t, store, docstore.UserProfilePath("u1"))
	assert.Zero(t, points)
}

func TestAward_SamePaymentReferenceAwardsOnce(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProfiles(t, store, "u1", 0)
	svc, _, _ := newTestRebateService(store)

	bill := paidBill("b1", nil, testNow)
	bill.PaymentReference = "pi_123"

	first := svc.award(context.Background(), "u1", bill, decimal.NewFromInt(100), enabledSettings("1"))
	second := svc.award(context.Background(), "u1", bill, decimal.NewFromInt(100), enabledSettings("1"))

	assert.Equal(t, domain.AwardApplied, first)
	assert.Equal(t, domain.AwardDuplicate, second)
	points, _ := readProfile(t, store, docstore.UserProfilePath("u1"))
	assert.Equal(t, int64(100), points)

	ledger, err := store.Get(context.Background(), docstore.RebateAwardPath("pi_123"))
	require.NoError(t, err)
	assert.Equal(t, "b1", ledger.String("billId"))
}

func TestAward_UnusablePaymentReferenceWarnsAndAwards(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := docstore.NewMemoryStore()
	seedProfiles(t, store, "u1", 0)
	svc, _, _ := newTestRebateService(store)

	bill := paidBill("b1", nil, testNow)
	bill.PaymentReference = "pi/1"

	outcome := svc.award(context.Background(), "u1", bill, decimal.NewFromInt(100), enabledSettings("1"))
	require.Equal(t, domain.AwardApplied, outcome)

	points, _ := readProfile(t, store, docstore.UserProfilePath("u1"))
	assert.Equal(t, int64(100), points)
	assert.Contains(t, buf.String(), "rebate ledger skipped")
	assert.Contains(t, buf.String(), `"payment_ref":"pi/1"`)

	_, err := store.Get(context.Background(), docstore.RebateAwardPath("pi/1"))
	assert.Error(t, err)
}

func TestAward_RetriesOnConcurrentUpdate(t *testing.T) {
	mem := docstore.NewMemoryStore()
	seedProfiles(t, mem, "u1", 100)

	store := &racingStore{MemoryStore: mem, races: 1}
	store.race = func() {
		// Another award lands between our read and our commit.
		require.NoError(t, mem.Commit(context.Background(), docstore.NewBatch().
			Update(docstore.UserProfilePath("u1"), map[string]any{"rebatePoints": 500, "rebateTier": "Silver"}).
			Update(docstore.PublicProfilePath("u1"), map[string]any{"rebatePoints": 500, "rebateTier": "Silver"})))
	}
	svc, _, _ := newTestRebateService(store)

	outcome := svc.award(context.Background(), "u1", paidBill("b1", nil, testNow), decimal.NewFromInt(1000), enabledSettings("1"))
	require.Equal(t, domain.AwardApplied, outcome)

	for _, path := range []string{docstore.UserProfilePath("u1"), docstore.PublicProfilePath("u1")} {
		points, tier := readProfile(t, store, path)
		assert.Equal(t, int64(1500), points)
		assert.Equal(t, "Gold", tier)
	}
}

func TestAward_GivesUpAfterRepeatedConflicts(t *testing.T) {
	mem := docstore.NewMemoryStore()
	seedProfiles(t, mem, "u1", 0)

	bumps := int64(0)
	store := &racingStore{MemoryStore: mem, races: config.AwardMaxAttempts}
	store.race = func() {
		bumps++
		require.NoError(t, mem.Commit(context.Background(), docstore.NewBatch().
			Update(docstore.UserProfilePath("u1"), map[string]any{"rebatePoints": bumps})))
	}
	svc, _, notifier := newTestRebateService(store)

	outcome := svc.award(context.Background(), "u1", paidBill("b1", nil, testNow), decimal.NewFromInt(10), enabledSettings("1"))
	assert.Equal(t, domain.AwardFailed, outcome)
	assert.NotEmpty(t, notifier.errors)

	publicPoints, _ := readProfile(t, store, docstore.PublicProfilePath("u1"))
	assert.Zero(t, publicPoints)
}

func TestAward_PublishFailureDoesNotUndoAward(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProfiles(t, store, "u1", 0)
	svc, pub, _ := newTestRebateService(store)
	pub.err = errors.New("broker down")

	outcome := svc.award(context.Background(), "u1", paidBill("b1", nil, testNow), decimal.NewFromInt(100), enabledSettings("1"))
	assert.Equal(t, domain.AwardApplied, outcome)
	points, _ := readProfile(t, store, docstore.UserProfilePath("u1"))
	assert.Equal(t, int64(100), points)
}

func TestProfile(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProfiles(t, store, "u1", 3000)
	svc, _, _ := newTestRebateService(store)

	profile, err := svc.Profile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), profile.RebatePoints)
	assert.Equal(t, domain.TierPlatinum, profile.RebateTier)

	_, err = svc.Profile(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)

	_, err = svc.Profile(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrMissingUser)
}
