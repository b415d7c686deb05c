package domain

import "time"

type AwardOutcome string

const (
	AwardSkippedDisabled  AwardOutcome = "disabled"
	AwardSkippedZeroRate  AwardOutcome = "zero_rate"
	AwardSkippedNoProfile AwardOutcome = "missing_profile"
	AwardSkippedZero      AwardOutcome = "zero_award"
	AwardDuplicate        AwardOutcome = "duplicate"
	AwardApplied          AwardOutcome = "applied"
	AwardFailed           AwardOutcome = "failed"
)

// RebateAward is the record written to the award ledger and published once
// the profile update commits.
type RebateAward struct {
	UserID       string     `json:"userId"`
	BillID       string     `json:"billId"`
	PaymentRef   string     `json:"paymentRef,omitempty"`
	Points       int64      `json:"points"`
	BonusApplied bool       `json:"bonusApplied"`
	NewTotal     int64      `json:"newTotal"`
	NewTier      RebateTier `json:"newTier"`
	AwardedAt    time.Time  `json:"awardedAt"`
}
