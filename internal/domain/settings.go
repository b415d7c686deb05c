package domain

import "github.com/shopspring/decimal"

type ProgramSettings struct {
	IsRebateProgramEnabled    bool
	PointsPerPeso             decimal.Decimal
	EarlyPaymentDaysThreshold int64
	EarlyPaymentBonusPoints   int64
}
