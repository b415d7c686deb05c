package service

import (
	"time"

	"github.com/set-night/billingportal/internal/docstore"
	"github.com/set-night/billingportal/internal/domain"
	"github.com/shopspring/decimal"
)

// Field names shared with the portal frontend.
const (
	fieldStatus           = "status"
	fieldAmount           = "amount"
	fieldDueDate          = "dueDate"
	fieldPaymentDate      = "paymentDate"
	fieldAmountPaid       = "amountPaid"
	fieldPaymentReference = "paymentReference"
	fieldPaymentMethod    = "paymentMethod"

	fieldRebatePoints = "rebatePoints"
	fieldRebateTier   = "rebateTier"

	fieldRebateEnabled  = "isRebateProgramEnabled"
	fieldPointsPerPeso  = "pointsPerPeso"
	fieldEarlyThreshold = "earlyPaymentDaysThreshold"
	fieldEarlyBonus     = "earlyPaymentBonusPoints"
)

// billFromDocument converts a stored bill document to a domain.Bill.
func billFromDocument(doc *docstore.Document, userID, billID string) *domain.Bill {
	bill := &domain.Bill{
		ID:               billID,
		UserID:           userID,
		Status:           domain.BillStatus(doc.String(fieldStatus)),
		PaymentReference: doc.String(fieldPaymentReference),
		PaymentMethod:    doc.String(fieldPaymentMethod),
	}
	if bill.Status == "" {
		bill.Status = domain.BillStatusUnpaid
	}
	if amount, ok := doc.Decimal(fieldAmount); ok {
		bill.Amount = amount
	}
	if paid, ok := doc.Decimal(fieldAmountPaid); ok {
		bill.AmountPaid = paid
	}
	if due, ok := doc.Time(fieldDueDate); ok {
		bill.DueDate = due
	}
	if paidAt, ok := doc.Time(fieldPaymentDate); ok {
		bill.PaymentDate = paidAt
	}
	return bill
}

// profileFromDocument converts a profile document to a domain.RebateProfile.
// Missing points read as zero; the tier is always derived from the points.
func profileFromDocument(doc *docstore.Document, userID string) *domain.RebateProfile {
	points, _ := doc.Int64(fieldRebatePoints)
	if points < 0 {
		points = 0
	}
	return &domain.RebateProfile{
		UserID:       userID,
		RebatePoints: points,
		RebateTier:   domain.TierForPoints(points),
	}
}

// timeOrNow returns t, or now when t is the zero time.
func timeOrNow(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t
}

func decimalString(d decimal.Decimal) string {
	return d.StringFixed(2)
}
