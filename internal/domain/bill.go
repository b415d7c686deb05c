package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BillStatus string

const (
	BillStatusUnpaid BillStatus = "Unpaid"
	BillStatusPaid   BillStatus = "Paid"
)

type Bill struct {
	ID               string
	UserID           string
	Amount           decimal.Decimal
	DueDate          *time.Time
	Status           BillStatus
	PaymentDate      *time.Time
	AmountPaid       decimal.Decimal
	PaymentReference string
	PaymentMethod    string
}

func (b *Bill) IsPaid() bool {
	return b.Status == BillStatusPaid
}

// DaysEarly reports how many days before the due date the bill was paid, as a
// fractional day count. ok is false when the bill has no due date.
func (b *Bill) DaysEarly(now time.Time) (days float64, ok bool) {
	if b.DueDate == nil {
		return 0, false
	}
	paid := now
	if b.PaymentDate != nil {
		paid = *b.PaymentDate
	}
	return b.DueDate.Sub(paid).Hours() / 24, true
}
