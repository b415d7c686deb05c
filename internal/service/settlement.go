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

type SettleRequest struct {
	UserID     string
	BillID     string
	AmountPaid decimal.Decimal
	PaymentRef string
	Method     string
	PaidAt     time.Time
}

type SettleResult struct {
	Bill        *domain.Bill
	AlreadyPaid bool
}

// SettlementService marks bills paid and hands the settled bill to the
// rebate awarder. The provider webhook and the client confirmation call both
// come through Settle.
type SettlementService struct {
	store     docstore.Store
	rebates   *RebateService
	publisher EventPublisher
	notifier  Notifier
	now       func() time.Time
}

func NewSettlementService(store docstore.Store, rebates *RebateService, publisher EventPublisher, notifier Notifier) *SettlementService {
	return &SettlementService{
		store:     store,
		rebates:   rebates,
		publisher: publisher,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Settle transitions the bill to Paid and then awards rebate points. A bill
// that is already paid is returned as is, without a second award. Rebate
// failures never surface here.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	if !docstore.ValidID(req.UserID) {
		return nil, domain.ErrMissingUser
	}
	if !docstore.ValidID(req.BillID) {
		return nil, domain.ErrMissingBill
	}
	if !req.AmountPaid.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	path := docstore.BillPath(req.UserID, req.BillID)
	doc, err := s.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, domain.ErrBillNotFound
		}
		return nil, fmt.Errorf("get bill: %w", err)
	}

	bill := billFromDocument(doc, req.UserID, req.BillID)
	if bill.IsPaid() {
		slog.Info("bill already paid", "user_id", req.UserID, "bill_id", req.BillID, "payment_ref", req.PaymentRef)
		return &SettleResult{Bill: bill, AlreadyPaid: true}, nil
	}

	paidAt := timeOrNow(req.PaidAt, s.now).UTC()
	fields := map[string]any{
		fieldStatus:           string(domain.BillStatusPaid),
		fieldPaymentDate:      paidAt,
		fieldAmountPaid:       decimalString(req.AmountPaid),
		fieldPaymentReference: req.PaymentRef,
		fieldPaymentMethod:    req.Method,
	}
	err = s.store.Commit(ctx, docstore.NewBatch().Update(path, fields, docstore.IfVersion(doc.Version)))
	if err != nil {
		if errors.Is(err, docstore.ErrConflict) {
			return s.resolveConflict(ctx, req, path, err)
		}
		return nil, fmt.Errorf("mark bill paid: %w", err)
	}

	bill.Status = domain.BillStatusPaid
	bill.PaymentDate = &paidAt
	bill.AmountPaid = req.AmountPaid
	bill.PaymentReference = req.PaymentRef
	bill.PaymentMethod = req.Method

	slog.Info("bill paid",
		"user_id", req.UserID,
		"bill_id", req.BillID,
		"amount", req.AmountPaid.String(),
		"method", req.Method,
		"payment_ref", req.PaymentRef,
	)
	s.notifier.LogBillPaid(bill)
	if err := s.publisher.Publish(ctx, config.EventBillPaid, billPaidEvent(bill)); err != nil {
		slog.Error("publish bill paid", "error", err, "bill_id", bill.ID)
	}

	settings, err := LoadProgramSettings(ctx, s.store)
	if err != nil {
		slog.Error("rebate skipped: load program settings", "error", err, "bill_id", bill.ID)
		s.notifier.LogError(err, "rebate: load program settings")
	} else {
		s.rebates.Award(ctx, req.UserID, bill, req.AmountPaid, settings)
	}

	return &SettleResult{Bill: bill}, nil
}

// resolveConflict handles a bill that changed between read and write. When
// the concurrent writer paid it, this call is a duplicate settlement.
func (s *SettlementService) resolveConflict(ctx context.Context, req SettleRequest, path string, cause error) (*SettleResult, error) {
	doc, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reread bill: %w", err)
	}
	bill := billFromDocument(doc, req.UserID, req.BillID)
	if bill.IsPaid() {
		slog.Info("bill paid concurrently", "user_id", req.UserID, "bill_id", req.BillID)
		return &SettleResult{Bill: bill, AlreadyPaid: true}, nil
	}
	return nil, fmt.Errorf("mark bill paid: %w", cause)
}

type billPaidPayload struct {
	UserID      string    `json:"userId"`
	BillID      string    `json:"billId"`
	AmountPaid  string    `json:"amountPaid"`
	PaymentRef  string    `json:"paymentRef,omitempty"`
	Method      string    `json:"method,omitempty"`
	PaymentDate time.Time `json:"paymentDate"`
}

func billPaidEvent(bill *domain.Bill) billPaidPayload {
	p := billPaidPayload{
		UserID:     bill.UserID,
		BillID:     bill.ID,
		AmountPaid: decimalString(bill.AmountPaid),
		PaymentRef: bill.PaymentReference,
		Method:     bill.PaymentMethod,
	}
	if bill.PaymentDate != nil {
		p.PaymentDate = *bill.PaymentDate
	}
	return p
}
