package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/set-night/billingportal/internal/config"
	"github.com/set-night/billingportal/internal/domain"
	"github.com/set-night/billingportal/internal/payment"
	"github.com/set-night/billingportal/internal/service"
	"github.com/stripe/stripe-go/v82"
)

type webhookResponse struct {
	Received    bool   `json:"received"`
	Status      string `json:"status"`
	AlreadyPaid bool   `json:"alreadyPaid,omitempty"`
}

// StripeWebhook settles bills from provider checkout events. Any non-2xx
// response makes the provider redeliver the event.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.WebhookBodyLimit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	event, err := h.gateway.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		slog.Warn("stripe webhook rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ctx := r.Context()
	claimed := true
	ok, err := h.deduper.Claim(ctx, event.ID, config.WebhookDedupeTTL)
	if err != nil {
		// Settlement is idempotent on its own; dedupe only saves work.
		slog.Warn("webhook dedupe unavailable", "error", err, "event_id", event.ID)
		claimed = false
	} else if !ok {
		slog.Info("stripe webhook duplicate", "event_id", event.ID, "type", event.Type)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: "duplicate"})
		return
	}

	resp, err := h.handleEvent(ctx, event)
	if err != nil {
		if claimed {
			if relErr := h.deduper.Release(context.WithoutCancel(ctx), event.ID); relErr != nil {
				slog.Error("release webhook claim", "error", relErr, "event_id", event.ID)
			}
		}
		slog.Error("stripe webhook processing failed", "error", err, "event_id", event.ID, "type", event.Type)
		h.notifier.LogError(err, fmt.Sprintf("stripe webhook %s", event.Type))
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEvent(ctx context.Context, event stripe.Event) (webhookResponse, error) {
	if !payment.IsSettlementEvent(event.Type) {
		slog.Info("stripe webhook ignored (unhandled type)", "type", event.Type, "event_id", event.ID)
		return webhookResponse{Received: true, Status: "ignored"}, nil
	}

	checkout, err := payment.CheckoutFromEvent(event)
	if err != nil {
		return webhookResponse{}, err
	}
	if !checkout.Paid {
		// Async methods complete later with async_payment_succeeded.
		slog.Info("checkout not paid yet", "session_id", checkout.SessionID, "event_id", event.ID)
		return webhookResponse{Received: true, Status: "pending"}, nil
	}

	result, err := h.settlement.Settle(ctx, settleRequest(checkout))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingUser), errors.Is(err, domain.ErrMissingBill),
			errors.Is(err, domain.ErrBillNotFound), errors.Is(err, domain.ErrInvalidAmount):
			// Redelivery cannot fix these.
			slog.Warn("checkout cannot be settled", "error", err, "session_id", checkout.SessionID,
				"user_id", checkout.UserID, "bill_id", checkout.BillID)
			h.notifier.LogError(err, fmt.Sprintf("settle checkout %s", checkout.SessionID))
			return webhookResponse{Received: true, Status: "ignored"}, nil
		default:
			return webhookResponse{}, fmt.Errorf("settle checkout %s: %w", checkout.SessionID, err)
		}
	}

	return webhookResponse{Received: true, Status: "processed", AlreadyPaid: result.AlreadyPaid}, nil
}

func settleRequest(c *payment.Checkout) service.SettleRequest {
	return service.SettleRequest{
		UserID:     c.UserID,
		BillID:     c.BillID,
		AmountPaid: c.Amount,
		PaymentRef: c.PaymentRef,
		Method:     c.Method,
	}
}
