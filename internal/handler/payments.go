package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/set-night/billingportal/internal/domain"
	"github.com/set-night/billingportal/internal/middleware"
)

type confirmRequest struct {
	SessionID string `json:"sessionId"`
}

type confirmResponse struct {
	Status      string `json:"status"`
	BillID      string `json:"billId,omitempty"`
	AlreadyPaid bool   `json:"alreadyPaid"`
}

// ConfirmPayment settles a bill from the portal after the checkout redirect,
// so the user sees the result without waiting for the webhook.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	checkout, err := h.gateway.RetrieveCheckout(r.Context(), req.SessionID)
	if err != nil {
		slog.Error("retrieve checkout", "error", err, "session_id", req.SessionID, "user_id", userID)
		if errorStatus(err) == http.StatusServiceUnavailable {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadGateway, "could not retrieve checkout session")
		return
	}

	if checkout.UserID != userID {
		slog.Warn("checkout session user mismatch", "session_id", req.SessionID, "user_id", userID, "session_user_id", checkout.UserID)
		writeDomainError(w, domain.ErrSessionMismatch)
		return
	}
	if !checkout.Paid {
		writeJSON(w, http.StatusAccepted, confirmResponse{Status: "pending", BillID: checkout.BillID})
		return
	}
	if checkout.BillID == "" {
		writeDomainError(w, domain.ErrSessionIncomplete)
		return
	}

	result, err := h.settlement.Settle(r.Context(), settleRequest(checkout))
	if err != nil {
		slog.Error("confirm payment", "error", err, "session_id", req.SessionID, "user_id", userID, "bill_id", checkout.BillID)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, confirmResponse{
		Status:      string(result.Bill.Status),
		BillID:      result.Bill.ID,
		AlreadyPaid: result.AlreadyPaid,
	})
}
