package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/set-night/billingportal/internal/domain"
	"github.com/set-night/billingportal/internal/payment"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSessionMismatch):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrBillNotFound), errors.Is(err, domain.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrMissingUser), errors.Is(err, domain.ErrMissingBill),
		errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrSessionIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payment.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}
