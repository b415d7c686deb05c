package handler

import (
	"net/http"

	"github.com/set-night/billingportal/internal/domain"
	"github.com/set-night/billingportal/internal/middleware"
)

type profileResponse struct {
	UserID       string            `json:"userId"`
	RebatePoints int64             `json:"rebatePoints"`
	RebateTier   domain.RebateTier `json:"rebateTier"`
}

func (h *Handler) RebateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}

	profile, err := h.rebates.Profile(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		UserID:       profile.UserID,
		RebatePoints: profile.RebatePoints,
		RebateTier:   profile.RebateTier,
	})
}
