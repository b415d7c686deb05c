package handler

import (
	"context"

	"github.com/set-night/billingportal/internal/dedupe"
	"github.com/set-night/billingportal/internal/domain"
	"github.com/set-night/billingportal/internal/payment"
	"github.com/set-night/billingportal/internal/service"
	"github.com/stripe/stripe-go/v82"
)

type Settler interface {
	Settle(ctx context.Context, req service.SettleRequest) (*service.SettleResult, error)
}

type ProfileReader interface {
	Profile(ctx context.Context, userID string) (*domain.RebateProfile, error)
}

type PaymentGateway interface {
	RetrieveCheckout(ctx context.Context, sessionID string) (*payment.Checkout, error)
	ParseWebhook(payload []byte, sigHeader string) (stripe.Event, error)
}

// Notifier is the subset of the ops logger handlers report to.
type Notifier interface {
	LogError(err error, context string)
}

// Handler holds all dependencies needed by the HTTP handlers.
type Handler struct {
	settlement Settler
	rebates    ProfileReader
	gateway    PaymentGateway
	deduper    dedupe.Deduper
	notifier   Notifier
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Settlement Settler
	Rebates    ProfileReader
	Gateway    PaymentGateway
	Deduper    dedupe.Deduper
	Notifier   Notifier
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		settlement: deps.Settlement,
		rebates:    deps.Rebates,
		gateway:    deps.Gateway,
		deduper:    deps.Deduper,
		notifier:   deps.Notifier,
	}
}
