// Package payment wraps the Stripe SDK: checkout session retrieval and
// webhook verification.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/set-night/billingportal/internal/config"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
)

// Metadata keys set on checkout sessions when they are created.
const (
	MetadataUserID = "userId"
	MetadataBillID = "billId"
)

// Checkout is the part of a checkout session settlement cares about.
type Checkout struct {
	SessionID  string
	UserID     string
	BillID     string
	Amount     decimal.Decimal
	Currency   string
	Paid       bool
	PaymentRef string
	Method     string
}

type Gateway struct {
	sessions      session.Client
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[*stripe.CheckoutSession]
}

// NewGateway builds a gateway on the given backend. The key is carried by the
// client; the package-level stripe.Key is never set.
func NewGateway(secretKey, webhookSecret string, backend stripe.Backend) *Gateway {
	settings := gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: config.BreakerHalfOpenRequests,
		Timeout:     config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailureThreshold
		},
		// Client errors mean the provider answered; only outages trip the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var stripeErr *stripe.Error
			return errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Gateway{
		sessions:      session.Client{B: backend, Key: secretKey},
		webhookSecret: webhookSecret,
		breaker:       gobreaker.NewCircuitBreaker[*stripe.CheckoutSession](settings),
	}
}

// RetrieveCheckout fetches a checkout session by id.
func (g *Gateway) RetrieveCheckout(ctx context.Context, sessionID string) (*Checkout, error) {
	cs, err := g.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		params.AddExpand("payment_intent")
		return g.sessions.Get(sessionID, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrProviderUnavailable
		}
		return nil, fmt.Errorf("retrieve checkout session: %w", err)
	}
	return CheckoutFromSession(cs), nil
}

// ParseWebhook verifies the signature header and decodes the event.
func (g *Gateway) ParseWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return stripe.Event{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// IsSettlementEvent reports whether the event type can mark a bill as paid.
func IsSettlementEvent(t stripe.EventType) bool {
	return t == stripe.EventTypeCheckoutSessionCompleted || t == stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded
}

// CheckoutFromEvent decodes the checkout session carried by an event.
func CheckoutFromEvent(event stripe.Event) (*Checkout, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, errors.New("event has no data")
	}
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	return CheckoutFromSession(&cs), nil
}

func CheckoutFromSession(cs *stripe.CheckoutSession) *Checkout {
	c := &Checkout{
		SessionID: cs.ID,
		Currency:  string(cs.Currency),
		// AmountTotal is in minor units.
		Amount: decimal.New(cs.AmountTotal, -2),
		Paid:   cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Method: "stripe",
	}
	if cs.Metadata != nil {
		c.UserID = strings.TrimSpace(cs.Metadata[MetadataUserID])
		c.BillID = strings.TrimSpace(cs.Metadata[MetadataBillID])
	}
	if c.UserID == "" {
		c.UserID = strings.TrimSpace(cs.ClientReferenceID)
	}

	c.PaymentRef = cs.ID
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		c.PaymentRef = cs.PaymentIntent.ID
	}
	if len(cs.PaymentMethodTypes) > 0 {
		c.Method = "stripe_" + cs.PaymentMethodTypes[0]
	}
	return c
}
