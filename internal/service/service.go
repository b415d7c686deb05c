package service

import (
	"context"

	"github.com/set-night/billingportal/internal/domain"
)

// EventPublisher delivers domain events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// Notifier receives operator-facing log lines. Implementations must not block
// the caller for long and must tolerate being unconfigured.
type Notifier interface {
	LogError(err error, context string)
	LogBillPaid(bill *domain.Bill)
	LogRebateAward(award domain.RebateAward)
}
