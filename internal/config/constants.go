package config

import "time"

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

const (
	// Rebate program defaults applied when the settings document omits a value
	// or carries one that does not parse.
	DefaultEarlyPaymentDaysThreshold = 7
	DefaultEarlyPaymentBonusPoints   = 10

	// Compare-and-swap attempts for one award before giving up.
	AwardMaxAttempts = 3

	// Webhook event ids are remembered this long.
	WebhookDedupeTTL = 72 * time.Hour

	// Upper bound for a provider webhook body.
	WebhookBodyLimit = 1 << 20

	// Stripe calls
	ProviderTimeout         = 15 * time.Second
	BreakerFailureThreshold = 5
	BreakerOpenTimeout      = 30 * time.Second
	BreakerHalfOpenRequests = 1

	// JWKS keys are refetched after this long.
	JWKSCacheTTL = 10 * time.Minute

	// HTTP server
	ReadHeaderTimeout = 10 * time.Second
	ShutdownTimeout   = 10 * time.Second

	// Telegram ops log send timeout
	TelegramSendTimeout = 10 * time.Second

	EventsExchange = "billing.events"
)

// Routing keys for published events.
const (
	EventBillPaid      = "bill.paid"
	EventRebateAwarded = "rebate.awarded"
)
