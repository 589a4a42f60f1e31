package billing

import "time"

// Config holds the API settings. Processor timeouts and retries live in retry.Config.
type Config struct {
	PortalReturnURL string        `env:"STRIPE_PORTAL_RETURN_URL"`
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}
