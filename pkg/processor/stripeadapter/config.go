package stripeadapter

// Config holds credentials for the Stripe adapter.
type Config struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
	// IgnoreAPIVersionMismatch accepts events rendered with an API version
	// other than the one pinned by the SDK.
	IgnoreAPIVersionMismatch bool `env:"STRIPE_IGNORE_API_VERSION_MISMATCH" envDefault:"true"`
}
