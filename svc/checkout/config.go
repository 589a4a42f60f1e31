package checkout

// Config holds the hosted checkout redirect targets.
type Config struct {
	SuccessURL string `env:"STRIPE_SUCCESS_URL,required"`
	CancelURL  string `env:"STRIPE_CANCEL_URL,required"`
}
