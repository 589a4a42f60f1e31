package plans

// Config carries the processor price ids of the paid plans.
type Config struct {
	MonthlyPriceRef   string `env:"STRIPE_PRICE_MONTHLY,required"`
	QuarterlyPriceRef string `env:"STRIPE_PRICE_QUARTERLY,required"`
	AnnualPriceRef    string `env:"STRIPE_PRICE_ANNUAL,required"`
}

// Defaults returns the seeded plan set with price refs from cfg.
func Defaults(cfg Config) []Plan {
	return []Plan{
		{Key: Trial, PriceCents: 0, DisplayText: "Free 14-day trial"},
		{Key: Monthly, ExternalPriceRef: cfg.MonthlyPriceRef, PriceCents: 2999, DisplayText: "Monthly - $29.99"},
		{Key: Quarterly, ExternalPriceRef: cfg.QuarterlyPriceRef, PriceCents: 7999, DisplayText: "Quarterly - $79.99"},
		{Key: Annual, ExternalPriceRef: cfg.AnnualPriceRef, PriceCents: 29999, DisplayText: "Annual - $299.99"},
	}
}
