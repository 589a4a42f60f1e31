package email

// Config selects and configures the outbound mail transport. Without a
// Postmark server token the binary falls back to DevDir or to log-only
// notifications.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"BILLING_EMAIL_SENDER" envDefault:"billing@localhost"`
	SupportEmail         string `env:"BILLING_EMAIL_SUPPORT" envDefault:"support@localhost"`
	DevDir               string `env:"BILLING_EMAIL_DEV_DIR"`
}

// Enabled reports whether Postmark delivery is configured.
func (c Config) Enabled() bool { return c.PostmarkServerToken != "" }
