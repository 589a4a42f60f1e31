// Package config loads process configuration from environment variables.
//
// It wraps github.com/joho/godotenv for optional .env files and
// github.com/caarlos0/env/v11 for struct tag parsing. Component packages own
// their config structs (see plans.Config, subscription.Config, retry.Config);
// the binary composes them into one struct and calls Load once:
//
//	type appConfig struct {
//		Retry   retry.Config
//		Billing billing.Config
//	}
//
//	cfg := config.MustLoad[appConfig]()
//
// Values already present in the environment take precedence over .env files.
// A config type that implements Validator is checked after parsing.
package config
