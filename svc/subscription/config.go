package subscription

import "time"

// Config holds lifecycle policy knobs.
type Config struct {
	TrialCancelPolicy string        `env:"BILLING_TRIAL_CANCEL_POLICY" envDefault:"keep_until_end"`
	GracePeriod       time.Duration `env:"BILLING_GRACE_PERIOD" envDefault:"0s"`
	// TrialExpiryGrace delays expiry of an uncanceled trial so the processor's
	// conversion invoice can land first.
	TrialExpiryGrace time.Duration `env:"BILLING_TRIAL_EXPIRY_GRACE" envDefault:"0s"`
	SweepBatchSize   int           `env:"BILLING_SWEEP_BATCH_SIZE" envDefault:"500"`
}

// Options converts cfg to service options.
func (cfg Config) Options() ([]ServiceOption, error) {
	policy, err := ParseTrialCancelPolicy(cfg.TrialCancelPolicy)
	if err != nil {
		return nil, err
	}
	return []ServiceOption{
		WithTrialCancelPolicy(policy),
		WithGracePeriod(cfg.GracePeriod),
		WithTrialExpiryGrace(cfg.TrialExpiryGrace),
		WithSweepBatchSize(cfg.SweepBatchSize),
	}, nil
}
