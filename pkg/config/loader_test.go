package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/adminbilling/pkg/config"
)

type sweepConfig struct {
	Schedule  string        `env:"TEST_SWEEP_SCHEDULE" envDefault:"@every 5m"`
	BatchSize int           `env:"TEST_SWEEP_BATCH" envDefault:"500"`
	Grace     time.Duration `env:"TEST_SWEEP_GRACE" envDefault:"0s"`
	Secret    string        `env:"TEST_SWEEP_SECRET,required"`
}

type portConfig struct {
	Port int `env:"TEST_PORT" envDefault:"8080"`
}

func (c portConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("port out of range")
	}
	return nil
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_SWEEP_SECRET", "whsec_test")
	t.Setenv("TEST_SWEEP_BATCH", "50")

	cfg, err := config.Load[sweepConfig]()
	require.NoError(t, err)
	assert.Equal(t, "@every 5m", cfg.Schedule)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, time.Duration(0), cfg.Grace)
	assert.Equal(t, "whsec_test", cfg.Secret)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("TEST_SWEEP_SECRET", "")
	require.NoError(t, os.Unsetenv("TEST_SWEEP_SECRET"))

	_, err := config.Load[sweepConfig]()
	require.ErrorIs(t, err, config.ErrParsingConfig)
	assert.Panics(t, func() { config.MustLoad[sweepConfig]() })
}

func TestLoad_Validate(t *testing.T) {
	t.Setenv("TEST_PORT", "70000")

	_, err := config.Load[portConfig]()
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	t.Setenv("TEST_PORT", "9090")
	cfg, err := config.Load[portConfig]()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_SWEEP_SECRET=from_file\nTEST_SWEEP_GRACE=90s\n"), 0o600))
	t.Setenv("TEST_SWEEP_GRACE", "")
	require.NoError(t, os.Unsetenv("TEST_SWEEP_GRACE"))
	t.Setenv("TEST_SWEEP_SECRET", "from_env")

	cfg, err := config.Load[sweepConfig](path)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Secret, "set variables win over the file")
	assert.Equal(t, 90*time.Second, cfg.Grace)

	_, err = config.Load[sweepConfig](filepath.Join(t.TempDir(), "missing.env"))
	require.ErrorIs(t, err, config.ErrLoadingEnvFile)
}
