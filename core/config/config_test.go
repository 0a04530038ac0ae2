package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autotls/core/config"
)

type defaultsConfig struct {
	Domain   string        `env:"CFGTEST_DOMAIN" envDefault:"example.com"`
	Interval time.Duration `env:"CFGTEST_INTERVAL" envDefault:"672h"`
	Attempts int           `env:"CFGTEST_ATTEMPTS" envDefault:"24"`
}

type requiredConfig struct {
	Email string `env:"CFGTEST_REQUIRED_EMAIL,required"`
}

type cachedConfig struct {
	Value string `env:"CFGTEST_CACHED_VALUE" envDefault:"first"`
}

type envConfig struct {
	Staging bool `env:"CFGTEST_STAGING" envDefault:"false"`
}

// Tests in this file mutate the process environment and therefore do not run in parallel.

func TestLoadDefaults(t *testing.T) {
	var cfg defaultsConfig
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, "example.com", cfg.Domain)
	assert.Equal(t, 28*24*time.Hour, cfg.Interval)
	assert.Equal(t, 24, cfg.Attempts)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CFGTEST_STAGING", "true")

	var cfg envConfig
	require.NoError(t, config.Load(&cfg))
	assert.True(t, cfg.Staging)
}

func TestLoadRequiredMissing(t *testing.T) {
	var cfg requiredConfig
	err := config.Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CFGTEST_REQUIRED_EMAIL")
}

func TestLoadCachesPerType(t *testing.T) {
	config.Reset()

	var first cachedConfig
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Value)

	t.Setenv("CFGTEST_CACHED_VALUE", "second")

	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Value, "cached value must be returned")

	config.Reset()

	var third cachedConfig
	require.NoError(t, config.Load(&third))
	assert.Equal(t, "second", third.Value)
}

func TestLoadNil(t *testing.T) {
	var cfg *defaultsConfig
	assert.ErrorIs(t, config.Load(cfg), config.ErrNilConfig)
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})
}
