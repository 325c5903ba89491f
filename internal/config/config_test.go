package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, 48*time.Hour, cfg.OfferTTL)
	assert.Equal(t, 24*time.Hour, cfg.OfferCooldown)
	assert.Equal(t, 0, cfg.MaxCounterRounds)
	assert.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("OFFER_TTL", "72h")
	t.Setenv("OFFER_COOLDOWN", "1h")
	t.Setenv("MAX_COUNTER_ROUNDS", "5")
	t.Setenv("RATE_LIMIT_RPM", "30")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 72*time.Hour, cfg.OfferTTL)
	assert.Equal(t, time.Hour, cfg.OfferCooldown)
	assert.Equal(t, 5, cfg.MaxCounterRounds)
	assert.Equal(t, 30, cfg.RateLimitRPM)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("OFFER_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultOfferTTL, cfg.OfferTTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero ttl", func(c *Config) { c.OfferTTL = 0 }, true},
		{"negative cooldown", func(c *Config) { c.OfferCooldown = -time.Hour }, true},
		{"negative rounds", func(c *Config) { c.MaxCounterRounds = -1 }, true},
		{"zero sweep", func(c *Config) { c.SweepInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				OfferTTL:      DefaultOfferTTL,
				OfferCooldown: DefaultOfferCooldown,
				SweepInterval: DefaultSweepInterval,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	cfg := &Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
}
