package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultCepSMSBaseURL, cfg.CepSMSBaseURL)
	assert.Equal(t, DefaultConcurrentLimit, cfg.ConcurrentLimit)
	assert.Equal(t, 48*time.Hour, cfg.RefundDelay)
	assert.Equal(t, 5*time.Minute, cfg.StatusGrace)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CONCURRENT_LIMIT", "50")
	t.Setenv("WAVE_DELAY", "500ms")
	t.Setenv("REFUND_DELAY", "24h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 50, cfg.ConcurrentLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.WaveDelay)
	assert.Equal(t, 24*time.Hour, cfg.RefundDelay)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{CepSMSBaseURL: "", ConcurrentLimit: 10, RefundDelay: time.Hour}
	assert.Error(t, cfg.Validate())

	cfg = &Config{CepSMSBaseURL: "https://example.com", ConcurrentLimit: 0, RefundDelay: time.Hour}
	assert.Error(t, cfg.Validate())

	cfg = &Config{CepSMSBaseURL: "https://example.com", ConcurrentLimit: 10, RefundDelay: 0}
	assert.Error(t, cfg.Validate())
}

func TestEnvModeHelpers(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.True(t, cfg.IsProduction())
}

func TestBadDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("STATUS_GRACE", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.StatusGrace)
}
