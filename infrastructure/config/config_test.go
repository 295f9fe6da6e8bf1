package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 15*time.Second, cfg.ReplayInterval)
	assert.Equal(t, 5*time.Minute, cfg.CustomerTTL)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.EnableMetrics)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PULSEDESK_API_URL", "https://api.pulsedesk.example")
	t.Setenv("PULSEDESK_REFRESH_INTERVAL", "10s")
	t.Setenv("PULSEDESK_CUSTOMER_TTL", "90s")
	t.Setenv("PULSEDESK_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("ENABLE_METRICS", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://api.pulsedesk.example", cfg.APIBaseURL)
	assert.Equal(t, 10*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 90*time.Second, cfg.CustomerTTL)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.True(t, cfg.EnableMetrics)
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	t.Setenv("PULSEDESK_REFRESH_INTERVAL", "100ms")

	_, err := LoadConfig()
	assert.Error(t, err, "sub-second refresh intervals would hammer the backend")
}

func TestConfig_Validate(t *testing.T) {
	valid := &Config{
		APIBaseURL:       "http://localhost:8080",
		RefreshInterval:  30 * time.Second,
		RetryMaxAttempts: 3,
	}
	assert.NoError(t, valid.Validate())

	missing := *valid
	missing.APIBaseURL = ""
	assert.Error(t, missing.Validate())

	zeroRetries := *valid
	zeroRetries.RetryMaxAttempts = 0
	assert.Error(t, zeroRetries.Validate())
}

func TestWatcher_LoadsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("refresh_interval: 20s\nttl:\n  customer: 2m\n"), 0o600))

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	current := w.Current()
	assert.Equal(t, 20*time.Second, current.RefreshInterval)
	assert.Equal(t, 2*time.Minute, current.TTL["customer"])

	changed := make(chan DynamicConfig, 1)
	w.OnChange(func(cfg DynamicConfig) {
		select {
		case changed <- cfg:
		default:
		}
	})
	w.Start()

	require.NoError(t, os.WriteFile(path, []byte("refresh_interval: 45s\n"), 0o600))

	select {
	case cfg := <-changed:
		assert.Equal(t, 45*time.Second, cfg.RefreshInterval)
		assert.Equal(t, 45*time.Second, w.Current().RefreshInterval)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestNewWatcher_MissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	assert.Error(t, err)
}
