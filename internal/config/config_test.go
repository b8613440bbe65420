package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Second, cfg.PG.LockTimeout.Duration())
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL.Duration())
	assert.Equal(t, 5, cfg.Ledger.ApplyAttempts)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Empty(t, cfg.PG.DSN)
	assert.Error(t, cfg.ValidateServer(), "secret is required")
}

func TestLoadFromEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("KIOSK_AUTH_SECRET=from-file\nKIOSK_LOCK_TIMEOUT=3\n"), 0o600))

	t.Setenv("KIOSK_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KIOSK_TOKEN_TTL", "90s")
	t.Setenv("KIOSK_AUTH_SECRET", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("KIOSK_LOCK_TIMEOUT") })

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.Secret, "environment wins over .env")
	assert.Equal(t, 3*time.Second, cfg.PG.LockTimeout.Duration(), "bare number is seconds")
	assert.Equal(t, 90*time.Second, cfg.Auth.TokenTTL.Duration())
	assert.Len(t, cfg.Kafka.Brokers, 2)
	assert.NoError(t, cfg.ValidateServer())
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration(`"250ms"`)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = parseDuration("")
	assert.Error(t, err)
	_, err = parseDuration("soon")
	assert.Error(t, err)
}

func TestValidateTrustedProxies(t *testing.T) {
	cfg := Config{}
	cfg.Auth.Secret = "s"
	cfg.Auth.TokenTTL = Duration(time.Minute)
	cfg.Rate.PerSecond, cfg.Rate.Burst = 1, 1

	cfg.HTTP.TrustedProxies = []string{"10.0.0.0/8", " 192.0.2.7", "::1", ""}
	assert.NoError(t, cfg.ValidateServer())

	cfg.HTTP.TrustedProxies = []string{"proxy.internal"}
	assert.ErrorContains(t, cfg.ValidateServer(), "KIOSK_TRUSTED_PROXIES")
}
