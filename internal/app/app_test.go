package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/config"
	"paykiosk.org/internal/ledger"
	"paykiosk.org/internal/report"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Auth.Secret = "app-test-secret"
	cfg.Auth.TokenTTL = config.Duration(time.Minute)
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Ledger.ApplyAttempts = 3
	cfg.Ledger.RetryDelay = config.Duration(time.Millisecond)
	cfg.PG.LockTimeout = config.Duration(time.Second)
	cfg.Rate.PerSecond, cfg.Rate.Burst = 100, 100
	cfg.HTTP.MaxBodyBytes = 1 << 16
	cfg.Admin.Username, cfg.Admin.Password = "root", "root-pw"
	return cfg
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Bootstrap(ctx))
	require.NoError(t, a.Bootstrap(ctx))

	accs, err := a.Ledger.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accs, 1)
	assert.Equal(t, ledger.PermissionAdmin, accs[0].Permission)

	ref, err := a.Resolver.Resolve(ctx, auth.PasswordCredential{Username: "root", Password: "root-pw"})
	require.NoError(t, err)
	assert.Equal(t, accs[0].ID, ref.AccountID)
}

func TestEntriesReachTheHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	sub := a.Hub.Subscribe(ctx)
	acc, err := a.Ledger.CreateAccount(ctx, ledger.NewAccount{DisplayName: "x"})
	require.NoError(t, err)
	_, err = a.Ledger.Apply(ctx, acc.ID, 125)
	require.NoError(t, err)

	select {
	case evt := <-sub:
		assert.Equal(t, acc.ID, evt.AccountID)
		assert.Equal(t, ledger.Money(125), evt.BalanceAfter)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestRedisEnablesReportCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"
	cfg.Redis.ReportTTL = config.Duration(time.Minute)

	ctx := context.Background()
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	_, ok := a.Reports.(*report.Cached)
	require.True(t, ok, "expected cached reports, got %T", a.Reports)

	require.NoError(t, a.Bootstrap(ctx))
	total, err := a.Reports.TotalBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Money(0), total)
	assert.NotEmpty(t, mr.Keys())
}

func TestInvalidRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.URL = "mongodb://nope"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestHandlerServesHealthAndToken(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Bootstrap(ctx))

	h, err := a.Handler("test")
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/auth/token", "application/json",
		strings.NewReader(`{"method":"password","username":"root","password":"root-pw"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerNeedsSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Secret = ""
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	_, err = a.Handler("test")
	assert.Error(t, err)
}
