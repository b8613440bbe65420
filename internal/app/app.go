// Package app wires configuration into a running ledger: store selection,
// migrations, event publishers, the report cache and the HTTP handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"paykiosk.org/internal/auth"
	"paykiosk.org/internal/config"
	"paykiosk.org/internal/events"
	"paykiosk.org/internal/httpapi"
	"paykiosk.org/internal/ledger"
	"paykiosk.org/internal/migrate"
	"paykiosk.org/internal/obs"
	"paykiosk.org/internal/report"
	"paykiosk.org/internal/store/pg"
)

// App holds the wired collaborators. Close releases everything it opened.
type App struct {
	cfg      config.Config
	Ledger   *ledger.Service
	Resolver *auth.Resolver
	Reports  httpapi.Reports
	Hub      *events.Hub

	pg      *pg.Store
	closers []func() error
}

// New builds the application. An empty KIOSK_PG_DSN selects the in-memory stores.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{cfg: cfg, Hub: events.NewHub()}
	log := obs.Logger()

	var (
		store ledger.Store
		creds auth.Store
		src   report.Source
	)
	if dsn := strings.TrimSpace(cfg.PG.DSN); dsn != "" {
		s, err := pg.Open(dsn, pg.WithLockTimeout(cfg.PG.LockTimeout.Duration()))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.pg = s
		a.closers = append(a.closers, s.Close)
		if err := s.Ping(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if cfg.PG.Migrate {
			applied, err := migrate.NewManager(s.DB(), migrate.Schema()).Up(ctx)
			if err != nil {
				_ = a.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			for _, name := range applied {
				log.Info("migration applied", slog.String("name", name))
			}
		}
		store, creds, src = s, s.Credentials(), s
	} else {
		mem := ledger.NewMemoryStore(ledger.WithLockTimeout(cfg.PG.LockTimeout.Duration()))
		store, creds, src = mem, auth.NewMemoryStore(auth.WithAccounts(mem)), mem
		log.Warn("KIOSK_PG_DSN not set, using in-memory store; data is lost on exit")
	}

	pub := events.Multi{a.Hub}
	if brokers := trimAll(cfg.Kafka.Brokers); len(brokers) > 0 {
		kp := events.NewKafkaPublisher(brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, kp.Close)
		pub = append(pub, kp)
		log.Info("publishing entries to kafka", slog.String("topic", cfg.Kafka.Topic))
	}

	a.Ledger = ledger.NewService(store,
		ledger.WithMaxAttempts(cfg.Ledger.ApplyAttempts),
		ledger.WithRetryDelay(cfg.Ledger.RetryDelay.Duration()),
		ledger.WithObserver(obs.LedgerMetrics{}),
		ledger.WithEntryListener(func(ctx context.Context, e ledger.Entry) {
			// The entry is committed; a failed publish is only logged.
			if err := pub.Publish(context.WithoutCancel(ctx), events.FromEntry(e)); err != nil {
				log.WarnContext(ctx, "publish entry event", slog.String("entry_id", e.ID), slog.String("error", err.Error()))
			}
		}),
	)
	a.Resolver = auth.NewResolver(creds, auth.WithBcryptCost(cfg.Auth.BcryptCost))

	reporter := report.NewReporter(src)
	a.Reports = reporter
	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("parse KIOSK_REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, reports fall back to the store", slog.String("error", err.Error()))
		}
		a.Reports = report.NewCached(reporter, rdb, cfg.Redis.ReportTTL.Duration())
	}
	return a, nil
}

// Ready pings PostgreSQL when it backs the ledger.
func (a *App) Ready(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Ping(ctx)
}

// Bootstrap creates the configured admin account once. A username already
// registered is left untouched.
func (a *App) Bootstrap(ctx context.Context) error {
	user, pass := strings.TrimSpace(a.cfg.Admin.Username), a.cfg.Admin.Password
	if user == "" || pass == "" {
		return nil
	}
	taken, err := a.Resolver.HasUsername(ctx, user)
	if err != nil || taken {
		return err
	}
	acc, err := a.Ledger.CreateAccount(ctx, ledger.NewAccount{
		DisplayName: user,
		Permission:  ledger.PermissionAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if err := a.Resolver.RegisterPassword(ctx, acc.ID, user, pass); err != nil {
		return fmt.Errorf("register admin password: %w", err)
	}
	obs.Logger().Info("bootstrap admin created", slog.String("account_id", acc.ID))
	return nil
}

// Handler builds the HTTP API. It needs KIOSK_AUTH_SECRET.
func (a *App) Handler(version string) (http.Handler, error) {
	tokens, err := auth.NewTokens(a.cfg.Auth.Secret, a.cfg.Auth.TokenTTL.Duration())
	if err != nil {
		return nil, err
	}
	api := httpapi.New(httpapi.Deps{
		Ledger:   a.Ledger,
		Resolver: a.Resolver,
		Tokens:   tokens,
		Reports:  a.Reports,
		Hub:      a.Hub,
		Ready:    a.Ready,
	}, httpapi.Limits{
		RatePerSecond:  a.cfg.Rate.PerSecond,
		RateBurst:      a.cfg.Rate.Burst,
		MaxBodyBytes:   a.cfg.HTTP.MaxBodyBytes,
		CORSOrigins:    trimAll(a.cfg.HTTP.CORSOrigins),
		TrustedProxies: trimAll(a.cfg.HTTP.TrustedProxies),
	}, version)
	return api.Handler(), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ShutdownTimeout is how long in-flight requests get after a stop signal.
func (a *App) ShutdownTimeout() time.Duration {
	if d := a.cfg.HTTP.ShutdownTimeout.Duration(); d > 0 {
		return d
	}
	return 15 * time.Second
}
