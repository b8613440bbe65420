package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"paykiosk.org/internal/ledger"
	"paykiosk.org/internal/obs"
)

const (
	keyTotal   = "kiosk:report:total"
	keySummary = "kiosk:report:summary"
)

// Cached serves totals from Redis for up to ttl. Concurrent misses share one
// computation. Redis failures fall back to the Reporter. Reconcile always
// reads the store because a stale consistency check is worthless.
type Cached struct {
	next  *Reporter
	rdb   redis.Cmdable
	ttl   time.Duration
	group singleflight.Group
}

func NewCached(next *Reporter, rdb redis.Cmdable, ttl time.Duration) *Cached {
	return &Cached{next: next, rdb: rdb, ttl: ttl}
}

func (c *Cached) TotalBalance(ctx context.Context) (ledger.Money, error) {
	raw, err := c.rdb.Get(ctx, keyTotal).Result()
	if err == nil {
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			return ledger.Money(n), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.warn(ctx, "cache get", err)
	}

	return shared(ctx, &c.group, keyTotal, func(ctx context.Context) (ledger.Money, error) {
		total, err := c.next.TotalBalance(ctx)
		if err != nil {
			return 0, err
		}
		if err := c.rdb.Set(ctx, keyTotal, strconv.FormatInt(int64(total), 10), c.ttl).Err(); err != nil {
			c.warn(ctx, "cache set", err)
		}
		return total, nil
	})
}

func (c *Cached) Summary(ctx context.Context) (Summary, error) {
	b, err := c.rdb.Get(ctx, keySummary).Bytes()
	if err == nil {
		var s Summary
		if json.Unmarshal(b, &s) == nil {
			return s, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.warn(ctx, "cache get", err)
	}

	return shared(ctx, &c.group, keySummary, func(ctx context.Context) (Summary, error) {
		s, err := c.next.Summary(ctx)
		if err != nil {
			return Summary{}, err
		}
		if b, err := json.Marshal(s); err == nil {
			if err := c.rdb.Set(ctx, keySummary, b, c.ttl).Err(); err != nil {
				c.warn(ctx, "cache set", err)
			}
		}
		return s, nil
	})
}

func (c *Cached) Reconcile(ctx context.Context) ([]Mismatch, error) {
	return c.next.Reconcile(ctx)
}

func (c *Cached) warn(ctx context.Context, op string, err error) {
	obs.Logger().LogAttrs(ctx, slog.LevelWarn, "report cache degraded",
		slog.String("op", op), slog.String("error", err.Error()))
}

// shared runs fn once per key for all concurrent callers. fn gets a context
// detached from any single caller, and each caller stops waiting when its own
// ctx is done.
func shared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
