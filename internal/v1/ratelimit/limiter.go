// Package ratelimit guards the WebSocket upgrade endpoint. Two scopes apply:
// per-IP before the upgrade, and per-user after authentication. Limits use
// the ulule/limiter rate syntax ("100-M" is 100 per minute).
package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
	"github.com/wavelinkhq/pushtalk/internal/v1/metrics"
)

// Limiter bundles the per-IP and per-user connection limiters.
type Limiter struct {
	ip   *limiter.Limiter
	user *limiter.Limiter
}

// New builds a Limiter backed by Redis when a client is given, falling back
// to an in-process store otherwise. Single-instance deployments lose nothing
// with the memory store; the Redis store matters once replicas share limits.
func New(ipRate, userRate string, rdb *redis.Client) (*Limiter, error) {
	ipFmt, err := limiter.NewRateFromFormatted(ipRate)
	if err != nil {
		return nil, fmt.Errorf("invalid ip rate %q: %w", ipRate, err)
	}
	userFmt, err := limiter.NewRateFromFormatted(userRate)
	if err != nil {
		return nil, fmt.Errorf("invalid user rate %q: %w", userRate, err)
	}

	var ipStore, userStore limiter.Store
	if rdb != nil {
		ipStore, err = sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "ptt:rl:ip"})
		if err != nil {
			return nil, fmt.Errorf("failed to create ip limiter store: %w", err)
		}
		userStore, err = sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "ptt:rl:user"})
		if err != nil {
			return nil, fmt.Errorf("failed to create user limiter store: %w", err)
		}
	} else {
		ipStore = memory.NewStore()
		userStore = memory.NewStore()
	}

	return &Limiter{
		ip:   limiter.New(ipStore, ipFmt),
		user: limiter.New(userStore, userFmt),
	}, nil
}

// AllowIP reports whether a connection attempt from the given address may
// proceed. Limiter store failures fail open; rate limiting is protection,
// not a correctness gate.
func (l *Limiter) AllowIP(ctx context.Context, ip string) bool {
	if l == nil {
		return true
	}
	res, err := l.ip.Get(ctx, ip)
	if err != nil {
		logging.Warn(ctx, "Rate limiter store error, allowing connection", zap.Error(err))
		return true
	}
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ip").Inc()
		return false
	}
	return true
}

// AllowUser reports whether an authenticated user may open another session.
func (l *Limiter) AllowUser(ctx context.Context, userID string) bool {
	if l == nil {
		return true
	}
	res, err := l.user.Get(ctx, userID)
	if err != nil {
		logging.Warn(ctx, "Rate limiter store error, allowing session", zap.Error(err))
		return true
	}
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("user").Inc()
		return false
	}
	return true
}
