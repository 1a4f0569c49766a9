// Package coordination guards leads against concurrent enrichment across
// processes with Redis leases.
package coordination

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-leads/internal/config"
)

const (
	DefaultLeaseTTL = 15 * time.Minute
	DefaultPrefix   = "venue-leads:lease:"
)

// ErrLeaseHeld is returned when another worker already holds the lead.
var ErrLeaseHeld = errors.New("lease held by another worker")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker acquires a per-lead lease. The returned release func is safe to
// call more than once.
type Locker interface {
	Acquire(ctx context.Context, leadID string) (release func(), err error)
}

// NopLocker grants every lease. Used when Redis is not configured.
type NopLocker struct{}

// Acquire implements Locker.
func (NopLocker) Acquire(context.Context, string) (func(), error) { return func() {}, nil }

// RedisLocker holds leases as SET NX keys with a random token.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(client redis.Cmdable, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

// NewLocker returns a RedisLocker when cfg.Addr is set, otherwise NopLocker.
func NewLocker(cfg config.RedisConfig) (Locker, func() error) {
	if cfg.Addr == "" {
		return NopLocker{}, func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisLocker(client, cfg.Prefix, time.Duration(cfg.LeaseTTL)*time.Second), client.Close
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, leadID string) (func(), error) {
	key := l.prefix + leadID
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "coordination: acquire lease for %s", leadID)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's ctx may already be done when the lead finishes.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			zap.L().Warn("coordination: release lease failed", zap.String("lead_id", leadID), zap.Error(err))
		}
	}, nil
}
