// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package lease provides the per-account leases that serialize reconciliation runs.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

const (
	// DefaultKeyPrefix namespaces lease keys in Redis.
	DefaultKeyPrefix = "calendar-sync:lease:"
	// DefaultTTL bounds how long a crashed holder keeps an account locked.
	DefaultTTL = 30 * time.Second
	// DefaultPollInterval is how often a waiting acquirer retries.
	DefaultPollInterval = 100 * time.Millisecond

	releaseTimeout = 2 * time.Second
)

// Only the holder that set the token may delete or extend the key.
const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
	renewScript   = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`
)

// RedisClient is the subset of redis.Cmdable the locker needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisConfig tunes a RedisLocker
type RedisConfig struct {
	KeyPrefix    string
	TTL          time.Duration
	PollInterval time.Duration
}

// RedisLocker is a domain.AccountLocker shared by every service replica. The
// lease is renewed while held so long runs keep it.
type RedisLocker struct {
	client RedisClient
	config RedisConfig
}

// Ensure [RedisLocker] implements [domain.AccountLocker]
var _ domain.AccountLocker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker
func NewRedisLocker(client RedisClient, config RedisConfig) *RedisLocker {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	return &RedisLocker{client: client, config: config}
}

// Acquire blocks until the account lease is obtained or ctx is done. The
// returned context is cancelled with domain.ErrLeaseLost when a renewal finds
// the key gone or owned by someone else.
func (l *RedisLocker) Acquire(ctx context.Context, accountID string) (context.Context, func(), error) {
	if accountID == "" {
		return nil, nil, domain.NewValidationError("account ID is required")
	}
	key := l.config.KeyPrefix + accountID
	token := uuid.NewString()

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.config.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			return nil, nil, domain.NewUnavailableError("failed to acquire account lease", err)
		}
		if ok {
			leaseCtx, release := l.hold(ctx, key, token)
			return leaseCtx, release, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("waiting for lease on account %s: %w", accountID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) hold(ctx context.Context, key, token string) (context.Context, func()) {
	leaseCtx, endLease := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.config.TTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				renewed, err := l.client.Eval(context.WithoutCancel(ctx), renewScript, []string{key}, token, l.config.TTL.Milliseconds()).Int64()
				if err != nil {
					slog.WarnContext(ctx, "failed to renew account lease", "key", key, logging.ErrKey, err)
					continue
				}
				if renewed == 0 {
					slog.ErrorContext(ctx, "account lease lost before release", "key", key, logging.PriorityCritical())
					endLease(domain.ErrLeaseLost)
					return
				}
			}
		}
	}()

	var once sync.Once
	return leaseCtx, func() {
		once.Do(func() {
			close(stop)
			<-done
			endLease(nil)

			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				slog.WarnContext(ctx, "failed to release account lease", "key", key, logging.ErrKey, err)
			}
		})
	}
}
