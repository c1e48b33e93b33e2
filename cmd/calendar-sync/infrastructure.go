// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/lease"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/queue"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/store"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/pkg/concurrent"
)

const natsClientName = "lfx-v2-calendar-sync-service"

// repositories are the NATS KV backed stores of the service.
type repositories struct {
	Series      *store.NatsSeriesRepository
	Connections *store.NatsConnectionRepository
	Credentials *store.NatsCredentialStore
}

// setupNATS connects to NATS. The wait group is released once the connection
// is closed; an unexpected close signals done so the process shuts down.
func setupNATS(ctx context.Context, cfg *Config, gracefulCloseWG *sync.WaitGroup, done chan os.Signal) (*nats.Conn, error) {
	gracefulCloseWG.Add(1)
	natsConn, err := nats.Connect(
		cfg.NATS.URL,
		nats.Name(natsClientName),
		nats.Timeout(cfg.NATS.Timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.With(logging.ErrKey, err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.With("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			if s != nil {
				slog.With(logging.ErrKey, err, "subject", s.Subject, "queue", s.Queue).Error("async NATS error")
				return
			}
			slog.With(logging.ErrKey, err).Error("async NATS error outside subscription")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if ctx.Err() == nil {
				slog.Error("NATS connection closed unexpectedly", logging.PriorityCritical())
				requestShutdown(done)
			}
			gracefulCloseWG.Done()
		}),
	)
	if err != nil {
		gracefulCloseWG.Done()
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
	}
	slog.With("url", natsConn.ConnectedUrl()).Info("connected to NATS")
	return natsConn, nil
}

// getKeyValueStores binds the repositories to their JetStream KV buckets,
// creating missing buckets.
func getKeyValueStores(ctx context.Context, natsConn *nats.Conn) (*repositories, error) {
	js, err := jetstream.New(natsConn)
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	names := []string{
		store.KVStoreNameSeries,
		store.KVStoreNameSeriesInstances,
		store.KVStoreNameCalendarConnections,
		store.KVStoreNameCalendarCredentials,
	}
	var mu sync.Mutex
	buckets := make(map[string]jetstream.KeyValue, len(names))
	tasks := make([]func() error, 0, len(names))
	for _, name := range names {
		tasks = append(tasks, func() error {
			kv, err := js.KeyValue(ctx, name)
			if errors.Is(err, jetstream.ErrBucketNotFound) {
				slog.With("bucket", name).Info("creating missing key-value bucket")
				kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: name})
			}
			if err != nil {
				return fmt.Errorf("opening key-value bucket %s: %w", name, err)
			}
			mu.Lock()
			buckets[name] = kv
			mu.Unlock()
			return nil
		})
	}
	if err := concurrent.NewWorkerPool(len(tasks)).Run(ctx, tasks...); err != nil {
		return nil, err
	}

	return &repositories{
		Series:      store.NewNatsSeriesRepository(buckets[store.KVStoreNameSeries], buckets[store.KVStoreNameSeriesInstances]),
		Connections: store.NewNatsConnectionRepository(buckets[store.KVStoreNameCalendarConnections]),
		Credentials: store.NewNatsCredentialStore(buckets[store.KVStoreNameCalendarCredentials]),
	}, nil
}

// setupRedis connects to Redis when an address is configured. A nil client
// means the process runs standalone.
func setupRedis(ctx context.Context, cfg *Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to Redis at %s: %w", cfg.Redis.Addr, err)
	}
	slog.With("addr", cfg.Redis.Addr).Info("connected to Redis")
	return client, nil
}

// newAccountLocker shares the account lease through Redis when available.
func newAccountLocker(cfg *Config, client *redis.Client) domain.AccountLocker {
	if client == nil {
		slog.Warn("no Redis configured, account leases are local to this process")
		return lease.NewLocalLocker()
	}
	return lease.NewRedisLocker(client, lease.RedisConfig{TTL: cfg.Redis.LeaseTTL})
}

// newNotificationQueue returns the asynq backed queue, or nil without Redis.
func newNotificationQueue(cfg *Config, client *redis.Client) (domain.NotificationQueue, *asynq.Client) {
	if client == nil {
		slog.Warn("no Redis configured, notifications are not delivered")
		return nil, nil
	}
	asynqClient := asynq.NewClientFromRedisClient(client)
	return queue.NewNotificationQueue(asynqClient, cfg.Notifications.Queue), asynqClient
}
