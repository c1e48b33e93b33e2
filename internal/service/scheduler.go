// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/pkg/concurrent"
)

// Default schedules, in robfig/cron syntax.
const (
	DefaultPeriodicSyncSpec = "@every 15m"
	DefaultCompletionSpec   = "@hourly"

	// DefaultCompletionFanOut is the number of series completed at once.
	DefaultCompletionFanOut = 4
)

// SchedulerConfig holds the cron specs of the periodic passes.
type SchedulerConfig struct {
	SyncSpec         string
	CompletionSpec   string
	CompletionFanOut int
}

// Scheduler runs the periodic passes: a reconciliation trigger per account
// with active connections, and the completion of ended instances.
type Scheduler struct {
	connections domain.ConnectionRepository
	series      *SeriesService
	triggers    domain.TriggerSubmitter
	config      SchedulerConfig
	pool        *concurrent.WorkerPool
	now         func() time.Time
}

// NewScheduler creates a new Scheduler.
func NewScheduler(connections domain.ConnectionRepository, series *SeriesService, triggers domain.TriggerSubmitter, config SchedulerConfig) *Scheduler {
	if config.SyncSpec == "" {
		config.SyncSpec = DefaultPeriodicSyncSpec
	}
	if config.CompletionSpec == "" {
		config.CompletionSpec = DefaultCompletionSpec
	}
	if config.CompletionFanOut <= 0 {
		config.CompletionFanOut = DefaultCompletionFanOut
	}
	return &Scheduler{
		connections: connections,
		series:      series,
		triggers:    triggers,
		config:      config,
		pool:        concurrent.NewWorkerPool(config.CompletionFanOut),
		now:         time.Now,
	}
}

// Run schedules the passes and blocks until ctx is done. Running passes are
// waited for before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(s.config.SyncSpec, func() {
		if _, err := s.SyncPass(ctx); err != nil {
			slog.ErrorContext(ctx, "periodic sync pass failed", logging.ErrKey, err)
		}
	}); err != nil {
		return fmt.Errorf("invalid periodic sync schedule %q: %w", s.config.SyncSpec, err)
	}
	if _, err := c.AddFunc(s.config.CompletionSpec, func() {
		if _, err := s.CompletionPass(ctx); err != nil {
			slog.ErrorContext(ctx, "completion pass failed", logging.ErrKey, err)
		}
	}); err != nil {
		return fmt.Errorf("invalid completion schedule %q: %w", s.config.CompletionSpec, err)
	}

	c.Start()
	slog.InfoContext(ctx, "scheduler started",
		"sync_spec", s.config.SyncSpec,
		"completion_spec", s.config.CompletionSpec)

	<-ctx.Done()
	<-c.Stop().Done()
	slog.InfoContext(ctx, "scheduler stopped")
	return nil
}

// SyncPass submits one periodic trigger per account that has a connection
// with sync enabled. It returns the number of triggers submitted.
func (s *Scheduler) SyncPass(ctx context.Context) (int, error) {
	accounts, err := s.accounts(ctx, true)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	submitted := 0
	for _, accountID := range accounts {
		err := s.triggers.Submit(ctx, models.SyncTrigger{
			AccountID:  accountID,
			Kind:       models.TriggerPeriodic,
			ReceivedAt: now,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to submit periodic sync", "account_id", accountID, logging.ErrKey, err)
			if ctx.Err() != nil {
				return submitted, ctx.Err()
			}
			continue
		}
		submitted++
	}

	slog.DebugContext(ctx, "periodic sync pass submitted", "accounts", submitted)
	return submitted, nil
}

// CompletionPass marks confirmed instances that have ended as completed. It
// returns the number of instances completed.
func (s *Scheduler) CompletionPass(ctx context.Context) (int, error) {
	accounts, err := s.accounts(ctx, false)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	var tasks []func() error
	var total atomic.Int64
	for _, accountID := range accounts {
		masters, err := s.series.repo.ListSeriesByAccount(ctx, accountID)
		if err != nil {
			return 0, err
		}
		for _, master := range masters {
			seriesUID := master.UID
			tasks = append(tasks, func() error {
				n, err := s.series.CompleteInstances(ctx, seriesUID, now)
				total.Add(int64(n))
				if err != nil {
					return fmt.Errorf("series %s: %w", seriesUID, err)
				}
				return nil
			})
		}
	}

	if errs := s.pool.RunAll(ctx, tasks...); len(errs) > 0 {
		slog.WarnContext(ctx, "failed to complete instances of some series",
			"errors_count", len(errs),
			"errors", errs)
	}

	completed := int(total.Load())
	if completed > 0 {
		slog.InfoContext(ctx, "instances completed", "count", completed)
	}
	return completed, nil
}

// accounts returns the distinct accounts owning connections, sorted.
func (s *Scheduler) accounts(ctx context.Context, syncEnabledOnly bool) ([]string, error) {
	conns, err := s.connections.ListAllConnections(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var accounts []string
	for _, conn := range conns {
		if syncEnabledOnly && len(conn.SyncCalendars()) == 0 {
			continue
		}
		if seen[conn.AccountID] {
			continue
		}
		seen[conn.AccountID] = true
		accounts = append(accounts, conn.AccountID)
	}
	sort.Strings(accounts)
	return accounts, nil
}
