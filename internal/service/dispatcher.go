// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

const (
	// DefaultDispatcherWorkers is the number of reconciliations run at once.
	DefaultDispatcherWorkers = 8
	// DefaultDispatcherQueueSize is the number of triggers held before Submit blocks.
	DefaultDispatcherQueueSize = 256
)

// Reconciler runs one reconciliation.
type Reconciler interface {
	Reconcile(ctx context.Context, trigger models.SyncTrigger) (*SyncReport, error)
}

// DispatcherConfig sizes the dispatcher.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

// Dispatcher is the worker pool behind every trigger source: one task per
// (account, trigger). Triggers wait in a queue per account and at most one
// worker serves an account at a time, so a burst for one account never holds
// back the others. Accounts with work are served round-robin.
type Dispatcher struct {
	workers int
	// slots bounds the number of queued triggers across all accounts.
	slots chan struct{}
	// ready carries accounts with queued work and no worker yet.
	ready chan string

	mu        sync.Mutex
	pending   map[string][]models.SyncTrigger
	scheduled map[string]bool

	stopped  chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	inFlight atomic.Int64
}

// Ensure [Dispatcher] implements [domain.TriggerSubmitter]
var _ domain.TriggerSubmitter = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. Triggers submitted before Run are kept.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = DefaultDispatcherWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultDispatcherQueueSize
	}
	return &Dispatcher{
		workers: config.Workers,
		slots:   make(chan struct{}, config.QueueSize),
		// a scheduled account either has a queued trigger or a busy worker
		ready:     make(chan string, config.QueueSize+config.Workers),
		pending:   make(map[string][]models.SyncTrigger),
		scheduled: make(map[string]bool),
		stopped:   make(chan struct{}),
	}
}

// Submit queues a trigger, waiting for room until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, trigger models.SyncTrigger) error {
	select {
	case <-d.stopped:
		return domain.NewUnavailableError("dispatcher is stopped")
	default:
	}

	select {
	case d.slots <- struct{}{}:
	case <-d.stopped:
		return domain.NewUnavailableError("dispatcher is stopped")
	case <-ctx.Done():
		return domain.NewUnavailableError("sync queue is full", ctx.Err())
	}

	d.mu.Lock()
	d.pending[trigger.AccountID] = append(d.pending[trigger.AccountID], trigger)
	schedule := !d.scheduled[trigger.AccountID]
	d.scheduled[trigger.AccountID] = true
	d.mu.Unlock()

	if schedule {
		d.ready <- trigger.AccountID
	}
	return nil
}

// Run starts the workers and blocks until ctx is done and every in-flight
// reconciliation has returned. Queued triggers left at shutdown are dropped;
// the next periodic pass covers them.
func (d *Dispatcher) Run(ctx context.Context, reconciler Reconciler) error {
	if !d.running.CompareAndSwap(false, true) {
		return domain.NewConflictError("dispatcher is already running")
	}

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx, reconciler)
		}()
	}
	slog.InfoContext(ctx, "sync dispatcher started", "workers", d.workers, "queue_size", cap(d.slots))

	<-ctx.Done()
	d.stopOnce.Do(func() { close(d.stopped) })
	wg.Wait()

	slog.InfoContext(ctx, "sync dispatcher stopped", "dropped", d.Pending())
	return nil
}

// Ready reports whether workers are consuming triggers.
func (d *Dispatcher) Ready() bool {
	if !d.running.Load() {
		return false
	}
	select {
	case <-d.stopped:
		return false
	default:
		return true
	}
}

// Pending returns the number of queued triggers.
func (d *Dispatcher) Pending() int {
	return len(d.slots)
}

// InFlight returns the number of reconciliations currently running.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

func (d *Dispatcher) work(ctx context.Context, reconciler Reconciler) {
	for {
		select {
		case <-ctx.Done():
			return
		case accountID := <-d.ready:
			if ctx.Err() != nil {
				return
			}
			trigger := d.next(accountID)
			d.inFlight.Add(1)
			d.handle(ctx, reconciler, trigger)
			d.inFlight.Add(-1)
			d.done(accountID)
		}
	}
}

// next pops the oldest trigger of an account and frees its queue slot.
func (d *Dispatcher) next(accountID string) models.SyncTrigger {
	d.mu.Lock()
	queue := d.pending[accountID]
	trigger := queue[0]
	if len(queue) == 1 {
		delete(d.pending, accountID)
	} else {
		d.pending[accountID] = queue[1:]
	}
	d.mu.Unlock()
	<-d.slots
	return trigger
}

// done hands the account back to the ready queue when it has more work.
func (d *Dispatcher) done(accountID string) {
	d.mu.Lock()
	more := len(d.pending[accountID]) > 0
	if !more {
		delete(d.scheduled, accountID)
	}
	d.mu.Unlock()

	if more {
		d.ready <- accountID
	}
}

func (d *Dispatcher) handle(ctx context.Context, reconciler Reconciler, trigger models.SyncTrigger) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "reconciliation panicked",
				"account_id", trigger.AccountID,
				"trigger", trigger.Kind,
				"panic", r,
				logging.PriorityCritical())
		}
	}()

	if _, err := reconciler.Reconcile(ctx, trigger); err != nil {
		// Reconcile logs its own failures; keep the dispatcher view short
		slog.DebugContext(ctx, "trigger finished with error",
			"account_id", trigger.AccountID,
			"trigger", trigger.Kind,
			logging.ErrKey, err)
	}
}
