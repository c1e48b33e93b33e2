// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/lease"
)

// leasedReconciler takes the account lease like SyncService does and tracks
// how many runs overlap.
type leasedReconciler struct {
	locker *lease.LocalLocker
	hold   time.Duration
	done   sync.WaitGroup

	mu         sync.Mutex
	active     map[string]int
	maxAccount int
	total      int
	maxTotal   int
	seen       []models.SyncTrigger
}

func (r *leasedReconciler) Reconcile(ctx context.Context, trigger models.SyncTrigger) (*SyncReport, error) {
	defer r.done.Done()
	_, release, err := r.locker.Acquire(ctx, trigger.AccountID)
	if err != nil {
		return nil, err
	}
	defer release()

	r.mu.Lock()
	r.seen = append(r.seen, trigger)
	r.active[trigger.AccountID]++
	r.total++
	r.maxAccount = max(r.maxAccount, r.active[trigger.AccountID])
	r.maxTotal = max(r.maxTotal, r.total)
	r.mu.Unlock()

	time.Sleep(r.hold)

	r.mu.Lock()
	r.active[trigger.AccountID]--
	r.total--
	r.mu.Unlock()
	return &SyncReport{AccountID: trigger.AccountID}, nil
}

func TestDispatcher_SerializesPerAccount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &leasedReconciler{locker: lease.NewLocalLocker(), hold: 20 * time.Millisecond, active: make(map[string]int)}
	d := NewDispatcher(DispatcherConfig{Workers: 4, QueueSize: 16})

	for i := 0; i < 4; i++ {
		for _, account := range []string{"acct-a", "acct-b"} {
			r.done.Add(1)
			require.NoError(t, d.Submit(ctx, models.SyncTrigger{AccountID: account, Kind: models.TriggerPeriodic}))
		}
	}
	assert.Equal(t, 8, d.Pending())

	stopped := make(chan struct{})
	go func() {
		_ = d.Run(ctx, r)
		close(stopped)
	}()
	r.done.Wait()

	r.mu.Lock()
	assert.Len(t, r.seen, 8, "no trigger is dropped")
	assert.Equal(t, 1, r.maxAccount, "runs for one account never overlap")
	assert.GreaterOrEqual(t, r.maxTotal, 2, "different accounts run in parallel")
	r.mu.Unlock()

	cancel()
	<-stopped
	assert.False(t, d.Ready())
}

func TestDispatcher_BurstDoesNotStarveOtherAccounts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &leasedReconciler{locker: lease.NewLocalLocker(), hold: 50 * time.Millisecond, active: make(map[string]int)}
	d := NewDispatcher(DispatcherConfig{Workers: 2, QueueSize: 8})

	for _, account := range []string{"acct-a", "acct-a", "acct-a", "acct-b"} {
		r.done.Add(1)
		require.NoError(t, d.Submit(ctx, models.SyncTrigger{AccountID: account}))
	}

	stopped := make(chan struct{})
	go func() {
		_ = d.Run(ctx, r)
		close(stopped)
	}()
	r.done.Wait()

	r.mu.Lock()
	require.Len(t, r.seen, 4)
	var firstTwo []string
	for _, tr := range r.seen[:2] {
		firstTwo = append(firstTwo, tr.AccountID)
	}
	assert.ElementsMatch(t, []string{"acct-a", "acct-b"}, firstTwo, "the second account starts alongside the first")
	assert.Equal(t, 1, r.maxAccount)
	r.mu.Unlock()

	cancel()
	<-stopped
	assert.Zero(t, d.Pending())
}

func TestDispatcher_Submit(t *testing.T) {
	t.Run("full queue gives up with the context", func(t *testing.T) {
		d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1})
		require.NoError(t, d.Submit(context.Background(), models.SyncTrigger{AccountID: "acct-1"}))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := d.Submit(ctx, models.SyncTrigger{AccountID: "acct-1"})

		assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("stopped dispatcher rejects triggers", func(t *testing.T) {
		d := NewDispatcher(DispatcherConfig{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, d.Run(ctx, &leasedReconciler{}))

		err := d.Submit(context.Background(), models.SyncTrigger{AccountID: "acct-1"})

		assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
	})

	t.Run("second run is refused", func(t *testing.T) {
		d := NewDispatcher(DispatcherConfig{Workers: 1})
		ctx, cancel := context.WithCancel(context.Background())
		go func() { _ = d.Run(ctx, &leasedReconciler{}) }()
		require.Eventually(t, d.Ready, time.Second, 5*time.Millisecond)

		err := d.Run(ctx, &leasedReconciler{})

		assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
		cancel()
	})
}
