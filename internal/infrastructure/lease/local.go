// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package lease

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
)

// LocalLocker is an in-process domain.AccountLocker. Waiters for the same
// account are served in arrival order.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	waiters []chan struct{}
}

// Ensure [LocalLocker] implements [domain.AccountLocker]
var _ domain.AccountLocker = (*LocalLocker)(nil)

// NewLocalLocker creates a LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*accountLock)}
}

// Acquire blocks until the account lease is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, accountID string) (context.Context, func(), error) {
	if accountID == "" {
		return nil, nil, domain.NewValidationError("account ID is required")
	}

	l.mu.Lock()
	lock, held := l.locks[accountID]
	if !held {
		l.locks[accountID] = &accountLock{}
		l.mu.Unlock()
		leaseCtx, release := l.releaseFunc(ctx, accountID)
		return leaseCtx, release, nil
	}
	turn := make(chan struct{})
	lock.waiters = append(lock.waiters, turn)
	l.mu.Unlock()

	select {
	case <-turn:
		leaseCtx, release := l.releaseFunc(ctx, accountID)
		return leaseCtx, release, nil
	case <-ctx.Done():
		l.mu.Lock()
		idx := slices.Index(lock.waiters, turn)
		if idx >= 0 {
			lock.waiters = slices.Delete(lock.waiters, idx, idx+1)
		}
		l.mu.Unlock()
		if idx < 0 {
			// Handed the lease while giving up; pass it on.
			l.release(accountID)
		}
		return nil, nil, fmt.Errorf("waiting for lease on account %s: %w", accountID, ctx.Err())
	}
}

// An in-process lease is never lost, so its context ends only on release.
func (l *LocalLocker) releaseFunc(ctx context.Context, accountID string) (context.Context, func()) {
	leaseCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	return leaseCtx, func() {
		once.Do(func() {
			cancel()
			l.release(accountID)
		})
	}
}

func (l *LocalLocker) release(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[accountID]
	if !ok {
		return
	}
	if len(lock.waiters) == 0 {
		delete(l.locks, accountID)
		return
	}
	next := lock.waiters[0]
	lock.waiters = lock.waiters[1:]
	close(next)
}

// Waiting returns the number of acquirers queued for the account.
func (l *LocalLocker) Waiting(accountID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lock, ok := l.locks[accountID]; ok {
		return len(lock.waiters)
	}
	return 0
}
