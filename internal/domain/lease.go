// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import "context"

// AccountLocker hands out the per-account lease that serializes reconciliation.
// Acquire blocks until the lease is free or ctx is done. The returned context
// is derived from ctx and is cancelled with ErrLeaseLost as its cause if the
// lease is lost, and plainly on release. Work done under the lease must use it.
type AccountLocker interface {
	Acquire(ctx context.Context, accountID string) (leaseCtx context.Context, release func(), err error)
}
