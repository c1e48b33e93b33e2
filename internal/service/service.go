// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

// Service is implemented by every service the handlers depend on.
type Service interface {
	ServiceReady() bool
}

var (
	_ Service = (*SeriesService)(nil)
	_ Service = (*ConnectionService)(nil)
	_ Service = (*AvailabilityService)(nil)
	_ Service = (*SyncService)(nil)
)
