// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// MockNotificationQueue implements NotificationQueue for testing
type MockNotificationQueue struct {
	mock.Mock
}

func (m *MockNotificationQueue) Enqueue(ctx context.Context, notification models.Notification) error {
	args := m.Called(ctx, notification)
	return args.Error(0)
}

// RecordingReporter implements FailureReporter and keeps every reported error.
type RecordingReporter struct {
	mu     sync.Mutex
	errors []error
}

func (r *RecordingReporter) ReportFailure(_ context.Context, err error, _ ...slog.Attr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

// Errors returns a copy of the reported errors.
func (r *RecordingReporter) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// MockTriggerSubmitter implements TriggerSubmitter for testing
type MockTriggerSubmitter struct {
	mock.Mock
}

func (m *MockTriggerSubmitter) Submit(ctx context.Context, trigger models.SyncTrigger) error {
	args := m.Called(ctx, trigger)
	return args.Error(0)
}
