// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"
	"log/slog"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// Message represents a domain message interface
type Message interface {
	Subject() string
	Data() []byte
	Respond(data []byte) error
	HasReply() bool
}

// MessageHandler defines how the service handles incoming messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandlerReady() bool
}

// NotificationQueue accepts outbound notifications. Callers only enqueue and
// never wait for delivery.
type NotificationQueue interface {
	Enqueue(ctx context.Context, notification models.Notification) error
}

// FailureReporter is the failure telemetry sink. ReportFailure never blocks.
type FailureReporter interface {
	ReportFailure(ctx context.Context, err error, attrs ...slog.Attr)
}

// TriggerSubmitter queues a reconciliation run.
type TriggerSubmitter interface {
	Submit(ctx context.Context, trigger models.SyncTrigger) error
}
