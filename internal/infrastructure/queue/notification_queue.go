// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package queue hands outbound notifications to the asynq task queue. Delivery
// is performed by a separate worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

const (
	// TaskTypeNotification is the asynq task type for notifications.
	TaskTypeNotification = "calendar:notification"
	// DefaultQueueName is the asynq queue notifications are placed on.
	DefaultQueueName = "notifications"
	// DefaultMaxRetry is how often the delivery worker retries a task.
	DefaultMaxRetry = 5
)

// Enqueuer is the part of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NotificationQueue implements domain.NotificationQueue on asynq.
type NotificationQueue struct {
	client    Enqueuer
	queueName string
	maxRetry  int
	now       func() time.Time
}

// Ensure [NotificationQueue] implements [domain.NotificationQueue]
var _ domain.NotificationQueue = (*NotificationQueue)(nil)

// NewNotificationQueue creates a NotificationQueue. An empty queue name uses DefaultQueueName.
func NewNotificationQueue(client Enqueuer, queueName string) *NotificationQueue {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &NotificationQueue{client: client, queueName: queueName, maxRetry: DefaultMaxRetry, now: time.Now}
}

// Enqueue places the notification on the queue and returns without waiting
// for delivery.
func (q *NotificationQueue) Enqueue(ctx context.Context, notification models.Notification) error {
	if notification.Kind == "" || notification.AccountID == "" {
		return domain.NewValidationError("notification kind and account ID are required")
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = q.now().UTC()
	}

	task, err := NewNotificationTask(notification)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, task, asynq.Queue(q.queueName), asynq.MaxRetry(q.maxRetry))
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return domain.NewUnavailableError("failed to enqueue notification", err)
	}

	slog.DebugContext(ctx, "notification enqueued",
		"task_id", info.ID,
		"queue", info.Queue,
		"kind", notification.Kind,
		"account_id", notification.AccountID,
		"series_uid", notification.SeriesUID)
	return nil
}

// NewNotificationTask encodes a notification as an asynq task.
func NewNotificationTask(notification models.Notification) (*asynq.Task, error) {
	payload, err := json.Marshal(notification)
	if err != nil {
		return nil, domain.NewInternalError("failed to encode notification", err)
	}
	return asynq.NewTask(TaskTypeNotification, payload), nil
}

// ParseNotificationTask decodes a task produced by NewNotificationTask.
func ParseNotificationTask(task *asynq.Task) (models.Notification, error) {
	var notification models.Notification
	if task.Type() != TaskTypeNotification {
		return notification, fmt.Errorf("unexpected task type %q", task.Type())
	}
	if err := json.Unmarshal(task.Payload(), &notification); err != nil {
		return notification, fmt.Errorf("failed to decode notification: %w", err)
	}
	return notification, nil
}
