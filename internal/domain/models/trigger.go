// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import "time"

// NATS subjects the calendar sync service listens on.
const (
	// SyncTriggerSubject carries explicit reconciliation requests.
	// The subject is of the form: lfx.calendar-sync.trigger
	SyncTriggerSubject = "lfx.calendar-sync.trigger"

	// WebhookTriggerSubject carries provider change notifications forwarded by an edge bridge.
	// The subject is of the form: lfx.calendar-sync.webhook
	WebhookTriggerSubject = "lfx.calendar-sync.webhook"

	// CalendarSyncQueue is the queue group shared by service replicas.
	CalendarSyncQueue = "lfx.calendar-sync.queue"
)

// TriggerKind says what caused a reconciliation run.
type TriggerKind string

// Trigger kinds.
const (
	TriggerLocalEdit TriggerKind = "local_edit"
	TriggerWebhook   TriggerKind = "webhook"
	TriggerPeriodic  TriggerKind = "periodic"
)

// SyncTrigger is one unit of work for the dispatcher.
type SyncTrigger struct {
	AccountID   string      `json:"account_id" msgpack:"account_id"`
	SeriesUID   string      `json:"series_uid,omitempty" msgpack:"series_uid,omitempty"`
	Kind        TriggerKind `json:"kind" msgpack:"kind"`
	ChannelID   string      `json:"channel_id,omitempty" msgpack:"channel_id,omitempty"`
	ResourceID  string      `json:"resource_id,omitempty" msgpack:"resource_id,omitempty"`
	ChangeKind  string      `json:"change_kind,omitempty" msgpack:"change_kind,omitempty"`
	WindowStart *time.Time  `json:"window_start,omitempty" msgpack:"window_start,omitempty"`
	WindowEnd   *time.Time  `json:"window_end,omitempty" msgpack:"window_end,omitempty"`
	ReceivedAt  time.Time   `json:"received_at" msgpack:"received_at"`
}

// NotificationKind names an outbound notification.
type NotificationKind string

// Notification kinds.
const (
	NotificationSeriesCreated     NotificationKind = "series_created"
	NotificationSeriesUpdated     NotificationKind = "series_updated"
	NotificationInstanceCancelled NotificationKind = "instance_cancelled"
	NotificationSyncFailed        NotificationKind = "sync_failed"
)

// Notification is handed to the notification queue. Delivery happens elsewhere.
type Notification struct {
	Kind          NotificationKind `json:"kind"`
	AccountID     string           `json:"account_id"`
	SeriesUID     string           `json:"series_uid,omitempty"`
	InstanceUID   string           `json:"instance_uid,omitempty"`
	ConnectionUID string           `json:"connection_uid,omitempty"`
	Recipients    []string         `json:"recipients,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
