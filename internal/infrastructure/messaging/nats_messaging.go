// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

// INatsConn is a NATS connection interface needed for the [MessageBuilder].
type INatsConn interface {
	IsConnected() bool
	Publish(subj string, data []byte) error
}

// MessageBuilder is the builder for the message and sends it to the NATS server.
type MessageBuilder struct {
	NatsConn INatsConn
}

// Ensure [MessageBuilder] implements [domain.TriggerSubmitter]
var _ domain.TriggerSubmitter = (*MessageBuilder)(nil)

// NewMessageBuilder creates a new MessageBuilder.
func NewMessageBuilder(natsConn INatsConn) *MessageBuilder {
	return &MessageBuilder{
		NatsConn: natsConn,
	}
}

// sendMessage sends the message to the NATS server.
func (m *MessageBuilder) sendMessage(ctx context.Context, subject string, data []byte) error {
	if !m.NatsConn.IsConnected() {
		slog.WarnContext(ctx, "NATS connection is not established, message may be buffered", "subject", subject)
	}
	err := m.NatsConn.Publish(subject, data)
	if err != nil {
		slog.ErrorContext(ctx, "error sending message to NATS", logging.ErrKey, err, "subject", subject)
		return err
	}
	slog.DebugContext(ctx, "sent message to NATS", "subject", subject)
	return nil
}

// Submit publishes a trigger so whichever replica holds the subscription runs it.
func (m *MessageBuilder) Submit(ctx context.Context, trigger models.SyncTrigger) error {
	data, err := EncodeTrigger(trigger)
	if err != nil {
		slog.ErrorContext(ctx, "error encoding sync trigger", logging.ErrKey, err)
		return err
	}

	subject := models.SyncTriggerSubject
	if trigger.Kind == models.TriggerWebhook {
		subject = models.WebhookTriggerSubject
	}
	return m.sendMessage(ctx, subject, data)
}

// EncodeTrigger is the wire encoding of a SyncTrigger.
func EncodeTrigger(trigger models.SyncTrigger) ([]byte, error) {
	data, err := msgpack.Marshal(&trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync trigger: %w", err)
	}
	return data, nil
}

// DecodeTrigger parses a trigger produced by EncodeTrigger.
func DecodeTrigger(data []byte) (models.SyncTrigger, error) {
	var trigger models.SyncTrigger
	if err := msgpack.Unmarshal(data, &trigger); err != nil {
		return trigger, domain.NewValidationError("invalid sync trigger payload", err)
	}
	// msgpack decodes timestamps in the local zone
	trigger.ReceivedAt = trigger.ReceivedAt.UTC()
	if trigger.WindowStart != nil {
		start := trigger.WindowStart.UTC()
		trigger.WindowStart = &start
	}
	if trigger.WindowEnd != nil {
		end := trigger.WindowEnd.UTC()
		trigger.WindowEnd = &end
	}
	return trigger, nil
}
