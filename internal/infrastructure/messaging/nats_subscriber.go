// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

// NatsMessage adapts a *nats.Msg to [domain.Message].
type NatsMessage struct {
	msg *nats.Msg
}

// Ensure [NatsMessage] implements [domain.Message]
var _ domain.Message = (*NatsMessage)(nil)

// NewNatsMessage wraps msg.
func NewNatsMessage(msg *nats.Msg) *NatsMessage {
	return &NatsMessage{msg: msg}
}

func (m *NatsMessage) Subject() string { return m.msg.Subject }

func (m *NatsMessage) Data() []byte { return m.msg.Data }

func (m *NatsMessage) HasReply() bool { return m.msg.Reply != "" }

func (m *NatsMessage) Respond(data []byte) error { return m.msg.Respond(data) }

// ISubscriber is the part of *nats.Conn used to register subscriptions.
type ISubscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Subscribe registers handler on every subject within the queue group. The
// returned subscriptions are drained by the caller on shutdown.
func Subscribe(ctx context.Context, conn ISubscriber, queue string, handler domain.MessageHandler, subjects ...string) ([]*nats.Subscription, error) {
	subs := make([]*nats.Subscription, 0, len(subjects))
	for _, subject := range subjects {
		sub, err := conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
			if !handler.HandlerReady() {
				slog.WarnContext(ctx, "handler not ready, dropping message", "subject", msg.Subject)
				return
			}
			handler.HandleMessage(ctx, NewNatsMessage(msg))
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		slog.InfoContext(ctx, "subscribed to NATS subject", "subject", subject, "queue", queue)
		subs = append(subs, sub)
	}
	return subs, nil
}

// Drain drains every subscription, logging failures.
func Drain(ctx context.Context, subs []*nats.Subscription) {
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			slog.WarnContext(ctx, "error draining NATS subscription", "subject", sub.Subject, logging.ErrKey, err)
		}
	}
}
