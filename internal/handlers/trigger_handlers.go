// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/messaging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

var acceptedResponse = []byte("accepted")

// TriggerHandler turns NATS trigger messages into dispatcher work.
type TriggerHandler struct {
	submitter domain.TriggerSubmitter
	ready     func() bool
	now       func() time.Time
}

// NewTriggerHandler creates a TriggerHandler. ready reports whether the
// submitter is accepting work; nil means always.
func NewTriggerHandler(submitter domain.TriggerSubmitter, ready func() bool) *TriggerHandler {
	return &TriggerHandler{
		submitter: submitter,
		ready:     ready,
		now:       time.Now,
	}
}

// Ensure [TriggerHandler] implements [domain.MessageHandler]
var _ domain.MessageHandler = (*TriggerHandler)(nil)

func (h *TriggerHandler) HandlerReady() bool {
	return h.submitter != nil && (h.ready == nil || h.ready())
}

// HandleMessage implements domain.MessageHandler interface
func (h *TriggerHandler) HandleMessage(ctx context.Context, msg domain.Message) {
	subject := msg.Subject()
	ctx = logging.AppendCtx(ctx, slog.String("subject", subject))
	slog.DebugContext(ctx, "handling NATS message")

	handlers := map[string]func(ctx context.Context, msg domain.Message) ([]byte, error){
		models.SyncTriggerSubject:    h.HandleSyncTrigger,
		models.WebhookTriggerSubject: h.HandleWebhookTrigger,
	}

	handler, ok := handlers[subject]
	if !ok {
		slog.WarnContext(ctx, "unknown subject")
		respond(ctx, msg, nil)
		return
	}

	response, err := handler(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "error handling message", logging.ErrKey, err)
		respond(ctx, msg, nil)
		return
	}

	if msg.HasReply() {
		respond(ctx, msg, response)
		slog.DebugContext(ctx, "responded to NATS message", "response", string(response))
	} else {
		slog.DebugContext(ctx, "handled NATS message (no reply expected)")
	}
}

// HandleSyncTrigger queues an explicit reconciliation request.
func (h *TriggerHandler) HandleSyncTrigger(ctx context.Context, msg domain.Message) ([]byte, error) {
	trigger, err := messaging.DecodeTrigger(msg.Data())
	if err != nil {
		return nil, err
	}

	switch trigger.Kind {
	case "":
		trigger.Kind = models.TriggerLocalEdit
	case models.TriggerLocalEdit, models.TriggerPeriodic:
	case models.TriggerWebhook:
		return h.submit(ctx, trigger)
	default:
		return nil, domain.NewValidationError("unknown trigger kind " + string(trigger.Kind))
	}

	if trigger.AccountID == "" {
		return nil, domain.NewValidationError("sync trigger has no account")
	}
	return h.submit(ctx, trigger)
}

// HandleWebhookTrigger queues a provider change notification forwarded by an
// edge bridge.
func (h *TriggerHandler) HandleWebhookTrigger(ctx context.Context, msg domain.Message) ([]byte, error) {
	trigger, err := messaging.DecodeTrigger(msg.Data())
	if err != nil {
		return nil, err
	}
	trigger.Kind = models.TriggerWebhook
	return h.submit(ctx, trigger)
}

func (h *TriggerHandler) submit(ctx context.Context, trigger models.SyncTrigger) ([]byte, error) {
	if trigger.Kind == models.TriggerWebhook && trigger.ChannelID == "" && trigger.ResourceID == "" && trigger.AccountID == "" {
		return nil, domain.NewValidationError("webhook trigger has no channel, resource or account")
	}
	if trigger.ReceivedAt.IsZero() {
		trigger.ReceivedAt = h.now().UTC()
	}

	ctx = logging.AppendCtx(ctx, slog.String("account_id", trigger.AccountID))
	ctx = logging.AppendCtx(ctx, slog.String("trigger", string(trigger.Kind)))

	if err := h.submitter.Submit(ctx, trigger); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "sync trigger queued")
	return acceptedResponse, nil
}

func respond(ctx context.Context, msg domain.Message, data []byte) {
	if !msg.HasReply() {
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.ErrorContext(ctx, "error responding to NATS message", logging.ErrKey, err)
	}
}
