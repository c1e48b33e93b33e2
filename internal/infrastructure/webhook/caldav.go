// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/pkg/constants"
)

// CalDAVNotification is the body a CalDAV push bridge posts. CalDAV has no
// native push, so a bridge polling sync-tokens (or a WebDAV-Push relay)
// forwards changes in this shape.
type CalDAVNotification struct {
	ChannelID  string `json:"channel_id"`
	AccountID  string `json:"account_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	ChangeKind string `json:"change_kind,omitempty"`
}

// CalDAVParser reads signed JSON notifications from a CalDAV push bridge.
type CalDAVParser struct {
	validator *SignatureValidator
	now       func() time.Time
}

// NewCalDAVParser creates a new CalDAVParser. A nil or unkeyed validator
// accepts unsigned notifications.
func NewCalDAVParser(validator *SignatureValidator) *CalDAVParser {
	return &CalDAVParser{validator: validator, now: time.Now}
}

// ParseNotification implements Parser.
func (p *CalDAVParser) ParseNotification(ctx context.Context, n Notification) (*models.SyncTrigger, error) {
	if p.validator.Enabled() {
		err := p.validator.ValidateSignature(n.Body,
			n.Header.Get(constants.WebhookSignatureHeader),
			n.Header.Get(constants.WebhookTimestampHeader))
		if err != nil {
			slog.WarnContext(ctx, "webhook signature validation failed", logging.ErrKey, err)
			return nil, domain.NewAuthError("unauthorized webhook", err)
		}
	}

	var body CalDAVNotification
	if err := json.Unmarshal(n.Body, &body); err != nil {
		return nil, domain.NewValidationError("invalid caldav notification body", err)
	}

	if body.ChannelID == "" && body.AccountID == "" {
		return nil, domain.NewValidationError("caldav notification needs channel_id or account_id")
	}

	return &models.SyncTrigger{
		AccountID:  body.AccountID,
		Kind:       models.TriggerWebhook,
		ChannelID:  body.ChannelID,
		ResourceID: body.ResourceID,
		ChangeKind: body.ChangeKind,
		ReceivedAt: p.now().UTC(),
	}, nil
}
