// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package webhook

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/pkg/constants"
)

// GoogleParser reads Google Calendar push notifications. Google puts
// everything in headers and sends an empty body.
type GoogleParser struct {
	now func() time.Time
}

// NewGoogleParser creates a new GoogleParser.
func NewGoogleParser() *GoogleParser {
	return &GoogleParser{now: time.Now}
}

// ParseNotification implements Parser.
func (p *GoogleParser) ParseNotification(ctx context.Context, n Notification) (*models.SyncTrigger, error) {
	channelID := strings.TrimSpace(n.Header.Get(constants.GoogleChannelIDHeader))
	state := strings.TrimSpace(n.Header.Get(constants.GoogleResourceStateHeader))

	if channelID == "" {
		return nil, domain.NewValidationError("missing " + constants.GoogleChannelIDHeader + " header")
	}

	if state == constants.GoogleResourceStateSync {
		slog.DebugContext(ctx, "ignoring google channel handshake", "channel_id", channelID)
		return nil, nil
	}

	return &models.SyncTrigger{
		Kind:       models.TriggerWebhook,
		ChannelID:  channelID,
		ResourceID: strings.TrimSpace(n.Header.Get(constants.GoogleResourceIDHeader)),
		ChangeKind: state,
		ReceivedAt: p.now().UTC(),
	}, nil
}
