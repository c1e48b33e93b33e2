// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

// ConnectionService manages calendar connections and their calendar lists.
type ConnectionService struct {
	repo     domain.ConnectionRepository
	registry domain.ProviderRegistry
	queue    domain.NotificationQueue
	reporter domain.FailureReporter
	retry    provider.RetryConfig
	now      func() time.Time
}

// NewConnectionService creates a new ConnectionService.
func NewConnectionService(
	repo domain.ConnectionRepository,
	registry domain.ProviderRegistry,
	queue domain.NotificationQueue,
	reporter domain.FailureReporter,
	retry provider.RetryConfig,
) *ConnectionService {
	return &ConnectionService{
		repo:     repo,
		registry: registry,
		queue:    queue,
		reporter: reporter,
		retry:    retry,
		now:      time.Now,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *ConnectionService) ServiceReady() bool {
	return s.repo != nil && s.registry != nil
}

// CreateConnection stores a new connection and loads its calendars. The
// connection is kept even when the first refresh fails.
func (s *ConnectionService) CreateConnection(ctx context.Context, conn *models.CalendarConnection) (*models.CalendarConnection, error) {
	switch {
	case conn == nil:
		return nil, domain.NewValidationError("connection is required")
	case conn.AccountID == "":
		return nil, domain.NewValidationError("connection account is required")
	case conn.Provider != models.ProviderCalDAV && conn.Provider != models.ProviderGoogle:
		return nil, domain.NewValidationError(fmt.Sprintf("unsupported provider %q", conn.Provider))
	case conn.RemoteIdentifier == "":
		return nil, domain.NewValidationError("connection remote identifier is required")
	case conn.CredentialRef == "":
		return nil, domain.NewValidationError("connection credential reference is required")
	}

	now := s.now().UTC()
	fresh := *conn
	if fresh.UID == "" {
		fresh.UID = uuid.New().String()
	}
	fresh.Calendars = nil
	fresh.SyncDisabled = false
	fresh.SyncDisabledReason = ""
	fresh.CreatedAt = &now
	fresh.UpdatedAt = &now

	if err := s.repo.CreateConnection(ctx, &fresh); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "calendar connection created",
		"connection_uid", fresh.UID,
		"provider", fresh.Provider,
		"account_id", fresh.AccountID)

	refreshed, err := s.RefreshConnection(ctx, fresh.UID)
	if err != nil {
		return &fresh, err
	}
	return refreshed, nil
}

// GetConnection returns one connection.
func (s *ConnectionService) GetConnection(ctx context.Context, connectionUID string) (*models.CalendarConnection, error) {
	conn, _, err := s.repo.GetConnection(ctx, connectionUID)
	return conn, err
}

// ListConnections returns the connections of an account.
func (s *ConnectionService) ListConnections(ctx context.Context, accountID string) ([]*models.CalendarConnection, error) {
	return s.repo.ListConnectionsByAccount(ctx, accountID)
}

// RefreshConnection re-lists the remote calendars of a connection, keeping
// the choices made on calendars that still exist. A rejected credential
// disables sync on the connection.
func (s *ConnectionService) RefreshConnection(ctx context.Context, connectionUID string) (*models.CalendarConnection, error) {
	conn, _, err := s.repo.GetConnection(ctx, connectionUID)
	if err != nil {
		return nil, err
	}
	ctx = logging.AppendCtx(ctx, slog.String("connection_uid", conn.UID))

	p, err := s.registry.ProviderFor(ctx, conn)
	if err != nil {
		return nil, s.handleProviderError(ctx, conn, "refresh_connection", err)
	}

	calendars, err := provider.Do(ctx, s.retry, "refresh connection", func(ctx context.Context) ([]models.CalendarInfo, error) {
		return p.RefreshConnection(ctx, conn)
	})
	if err != nil {
		return nil, s.handleProviderError(ctx, conn, "refresh_connection", err)
	}

	now := s.now().UTC()
	updated, _, err := s.mutateConnection(ctx, connectionUID, func(c *models.CalendarConnection) (bool, error) {
		c.Calendars = calendars
		c.UpdatedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "calendar connection refreshed", "calendars", len(calendars))
	return updated, nil
}

// SetCalendarPreferences records whether a calendar counts toward
// availability and whether meetings are synced into it.
func (s *ConnectionService) SetCalendarPreferences(ctx context.Context, connectionUID, calendarID string, enabled, sync bool) (*models.CalendarConnection, error) {
	now := s.now().UTC()
	updated, _, err := s.mutateConnection(ctx, connectionUID, func(c *models.CalendarConnection) (bool, error) {
		for i := range c.Calendars {
			cal := &c.Calendars[i]
			if cal.ID != calendarID {
				continue
			}
			if sync && cal.ReadOnly {
				return false, domain.NewValidationError(fmt.Sprintf("calendar %s is read-only", calendarID))
			}
			if cal.Enabled == enabled && cal.Sync == sync {
				return false, nil
			}
			cal.Enabled = enabled
			cal.Sync = sync
			c.UpdatedAt = &now
			return true, nil
		}
		return false, domain.NewNotFoundError(fmt.Sprintf("calendar %s not found on connection %s", calendarID, connectionUID))
	})
	return updated, err
}

// DisableSync stops synchronization on a connection after cause, releases its
// client and tells the account owner.
func (s *ConnectionService) DisableSync(ctx context.Context, connectionUID string, cause error) error {
	reason := "sync disabled"
	if cause != nil {
		reason = cause.Error()
	}

	now := s.now().UTC()
	conn, changed, err := s.mutateConnection(ctx, connectionUID, func(c *models.CalendarConnection) (bool, error) {
		if c.SyncDisabled && c.SyncDisabledReason == reason {
			return false, nil
		}
		c.SyncDisabled = true
		c.SyncDisabledReason = reason
		c.UpdatedAt = &now
		return true, nil
	})
	if err != nil {
		return err
	}

	if err := s.registry.Release(connectionUID); err != nil {
		slog.WarnContext(ctx, "failed to release provider client", "connection_uid", connectionUID, logging.ErrKey, err)
	}
	if !changed {
		return nil
	}

	slog.WarnContext(ctx, "calendar sync disabled",
		"connection_uid", connectionUID,
		"reason", reason)

	if s.queue != nil {
		err := s.queue.Enqueue(ctx, models.Notification{
			Kind:          models.NotificationSyncFailed,
			AccountID:     conn.AccountID,
			ConnectionUID: conn.UID,
			Reason:        reason,
			CreatedAt:     now,
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to enqueue sync failure notification", "connection_uid", connectionUID, logging.ErrKey, err)
		}
	}
	return nil
}

// EnableSync turns synchronization back on, typically after re-authorization.
func (s *ConnectionService) EnableSync(ctx context.Context, connectionUID string) (*models.CalendarConnection, error) {
	now := s.now().UTC()
	conn, _, err := s.mutateConnection(ctx, connectionUID, func(c *models.CalendarConnection) (bool, error) {
		if !c.SyncDisabled {
			return false, nil
		}
		c.SyncDisabled = false
		c.SyncDisabledReason = ""
		c.UpdatedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	// credentials may have changed
	if err := s.registry.Release(connectionUID); err != nil {
		slog.WarnContext(ctx, "failed to release provider client", "connection_uid", connectionUID, logging.ErrKey, err)
	}
	return conn, nil
}

// Disconnect stops using a connection and closes its client.
func (s *ConnectionService) Disconnect(ctx context.Context, connectionUID string) error {
	now := s.now().UTC()
	_, _, err := s.mutateConnection(ctx, connectionUID, func(c *models.CalendarConnection) (bool, error) {
		c.SyncDisabled = true
		c.SyncDisabledReason = "disconnected"
		c.Calendars = nil
		c.WebhookChannelID = ""
		c.UpdatedAt = &now
		return true, nil
	})
	if err != nil {
		return err
	}
	return s.registry.Release(connectionUID)
}

// MarkSynced records a completed reconciliation on the connection.
func (s *ConnectionService) MarkSynced(ctx context.Context, connectionUID string, at time.Time) error {
	_, _, err := s.mutateConnection(ctx, connectionUID, func(c *models.CalendarConnection) (bool, error) {
		at := at.UTC()
		c.LastSyncedAt = &at
		return true, nil
	})
	return err
}

// handleProviderError reports err and disables sync when the credential was rejected.
func (s *ConnectionService) handleProviderError(ctx context.Context, conn *models.CalendarConnection, operation string, err error) error {
	if s.reporter != nil {
		s.reporter.ReportFailure(ctx, err,
			slog.String("connection_uid", conn.UID),
			slog.String("operation", operation))
	}
	if errors.Is(err, domain.ErrAuthenticationFailed) {
		if disableErr := s.DisableSync(ctx, conn.UID, err); disableErr != nil {
			slog.ErrorContext(ctx, "failed to disable sync after authentication failure",
				"connection_uid", conn.UID, logging.ErrKey, disableErr)
		}
	}
	return err
}

func (s *ConnectionService) mutateConnection(ctx context.Context, connectionUID string, fn func(*models.CalendarConnection) (bool, error)) (*models.CalendarConnection, bool, error) {
	return updateWithRetry(ctx, "connection "+connectionUID,
		func(ctx context.Context) (*models.CalendarConnection, uint64, error) {
			return s.repo.GetConnection(ctx, connectionUID)
		},
		s.repo.UpdateConnection,
		fn)
}
