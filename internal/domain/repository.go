// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// SeriesRepository defines the interface for series and instance storage operations.
// This interface can be implemented by different storage backends (NATS, PostgreSQL, etc.)
type SeriesRepository interface {
	// Series master operations
	CreateSeries(ctx context.Context, series *models.SeriesMaster) error
	GetSeries(ctx context.Context, seriesUID string) (*models.SeriesMaster, error)
	GetSeriesWithRevision(ctx context.Context, seriesUID string) (*models.SeriesMaster, uint64, error)
	UpdateSeries(ctx context.Context, series *models.SeriesMaster, revision uint64) error
	ListSeriesByAccount(ctx context.Context, accountID string) ([]*models.SeriesMaster, error)

	// Instance operations
	GetInstance(ctx context.Context, instanceUID string) (*models.SlotInstance, uint64, error)
	PutInstance(ctx context.Context, instance *models.SlotInstance) error
	// ListInstances returns the instances of a series whose original start lies
	// in [from, to]. Zero bounds are open.
	ListInstances(ctx context.Context, seriesUID string, from, to time.Time) ([]*models.SlotInstance, error)
	FindInstanceByOccurrence(ctx context.Context, seriesUID string, originalStart time.Time) (*models.SlotInstance, error)
	FindInstanceByRemoteUID(ctx context.Context, remoteUID string) (*models.SlotInstance, error)
}

// ConnectionRepository stores calendar connections.
type ConnectionRepository interface {
	CreateConnection(ctx context.Context, conn *models.CalendarConnection) error
	GetConnection(ctx context.Context, connectionUID string) (*models.CalendarConnection, uint64, error)
	UpdateConnection(ctx context.Context, conn *models.CalendarConnection, revision uint64) error
	ListConnectionsByAccount(ctx context.Context, accountID string) ([]*models.CalendarConnection, error)
	FindConnectionByChannel(ctx context.Context, channelID string) (*models.CalendarConnection, error)
	ListAllConnections(ctx context.Context) ([]*models.CalendarConnection, error)
}

// CredentialStore resolves connection credentials. It is read-only here: token
// refreshes are written back by the external credential manager.
type CredentialStore interface {
	GetCredentials(ctx context.Context, credentialRef string) (*models.Credentials, error)
}
