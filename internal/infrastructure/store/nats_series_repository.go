// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

// NatsSeriesRepository is the NATS KV store repository for series masters and
// their instances. Masters and instances live in separate buckets; the
// instance bucket also carries the series and remote-UID indices.
type NatsSeriesRepository struct {
	series     *NatsBaseRepository[models.SeriesMaster]
	instances  *NatsBaseRepository[models.SlotInstance]
	keyBuilder *KeyBuilder
}

// Ensure [NatsSeriesRepository] implements [domain.SeriesRepository]
var _ domain.SeriesRepository = (*NatsSeriesRepository)(nil)

// NewNatsSeriesRepository creates a new NATS KV store repository for series.
func NewNatsSeriesRepository(seriesKV, instancesKV INatsKeyValue) *NatsSeriesRepository {
	return &NatsSeriesRepository{
		series:     NewNatsBaseRepository[models.SeriesMaster](seriesKV, "series"),
		instances:  NewNatsBaseRepository[models.SlotInstance](instancesKV, "series instance"),
		keyBuilder: NewKeyBuilder(""),
	}
}

// IsReady checks if both buckets are available
func (r *NatsSeriesRepository) IsReady(ctx context.Context) bool {
	return r.series.IsReady() && r.instances.IsReady()
}

// CreateSeries stores a new series master
func (r *NatsSeriesRepository) CreateSeries(ctx context.Context, series *models.SeriesMaster) error {
	if series.UID == "" {
		series.UID = uuid.New().String()
	}
	now := time.Now().UTC()
	if series.CreatedAt == nil {
		series.CreatedAt = &now
	}
	series.UpdatedAt = &now

	key := r.keyBuilder.EntityKeyEncoded(KeyPrefixSeries, series.UID)
	return r.series.Create(ctx, key, series)
}

// GetSeries retrieves a series master by UID
func (r *NatsSeriesRepository) GetSeries(ctx context.Context, seriesUID string) (*models.SeriesMaster, error) {
	key := r.keyBuilder.EntityKeyEncoded(KeyPrefixSeries, seriesUID)
	return r.series.Get(ctx, key)
}

// GetSeriesWithRevision retrieves a series master and its revision
func (r *NatsSeriesRepository) GetSeriesWithRevision(ctx context.Context, seriesUID string) (*models.SeriesMaster, uint64, error) {
	key := r.keyBuilder.EntityKeyEncoded(KeyPrefixSeries, seriesUID)
	return r.series.GetWithRevision(ctx, key)
}

// UpdateSeries replaces a series master if revision is still current
func (r *NatsSeriesRepository) UpdateSeries(ctx context.Context, series *models.SeriesMaster, revision uint64) error {
	now := time.Now().UTC()
	series.UpdatedAt = &now

	key := r.keyBuilder.EntityKeyEncoded(KeyPrefixSeries, series.UID)
	return r.series.Update(ctx, key, series, revision)
}

// ListSeriesByAccount returns every series owned by the account
func (r *NatsSeriesRepository) ListSeriesByAccount(ctx context.Context, accountID string) ([]*models.SeriesMaster, error) {
	all, err := r.series.ListEntitiesEncoded(ctx, r.keyBuilder.DecodedPrefix(KeyPrefixSeries), r.keyBuilder)
	if err != nil {
		return nil, err
	}

	var matching []*models.SeriesMaster
	for _, s := range all {
		if s.AccountID == accountID {
			matching = append(matching, s)
		}
	}
	slices.SortFunc(matching, func(a, b *models.SeriesMaster) int {
		return a.Rule.DTStart.Compare(b.Rule.DTStart)
	})
	return matching, nil
}

// GetInstance retrieves an instance by UID
func (r *NatsSeriesRepository) GetInstance(ctx context.Context, instanceUID string) (*models.SlotInstance, uint64, error) {
	key := r.keyBuilder.EntityKeyEncoded(KeyPrefixInstance, instanceUID)
	return r.instances.GetWithRevision(ctx, key)
}

// PutInstance upserts an instance and refreshes its indices
func (r *NatsSeriesRepository) PutInstance(ctx context.Context, instance *models.SlotInstance) error {
	if instance.UID == "" {
		return domain.NewValidationError("instance UID is required")
	}
	now := time.Now().UTC()
	if instance.CreatedAt == nil {
		instance.CreatedAt = &now
	}
	instance.UpdatedAt = &now

	key := r.keyBuilder.EntityKeyEncoded(KeyPrefixInstance, instance.UID)
	if _, err := r.instances.Put(ctx, key, instance); err != nil {
		return err
	}

	if err := r.createIndices(ctx, instance); err != nil {
		// Lookups fall back to a scan when an index is missing
		slog.WarnContext(ctx, "failed to create indices", logging.ErrKey, err, "instance_uid", instance.UID)
	}
	return nil
}

// ListInstances returns the instances of a series whose original start lies
// in [from, to], ordered by original start. Zero bounds are open.
func (r *NatsSeriesRepository) ListInstances(ctx context.Context, seriesUID string, from, to time.Time) ([]*models.SlotInstance, error) {
	uids, err := r.indexedUIDs(ctx, KeyPrefixIndexSeries, seriesUID)
	if err != nil {
		return nil, err
	}

	instances := make([]*models.SlotInstance, 0, len(uids))
	for _, uid := range uids {
		instance, _, err := r.GetInstance(ctx, uid)
		if err != nil {
			if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
				continue
			}
			return nil, err
		}
		if instance.SeriesUID != seriesUID {
			continue
		}
		if !from.IsZero() && instance.OriginalStart.Before(from) {
			continue
		}
		if !to.IsZero() && instance.OriginalStart.After(to) {
			continue
		}
		instances = append(instances, instance)
	}

	slices.SortFunc(instances, func(a, b *models.SlotInstance) int {
		return a.OriginalStart.Compare(b.OriginalStart)
	})
	return instances, nil
}

// FindInstanceByOccurrence returns the instance of the series keyed by its
// original start. Instance ids are derived from the pair, so this is a
// single key read.
func (r *NatsSeriesRepository) FindInstanceByOccurrence(ctx context.Context, seriesUID string, originalStart time.Time) (*models.SlotInstance, error) {
	instance, _, err := r.GetInstance(ctx, models.InstanceUID(seriesUID, originalStart))
	if err != nil && domain.GetErrorType(err) != domain.ErrorTypeNotFound {
		return nil, err
	}
	if err == nil && instance.SeriesUID == seriesUID && instance.OriginalStart.Equal(originalStart) {
		return instance, nil
	}
	return nil, domain.NewNotFoundError(fmt.Sprintf("instance of series '%s' at %s not found",
		seriesUID, originalStart.UTC().Format(time.RFC3339)))
}

// FindInstanceByRemoteUID resolves the instance that owns a remote event UID
func (r *NatsSeriesRepository) FindInstanceByRemoteUID(ctx context.Context, remoteUID string) (*models.SlotInstance, error) {
	uids, err := r.indexedUIDs(ctx, KeyPrefixIndexRemoteUID, remoteUID)
	if err != nil {
		return nil, err
	}

	for _, uid := range uids {
		instance, _, err := r.GetInstance(ctx, uid)
		if err != nil {
			continue
		}
		for _, ref := range instance.RemoteRefs {
			if ref.RemoteUID == remoteUID {
				return instance, nil
			}
		}
	}
	return nil, domain.NewNotFoundError(fmt.Sprintf("instance with remote UID '%s' not found", remoteUID))
}

func (r *NatsSeriesRepository) indexedUIDs(ctx context.Context, indexType, indexValue string) ([]string, error) {
	prefix := r.keyBuilder.DecodedPrefix(KeyPrefixIndex, indexType, indexValue)
	keys, err := r.instances.ListDecodedKeys(ctx, prefix, r.keyBuilder)
	if err != nil {
		return nil, err
	}

	uids := make([]string, 0, len(keys))
	for _, decoded := range keys {
		uids = append(uids, lastSegment(decoded))
	}
	slices.Sort(uids)
	return uids, nil
}

func (r *NatsSeriesRepository) createIndices(ctx context.Context, instance *models.SlotInstance) error {
	if instance.SeriesUID != "" {
		key := r.keyBuilder.IndexKeyEncoded(KeyPrefixIndexSeries, instance.SeriesUID, instance.UID)
		if err := r.instances.PutIndex(ctx, key); err != nil {
			return err
		}
	}
	for _, ref := range instance.RemoteRefs {
		if ref.RemoteUID == "" {
			continue
		}
		key := r.keyBuilder.IndexKeyEncoded(KeyPrefixIndexRemoteUID, ref.RemoteUID, instance.UID)
		if err := r.instances.PutIndex(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
