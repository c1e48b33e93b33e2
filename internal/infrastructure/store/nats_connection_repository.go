// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// NatsConnectionRepository is the NATS KV store repository for calendar connections.
type NatsConnectionRepository struct {
	*NatsBaseRepository[models.CalendarConnection]
	keyBuilder *KeyBuilder
}

// Ensure [NatsConnectionRepository] implements [domain.ConnectionRepository]
var _ domain.ConnectionRepository = (*NatsConnectionRepository)(nil)

// NewNatsConnectionRepository creates a new NATS KV store repository for connections.
func NewNatsConnectionRepository(kvStore INatsKeyValue) *NatsConnectionRepository {
	return &NatsConnectionRepository{
		NatsBaseRepository: NewNatsBaseRepository[models.CalendarConnection](kvStore, "calendar connection"),
		keyBuilder:         NewKeyBuilder(""),
	}
}

// CreateConnection stores a new connection
func (r *NatsConnectionRepository) CreateConnection(ctx context.Context, conn *models.CalendarConnection) error {
	if conn.UID == "" {
		conn.UID = uuid.New().String()
	}
	now := time.Now().UTC()
	conn.CreatedAt = &now
	conn.UpdatedAt = &now

	key := r.keyBuilder.EntityKeyEncoded(KeyPrefixConnection, conn.UID)
	return r.Create(ctx, key, conn)
}

// GetConnection retrieves a connection and its revision
func (r *NatsConnectionRepository) GetConnection(ctx context.Context, connectionUID string) (*models.CalendarConnection, uint64, error) {
	key := r.keyBuilder.EntityKeyEncoded(KeyPrefixConnection, connectionUID)
	return r.GetWithRevision(ctx, key)
}

// UpdateConnection replaces a connection if revision is still current
func (r *NatsConnectionRepository) UpdateConnection(ctx context.Context, conn *models.CalendarConnection, revision uint64) error {
	now := time.Now().UTC()
	conn.UpdatedAt = &now

	key := r.keyBuilder.EntityKeyEncoded(KeyPrefixConnection, conn.UID)
	return r.Update(ctx, key, conn, revision)
}

// ListAllConnections returns every stored connection
func (r *NatsConnectionRepository) ListAllConnections(ctx context.Context) ([]*models.CalendarConnection, error) {
	return r.ListEntitiesEncoded(ctx, r.keyBuilder.DecodedPrefix(KeyPrefixConnection), r.keyBuilder)
}

// ListConnectionsByAccount returns the connections linked to an account
func (r *NatsConnectionRepository) ListConnectionsByAccount(ctx context.Context, accountID string) ([]*models.CalendarConnection, error) {
	all, err := r.ListAllConnections(ctx)
	if err != nil {
		return nil, err
	}

	var matching []*models.CalendarConnection
	for _, conn := range all {
		if conn.AccountID == accountID {
			matching = append(matching, conn)
		}
	}
	return matching, nil
}

// FindConnectionByChannel resolves the connection a webhook channel was registered for
func (r *NatsConnectionRepository) FindConnectionByChannel(ctx context.Context, channelID string) (*models.CalendarConnection, error) {
	if channelID == "" {
		return nil, domain.NewValidationError("channel id is required")
	}

	all, err := r.ListAllConnections(ctx)
	if err != nil {
		return nil, err
	}
	for _, conn := range all {
		if conn.WebhookChannelID == channelID {
			return conn, nil
		}
	}
	return nil, domain.NewNotFoundError(fmt.Sprintf("connection for channel '%s' not found", channelID))
}

// NatsCredentialStore reads credentials written by the credential manager.
type NatsCredentialStore struct {
	*NatsBaseRepository[models.Credentials]
	keyBuilder *KeyBuilder
}

// Ensure [NatsCredentialStore] implements [domain.CredentialStore]
var _ domain.CredentialStore = (*NatsCredentialStore)(nil)

// NewNatsCredentialStore creates a credential store over a NATS KV bucket.
func NewNatsCredentialStore(kvStore INatsKeyValue) *NatsCredentialStore {
	return &NatsCredentialStore{
		NatsBaseRepository: NewNatsBaseRepository[models.Credentials](kvStore, "credentials"),
		keyBuilder:         NewKeyBuilder(""),
	}
}

// GetCredentials resolves a credential reference
func (s *NatsCredentialStore) GetCredentials(ctx context.Context, credentialRef string) (*models.Credentials, error) {
	if credentialRef == "" {
		return nil, domain.NewValidationError("credential reference is required")
	}
	key := s.keyBuilder.EntityKeyEncoded(KeyPrefixCredential, credentialRef)
	return s.Get(ctx, key)
}
