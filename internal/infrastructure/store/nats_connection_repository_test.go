// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

func TestNatsConnectionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewNatsConnectionRepository(newMockNatsKeyValue())

	conns := []*models.CalendarConnection{
		{AccountID: "acct-1", Provider: models.ProviderCalDAV, RemoteIdentifier: "https://dav.example.com", WebhookChannelID: "chan-1"},
		{AccountID: "acct-1", Provider: models.ProviderGoogle, RemoteIdentifier: "ana@example.com"},
		{AccountID: "acct-2", Provider: models.ProviderGoogle, RemoteIdentifier: "bo@example.com"},
	}
	for _, c := range conns {
		require.NoError(t, repo.CreateConnection(ctx, c))
		require.NotEmpty(t, c.UID)
	}

	t.Run("list by account", func(t *testing.T) {
		list, err := repo.ListConnectionsByAccount(ctx, "acct-1")
		require.NoError(t, err)
		assert.Len(t, list, 2)

		all, err := repo.ListAllConnections(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("find by channel", func(t *testing.T) {
		found, err := repo.FindConnectionByChannel(ctx, "chan-1")
		require.NoError(t, err)
		assert.Equal(t, conns[0].UID, found.UID)

		_, err = repo.FindConnectionByChannel(ctx, "chan-x")
		assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))

		_, err = repo.FindConnectionByChannel(ctx, "")
		assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
	})

	t.Run("update with revision", func(t *testing.T) {
		conn, rev, err := repo.GetConnection(ctx, conns[1].UID)
		require.NoError(t, err)

		conn.SyncDisabled = true
		require.NoError(t, repo.UpdateConnection(ctx, conn, rev))
		assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(repo.UpdateConnection(ctx, conn, rev)))

		reloaded, _, err := repo.GetConnection(ctx, conns[1].UID)
		require.NoError(t, err)
		assert.True(t, reloaded.SyncDisabled)
	})
}

func TestNatsCredentialStore(t *testing.T) {
	ctx := context.Background()
	kv := newMockNatsKeyValue()
	store := NewNatsCredentialStore(kv)

	data, err := json.Marshal(models.Credentials{Username: "ana", Password: "secret"})
	require.NoError(t, err)
	kv.data[NewKeyBuilder("").EntityKeyEncoded(KeyPrefixCredential, "cred-1")] = data

	creds, err := store.GetCredentials(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "ana", creds.Username)

	_, err = store.GetCredentials(ctx, "cred-missing")
	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))

	_, err = store.GetCredentials(ctx, "")
	assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
}
