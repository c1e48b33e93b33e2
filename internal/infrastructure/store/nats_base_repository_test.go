// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEntity for testing the base repository
type TestEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestNatsBaseRepository_IsReady(t *testing.T) {
	tests := []struct {
		name     string
		kvStore  INatsKeyValue
		expected bool
	}{
		{
			name:     "ready when kvStore is not nil",
			kvStore:  newMockNatsKeyValue(),
			expected: true,
		},
		{
			name:     "not ready when kvStore is nil",
			kvStore:  nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewNatsBaseRepository[TestEntity](tt.kvStore, "test")
			assert.Equal(t, tt.expected, repo.IsReady())
		})
	}
}

func TestNatsBaseRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("successful get", func(t *testing.T) {
		mockKV := newMockNatsKeyValue()
		repo := NewNatsBaseRepository[TestEntity](mockKV, "test")

		entity := &TestEntity{ID: "test-1", Name: "Test Entity"}
		entityJSON, _ := json.Marshal(entity)
		mockKV.data["test-key"] = entityJSON
		mockKV.revisions["test-key"] = 5

		result, revision, err := repo.GetWithRevision(ctx, "test-key")

		require.NoError(t, err)
		assert.Equal(t, entity.ID, result.ID)
		assert.Equal(t, entity.Name, result.Name)
		assert.Equal(t, uint64(5), revision)
	})

	t.Run("not found", func(t *testing.T) {
		repo := NewNatsBaseRepository[TestEntity](newMockNatsKeyValue(), "test")

		result, err := repo.Get(ctx, "nonexistent")

		assert.Nil(t, result)
		assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
	})

	t.Run("corrupt value", func(t *testing.T) {
		mockKV := newMockNatsKeyValue()
		mockKV.data["test-key"] = []byte("{not json")
		repo := NewNatsBaseRepository[TestEntity](mockKV, "test")

		_, err := repo.Get(ctx, "test-key")

		assert.Equal(t, domain.ErrorTypeInternal, domain.GetErrorType(err))
	})

	t.Run("repository not ready", func(t *testing.T) {
		repo := NewNatsBaseRepository[TestEntity](nil, "test")

		result, err := repo.Get(ctx, "test-key")

		assert.Nil(t, result)
		assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
	})
}

func TestNatsBaseRepository_Create(t *testing.T) {
	ctx := context.Background()
	entity := &TestEntity{ID: "test-1", Name: "Test Entity"}

	t.Run("successful create", func(t *testing.T) {
		mockKV := newMockNatsKeyValue()
		repo := NewNatsBaseRepository[TestEntity](mockKV, "test")

		require.NoError(t, repo.Create(ctx, "test-key", entity))

		var stored TestEntity
		require.NoError(t, json.Unmarshal(mockKV.data["test-key"], &stored))
		assert.Equal(t, *entity, stored)
	})

	t.Run("duplicate key", func(t *testing.T) {
		mockKV := newMockNatsKeyValue()
		repo := NewNatsBaseRepository[TestEntity](mockKV, "test")
		require.NoError(t, repo.Create(ctx, "test-key", entity))

		err := repo.Create(ctx, "test-key", entity)

		assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
	})

	t.Run("put error", func(t *testing.T) {
		mockKV := newMockNatsKeyValue()
		mockKV.putError = errors.New("stream unavailable")
		repo := NewNatsBaseRepository[TestEntity](mockKV, "test")

		err := repo.Create(ctx, "test-key", entity)

		assert.Equal(t, domain.ErrorTypeInternal, domain.GetErrorType(err))
	})
}

func TestNatsBaseRepository_Update(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		seed     bool
		revision func(current uint64) uint64
		wantType domain.ErrorType
		wantErr  bool
	}{
		{
			name:     "current revision",
			seed:     true,
			revision: func(current uint64) uint64 { return current },
		},
		{
			name:     "stale revision",
			seed:     true,
			revision: func(current uint64) uint64 { return current + 10 },
			wantErr:  true,
			wantType: domain.ErrorTypeConflict,
		},
		{
			name:     "missing key",
			revision: func(uint64) uint64 { return 1 },
			wantErr:  true,
			wantType: domain.ErrorTypeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockKV := newMockNatsKeyValue()
			repo := NewNatsBaseRepository[TestEntity](mockKV, "test")
			var current uint64
			if tt.seed {
				var err error
				current, err = repo.Put(ctx, "k", &TestEntity{ID: "1", Name: "before"})
				require.NoError(t, err)
			}

			err := repo.Update(ctx, "k", &TestEntity{ID: "1", Name: "after"}, tt.revision(current))

			if tt.wantErr {
				assert.Equal(t, tt.wantType, domain.GetErrorType(err))
				return
			}
			require.NoError(t, err)
			got, err := repo.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "after", got.Name)
		})
	}
}

func TestNatsBaseRepository_Delete(t *testing.T) {
	ctx := context.Background()
	mockKV := newMockNatsKeyValue()
	repo := NewNatsBaseRepository[TestEntity](mockKV, "test")

	_, err := repo.Put(ctx, "k", &TestEntity{ID: "1"})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "k", 0))
	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(repo.Delete(ctx, "k", 0)))

	mockKV.deleteError = jetstream.ErrKeyExists
	_, err = repo.Put(ctx, "k", &TestEntity{ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(repo.Delete(ctx, "k", 99)))
}

func TestNatsBaseRepository_ListEntitiesEncoded(t *testing.T) {
	ctx := context.Background()
	mockKV := newMockNatsKeyValue()
	repo := NewNatsBaseRepository[TestEntity](mockKV, "test")
	kb := NewKeyBuilder("")

	for _, id := range []string{"a", "b"} {
		_, err := repo.Put(ctx, kb.EntityKeyEncoded(KeyPrefixSeries, id), &TestEntity{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, repo.PutIndex(ctx, kb.IndexKeyEncoded(KeyPrefixIndexSeries, "a", "x")))

	entities, err := repo.ListEntitiesEncoded(ctx, kb.DecodedPrefix(KeyPrefixSeries), kb)

	require.NoError(t, err)
	ids := []string{}
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestNatsBaseRepository_ListKeysError(t *testing.T) {
	mockKV := newMockNatsKeyValue()
	mockKV.listError = errors.New("boom")
	repo := NewNatsBaseRepository[TestEntity](mockKV, "test")

	_, err := repo.ListKeys(context.Background())

	assert.Equal(t, domain.ErrorTypeInternal, domain.GetErrorType(err))
}
