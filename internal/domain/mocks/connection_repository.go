// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// MockConnectionRepository implements ConnectionRepository for testing
type MockConnectionRepository struct {
	mock.Mock
}

func (m *MockConnectionRepository) CreateConnection(ctx context.Context, conn *models.CalendarConnection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *MockConnectionRepository) GetConnection(ctx context.Context, connectionUID string) (*models.CalendarConnection, uint64, error) {
	args := m.Called(ctx, connectionUID)
	if args.Get(0) == nil {
		return nil, args.Get(1).(uint64), args.Error(2)
	}
	return args.Get(0).(*models.CalendarConnection), args.Get(1).(uint64), args.Error(2)
}

func (m *MockConnectionRepository) UpdateConnection(ctx context.Context, conn *models.CalendarConnection, revision uint64) error {
	args := m.Called(ctx, conn, revision)
	return args.Error(0)
}

func (m *MockConnectionRepository) ListConnectionsByAccount(ctx context.Context, accountID string) ([]*models.CalendarConnection, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CalendarConnection), args.Error(1)
}

func (m *MockConnectionRepository) FindConnectionByChannel(ctx context.Context, channelID string) (*models.CalendarConnection, error) {
	args := m.Called(ctx, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CalendarConnection), args.Error(1)
}

func (m *MockConnectionRepository) ListAllConnections(ctx context.Context) ([]*models.CalendarConnection, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CalendarConnection), args.Error(1)
}

// MockCredentialStore implements CredentialStore for testing
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) GetCredentials(ctx context.Context, credentialRef string) (*models.Credentials, error) {
	args := m.Called(ctx, credentialRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Credentials), args.Error(1)
}
