// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// MockCalendarProvider implements CalendarProvider for testing
type MockCalendarProvider struct {
	mock.Mock
}

func (m *MockCalendarProvider) Kind() models.ProviderKind {
	args := m.Called()
	return args.Get(0).(models.ProviderKind)
}

func (m *MockCalendarProvider) SafeSpan() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func (m *MockCalendarProvider) ListCalendars(ctx context.Context) ([]models.CalendarInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CalendarInfo), args.Error(1)
}

func (m *MockCalendarProvider) RefreshConnection(ctx context.Context, conn *models.CalendarConnection) ([]models.CalendarInfo, error) {
	args := m.Called(ctx, conn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CalendarInfo), args.Error(1)
}

func (m *MockCalendarProvider) CreateEvent(ctx context.Context, conn *models.CalendarConnection, details models.MeetingDetails, calendarID string) (*models.EventRecord, error) {
	args := m.Called(ctx, conn, details, calendarID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EventRecord), args.Error(1)
}

func (m *MockCalendarProvider) UpdateEvent(ctx context.Context, conn *models.CalendarConnection, details models.MeetingDetails, calendarID string) (*models.EventRecord, error) {
	args := m.Called(ctx, conn, details, calendarID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EventRecord), args.Error(1)
}

func (m *MockCalendarProvider) DeleteEvent(ctx context.Context, conn *models.CalendarConnection, uid string, calendarHint string) (domain.LookupResult, error) {
	args := m.Called(ctx, conn, uid, calendarHint)
	return args.Get(0).(domain.LookupResult), args.Error(1)
}

func (m *MockCalendarProvider) FindEvent(ctx context.Context, conn *models.CalendarConnection, uid string, calendarHint string) (*models.EventRecord, domain.LookupResult, error) {
	args := m.Called(ctx, conn, uid, calendarHint)
	if args.Get(0) == nil {
		return nil, args.Get(1).(domain.LookupResult), args.Error(2)
	}
	return args.Get(0).(*models.EventRecord), args.Get(1).(domain.LookupResult), args.Error(2)
}

func (m *MockCalendarProvider) GetEvents(ctx context.Context, calendars []models.CalendarInfo, from, to time.Time, onlyWithMeetingLink bool) ([]models.EventRecord, error) {
	args := m.Called(ctx, calendars, from, to, onlyWithMeetingLink)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EventRecord), args.Error(1)
}

func (m *MockCalendarProvider) GetBusy(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error) {
	args := m.Called(ctx, calendarID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BusyInterval), args.Error(1)
}

func (m *MockCalendarProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockProviderRegistry implements ProviderRegistry for testing
type MockProviderRegistry struct {
	mock.Mock
}

func (m *MockProviderRegistry) RegisterFactory(kind models.ProviderKind, factory domain.ProviderFactory) {
	m.Called(kind, factory)
}

func (m *MockProviderRegistry) ProviderFor(ctx context.Context, conn *models.CalendarConnection) (domain.CalendarProvider, error) {
	args := m.Called(ctx, conn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.CalendarProvider), args.Error(1)
}

func (m *MockProviderRegistry) Release(connectionUID string) error {
	args := m.Called(connectionUID)
	return args.Error(0)
}
