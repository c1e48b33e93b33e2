// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// LookupResult is the outcome of locating a remote object.
type LookupResult int

const (
	NotFound LookupResult = iota
	Found
)

func (r LookupResult) String() string {
	if r == Found {
		return "found"
	}
	return "not_found"
}

// CalendarProvider is the adapter contract every provider variant implements.
// One instance serves exactly one CalendarConnection.
type CalendarProvider interface {
	// Kind identifies the variant.
	Kind() models.ProviderKind

	// SafeSpan is the widest range one availability request may cover.
	SafeSpan() time.Duration

	// ListCalendars returns the event-capable calendars of the connection.
	ListCalendars(ctx context.Context) ([]models.CalendarInfo, error)

	// RefreshConnection re-lists calendars, keeping choices the user made
	// on calendars that still exist.
	RefreshConnection(ctx context.Context, conn *models.CalendarConnection) ([]models.CalendarInfo, error)

	// CreateEvent writes a new event. calendarID may be empty.
	CreateEvent(ctx context.Context, conn *models.CalendarConnection, details models.MeetingDetails, calendarID string) (*models.EventRecord, error)

	// UpdateEvent rewrites the event with details.UID, creating it when missing.
	UpdateEvent(ctx context.Context, conn *models.CalendarConnection, details models.MeetingDetails, calendarID string) (*models.EventRecord, error)

	// DeleteEvent removes the event with the given UID. A missing event is
	// reported as NotFound, never as an error.
	DeleteEvent(ctx context.Context, conn *models.CalendarConnection, uid string, calendarHint string) (LookupResult, error)

	// FindEvent locates one event by UID.
	FindEvent(ctx context.Context, conn *models.CalendarConnection, uid string, calendarHint string) (*models.EventRecord, LookupResult, error)

	// GetEvents returns decoded events overlapping [from, to].
	GetEvents(ctx context.Context, calendars []models.CalendarInfo, from, to time.Time, onlyWithMeetingLink bool) ([]models.EventRecord, error)

	// GetBusy returns busy intervals for one calendar in a range no wider than SafeSpan.
	GetBusy(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error)

	// Close releases the provider's client.
	Close() error
}

// ProviderFactory builds the provider for one connection.
type ProviderFactory func(ctx context.Context, conn *models.CalendarConnection, creds *models.Credentials) (CalendarProvider, error)

// ProviderRegistry manages provider variants and the per-connection clients they produce.
type ProviderRegistry interface {
	// RegisterFactory registers the factory for a provider kind
	RegisterFactory(kind models.ProviderKind, factory ProviderFactory)

	// ProviderFor returns the client owned by the connection, creating it on first use.
	ProviderFor(ctx context.Context, conn *models.CalendarConnection) (CalendarProvider, error)

	// Release closes and forgets the client owned by the connection.
	Release(connectionUID string) error
}
