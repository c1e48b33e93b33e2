// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider"
)

var noRetry = provider.RetryConfig{MaxRetries: -1, CallTimeout: time.Second}

func availabilityConnection() *models.CalendarConnection {
	return &models.CalendarConnection{
		UID:       "conn-1",
		AccountID: "acct-1",
		Provider:  models.ProviderCalDAV,
		Calendars: []models.CalendarInfo{
			{ID: "work", Enabled: true},
			{ID: "home", Enabled: true},
			{ID: "holidays", Enabled: false},
		},
	}
}

func TestAvailabilityService_GetAvailability(t *testing.T) {
	ctx := context.Background()
	day := 24 * time.Hour
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(90 * day)

	t.Run("wide window is chunked and deduplicated", func(t *testing.T) {
		p := newFakeProvider()
		// an event straddling the first chunk boundary is returned by both chunks
		straddle := models.BusyInterval{UID: "long", Start: from.Add(30*day - time.Hour), End: from.Add(30*day + time.Hour), CalendarID: "work"}
		p.busy["work"] = []models.BusyInterval{
			{UID: "a", Start: from.Add(day), End: from.Add(day + time.Hour), CalendarID: "work"},
			straddle,
			{UID: "b", Start: from.Add(70 * day), End: from.Add(70*day + time.Hour), CalendarID: "work"},
		}
		svc := NewAvailabilityService(newMemConnectionRepo(), newFakeRegistry().with("conn-1", p), &mocks.RecordingReporter{},
			AvailabilityConfig{Retry: noRetry})

		busy, err := svc.GetAvailability(ctx, availabilityConnection(), []string{"work"}, from, to)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(p.busyCalls), 3)
		for _, w := range p.busyCalls {
			assert.LessOrEqual(t, w.Duration(), 30*day)
		}
		var uids []string
		for _, b := range busy {
			uids = append(uids, b.UID)
		}
		assert.Equal(t, []string{"a", "long", "b"}, uids)
	})

	t.Run("failing calendar contributes nothing", func(t *testing.T) {
		p := newFakeProvider()
		p.busy["work"] = []models.BusyInterval{{UID: "w", Start: from.Add(time.Hour), End: from.Add(2 * time.Hour)}}
		p.busy["home"] = []models.BusyInterval{{UID: "h", Start: from.Add(3 * time.Hour), End: from.Add(4 * time.Hour)}}
		p.errs["home"] = domain.NewTransientError("server error")
		reporter := &mocks.RecordingReporter{}
		svc := NewAvailabilityService(newMemConnectionRepo(), newFakeRegistry().with("conn-1", p), reporter,
			AvailabilityConfig{Retry: noRetry})

		busy, err := svc.GetAvailability(ctx, availabilityConnection(), nil, from, from.Add(day))

		require.NoError(t, err)
		require.Len(t, busy, 1)
		assert.Equal(t, "w", busy[0].UID)
		assert.Equal(t, "work", busy[0].CalendarID)
		require.Len(t, reporter.Errors(), 1)
		assert.ErrorIs(t, reporter.Errors()[0], domain.ErrTransientNetworkError)
	})

	t.Run("disabled calendars are not queried", func(t *testing.T) {
		p := newFakeProvider()
		svc := NewAvailabilityService(newMemConnectionRepo(), newFakeRegistry().with("conn-1", p), nil,
			AvailabilityConfig{Retry: noRetry})

		_, err := svc.GetAvailability(ctx, availabilityConnection(), []string{"holidays"}, from, from.Add(day))

		require.NoError(t, err)
		assert.Empty(t, p.busyCalls)
	})

	t.Run("empty window", func(t *testing.T) {
		svc := NewAvailabilityService(newMemConnectionRepo(), newFakeRegistry(), nil, AvailabilityConfig{})

		_, err := svc.GetAvailability(ctx, availabilityConnection(), nil, to, from)

		assert.ErrorIs(t, err, domain.ErrInvalidWindow)
	})
}

func TestAvailabilityService_CheckConflict(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

	p1 := newFakeProvider()
	p1.busy["work"] = []models.BusyInterval{
		{UID: "standup", Start: start.Add(-30 * time.Minute), End: start.Add(15 * time.Minute)},
	}
	conn1 := availabilityConnection()

	p2 := newFakeProvider()
	p2.busy["personal"] = []models.BusyInterval{
		// same remote object seen through a second connection
		{UID: "standup", Start: start.Add(-30 * time.Minute), End: start.Add(15 * time.Minute)},
		{UID: "lunch", Start: start.Add(3 * time.Hour), End: start.Add(4 * time.Hour)},
	}
	conn2 := &models.CalendarConnection{
		UID: "conn-2", AccountID: "acct-1", Provider: models.ProviderGoogle,
		Calendars: []models.CalendarInfo{{ID: "personal", Enabled: true}},
	}

	repo := newMemConnectionRepo(conn1, conn2)
	registry := newFakeRegistry().with("conn-1", p1).with("conn-2", p2)
	svc := NewAvailabilityService(repo, registry, nil, AvailabilityConfig{Retry: noRetry})

	conflicts, err := svc.CheckConflict(ctx, "acct-1", start, start.Add(time.Hour))

	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "standup", conflicts[0].UID)
}

func TestFreeSlots(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }
	window := models.TimeWindow{Start: at(9, 0), End: at(17, 0)}

	tests := []struct {
		name      string
		busy      []models.BusyInterval
		minLength time.Duration
		want      []models.TimeWindow
	}{
		{
			name: "no busy time",
			want: []models.TimeWindow{window},
		},
		{
			name: "overlapping and touching intervals merge",
			busy: []models.BusyInterval{
				{Start: at(10, 0), End: at(11, 0)},
				{Start: at(10, 30), End: at(11, 30)},
				{Start: at(11, 30), End: at(12, 0)},
				{Start: at(15, 0), End: at(18, 0)},
			},
			want: []models.TimeWindow{
				{Start: at(9, 0), End: at(10, 0)},
				{Start: at(12, 0), End: at(15, 0)},
			},
		},
		{
			name: "short gaps are dropped",
			busy: []models.BusyInterval{
				{Start: at(8, 0), End: at(9, 15)},
				{Start: at(9, 30), End: at(16, 0)},
			},
			minLength: 30 * time.Minute,
			want:      []models.TimeWindow{{Start: at(16, 0), End: at(17, 0)}},
		},
		{
			name:      "fully booked",
			busy:      []models.BusyInterval{{Start: at(0, 0), End: at(23, 0)}},
			minLength: time.Minute,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FreeSlots(tt.busy, window, tt.minLength))
		})
	}
}
