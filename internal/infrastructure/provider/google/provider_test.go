// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// fakeAPI serves the subset of the Calendar API the provider calls.
type fakeAPI struct {
	mu          sync.Mutex
	entries     []*calendar.CalendarListEntry
	events      map[string][]*calendar.Event
	nextID      int
	rejectWrite int
	status      int
	requests    []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		entries: []*calendar.CalendarListEntry{
			{Id: "primary", Summary: "Me", AccessRole: "owner", Primary: true, BackgroundColor: "#0000ff"},
			{Id: "team", Summary: "Team", SummaryOverride: "Team (mine)", AccessRole: "writer"},
			{Id: "holidays", Summary: "Holidays", AccessRole: "reader"},
			{Id: "old", Summary: "Old", AccessRole: "owner", Deleted: true},
		},
		events: make(map[string][]*calendar.Event),
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if f.status != 0 {
		writeError(w, f.status, "")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/users/me/calendarList":
		writeJSON(w, &calendar.CalendarList{Items: f.entries})
	case len(parts) == 3 && parts[0] == "calendars" && parts[2] == "events" && r.Method == http.MethodGet:
		f.list(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "calendars" && parts[2] == "events" && r.Method == http.MethodPost:
		f.write(w, r, parts[1], "")
	case len(parts) == 4 && r.Method == http.MethodPut:
		f.write(w, r, parts[1], parts[3])
	case len(parts) == 4 && r.Method == http.MethodDelete:
		f.delete(w, parts[1], parts[3])
	default:
		writeError(w, http.StatusNotFound, "")
	}
}

func (f *fakeAPI) list(w http.ResponseWriter, r *http.Request, calendarID string) {
	uid := r.URL.Query().Get("iCalUID")
	var items []*calendar.Event
	for _, e := range f.events[calendarID] {
		if uid == "" || e.ICalUID == uid {
			items = append(items, e)
		}
	}
	writeJSON(w, &calendar.Events{Items: items})
}

func (f *fakeAPI) write(w http.ResponseWriter, r *http.Request, calendarID, eventID string) {
	var event calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "")
		return
	}
	if f.rejectWrite > 0 && len(event.Attendees) > 0 {
		f.rejectWrite--
		writeError(w, http.StatusBadRequest, "invalid attendee")
		return
	}

	if eventID == "" {
		f.nextID++
		event.Id = fmt.Sprintf("evt%d", f.nextID)
		event.Etag = fmt.Sprintf(`"%d"`, f.nextID)
		f.events[calendarID] = append(f.events[calendarID], &event)
		writeJSON(w, &event)
		return
	}

	for i, e := range f.events[calendarID] {
		if e.Id == eventID {
			event.Id = eventID
			f.events[calendarID][i] = &event
			writeJSON(w, &event)
			return
		}
	}
	writeError(w, http.StatusNotFound, "")
}

func (f *fakeAPI) delete(w http.ResponseWriter, calendarID, eventID string) {
	events := f.events[calendarID]
	for i, e := range events {
		if e.Id == eventID {
			f.events[calendarID] = append(events[:i], events[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusGone, "")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": http.StatusText(status),
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	})
}

func setup(t *testing.T, reporter domain.FailureReporter) (*Provider, *fakeAPI) {
	t.Helper()
	api := newFakeAPI()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	svc, err := calendar.NewService(context.Background(),
		option.WithHTTPClient(server.Client()),
		option.WithEndpoint(server.URL+"/"))
	require.NoError(t, err)
	return newProvider(svc, Config{}, reporter, nil), api
}

var testConn = &models.CalendarConnection{
	UID:       "conn-g",
	AccountID: "acct-1",
	Provider:  models.ProviderGoogle,
	Calendars: []models.CalendarInfo{
		{ID: "primary", Enabled: true, Sync: true},
		{ID: "team", Enabled: true, Sync: true},
	},
}

func testDetails() models.MeetingDetails {
	start := time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)
	return models.MeetingDetails{
		UID:          "series-1-1741100400@lfx.dev",
		Title:        "Weekly sync",
		Start:        start,
		End:          start.Add(time.Hour),
		Participants: []string{"ana@example.com"},
	}
}

func TestProvider_ListCalendars(t *testing.T) {
	p, _ := setup(t, nil)

	cals, err := p.ListCalendars(context.Background())

	require.NoError(t, err)
	require.Len(t, cals, 3)
	assert.Equal(t, "primary", cals[0].ID)
	assert.True(t, cals[0].Primary)
	assert.Equal(t, "#0000ff", cals[0].Color)
	assert.Equal(t, "Team (mine)", cals[1].Name)
	assert.False(t, cals[1].ReadOnly)
	assert.True(t, cals[2].ReadOnly)
}

func TestProvider_RefreshConnectionNewAccount(t *testing.T) {
	p, _ := setup(t, nil)

	cals, err := p.RefreshConnection(context.Background(), &models.CalendarConnection{})

	require.NoError(t, err)
	var enabled []string
	for _, c := range cals {
		assert.False(t, c.Sync)
		if c.Enabled {
			enabled = append(enabled, c.ID)
		}
	}
	assert.Equal(t, []string{"primary"}, enabled)
}

func TestProvider_CreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	p, api := setup(t, nil)

	created, err := p.CreateEvent(ctx, testConn, testDetails(), "")
	require.NoError(t, err)
	assert.Equal(t, "primary", created.CalendarID)
	assert.Equal(t, testDetails().UID, created.UID)
	assert.Equal(t, "evt1", created.Path)
	assert.True(t, testDetails().Start.Equal(created.Start))

	// Someone else edited the guest list remotely.
	api.events["primary"][0].Attendees = []*calendar.EventAttendee{{Email: "remote@example.com", ResponseStatus: "accepted"}}
	api.events["primary"][0].Sequence = 3

	details := testDetails()
	details.Title = "Renamed"
	updated, err := p.UpdateEvent(ctx, testConn, details, "")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Summary)
	assert.Equal(t, []string{"remote@example.com"}, updated.AttendeeEmails())
	assert.Equal(t, 4, updated.Sequence)
	assert.Len(t, api.events["primary"], 1)

	result, err := p.DeleteEvent(ctx, testConn, details.UID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Found, result)

	result, err = p.DeleteEvent(ctx, testConn, details.UID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.NotFound, result)
}

func TestProvider_CreateDegradesWithoutParticipants(t *testing.T) {
	ctx := context.Background()

	t.Run("retry succeeds", func(t *testing.T) {
		p, api := setup(t, nil)
		api.rejectWrite = 1

		record, err := p.CreateEvent(ctx, testConn, testDetails(), "team")

		require.NoError(t, err)
		assert.Equal(t, "team", record.CalendarID)
		assert.Equal(t, testDetails().UID, record.UID)
		assert.Empty(t, record.Attendees)
		assert.True(t, testDetails().End.Equal(record.End))
	})

	t.Run("both attempts rejected", func(t *testing.T) {
		reporter := &mocks.RecordingReporter{}
		p, api := setup(t, reporter)
		api.rejectWrite = 1
		api.status = http.StatusBadRequest

		_, err := p.CreateEvent(ctx, testConn, testDetails(), "")

		assert.ErrorIs(t, err, domain.ErrCalendarWriteFailed)
		assert.Len(t, reporter.Errors(), 1)
	})
}

func TestProvider_GetEventsAndBusy(t *testing.T) {
	ctx := context.Background()
	p, api := setup(t, nil)
	api.events["primary"] = []*calendar.Event{
		{Id: "1", ICalUID: "a@x", Summary: "A", Location: "https://meet.google.com/abc",
			Start: &calendar.EventDateTime{DateTime: "2025-03-04T10:00:00-05:00", TimeZone: "America/New_York"},
			End:   &calendar.EventDateTime{DateTime: "2025-03-04T11:00:00-05:00", TimeZone: "America/New_York"}},
		{Id: "2", ICalUID: "b@x", Etag: `"etag-2"`, Transparency: "transparent",
			Start: &calendar.EventDateTime{DateTime: "2025-03-05T10:00:00Z"},
			End:   &calendar.EventDateTime{DateTime: "2025-03-05T11:00:00Z"}},
		{Id: "3", ICalUID: "c@x", Start: &calendar.EventDateTime{Date: "2025-03-06"}, End: &calendar.EventDateTime{Date: "2025-03-07"}},
		{Id: "4", ICalUID: "d@x"},
	}
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 14)

	events, err := p.GetEvents(ctx, []models.CalendarInfo{{ID: "primary"}}, from, to, false)
	require.NoError(t, err)
	require.Len(t, events, 3, "event without a start is skipped")
	assert.Equal(t, "etag-2", events[1].Summary)
	assert.True(t, events[2].AllDay)
	assert.Equal(t, 24*time.Hour, events[2].Duration)

	linked, err := p.GetEvents(ctx, []models.CalendarInfo{{ID: "primary"}}, from, to, true)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "a@x", linked[0].UID)

	busy, err := p.GetBusy(ctx, "primary", from, to)
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC), busy[0].Start)

	_, err = p.GetBusy(ctx, "primary", from, from.AddDate(0, 2, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", &googleapi.Error{Code: 401}, domain.ErrAuthenticationFailed},
		{"forbidden", &googleapi.Error{Code: 403}, domain.ErrAuthenticationFailed},
		{"rate limited", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}, domain.ErrTransientNetworkError},
		{"too many requests", &googleapi.Error{Code: 429}, domain.ErrTransientNetworkError},
		{"server error", &googleapi.Error{Code: 503}, domain.ErrTransientNetworkError},
		{"deadline", context.DeadlineExceeded, domain.ErrTransientNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tt.err), tt.want)
		})
	}

	err := classify("op", &googleapi.Error{Code: 400})
	assert.False(t, domain.IsRetryable(err))
	assert.NotErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestProvider_AuthFailureSurfaces(t *testing.T) {
	p, api := setup(t, nil)
	api.status = http.StatusUnauthorized

	_, err := p.ListCalendars(context.Background())

	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestNewFactory(t *testing.T) {
	factory := NewFactory(Config{}, nil)

	_, err := factory(context.Background(), testConn, nil)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	p, err := factory(context.Background(), testConn, &models.Credentials{AccessToken: "t", Expiry: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGoogle, p.Kind())
	assert.Equal(t, DefaultSafeSpan, p.SafeSpan())
}
