// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package google implements the calendar provider for the Google Calendar REST API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

const (
	// DefaultSafeSpan is the widest range listed in one events request.
	DefaultSafeSpan = 30 * 24 * time.Hour

	dateLayout = "2006-01-02"
)

// Config holds the Google provider settings
type Config struct {
	ClientID     string
	ClientSecret string
	// Endpoint overrides the API base URL, for tests
	Endpoint string
	// Transport is the base HTTP transport, for tests
	Transport      http.RoundTripper
	SafeSpan       time.Duration
	AttendeePolicy provider.AttendeePolicy
}

func (c Config) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     googleoauth.Endpoint,
		Scopes:       []string{calendar.CalendarScope},
	}
}

// Provider is the Google variant of domain.CalendarProvider. One Provider
// serves a single connection.
type Provider struct {
	svc      *calendar.Service
	reporter domain.FailureReporter
	config   Config

	calendars []models.CalendarInfo
}

// Ensure [Provider] implements [domain.CalendarProvider]
var _ domain.CalendarProvider = (*Provider)(nil)

// NewFactory returns the registry factory for Google connections. Tokens are
// refreshed in memory only; persisting them belongs to the credential manager.
func NewFactory(config Config, reporter domain.FailureReporter) domain.ProviderFactory {
	return func(ctx context.Context, conn *models.CalendarConnection, creds *models.Credentials) (domain.CalendarProvider, error) {
		if creds == nil || (creds.AccessToken == "" && creds.RefreshToken == "") {
			return nil, domain.NewAuthError("google connection has no token")
		}

		base := &http.Client{Transport: provider.NewTransport(config.Transport, false)}
		tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
		token := &oauth2.Token{
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
			Expiry:       creds.Expiry,
		}
		httpClient := oauth2.NewClient(tokenCtx, config.oauthConfig().TokenSource(tokenCtx, token))

		opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
		if config.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(config.Endpoint))
		}
		svc, err := calendar.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create calendar service: %w", err)
		}
		return newProvider(svc, config, reporter, conn.Calendars), nil
	}
}

func newProvider(svc *calendar.Service, config Config, reporter domain.FailureReporter, calendars []models.CalendarInfo) *Provider {
	if config.SafeSpan <= 0 {
		config.SafeSpan = DefaultSafeSpan
	}
	if config.AttendeePolicy == "" {
		config.AttendeePolicy = provider.AttendeePolicyRemote
	}
	return &Provider{svc: svc, reporter: reporter, config: config, calendars: calendars}
}

// Kind implements domain.CalendarProvider
func (p *Provider) Kind() models.ProviderKind { return models.ProviderGoogle }

// SafeSpan implements domain.CalendarProvider
func (p *Provider) SafeSpan() time.Duration { return p.config.SafeSpan }

// Close implements domain.CalendarProvider
func (p *Provider) Close() error { return nil }

// ListCalendars returns the calendars visible to the account. Calendars the
// account may only read are kept but flagged read-only.
func (p *Provider) ListCalendars(ctx context.Context) ([]models.CalendarInfo, error) {
	var calendars []models.CalendarInfo
	err := p.svc.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, entry := range page.Items {
			if entry == nil || entry.Id == "" || entry.Deleted {
				continue
			}
			name := entry.Summary
			if entry.SummaryOverride != "" {
				name = entry.SummaryOverride
			}
			calendars = append(calendars, models.CalendarInfo{
				ID:       entry.Id,
				Name:     name,
				Color:    entry.BackgroundColor,
				ReadOnly: entry.AccessRole != "owner" && entry.AccessRole != "writer",
				Primary:  entry.Primary,
			})
		}
		return nil
	})
	if err != nil {
		return nil, classify("list calendars", err)
	}

	p.calendars = calendars
	return calendars, nil
}

// RefreshConnection re-lists calendars and merges them with the stored choices.
func (p *Provider) RefreshConnection(ctx context.Context, conn *models.CalendarConnection) ([]models.CalendarInfo, error) {
	listed, err := p.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	merged := provider.MergeCalendars(conn.Calendars, listed)
	p.calendars = merged
	return merged, nil
}

// CreateEvent inserts a new event carrying details.UID as its iCalendar UID.
func (p *Provider) CreateEvent(ctx context.Context, conn *models.CalendarConnection, details models.MeetingDetails, calendarID string) (*models.EventRecord, error) {
	target, err := provider.ResolveTargetCalendar(p.knownCalendars(conn), calendarID)
	if err != nil {
		p.report(ctx, err, conn, details.UID)
		return nil, err
	}
	return p.write(ctx, conn, target.ID, details, func(event *calendar.Event) (*calendar.Event, error) {
		return p.svc.Events.Insert(target.ID, event).Context(ctx).Do()
	})
}

// UpdateEvent rewrites the event with details.UID, creating it when missing.
func (p *Provider) UpdateEvent(ctx context.Context, conn *models.CalendarConnection, details models.MeetingDetails, calendarID string) (*models.EventRecord, error) {
	existing, result, err := p.FindEvent(ctx, conn, details.UID, calendarID)
	if err != nil {
		return nil, err
	}
	if result == domain.NotFound {
		return p.CreateEvent(ctx, conn, details, calendarID)
	}

	details.Participants = provider.MergeAttendees(p.config.AttendeePolicy, details.Participants, existing.Attendees)
	if details.Sequence <= existing.Sequence {
		details.Sequence = existing.Sequence + 1
	}
	return p.write(ctx, conn, existing.CalendarID, details, func(event *calendar.Event) (*calendar.Event, error) {
		return p.svc.Events.Update(existing.CalendarID, existing.Path, event).Context(ctx).Do()
	})
}

func (p *Provider) write(ctx context.Context, conn *models.CalendarConnection, calendarID string, details models.MeetingDetails, send func(*calendar.Event) (*calendar.Event, error)) (*models.EventRecord, error) {
	record, firstErr := p.send(calendarID, details, send)
	if firstErr == nil {
		return record, nil
	}
	if errors.Is(firstErr, domain.ErrAuthenticationFailed) || ctx.Err() != nil {
		return nil, firstErr
	}

	slog.WarnContext(ctx, "calendar write rejected, retrying without participants",
		"uid", details.UID, "calendar_id", calendarID, logging.ErrKey, firstErr)

	record, secondErr := p.send(calendarID, provider.WithoutParticipants(details), send)
	if secondErr == nil {
		return record, nil
	}
	if errors.Is(secondErr, domain.ErrAuthenticationFailed) {
		return nil, secondErr
	}

	err := domain.NewWriteFailedError(fmt.Sprintf("failed to write event %q to calendar %q", details.UID, calendarID), firstErr, secondErr)
	p.report(ctx, err, conn, details.UID)
	return nil, err
}

func (p *Provider) send(calendarID string, details models.MeetingDetails, send func(*calendar.Event) (*calendar.Event, error)) (*models.EventRecord, error) {
	written, err := send(toEvent(details))
	if err != nil {
		return nil, classify("write event", err)
	}
	record, err := fromEvent(written)
	if err != nil {
		return nil, err
	}
	record.CalendarID = calendarID
	return record, nil
}

// DeleteEvent removes the event with uid. Absence is reported as NotFound.
func (p *Provider) DeleteEvent(ctx context.Context, conn *models.CalendarConnection, uid, calendarHint string) (domain.LookupResult, error) {
	existing, result, err := p.FindEvent(ctx, conn, uid, calendarHint)
	if err != nil || result == domain.NotFound {
		return result, err
	}

	if err := p.svc.Events.Delete(existing.CalendarID, existing.Path).Context(ctx).Do(); err != nil {
		if isGone(err) {
			return domain.NotFound, nil
		}
		return domain.NotFound, classify("delete event", err)
	}
	return domain.Found, nil
}

// FindEvent looks the event up by iCalendar UID, searching calendarHint first.
func (p *Provider) FindEvent(ctx context.Context, conn *models.CalendarConnection, uid, calendarHint string) (*models.EventRecord, domain.LookupResult, error) {
	for _, calendarID := range p.searchOrder(conn, calendarHint) {
		events, err := p.svc.Events.List(calendarID).ICalUID(uid).ShowDeleted(false).Context(ctx).Do()
		if err != nil {
			if isGone(err) {
				continue
			}
			return nil, domain.NotFound, classify("find event", err)
		}
		for _, item := range events.Items {
			if item == nil || item.Status == "cancelled" || item.RecurringEventId != "" {
				continue
			}
			record, err := fromEvent(item)
			if err != nil {
				slog.DebugContext(ctx, "skipping undecodable event", "event_id", item.Id, logging.ErrKey, err)
				continue
			}
			record.CalendarID = calendarID
			return record, domain.Found, nil
		}
	}
	return nil, domain.NotFound, nil
}

// GetEvents lists the expanded events overlapping [from, to].
func (p *Provider) GetEvents(ctx context.Context, calendars []models.CalendarInfo, from, to time.Time, onlyWithMeetingLink bool) ([]models.EventRecord, error) {
	var events []models.EventRecord
	for _, cal := range calendars {
		call := p.svc.Events.List(cal.ID).
			TimeMin(from.UTC().Format(time.RFC3339)).
			TimeMax(to.UTC().Format(time.RFC3339)).
			SingleEvents(true).
			Context(ctx)

		err := call.Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if item == nil {
					continue
				}
				record, err := fromEvent(item)
				if err != nil {
					slog.DebugContext(ctx, "skipping event", "event_id", item.Id, logging.ErrKey, err)
					continue
				}
				record.CalendarID = cal.ID
				events = append(events, *record)
			}
			return nil
		})
		if err != nil {
			return nil, classify("list events", err)
		}
	}

	if onlyWithMeetingLink {
		events = provider.FilterMeetingLinks(events)
	}
	return events, nil
}

// GetBusy returns busy intervals for one calendar. Transparent and cancelled
// events do not block time. The range must not exceed SafeSpan.
func (p *Provider) GetBusy(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error) {
	if to.Sub(from) > p.config.SafeSpan {
		return nil, domain.NewValidationError(fmt.Sprintf("range %s exceeds safe span %s", to.Sub(from), p.config.SafeSpan), domain.ErrInvalidWindow)
	}

	var busy []models.BusyInterval
	err := p.svc.Events.List(calendarID).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		Context(ctx).
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if item == nil || item.Status == "cancelled" || item.Transparency == "transparent" {
					continue
				}
				record, err := fromEvent(item)
				if err != nil || record.AllDay {
					continue
				}
				busy = append(busy, models.BusyInterval{
					Start:        record.Start.UTC(),
					End:          record.End.UTC(),
					CalendarID:   calendarID,
					UID:          record.UID,
					RecurrenceID: record.RecurrenceID,
				})
			}
			return nil
		})
	if err != nil {
		return nil, classify("list busy events", err)
	}
	return busy, nil
}

func (p *Provider) knownCalendars(conn *models.CalendarConnection) []models.CalendarInfo {
	if conn != nil && len(conn.Calendars) > 0 {
		return conn.Calendars
	}
	return p.calendars
}

func (p *Provider) searchOrder(conn *models.CalendarConnection, hint string) []string {
	var order []string
	if hint != "" {
		order = append(order, hint)
	}
	for _, cal := range p.knownCalendars(conn) {
		if cal.ID != hint {
			order = append(order, cal.ID)
		}
	}
	return order
}

func (p *Provider) report(ctx context.Context, err error, conn *models.CalendarConnection, uid string) {
	if p.reporter == nil {
		return
	}
	attrs := []slog.Attr{slog.String("provider", string(models.ProviderGoogle)), slog.String("uid", uid)}
	if conn != nil {
		attrs = append(attrs, slog.String("connection_uid", conn.UID), slog.String("account_id", conn.AccountID))
	}
	p.reporter.ReportFailure(ctx, err, attrs...)
}

// classify maps googleapi errors onto the sync taxonomy.
func classify(operation string, err error) error {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden && isRateLimited(apiErr) {
			return domain.NewTransientError(fmt.Sprintf("google %s rate limited", operation), err)
		}
		if classified := provider.ClassifyStatus(apiErr.Code, apiErr.Message); classified != nil {
			return classified
		}
		return fmt.Errorf("google %s: %w", operation, err)
	}

	if classified := provider.ClassifyNetworkError(err); errors.Is(classified, domain.ErrTransientNetworkError) {
		return classified
	}
	return fmt.Errorf("google %s: %w", operation, err)
}

func isRateLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone)
}

// toEvent builds the API resource for details. Each instance is written as a
// standalone event, so only recurring masters carry recurrence lines.
func toEvent(details models.MeetingDetails) *calendar.Event {
	tz := details.Timezone
	if tz == "" {
		tz = "UTC"
	}
	event := &calendar.Event{
		ICalUID:     details.UID,
		Sequence:    int64(details.Sequence),
		Summary:     details.Title,
		Description: details.Description,
		Location:    details.Location,
		Start:       &calendar.EventDateTime{DateTime: details.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &calendar.EventDateTime{DateTime: details.End.Format(time.RFC3339), TimeZone: tz},
	}
	for _, email := range details.Participants {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}
	if details.RRule != "" {
		event.Recurrence = append(event.Recurrence, "RRULE:"+strings.TrimPrefix(details.RRule, "RRULE:"))
		if len(details.ExDates) > 0 {
			values := make([]string, 0, len(details.ExDates))
			for _, ex := range details.ExDates {
				values = append(values, ex.UTC().Format("20060102T150405Z"))
			}
			event.Recurrence = append(event.Recurrence, "EXDATE:"+strings.Join(values, ","))
		}
	}
	return event
}

// fromEvent maps an API event to an EventRecord. The Google event id is kept
// in Path because updates and deletes address it.
func fromEvent(event *calendar.Event) (*models.EventRecord, error) {
	start, tz, allDay, err := parseEventTime(event.Start)
	if err != nil {
		return nil, domain.NewMalformedDataError(fmt.Sprintf("event %q has no usable start", event.Id), err)
	}
	end, _, _, err := parseEventTime(event.End)
	if err != nil {
		end = start
	}

	uid := event.ICalUID
	if uid == "" {
		uid = event.Id
	}
	record := &models.EventRecord{
		UID:         uid,
		Path:        event.Id,
		ETag:        event.Etag,
		Sequence:    int(event.Sequence),
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Start:       start,
		End:         end,
		Timezone:    tz,
		Duration:    end.Sub(start),
		AllDay:      allDay,
		Status:      strings.ToUpper(event.Status),
	}
	if record.Summary == "" {
		record.Summary = strings.Trim(event.Etag, `"`)
	}
	if event.Organizer != nil {
		record.Organizer = event.Organizer.Email
	}
	for _, a := range event.Attendees {
		if a == nil || a.Email == "" || a.Resource {
			continue
		}
		role := "REQ-PARTICIPANT"
		if a.Optional {
			role = "OPT-PARTICIPANT"
		}
		record.Attendees = append(record.Attendees, models.Attendee{
			Email:  a.Email,
			Name:   a.DisplayName,
			Role:   role,
			Status: partStat(a.ResponseStatus),
		})
	}
	if event.OriginalStartTime != nil {
		if rid, _, _, err := parseEventTime(event.OriginalStartTime); err == nil {
			record.RecurrenceID = &rid
		}
	}
	for _, line := range event.Recurrence {
		if rule, ok := strings.CutPrefix(line, "RRULE:"); ok {
			record.RRule = rule
		}
	}
	return record, nil
}

func parseEventTime(dt *calendar.EventDateTime) (time.Time, string, bool, error) {
	if dt == nil {
		return time.Time{}, "", false, errors.New("missing time")
	}
	loc := time.UTC
	if dt.TimeZone != "" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, "", false, err
		}
		return t, dt.TimeZone, false, nil
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(dateLayout, dt.Date, loc)
		if err != nil {
			return time.Time{}, "", false, err
		}
		return t, dt.TimeZone, true, nil
	}
	return time.Time{}, "", false, errors.New("empty time")
}

func partStat(responseStatus string) string {
	switch responseStatus {
	case "accepted":
		return "ACCEPTED"
	case "declined":
		return "DECLINED"
	case "tentative":
		return "TENTATIVE"
	}
	return "NEEDS-ACTION"
}
