// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package caldav implements the calendar provider for WebDAV/CalDAV servers.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/ics"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

// DefaultSafeSpan is the widest time range queried in one REPORT.
const DefaultSafeSpan = 30 * 24 * time.Hour

// davClient is the part of *caldav.Client the provider uses.
type davClient interface {
	FindCurrentUserPrincipal(ctx context.Context) (string, error)
	FindCalendarHomeSet(ctx context.Context, principal string) (string, error)
	FindCalendars(ctx context.Context, calendarHomeSet string) ([]caldav.Calendar, error)
	QueryCalendar(ctx context.Context, calendar string, query *caldav.CalendarQuery) ([]caldav.CalendarObject, error)
	PutCalendarObject(ctx context.Context, path string, cal *ical.Calendar) (*caldav.CalendarObject, error)
	RemoveAll(ctx context.Context, name string) error
}

// Config holds the CalDAV provider settings
type Config struct {
	// SafeSpan overrides DefaultSafeSpan
	SafeSpan time.Duration
	// AttendeePolicy decides which attendee list wins on update
	AttendeePolicy provider.AttendeePolicy
	// Optional: base transport, for tests
	Transport http.RoundTripper
}

// Provider is the CalDAV variant of domain.CalendarProvider. One Provider
// serves a single connection.
type Provider struct {
	client   davClient
	codec    *ics.Codec
	reporter domain.FailureReporter
	config   Config

	// calendars caches the last listing for target resolution
	calendars []models.CalendarInfo
}

// Ensure [Provider] implements [domain.CalendarProvider]
var _ domain.CalendarProvider = (*Provider)(nil)

// NewFactory returns the registry factory for CalDAV connections.
func NewFactory(config Config, reporter domain.FailureReporter) domain.ProviderFactory {
	return func(ctx context.Context, conn *models.CalendarConnection, creds *models.Credentials) (domain.CalendarProvider, error) {
		if conn.RemoteIdentifier == "" {
			return nil, domain.NewValidationError("caldav connection has no server URL")
		}
		if creds == nil {
			return nil, domain.NewAuthError("caldav connection has no credentials")
		}

		httpClient := &http.Client{Transport: provider.NewTransport(config.Transport, true)}
		authed := webdav.HTTPClientWithBasicAuth(httpClient, creds.Username, creds.Password)
		client, err := caldav.NewClient(authed, conn.RemoteIdentifier)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("invalid caldav endpoint %q", conn.RemoteIdentifier), err)
		}
		return newProvider(client, config, reporter, conn.Calendars), nil
	}
}

func newProvider(client davClient, config Config, reporter domain.FailureReporter, calendars []models.CalendarInfo) *Provider {
	if config.SafeSpan <= 0 {
		config.SafeSpan = DefaultSafeSpan
	}
	if config.AttendeePolicy == "" {
		config.AttendeePolicy = provider.AttendeePolicyRemote
	}
	return &Provider{
		client:    client,
		codec:     ics.NewCodec(),
		reporter:  reporter,
		config:    config,
		calendars: calendars,
	}
}

// Kind implements domain.CalendarProvider
func (p *Provider) Kind() models.ProviderKind { return models.ProviderCalDAV }

// SafeSpan implements domain.CalendarProvider
func (p *Provider) SafeSpan() time.Duration { return p.config.SafeSpan }

// Close implements domain.CalendarProvider. The HTTP client holds no state
// beyond pooled connections.
func (p *Provider) Close() error { return nil }

// ListCalendars discovers the calendar collections that accept VEVENTs.
func (p *Provider) ListCalendars(ctx context.Context) ([]models.CalendarInfo, error) {
	principal, err := p.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, classify("find current user principal", err)
	}
	homeSet, err := p.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, classify("find calendar home set", err)
	}
	collections, err := p.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, classify("find calendars", err)
	}

	calendars := make([]models.CalendarInfo, 0, len(collections))
	for _, c := range collections {
		if c.Path == "" || strings.TrimSpace(c.Name) == "" {
			slog.WarnContext(ctx, "skipping malformed calendar collection", "path", c.Path)
			continue
		}
		if !supportsEvents(c.SupportedComponentSet) {
			slog.DebugContext(ctx, "skipping calendar without VEVENT support",
				"path", c.Path, "components", c.SupportedComponentSet)
			continue
		}
		calendars = append(calendars, models.CalendarInfo{ID: c.Path, Name: c.Name})
	}

	p.calendars = calendars
	return calendars, nil
}

// supportsEvents treats an empty component set as "all components".
func supportsEvents(components []string) bool {
	if len(components) == 0 {
		return true
	}
	return slices.ContainsFunc(components, func(c string) bool {
		return strings.EqualFold(c, ical.CompEvent)
	})
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

// CreateEvent writes a new event. A rejected write is retried once without
// participants before it fails with domain.ErrCalendarWriteFailed.
func (p *Provider) CreateEvent(ctx context.Context, conn *models.CalendarConnection, details models.MeetingDetails, calendarID string) (*models.EventRecord, error) {
	target, err := provider.ResolveTargetCalendar(p.knownCalendars(conn), calendarID)
	if err != nil {
		p.report(ctx, err, conn, details.UID)
		return nil, err
	}
	return p.write(ctx, conn, target.ID, objectPath(target.ID, details.UID), details)
}

// UpdateEvent rewrites the event with details.UID in place, creating it when
// the server has no such event.
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
	return p.write(ctx, conn, existing.CalendarID, existing.Path, details)
}

func (p *Provider) write(ctx context.Context, conn *models.CalendarConnection, calendarID, objPath string, details models.MeetingDetails) (*models.EventRecord, error) {
	record, firstErr := p.put(ctx, calendarID, objPath, details)
	if firstErr == nil {
		return record, nil
	}
	if errors.Is(firstErr, domain.ErrAuthenticationFailed) || ctx.Err() != nil {
		return nil, firstErr
	}

	slog.WarnContext(ctx, "calendar write rejected, retrying without participants",
		"uid", details.UID, "calendar_id", calendarID, logging.ErrKey, firstErr)

	record, secondErr := p.put(ctx, calendarID, objPath, provider.WithoutParticipants(details))
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

func (p *Provider) put(ctx context.Context, calendarID, objPath string, details models.MeetingDetails) (*models.EventRecord, error) {
	record := details.ToEventRecord()
	cal, err := p.codec.Encode(record)
	if err != nil {
		return nil, err
	}

	obj, err := p.client.PutCalendarObject(ctx, objPath, cal)
	if err != nil {
		return nil, classify("put calendar object", err)
	}

	record.CalendarID = calendarID
	record.Path = objPath
	if obj != nil {
		if obj.Path != "" {
			record.Path = obj.Path
		}
		record.ETag = obj.ETag
	}
	return &record, nil
}

// DeleteEvent removes the event with uid. Absence is reported as NotFound.
func (p *Provider) DeleteEvent(ctx context.Context, conn *models.CalendarConnection, uid, calendarHint string) (domain.LookupResult, error) {
	existing, result, err := p.FindEvent(ctx, conn, uid, calendarHint)
	if err != nil || result == domain.NotFound {
		return result, err
	}

	if err := p.client.RemoveAll(ctx, existing.Path); err != nil {
		if isNotFound(err) {
			return domain.NotFound, nil
		}
		return domain.NotFound, classify("remove calendar object", err)
	}
	return domain.Found, nil
}

// FindEvent locates the event with uid, searching calendarHint first and then
// every other known calendar.
func (p *Provider) FindEvent(ctx context.Context, conn *models.CalendarConnection, uid, calendarHint string) (*models.EventRecord, domain.LookupResult, error) {
	for _, calendarID := range p.searchOrder(conn, calendarHint) {
		query := &caldav.CalendarQuery{
			CompRequest: caldav.CalendarCompRequest{Name: ical.CompCalendar, AllProps: true, AllComps: true},
			CompFilter: caldav.CompFilter{
				Name: ical.CompCalendar,
				Comps: []caldav.CompFilter{{
					Name:  ical.CompEvent,
					Props: []caldav.PropFilter{{Name: ical.PropUID, TextMatch: &caldav.TextMatch{Text: uid}}},
				}},
			},
		}

		objects, err := p.client.QueryCalendar(ctx, calendarID, query)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, domain.NotFound, classify("query calendar by uid", err)
		}

		for _, obj := range objects {
			record, err := p.codec.DecodeCalendar(obj.Data, obj.ETag)
			if err != nil {
				slog.DebugContext(ctx, "skipping undecodable calendar object", "path", obj.Path, logging.ErrKey, err)
				continue
			}
			if record.UID != uid {
				continue
			}
			record.CalendarID = calendarID
			record.Path = obj.Path
			return record, domain.Found, nil
		}
	}
	return nil, domain.NotFound, nil
}

// GetEvents decodes every event overlapping [from, to] in the given calendars.
// Objects without a VEVENT and malformed objects are skipped.
func (p *Provider) GetEvents(ctx context.Context, calendars []models.CalendarInfo, from, to time.Time, onlyWithMeetingLink bool) ([]models.EventRecord, error) {
	var events []models.EventRecord
	for _, cal := range calendars {
		objects, err := p.queryRange(ctx, cal.ID, from, to)
		if err != nil {
			return nil, err
		}

		for _, obj := range objects {
			records, err := p.codec.DecodeAll(obj.Data, obj.ETag)
			if err != nil {
				if domain.IsSkippable(err) {
					slog.DebugContext(ctx, "skipping calendar object", "path", obj.Path, logging.ErrKey, err)
					continue
				}
				return nil, err
			}
			for _, record := range records {
				record.CalendarID = cal.ID
				record.Path = obj.Path
				events = append(events, record)
			}
		}
	}

	if onlyWithMeetingLink {
		events = provider.FilterMeetingLinks(events)
	}
	return events, nil
}

// GetBusy returns busy intervals for one calendar. The range must not exceed SafeSpan.
func (p *Provider) GetBusy(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error) {
	if to.Sub(from) > p.config.SafeSpan {
		return nil, domain.NewValidationError(fmt.Sprintf("range %s exceeds safe span %s", to.Sub(from), p.config.SafeSpan), domain.ErrInvalidWindow)
	}

	events, err := p.GetEvents(ctx, []models.CalendarInfo{{ID: calendarID}}, from, to, false)
	if err != nil {
		return nil, err
	}

	busy := make([]models.BusyInterval, 0, len(events))
	for _, e := range events {
		if strings.EqualFold(e.Status, "CANCELLED") || e.AllDay {
			continue
		}
		busy = append(busy, models.BusyInterval{
			Start:        e.Start.UTC(),
			End:          e.End.UTC(),
			CalendarID:   calendarID,
			UID:          e.UID,
			RecurrenceID: e.RecurrenceID,
		})
	}
	return busy, nil
}

// queryRange asks the server to expand recurring events into instances so
// every returned object lies in [from, to].
func (p *Provider) queryRange(ctx context.Context, calendarID string, from, to time.Time) ([]caldav.CalendarObject, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{Name: ical.CompCalendar, AllProps: true, AllComps: true},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent, Start: from.UTC(), End: to.UTC()}},
		},
	}
	objects, err := p.client.QueryCalendar(ctx, calendarID, query)
	if err != nil {
		return nil, classify("query calendar range", err)
	}
	return objects, nil
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
	attrs := []slog.Attr{slog.String("provider", string(models.ProviderCalDAV)), slog.String("uid", uid)}
	if conn != nil {
		attrs = append(attrs, slog.String("connection_uid", conn.UID), slog.String("account_id", conn.AccountID))
	}
	p.reporter.ReportFailure(ctx, err, attrs...)
}

// objectPath places an event at "<calendar path><uid>.ics".
func objectPath(calendarPath, uid string) string {
	if !strings.HasSuffix(calendarPath, "/") {
		calendarPath += "/"
	}
	return calendarPath + path.Base(sanitizeUID(uid)) + ".ics"
}

func sanitizeUID(uid string) string {
	return strings.NewReplacer("/", "_", "?", "_", "#", "_").Replace(uid)
}

// classify keeps typed transport errors and wraps anything else as malformed
// server behavior.
func classify(operation string, err error) error {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) || errors.Is(err, context.Canceled) {
		return err
	}
	if classified := provider.ClassifyNetworkError(err); errors.Is(classified, domain.ErrTransientNetworkError) {
		return classified
	}
	return fmt.Errorf("caldav %s: %w", operation, err)
}

// notFoundStatus is how the WebDAV client's HTTP error renders a 404.
var notFoundStatus = fmt.Sprintf("%d %s", http.StatusNotFound, http.StatusText(http.StatusNotFound))

// isNotFound recognizes the 404 reported by the WebDAV client. Its error type
// is not exported, so the status line must open one of the messages in the
// chain; a 404 elsewhere in a message (a uid or path) does not count.
func isNotFound(err error) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		msg := err.Error()
		if msg == notFoundStatus || strings.HasPrefix(msg, notFoundStatus+": ") {
			return true
		}
	}
	return false
}
