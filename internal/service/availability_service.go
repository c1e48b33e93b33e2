// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/pkg/concurrent"
)

// DefaultAvailabilityFanOut is how many sub-range requests run at once.
const DefaultAvailabilityFanOut = 3

// AvailabilityConfig tunes the availability aggregator.
type AvailabilityConfig struct {
	// FanOut bounds concurrent sub-range requests.
	FanOut int
	// SafeSpan overrides the provider's own span when set.
	SafeSpan time.Duration
	Retry    provider.RetryConfig
}

// AvailabilityService merges busy time across every enabled calendar of an account.
type AvailabilityService struct {
	connections domain.ConnectionRepository
	registry    domain.ProviderRegistry
	reporter    domain.FailureReporter
	pool        *concurrent.WorkerPool
	config      AvailabilityConfig
}

// NewAvailabilityService creates a new AvailabilityService.
func NewAvailabilityService(
	connections domain.ConnectionRepository,
	registry domain.ProviderRegistry,
	reporter domain.FailureReporter,
	config AvailabilityConfig,
) *AvailabilityService {
	if config.FanOut <= 0 {
		config.FanOut = DefaultAvailabilityFanOut
	}
	return &AvailabilityService{
		connections: connections,
		registry:    registry,
		reporter:    reporter,
		pool:        concurrent.NewWorkerPool(config.FanOut),
		config:      config,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *AvailabilityService) ServiceReady() bool {
	return s.connections != nil && s.registry != nil
}

type busyRequest struct {
	calendar models.CalendarInfo
	window   models.TimeWindow
}

// GetAvailability returns the busy intervals of the given calendars of one
// connection over [from, to]. An empty calendar list means every enabled
// calendar. A calendar whose fetch fails contributes nothing and is reported;
// the rest are unaffected.
func (s *AvailabilityService) GetAvailability(ctx context.Context, conn *models.CalendarConnection, calendarIDs []string, from, to time.Time) ([]models.BusyInterval, error) {
	if !to.After(from) {
		return nil, domain.NewValidationError(
			fmt.Sprintf("availability window %s..%s is empty", from.Format(time.RFC3339), to.Format(time.RFC3339)),
			domain.ErrInvalidWindow)
	}

	ctx = logging.AppendCtx(ctx, slog.String("connection_uid", conn.UID))

	calendars := conn.EnabledCalendars()
	if len(calendarIDs) > 0 {
		calendars = slices.DeleteFunc(calendars, func(c models.CalendarInfo) bool {
			return !slices.Contains(calendarIDs, c.ID)
		})
	}
	if len(calendars) == 0 {
		return nil, nil
	}

	p, err := s.registry.ProviderFor(ctx, conn)
	if err != nil {
		return nil, err
	}

	span := s.config.SafeSpan
	if span <= 0 {
		span = p.SafeSpan()
	}
	windows := models.TimeWindow{Start: from.UTC(), End: to.UTC()}.Split(span)

	requests := make([]busyRequest, 0, len(calendars)*len(windows))
	for _, cal := range calendars {
		for _, w := range windows {
			requests = append(requests, busyRequest{calendar: cal, window: w})
		}
	}

	slog.DebugContext(ctx, "fetching availability",
		"calendars", len(calendars),
		"sub_ranges", len(windows),
		"fan_out", s.pool.Size())

	results, errs := concurrent.Collect(ctx, s.pool, requests, func(ctx context.Context, req busyRequest) ([]models.BusyInterval, error) {
		return provider.Do(ctx, s.config.Retry, "get busy", func(ctx context.Context) ([]models.BusyInterval, error) {
			return p.GetBusy(ctx, req.calendar.ID, req.window.Start, req.window.End)
		})
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := make(map[string]error)
	for i, err := range errs {
		if err == nil {
			continue
		}
		calID := requests[i].calendar.ID
		if _, seen := failed[calID]; !seen {
			failed[calID] = err
		}
	}
	for calID, err := range failed {
		slog.WarnContext(ctx, "calendar availability failed, ignoring its busy time",
			"calendar_id", calID, logging.ErrKey, err)
		if s.reporter != nil {
			s.reporter.ReportFailure(ctx, err,
				slog.String("connection_uid", conn.UID),
				slog.String("calendar_id", calID),
				slog.String("operation", "get_availability"))
		}
	}

	// requests are ordered calendar-major then by sub-range, so concatenating
	// keeps each calendar's intervals in sub-range order
	seen := make(map[string]struct{})
	var busy []models.BusyInterval
	for i, intervals := range results {
		if _, bad := failed[requests[i].calendar.ID]; bad {
			continue
		}
		for _, b := range intervals {
			if b.UID != "" {
				key := b.DedupKey()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			if b.CalendarID == "" {
				b.CalendarID = requests[i].calendar.ID
			}
			busy = append(busy, b)
		}
	}
	return busy, nil
}

// GetAccountAvailability aggregates busy time across every connection of the account.
// Connections with sync disabled still count: their credentials may be fine for reads.
func (s *AvailabilityService) GetAccountAvailability(ctx context.Context, accountID string, from, to time.Time) ([]models.BusyInterval, error) {
	conns, err := s.connections.ListConnectionsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var busy []models.BusyInterval
	seen := make(map[string]struct{})
	for _, conn := range conns {
		intervals, err := s.GetAvailability(ctx, conn, nil, from, to)
		if err != nil {
			if domain.GetErrorType(err) == domain.ErrorTypeValidation {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.WarnContext(ctx, "connection availability failed, ignoring its busy time",
				"connection_uid", conn.UID, logging.ErrKey, err)
			if s.reporter != nil {
				s.reporter.ReportFailure(ctx, err,
					slog.String("connection_uid", conn.UID),
					slog.String("operation", "get_availability"))
			}
			continue
		}
		for _, b := range intervals {
			if b.UID != "" {
				if _, dup := seen[b.DedupKey()]; dup {
					continue
				}
				seen[b.DedupKey()] = struct{}{}
			}
			busy = append(busy, b)
		}
	}
	return busy, nil
}

// CheckConflict reports the busy intervals of the account overlapping [start, end).
func (s *AvailabilityService) CheckConflict(ctx context.Context, accountID string, start, end time.Time) ([]models.BusyInterval, error) {
	busy, err := s.GetAccountAvailability(ctx, accountID, start, end)
	if err != nil {
		return nil, err
	}
	window := models.TimeWindow{Start: start, End: end}
	return slices.DeleteFunc(busy, func(b models.BusyInterval) bool {
		return !window.Overlaps(b.Start, b.End)
	}), nil
}

// MergeBusy sorts intervals and collapses overlapping or touching ones.
func MergeBusy(busy []models.BusyInterval) []models.TimeWindow {
	if len(busy) == 0 {
		return nil
	}
	sorted := make([]models.TimeWindow, 0, len(busy))
	for _, b := range busy {
		if b.End.After(b.Start) {
			sorted = append(sorted, models.TimeWindow{Start: b.Start.UTC(), End: b.End.UTC()})
		}
	}
	slices.SortFunc(sorted, func(a, b models.TimeWindow) int { return a.Start.Compare(b.Start) })

	var merged []models.TimeWindow
	for _, w := range sorted {
		if n := len(merged); n > 0 && !w.Start.After(merged[n-1].End) {
			if w.End.After(merged[n-1].End) {
				merged[n-1].End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// FreeSlots returns the gaps of window not covered by busy that are at least
// minLength long.
func FreeSlots(busy []models.BusyInterval, window models.TimeWindow, minLength time.Duration) []models.TimeWindow {
	var free []models.TimeWindow
	cursor := window.Start.UTC()
	end := window.End.UTC()

	emit := func(from, to time.Time) {
		if to.Sub(from) > 0 && to.Sub(from) >= minLength {
			free = append(free, models.TimeWindow{Start: from, End: to})
		}
	}

	for _, b := range MergeBusy(busy) {
		if !b.End.After(cursor) {
			continue
		}
		if !b.Start.Before(end) {
			break
		}
		if b.Start.After(cursor) {
			emit(cursor, b.Start)
		}
		cursor = b.End
	}
	if cursor.Before(end) {
		emit(cursor, end)
	}
	return free
}
