// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package provider

import (
	"fmt"
	"strings"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// MergeCalendars combines a fresh listing with the calendars stored on the
// connection. A new connection enables only its primary (or first) calendar
// and opts nothing into sync. Calendars seen before keep the enabled, sync and
// color choices made for them.
func MergeCalendars(previous, listed []models.CalendarInfo) []models.CalendarInfo {
	known := make(map[string]models.CalendarInfo, len(previous))
	for _, cal := range previous {
		known[cal.ID] = cal
	}

	primary := -1
	for i, cal := range listed {
		if cal.Primary {
			primary = i
			break
		}
	}
	if primary < 0 && len(listed) > 0 {
		primary = 0
	}

	merged := make([]models.CalendarInfo, 0, len(listed))
	for i, cal := range listed {
		if prev, ok := known[cal.ID]; ok {
			cal.Enabled = prev.Enabled
			cal.Sync = prev.Sync
			if prev.Color != "" {
				cal.Color = prev.Color
			}
		} else {
			cal.Enabled = len(previous) == 0 && i == primary
			cal.Sync = false
		}
		merged = append(merged, cal)
	}
	return merged
}

// ResolveTargetCalendar picks the calendar a new event is written to: the
// explicit id when given, else the first eligible calendar.
func ResolveTargetCalendar(calendars []models.CalendarInfo, calendarID string) (models.CalendarInfo, error) {
	if calendarID != "" {
		for _, cal := range calendars {
			if cal.ID == calendarID {
				if cal.ReadOnly {
					return models.CalendarInfo{}, domain.NewWriteFailedError(fmt.Sprintf("calendar %q is read-only", calendarID))
				}
				return cal, nil
			}
		}
		// Not in the cached listing yet; let the provider decide
		return models.CalendarInfo{ID: calendarID}, nil
	}

	for _, cal := range calendars {
		if cal.Eligible() {
			return cal, nil
		}
	}
	return models.CalendarInfo{}, domain.NewWriteFailedError("no writable calendar on connection")
}

// FilterMeetingLinks keeps events that carry a joinable location.
func FilterMeetingLinks(events []models.EventRecord) []models.EventRecord {
	kept := events[:0:0]
	for _, e := range events {
		if e.HasMeetingLink() {
			kept = append(kept, e)
		}
	}
	return kept
}

// MergeAttendees resolves the attendee list written over an existing remote
// event. With the remote policy the remote list wins even when it is empty,
// since the provider side may have removed every attendee.
func MergeAttendees(policy AttendeePolicy, local []string, remote []models.Attendee) []string {
	if policy == AttendeePolicyLocal {
		return local
	}
	out := make([]string, 0, len(remote))
	for _, a := range remote {
		if email := strings.TrimSpace(a.Email); email != "" {
			out = append(out, email)
		}
	}
	return out
}

// AttendeePolicy decides which attendee list wins when an existing remote
// event is rewritten.
type AttendeePolicy string

// Attendee policies.
const (
	AttendeePolicyRemote AttendeePolicy = "remote"
	AttendeePolicyLocal  AttendeePolicy = "local"
)

// ParseAttendeePolicy defaults unknown values to the remote policy.
func ParseAttendeePolicy(value string) AttendeePolicy {
	if AttendeePolicy(strings.ToLower(strings.TrimSpace(value))) == AttendeePolicyLocal {
		return AttendeePolicyLocal
	}
	return AttendeePolicyRemote
}
