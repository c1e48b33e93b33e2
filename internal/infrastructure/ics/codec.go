// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package ics converts between iCalendar objects and provider-neutral event records.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// ICS constants for consistent values across all generated calendar objects
const (
	ProdID      = "-//Linux Foundation//LFX Calendar Sync Service//EN"
	ICALVersion = "2.0"
	ICALScale   = "GREGORIAN"
)

const (
	mailtoPrefix   = "mailto:"
	propLicLoc     = "X-LIC-LOCATION"
	propOffsetTo   = "TZOFFSETTO"
	propOffsetFrom = "TZOFFSETFROM"
)

// ErrInvalidParticipant is returned by Encode when an attendee address cannot be parsed.
var ErrInvalidParticipant = errors.New("invalid participant address")

// Codec encodes and decodes VEVENT objects.
type Codec struct {
	now func() time.Time
}

// NewCodec creates a new codec
func NewCodec() *Codec {
	return &Codec{now: time.Now}
}

// Parse reads one VCALENDAR from r.
func (c *Codec) Parse(r io.Reader) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return nil, domain.NewMalformedDataError("cannot parse calendar object", err)
	}
	return cal, nil
}

// Decode parses a raw calendar object and returns its primary event: the
// series master when present, otherwise the first VEVENT.
func (c *Codec) Decode(data []byte, etag string) (*models.EventRecord, error) {
	cal, err := c.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return c.DecodeCalendar(cal, etag)
}

// DecodeCalendar returns the primary event of an already parsed calendar.
func (c *Codec) DecodeCalendar(cal *ical.Calendar, etag string) (*models.EventRecord, error) {
	records, err := c.DecodeAll(cal, etag)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].RecurrenceID == nil {
			return &records[i], nil
		}
	}
	return &records[0], nil
}

// DecodeAll returns every VEVENT in the calendar, master first as stored.
// A calendar without VEVENT fails with domain.ErrNoEventComponent.
func (c *Codec) DecodeAll(cal *ical.Calendar, etag string) ([]models.EventRecord, error) {
	if cal == nil {
		return nil, domain.ErrNoEventComponent
	}

	var records []models.EventRecord
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		record, err := c.decodeEvent(cal, child, etag)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: calendar object %q", domain.ErrNoEventComponent, etag)
	}
	return records, nil
}

func (c *Codec) decodeEvent(cal *ical.Calendar, comp *ical.Component, etag string) (*models.EventRecord, error) {
	record := &models.EventRecord{ETag: etag}

	var err error
	if record.UID, err = comp.Props.Text(ical.PropUID); err != nil {
		return nil, domain.NewMalformedDataError("invalid UID", err)
	}
	if record.Summary, err = comp.Props.Text(ical.PropSummary); err != nil {
		return nil, domain.NewMalformedDataError("invalid SUMMARY", err)
	}
	if record.Description, err = comp.Props.Text(ical.PropDescription); err != nil {
		return nil, domain.NewMalformedDataError("invalid DESCRIPTION", err)
	}
	if record.Location, err = comp.Props.Text(ical.PropLocation); err != nil {
		return nil, domain.NewMalformedDataError("invalid LOCATION", err)
	}
	if status := comp.Props.Get(ical.PropStatus); status != nil {
		record.Status = strings.ToUpper(status.Value)
	}
	if organizer := comp.Props.Get(ical.PropOrganizer); organizer != nil {
		record.Organizer = stripMailto(organizer.Value)
	}
	if seq := comp.Props.Get(ical.PropSequence); seq != nil {
		n, err := strconv.Atoi(strings.TrimSpace(seq.Value))
		if err != nil {
			return nil, domain.NewMalformedDataError("invalid SEQUENCE", err)
		}
		record.Sequence = n
	}

	if record.Summary == "" {
		record.Summary = strings.Trim(etag, `"`)
		if record.Summary == "" {
			record.Summary = record.UID
		}
	}

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, domain.NewMalformedDataError(fmt.Sprintf("event %q has no DTSTART", record.UID))
	}
	start, loc, err := parseDateTime(cal, dtstart)
	if err != nil {
		return nil, err
	}
	record.Start = start
	record.AllDay = dtstart.ValueType() == ical.ValueDate
	if dtstart.Params.Get(ical.ParamTimezoneID) != "" {
		record.Timezone = loc.String()
	}

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		end, _, err := parseDateTime(cal, comp.Props.Get(ical.PropDateTimeEnd))
		if err != nil {
			return nil, err
		}
		record.End = end
	case comp.Props.Get(ical.PropDuration) != nil:
		d, err := comp.Props.Get(ical.PropDuration).Duration()
		if err != nil {
			return nil, domain.NewMalformedDataError("invalid DURATION", err)
		}
		record.End = start.Add(d)
	case record.AllDay:
		record.End = start.AddDate(0, 0, 1)
	default:
		record.End = start
	}
	record.Duration = record.End.Sub(record.Start)

	for _, p := range comp.Props.Values(ical.PropAttendee) {
		record.Attendees = append(record.Attendees, models.Attendee{
			Email:  stripMailto(p.Value),
			Name:   p.Params.Get(ical.ParamCommonName),
			Role:   p.Params.Get(ical.ParamRole),
			Status: p.Params.Get(ical.ParamParticipationStatus),
		})
	}

	if rid := comp.Props.Get(ical.PropRecurrenceID); rid != nil {
		t, _, err := parseDateTime(cal, rid)
		if err != nil {
			return nil, err
		}
		record.RecurrenceID = &t
	}

	for _, p := range comp.Props.Values(ical.PropExceptionDates) {
		// EXDATE may carry a comma-separated list
		for _, value := range strings.Split(p.Value, ",") {
			single := p
			single.Value = strings.TrimSpace(value)
			t, _, err := parseDateTime(cal, &single)
			if err != nil {
				return nil, err
			}
			record.ExDates = append(record.ExDates, t)
		}
	}

	if rrule := comp.Props.Get(ical.PropRecurrenceRule); rrule != nil {
		record.RRule = rrule.Value
	}

	return record, nil
}

// Encode renders record as a single VEVENT in a minimal VCALENDAR. Each
// attendee is validated; a malformed address fails with ErrInvalidParticipant.
func (c *Codec) Encode(record models.EventRecord) (*ical.Calendar, error) {
	if record.UID == "" {
		return nil, fmt.Errorf("event UID is required")
	}

	loc := time.UTC
	if record.Timezone != "" {
		l, err := time.LoadLocation(record.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", record.Timezone, err)
		}
		loc = l
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, ICALVersion)
	cal.Props.SetText(ical.PropProductID, ProdID)
	cal.Props.SetText(ical.PropCalendarScale, ICALScale)

	if loc != time.UTC {
		cal.Children = append(cal.Children, timezoneComponent(loc, record.Start))
	}

	event := ical.NewComponent(ical.CompEvent)
	event.Props.SetText(ical.PropUID, record.UID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())

	seq := newProp(ical.PropSequence)
	seq.Value = strconv.Itoa(record.Sequence)
	event.Props.Set(seq)

	if record.AllDay {
		start := newProp(ical.PropDateTimeStart)
		start.SetDate(record.Start.In(loc))
		event.Props.Set(start)
		end := newProp(ical.PropDateTimeEnd)
		end.SetDate(record.End.In(loc))
		event.Props.Set(end)
	} else {
		event.Props.Set(dateTimeProp(ical.PropDateTimeStart, record.Start, loc))
		event.Props.Set(dateTimeProp(ical.PropDateTimeEnd, record.End, loc))
	}

	event.Props.SetText(ical.PropSummary, record.Summary)
	if record.Description != "" {
		event.Props.SetText(ical.PropDescription, record.Description)
	}
	if record.Location != "" {
		event.Props.SetText(ical.PropLocation, record.Location)
	}

	status := record.Status
	if status == "" {
		status = "CONFIRMED"
	}
	event.Props.SetText(ical.PropStatus, status)

	if record.Organizer != "" {
		if _, err := mail.ParseAddress(record.Organizer); err != nil {
			return nil, fmt.Errorf("%w: organizer %q", ErrInvalidParticipant, record.Organizer)
		}
		organizer := newProp(ical.PropOrganizer)
		organizer.Value = mailtoPrefix + record.Organizer
		event.Props.Set(organizer)
	}

	for _, attendee := range record.Attendees {
		if _, err := mail.ParseAddress(attendee.Email); err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidParticipant, attendee.Email)
		}
		p := newProp(ical.PropAttendee)
		p.Value = mailtoPrefix + attendee.Email
		if attendee.Name != "" {
			p.Params.Set(ical.ParamCommonName, attendee.Name)
		}
		role := attendee.Role
		if role == "" {
			role = "REQ-PARTICIPANT"
		}
		p.Params.Set(ical.ParamRole, role)
		partstat := attendee.Status
		if partstat == "" {
			partstat = "NEEDS-ACTION"
		}
		p.Params.Set(ical.ParamParticipationStatus, partstat)
		p.Params.Set(ical.ParamRSVP, "TRUE")
		event.Props.Add(p)
	}

	if record.RRule != "" {
		// RRULE is a structured value and must not be text-escaped
		p := newProp(ical.PropRecurrenceRule)
		p.Value = strings.TrimPrefix(record.RRule, "RRULE:")
		event.Props.Set(p)
	}
	for _, ex := range record.ExDates {
		event.Props.Add(dateTimeProp(ical.PropExceptionDates, ex, loc))
	}
	if record.RecurrenceID != nil {
		event.Props.Set(dateTimeProp(ical.PropRecurrenceID, *record.RecurrenceID, loc))
	}

	cal.Children = append(cal.Children, event)
	return cal, nil
}

// Marshal serializes a calendar to its wire form.
func (c *Codec) Marshal(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBytes is Encode followed by Marshal.
func (c *Codec) EncodeBytes(record models.EventRecord) ([]byte, error) {
	cal, err := c.Encode(record)
	if err != nil {
		return nil, err
	}
	return c.Marshal(cal)
}

// parseDateTime resolves a date or date-time property to an absolute instant.
// TZIDs unknown to the IANA database are looked up in the embedded VTIMEZONE.
func parseDateTime(cal *ical.Calendar, prop *ical.Prop) (time.Time, *time.Location, error) {
	tzid := prop.Params.Get(ical.ParamTimezoneID)
	loc, err := resolveLocation(cal, tzid)
	if err != nil {
		return time.Time{}, nil, err
	}

	// DateTime would reload TZID from the IANA database, so hand it the
	// resolved location instead.
	resolved := *prop
	resolved.Params = maps.Clone(prop.Params)
	if resolved.Params != nil {
		resolved.Params.Del(ical.ParamTimezoneID)
	}

	t, err := resolved.DateTime(loc)
	if err != nil {
		return time.Time{}, nil, domain.NewMalformedDataError(fmt.Sprintf("invalid %s value %q", prop.Name, prop.Value), err)
	}
	return t, loc, nil
}

func resolveLocation(cal *ical.Calendar, tzid string) (*time.Location, error) {
	if tzid == "" {
		return time.UTC, nil
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		return loc, nil
	}

	for _, child := range cal.Children {
		if child.Name != ical.CompTimezone {
			continue
		}
		if id, _ := child.Props.Text(ical.PropTimezoneID); id != tzid {
			continue
		}
		if lic := child.Props.Get(propLicLoc); lic != nil {
			if loc, err := time.LoadLocation(lic.Value); err == nil {
				return loc, nil
			}
		}
		// No usable IANA name: pin the STANDARD offset.
		var fallback *ical.Component
		for _, sub := range child.Children {
			if sub.Name == ical.CompTimezoneStandard {
				fallback = sub
				break
			}
			if fallback == nil {
				fallback = sub
			}
		}
		if fallback != nil {
			if off := fallback.Props.Get(propOffsetTo); off != nil {
				secs, err := parseUTCOffset(off.Value)
				if err == nil {
					return time.FixedZone(tzid, secs), nil
				}
			}
		}
	}

	return nil, domain.NewMalformedDataError(fmt.Sprintf("unknown timezone %q", tzid))
}

// parseUTCOffset parses RFC 5545 utc-offset values such as "-0500" or "+053000".
func parseUTCOffset(value string) (int, error) {
	value = strings.TrimSpace(value)
	if len(value) != 5 && len(value) != 7 {
		return 0, fmt.Errorf("invalid utc offset %q", value)
	}
	sign := 1
	switch value[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("invalid utc offset %q", value)
	}
	hours, err := strconv.Atoi(value[1:3])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(value[3:5])
	if err != nil {
		return 0, err
	}
	seconds := 0
	if len(value) == 7 {
		if seconds, err = strconv.Atoi(value[5:7]); err != nil {
			return 0, err
		}
	}
	return sign * (hours*3600 + minutes*60 + seconds), nil
}

func formatUTCOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("%c%02d%02d", sign, secs/3600, (secs%3600)/60)
}

// timezoneComponent builds a minimal VTIMEZONE naming the IANA zone. The
// STANDARD offset is taken at the event start.
func timezoneComponent(loc *time.Location, at time.Time) *ical.Component {
	tz := ical.NewComponent(ical.CompTimezone)
	tz.Props.SetText(ical.PropTimezoneID, loc.String())
	lic := newProp(propLicLoc)
	lic.Value = loc.String()
	tz.Props.Set(lic)

	_, offset := at.In(loc).Zone()
	std := ical.NewComponent(ical.CompTimezoneStandard)
	dtstart := newProp(ical.PropDateTimeStart)
	dtstart.Value = "19700101T000000"
	std.Props.Set(dtstart)
	from := newProp(propOffsetFrom)
	from.Value = formatUTCOffset(offset)
	std.Props.Set(from)
	to := newProp(propOffsetTo)
	to.Value = formatUTCOffset(offset)
	std.Props.Set(to)

	tz.Children = append(tz.Children, std)
	return tz
}

func dateTimeProp(name string, t time.Time, loc *time.Location) *ical.Prop {
	p := newProp(name)
	if loc == time.UTC {
		p.SetDateTime(t.UTC())
	} else {
		p.SetDateTime(t.In(loc))
	}
	return p
}

func newProp(name string) *ical.Prop {
	p := ical.NewProp(name)
	if p.Params == nil {
		p.Params = make(ical.Params)
	}
	return p
}

func stripMailto(value string) string {
	if len(value) >= len(mailtoPrefix) && strings.EqualFold(value[:len(mailtoPrefix)], mailtoPrefix) {
		return value[len(mailtoPrefix):]
	}
	return value
}
