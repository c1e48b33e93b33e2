// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"strings"
	"time"
)

// EventRecord is the provider-neutral view of one remote calendar event.
type EventRecord struct {
	UID          string        `json:"uid"`
	CalendarID   string        `json:"calendar_id,omitempty"`
	Path         string        `json:"path,omitempty"`
	ETag         string        `json:"etag,omitempty"`
	Sequence     int           `json:"sequence"`
	Summary      string        `json:"summary"`
	Description  string        `json:"description,omitempty"`
	Location     string        `json:"location,omitempty"`
	Organizer    string        `json:"organizer,omitempty"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Timezone     string        `json:"timezone,omitempty"`
	Duration     time.Duration `json:"duration"`
	AllDay       bool          `json:"all_day,omitempty"`
	Attendees    []Attendee    `json:"attendees,omitempty"`
	RecurrenceID *time.Time    `json:"recurrence_id,omitempty"`
	ExDates      []time.Time   `json:"exdates,omitempty"`
	RRule        string        `json:"rrule,omitempty"`
	Status       string        `json:"status,omitempty"`
}

// Attendee is one participant of an event.
type Attendee struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

// AttendeeEmails returns the attendee addresses in order.
func (e *EventRecord) AttendeeEmails() []string {
	emails := make([]string, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		emails = append(emails, a.Email)
	}
	return emails
}

// HasMeetingLink reports whether the event carries a location, which is the
// signal used for "has a joinable link".
func (e *EventRecord) HasMeetingLink() bool {
	return strings.TrimSpace(e.Location) != ""
}

// BusyInterval is a derived span of unavailability. It is never persisted.
type BusyInterval struct {
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	CalendarID   string     `json:"calendar_id"`
	UID          string     `json:"uid,omitempty"`
	RecurrenceID *time.Time `json:"recurrence_id,omitempty"`
}

// DedupKey identifies the physical remote object behind the interval.
func (b BusyInterval) DedupKey() string {
	if b.RecurrenceID == nil {
		return b.UID + "|"
	}
	return b.UID + "|" + b.RecurrenceID.UTC().Format(time.RFC3339)
}

// MeetingDetails is what the orchestrator asks a provider to write.
type MeetingDetails struct {
	UID          string      `json:"uid"`
	Sequence     int         `json:"sequence"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Location     string      `json:"location,omitempty"`
	Organizer    string      `json:"organizer,omitempty"`
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	Timezone     string      `json:"timezone,omitempty"`
	Participants []string    `json:"participants,omitempty"`
	RRule        string      `json:"rrule,omitempty"`
	ExDates      []time.Time `json:"exdates,omitempty"`
	RecurrenceID *time.Time  `json:"recurrence_id,omitempty"`
}

// ToEventRecord builds the record that encodes these details.
func (m MeetingDetails) ToEventRecord() EventRecord {
	attendees := make([]Attendee, 0, len(m.Participants))
	for _, p := range m.Participants {
		attendees = append(attendees, Attendee{Email: p})
	}
	return EventRecord{
		UID:          m.UID,
		Sequence:     m.Sequence,
		Summary:      m.Title,
		Description:  m.Description,
		Location:     m.Location,
		Organizer:    m.Organizer,
		Start:        m.Start,
		End:          m.End,
		Timezone:     m.Timezone,
		Duration:     m.End.Sub(m.Start),
		Attendees:    attendees,
		RecurrenceID: m.RecurrenceID,
		ExDates:      m.ExDates,
		RRule:        m.RRule,
	}
}
