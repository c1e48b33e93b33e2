// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/akamensky/base58"
)

// SeriesMaster is the key-value store representation of a meeting series.
// A series is soft-terminated through Cancelled and never hard-deleted while
// instances reference it.
type SeriesMaster struct {
	UID          string         `json:"uid"`
	AccountID    string         `json:"account_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Location     string         `json:"location,omitempty"`
	Organizer    string         `json:"organizer,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Rule         RecurrenceRule `json:"rule"`
	CalendarID   string         `json:"calendar_id,omitempty"`
	Sequence     int            `json:"sequence"`
	Cancelled    bool           `json:"cancelled"`
	// EndsBefore truncates the series: occurrences starting at or after it
	// are never materialized again.
	EndsBefore   *time.Time     `json:"ends_before,omitempty"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
	UpdatedAt    *time.Time     `json:"updated_at,omitempty"`
}

// Truncated reports whether the occurrence starting at t was cut off.
func (s *SeriesMaster) Truncated(t time.Time) bool {
	return s.EndsBefore != nil && !t.Before(*s.EndsBefore)
}

// InstanceUID derives the id of the instance of a series at originalStart, so
// repeated expansion always lands on the same row.
func InstanceUID(seriesUID string, originalStart time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d", seriesUID, originalStart.Unix()))
	return base58.Encode(sum[:16])
}

// InstanceStatus is the lifecycle state of one slot.
type InstanceStatus string

// Instance states. Cancelled and Completed are terminal.
const (
	InstanceStatusProposed  InstanceStatus = "proposed"
	InstanceStatusConfirmed InstanceStatus = "confirmed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusCompleted InstanceStatus = "completed"
)

// CanTransitionTo reports whether moving from s to next is allowed.
// Re-applying the current state is always allowed so batch operations stay idempotent.
func (s InstanceStatus) CanTransitionTo(next InstanceStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case InstanceStatusProposed:
		return next == InstanceStatusConfirmed || next == InstanceStatusCancelled
	case InstanceStatusConfirmed:
		return next == InstanceStatusCancelled || next == InstanceStatusCompleted
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCancelled || s == InstanceStatusCompleted
}

// SlotInstance is one concrete occurrence of a series, or a one-off booking
// when SeriesUID is empty.
type SlotInstance struct {
	UID           string               `json:"uid"`
	SeriesUID     string               `json:"series_uid,omitempty"`
	AccountID     string               `json:"account_id"`
	OriginalStart time.Time            `json:"original_start"`
	Start         time.Time            `json:"start"`
	End           time.Time            `json:"end"`
	Status        InstanceStatus       `json:"status"`
	Title         string               `json:"title"`
	Description   string               `json:"description,omitempty"`
	Location      string               `json:"location,omitempty"`
	Participants  []string             `json:"participants,omitempty"`
	Overridden    bool                 `json:"overridden,omitempty"`
	RemoteRefs    map[string]RemoteRef `json:"remote_refs,omitempty"`
	CreatedAt     *time.Time           `json:"created_at,omitempty"`
	UpdatedAt     *time.Time           `json:"updated_at,omitempty"`
}

// RemoteRef points at the remote copy of an instance on one calendar.
type RemoteRef struct {
	ConnectionUID string    `json:"connection_uid"`
	CalendarID    string    `json:"calendar_id"`
	RemoteUID     string    `json:"remote_uid"`
	Path          string    `json:"path,omitempty"`
	ETag          string    `json:"etag,omitempty"`
	Sequence      int       `json:"sequence"`
	SyncedAt      time.Time `json:"synced_at"`
}

// RemoteRefKey is the key used for RemoteRefs.
func RemoteRefKey(connectionUID, calendarID string) string {
	return connectionUID + "/" + calendarID
}

// InstanceChanges is a partial update for one instance. Nil fields are left alone.
type InstanceChanges struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Location     *string    `json:"location,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	Participants []string   `json:"participants,omitempty"`
}

// SeriesChanges is a partial update for a series template. Nil fields are left alone.
type SeriesChanges struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Location     *string  `json:"location,omitempty"`
	Participants []string `json:"participants,omitempty"`
	// Shift moves the template of every occurrence from the effective
	// instant onward by the given offset.
	Shift *time.Duration `json:"shift,omitempty"`
	// Duration replaces the occurrence length in minutes.
	Duration *int `json:"duration,omitempty"`
}

// Apply copies the template part of c onto the master.
func (c SeriesChanges) Apply(master *SeriesMaster) {
	if c.Title != nil {
		master.Title = *c.Title
	}
	if c.Description != nil {
		master.Description = *c.Description
	}
	if c.Location != nil {
		master.Location = *c.Location
	}
	if c.Participants != nil {
		master.Participants = c.Participants
	}
	if c.Duration != nil {
		master.Rule.Duration = *c.Duration
	}
}

// ApplyToInstance re-templates an instance from the updated master.
func (c SeriesChanges) ApplyToInstance(master *SeriesMaster, instance *SlotInstance) {
	instance.Title = master.Title
	instance.Description = master.Description
	instance.Location = master.Location
	instance.Participants = master.Participants
	if c.Shift != nil {
		instance.Start = instance.OriginalStart.Add(master.Rule.ShiftAt(instance.OriginalStart))
	}
	instance.End = instance.Start.Add(master.Rule.DurationValue())
}
