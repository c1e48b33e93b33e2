// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecurrenceRule_IsRecurring(t *testing.T) {
	tests := []struct {
		name     string
		rule     *RecurrenceRule
		expected bool
	}{
		{"nil rule", nil, false},
		{"single occurrence", &RecurrenceRule{DTStart: time.Now()}, false},
		{"raw rrule", &RecurrenceRule{RRule: "FREQ=DAILY"}, true},
		{"structured", &RecurrenceRule{Frequency: FrequencyWeekly}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.rule.IsRecurring())
		})
	}
}

func TestRecurrenceRule_ExceptionsAndOverridesStayDisjoint(t *testing.T) {
	occ := time.Date(2025, 3, 11, 15, 0, 0, 0, time.UTC)
	rule := &RecurrenceRule{Frequency: FrequencyWeekly}

	assert.True(t, rule.SetOverride(Override{
		OriginalStart: occ,
		Start:         occ.Add(time.Hour),
		End:           occ.Add(2 * time.Hour),
	}))
	_, ok := rule.OverrideFor(occ)
	assert.True(t, ok)

	assert.True(t, rule.AddException(occ))
	assert.False(t, rule.AddException(occ), "second exception for the same instant is a no-op")

	_, ok = rule.OverrideFor(occ)
	assert.False(t, ok, "exception must drop the override")
	assert.False(t, rule.SetOverride(Override{OriginalStart: occ, Start: occ, End: occ.Add(time.Hour)}))
	assert.Len(t, rule.ExDates, 1)
}

func TestRecurrenceRule_SetOverrideReplaces(t *testing.T) {
	occ := time.Date(2025, 3, 11, 15, 0, 0, 0, time.UTC)
	rule := &RecurrenceRule{Frequency: FrequencyWeekly}

	rule.SetOverride(Override{OriginalStart: occ, Start: occ.Add(time.Hour), End: occ.Add(2 * time.Hour)})
	rule.SetOverride(Override{OriginalStart: occ, Start: occ.Add(3 * time.Hour), End: occ.Add(4 * time.Hour)})

	assert.Len(t, rule.Overrides, 1)
	o, _ := rule.OverrideFor(occ)
	assert.Equal(t, occ.Add(3*time.Hour), o.Start)
}

func TestRecurrenceRule_ShiftAt(t *testing.T) {
	from := time.Date(2025, 1, 21, 10, 0, 0, 0, time.UTC)
	r := &RecurrenceRule{}
	r.AddShift(from, time.Hour)
	r.AddShift(from.AddDate(0, 0, 7), -30*time.Minute)
	r.AddShift(from, 0)

	assert.Len(t, r.Shifts, 2)
	assert.Zero(t, r.ShiftAt(from.Add(-time.Second)))
	assert.Equal(t, time.Hour, r.ShiftAt(from))
	assert.Equal(t, 30*time.Minute, r.ShiftAt(from.AddDate(0, 0, 7)))

	earliest, latest := r.ShiftBounds()
	assert.Equal(t, -30*time.Minute, earliest)
	assert.Equal(t, time.Hour, latest)
}

func TestInstanceStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from     InstanceStatus
		to       InstanceStatus
		expected bool
	}{
		{InstanceStatusProposed, InstanceStatusConfirmed, true},
		{InstanceStatusProposed, InstanceStatusCancelled, true},
		{InstanceStatusProposed, InstanceStatusCompleted, false},
		{InstanceStatusConfirmed, InstanceStatusConfirmed, true},
		{InstanceStatusConfirmed, InstanceStatusCompleted, true},
		{InstanceStatusConfirmed, InstanceStatusProposed, false},
		{InstanceStatusCancelled, InstanceStatusConfirmed, false},
		{InstanceStatusCompleted, InstanceStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestBusyInterval_DedupKey(t *testing.T) {
	rid := time.Date(2025, 3, 11, 15, 0, 0, 0, time.UTC)
	a := BusyInterval{UID: "evt-1", CalendarID: "a"}
	b := BusyInterval{UID: "evt-1", CalendarID: "b"}
	c := BusyInterval{UID: "evt-1", RecurrenceID: &rid}

	assert.Equal(t, a.DedupKey(), b.DedupKey())
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestCalendarConnection_SyncCalendars(t *testing.T) {
	conn := &CalendarConnection{
		Calendars: []CalendarInfo{
			{ID: "work", Enabled: true, Sync: true},
			{ID: "home", Enabled: true, Sync: false},
			{ID: "shared", Enabled: true, Sync: true, ReadOnly: true},
		},
	}

	cals := conn.SyncCalendars()
	assert.Len(t, cals, 1)
	assert.Equal(t, "work", cals[0].ID)

	conn.SyncDisabled = true
	assert.Empty(t, conn.SyncCalendars())
	assert.Len(t, conn.EnabledCalendars(), 3)
}
