// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"slices"
	"time"
)

// Frequency is the base repeat unit of a recurrence rule.
type Frequency string

// Supported frequencies, named as in RFC 5545.
const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

// RecurrenceRule describes a repeating pattern anchored at DTStart.
//
// A rule with neither RRule nor Frequency set describes a single occurrence.
// ExDates and Overrides are keyed by the original occurrence start, they are
// kept disjoint and both are subsets of the raw rule output.
type RecurrenceRule struct {
	// RRule is a raw RFC 5545 RRULE value (e.g. "FREQ=WEEKLY;BYDAY=TU").
	// When set it takes precedence over the structured fields below.
	RRule      string     `json:"rrule,omitempty"`
	Frequency  Frequency  `json:"frequency,omitempty"`
	Interval   int        `json:"interval,omitempty"`
	Count      int        `json:"count,omitempty"`
	Until      *time.Time `json:"until,omitempty"`
	ByDay      []string   `json:"by_day,omitempty"`
	ByMonthDay []int      `json:"by_month_day,omitempty"`

	DTStart  time.Time `json:"dtstart"`
	Duration int       `json:"duration"` // minutes
	Timezone string    `json:"timezone,omitempty"`

	ExDates   []time.Time `json:"exdates,omitempty"`
	Overrides []Override  `json:"overrides,omitempty"`
	// Shifts move the template of every occurrence from a given original
	// start onward. Overridden occurrences keep their own timing.
	Shifts []TemplateShift `json:"shifts,omitempty"`
}

// TemplateShift offsets the occurrences whose original start is at or after From.
type TemplateShift struct {
	From   time.Time     `json:"from"`
	Offset time.Duration `json:"offset"`
}

// Override moves one occurrence of a series. OriginalStart stays the dedup key.
type Override struct {
	OriginalStart time.Time `json:"original_start"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// Occurrence is one concrete instant produced by expanding a rule.
type Occurrence struct {
	OriginalStart time.Time `json:"original_start"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Overridden    bool      `json:"overridden,omitempty"`
}

// IsRecurring reports whether the rule repeats.
func (r *RecurrenceRule) IsRecurring() bool {
	return r != nil && (r.RRule != "" || r.Frequency != "")
}

// DurationValue returns the occurrence length.
func (r *RecurrenceRule) DurationValue() time.Duration {
	return time.Duration(r.Duration) * time.Minute
}

// ShiftAt returns the total template offset for the occurrence originally
// starting at t.
func (r *RecurrenceRule) ShiftAt(t time.Time) time.Duration {
	var offset time.Duration
	for _, sh := range r.Shifts {
		if !t.Before(sh.From) {
			offset += sh.Offset
		}
	}
	return offset
}

// ShiftBounds returns the most negative and the most positive offset any
// occurrence can receive.
func (r *RecurrenceRule) ShiftBounds() (earliest, latest time.Duration) {
	for _, sh := range r.Shifts {
		if sh.Offset < 0 {
			earliest += sh.Offset
		} else {
			latest += sh.Offset
		}
	}
	return earliest, latest
}

// AddShift moves the template from the original start from onward by offset.
func (r *RecurrenceRule) AddShift(from time.Time, offset time.Duration) {
	if offset == 0 {
		return
	}
	r.Shifts = append(r.Shifts, TemplateShift{From: from.UTC(), Offset: offset})
}

// HasException reports whether the occurrence starting at t was removed.
func (r *RecurrenceRule) HasException(t time.Time) bool {
	return slices.ContainsFunc(r.ExDates, func(ex time.Time) bool { return ex.Equal(t) })
}

// AddException removes an occurrence from the series. Any override recorded
// for the same instant is dropped so the two sets stay disjoint. It returns
// false when the instant was already excluded.
func (r *RecurrenceRule) AddException(t time.Time) bool {
	if r.HasException(t) {
		return false
	}
	r.Overrides = slices.DeleteFunc(r.Overrides, func(o Override) bool { return o.OriginalStart.Equal(t) })
	r.ExDates = append(r.ExDates, t.UTC())
	slices.SortFunc(r.ExDates, func(a, b time.Time) int { return a.Compare(b) })
	return true
}

// OverrideFor returns the override recorded for the occurrence at t.
func (r *RecurrenceRule) OverrideFor(t time.Time) (Override, bool) {
	for _, o := range r.Overrides {
		if o.OriginalStart.Equal(t) {
			return o, true
		}
	}
	return Override{}, false
}

// SetOverride records or replaces the override for o.OriginalStart. Excluded
// occurrences cannot be overridden.
func (r *RecurrenceRule) SetOverride(o Override) bool {
	if r.HasException(o.OriginalStart) {
		return false
	}
	o.OriginalStart = o.OriginalStart.UTC()
	o.Start = o.Start.UTC()
	o.End = o.End.UTC()
	for i := range r.Overrides {
		if r.Overrides[i].OriginalStart.Equal(o.OriginalStart) {
			r.Overrides[i] = o
			return true
		}
	}
	r.Overrides = append(r.Overrides, o)
	return true
}
