// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// DefaultMaxOccurrences caps a single expansion.
const DefaultMaxOccurrences = 5000

// OccurrenceService implements the domain.RecurrenceExpander interface
type OccurrenceService struct {
	maxOccurrences int
}

// Ensure [OccurrenceService] implements [domain.RecurrenceExpander]
var _ domain.RecurrenceExpander = (*OccurrenceService)(nil)

// NewOccurrenceService creates a new OccurrenceService
func NewOccurrenceService() *OccurrenceService {
	return &OccurrenceService{maxOccurrences: DefaultMaxOccurrences}
}

// NewOccurrenceServiceWithLimit creates an OccurrenceService with a custom expansion cap
func NewOccurrenceServiceWithLimit(limit int) *OccurrenceService {
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}
	return &OccurrenceService{maxOccurrences: limit}
}

// Expand returns the occurrences of rule whose effective start lies inside
// [windowStart, windowEnd]. All instants are returned in UTC.
func (s *OccurrenceService) Expand(rule *models.RecurrenceRule, windowStart, windowEnd time.Time) ([]models.Occurrence, error) {
	if rule == nil {
		return nil, domain.NewValidationError("recurrence rule is required", domain.ErrInvalidRecurrenceRule)
	}
	if windowEnd.Before(windowStart) {
		return nil, domain.NewValidationError(
			fmt.Sprintf("window end %s is before start %s", windowEnd.Format(time.RFC3339), windowStart.Format(time.RFC3339)),
			domain.ErrInvalidWindow)
	}

	windowStart = windowStart.UTC()
	windowEnd = windowEnd.UTC()
	duration := rule.DurationValue()

	if !rule.IsRecurring() {
		if rule.DTStart.IsZero() {
			return nil, domain.NewValidationError("recurrence rule has no start", domain.ErrInvalidRecurrenceRule)
		}
		original := rule.DTStart.UTC()
		start := original.Add(rule.ShiftAt(original))
		if rule.HasException(original) || !inWindow(start, windowStart, windowEnd) {
			return []models.Occurrence{}, nil
		}
		return []models.Occurrence{{OriginalStart: original, Start: start, End: start.Add(duration)}}, nil
	}

	r, err := s.buildRule(rule)
	if err != nil {
		return nil, err
	}

	// Shifted occurrences are tested on their shifted start, so the raw
	// range is widened by the largest offsets first.
	earliest, latest := rule.ShiftBounds()

	occurrences := []models.Occurrence{}
	for _, t := range r.Between(windowStart.Add(-latest), windowEnd.Add(-earliest), true) {
		t = t.UTC()
		if rule.HasException(t) {
			continue
		}
		if _, overridden := rule.OverrideFor(t); overridden {
			continue
		}
		start := t.Add(rule.ShiftAt(t))
		if !inWindow(start, windowStart, windowEnd) {
			continue
		}
		occurrences = append(occurrences, models.Occurrence{OriginalStart: t, Start: start, End: start.Add(duration)})
		if len(occurrences) >= s.maxOccurrences {
			slog.Warn("recurrence expansion truncated",
				"limit", s.maxOccurrences,
				"rrule", rule.RRule,
				"window_start", windowStart,
				"window_end", windowEnd,
			)
			break
		}
	}

	// Overrides are matched on their modified start, so an occurrence moved
	// into the window appears even when its original instant lies outside it.
	for _, o := range rule.Overrides {
		if rule.HasException(o.OriginalStart) || !inWindow(o.Start.UTC(), windowStart, windowEnd) {
			continue
		}
		if !isRawOccurrence(r, o.OriginalStart) {
			slog.Warn("ignoring override for an instant the rule does not produce",
				"original_start", o.OriginalStart)
			continue
		}
		occurrences = append(occurrences, models.Occurrence{
			OriginalStart: o.OriginalStart.UTC(),
			Start:         o.Start.UTC(),
			End:           o.End.UTC(),
			Overridden:    true,
		})
	}

	slices.SortFunc(occurrences, func(a, b models.Occurrence) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.OriginalStart.Compare(b.OriginalStart)
	})

	return occurrences, nil
}

// SeriesEndDate calculates the final end time for a series.
// Returns nil if the rule has no upper bound.
func (s *OccurrenceService) SeriesEndDate(rule *models.RecurrenceRule) (*time.Time, error) {
	if rule == nil {
		return nil, domain.NewValidationError("recurrence rule is required", domain.ErrInvalidRecurrenceRule)
	}
	duration := rule.DurationValue()

	if !rule.IsRecurring() {
		end := rule.DTStart.UTC().Add(rule.ShiftAt(rule.DTStart.UTC()) + duration)
		return &end, nil
	}

	r, err := s.buildRule(rule)
	if err != nil {
		return nil, err
	}
	if r.OrigOptions.Count == 0 && r.OrigOptions.Until.IsZero() {
		return nil, nil
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, ex := range rule.ExDates {
		set.ExDate(ex)
	}

	var last time.Time
	for _, t := range set.All() {
		end := t.UTC().Add(rule.ShiftAt(t.UTC()) + duration)
		if o, ok := rule.OverrideFor(t.UTC()); ok {
			end = o.End.UTC()
		}
		if end.After(last) {
			last = end
		}
	}
	if last.IsZero() {
		return nil, nil
	}
	return &last, nil
}

// IsOccurrence reports whether t is produced by the raw rule, before
// exceptions and overrides are applied.
func (s *OccurrenceService) IsOccurrence(rule *models.RecurrenceRule, t time.Time) (bool, error) {
	if rule == nil {
		return false, domain.NewValidationError("recurrence rule is required", domain.ErrInvalidRecurrenceRule)
	}
	if !rule.IsRecurring() {
		return rule.DTStart.Equal(t), nil
	}
	r, err := s.buildRule(rule)
	if err != nil {
		return false, err
	}
	return isRawOccurrence(r, t), nil
}

// buildRule parses the rule in its own timezone so wall-clock times survive
// DST transitions.
func (s *OccurrenceService) buildRule(rule *models.RecurrenceRule) (*rrule.RRule, error) {
	if rule.DTStart.IsZero() {
		return nil, domain.NewValidationError("recurrence rule has no start", domain.ErrInvalidRecurrenceRule)
	}

	value, err := RRuleString(rule)
	if err != nil {
		return nil, err
	}

	opt, err := rrule.StrToROption(value)
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("cannot parse rrule %q", value), domain.ErrInvalidRecurrenceRule, err)
	}

	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		loc = time.UTC
	}
	opt.Dtstart = rule.DTStart.In(loc)

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid rrule %q", value), domain.ErrInvalidRecurrenceRule, err)
	}
	return r, nil
}

// RRuleString renders the rule as an RFC 5545 RRULE value.
func RRuleString(rule *models.RecurrenceRule) (string, error) {
	if rule == nil || !rule.IsRecurring() {
		return "", nil
	}
	if rule.RRule != "" {
		return strings.TrimPrefix(strings.TrimSpace(rule.RRule), "RRULE:"), nil
	}

	switch rule.Frequency {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly, models.FrequencyYearly:
	default:
		return "", domain.NewValidationError(fmt.Sprintf("unsupported frequency %q", rule.Frequency), domain.ErrInvalidRecurrenceRule)
	}

	parts := []string{"FREQ=" + string(rule.Frequency)}
	if rule.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", rule.Interval))
	}
	if len(rule.ByDay) > 0 {
		parts = append(parts, "BYDAY="+strings.ToUpper(strings.Join(rule.ByDay, ",")))
	}
	if len(rule.ByMonthDay) > 0 {
		days := make([]string, 0, len(rule.ByMonthDay))
		for _, d := range rule.ByMonthDay {
			days = append(days, strconv.Itoa(d))
		}
		parts = append(parts, "BYMONTHDAY="+strings.Join(days, ","))
	}

	// COUNT and UNTIL are mutually exclusive
	if rule.Count > 0 {
		parts = append(parts, fmt.Sprintf("COUNT=%d", rule.Count))
	} else if rule.Until != nil {
		parts = append(parts, "UNTIL="+rule.Until.UTC().Format("20060102T150405Z"))
	}

	return strings.Join(parts, ";"), nil
}

func isRawOccurrence(r *rrule.RRule, t time.Time) bool {
	for _, candidate := range r.Between(t.Add(-time.Second), t.Add(time.Second), true) {
		if candidate.Equal(t) {
			return true
		}
	}
	return false
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
