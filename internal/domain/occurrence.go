// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// RecurrenceExpander turns a recurrence rule into concrete occurrences.
type RecurrenceExpander interface {
	// Expand returns the occurrences of rule whose effective start lies in
	// [windowStart, windowEnd], ordered by start. Excluded instants are removed
	// and overridden ones carry the override's start and end.
	Expand(rule *models.RecurrenceRule, windowStart, windowEnd time.Time) ([]models.Occurrence, error)

	// SeriesEndDate returns the end of the last occurrence, or nil when the
	// rule has no upper bound.
	SeriesEndDate(rule *models.RecurrenceRule) (*time.Time, error)

	// IsOccurrence reports whether t is a raw occurrence of the rule.
	IsOccurrence(rule *models.RecurrenceRule, t time.Time) (bool, error)
}
