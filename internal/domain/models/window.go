// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import "time"

// TimeWindow is a closed time range [Start, End].
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether [start, end) intersects the window.
func (w TimeWindow) Overlaps(start, end time.Time) bool {
	return start.Before(w.End) && end.After(w.Start)
}

// Split cuts the window into consecutive sub-windows no longer than span.
// The last sub-window ends exactly at End.
func (w TimeWindow) Split(span time.Duration) []TimeWindow {
	if span <= 0 || w.Duration() <= span {
		return []TimeWindow{w}
	}
	var out []TimeWindow
	for start := w.Start; start.Before(w.End); start = start.Add(span) {
		end := start.Add(span)
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, TimeWindow{Start: start, End: end})
	}
	return out
}
