// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import "time"

// NATS request/reply subjects of the calendar API. Requests and replies are JSON.
const (
	// SeriesUpsertSubject creates or replaces a series.
	// The subject is of the form: lfx.calendar-sync.series.upsert
	SeriesUpsertSubject = "lfx.calendar-sync.series.upsert"

	// SeriesGetSubject returns a series and, when a window is given, its instances.
	// The subject is of the form: lfx.calendar-sync.series.get
	SeriesGetSubject = "lfx.calendar-sync.series.get"

	// SeriesUpdateSubject edits the template from an instant onward.
	// The subject is of the form: lfx.calendar-sync.series.update
	SeriesUpdateSubject = "lfx.calendar-sync.series.update"

	// SeriesCancelSubject cancels a series and every open instance.
	// The subject is of the form: lfx.calendar-sync.series.cancel
	SeriesCancelSubject = "lfx.calendar-sync.series.cancel"

	// SeriesTruncateSubject removes every instance at or after a cutoff.
	// The subject is of the form: lfx.calendar-sync.series.truncate
	SeriesTruncateSubject = "lfx.calendar-sync.series.truncate"

	// SeriesDeleteInstancesSubject removes the instances at the given instants.
	// The subject is of the form: lfx.calendar-sync.series.delete_instances
	SeriesDeleteInstancesSubject = "lfx.calendar-sync.series.delete_instances"

	// SeriesConfirmSubject confirms the proposed instances in a window.
	// The subject is of the form: lfx.calendar-sync.series.confirm
	SeriesConfirmSubject = "lfx.calendar-sync.series.confirm"

	// InstanceUpdateSubject edits a single instance.
	// The subject is of the form: lfx.calendar-sync.instance.update
	InstanceUpdateSubject = "lfx.calendar-sync.instance.update"

	// AvailabilityGetSubject returns the merged busy time of an account.
	// The subject is of the form: lfx.calendar-sync.availability.get
	AvailabilityGetSubject = "lfx.calendar-sync.availability.get"

	// AvailabilityConflictsSubject returns the busy intervals overlapping a proposed slot.
	// The subject is of the form: lfx.calendar-sync.availability.conflicts
	AvailabilityConflictsSubject = "lfx.calendar-sync.availability.conflicts"

	// ConnectionCreateSubject registers a calendar connection.
	// The subject is of the form: lfx.calendar-sync.connection.create
	ConnectionCreateSubject = "lfx.calendar-sync.connection.create"

	// ConnectionListSubject lists the connections of an account.
	// The subject is of the form: lfx.calendar-sync.connection.list
	ConnectionListSubject = "lfx.calendar-sync.connection.list"

	// ConnectionRefreshSubject re-reads the calendar list of a connection.
	// The subject is of the form: lfx.calendar-sync.connection.refresh
	ConnectionRefreshSubject = "lfx.calendar-sync.connection.refresh"

	// ConnectionPreferencesSubject toggles the enabled and sync flags of one calendar.
	// The subject is of the form: lfx.calendar-sync.connection.preferences
	ConnectionPreferencesSubject = "lfx.calendar-sync.connection.preferences"

	// ConnectionEnableSubject turns sync back on after it was disabled.
	// The subject is of the form: lfx.calendar-sync.connection.enable
	ConnectionEnableSubject = "lfx.calendar-sync.connection.enable"

	// ConnectionDisconnectSubject removes a connection.
	// The subject is of the form: lfx.calendar-sync.connection.disconnect
	ConnectionDisconnectSubject = "lfx.calendar-sync.connection.disconnect"
)

// APIResponse is the reply envelope of every request/reply subject.
type APIResponse struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UpsertSeriesRequest creates or replaces a series. Instances are optional
// explicit slots; only their timing is used.
type UpsertSeriesRequest struct {
	Master    *SeriesMaster   `json:"master"`
	Instances []*SlotInstance `json:"instances,omitempty"`
}

// SeriesResponse carries a series with the instances a request touched.
type SeriesResponse struct {
	Master    *SeriesMaster   `json:"master,omitempty"`
	Instances []*SlotInstance `json:"instances,omitempty"`
}

// GetSeriesRequest reads a series. From and To select instances to include.
type GetSeriesRequest struct {
	SeriesUID string     `json:"series_uid"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}

// UpdateSeriesRequest edits the template for occurrences at or after EffectiveFrom.
type UpdateSeriesRequest struct {
	SeriesUID     string        `json:"series_uid"`
	Changes       SeriesChanges `json:"changes"`
	EffectiveFrom time.Time     `json:"effective_from"`
}

// SeriesRequest names a series.
type SeriesRequest struct {
	SeriesUID string `json:"series_uid"`
}

// TruncateSeriesRequest removes instances starting at or after Cutoff.
type TruncateSeriesRequest struct {
	SeriesUID string    `json:"series_uid"`
	Cutoff    time.Time `json:"cutoff"`
}

// DeleteInstancesRequest removes the instances originally starting at Instants.
type DeleteInstancesRequest struct {
	SeriesUID string      `json:"series_uid"`
	Instants  []time.Time `json:"instants"`
}

// ConfirmSlotsRequest confirms the proposed instances in [From, To).
type ConfirmSlotsRequest struct {
	SeriesUID string    `json:"series_uid"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

// UpdateInstanceRequest edits one instance.
type UpdateInstanceRequest struct {
	InstanceUID string          `json:"instance_uid"`
	Changes     InstanceChanges `json:"changes"`
}

// AvailabilityRequest asks for the busy time of an account in [Start, End).
type AvailabilityRequest struct {
	AccountID string    `json:"account_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// AvailabilityResponse is the merged busy time of an account.
type AvailabilityResponse struct {
	Busy []BusyInterval `json:"busy"`
}

// AccountRequest names an account.
type AccountRequest struct {
	AccountID string `json:"account_id"`
}

// ConnectionRequest names a connection.
type ConnectionRequest struct {
	ConnectionUID string `json:"connection_uid"`
}

// CalendarPreferencesRequest sets the flags of one calendar of a connection.
type CalendarPreferencesRequest struct {
	ConnectionUID string `json:"connection_uid"`
	CalendarID    string `json:"calendar_id"`
	Enabled       bool   `json:"enabled"`
	Sync          bool   `json:"sync"`
}
