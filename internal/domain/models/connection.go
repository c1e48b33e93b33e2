// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"time"
)

// ProviderKind identifies which adapter variant serves a connection.
type ProviderKind string

// Supported provider families.
const (
	ProviderCalDAV ProviderKind = "caldav"
	ProviderGoogle ProviderKind = "google"
)

// CalendarConnection links an account to one external calendar service.
type CalendarConnection struct {
	UID                string         `json:"uid"`
	AccountID          string         `json:"account_id"`
	Provider           ProviderKind   `json:"provider"`
	RemoteIdentifier   string         `json:"remote_identifier"` // server URL or account email
	CredentialRef      string         `json:"credential_ref"`
	Calendars          []CalendarInfo `json:"calendars,omitempty"`
	SyncDisabled       bool           `json:"sync_disabled"`
	SyncDisabledReason string         `json:"sync_disabled_reason,omitempty"`
	WebhookChannelID   string         `json:"webhook_channel_id,omitempty"`
	LastSyncedAt       *time.Time     `json:"last_synced_at,omitempty"`
	CreatedAt          *time.Time     `json:"created_at,omitempty"`
	UpdatedAt          *time.Time     `json:"updated_at,omitempty"`
}

// CalendarInfo describes one remote calendar collection.
type CalendarInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Enabled  bool   `json:"enabled"`
	Sync     bool   `json:"sync"`
	ReadOnly bool   `json:"read_only"`
	Primary  bool   `json:"primary,omitempty"`
}

// Eligible reports whether events may be written to the calendar.
func (c CalendarInfo) Eligible() bool {
	return c.Enabled && !c.ReadOnly
}

// SyncCalendars returns the calendars opted into sync.
func (c *CalendarConnection) SyncCalendars() []CalendarInfo {
	if c.SyncDisabled {
		return nil
	}
	var out []CalendarInfo
	for _, cal := range c.Calendars {
		if cal.Enabled && cal.Sync && !cal.ReadOnly {
			out = append(out, cal)
		}
	}
	return out
}

// EnabledCalendars returns the calendars that count toward availability.
func (c *CalendarConnection) EnabledCalendars() []CalendarInfo {
	var out []CalendarInfo
	for _, cal := range c.Calendars {
		if cal.Enabled {
			out = append(out, cal)
		}
	}
	return out
}

// Calendar looks up a calendar by remote id.
func (c *CalendarConnection) Calendar(id string) (CalendarInfo, bool) {
	for _, cal := range c.Calendars {
		if cal.ID == id {
			return cal, true
		}
	}
	return CalendarInfo{}, false
}

// Credentials are resolved from a connection's CredentialRef. They are owned by
// an external credential manager and only ever read here.
type Credentials struct {
	Username     string    `json:"username,omitempty"`
	Password     string    `json:"password,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}
