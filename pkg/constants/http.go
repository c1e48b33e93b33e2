// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package constants

// Constants for the HTTP request headers
const (
	// RequestIDHeader is the header name for the request ID
	RequestIDHeader string = "X-REQUEST-ID"

	// WebhookSignatureHeader carries the HMAC of a CalDAV bridge notification body
	WebhookSignatureHeader string = "X-Calendar-Signature"

	// WebhookTimestampHeader carries the unix time a CalDAV bridge notification was signed
	WebhookTimestampHeader string = "X-Calendar-Timestamp"
)

// Google Calendar push notification headers.
const (
	GoogleChannelIDHeader     string = "X-Goog-Channel-ID"
	GoogleChannelTokenHeader  string = "X-Goog-Channel-Token"
	GoogleResourceIDHeader    string = "X-Goog-Resource-ID"
	GoogleResourceStateHeader string = "X-Goog-Resource-State"
	GoogleMessageNumberHeader string = "X-Goog-Message-Number"
)

// GoogleResourceStateSync is the state of the handshake notification sent
// when a channel is opened. It carries no change.
const GoogleResourceStateSync = "sync"

// contextRequestID is the type for the request ID context key
type contextRequestID string

// RequestIDContextID is the context ID for the request ID
const RequestIDContextID contextRequestID = "X-REQUEST-ID"
