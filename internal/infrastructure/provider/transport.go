// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// ClassifyStatus maps an HTTP status to the sync error taxonomy. It returns
// nil for statuses the caller should interpret itself.
func ClassifyStatus(statusCode int, message string) error {
	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return domain.NewAuthError(fmt.Sprintf("provider rejected credentials (%d): %s", statusCode, message))
	case statusCode == http.StatusTooManyRequests, statusCode >= 500 && statusCode < 600:
		return domain.NewTransientError(fmt.Sprintf("provider unavailable (%d): %s", statusCode, message))
	}
	return nil
}

// ClassifyNetworkError marks connection-level failures as transient. Context
// cancellation is returned as is.
func ClassifyNetworkError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return domain.NewTransientError("provider request failed", err)
	}
	return err
}

// statusTransport turns auth and availability failures into typed errors
// before the response reaches a client library that would flatten them.
type statusTransport struct {
	base http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, ClassifyNetworkError(err)
	}
	if classified := ClassifyStatus(resp.StatusCode, req.Method+" "+req.URL.Path); classified != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, classified
	}
	return resp, nil
}

// NewTransport returns the instrumented transport every adapter client uses.
// When classify is set, auth and availability failures surface as errors of
// the sync taxonomy instead of responses.
func NewTransport(base http.RoundTripper, classify bool) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if classify {
		base = &statusTransport{base: base}
	}
	return otelhttp.NewTransport(base)
}

// WithoutParticipants returns details stripped of attendees. A write retried
// with the result keeps correct time and title.
func WithoutParticipants(details models.MeetingDetails) models.MeetingDetails {
	details.Participants = nil
	details.Organizer = ""
	return details
}
