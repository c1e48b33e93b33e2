// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package telemetry is the failure sink for sync errors that are swallowed at
// a small scope.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

const (
	meterName = "github.com/linuxfoundation/lfx-v2-calendar-sync-service/telemetry"

	// DefaultBufferSize is the number of reports held before new ones are dropped.
	DefaultBufferSize = 256
)

type report struct {
	ctx   context.Context
	err   error
	attrs []slog.Attr
}

// Reporter implements domain.FailureReporter. ReportFailure never blocks: when
// the buffer is full the report is dropped and counted.
type Reporter struct {
	reports chan report
	dropped atomic.Int64

	failures       metric.Int64Counter
	droppedCounter metric.Int64Counter
}

// Ensure [Reporter] implements [domain.FailureReporter]
var _ domain.FailureReporter = (*Reporter)(nil)

// NewReporter creates a Reporter. Call Run to start draining it.
func NewReporter(bufferSize int) *Reporter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	meter := otel.Meter(meterName)
	failures, err := meter.Int64Counter("sync_calendar_failures_total",
		metric.WithDescription("Calendar sync failures by kind"))
	if err != nil {
		otel.Handle(err)
	}
	dropped, err := meter.Int64Counter("telemetry_dropped_total",
		metric.WithDescription("Failure reports dropped because the buffer was full"))
	if err != nil {
		otel.Handle(err)
	}
	return &Reporter{
		reports:        make(chan report, bufferSize),
		failures:       failures,
		droppedCounter: dropped,
	}
}

// ReportFailure implements domain.FailureReporter
func (r *Reporter) ReportFailure(ctx context.Context, err error, attrs ...slog.Attr) {
	if err == nil {
		return
	}
	select {
	case r.reports <- report{ctx: context.WithoutCancel(ctx), err: err, attrs: attrs}:
	default:
		r.dropped.Add(1)
		if r.droppedCounter != nil {
			r.droppedCounter.Add(ctx, 1)
		}
	}
}

// Dropped returns how many reports were discarded.
func (r *Reporter) Dropped() int64 {
	return r.dropped.Load()
}

// Run records reports until ctx is done, then flushes what is buffered.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case rep := <-r.reports:
			r.record(rep)
		case <-ctx.Done():
			for {
				select {
				case rep := <-r.reports:
					r.record(rep)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) record(rep report) {
	kind := Kind(rep.err)
	if r.failures != nil {
		r.failures.Add(rep.ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}

	args := make([]any, 0, len(rep.attrs)+3)
	args = append(args, "kind", kind, logging.ErrKey, rep.err)
	for _, a := range rep.attrs {
		args = append(args, a)
	}
	if kind == "authentication_failed" || kind == "calendar_write_failed" {
		args = append(args, logging.PriorityCritical())
	}
	slog.ErrorContext(rep.ctx, "calendar sync failure", args...)
}

// Kind names the taxonomy member of err for metrics and logs.
func Kind(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, domain.ErrCalendarWriteFailed):
		return "calendar_write_failed"
	case errors.Is(err, domain.ErrTransientNetworkError):
		return "transient_network_error"
	case errors.Is(err, domain.ErrMalformedRemoteData):
		return "malformed_remote_data"
	case errors.Is(err, domain.ErrNoEventComponent):
		return "no_event_component"
	case errors.Is(err, domain.ErrInvalidRecurrenceRule):
		return "invalid_recurrence_rule"
	case errors.Is(err, domain.ErrInvalidWindow):
		return "invalid_window"
	}
	return "other"
}
