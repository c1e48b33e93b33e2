// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/infrastructure/provider"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/pkg/concurrent"
)

const (
	syncInstrumentationName = "github.com/linuxfoundation/lfx-v2-calendar-sync-service/sync"

	// DefaultSyncWindowDays is how far ahead a reconciliation looks when the
	// trigger does not carry a window.
	DefaultSyncWindowDays = 30
	// DefaultCalendarFanOut bounds how many calendars are reconciled at once.
	DefaultCalendarFanOut = 4
	// DefaultUIDDomain is the host part of the remote event UIDs.
	DefaultUIDDomain = "calendar-sync.lfx.dev"

	// syncLookBehind keeps today's already started instances in the window.
	syncLookBehind = 24 * time.Hour
)

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	WindowDays     int
	UIDDomain      string
	CalendarFanOut int
	Retry          provider.RetryConfig
}

// SyncReport summarizes one reconciliation run.
type SyncReport struct {
	AccountID       string             `json:"account_id"`
	Trigger         models.TriggerKind `json:"trigger"`
	Series          int                `json:"series"`
	Calendars       int                `json:"calendars"`
	Created         int                `json:"created"`
	Updated         int                `json:"updated"`
	Deleted         int                `json:"deleted"`
	Unchanged       int                `json:"unchanged"`
	Failed          int                `json:"failed"`
	FailedCalendars []string           `json:"failed_calendars,omitempty"`
}

// SyncService reconciles stored series with the remote calendars of an account.
type SyncService struct {
	series      *SeriesService
	connections *ConnectionService
	locker      domain.AccountLocker
	reporter    domain.FailureReporter
	config      SyncConfig
	pool        *concurrent.WorkerPool
	runs        metric.Int64Counter
	now         func() time.Time
}

// NewSyncService creates a new SyncService.
func NewSyncService(
	series *SeriesService,
	connections *ConnectionService,
	locker domain.AccountLocker,
	reporter domain.FailureReporter,
	config SyncConfig,
) *SyncService {
	if config.WindowDays <= 0 {
		config.WindowDays = DefaultSyncWindowDays
	}
	if config.UIDDomain == "" {
		config.UIDDomain = DefaultUIDDomain
	}
	if config.CalendarFanOut <= 0 {
		config.CalendarFanOut = DefaultCalendarFanOut
	}

	runs, err := otel.Meter(syncInstrumentationName).Int64Counter("sync_runs_total",
		metric.WithDescription("Reconciliation runs by trigger and outcome"))
	if err != nil {
		otel.Handle(err)
	}

	return &SyncService{
		series:      series,
		connections: connections,
		locker:      locker,
		reporter:    reporter,
		config:      config,
		pool:        concurrent.NewWorkerPool(config.CalendarFanOut),
		runs:        runs,
		now:         time.Now,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *SyncService) ServiceReady() bool {
	return s.series != nil && s.series.ServiceReady() &&
		s.connections != nil && s.connections.ServiceReady() &&
		s.locker != nil
}

// RemoteUID is the UID an instance carries on remote calendars.
func RemoteUID(master *models.SeriesMaster, instance *models.SlotInstance, uidDomain string) string {
	if !master.Rule.IsRecurring() {
		return master.UID + "@" + uidDomain
	}
	return fmt.Sprintf("%s-%d@%s", master.UID, instance.OriginalStart.Unix(), uidDomain)
}

// ownsRemoteUID reports whether uid was minted for the series.
func ownsRemoteUID(master *models.SeriesMaster, uid string) bool {
	return strings.HasPrefix(uid, master.UID+"-") || strings.HasPrefix(uid, master.UID+"@")
}

type syncScope struct {
	accountID string
	// seriesUIDs is nil for a full account pass.
	seriesUIDs []string
}

type syncItem struct {
	master    *models.SeriesMaster
	instance  *models.SlotInstance
	remoteUID string
	remove    bool
}

type seriesPlan struct {
	master *models.SeriesMaster
	items  []*syncItem
}

type calendarTarget struct {
	conn     *models.CalendarConnection
	calendar models.CalendarInfo
}

func (t calendarTarget) key() string {
	return models.RemoteRefKey(t.conn.UID, t.calendar.ID)
}

type actionKind int

const (
	actionCreate actionKind = iota
	actionUpdate
	actionDelete
)

func (k actionKind) String() string {
	switch k {
	case actionCreate:
		return "create"
	case actionUpdate:
		return "update"
	}
	return "delete"
}

type syncAction struct {
	kind      actionKind
	item      *syncItem // nil for remote events no instance claims
	remoteUID string
	start     time.Time
}

type refUpdate struct {
	instanceUID string
	key         string
	ref         *models.RemoteRef // nil drops the key
}

type calendarResult struct {
	refs      []refUpdate
	created   int
	updated   int
	deleted   int
	unchanged int
	failed    int
}

// Reconcile drives the remote calendars of the trigger's account to the
// stored state. Runs for one account are serialized by the account lease.
func (s *SyncService) Reconcile(ctx context.Context, trigger models.SyncTrigger) (*SyncReport, error) {
	ctx, span := otel.Tracer(syncInstrumentationName).Start(ctx, "sync.reconcile",
		trace.WithAttributes(attribute.String("sync.trigger", string(trigger.Kind))))
	defer span.End()

	scope, err := s.resolve(ctx, trigger)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if scope == nil {
		return &SyncReport{Trigger: trigger.Kind}, nil
	}

	ctx = logging.AppendCtx(ctx, slog.String("account_id", scope.accountID))
	ctx = logging.AppendCtx(ctx, slog.String("trigger", string(trigger.Kind)))
	span.SetAttributes(attribute.String("sync.account_id", scope.accountID))

	leaseCtx, release, err := s.locker.Acquire(ctx, scope.accountID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	start := time.Now()
	report, err := s.run(leaseCtx, scope, trigger)
	if errors.Is(context.Cause(leaseCtx), domain.ErrLeaseLost) {
		err = domain.NewUnavailableError("account lease lost during reconciliation", domain.ErrLeaseLost, err)
	}
	s.recordRun(ctx, trigger.Kind, report, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "reconciliation failed", logging.ErrKey, err)
		return report, err
	}

	slog.InfoContext(ctx, "reconciliation finished",
		"series", report.Series,
		"calendars", report.Calendars,
		"created", report.Created,
		"updated", report.Updated,
		"deleted", report.Deleted,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
		"duration", time.Since(start).String())
	return report, nil
}

// resolve turns a trigger into the account and series it affects. A webhook
// for a channel nobody owns resolves to nil and is ignored.
func (s *SyncService) resolve(ctx context.Context, trigger models.SyncTrigger) (*syncScope, error) {
	scope := &syncScope{accountID: trigger.AccountID}

	if trigger.Kind != models.TriggerWebhook {
		if scope.accountID == "" {
			return nil, domain.NewValidationError("sync trigger has no account")
		}
		if trigger.SeriesUID != "" {
			scope.seriesUIDs = []string{trigger.SeriesUID}
		}
		return scope, nil
	}

	if trigger.ChannelID != "" {
		conn, err := s.connections.repo.FindConnectionByChannel(ctx, trigger.ChannelID)
		switch {
		case err == nil:
			scope.accountID = conn.AccountID
		case domain.GetErrorType(err) != domain.ErrorTypeNotFound:
			return nil, err
		}
	}

	if trigger.ResourceID != "" {
		inst, err := s.series.repo.FindInstanceByRemoteUID(ctx, trigger.ResourceID)
		switch {
		case err == nil:
			if inst.SeriesUID != "" && (scope.accountID == "" || scope.accountID == inst.AccountID) {
				scope.accountID = inst.AccountID
				scope.seriesUIDs = []string{inst.SeriesUID}
			}
		case domain.GetErrorType(err) != domain.ErrorTypeNotFound:
			return nil, err
		}
	}

	if scope.accountID == "" {
		slog.InfoContext(ctx, "ignoring webhook for unknown channel",
			"channel_id", trigger.ChannelID,
			"resource_id", trigger.ResourceID)
		return nil, nil
	}
	return scope, nil
}

func (s *SyncService) run(ctx context.Context, scope *syncScope, trigger models.SyncTrigger) (*SyncReport, error) {
	report := &SyncReport{AccountID: scope.accountID, Trigger: trigger.Kind}

	from, to, err := s.window(trigger)
	if err != nil {
		return report, err
	}

	masters, err := s.loadSeries(ctx, scope)
	if err != nil {
		return report, err
	}
	report.Series = len(masters)

	plans := make([]seriesPlan, 0, len(masters))
	for _, master := range masters {
		plan, err := s.plan(ctx, master, from, to)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidRecurrenceRule) {
				// one broken rule must not hold back the rest of the account
				s.report(ctx, err, slog.String("series_uid", master.UID))
				continue
			}
			return report, err
		}
		plans = append(plans, plan)
	}

	targets, err := s.targets(ctx, scope.accountID)
	if err != nil {
		return report, err
	}
	report.Calendars = len(targets)
	if len(targets) == 0 || len(plans) == 0 {
		return report, nil
	}

	results, errs := concurrent.Collect(ctx, s.pool, targets, func(ctx context.Context, t calendarTarget) (*calendarResult, error) {
		return s.syncCalendar(ctx, t, plans, from, to)
	})

	var refs []refUpdate
	failedConnections := make(map[string]bool)
	disabled := make(map[string]bool)
	for i, res := range results {
		if res != nil {
			refs = append(refs, res.refs...)
			report.Created += res.created
			report.Updated += res.updated
			report.Deleted += res.deleted
			report.Unchanged += res.unchanged
			report.Failed += res.failed
		}

		err := errs[i]
		if err == nil {
			continue
		}
		t := targets[i]
		failedConnections[t.conn.UID] = true
		report.FailedCalendars = append(report.FailedCalendars, t.key())
		if ctx.Err() != nil {
			continue
		}

		slog.WarnContext(ctx, "calendar reconciliation failed",
			"connection_uid", t.conn.UID,
			"calendar_id", t.calendar.ID,
			logging.ErrKey, err)
		s.report(ctx, err,
			slog.String("connection_uid", t.conn.UID),
			slog.String("calendar_id", t.calendar.ID))

		if errors.Is(err, domain.ErrAuthenticationFailed) && !disabled[t.conn.UID] {
			disabled[t.conn.UID] = true
			if err := s.connections.DisableSync(ctx, t.conn.UID, err); err != nil {
				slog.ErrorContext(ctx, "failed to disable sync after authentication failure",
					"connection_uid", t.conn.UID, logging.ErrKey, err, logging.PriorityCritical())
			}
		}
	}

	if err := s.persistRefs(ctx, refs); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	now := s.now().UTC()
	marked := make(map[string]bool)
	for _, t := range targets {
		if failedConnections[t.conn.UID] || marked[t.conn.UID] {
			continue
		}
		marked[t.conn.UID] = true
		if err := s.connections.MarkSynced(ctx, t.conn.UID, now); err != nil {
			slog.WarnContext(ctx, "failed to record sync time", "connection_uid", t.conn.UID, logging.ErrKey, err)
		}
	}
	return report, nil
}

func (s *SyncService) window(trigger models.SyncTrigger) (time.Time, time.Time, error) {
	now := s.now().UTC()
	from := now.Add(-syncLookBehind)
	to := now.AddDate(0, 0, s.config.WindowDays)
	if trigger.WindowStart != nil {
		from = trigger.WindowStart.UTC()
	}
	if trigger.WindowEnd != nil {
		to = trigger.WindowEnd.UTC()
	}
	if !to.After(from) {
		return from, to, domain.NewValidationError("sync window must end after it starts", domain.ErrInvalidWindow)
	}
	return from, to, nil
}

func (s *SyncService) loadSeries(ctx context.Context, scope *syncScope) ([]*models.SeriesMaster, error) {
	if scope.seriesUIDs == nil {
		return s.series.repo.ListSeriesByAccount(ctx, scope.accountID)
	}

	masters := make([]*models.SeriesMaster, 0, len(scope.seriesUIDs))
	for _, uid := range scope.seriesUIDs {
		master, err := s.series.repo.GetSeries(ctx, uid)
		if err != nil {
			if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
				slog.WarnContext(ctx, "series to sync no longer exists", "series_uid", uid)
				continue
			}
			return nil, err
		}
		if master.AccountID != scope.accountID {
			slog.WarnContext(ctx, "series belongs to another account", "series_uid", uid)
			continue
		}
		masters = append(masters, master)
	}
	return masters, nil
}

// plan expands the series over the window, materializes what is missing and
// decides which instances should exist remotely.
func (s *SyncService) plan(ctx context.Context, master *models.SeriesMaster, from, to time.Time) (seriesPlan, error) {
	plan := seriesPlan{master: master}

	byUID := make(map[string]*models.SlotInstance)
	if !master.Cancelled {
		occurrences, err := ExpandSeries(s.series.expander, master, from, to)
		if err != nil {
			return plan, err
		}
		live, err := s.series.materialize(ctx, master, occurrences, false)
		if err != nil {
			return plan, err
		}
		for _, inst := range live {
			byUID[inst.UID] = inst
		}
	}

	stored, err := s.series.repo.ListInstances(ctx, master.UID, from, to)
	if err != nil {
		return plan, err
	}
	for _, inst := range stored {
		if _, ok := byUID[inst.UID]; !ok {
			byUID[inst.UID] = inst
		}
	}

	for _, inst := range byUID {
		remove := master.Cancelled ||
			inst.Status == models.InstanceStatusCancelled ||
			master.Rule.HasException(inst.OriginalStart) ||
			master.Truncated(inst.OriginalStart)
		plan.items = append(plan.items, &syncItem{
			master:    master,
			instance:  inst,
			remoteUID: RemoteUID(master, inst, s.config.UIDDomain),
			remove:    remove,
		})
	}
	sort.Slice(plan.items, func(i, j int) bool {
		a, b := plan.items[i].instance, plan.items[j].instance
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.UID < b.UID
	})
	return plan, nil
}

func (s *SyncService) targets(ctx context.Context, accountID string) ([]calendarTarget, error) {
	conns, err := s.connections.repo.ListConnectionsByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var targets []calendarTarget
	for _, conn := range conns {
		for _, cal := range conn.SyncCalendars() {
			targets = append(targets, calendarTarget{conn: conn, calendar: cal})
		}
	}
	return targets, nil
}

// syncCalendar reconciles one remote calendar. Adapter calls are issued in
// instance start order. The returned error means the calendar was abandoned;
// the result still carries what was done before that.
func (s *SyncService) syncCalendar(ctx context.Context, t calendarTarget, plans []seriesPlan, from, to time.Time) (*calendarResult, error) {
	ctx = logging.AppendCtx(ctx, slog.String("connection_uid", t.conn.UID))
	ctx = logging.AppendCtx(ctx, slog.String("calendar_id", t.calendar.ID))
	result := &calendarResult{}

	p, err := s.connections.registry.ProviderFor(ctx, t.conn)
	if err != nil {
		return result, err
	}

	remote, err := provider.Do(ctx, s.config.Retry, "get events", func(ctx context.Context) ([]models.EventRecord, error) {
		return p.GetEvents(ctx, []models.CalendarInfo{t.calendar}, from, to, false)
	})
	if err != nil {
		return result, s.abandon(t, "listing events", err)
	}
	byUID := make(map[string]models.EventRecord, len(remote))
	for _, e := range remote {
		if _, ok := byUID[e.UID]; !ok {
			byUID[e.UID] = e
		}
	}

	actions := s.diff(t, plans, byUID, models.TimeWindow{Start: from, End: to}, result)
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		err := s.apply(ctx, p, t, a, result)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrAuthenticationFailed) {
			return result, err
		}
		if domain.IsRetryable(err) {
			return result, s.abandon(t, a.kind.String()+" "+a.remoteUID, err)
		}

		result.failed++
		slog.WarnContext(ctx, "remote event write failed",
			"action", a.kind.String(),
			"remote_uid", a.remoteUID,
			logging.ErrKey, err)
		s.report(ctx, err,
			slog.String("connection_uid", t.conn.UID),
			slog.String("calendar_id", t.calendar.ID),
			slog.String("remote_uid", a.remoteUID))
	}
	return result, nil
}

// diff classifies every planned instance against the remote events of one
// calendar and returns the adapter calls to make, ordered by start.
func (s *SyncService) diff(t calendarTarget, plans []seriesPlan, remote map[string]models.EventRecord, window models.TimeWindow, result *calendarResult) []syncAction {
	key := t.key()
	now := s.now().UTC()
	claimed := make(map[string]bool)
	var actions []syncAction

	for _, plan := range plans {
		for _, item := range plan.items {
			inst := item.instance
			uid := item.remoteUID
			known, hasRef := inst.RemoteRefs[key]
			if hasRef && known.RemoteUID != "" {
				uid = known.RemoteUID
			}
			claimed[uid] = true
			rec, seen := remote[uid]

			switch {
			case item.remove:
				if seen || hasRef {
					actions = append(actions, syncAction{kind: actionDelete, item: item, remoteUID: uid, start: inst.Start})
				} else {
					result.unchanged++
				}
			case seen:
				if needsUpdate(rec, item) {
					actions = append(actions, syncAction{kind: actionUpdate, item: item, remoteUID: uid, start: inst.Start})
					continue
				}
				result.unchanged++
				if !hasRef || known.ETag != rec.ETag || known.RemoteUID != rec.UID {
					ref := remoteRef(t, rec, uid, rec.Sequence, now)
					result.refs = append(result.refs, refUpdate{instanceUID: inst.UID, key: key, ref: &ref})
				}
			case hasRef && !window.Overlaps(inst.Start, inst.End):
				// moved outside the listed range; nothing to compare against
				result.unchanged++
			case hasRef:
				actions = append(actions, syncAction{kind: actionUpdate, item: item, remoteUID: uid, start: inst.Start})
			case inst.Status == models.InstanceStatusCompleted:
				result.unchanged++
			default:
				actions = append(actions, syncAction{kind: actionCreate, item: item, remoteUID: uid, start: inst.Start})
			}
		}
	}

	for uid, rec := range remote {
		if claimed[uid] {
			continue
		}
		for _, plan := range plans {
			if ownsRemoteUID(plan.master, uid) {
				actions = append(actions, syncAction{kind: actionDelete, remoteUID: uid, start: rec.Start})
				break
			}
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if !actions[i].start.Equal(actions[j].start) {
			return actions[i].start.Before(actions[j].start)
		}
		return actions[i].remoteUID < actions[j].remoteUID
	})
	return actions
}

func needsUpdate(rec models.EventRecord, item *syncItem) bool {
	inst := item.instance
	return rec.Sequence < item.master.Sequence ||
		!rec.Start.Equal(inst.Start) ||
		!rec.End.Equal(inst.End) ||
		rec.Summary != inst.Title
}

func (s *SyncService) apply(ctx context.Context, p domain.CalendarProvider, t calendarTarget, a syncAction, result *calendarResult) error {
	key := t.key()
	now := s.now().UTC()

	switch a.kind {
	case actionDelete:
		found, err := provider.Do(ctx, s.config.Retry, "delete event", func(ctx context.Context) (domain.LookupResult, error) {
			return p.DeleteEvent(ctx, t.conn, a.remoteUID, t.calendar.ID)
		})
		if err != nil {
			return err
		}
		if found == domain.Found {
			result.deleted++
		} else {
			result.unchanged++
		}
		if a.item != nil {
			result.refs = append(result.refs, refUpdate{instanceUID: a.item.instance.UID, key: key})
		}
		return nil

	case actionCreate, actionUpdate:
		details := meetingDetails(a.item, a.remoteUID)
		write := p.CreateEvent
		if a.kind == actionUpdate {
			write = p.UpdateEvent
		}
		rec, err := provider.Do(ctx, s.config.Retry, a.kind.String()+" event", func(ctx context.Context) (*models.EventRecord, error) {
			return write(ctx, t.conn, details, t.calendar.ID)
		})
		if err != nil {
			return err
		}
		if a.kind == actionCreate {
			result.created++
		} else {
			result.updated++
		}
		ref := remoteRef(t, *rec, a.remoteUID, details.Sequence, now)
		result.refs = append(result.refs, refUpdate{instanceUID: a.item.instance.UID, key: key, ref: &ref})
		return nil
	}
	return nil
}

// abandon marks the calendar as failed after its retries ran out.
func (s *SyncService) abandon(t calendarTarget, what string, err error) error {
	if errors.Is(err, domain.ErrAuthenticationFailed) || !domain.IsRetryable(err) {
		return err
	}
	return domain.NewWriteFailedError(fmt.Sprintf("calendar %s gave up %s", t.calendar.ID, what), err)
}

func (s *SyncService) persistRefs(ctx context.Context, refs []refUpdate) error {
	type pending struct {
		set  map[string]models.RemoteRef
		drop []string
	}
	byInstance := make(map[string]*pending)
	var order []string
	for _, r := range refs {
		p, ok := byInstance[r.instanceUID]
		if !ok {
			p = &pending{set: make(map[string]models.RemoteRef)}
			byInstance[r.instanceUID] = p
			order = append(order, r.instanceUID)
		}
		if r.ref == nil {
			p.drop = append(p.drop, r.key)
			continue
		}
		p.set[r.key] = *r.ref
	}

	sort.Strings(order)
	var errs []error
	for _, uid := range order {
		p := byInstance[uid]
		if err := s.series.RecordRemoteRefs(ctx, uid, p.set, p.drop); err != nil {
			errs = append(errs, fmt.Errorf("recording remote refs of instance %s: %w", uid, err))
		}
	}
	return errors.Join(errs...)
}

func (s *SyncService) report(ctx context.Context, err error, attrs ...slog.Attr) {
	if s.reporter == nil {
		return
	}
	s.reporter.ReportFailure(ctx, err, attrs...)
}

func (s *SyncService) recordRun(ctx context.Context, kind models.TriggerKind, report *SyncReport, err error) {
	if s.runs == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case report != nil && len(report.FailedCalendars) > 0:
		outcome = "partial"
	}
	s.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", string(kind)),
		attribute.String("outcome", outcome)))
}

func meetingDetails(item *syncItem, uid string) models.MeetingDetails {
	m, inst := item.master, item.instance
	return models.MeetingDetails{
		UID:          uid,
		Sequence:     m.Sequence,
		Title:        inst.Title,
		Description:  inst.Description,
		Location:     inst.Location,
		Organizer:    m.Organizer,
		Start:        inst.Start,
		End:          inst.End,
		Timezone:     m.Rule.Timezone,
		Participants: inst.Participants,
	}
}

func remoteRef(t calendarTarget, rec models.EventRecord, uid string, sequence int, at time.Time) models.RemoteRef {
	if rec.UID != "" {
		uid = rec.UID
	}
	return models.RemoteRef{
		ConnectionUID: t.conn.UID,
		CalendarID:    t.calendar.ID,
		RemoteUID:     uid,
		Path:          rec.Path,
		ETag:          rec.ETag,
		Sequence:      sequence,
		SyncedAt:      at,
	}
}
