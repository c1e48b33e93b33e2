// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// recordingLocker grants every lease immediately and remembers the calls.
type recordingLocker struct {
	mu       sync.Mutex
	acquired []string
	released int
	err      error
	// lose hands out leases that are already lost.
	lose bool
}

func (l *recordingLocker) Acquire(ctx context.Context, accountID string) (context.Context, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, nil, l.err
	}
	l.acquired = append(l.acquired, accountID)
	leaseCtx, cancel := context.WithCancelCause(ctx)
	if l.lose {
		cancel(domain.ErrLeaseLost)
	}
	return leaseCtx, func() {
		cancel(nil)
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

type syncFixture struct {
	series   *seriesFixture
	conns    *memConnectionRepo
	registry *fakeRegistry
	queue    *recordingQueue
	reporter *mocks.RecordingReporter
	locker   *recordingLocker
	svc      *SyncService
}

func syncConnection(uid string, calendars ...string) *models.CalendarConnection {
	conn := &models.CalendarConnection{
		UID:              uid,
		AccountID:        "acct-1",
		Provider:         models.ProviderCalDAV,
		RemoteIdentifier: "https://dav.example.com/",
		CredentialRef:    "cred-" + uid,
	}
	for _, id := range calendars {
		conn.Calendars = append(conn.Calendars, models.CalendarInfo{ID: id, Name: id, Enabled: true, Sync: true})
	}
	return conn
}

func newSyncFixture(conns ...*models.CalendarConnection) *syncFixture {
	f := &syncFixture{
		series:   newSeriesFixture(),
		conns:    newMemConnectionRepo(conns...),
		registry: newFakeRegistry(),
		queue:    &recordingQueue{},
		reporter: &mocks.RecordingReporter{},
		locker:   &recordingLocker{},
	}
	connections := NewConnectionService(f.conns, f.registry, f.queue, f.reporter, noRetry)
	connections.now = func() time.Time { return seriesNow }
	f.svc = NewSyncService(f.series.svc, connections, f.locker, f.reporter, SyncConfig{Retry: noRetry})
	f.svc.now = func() time.Time { return seriesNow }
	return f
}

func (f *syncFixture) reconcile(t *testing.T, trigger models.SyncTrigger) *SyncReport {
	t.Helper()
	if trigger.Kind == "" {
		trigger.Kind = models.TriggerLocalEdit
	}
	if trigger.AccountID == "" && trigger.Kind != models.TriggerWebhook {
		trigger.AccountID = "acct-1"
	}
	report, err := f.svc.Reconcile(context.Background(), trigger)
	require.NoError(t, err)
	return report
}

func remoteUIDAt(master *models.SeriesMaster, at time.Time) string {
	return RemoteUID(master, &models.SlotInstance{OriginalStart: at}, DefaultUIDDomain)
}

func TestRemoteUID(t *testing.T) {
	master := &models.SeriesMaster{UID: "s1", Rule: models.RecurrenceRule{RRule: "FREQ=DAILY"}}
	inst := &models.SlotInstance{OriginalStart: time.Unix(1736244000, 0)}

	assert.Equal(t, "s1-1736244000@example.org", RemoteUID(master, inst, "example.org"))
	assert.True(t, ownsRemoteUID(master, "s1-1736244000@example.org"))
	assert.False(t, ownsRemoteUID(master, "s10-1736244000@example.org"))

	oneOff := &models.SeriesMaster{UID: "s2"}
	assert.Equal(t, "s2@example.org", RemoteUID(oneOff, inst, "example.org"))
	assert.True(t, ownsRemoteUID(oneOff, "s2@example.org"))
}

func TestSyncService_Reconcile_CreatesAndConverges(t *testing.T) {
	p := newFakeProvider()
	f := newSyncFixture(syncConnection("conn-1", "work", "home"))
	f.registry.with("conn-1", p)
	master, instances := f.series.create(t)

	report := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	assert.Equal(t, 8, report.Created)
	assert.Equal(t, 2, report.Calendars)
	assert.Empty(t, report.FailedCalendars)
	for _, cal := range []string{"work", "home"} {
		remote := p.remote(cal)
		require.Len(t, remote, 4, cal)
		for _, inst := range instances {
			rec, ok := remote[remoteUIDAt(master, inst.OriginalStart)]
			require.True(t, ok)
			assert.Equal(t, "Standup", rec.Summary)
			assert.True(t, rec.Start.Equal(inst.Start))
		}
	}

	for _, inst := range f.series.repo.allInstances(master.UID) {
		require.Len(t, inst.RemoteRefs, 2)
		ref := inst.RemoteRefs[models.RemoteRefKey("conn-1", "work")]
		assert.Equal(t, remoteUIDAt(master, inst.OriginalStart), ref.RemoteUID)
		assert.Equal(t, "etag-"+ref.RemoteUID, ref.ETag)
		assert.Equal(t, seriesNow, ref.SyncedAt)
	}
	assert.Equal(t, seriesNow, *f.conns.get("conn-1").LastSyncedAt)
	assert.Equal(t, []string{"acct-1"}, f.locker.acquired)
	assert.Equal(t, 1, f.locker.released)

	writes := len(p.writeCalls())
	again := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	assert.Equal(t, 8, again.Unchanged)
	assert.Zero(t, again.Created+again.Updated+again.Deleted)
	assert.Len(t, p.writeCalls(), writes, "a converged account issues no writes")
}

func TestSyncService_Reconcile_OrdersWritesByStart(t *testing.T) {
	p := newFakeProvider()
	f := newSyncFixture(syncConnection("conn-1", "work"))
	f.registry.with("conn-1", p)
	master, _ := f.series.create(t)

	f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	var want []string
	for i := 0; i < 4; i++ {
		want = append(want, "create:work:"+remoteUIDAt(master, firstTuesday.Add(time.Duration(i)*week)))
	}
	assert.Equal(t, want, p.writeCalls())
}

func TestSyncService_Reconcile_UpdatesAfterSeriesEdit(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	f := newSyncFixture(syncConnection("conn-1", "work"))
	f.registry.with("conn-1", p)
	master, _ := f.series.create(t)
	f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	_, _, err := f.series.svc.UpdateWholeSeries(ctx, master.UID,
		models.SeriesChanges{Title: ptr("Planning")}, firstTuesday.Add(2*week))
	require.NoError(t, err)

	report := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	// the sequence bump alone makes every remote copy stale
	assert.Equal(t, 4, report.Updated)
	remote := p.remote("work")
	assert.Equal(t, "Standup", remote[remoteUIDAt(master, firstTuesday)].Summary)
	assert.Equal(t, "Planning", remote[remoteUIDAt(master, firstTuesday.Add(2*week))].Summary)
	assert.Equal(t, 1, remote[remoteUIDAt(master, firstTuesday.Add(3*week))].Sequence)
}

func TestSyncService_Reconcile_DeletesCancelledAndOrphans(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	f := newSyncFixture(syncConnection("conn-1", "work"))
	f.registry.with("conn-1", p)
	master, _ := f.series.create(t)
	f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	second := firstTuesday.Add(week)
	_, err := f.series.svc.DeleteRecurringInstances(ctx, master.UID, []time.Time{second})
	require.NoError(t, err)

	orphan := master.UID + "-42@" + DefaultUIDDomain
	p.events["work"][orphan] = models.EventRecord{UID: orphan, Summary: "Standup", Start: firstTuesday.Add(time.Hour), End: firstTuesday.Add(2 * time.Hour)}
	p.events["work"]["dentist@elsewhere"] = models.EventRecord{UID: "dentist@elsewhere", Summary: "Dentist", Start: firstTuesday.Add(time.Hour), End: firstTuesday.Add(2 * time.Hour)}

	report := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	assert.Equal(t, 2, report.Deleted)
	remote := p.remote("work")
	assert.NotContains(t, remote, remoteUIDAt(master, second))
	assert.NotContains(t, remote, orphan)
	assert.Contains(t, remote, "dentist@elsewhere", "events the service did not write are left alone")

	inst, err := f.series.repo.FindInstanceByOccurrence(ctx, master.UID, second)
	require.NoError(t, err)
	assert.Empty(t, inst.RemoteRefs)

	next := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})
	assert.Zero(t, next.Deleted)
}

func TestSyncService_Reconcile_CancelledSeries(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	f := newSyncFixture(syncConnection("conn-1", "work"))
	f.registry.with("conn-1", p)
	master, _ := f.series.create(t)
	f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	_, _, err := f.series.svc.CancelSeries(ctx, master.UID)
	require.NoError(t, err)

	report := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	assert.Equal(t, 4, report.Deleted)
	assert.Empty(t, p.remote("work"))
}

func TestSyncService_Reconcile_OneOffMeeting(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	f := newSyncFixture(syncConnection("conn-1", "work"))
	f.registry.with("conn-1", p)

	start := firstTuesday.Add(26 * time.Hour)
	master, instances, err := f.series.svc.UpsertSeries(ctx, &models.SeriesMaster{
		AccountID: "acct-1",
		Title:     "Kickoff",
		Rule:      models.RecurrenceRule{DTStart: start, Duration: 60},
	}, nil)
	require.NoError(t, err)
	require.Len(t, instances, 1)

	report := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	assert.Equal(t, 1, report.Created)
	rec, ok := p.remote("work")[master.UID+"@"+DefaultUIDDomain]
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Hour), rec.End)
}

func TestSyncService_Reconcile_IsolatesCalendarFailures(t *testing.T) {
	p := newFakeProvider()
	p.writeErr["home"] = domain.NewTransientError("503 Service Unavailable")
	f := newSyncFixture(syncConnection("conn-1", "work", "home"))
	f.registry.with("conn-1", p)
	master, _ := f.series.create(t)

	report := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	assert.Equal(t, 4, report.Created)
	assert.Equal(t, []string{models.RemoteRefKey("conn-1", "home")}, report.FailedCalendars)
	assert.Len(t, p.remote("work"), 4)
	assert.Empty(t, p.remote("home"))

	var homeWrites int
	for _, c := range p.writeCalls() {
		if strings.HasPrefix(c, "create:home:") {
			homeWrites++
		}
	}
	assert.Equal(t, 1, homeWrites, "the calendar is abandoned after its first exhausted write")

	require.Len(t, f.reporter.Errors(), 1)
	assert.ErrorIs(t, f.reporter.Errors()[0], domain.ErrCalendarWriteFailed)
	assert.ErrorIs(t, f.reporter.Errors()[0], domain.ErrTransientNetworkError)
	assert.Nil(t, f.conns.get("conn-1").LastSyncedAt)
	assert.False(t, f.conns.get("conn-1").SyncDisabled)
}

func TestSyncService_Reconcile_SkipsBadWrites(t *testing.T) {
	p := newFakeProvider()
	p.writeErr["work"] = domain.NewWriteFailedError("rejected by server")
	f := newSyncFixture(syncConnection("conn-1", "work"))
	f.registry.with("conn-1", p)
	master, _ := f.series.create(t)

	report := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	assert.Equal(t, 4, report.Failed)
	assert.Empty(t, report.FailedCalendars)
	assert.Len(t, f.reporter.Errors(), 4)
}

func TestSyncService_Reconcile_AuthFailureDisablesConnection(t *testing.T) {
	good := newFakeProvider()
	revoked := newFakeProvider()
	revoked.errs["personal"] = domain.NewAuthError("401 Unauthorized")
	f := newSyncFixture(syncConnection("conn-1", "work"), syncConnection("conn-2", "personal"))
	f.registry.with("conn-1", good).with("conn-2", revoked)
	master, _ := f.series.create(t)

	report := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})

	assert.Equal(t, 4, report.Created)
	assert.Len(t, good.remote("work"), 4)
	assert.Equal(t, []string{models.RemoteRefKey("conn-2", "personal")}, report.FailedCalendars)

	disabled := f.conns.get("conn-2")
	assert.True(t, disabled.SyncDisabled)
	assert.Contains(t, disabled.SyncDisabledReason, "401")
	assert.Contains(t, f.registry.released, "conn-2")
	assert.Equal(t, []models.NotificationKind{models.NotificationSyncFailed}, f.queue.kinds())
	assert.False(t, f.conns.get("conn-1").SyncDisabled)

	next := f.reconcile(t, models.SyncTrigger{SeriesUID: master.UID})
	assert.Equal(t, 1, next.Calendars, "a disabled connection is skipped")
}

func TestSyncService_Reconcile_Webhooks(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	conn := syncConnection("conn-1", "work")
	conn.WebhookChannelID = "chan-1"
	f := newSyncFixture(conn)
	f.registry.with("conn-1", p)
	master, _ := f.series.create(t)
	_, _, err := f.series.svc.UpsertSeries(ctx, &models.SeriesMaster{
		AccountID: "acct-1",
		Title:     "Kickoff",
		Rule:      models.RecurrenceRule{DTStart: firstTuesday.Add(26 * time.Hour), Duration: 60},
	}, nil)
	require.NoError(t, err)
	f.reconcile(t, models.SyncTrigger{})

	t.Run("channel resolves the account", func(t *testing.T) {
		report := f.reconcile(t, models.SyncTrigger{Kind: models.TriggerWebhook, ChannelID: "chan-1"})

		assert.Equal(t, "acct-1", report.AccountID)
		assert.Equal(t, 2, report.Series)
	})

	t.Run("known resource narrows to its series", func(t *testing.T) {
		report := f.reconcile(t, models.SyncTrigger{
			Kind:       models.TriggerWebhook,
			ChannelID:  "chan-1",
			ResourceID: remoteUIDAt(master, firstTuesday),
		})

		assert.Equal(t, "acct-1", report.AccountID)
		assert.Equal(t, 1, report.Series)
	})

	t.Run("unknown channel is ignored", func(t *testing.T) {
		before := len(f.locker.acquired)

		report := f.reconcile(t, models.SyncTrigger{Kind: models.TriggerWebhook, ChannelID: "stale"})

		assert.Empty(t, report.AccountID)
		assert.Len(t, f.locker.acquired, before)
	})
}

func TestSyncService_Reconcile_Errors(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(syncConnection("conn-1", "work"))

	_, err := f.svc.Reconcile(ctx, models.SyncTrigger{Kind: models.TriggerPeriodic})
	assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))

	start, end := seriesNow, seriesNow.Add(-time.Hour)
	_, err = f.svc.Reconcile(ctx, models.SyncTrigger{AccountID: "acct-1", Kind: models.TriggerPeriodic, WindowStart: &start, WindowEnd: &end})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)

	f.locker.err = context.DeadlineExceeded
	_, err = f.svc.Reconcile(ctx, models.SyncTrigger{AccountID: "acct-1", Kind: models.TriggerPeriodic})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSyncService_Reconcile_StopsWhenLeaseIsLost(t *testing.T) {
	p := newFakeProvider()
	f := newSyncFixture(syncConnection("conn-1", "work"))
	f.registry.with("conn-1", p)
	master, _ := f.series.create(t)
	f.locker.lose = true

	_, err := f.svc.Reconcile(context.Background(), models.SyncTrigger{AccountID: "acct-1", SeriesUID: master.UID, Kind: models.TriggerLocalEdit})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
	assert.Empty(t, p.writeCalls(), "no calendar writes after the lease is gone")
	assert.Equal(t, 1, f.locker.released)
}
