// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

// memSeriesRepo is an in-memory SeriesRepository with revision checks.
type memSeriesRepo struct {
	mu        sync.Mutex
	series    map[string]*models.SeriesMaster
	revisions map[string]uint64
	instances map[string]*models.SlotInstance
	// conflicts makes the next N UpdateSeries calls fail with a revision conflict.
	conflicts int
	putErr    error
}

func newMemSeriesRepo() *memSeriesRepo {
	return &memSeriesRepo{
		series:    make(map[string]*models.SeriesMaster),
		revisions: make(map[string]uint64),
		instances: make(map[string]*models.SlotInstance),
	}
}

func cloneSeries(s *models.SeriesMaster) *models.SeriesMaster {
	c := *s
	c.Participants = append([]string(nil), s.Participants...)
	c.Rule.ExDates = append([]time.Time(nil), s.Rule.ExDates...)
	c.Rule.Overrides = append([]models.Override(nil), s.Rule.Overrides...)
	c.Rule.Shifts = append([]models.TemplateShift(nil), s.Rule.Shifts...)
	return &c
}

func cloneInstance(i *models.SlotInstance) *models.SlotInstance {
	c := *i
	c.Participants = append([]string(nil), i.Participants...)
	if i.RemoteRefs != nil {
		c.RemoteRefs = make(map[string]models.RemoteRef, len(i.RemoteRefs))
		for k, v := range i.RemoteRefs {
			c.RemoteRefs[k] = v
		}
	}
	return &c
}

func (r *memSeriesRepo) CreateSeries(ctx context.Context, series *models.SeriesMaster) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.series[series.UID]; ok {
		return domain.NewConflictError("series already exists")
	}
	r.series[series.UID] = cloneSeries(series)
	r.revisions[series.UID] = 1
	return nil
}

func (r *memSeriesRepo) GetSeries(ctx context.Context, seriesUID string) (*models.SeriesMaster, error) {
	s, _, err := r.GetSeriesWithRevision(ctx, seriesUID)
	return s, err
}

func (r *memSeriesRepo) GetSeriesWithRevision(ctx context.Context, seriesUID string) (*models.SeriesMaster, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[seriesUID]
	if !ok {
		return nil, 0, domain.NewNotFoundError("series not found")
	}
	return cloneSeries(s), r.revisions[seriesUID], nil
}

func (r *memSeriesRepo) UpdateSeries(ctx context.Context, series *models.SeriesMaster, revision uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		r.revisions[series.UID]++
		return domain.NewConflictError("revision mismatch")
	}
	if r.revisions[series.UID] != revision {
		return domain.NewConflictError("revision mismatch")
	}
	r.series[series.UID] = cloneSeries(series)
	r.revisions[series.UID]++
	return nil
}

func (r *memSeriesRepo) ListSeriesByAccount(ctx context.Context, accountID string) ([]*models.SeriesMaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SeriesMaster
	for _, s := range r.series {
		if s.AccountID == accountID {
			out = append(out, cloneSeries(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (r *memSeriesRepo) GetInstance(ctx context.Context, instanceUID string) (*models.SlotInstance, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.instances[instanceUID]
	if !ok {
		return nil, 0, domain.NewNotFoundError("instance not found")
	}
	return cloneInstance(i), 1, nil
}

func (r *memSeriesRepo) PutInstance(ctx context.Context, instance *models.SlotInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.putErr != nil {
		return r.putErr
	}
	r.instances[instance.UID] = cloneInstance(instance)
	return nil
}

func (r *memSeriesRepo) ListInstances(ctx context.Context, seriesUID string, from, to time.Time) ([]*models.SlotInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SlotInstance
	for _, i := range r.instances {
		if i.SeriesUID != seriesUID {
			continue
		}
		if !from.IsZero() && i.OriginalStart.Before(from) {
			continue
		}
		if !to.IsZero() && i.OriginalStart.After(to) {
			continue
		}
		out = append(out, cloneInstance(i))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].OriginalStart.Before(out[b].OriginalStart) })
	return out, nil
}

func (r *memSeriesRepo) FindInstanceByOccurrence(ctx context.Context, seriesUID string, originalStart time.Time) (*models.SlotInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.instances {
		if i.SeriesUID == seriesUID && i.OriginalStart.Equal(originalStart) {
			return cloneInstance(i), nil
		}
	}
	return nil, domain.NewNotFoundError("instance not found")
}

func (r *memSeriesRepo) FindInstanceByRemoteUID(ctx context.Context, remoteUID string) (*models.SlotInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.instances {
		for _, ref := range i.RemoteRefs {
			if ref.RemoteUID == remoteUID {
				return cloneInstance(i), nil
			}
		}
	}
	return nil, domain.NewNotFoundError("instance not found")
}

func (r *memSeriesRepo) allInstances(seriesUID string) []*models.SlotInstance {
	out, _ := r.ListInstances(context.Background(), seriesUID, time.Time{}, time.Time{})
	return out
}

// memConnectionRepo is an in-memory ConnectionRepository.
type memConnectionRepo struct {
	mu        sync.Mutex
	conns     map[string]*models.CalendarConnection
	revisions map[string]uint64
}

func newMemConnectionRepo(conns ...*models.CalendarConnection) *memConnectionRepo {
	r := &memConnectionRepo{
		conns:     make(map[string]*models.CalendarConnection),
		revisions: make(map[string]uint64),
	}
	for _, c := range conns {
		_ = r.CreateConnection(context.Background(), c)
	}
	return r
}

func cloneConnection(c *models.CalendarConnection) *models.CalendarConnection {
	out := *c
	out.Calendars = append([]models.CalendarInfo(nil), c.Calendars...)
	return &out
}

func (r *memConnectionRepo) CreateConnection(ctx context.Context, conn *models.CalendarConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.UID]; ok {
		return domain.NewConflictError("connection already exists")
	}
	r.conns[conn.UID] = cloneConnection(conn)
	r.revisions[conn.UID] = 1
	return nil
}

func (r *memConnectionRepo) GetConnection(ctx context.Context, connectionUID string) (*models.CalendarConnection, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connectionUID]
	if !ok {
		return nil, 0, domain.NewNotFoundError("connection not found")
	}
	return cloneConnection(c), r.revisions[connectionUID], nil
}

func (r *memConnectionRepo) UpdateConnection(ctx context.Context, conn *models.CalendarConnection, revision uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.revisions[conn.UID] != revision {
		return domain.NewConflictError("revision mismatch")
	}
	r.conns[conn.UID] = cloneConnection(conn)
	r.revisions[conn.UID]++
	return nil
}

func (r *memConnectionRepo) ListConnectionsByAccount(ctx context.Context, accountID string) ([]*models.CalendarConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CalendarConnection
	for _, c := range r.conns {
		if c.AccountID == accountID {
			out = append(out, cloneConnection(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (r *memConnectionRepo) FindConnectionByChannel(ctx context.Context, channelID string) (*models.CalendarConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.WebhookChannelID != "" && c.WebhookChannelID == channelID {
			return cloneConnection(c), nil
		}
	}
	return nil, domain.NewNotFoundError("connection not found")
}

func (r *memConnectionRepo) ListAllConnections(ctx context.Context) ([]*models.CalendarConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CalendarConnection
	for _, c := range r.conns {
		out = append(out, cloneConnection(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (r *memConnectionRepo) get(uid string) *models.CalendarConnection {
	c, _, _ := r.GetConnection(context.Background(), uid)
	return c
}

// fakeProvider keeps remote events per calendar and records every call.
type fakeProvider struct {
	mu       sync.Mutex
	span     time.Duration
	calendar []models.CalendarInfo
	events   map[string]map[string]models.EventRecord // calendar -> uid -> event
	busy     map[string][]models.BusyInterval
	// errs fails every call touching the calendar.
	errs map[string]error
	// writeErr fails writes touching the calendar while leaving reads alone.
	writeErr   map[string]error
	refreshErr error
	calls      []string
	busyCalls  []models.TimeWindow
	closed     bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		span:     30 * 24 * time.Hour,
		events:   make(map[string]map[string]models.EventRecord),
		busy:     make(map[string][]models.BusyInterval),
		errs:     make(map[string]error),
		writeErr: make(map[string]error),
	}
}

var _ domain.CalendarProvider = (*fakeProvider)(nil)

func (p *fakeProvider) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) Kind() models.ProviderKind { return models.ProviderCalDAV }

func (p *fakeProvider) SafeSpan() time.Duration { return p.span }

func (p *fakeProvider) ListCalendars(ctx context.Context) ([]models.CalendarInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.CalendarInfo(nil), p.calendar...), nil
}

func (p *fakeProvider) RefreshConnection(ctx context.Context, conn *models.CalendarConnection) ([]models.CalendarInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("refresh")
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return append([]models.CalendarInfo(nil), p.calendar...), nil
}

func (p *fakeProvider) put(details models.MeetingDetails, calendarID string) (*models.EventRecord, error) {
	if err := p.errs[calendarID]; err != nil {
		return nil, err
	}
	if err := p.writeErr[calendarID]; err != nil {
		return nil, err
	}
	if p.events[calendarID] == nil {
		p.events[calendarID] = make(map[string]models.EventRecord)
	}
	rec := details.ToEventRecord()
	rec.CalendarID = calendarID
	rec.Path = "/" + calendarID + "/" + details.UID + ".ics"
	rec.ETag = "etag-" + details.UID
	p.events[calendarID][details.UID] = rec
	return &rec, nil
}

func (p *fakeProvider) CreateEvent(ctx context.Context, conn *models.CalendarConnection, details models.MeetingDetails, calendarID string) (*models.EventRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create:" + calendarID + ":" + details.UID)
	return p.put(details, calendarID)
}

func (p *fakeProvider) UpdateEvent(ctx context.Context, conn *models.CalendarConnection, details models.MeetingDetails, calendarID string) (*models.EventRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("update:" + calendarID + ":" + details.UID)
	return p.put(details, calendarID)
}

func (p *fakeProvider) DeleteEvent(ctx context.Context, conn *models.CalendarConnection, uid string, calendarHint string) (domain.LookupResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("delete:" + calendarHint + ":" + uid)
	if err := p.errs[calendarHint]; err != nil {
		return domain.NotFound, err
	}
	if err := p.writeErr[calendarHint]; err != nil {
		return domain.NotFound, err
	}
	if _, ok := p.events[calendarHint][uid]; !ok {
		return domain.NotFound, nil
	}
	delete(p.events[calendarHint], uid)
	return domain.Found, nil
}

func (p *fakeProvider) FindEvent(ctx context.Context, conn *models.CalendarConnection, uid string, calendarHint string) (*models.EventRecord, domain.LookupResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.events[calendarHint][uid]
	if !ok {
		return nil, domain.NotFound, nil
	}
	return &rec, domain.Found, nil
}

func (p *fakeProvider) GetEvents(ctx context.Context, calendars []models.CalendarInfo, from, to time.Time, onlyWithMeetingLink bool) ([]models.EventRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.EventRecord
	for _, cal := range calendars {
		p.record("list:" + cal.ID)
		if err := p.errs[cal.ID]; err != nil {
			return nil, err
		}
		for _, e := range p.events[cal.ID] {
			if e.End.After(from) && e.Start.Before(to) {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (p *fakeProvider) GetBusy(ctx context.Context, calendarID string, from, to time.Time) ([]models.BusyInterval, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busyCalls = append(p.busyCalls, models.TimeWindow{Start: from, End: to})
	if to.Sub(from) > p.span {
		return nil, domain.NewValidationError("range too wide", domain.ErrInvalidWindow)
	}
	if err := p.errs[calendarID]; err != nil {
		return nil, err
	}
	var out []models.BusyInterval
	for _, b := range p.busy[calendarID] {
		if b.End.After(from) && b.Start.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProvider) writeCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.calls {
		if len(c) > 5 && (c[:6] == "create" || c[:6] == "update" || c[:6] == "delete") {
			out = append(out, c)
		}
	}
	return out
}

func (p *fakeProvider) remote(calendarID string) map[string]models.EventRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]models.EventRecord, len(p.events[calendarID]))
	for k, v := range p.events[calendarID] {
		out[k] = v
	}
	return out
}

// fakeRegistry hands out one provider per connection.
type fakeRegistry struct {
	mu        sync.Mutex
	providers map[string]domain.CalendarProvider
	released  []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{providers: make(map[string]domain.CalendarProvider)}
}

func (r *fakeRegistry) with(connUID string, p domain.CalendarProvider) *fakeRegistry {
	r.providers[connUID] = p
	return r
}

func (r *fakeRegistry) RegisterFactory(kind models.ProviderKind, factory domain.ProviderFactory) {}

func (r *fakeRegistry) ProviderFor(ctx context.Context, conn *models.CalendarConnection) (domain.CalendarProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[conn.UID]
	if !ok {
		return nil, domain.NewNotFoundError("no provider for connection")
	}
	return p, nil
}

func (r *fakeRegistry) Release(connectionUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, connectionUID)
	return nil
}

// recordingQueue keeps enqueued notifications.
type recordingQueue struct {
	mu    sync.Mutex
	items []models.Notification
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, n models.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, n)
	return nil
}

func (q *recordingQueue) kinds() []models.NotificationKind {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.NotificationKind, 0, len(q.items))
	for _, n := range q.items {
		out = append(out, n.Kind)
	}
	return out
}

// recordingSubmitter keeps submitted triggers.
type recordingSubmitter struct {
	mu       sync.Mutex
	triggers []models.SyncTrigger
	err      error
}

func (s *recordingSubmitter) Submit(ctx context.Context, trigger models.SyncTrigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.triggers = append(s.triggers, trigger)
	return nil
}

func (s *recordingSubmitter) all() []models.SyncTrigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SyncTrigger(nil), s.triggers...)
}

var errBoom = errors.New("boom")

func ptr[T any](v T) *T { return &v }
