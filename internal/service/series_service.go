// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

const (
	// DefaultMaterializeHorizon is how far ahead instances are created when
	// a series is upserted without explicit instances.
	DefaultMaterializeHorizon = 90 * 24 * time.Hour
)

// SeriesConfig tunes the series store.
type SeriesConfig struct {
	Horizon time.Duration
}

// SeriesService owns every mutation of series masters and their instances.
type SeriesService struct {
	repo     domain.SeriesRepository
	expander domain.RecurrenceExpander
	triggers domain.TriggerSubmitter
	queue    domain.NotificationQueue
	config   SeriesConfig
	now      func() time.Time
}

// NewSeriesService creates a new SeriesService. triggers and queue may be nil.
func NewSeriesService(
	repo domain.SeriesRepository,
	expander domain.RecurrenceExpander,
	triggers domain.TriggerSubmitter,
	queue domain.NotificationQueue,
	config SeriesConfig,
) *SeriesService {
	if config.Horizon <= 0 {
		config.Horizon = DefaultMaterializeHorizon
	}
	return &SeriesService{
		repo:     repo,
		expander: expander,
		triggers: triggers,
		queue:    queue,
		config:   config,
		now:      time.Now,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *SeriesService) ServiceReady() bool {
	return s.repo != nil && s.expander != nil
}

// ExpandSeries expands the rule of master over [from, to] without the
// occurrences cut off by a truncation.
func ExpandSeries(expander domain.RecurrenceExpander, master *models.SeriesMaster, from, to time.Time) ([]models.Occurrence, error) {
	occurrences, err := expander.Expand(&master.Rule, from, to)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(occurrences, func(o models.Occurrence) bool {
		return master.Truncated(o.OriginalStart)
	}), nil
}

// GetSeries returns one series master.
func (s *SeriesService) GetSeries(ctx context.Context, seriesUID string) (*models.SeriesMaster, error) {
	return s.repo.GetSeries(ctx, seriesUID)
}

// ListInstances returns the instances whose original start lies in [from, to].
func (s *SeriesService) ListInstances(ctx context.Context, seriesUID string, from, to time.Time) ([]*models.SlotInstance, error) {
	return s.repo.ListInstances(ctx, seriesUID, from, to)
}

// UpsertSeries creates or updates a series and the given instances. Instances
// are matched by original start and updated in place; only their timing is
// taken from the input, the rest comes from the master. A nil instance list
// materializes every occurrence from now up to the configured horizon.
// Instances the rule no longer produces are left alone.
func (s *SeriesService) UpsertSeries(ctx context.Context, master *models.SeriesMaster, instances []*models.SlotInstance) (*models.SeriesMaster, []*models.SlotInstance, error) {
	if err := validateSeries(master); err != nil {
		return nil, nil, err
	}
	if _, err := s.expander.IsOccurrence(&master.Rule, master.Rule.DTStart); err != nil {
		return nil, nil, err
	}

	var explicit []models.Occurrence
	for _, in := range instances {
		occ, err := s.occurrenceFor(master, in)
		if err != nil {
			return nil, nil, err
		}
		explicit = append(explicit, occ)
	}

	now := s.now().UTC()
	var stored *models.SeriesMaster
	var created, changed bool

	if master.UID != "" {
		_, err := s.repo.GetSeries(ctx, master.UID)
		switch {
		case err == nil:
			stored, changed, err = s.mutateSeries(ctx, master.UID, func(current *models.SeriesMaster) (bool, error) {
				if current.AccountID != master.AccountID {
					return false, domain.NewValidationError("series belongs to another account")
				}
				if current.Cancelled {
					return false, domain.NewValidationError("series is cancelled")
				}
				if !copyTemplate(master, current) {
					return false, nil
				}
				current.Sequence++
				current.UpdatedAt = &now
				return true, nil
			})
			if err != nil {
				return nil, nil, err
			}
		case domain.GetErrorType(err) != domain.ErrorTypeNotFound:
			return nil, nil, err
		}
	}

	if stored == nil {
		fresh := *master
		if fresh.UID == "" {
			fresh.UID = uuid.New().String()
		}
		fresh.Sequence = 0
		fresh.Cancelled = false
		fresh.CreatedAt = &now
		fresh.UpdatedAt = &now
		if err := s.repo.CreateSeries(ctx, &fresh); err != nil {
			return nil, nil, err
		}
		stored = &fresh
		created = true
	}

	ctx = logging.AppendCtx(ctx, slog.String("series_uid", stored.UID))

	occurrences := explicit
	if instances == nil {
		from := stored.Rule.DTStart.UTC()
		if from.Before(now) {
			from = now
		}
		var err error
		occurrences, err = ExpandSeries(s.expander, stored, from, now.Add(s.config.Horizon))
		if err != nil {
			return nil, nil, err
		}
	}

	result, err := s.materialize(ctx, stored, occurrences, true)
	if err != nil {
		return nil, nil, err
	}

	slog.InfoContext(ctx, "series upserted",
		"created", created,
		"template_changed", changed,
		"instances", len(result),
		"sequence", stored.Sequence)

	switch {
	case created:
		s.notify(ctx, models.Notification{Kind: models.NotificationSeriesCreated, AccountID: stored.AccountID, SeriesUID: stored.UID, Recipients: stored.Participants})
	case changed:
		s.notify(ctx, models.Notification{Kind: models.NotificationSeriesUpdated, AccountID: stored.AccountID, SeriesUID: stored.UID, Recipients: stored.Participants})
	}
	s.submit(ctx, stored)

	return stored, result, nil
}

// UpdateSingleInstance edits one instance and records the new timing as an
// override of its series. The master sequence is left alone.
func (s *SeriesService) UpdateSingleInstance(ctx context.Context, instanceUID string, changes models.InstanceChanges) (*models.SlotInstance, error) {
	instance, _, err := s.repo.GetInstance(ctx, instanceUID)
	if err != nil {
		return nil, err
	}
	if instance.Status.IsTerminal() {
		return nil, domain.NewValidationError(fmt.Sprintf("instance is %s and cannot be edited", instance.Status))
	}

	now := s.now().UTC()
	timingChanged := applyInstanceChanges(instance, changes)
	if !instance.End.After(instance.Start) {
		return nil, domain.NewValidationError("instance must end after it starts", domain.ErrInvalidWindow)
	}

	if timingChanged && instance.SeriesUID != "" {
		_, _, err := s.mutateSeries(ctx, instance.SeriesUID, func(master *models.SeriesMaster) (bool, error) {
			ok := master.Rule.SetOverride(models.Override{
				OriginalStart: instance.OriginalStart,
				Start:         instance.Start,
				End:           instance.End,
			})
			if !ok {
				return false, domain.NewValidationError("occurrence was removed from the series")
			}
			master.UpdatedAt = &now
			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}

	instance.Overridden = true
	instance.UpdatedAt = &now
	if err := s.repo.PutInstance(ctx, instance); err != nil {
		return nil, err
	}

	if instance.SeriesUID != "" {
		if master, err := s.repo.GetSeries(ctx, instance.SeriesUID); err == nil {
			s.submit(ctx, master)
		}
	}
	s.notify(ctx, models.Notification{
		Kind:        models.NotificationSeriesUpdated,
		AccountID:   instance.AccountID,
		SeriesUID:   instance.SeriesUID,
		InstanceUID: instance.UID,
		Recipients:  instance.Participants,
	})
	return instance, nil
}

// UpdateWholeSeries applies changes to the master and to every proposed
// instance starting from effectiveFrom that has not started yet. Confirmed
// and past instances keep their content. The master sequence is bumped.
func (s *SeriesService) UpdateWholeSeries(ctx context.Context, seriesUID string, changes models.SeriesChanges, effectiveFrom time.Time) (*models.SeriesMaster, []*models.SlotInstance, error) {
	now := s.now().UTC()
	if effectiveFrom.IsZero() {
		effectiveFrom = now
	}
	if changes.Duration != nil && *changes.Duration <= 0 {
		return nil, nil, domain.NewValidationError("duration must be positive")
	}

	instances, err := s.repo.ListInstances(ctx, seriesUID, effectiveFrom, time.Time{})
	if err != nil {
		return nil, nil, err
	}
	var affected, kept []*models.SlotInstance
	for _, inst := range instances {
		if inst.Status == models.InstanceStatusProposed && !inst.Start.Before(now) {
			affected = append(affected, inst)
		} else if !inst.Overridden && !inst.Status.IsTerminal() {
			kept = append(kept, inst)
		}
	}

	master, _, err := s.mutateSeries(ctx, seriesUID, func(m *models.SeriesMaster) (bool, error) {
		if m.Cancelled {
			return false, domain.NewValidationError("series is cancelled")
		}
		if changes.Shift != nil || changes.Duration != nil {
			// instances that keep their content keep their timing too
			for _, inst := range kept {
				m.Rule.SetOverride(models.Override{
					OriginalStart: inst.OriginalStart,
					Start:         inst.Start,
					End:           inst.End,
				})
			}
		}
		changes.Apply(m)
		if changes.Shift != nil {
			m.Rule.AddShift(effectiveFrom, *changes.Shift)
		}
		m.Sequence++
		m.UpdatedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	ctx = logging.AppendCtx(ctx, slog.String("series_uid", seriesUID))

	for _, inst := range affected {
		if inst.Overridden {
			copyInstanceText(master, inst)
		} else {
			changes.ApplyToInstance(master, inst)
		}
		inst.UpdatedAt = &now
		if err := s.repo.PutInstance(ctx, inst); err != nil {
			return nil, nil, err
		}
	}

	slog.InfoContext(ctx, "series updated",
		"effective_from", effectiveFrom,
		"instances_updated", len(affected),
		"sequence", master.Sequence)

	s.notify(ctx, models.Notification{Kind: models.NotificationSeriesUpdated, AccountID: master.AccountID, SeriesUID: master.UID, Recipients: master.Participants})
	s.submit(ctx, master)
	return master, affected, nil
}

// DeleteInstancesAfter cancels every instance at or after cutoff and ends
// the series there. Their original starts join the exception set.
func (s *SeriesService) DeleteInstancesAfter(ctx context.Context, seriesUID string, cutoff time.Time) ([]*models.SlotInstance, error) {
	if cutoff.IsZero() {
		return nil, domain.NewValidationError("cutoff is required", domain.ErrInvalidWindow)
	}
	cutoff = cutoff.UTC()

	instances, err := s.repo.ListInstances(ctx, seriesUID, cutoff, time.Time{})
	if err != nil {
		return nil, err
	}
	targets := slices.DeleteFunc(instances, func(i *models.SlotInstance) bool {
		return i.Status == models.InstanceStatusCompleted
	})

	now := s.now().UTC()
	master, _, err := s.mutateSeries(ctx, seriesUID, func(m *models.SeriesMaster) (bool, error) {
		changed := false
		for _, inst := range targets {
			if m.Rule.AddException(inst.OriginalStart) {
				changed = true
			}
		}
		if m.EndsBefore == nil || cutoff.Before(*m.EndsBefore) {
			m.EndsBefore = &cutoff
			changed = true
		}
		if changed {
			m.UpdatedAt = &now
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	cancelled, err := s.cancelInstances(ctx, targets, now)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "series instances deleted after cutoff",
		"series_uid", seriesUID,
		"cutoff", cutoff,
		"cancelled", len(cancelled))

	s.submit(ctx, master)
	return cancelled, nil
}

// DeleteRecurringInstances cancels the named occurrences one by one and adds
// them to the exception set. Every instant must be an occurrence of the rule.
func (s *SeriesService) DeleteRecurringInstances(ctx context.Context, seriesUID string, instants []time.Time) ([]*models.SlotInstance, error) {
	if len(instants) == 0 {
		return nil, nil
	}

	master, err := s.repo.GetSeries(ctx, seriesUID)
	if err != nil {
		return nil, err
	}

	var targets []*models.SlotInstance
	for _, t := range instants {
		ok, err := s.expander.IsOccurrence(&master.Rule, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.NewValidationError(fmt.Sprintf("%s is not an occurrence of series %s", t.UTC().Format(time.RFC3339), seriesUID))
		}

		inst, err := s.repo.FindInstanceByOccurrence(ctx, seriesUID, t.UTC())
		if err != nil {
			if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
				continue
			}
			return nil, err
		}
		if inst.Status == models.InstanceStatusCompleted {
			return nil, domain.NewValidationError(fmt.Sprintf("instance %s is completed and cannot be deleted", inst.UID))
		}
		targets = append(targets, inst)
	}

	now := s.now().UTC()
	master, _, err = s.mutateSeries(ctx, seriesUID, func(m *models.SeriesMaster) (bool, error) {
		changed := false
		for _, t := range instants {
			if m.Rule.AddException(t.UTC()) {
				changed = true
			}
		}
		if changed {
			m.UpdatedAt = &now
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	cancelled, err := s.cancelInstances(ctx, targets, now)
	if err != nil {
		return nil, err
	}
	s.submit(ctx, master)
	return cancelled, nil
}

// BulkConfirmSlots confirms every proposed instance whose original start lies
// in [from, to], materializing occurrences that have no row yet. Repeated
// calls return the same set without further writes.
func (s *SeriesService) BulkConfirmSlots(ctx context.Context, seriesUID string, from, to time.Time) ([]*models.SlotInstance, error) {
	if to.Before(from) {
		return nil, domain.NewValidationError("confirmation range ends before it starts", domain.ErrInvalidWindow)
	}

	master, err := s.repo.GetSeries(ctx, seriesUID)
	if err != nil {
		return nil, err
	}
	if master.Cancelled {
		return nil, domain.NewValidationError("series is cancelled")
	}

	occurrences, err := ExpandSeries(s.expander, master, from, to)
	if err != nil {
		return nil, err
	}
	if _, err := s.materialize(ctx, master, occurrences, false); err != nil {
		return nil, err
	}

	instances, err := s.repo.ListInstances(ctx, seriesUID, from, to)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var confirmed []*models.SlotInstance
	transitioned := 0
	for _, inst := range instances {
		switch inst.Status {
		case models.InstanceStatusConfirmed:
			confirmed = append(confirmed, inst)
		case models.InstanceStatusProposed:
			inst.Status = models.InstanceStatusConfirmed
			inst.UpdatedAt = &now
			if err := s.repo.PutInstance(ctx, inst); err != nil {
				return nil, err
			}
			transitioned++
			confirmed = append(confirmed, inst)
		}
	}

	slog.InfoContext(ctx, "slots confirmed",
		"series_uid", seriesUID,
		"confirmed", len(confirmed),
		"transitioned", transitioned)

	if transitioned > 0 {
		s.submit(ctx, master)
	}
	return confirmed, nil
}

// CompleteInstances marks confirmed instances that ended by before as completed.
func (s *SeriesService) CompleteInstances(ctx context.Context, seriesUID string, before time.Time) (int, error) {
	instances, err := s.repo.ListInstances(ctx, seriesUID, time.Time{}, before)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	completed := 0
	for _, inst := range instances {
		if inst.Status != models.InstanceStatusConfirmed || inst.End.After(before) {
			continue
		}
		inst.Status = models.InstanceStatusCompleted
		inst.UpdatedAt = &now
		if err := s.repo.PutInstance(ctx, inst); err != nil {
			return completed, err
		}
		completed++
	}
	return completed, nil
}

// CancelSeries soft-terminates a series: the master is flagged cancelled and
// every instance that has not started yet is cancelled.
func (s *SeriesService) CancelSeries(ctx context.Context, seriesUID string) (*models.SeriesMaster, []*models.SlotInstance, error) {
	now := s.now().UTC()

	instances, err := s.repo.ListInstances(ctx, seriesUID, time.Time{}, time.Time{})
	if err != nil {
		return nil, nil, err
	}
	targets := slices.DeleteFunc(instances, func(i *models.SlotInstance) bool {
		return i.Status.IsTerminal() || i.Start.Before(now)
	})

	master, changed, err := s.mutateSeries(ctx, seriesUID, func(m *models.SeriesMaster) (bool, error) {
		if m.Cancelled {
			return false, nil
		}
		m.Cancelled = true
		m.Sequence++
		for _, inst := range targets {
			m.Rule.AddException(inst.OriginalStart)
		}
		if m.EndsBefore == nil || now.Before(*m.EndsBefore) {
			m.EndsBefore = &now
		}
		m.UpdatedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, nil, err
	}

	cancelled, err := s.cancelInstances(ctx, targets, now)
	if err != nil {
		return nil, nil, err
	}

	if changed {
		s.notify(ctx, models.Notification{
			Kind:       models.NotificationSeriesUpdated,
			AccountID:  master.AccountID,
			SeriesUID:  master.UID,
			Recipients: master.Participants,
			Reason:     "series cancelled",
		})
	}
	s.submit(ctx, master)
	return master, cancelled, nil
}

// RecordRemoteRefs writes the outcome of a reconciliation onto an instance.
// set adds or replaces refs by key and drop removes them.
func (s *SeriesService) RecordRemoteRefs(ctx context.Context, instanceUID string, set map[string]models.RemoteRef, drop []string) error {
	inst, _, err := s.repo.GetInstance(ctx, instanceUID)
	if err != nil {
		return err
	}

	changed := false
	for _, key := range drop {
		if _, ok := inst.RemoteRefs[key]; ok {
			delete(inst.RemoteRefs, key)
			changed = true
		}
	}
	for key, ref := range set {
		if inst.RemoteRefs == nil {
			inst.RemoteRefs = make(map[string]models.RemoteRef)
		}
		if prev, ok := inst.RemoteRefs[key]; ok && prev.ETag == ref.ETag && prev.Sequence == ref.Sequence && prev.RemoteUID == ref.RemoteUID {
			continue
		}
		inst.RemoteRefs[key] = ref
		changed = true
	}
	if !changed {
		return nil
	}

	now := s.now().UTC()
	inst.UpdatedAt = &now
	return s.repo.PutInstance(ctx, inst)
}

// materialize makes sure an instance row exists for every occurrence. With
// retemplateOpen set, rows that are still open are re-templated from master.
func (s *SeriesService) materialize(ctx context.Context, master *models.SeriesMaster, occurrences []models.Occurrence, retemplateOpen bool) ([]*models.SlotInstance, error) {
	now := s.now().UTC()
	out := make([]*models.SlotInstance, 0, len(occurrences))

	for _, occ := range occurrences {
		if master.Rule.HasException(occ.OriginalStart) || master.Truncated(occ.OriginalStart) {
			continue
		}

		existing, err := s.repo.FindInstanceByOccurrence(ctx, master.UID, occ.OriginalStart)
		if err != nil && domain.GetErrorType(err) != domain.ErrorTypeNotFound {
			return nil, err
		}

		if existing == nil {
			inst := &models.SlotInstance{
				UID:           models.InstanceUID(master.UID, occ.OriginalStart),
				SeriesUID:     master.UID,
				AccountID:     master.AccountID,
				OriginalStart: occ.OriginalStart.UTC(),
				Start:         occ.Start.UTC(),
				End:           occ.End.UTC(),
				Status:        models.InstanceStatusProposed,
				CreatedAt:     &now,
				UpdatedAt:     &now,
			}
			copyInstanceText(master, inst)
			if err := s.repo.PutInstance(ctx, inst); err != nil {
				return nil, err
			}
			out = append(out, inst)
			continue
		}

		if retemplateOpen && retemplate(master, existing, occ) {
			existing.UpdatedAt = &now
			if err := s.repo.PutInstance(ctx, existing); err != nil {
				return nil, err
			}
		}
		out = append(out, existing)
	}
	return out, nil
}

func (s *SeriesService) occurrenceFor(master *models.SeriesMaster, in *models.SlotInstance) (models.Occurrence, error) {
	if in == nil || in.OriginalStart.IsZero() {
		return models.Occurrence{}, domain.NewValidationError("instance original start is required")
	}
	original := in.OriginalStart.UTC()
	ok, err := s.expander.IsOccurrence(&master.Rule, original)
	if err != nil {
		return models.Occurrence{}, err
	}
	if !ok {
		return models.Occurrence{}, domain.NewValidationError(fmt.Sprintf("%s is not an occurrence of the series", original.Format(time.RFC3339)))
	}

	start := original.Add(master.Rule.ShiftAt(original))
	occ := models.Occurrence{OriginalStart: original, Start: start, End: start.Add(master.Rule.DurationValue())}
	if !in.Start.IsZero() {
		occ.Start = in.Start.UTC()
		occ.End = occ.Start.Add(master.Rule.DurationValue())
	}
	if !in.End.IsZero() {
		occ.End = in.End.UTC()
	}
	if !occ.End.After(occ.Start) {
		return models.Occurrence{}, domain.NewValidationError("instance must end after it starts", domain.ErrInvalidWindow)
	}
	return occ, nil
}

func (s *SeriesService) cancelInstances(ctx context.Context, instances []*models.SlotInstance, now time.Time) ([]*models.SlotInstance, error) {
	var cancelled []*models.SlotInstance
	for _, inst := range instances {
		if inst.Status == models.InstanceStatusCancelled {
			continue
		}
		if !inst.Status.CanTransitionTo(models.InstanceStatusCancelled) {
			continue
		}
		inst.Status = models.InstanceStatusCancelled
		inst.UpdatedAt = &now
		if err := s.repo.PutInstance(ctx, inst); err != nil {
			return cancelled, err
		}
		cancelled = append(cancelled, inst)
		s.notify(ctx, models.Notification{
			Kind:        models.NotificationInstanceCancelled,
			AccountID:   inst.AccountID,
			SeriesUID:   inst.SeriesUID,
			InstanceUID: inst.UID,
			Recipients:  inst.Participants,
		})
	}
	return cancelled, nil
}

// mutateSeries runs fn against the latest master and writes the result with
// a revision check, retrying on conflicting writes.
func (s *SeriesService) mutateSeries(ctx context.Context, seriesUID string, fn func(*models.SeriesMaster) (bool, error)) (*models.SeriesMaster, bool, error) {
	return updateWithRetry(ctx, "series "+seriesUID,
		func(ctx context.Context) (*models.SeriesMaster, uint64, error) {
			return s.repo.GetSeriesWithRevision(ctx, seriesUID)
		},
		s.repo.UpdateSeries,
		fn)
}

func (s *SeriesService) submit(ctx context.Context, master *models.SeriesMaster) {
	if s.triggers == nil || master == nil {
		return
	}
	err := s.triggers.Submit(ctx, models.SyncTrigger{
		AccountID:  master.AccountID,
		SeriesUID:  master.UID,
		Kind:       models.TriggerLocalEdit,
		ReceivedAt: s.now().UTC(),
	})
	if err != nil {
		// the periodic pass converges the remote side later
		slog.WarnContext(ctx, "failed to queue sync after local edit", "series_uid", master.UID, logging.ErrKey, err)
	}
}

func (s *SeriesService) notify(ctx context.Context, n models.Notification) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, n); err != nil {
		slog.WarnContext(ctx, "failed to enqueue notification", "kind", n.Kind, logging.ErrKey, err)
	}
}

func validateSeries(master *models.SeriesMaster) error {
	switch {
	case master == nil:
		return domain.NewValidationError("series is required")
	case master.AccountID == "":
		return domain.NewValidationError("series account is required")
	case master.Title == "":
		return domain.NewValidationError("series title is required")
	case master.Rule.DTStart.IsZero():
		return domain.NewValidationError("series start is required", domain.ErrInvalidRecurrenceRule)
	case master.Rule.Duration <= 0:
		return domain.NewValidationError("series duration must be positive", domain.ErrInvalidRecurrenceRule)
	}
	return nil
}

// copyTemplate copies the template of src onto dst and reports whether dst changed.
// Exceptions, overrides and shifts already on dst are kept; exceptions on src are added.
func copyTemplate(src, dst *models.SeriesMaster) bool {
	changed := dst.Title != src.Title ||
		dst.Description != src.Description ||
		dst.Location != src.Location ||
		dst.Organizer != src.Organizer ||
		dst.CalendarID != src.CalendarID ||
		!slices.Equal(dst.Participants, src.Participants) ||
		!samePattern(&dst.Rule, &src.Rule)

	dst.Title = src.Title
	dst.Description = src.Description
	dst.Location = src.Location
	dst.Organizer = src.Organizer
	dst.CalendarID = src.CalendarID
	dst.Participants = src.Participants

	exDates, overrides, shifts := dst.Rule.ExDates, dst.Rule.Overrides, dst.Rule.Shifts
	dst.Rule = src.Rule
	dst.Rule.ExDates, dst.Rule.Overrides, dst.Rule.Shifts = exDates, overrides, shifts
	for _, ex := range src.Rule.ExDates {
		if dst.Rule.AddException(ex) {
			changed = true
		}
	}
	return changed
}

func samePattern(a, b *models.RecurrenceRule) bool {
	untilEqual := (a.Until == nil) == (b.Until == nil) && (a.Until == nil || a.Until.Equal(*b.Until))
	return a.RRule == b.RRule &&
		a.Frequency == b.Frequency &&
		a.Interval == b.Interval &&
		a.Count == b.Count &&
		untilEqual &&
		slices.Equal(a.ByDay, b.ByDay) &&
		slices.Equal(a.ByMonthDay, b.ByMonthDay) &&
		a.DTStart.Equal(b.DTStart) &&
		a.Duration == b.Duration &&
		a.Timezone == b.Timezone
}

func copyInstanceText(master *models.SeriesMaster, inst *models.SlotInstance) {
	inst.Title = master.Title
	inst.Description = master.Description
	inst.Location = master.Location
	inst.Participants = master.Participants
}

// retemplate refreshes a proposed instance from its master. Overridden and
// confirmed instances keep their own content.
func retemplate(master *models.SeriesMaster, inst *models.SlotInstance, occ models.Occurrence) bool {
	if inst.Status != models.InstanceStatusProposed || inst.Overridden {
		return false
	}
	changed := inst.Title != master.Title ||
		inst.Description != master.Description ||
		inst.Location != master.Location ||
		!slices.Equal(inst.Participants, master.Participants)
	copyInstanceText(master, inst)

	if !inst.Start.Equal(occ.Start) || !inst.End.Equal(occ.End) {
		inst.Start = occ.Start.UTC()
		inst.End = occ.End.UTC()
		changed = true
	}
	return changed
}

func applyInstanceChanges(inst *models.SlotInstance, changes models.InstanceChanges) bool {
	if changes.Title != nil {
		inst.Title = *changes.Title
	}
	if changes.Description != nil {
		inst.Description = *changes.Description
	}
	if changes.Location != nil {
		inst.Location = *changes.Location
	}
	if changes.Participants != nil {
		inst.Participants = changes.Participants
	}

	timingChanged := false
	if changes.Start != nil && !changes.Start.Equal(inst.Start) {
		duration := inst.End.Sub(inst.Start)
		inst.Start = changes.Start.UTC()
		if changes.End == nil {
			inst.End = inst.Start.Add(duration)
		}
		timingChanged = true
	}
	if changes.End != nil && !changes.End.Equal(inst.End) {
		inst.End = changes.End.UTC()
		timingChanged = true
	}
	return timingChanged
}
