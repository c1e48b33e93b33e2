// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/domain/models"
)

func TestScheduler_SyncPass(t *testing.T) {
	disabled := syncConnection("conn-3", "work")
	disabled.AccountID = "acct-3"
	disabled.SyncDisabled = true
	second := syncConnection("conn-2", "home")
	other := syncConnection("conn-4", "work")
	other.AccountID = "acct-2"
	noSync := &models.CalendarConnection{UID: "conn-5", AccountID: "acct-5", Calendars: []models.CalendarInfo{{ID: "x", Enabled: true}}}

	conns := newMemConnectionRepo(syncConnection("conn-1", "work"), second, disabled, other, noSync)
	submitter := &recordingSubmitter{}
	s := NewScheduler(conns, newSeriesFixture().svc, submitter, SchedulerConfig{})
	s.now = func() time.Time { return seriesNow }

	n, err := s.SyncPass(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	var accounts []string
	for _, tr := range submitter.all() {
		assert.Equal(t, models.TriggerPeriodic, tr.Kind)
		assert.Equal(t, seriesNow, tr.ReceivedAt)
		accounts = append(accounts, tr.AccountID)
	}
	assert.Equal(t, []string{"acct-1", "acct-2"}, accounts)
}

func TestScheduler_SyncPassKeepsGoingOnSubmitFailure(t *testing.T) {
	conns := newMemConnectionRepo(syncConnection("conn-1", "work"))
	submitter := &recordingSubmitter{err: errBoom}
	s := NewScheduler(conns, newSeriesFixture().svc, submitter, SchedulerConfig{})

	n, err := s.SyncPass(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_CompletionPass(t *testing.T) {
	ctx := context.Background()
	f := newSeriesFixture()
	master, _ := f.create(t)
	_, err := f.svc.BulkConfirmSlots(ctx, master.UID, firstTuesday, firstTuesday.Add(3*week))
	require.NoError(t, err)

	s := NewScheduler(newMemConnectionRepo(syncConnection("conn-1", "work")), f.svc, &recordingSubmitter{}, SchedulerConfig{})
	// after the second Tuesday meeting ended
	s.now = func() time.Time { return firstTuesday.Add(week + time.Hour) }

	n, err := s.CompletionPass(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	var completed int
	for _, inst := range f.repo.allInstances(master.UID) {
		if inst.Status == models.InstanceStatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 2, completed)
}

func TestScheduler_CompletionPassCoversEverySeries(t *testing.T) {
	ctx := context.Background()
	f := newSeriesFixture()
	var uids []string
	for i := 0; i < 3; i++ {
		master, _ := f.create(t)
		_, err := f.svc.BulkConfirmSlots(ctx, master.UID, firstTuesday, firstTuesday.Add(3*week))
		require.NoError(t, err)
		uids = append(uids, master.UID)
	}

	s := NewScheduler(newMemConnectionRepo(syncConnection("conn-1", "work")), f.svc, &recordingSubmitter{}, SchedulerConfig{CompletionFanOut: 2})
	s.now = func() time.Time { return firstTuesday.Add(week + time.Hour) }

	n, err := s.CompletionPass(ctx)

	require.NoError(t, err)
	assert.Equal(t, 6, n)
	for _, uid := range uids {
		var completed int
		for _, inst := range f.repo.allInstances(uid) {
			if inst.Status == models.InstanceStatusCompleted {
				completed++
			}
		}
		assert.Equal(t, 2, completed, uid)
	}
}

func TestScheduler_RunRejectsBadSpec(t *testing.T) {
	s := NewScheduler(newMemConnectionRepo(), newSeriesFixture().svc, &recordingSubmitter{}, SchedulerConfig{SyncSpec: "every now and then"})

	err := s.Run(context.Background())

	assert.Error(t, err)
}
