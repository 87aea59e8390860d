/*
Copyright 2024 SatsQueue Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package satsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/satsqueue/satsqueue/database/mocks"
	"github.com/satsqueue/satsqueue/model"
)

var sweepStart = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// serveAll admits and serves n entries, returning their ids in serve order.
func serveAll(t *testing.T, env *testEnv, queue string, n int) []string {
	t.Helper()
	served := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := env.join(t, queue, "guest", "")
		_, err := env.engine.CallEntry(context.Background(), queue, id)
		require.NoError(t, err)
		served = append(served, id)
	}
	return served
}

func TestSweepArchive(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	served := serveAll(t, env, "coffee", 3)
	ds := &mocks.MockDataSource{}
	env.engine.datasource = ds

	rec, err := env.engine.GetQueue(context.Background(), "coffee")
	require.NoError(t, err)
	// Everything served strictly before the last entry.
	cutoff := time.UnixMilli(rec.Archive[served[2]].ServedAt)

	ds.On("RecordServedEntry", mock.Anything, "coffee", mock.MatchedBy(func(e model.ArchivedEntry) bool {
		return e.ID == served[0] || e.ID == served[1]
	})).Return(nil).Twice()

	pruned, err := env.engine.SweepArchive(context.Background(), "coffee", cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)
	ds.AssertExpectations(t)

	rec, err = env.engine.GetQueue(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Len(t, rec.Archive, 1)
	assert.Contains(t, rec.Archive, served[2])
}

func TestSweepArchive_HistoryFailureKeepsArchive(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	serveAll(t, env, "coffee", 2)
	ds := &mocks.MockDataSource{}
	env.engine.datasource = ds

	ds.On("RecordServedEntry", mock.Anything, "coffee", mock.Anything).Return(errors.New("connection refused"))

	_, err := env.engine.SweepArchive(context.Background(), "coffee", sweepStart.Add(time.Hour))
	assert.Error(t, err)

	rec, err := env.engine.GetQueue(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Len(t, rec.Archive, 2)
}

func TestSweepArchive_WithoutHistory(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	serveAll(t, env, "coffee", 2)

	pruned, err := env.engine.SweepArchive(context.Background(), "coffee", sweepStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, pruned)

	pruned, err = env.engine.SweepArchive(context.Background(), "coffee", sweepStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestSweepArchive_LockHeld(t *testing.T) {
	env := newTestEnv(t)
	env.engine.redis = env.client
	env.createQueue(t, "coffee")
	serveAll(t, env, "coffee", 1)

	require.NoError(t, env.mr.Set(sweepLockKey("coffee"), "another-worker"))

	pruned, err := env.engine.SweepArchive(context.Background(), "coffee", sweepStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, pruned)

	env.mr.Del(sweepLockKey("coffee"))
	pruned, err = env.engine.SweepArchive(context.Background(), "coffee", sweepStart.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	assert.False(t, env.mr.Exists(sweepLockKey("coffee")))
}

func TestProcessArchiveSweep_AllQueues(t *testing.T) {
	env := newTestEnv(t, WithClock(func() time.Time { return sweepStart.Add(30 * 24 * time.Hour) }))
	env.createQueue(t, "coffee")
	env.createQueue(t, "tea")
	serveAll(t, env, "coffee", 2)
	serveAll(t, env, "tea", 1)

	// Served just now, so still inside the retention window.
	require.NoError(t, env.engine.ProcessArchiveSweep(context.Background(), asynq.NewTask(TypeArchiveSweep, nil)))
	rec, err := env.engine.GetQueue(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Len(t, rec.Archive, 2)

	later := NewSatsQueue(env.store, WithClock(func() time.Time { return sweepStart.Add(60 * 24 * time.Hour) }))
	payload, err := json.Marshal(ArchiveSweepPayload{Queue: "tea"})
	require.NoError(t, err)
	require.NoError(t, later.ProcessArchiveSweep(context.Background(), asynq.NewTask(TypeArchiveSweep, payload)))

	tea, err := env.engine.GetQueue(context.Background(), "tea")
	require.NoError(t, err)
	assert.Empty(t, tea.Archive)
	coffee, err := env.engine.GetQueue(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Len(t, coffee.Archive, 2)

	require.NoError(t, later.ProcessArchiveSweep(context.Background(), asynq.NewTask(TypeArchiveSweep, nil)))
	coffee, err = env.engine.GetQueue(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Empty(t, coffee.Archive)
}

func TestServedHistory(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	served := serveAll(t, env, "coffee", 3)
	ctx := context.Background()

	page, err := env.engine.ServedHistory(ctx, "COFFEE", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, served[2], page[0].ID)
	assert.Equal(t, served[1], page[1].ID)

	page, err = env.engine.ServedHistory(ctx, "coffee", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, served[0], page[0].ID)

	page, err = env.engine.ServedHistory(ctx, "coffee", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = env.engine.ServedHistory(ctx, "tea", 2, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	ds := &mocks.MockDataSource{}
	env.engine.datasource = ds
	ds.On("GetServedHistory", mock.Anything, "coffee", 20, 0).Return([]model.ArchivedEntry{{Entry: model.Entry{ID: "ent_old"}}}, nil).Once()
	page, err = env.engine.ServedHistory(ctx, "coffee", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "ent_old", page[0].ID)
	ds.AssertExpectations(t)
}

func TestServedCount(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	serveAll(t, env, "coffee", 2)
	ctx := context.Background()

	count, err := env.engine.ServedCount(ctx, "Coffee")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = env.engine.ServedCount(ctx, "tea")
	assert.ErrorIs(t, err, ErrNotFound)

	ds := &mocks.MockDataSource{}
	env.engine.datasource = ds
	ds.On("CountServed", mock.Anything, "coffee").Return(int64(57), nil).Once()
	count, err = env.engine.ServedCount(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, int64(57), count)
	ds.AssertExpectations(t)
}
