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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/satsqueue/satsqueue/config"
	"github.com/satsqueue/satsqueue/database/mocks"
	"github.com/satsqueue/satsqueue/model"
)

func pendingKey(queue string) string {
	return "asynq:{" + queue + "}:pending"
}

func newTestTaskQueue(t *testing.T, mr *miniredis.Miniredis) *TaskQueue {
	t.Helper()
	cnf := &config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}}
	config.MockConfig(cnf)

	q, err := NewTaskQueue(cnf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func pending(t *testing.T, mr *miniredis.Miniredis, queue string) int {
	t.Helper()
	if !mr.Exists(pendingKey(queue)) {
		return 0
	}
	items, err := mr.List(pendingKey(queue))
	require.NoError(t, err)
	return len(items)
}

func TestTaskQueue_EnqueueDirectMessage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	q := newTestTaskQueue(t, mr)

	err = q.EnqueueDirectMessage(context.Background(), DirectMessagePayload{ContactRef: "npub1alice", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, pending(t, mr, config.DEFAULT_NOTIFICATION_QUEUE))
}

func TestTaskQueue_EnqueueServedEntryOncePerEntry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	q := newTestTaskQueue(t, mr)

	payload := ServedEntryPayload{Queue: "coffee", Entry: model.ArchivedEntry{Entry: model.Entry{ID: "ent_1"}, ServedAt: 10}}
	require.NoError(t, q.EnqueueServedEntry(context.Background(), payload))
	require.NoError(t, q.EnqueueServedEntry(context.Background(), payload))
	assert.Equal(t, 1, pending(t, mr, config.DEFAULT_HISTORY_QUEUE))
}

func TestTaskQueue_EnqueueArchiveSweep(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	q := newTestTaskQueue(t, mr)

	require.NoError(t, q.EnqueueArchiveSweep(context.Background(), "coffee"))
	assert.Equal(t, 1, pending(t, mr, config.DEFAULT_MAINTENANCE_QUEUE))
}

func TestCallNext_WithTaskQueue(t *testing.T) {
	env := newTestEnv(t)
	q := newTestTaskQueue(t, env.mr)
	env.engine.queue = q

	env.createQueue(t, "coffee")
	env.join(t, "coffee", "Alice", "npub1alice")

	_, err := env.engine.CallNext(context.Background(), "coffee")
	require.NoError(t, err)

	assert.Equal(t, 1, pending(t, env.mr, config.DEFAULT_NOTIFICATION_QUEUE))
	assert.Equal(t, 1, pending(t, env.mr, config.DEFAULT_HISTORY_QUEUE))
	// Webhooks are not configured.
	assert.Equal(t, 0, pending(t, env.mr, config.DEFAULT_WEBHOOK_QUEUE))
	assert.Empty(t, env.notifier.sent())
}

func TestProcessDirectMessage(t *testing.T) {
	env := newTestEnv(t)
	payload, err := json.Marshal(DirectMessagePayload{ContactRef: "npub1bob", Message: "🔔 You've been called for coffee!"})
	require.NoError(t, err)

	require.NoError(t, env.engine.ProcessDirectMessage(context.Background(), asynq.NewTask(TypeDirectMessage, payload)))
	assert.Equal(t, []string{"🔔 You've been called for coffee!"}, env.notifier.sentTo("npub1bob"))

	env.notifier.err = assert.AnError
	assert.NoError(t, env.engine.ProcessDirectMessage(context.Background(), asynq.NewTask(TypeDirectMessage, payload)))

	assert.NoError(t, env.engine.ProcessDirectMessage(context.Background(), asynq.NewTask(TypeDirectMessage, []byte("{"))))
}

func TestProcessServedEntry(t *testing.T) {
	ds := &mocks.MockDataSource{}
	env := newTestEnv(t, WithDataSource(ds))

	entry := model.ArchivedEntry{Entry: model.Entry{ID: "ent_1", DisplayName: "Alice", Score: 100}, ServedAt: 20}
	payload, err := json.Marshal(ServedEntryPayload{Queue: "coffee", Entry: entry})
	require.NoError(t, err)

	ds.On("RecordServedEntry", mock.Anything, "coffee", entry).Return(nil).Once()
	require.NoError(t, env.engine.ProcessServedEntry(context.Background(), asynq.NewTask(TypeServedEntry, payload)))
	ds.AssertExpectations(t)

	err = env.engine.ProcessServedEntry(context.Background(), asynq.NewTask(TypeServedEntry, []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTaskQueue_Backlog(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	q := newTestTaskQueue(t, mr)

	backlog, err := q.Backlog()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		config.DEFAULT_NOTIFICATION_QUEUE: 0,
		config.DEFAULT_WEBHOOK_QUEUE:      0,
		config.DEFAULT_HISTORY_QUEUE:      0,
		config.DEFAULT_MAINTENANCE_QUEUE:  0,
	}, backlog)
}

func TestTaskBacklog_Inline(t *testing.T) {
	env := newTestEnv(t)

	backlog, err := env.engine.TaskBacklog()
	require.NoError(t, err)
	assert.Empty(t, backlog)
}
