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
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satsqueue/satsqueue/config"
)

type webhookRecorder struct {
	mu      sync.Mutex
	events  []string
	headers []http.Header
}

func (w *webhookRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var hook struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&hook))
		w.mu.Lock()
		w.events = append(w.events, hook.Event)
		w.headers = append(w.headers, r.Header.Clone())
		w.mu.Unlock()
		rw.WriteHeader(http.StatusOK)
	}
}

func (w *webhookRecorder) received() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}

func configureWebhook(t *testing.T, env *testEnv, url string) {
	t.Helper()
	cnf := &config.Configuration{Redis: config.RedisConfig{Dns: env.mr.Addr()}}
	cnf.Notification.Webhook.Url = url
	cnf.Notification.Webhook.Headers = map[string]string{"X-Webhook-Secret": "shh"}
	config.MockConfig(cnf)
}

func TestWebhooks_InlineDelivery(t *testing.T) {
	env := newTestEnv(t)
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()
	configureWebhook(t, env, server.URL)

	env.createQueue(t, "coffee")
	env.join(t, "coffee", "Alice", "")
	_, err := env.engine.CallNext(context.Background(), "coffee")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(recorder.received()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{EventQueueCreated, EventEntryJoined, EventEntryServed}, recorder.received())

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	for _, h := range recorder.headers {
		assert.Equal(t, "shh", h.Get("X-Webhook-Secret"))
	}
}

func TestWebhooks_Queued(t *testing.T) {
	env := newTestEnv(t)
	configureWebhook(t, env, "http://hooks.invalid/satsqueue")
	env.engine.queue = newTestTaskQueueWithConfig(t)

	env.createQueue(t, "coffee")
	assert.Equal(t, 1, pending(t, env.mr, config.DEFAULT_WEBHOOK_QUEUE))
}

func newTestTaskQueueWithConfig(t *testing.T) *TaskQueue {
	t.Helper()
	cnf, err := config.Fetch()
	require.NoError(t, err)
	q, err := NewTaskQueue(cnf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestProcessWebhook(t *testing.T) {
	env := newTestEnv(t)
	recorder := &webhookRecorder{}
	server := httptest.NewServer(recorder.handler(t))
	defer server.Close()
	configureWebhook(t, env, server.URL)

	payload, err := json.Marshal(NewWebhook{Event: EventEntryBoosted, Payload: boostEvent{Queue: "coffee", Amount: 100}})
	require.NoError(t, err)

	require.NoError(t, env.engine.ProcessWebhook(context.Background(), asynq.NewTask(TypeWebhook, payload)))
	assert.Equal(t, []string{EventEntryBoosted}, recorder.received())
}

func TestProcessWebhook_FailureIsReturnedForRetry(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	configureWebhook(t, env, server.URL)

	payload, err := json.Marshal(NewWebhook{Event: EventEntryServed})
	require.NoError(t, err)
	assert.Error(t, env.engine.ProcessWebhook(context.Background(), asynq.NewTask(TypeWebhook, payload)))
}

func TestProcessWebhook_NotConfigured(t *testing.T) {
	env := newTestEnv(t)

	payload, err := json.Marshal(NewWebhook{Event: EventEntryServed})
	require.NoError(t, err)
	assert.NoError(t, env.engine.ProcessWebhook(context.Background(), asynq.NewTask(TypeWebhook, payload)))
}
