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
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/config"
	redis_db "github.com/satsqueue/satsqueue/internal/redis-db"
	"github.com/satsqueue/satsqueue/model"
)

// Task types handled by the worker.
const (
	TypeDirectMessage = "notify:direct_message"
	TypeWebhook       = "notify:webhook"
	TypeServedEntry   = "history:record_served"
	TypeArchiveSweep  = "archive:sweep"
)

// DirectMessagePayload is a participant notification.
type DirectMessagePayload struct {
	ContactRef string `json:"contact_ref"`
	Message    string `json:"message"`
}

// ServedEntryPayload is an entry to persist in the served history.
type ServedEntryPayload struct {
	Queue string              `json:"queue"`
	Entry model.ArchivedEntry `json:"entry"`
}

// ArchiveSweepPayload selects the queue to sweep. An empty queue sweeps all of them.
type ArchiveSweepPayload struct {
	Queue string `json:"queue,omitempty"`
}

// TaskQueue moves post-commit side effects onto asynq so they survive a restart of
// the API process.
type TaskQueue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	queues    config.QueueConfig
}

func NewTaskQueue(conf *config.Configuration) (*TaskQueue, error) {
	connOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &TaskQueue{
		Client:    asynq.NewClient(connOpt),
		Inspector: asynq.NewInspector(connOpt),
		queues:    conf.Queue,
	}, nil
}

// Backlog reports the pending task count of every configured queue. Queues that
// never received a task count as empty.
func (q *TaskQueue) Backlog() (map[string]int, error) {
	backlog := make(map[string]int)
	for _, name := range []string{q.queues.NotificationQueue, q.queues.WebhookQueue, q.queues.HistoryQueue, q.queues.MaintenanceQueue} {
		if name == "" {
			continue
		}
		info, err := q.Inspector.GetQueueInfo(name)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			backlog[name] = 0
			continue
		}
		if err != nil {
			return nil, err
		}
		backlog[name] = info.Pending
	}
	return backlog, nil
}

// TaskBacklog reports pending side-effect tasks per queue. It is empty when side
// effects run inline.
func (s *SatsQueue) TaskBacklog() (map[string]int, error) {
	if s.queue == nil {
		return map[string]int{}, nil
	}
	return s.queue.Backlog()
}

func (q *TaskQueue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

// EnqueueDirectMessage schedules a participant notification. Messages are sent at
// most once, so failed deliveries are not retried.
func (q *TaskQueue) EnqueueDirectMessage(ctx context.Context, msg DirectMessagePayload) error {
	return q.enqueue(ctx, TypeDirectMessage, msg, asynq.Queue(q.queues.NotificationQueue), asynq.MaxRetry(0))
}

func (q *TaskQueue) EnqueueWebhook(ctx context.Context, hook NewWebhook) error {
	return q.enqueue(ctx, TypeWebhook, hook, asynq.Queue(q.queues.WebhookQueue), asynq.MaxRetry(5))
}

// EnqueueServedEntry schedules the history write for a served entry. The entry id is
// the task id, so an entry is queued for persistence once.
func (q *TaskQueue) EnqueueServedEntry(ctx context.Context, payload ServedEntryPayload) error {
	err := q.enqueue(ctx, TypeServedEntry, payload,
		asynq.Queue(q.queues.HistoryQueue),
		asynq.TaskID(payload.Entry.ID),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (q *TaskQueue) EnqueueArchiveSweep(ctx context.Context, queueName string) error {
	task, err := NewArchiveSweepTask(queueName, q.queues.MaintenanceQueue)
	if err != nil {
		return err
	}
	_, err = q.Client.EnqueueContext(ctx, task)
	return err
}

// NewArchiveSweepTask builds the sweep task registered with the scheduler.
func NewArchiveSweepTask(queueName, maintenanceQueue string) (*asynq.Task, error) {
	payload, err := json.Marshal(ArchiveSweepPayload{Queue: queueName})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeArchiveSweep, payload, asynq.Queue(maintenanceQueue), asynq.MaxRetry(1)), nil
}

func (q *TaskQueue) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts...)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"type": taskType, "id": info.ID, "queue": info.Queue}).Debug("task enqueued")
	return nil
}
