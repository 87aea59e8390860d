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
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/config"
	"github.com/satsqueue/satsqueue/internal/request"
	"github.com/satsqueue/satsqueue/model"
)

const (
	EventQueueCreated = "queue.created"
	EventEntryJoined  = "entry.joined"
	EventEntryBoosted = "entry.boosted"
	EventEntryServed  = "entry.served"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

type entryEvent struct {
	Queue string      `json:"queue"`
	Entry model.Entry `json:"entry"`
}

type boostEvent struct {
	Queue     string `json:"queue"`
	EntryID   string `json:"entry_id"`
	Amount    int64  `json:"amount"`
	Score     int64  `json:"score"`
	BoostID   string `json:"boost_id"`
	InvoiceID string `json:"invoice_id"`
}

// processHTTP posts data to the configured webhook URL.
func processHTTP(ctx context.Context, data NewWebhook) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	_, err = request.PostJSON(ctx, webhookClient, conf.Notification.Webhook.Url, conf.Notification.Webhook.Headers, data, nil)
	if err != nil {
		logrus.WithError(err).WithField("event", data.Event).Warn("webhook delivery failed")
		return err
	}
	logrus.WithField("event", data.Event).Debug("webhook delivered")
	return nil
}

// dispatchWebhook hands an event to the task queue, or posts it from a goroutine
// when no task queue is configured. It never fails the caller.
func (s *SatsQueue) dispatchWebhook(ctx context.Context, hook NewWebhook) {
	conf, err := config.Fetch()
	if err != nil || conf.Notification.Webhook.Url == "" {
		return
	}

	if s.queue != nil {
		if err := s.queue.EnqueueWebhook(context.WithoutCancel(ctx), hook); err != nil {
			logrus.WithError(err).WithField("event", hook.Event).Warn("failed to enqueue webhook")
		}
		return
	}

	go func() {
		_ = processHTTP(context.Background(), hook)
	}()
}

// ProcessWebhook processes a webhook notification task from the queue.
func (s *SatsQueue) ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("invalid webhook task payload")
		return err
	}
	return processHTTP(ctx, payload)
}
