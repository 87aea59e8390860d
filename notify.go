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
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/internal/notification"
	"github.com/satsqueue/satsqueue/model"
)

const notifyTimeout = 30 * time.Second

func calledMessage(queueDisplayName string) string {
	return fmt.Sprintf("🔔 You've been called for %s!", queueDisplayName)
}

func boostedMessage(queueDisplayName string, amount, score int64) string {
	return fmt.Sprintf("⚡ Your spot in %s was boosted by %d sats. Your score is now %d.", queueDisplayName, amount, score)
}

func boostSentMessage(queueDisplayName, recipient string, amount int64) string {
	return fmt.Sprintf("⚡ Your %d sat boost for %s in %s has been credited.", amount, recipient, queueDisplayName)
}

// notify sends message to contactRef once. Delivery failures are logged and never
// reach the caller.
func (s *SatsQueue) notify(ctx context.Context, contactRef, message string) {
	if contactRef == "" {
		return
	}
	msg := DirectMessagePayload{ContactRef: contactRef, Message: message}

	if s.queue != nil {
		if err := s.queue.EnqueueDirectMessage(context.WithoutCancel(ctx), msg); err != nil {
			logrus.WithError(err).WithField("contact_ref", contactRef).Warn("failed to enqueue notification")
		}
		return
	}
	if s.notifier == nil {
		return
	}

	go s.deliver(context.Background(), msg)
}

func (s *SatsQueue) deliver(ctx context.Context, msg DirectMessagePayload) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, msg.ContactRef, msg.Message); err != nil {
		logrus.WithError(err).WithField("contact_ref", msg.ContactRef).Warn("notification not delivered")
		return
	}
	logrus.WithField("contact_ref", msg.ContactRef).Debug("notification delivered")
}

// ProcessDirectMessage delivers a queued notification. Failures are logged and the
// task is not retried.
func (s *SatsQueue) ProcessDirectMessage(ctx context.Context, task *asynq.Task) error {
	var msg DirectMessagePayload
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		logrus.WithError(err).Error("invalid direct message payload")
		return nil
	}
	if s.notifier == nil {
		logrus.WithField("contact_ref", msg.ContactRef).Warn("no notifier configured, dropping message")
		return nil
	}
	s.deliver(ctx, msg)
	return nil
}

// recordServed hands a served entry to the history store.
func (s *SatsQueue) recordServed(ctx context.Context, queueName string, served model.ArchivedEntry) {
	payload := ServedEntryPayload{Queue: queueName, Entry: served}

	if s.queue != nil {
		if err := s.queue.EnqueueServedEntry(context.WithoutCancel(ctx), payload); err != nil {
			logrus.WithError(err).WithField("entry", served.ID).Warn("failed to enqueue served entry")
		}
		return
	}
	if s.datasource == nil {
		return
	}

	go func() {
		if err := s.datasource.RecordServedEntry(context.Background(), queueName, served); err != nil {
			notification.NotifyError(fmt.Errorf("recording served entry %s: %w", served.ID, err))
		}
	}()
}

// ProcessServedEntry persists a served entry. Errors are returned so the task is
// retried.
func (s *SatsQueue) ProcessServedEntry(ctx context.Context, task *asynq.Task) error {
	var payload ServedEntryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("invalid served entry payload")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if s.datasource == nil {
		return nil
	}
	if err := s.datasource.RecordServedEntry(ctx, payload.Queue, payload.Entry); err != nil {
		notification.NotifyError(fmt.Errorf("recording served entry %s: %w", payload.Entry.ID, err))
		return err
	}
	return nil
}
