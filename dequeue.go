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
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/satsqueue/satsqueue/model"
)

// CallNext serves the entry at the head of the queue. When two operators call at
// once, both may pick the same head; exactly one serve succeeds and the other gets
// ErrNotFound.
func (s *SatsQueue) CallNext(ctx context.Context, name string) (*model.ArchivedEntry, error) {
	ctx, span := tracer.Start(ctx, "CallNext")
	defer span.End()

	rec, err := s.GetQueue(ctx, name)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("queue.name", rec.Name))

	next, ok := head(rec.CurrentEntries)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEmptyQueue, rec.Name)
	}
	return s.serveEntry(ctx, rec, next.ID)
}

// CallEntry serves a specific entry regardless of its position.
func (s *SatsQueue) CallEntry(ctx context.Context, name, entryID string) (*model.ArchivedEntry, error) {
	ctx, span := tracer.Start(ctx, "CallEntry")
	defer span.End()

	rec, err := s.GetQueue(ctx, name)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, ok := rec.CurrentEntries[entryID]; !ok {
		return nil, fmt.Errorf("%w: entry %q in queue %q", ErrNotFound, entryID, rec.Name)
	}
	return s.serveEntry(ctx, rec, entryID)
}

// serveEntry moves the entry to the archive in one store operation, then notifies.
// Side effects run only after the serve has committed and never undo it.
func (s *SatsQueue) serveEntry(ctx context.Context, rec *model.QueueRecord, entryID string) (*model.ArchivedEntry, error) {
	ctx, span := tracer.Start(ctx, "ServeEntry")
	defer span.End()
	span.SetAttributes(attribute.String("entry.id", entryID))

	served, err := s.store.Serve(ctx, rec.Name, entryID, model.NowMillis(s.now()))
	if err != nil {
		span.RecordError(err)
		return nil, storeError(err, rec.Name)
	}

	logrus.WithFields(logrus.Fields{
		"queue":     rec.Name,
		"entry":     served.ID,
		"score":     served.Score,
		"waited_ms": served.WaitedMillis(),
	}).Info("entry served")

	s.notify(ctx, served.ContactRef, calledMessage(queueTitle(rec)))
	s.dispatchWebhook(ctx, NewWebhook{Event: EventEntryServed, Payload: ServedEntryPayload{Queue: rec.Name, Entry: *served}})
	s.recordServed(ctx, rec.Name, *served)
	return served, nil
}

func queueTitle(rec *model.QueueRecord) string {
	if rec.DisplayName != "" {
		return rec.DisplayName
	}
	return rec.Name
}
