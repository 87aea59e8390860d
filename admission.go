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
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/satsqueue/satsqueue/model"
)

// JoinRequest describes a participant entering a queue.
type JoinRequest struct {
	QueueName    string
	DisplayName  string
	ContactRef   string
	InitialScore int64
	Annotation   string
}

// lookupName canonicalises a queue name for a read or a mutation of an existing
// queue. A name that could never have been created is reported as not found.
func lookupName(name string) (string, error) {
	if err := model.ValidateQueueName(name); err != nil {
		return "", fmt.Errorf("%w: queue %q", ErrNotFound, name)
	}
	return model.CanonicalQueueName(name), nil
}

// CreateQueue creates an active, empty queue. Names are compared after case folding,
// so "Coffee" collides with an existing "coffee".
func (s *SatsQueue) CreateQueue(ctx context.Context, name, payoutTarget string) (*model.QueueRecord, error) {
	ctx, span := tracer.Start(ctx, "CreateQueue")
	defer span.End()

	if err := model.ValidateQueueName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	payoutTarget = strings.TrimSpace(payoutTarget)
	if payoutTarget == "" {
		return nil, fmt.Errorf("%w: payout target is required", ErrInvalidInput)
	}
	if validator, ok := s.payments.(TargetValidator); ok {
		if err := validator.ValidateTarget(ctx, payoutTarget); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayoutTarget, err)
		}
	}

	canonical := model.CanonicalQueueName(name)
	span.SetAttributes(attribute.String("queue.name", canonical))

	rec := model.NewQueueRecord(canonical, strings.TrimSpace(name), payoutTarget, model.NowMillis(s.now()))
	if err := s.store.CreateQueue(ctx, rec); err != nil {
		span.RecordError(err)
		return nil, storeError(err, canonical)
	}

	logrus.WithField("queue", canonical).Info("queue created")
	s.dispatchWebhook(ctx, NewWebhook{Event: EventQueueCreated, Payload: rec})
	return rec, nil
}

func (s *SatsQueue) GetQueue(ctx context.Context, name string) (*model.QueueRecord, error) {
	canonical, err := lookupName(name)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.GetQueue(ctx, canonical)
	if err != nil {
		return nil, storeError(err, canonical)
	}
	return rec, nil
}

// GetQueueView returns the current ordered projection of a queue.
func (s *SatsQueue) GetQueueView(ctx context.Context, name string) (model.QueueView, error) {
	rec, err := s.GetQueue(ctx, name)
	if err != nil {
		return model.QueueView{}, err
	}
	return BuildView(rec), nil
}

func (s *SatsQueue) ListQueues(ctx context.Context) ([]string, error) {
	return s.store.ListQueues(ctx)
}

// SetQueueActive opens or closes a queue to new entries. Existing entries stay and
// can still be boosted and served.
func (s *SatsQueue) SetQueueActive(ctx context.Context, name string, active bool) error {
	ctx, span := tracer.Start(ctx, "SetQueueActive")
	defer span.End()

	canonical, err := lookupName(name)
	if err != nil {
		return err
	}
	if err := s.store.SetActive(ctx, canonical, active); err != nil {
		span.RecordError(err)
		return storeError(err, canonical)
	}
	logrus.WithFields(logrus.Fields{"queue": canonical, "active": active}).Info("queue state changed")
	return nil
}

// Join admits a new entry and returns its id. Every call creates a distinct entry,
// even for a display name already in the queue.
func (s *SatsQueue) Join(ctx context.Context, req JoinRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "Join")
	defer span.End()

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		return "", fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	if req.InitialScore < 0 {
		return "", fmt.Errorf("%w: initial score must not be negative", ErrInvalidAmount)
	}
	canonical, err := lookupName(req.QueueName)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("queue.name", canonical))

	entry := model.Entry{
		ID:          model.GenerateUUIDWithSuffix("ent"),
		DisplayName: displayName,
		ContactRef:  strings.TrimSpace(req.ContactRef),
		AdmittedAt:  model.NowMillis(s.now()),
		Score:       req.InitialScore,
		Annotation:  strings.TrimSpace(req.Annotation),
	}
	if err := s.store.AddEntry(ctx, canonical, entry); err != nil {
		span.RecordError(err)
		return "", storeError(err, canonical)
	}

	logrus.WithFields(logrus.Fields{"queue": canonical, "entry": entry.ID}).Info("entry joined")
	s.dispatchWebhook(ctx, NewWebhook{Event: EventEntryJoined, Payload: entryEvent{Queue: canonical, Entry: entry}})
	return entry.ID, nil
}

// JoinWithIdentity resolves identifier through the identity collaborator before
// joining. An identifier that does not resolve becomes the display name as is.
func (s *SatsQueue) JoinWithIdentity(ctx context.Context, queueName, identifier string, initialScore int64, annotation string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}

	displayName, contactRef := s.resolveIdentity(ctx, identifier)
	if displayName == "" {
		displayName = identifier
	}
	return s.Join(ctx, JoinRequest{
		QueueName:    queueName,
		DisplayName:  displayName,
		ContactRef:   contactRef,
		InitialScore: initialScore,
		Annotation:   annotation,
	})
}

func (s *SatsQueue) resolveIdentity(ctx context.Context, identifier string) (string, string) {
	if s.identities == nil {
		return "", ""
	}
	ctx, span := tracer.Start(ctx, "ResolveIdentity", trace.WithAttributes(attribute.String("identifier", identifier)))
	defer span.End()
	return s.identities.Resolve(ctx, identifier)
}
