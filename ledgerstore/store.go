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

// Package ledgerstore holds queue records. Every mutation is a single atomic unit on
// the backing store and is followed by a change notification on the queue's feed.
package ledgerstore

import (
	"context"
	"errors"

	"github.com/satsqueue/satsqueue/model"
)

var (
	ErrQueueExists   = errors.New("queue already exists")
	ErrQueueNotFound = errors.New("queue not found")
	ErrQueueInactive = errors.New("queue is not accepting entries")
	ErrEntryExists   = errors.New("entry already exists")
	ErrEntryNotFound = errors.New("entry not found")
)

// IncrementResult reports the outcome of a credit.
type IncrementResult struct {
	Score int64
	// Applied is false when the reference had already been credited.
	Applied bool
}

// Subscription is an open change feed.
type Subscription interface {
	Close() error
}

// Store is the external key-value store holding queue records, keyed by canonical name.
type Store interface {
	// CreateQueue stores rec if no record with the same name exists.
	CreateQueue(ctx context.Context, rec *model.QueueRecord) error
	GetQueue(ctx context.Context, name string) (*model.QueueRecord, error)
	ListQueues(ctx context.Context) ([]string, error)
	// AddEntry inserts entry and adds its score to the queue total.
	AddEntry(ctx context.Context, name string, entry model.Entry) error
	// Increment adds delta to an entry's score and the queue total. A non-empty
	// reference is credited at most once.
	Increment(ctx context.Context, name, entryID string, delta int64, reference string) (IncrementResult, error)
	// Serve removes an entry and archives it with servedAt in one atomic unit.
	Serve(ctx context.Context, name, entryID string, servedAt int64) (*model.ArchivedEntry, error)
	SetActive(ctx context.Context, name string, active bool) error
	PruneArchive(ctx context.Context, name string, entryIDs []string) (int, error)
	// Subscribe delivers the full record now and after every committed mutation.
	Subscribe(ctx context.Context, name string, fn func(*model.QueueRecord)) (Subscription, error)
}
