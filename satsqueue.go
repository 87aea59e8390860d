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
	"embed"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/satsqueue/satsqueue/config"
	"github.com/satsqueue/satsqueue/database"
	"github.com/satsqueue/satsqueue/ledgerstore"
	"github.com/satsqueue/satsqueue/model"
)

var tracer = otel.Tracer("satsqueue")

//go:embed sql/*.sql
var SQLFiles embed.FS

// PaymentProvider issues invoices payable to a queue's payout target.
type PaymentProvider interface {
	IssueInvoice(ctx context.Context, payoutTarget string, amount int64) (model.Invoice, error)
}

// TargetValidator is implemented by payment providers that can check a payout
// target before a queue is created with it.
type TargetValidator interface {
	ValidateTarget(ctx context.Context, payoutTarget string) error
}

// IdentityResolver maps an external identifier to a display name and a contact
// reference. Either may be empty when the identifier cannot be resolved.
type IdentityResolver interface {
	Resolve(ctx context.Context, identifier string) (displayName, contactRef string)
}

// Notifier delivers a message to a contact reference.
type Notifier interface {
	Notify(ctx context.Context, contactRef, message string) error
}

// SatsQueue is the queue engine. All state lives in the ledger store; a SatsQueue
// only holds collaborators and the in-flight boost attempts of this process.
type SatsQueue struct {
	store      ledgerstore.Store
	payments   PaymentProvider
	identities IdentityResolver
	notifier   Notifier
	queue      *TaskQueue
	datasource database.IDataSource
	redis      redis.UniversalClient
	boosts     *boostRegistry

	pollInterval time.Duration
	awaitTimeout time.Duration
	now          func() time.Time
}

type Option func(*SatsQueue)

func WithPaymentProvider(p PaymentProvider) Option {
	return func(s *SatsQueue) { s.payments = p }
}

func WithIdentityResolver(r IdentityResolver) Option {
	return func(s *SatsQueue) { s.identities = r }
}

func WithNotifier(n Notifier) Option {
	return func(s *SatsQueue) { s.notifier = n }
}

// WithTaskQueue routes notifications, webhooks and history writes through asynq.
// Without it they run on a goroutine in this process.
func WithTaskQueue(q *TaskQueue) Option {
	return func(s *SatsQueue) { s.queue = q }
}

// WithDataSource enables served-history persistence.
func WithDataSource(ds database.IDataSource) Option {
	return func(s *SatsQueue) { s.datasource = ds }
}

// WithRedis provides the client used for the retention sweep lock.
func WithRedis(client redis.UniversalClient) Option {
	return func(s *SatsQueue) { s.redis = client }
}

func WithPollInterval(d time.Duration) Option {
	return func(s *SatsQueue) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithAwaitTimeout bounds how long a started boost waits for payment. Zero waits
// until the attempt is cancelled.
func WithAwaitTimeout(d time.Duration) Option {
	return func(s *SatsQueue) { s.awaitTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *SatsQueue) { s.now = now }
}

// NewSatsQueue returns an engine over store.
func NewSatsQueue(store ledgerstore.Store, opts ...Option) *SatsQueue {
	s := &SatsQueue{
		store:        store,
		boosts:       newBoostRegistry(),
		pollInterval: time.Duration(config.DEFAULT_POLL_INTERVAL_MS) * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying ledger store.
func (s *SatsQueue) Store() ledgerstore.Store {
	return s.store
}

// Close cancels every boost attempt still waiting for payment.
func (s *SatsQueue) Close() {
	s.boosts.cancelAll()
}
