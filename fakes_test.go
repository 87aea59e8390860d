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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/satsqueue/satsqueue/config"
	"github.com/satsqueue/satsqueue/ledgerstore"
	"github.com/satsqueue/satsqueue/model"
)

const testPayoutTarget = "operator@getalby.com"

type testEnv struct {
	engine   *SatsQueue
	store    *ledgerstore.RedisStore
	mr       *miniredis.Miniredis
	client   *redis.Client
	payments *fakePayments
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}})

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		store:    ledgerstore.NewRedisStore(client),
		mr:       mr,
		client:   client,
		payments: &fakePayments{},
		notifier: &fakeNotifier{},
	}
	base := []Option{
		WithPaymentProvider(env.payments),
		WithNotifier(env.notifier),
		WithPollInterval(5 * time.Millisecond),
		WithClock(steppingClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))),
	}
	env.engine = NewSatsQueue(env.store, append(base, opts...)...)
	t.Cleanup(env.engine.Close)
	return env
}

func (e *testEnv) createQueue(t *testing.T, name string) *model.QueueRecord {
	t.Helper()
	rec, err := e.engine.CreateQueue(context.Background(), name, testPayoutTarget)
	require.NoError(t, err)
	return rec
}

func (e *testEnv) join(t *testing.T, queue, displayName, contactRef string) string {
	t.Helper()
	id, err := e.engine.Join(context.Background(), JoinRequest{QueueName: queue, DisplayName: displayName, ContactRef: contactRef})
	require.NoError(t, err)
	return id
}

// steppingClock advances one millisecond per reading so admissions are ordered.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

type fakeInvoice struct {
	pr        string
	paidAfter int32
	polls     atomic.Int32
	pollErr   error
}

func (f *fakeInvoice) PaymentRequest() string { return f.pr }

func (f *fakeInvoice) PollPaid(ctx context.Context) (bool, error) {
	n := f.polls.Add(1)
	if f.pollErr != nil && n == 1 {
		return false, f.pollErr
	}
	return f.paidAfter >= 0 && n > f.paidAfter, nil
}

type fakePayments struct {
	mu        sync.Mutex
	calls     int
	err       error
	paidAfter int32
	targets   []string
	invalid   map[string]bool
}

func (f *fakePayments) IssueInvoice(_ context.Context, payoutTarget string, amount int64) (model.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.targets = append(f.targets, payoutTarget)
	if f.err != nil {
		return nil, f.err
	}
	return &fakeInvoice{pr: "lnbc" + gofakeit.LetterN(40), paidAfter: f.paidAfter}, nil
}

func (f *fakePayments) ValidateTarget(_ context.Context, payoutTarget string) error {
	if f.invalid[payoutTarget] {
		return errors.New("unknown lightning address")
	}
	return nil
}

func (f *fakePayments) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sentMessage struct {
	contactRef string
	message    string
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []sentMessage
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, contactRef, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{contactRef: contactRef, message: message})
	return f.err
}

func (f *fakeNotifier) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
}

func (f *fakeNotifier) sentTo(contactRef string) []string {
	var out []string
	for _, m := range f.sent() {
		if m.contactRef == contactRef {
			out = append(out, m.message)
		}
	}
	return out
}

type fakeResolver struct {
	mu         sync.Mutex
	identities map[string]resolvedIdentity
	calls      int
}

func (f *fakeResolver) Resolve(_ context.Context, identifier string) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id := f.identities[identifier]
	return id.DisplayName, id.ContactRef
}
