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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/satsqueue/satsqueue/config"
	"github.com/satsqueue/satsqueue/ledgerstore"
	storemocks "github.com/satsqueue/satsqueue/ledgerstore/mocks"
	"github.com/satsqueue/satsqueue/model"
)

func (e *testEnv) score(t *testing.T, queue, entryID string) (int64, int64) {
	t.Helper()
	rec, err := e.engine.GetQueue(context.Background(), queue)
	require.NoError(t, err)
	return rec.CurrentEntries[entryID].Score, rec.TotalScore
}

func TestIssueBoost_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")

	for _, amount := range []int64{0, -100} {
		_, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: amount})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}

	assert.Zero(t, env.payments.callCount())
	score, total := env.score(t, "coffee", alice)
	assert.Zero(t, score)
	assert.Zero(t, total)
}

func TestIssueBoost_InvalidAmountCheckedFirst(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "missing", EntryID: "ent_x", Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestIssueBoost_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")

	_, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "tea", EntryID: "ent_x", Amount: 100})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: "ent_x", Amount: 100})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, env.payments.callCount())
}

func TestIssueBoost_PaymentSetupError(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")
	env.payments.err = errors.New("lnurl endpoint returned 503")

	_, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaymentSetup)
	assert.Equal(t, "lnurl endpoint returned 503", err.Error())

	var setupErr *PaymentSetupError
	require.True(t, errors.As(err, &setupErr))
	assert.Equal(t, env.payments.err, setupErr.Err)
}

func TestIssueBoost_NoPaymentProvider(t *testing.T) {
	env := newTestEnv(t, WithPaymentProvider(nil))
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")

	_, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 100})
	assert.ErrorIs(t, err, ErrPaymentSetup)
}

func TestIssueBoost_UsesQueuePayoutTarget(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")

	attempt, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "COFFEE", EntryID: alice, Amount: 100})
	require.NoError(t, err)
	assert.Contains(t, attempt.ID, "bst_")
	assert.Equal(t, "coffee", attempt.QueueName)
	assert.NotEmpty(t, attempt.PaymentRequest)
	assert.False(t, attempt.Credited())
	assert.Equal(t, []string{testPayoutTarget}, env.payments.targets)

	score, _ := env.score(t, "coffee", alice)
	assert.Zero(t, score)
}

func TestAwaitBoost_CreditsOncePaid(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "npub1alice")
	bob := env.join(t, "coffee", "Bob", "npub1bob")
	env.payments.paidAfter = 2

	attempt, err := env.engine.IssueBoost(context.Background(), BoostRequest{
		QueueName: "coffee", EntryID: alice, Amount: 100, PayerEntryID: bob,
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.AwaitBoost(context.Background(), attempt))
	assert.True(t, attempt.Credited())
	assert.GreaterOrEqual(t, attempt.invoice.(*fakeInvoice).polls.Load(), int32(3))

	score, total := env.score(t, "coffee", alice)
	assert.Equal(t, int64(100), score)
	assert.Equal(t, int64(100), total)

	assert.Eventually(t, func() bool {
		return len(env.notifier.sentTo("npub1alice")) == 1 && len(env.notifier.sentTo("npub1bob")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, env.notifier.sentTo("npub1alice")[0], "boosted by 100 sats")
}

func TestAwaitBoost_PollErrorsAreRetried(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")

	attempt, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 50})
	require.NoError(t, err)
	attempt.invoice.(*fakeInvoice).pollErr = errors.New("verify endpoint timeout")

	require.NoError(t, env.engine.AwaitBoost(context.Background(), attempt))
	score, _ := env.score(t, "coffee", alice)
	assert.Equal(t, int64(50), score)
}

func TestAwaitBoost_ExactlyOnceCredit(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "npub1alice")

	attempt, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 100})
	require.NoError(t, err)

	// A second attempt object for the same invoice, as after a retried request.
	replay := &BoostAttempt{
		ID:               "bst_replay",
		QueueName:        attempt.QueueName,
		EntryID:          attempt.EntryID,
		Amount:           attempt.Amount,
		PaymentRequest:   attempt.PaymentRequest,
		queueTitle:       attempt.queueTitle,
		recipientContact: attempt.recipientContact,
		invoice:          attempt.invoice,
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.engine.AwaitBoost(context.Background(), attempt))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, env.engine.AwaitBoost(context.Background(), replay))
		}()
	}
	wg.Wait()

	score, total := env.score(t, "coffee", alice)
	assert.Equal(t, int64(100), score)
	assert.Equal(t, int64(100), total)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, env.notifier.sentTo("npub1alice"), 1)
}

func TestAwaitBoost_CancelledBeforePayment(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "npub1alice")
	env.payments.paidAfter = -1

	attempt, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 100})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err = env.engine.AwaitBoost(ctx, attempt)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, attempt.Credited())

	polls := attempt.invoice.(*fakeInvoice).polls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, attempt.invoice.(*fakeInvoice).polls.Load())

	score, total := env.score(t, "coffee", alice)
	assert.Zero(t, score)
	assert.Zero(t, total)
	assert.Empty(t, env.notifier.sent())
}

func TestAwaitBoost_EntryServedBeforePayment(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")

	attempt, err := env.engine.IssueBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 100})
	require.NoError(t, err)

	_, err = env.engine.CallEntry(context.Background(), "coffee", alice)
	require.NoError(t, err)

	err = env.engine.AwaitBoost(context.Background(), attempt)
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := env.engine.GetQueue(context.Background(), "coffee")
	require.NoError(t, err)
	assert.Zero(t, rec.TotalScore)
	assert.Zero(t, rec.Archive[alice].Score)
}

func TestStartBoost_Credited(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")
	env.payments.paidAfter = 1

	ctx, cancel := context.WithCancel(context.Background())
	attempt, err := env.engine.StartBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 21, SessionID: "s1"})
	require.NoError(t, err)
	// The wait outlives the request that started it.
	cancel()

	assert.Eventually(t, func() bool {
		state, ok := env.engine.GetBoost(attempt.ID)
		return ok && state.Status == BoostCredited
	}, time.Second, 5*time.Millisecond)

	score, _ := env.score(t, "coffee", alice)
	assert.Equal(t, int64(21), score)
}

func TestStartBoost_Cancel(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")
	env.payments.paidAfter = -1

	attempt, err := env.engine.StartBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 21})
	require.NoError(t, err)

	state, ok := env.engine.GetBoost(attempt.ID)
	require.True(t, ok)
	assert.Equal(t, BoostPending, state.Status)

	assert.True(t, env.engine.CancelBoost(attempt.ID))
	assert.False(t, env.engine.CancelBoost(attempt.ID))
	assert.False(t, env.engine.CancelBoost("bst_unknown"))

	state, _ = env.engine.GetBoost(attempt.ID)
	assert.Equal(t, BoostCancelled, state.Status)

	score, _ := env.score(t, "coffee", alice)
	assert.Zero(t, score)
}

func TestStartBoost_NewAmountReplacesPendingAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")
	env.payments.paidAfter = -1

	first, err := env.engine.StartBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 100, SessionID: "s1"})
	require.NoError(t, err)
	second, err := env.engine.StartBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 500, SessionID: "s1"})
	require.NoError(t, err)

	state, _ := env.engine.GetBoost(first.ID)
	assert.Equal(t, BoostCancelled, state.Status)
	state, _ = env.engine.GetBoost(second.ID)
	assert.Equal(t, BoostPending, state.Status)
}

func TestCancelSessionBoosts(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")
	bob := env.join(t, "coffee", "Bob", "")
	env.payments.paidAfter = -1
	ctx := context.Background()

	a, err := env.engine.StartBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 10, SessionID: "s1"})
	require.NoError(t, err)
	b, err := env.engine.StartBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: bob, Amount: 10, SessionID: "s1"})
	require.NoError(t, err)
	other, err := env.engine.StartBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: bob, Amount: 10, SessionID: "s2"})
	require.NoError(t, err)

	assert.Equal(t, 2, env.engine.CancelSessionBoosts("s1"))
	assert.Equal(t, 0, env.engine.CancelSessionBoosts("s1"))
	assert.Equal(t, 0, env.engine.CancelSessionBoosts(""))

	for _, id := range []string{a.ID, b.ID} {
		state, _ := env.engine.GetBoost(id)
		assert.Equal(t, BoostCancelled, state.Status)
	}
	state, _ := env.engine.GetBoost(other.ID)
	assert.Equal(t, BoostPending, state.Status)
}

func TestStartBoost_AwaitTimeout(t *testing.T) {
	env := newTestEnv(t, WithAwaitTimeout(30*time.Millisecond))
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")
	env.payments.paidAfter = -1

	attempt, err := env.engine.StartBoost(context.Background(), BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 10})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		state, _ := env.engine.GetBoost(attempt.ID)
		return state.Status == BoostExpired
	}, time.Second, 5*time.Millisecond)
}

func TestStartBoost_SessionlessAttemptsReplaceEachOther(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")
	env.payments.paidAfter = -1
	ctx := context.Background()

	first, err := env.engine.StartBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 10})
	require.NoError(t, err)
	second, err := env.engine.StartBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 20})
	require.NoError(t, err)

	state, _ := env.engine.GetBoost(first.ID)
	assert.Equal(t, BoostCancelled, state.Status)
	state, _ = env.engine.GetBoost(second.ID)
	assert.Equal(t, BoostPending, state.Status)

	// Polling for the replaced invoice has stopped.
	polls := func() int32 { return first.invoice.(*fakeInvoice).polls.Load() }
	time.Sleep(20 * time.Millisecond)
	stopped := polls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, polls())

	assert.True(t, env.engine.CancelBoost(second.ID))
}

func TestAwaitBoost_ConcurrentInvoicesAreAllCredited(t *testing.T) {
	env := newTestEnv(t)
	env.createQueue(t, "coffee")
	alice := env.join(t, "coffee", "Alice", "")
	bob := env.join(t, "coffee", "Bob", "")
	env.payments.paidAfter = 0
	ctx := context.Background()

	const payers = 20
	attempts := make([]*BoostAttempt, 0, payers)
	for i := 0; i < payers; i++ {
		attempt, err := env.engine.IssueBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: alice, Amount: 7})
		require.NoError(t, err)
		attempts = append(attempts, attempt)
	}
	bobAttempt, err := env.engine.IssueBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: bob, Amount: 3})
	require.NoError(t, err)
	attempts = append(attempts, bobAttempt)

	var wg sync.WaitGroup
	for _, attempt := range attempts {
		wg.Add(1)
		go func(a *BoostAttempt) {
			defer wg.Done()
			assert.NoError(t, env.engine.AwaitBoost(ctx, a))
		}(attempt)
	}
	wg.Wait()

	rec, err := env.engine.GetQueue(ctx, "coffee")
	require.NoError(t, err)
	assert.Equal(t, int64(payers*7), rec.CurrentEntries[alice].Score)
	assert.Equal(t, int64(3), rec.CurrentEntries[bob].Score)
	assert.Equal(t, int64(payers*7+3), rec.TotalScore)
	assert.Equal(t, rec.SumScores(), rec.TotalScore)
}

func TestAwaitBoost_StoreFailureCanBeRetried(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	store := &storemocks.MockStore{}
	engine := NewSatsQueue(store, WithPaymentProvider(&fakePayments{}), WithPollInterval(time.Millisecond))
	t.Cleanup(engine.Close)
	ctx := context.Background()

	rec := model.NewQueueRecord("coffee", "Coffee", testPayoutTarget, 1)
	rec.CurrentEntries["ent_alice"] = model.Entry{ID: "ent_alice", DisplayName: "Alice", AdmittedAt: 2}
	store.On("GetQueue", mock.Anything, "coffee").Return(rec, nil)

	attempt, err := engine.IssueBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: "ent_alice", Amount: 42})
	require.NoError(t, err)
	reference := model.HashReference(attempt.PaymentRequest)

	store.On("Increment", mock.Anything, "coffee", "ent_alice", int64(42), reference).
		Return(ledgerstore.IncrementResult{}, errors.New("connection reset by peer")).Once()
	err = engine.AwaitBoost(ctx, attempt)
	assert.EqualError(t, err, "connection reset by peer")
	assert.False(t, attempt.Credited())

	store.On("Increment", mock.Anything, "coffee", "ent_alice", int64(42), reference).
		Return(ledgerstore.IncrementResult{Applied: true, Score: 42}, nil).Once()
	require.NoError(t, engine.AwaitBoost(ctx, attempt))
	assert.True(t, attempt.Credited())
	store.AssertExpectations(t)
}

func TestAwaitBoost_EntryGoneKeepsLatch(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	store := &storemocks.MockStore{}
	engine := NewSatsQueue(store, WithPaymentProvider(&fakePayments{}), WithPollInterval(time.Millisecond))
	t.Cleanup(engine.Close)
	ctx := context.Background()

	rec := model.NewQueueRecord("coffee", "Coffee", testPayoutTarget, 1)
	rec.CurrentEntries["ent_alice"] = model.Entry{ID: "ent_alice", DisplayName: "Alice", AdmittedAt: 2}
	store.On("GetQueue", mock.Anything, "coffee").Return(rec, nil)

	attempt, err := engine.IssueBoost(ctx, BoostRequest{QueueName: "coffee", EntryID: "ent_alice", Amount: 42})
	require.NoError(t, err)

	store.On("Increment", mock.Anything, "coffee", "ent_alice", int64(42), mock.Anything).
		Return(ledgerstore.IncrementResult{}, ledgerstore.ErrEntryNotFound).Once()
	assert.ErrorIs(t, engine.AwaitBoost(ctx, attempt), ErrNotFound)

	// The entry was served; the payment is not matched a second time.
	require.NoError(t, engine.AwaitBoost(ctx, attempt))
	store.AssertNumberOfCalls(t, "Increment", 1)
}
