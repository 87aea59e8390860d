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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/satsqueue/satsqueue/ledgerstore"
	"github.com/satsqueue/satsqueue/model"
)

var errNotPaid = errors.New("invoice not paid yet")

// BoostRequest asks to raise an entry's score by Amount once an invoice is paid.
type BoostRequest struct {
	QueueName string
	EntryID   string
	Amount    int64
	// PayerEntryID is the payer's own entry, when the payer is in the queue.
	PayerEntryID string
	// SessionID groups the attempts of one observer so they can be cancelled together.
	SessionID string
}

// BoostAttempt is an issued invoice waiting for payment. It is credited at most once.
type BoostAttempt struct {
	ID             string    `json:"id"`
	QueueName      string    `json:"queue"`
	EntryID        string    `json:"entry_id"`
	PayerEntryID   string    `json:"payer_entry_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	Amount         int64     `json:"amount"`
	PaymentRequest string    `json:"payment_request"`
	CreatedAt      time.Time `json:"created_at"`

	queueTitle       string
	recipientName    string
	recipientContact string
	payerContact     string
	invoice          model.Invoice
	credited         atomic.Bool
}

// Credited reports whether the attempt's amount has been added to the entry.
func (a *BoostAttempt) Credited() bool {
	return a.credited.Load()
}

// IssueBoost validates the request and obtains an invoice from the payment
// collaborator. No state changes until the invoice is paid.
func (s *SatsQueue) IssueBoost(ctx context.Context, req BoostRequest) (*BoostAttempt, error) {
	ctx, span := tracer.Start(ctx, "IssueBoost")
	defer span.End()

	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: boost amount must be greater than zero", ErrInvalidAmount)
	}

	rec, err := s.GetQueue(ctx, req.QueueName)
	if err != nil {
		return nil, err
	}
	entry, ok := rec.CurrentEntries[req.EntryID]
	if !ok {
		return nil, fmt.Errorf("%w: entry %q in queue %q", ErrNotFound, req.EntryID, rec.Name)
	}
	span.SetAttributes(
		attribute.String("queue.name", rec.Name),
		attribute.String("entry.id", entry.ID),
		attribute.Int64("boost.amount", req.Amount),
	)

	if s.payments == nil {
		return nil, &PaymentSetupError{Err: errors.New("no payment provider configured")}
	}
	invoice, err := s.payments.IssueInvoice(ctx, rec.PayoutTarget, req.Amount)
	if err != nil {
		span.RecordError(err)
		return nil, &PaymentSetupError{Err: err}
	}
	if invoice == nil || invoice.PaymentRequest() == "" {
		return nil, &PaymentSetupError{Err: errors.New("payment provider returned an empty invoice")}
	}

	attempt := &BoostAttempt{
		ID:               model.GenerateUUIDWithSuffix("bst"),
		QueueName:        rec.Name,
		EntryID:          entry.ID,
		PayerEntryID:     req.PayerEntryID,
		SessionID:        req.SessionID,
		Amount:           req.Amount,
		PaymentRequest:   invoice.PaymentRequest(),
		CreatedAt:        s.now(),
		queueTitle:       queueTitle(rec),
		recipientName:    entry.DisplayName,
		recipientContact: entry.ContactRef,
		invoice:          invoice,
	}
	if payer, ok := rec.CurrentEntries[req.PayerEntryID]; ok && payer.ID != entry.ID {
		attempt.payerContact = payer.ContactRef
	}

	logrus.WithFields(logrus.Fields{
		"queue":  rec.Name,
		"entry":  entry.ID,
		"boost":  attempt.ID,
		"amount": req.Amount,
	}).Info("boost invoice issued")
	return attempt, nil
}

// AwaitBoost polls the invoice until it is paid or ctx is done, then credits the
// entry. It returns ctx.Err() if cancelled before crediting, and ErrNotFound if the
// entry left the queue before the payment arrived.
func (s *SatsQueue) AwaitBoost(ctx context.Context, attempt *BoostAttempt) error {
	ctx, span := tracer.Start(ctx, "AwaitBoost")
	defer span.End()
	span.SetAttributes(attribute.String("boost.id", attempt.ID))

	if attempt.Credited() {
		return nil
	}

	poll := func() error {
		paid, err := attempt.invoice.PollPaid(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logrus.WithError(err).WithField("boost", attempt.ID).Debug("payment status check failed")
			}
			return errNotPaid
		}
		if !paid {
			return errNotPaid
		}
		return nil
	}
	if err := backoff.Retry(poll, backoff.WithContext(backoff.NewConstantBackOff(s.pollInterval), ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.creditBoost(ctx, attempt)
}

func (s *SatsQueue) creditBoost(ctx context.Context, attempt *BoostAttempt) error {
	if !attempt.credited.CompareAndSwap(false, true) {
		return nil
	}
	logger := logrus.WithFields(logrus.Fields{
		"queue":  attempt.QueueName,
		"entry":  attempt.EntryID,
		"boost":  attempt.ID,
		"amount": attempt.Amount,
	})

	// The increment must not be abandoned halfway once the payment is confirmed.
	result, err := s.store.Increment(context.WithoutCancel(ctx), attempt.QueueName, attempt.EntryID,
		attempt.Amount, model.HashReference(attempt.PaymentRequest))
	if err != nil {
		if errors.Is(err, ledgerstore.ErrEntryNotFound) {
			logger.Warn("payment received for an entry that is no longer waiting")
		} else {
			// The store dedups by invoice, so a later await may retry the credit.
			attempt.credited.Store(false)
			logger.WithError(err).Error("failed to credit boost")
		}
		return storeError(err, attempt.QueueName)
	}
	if !result.Applied {
		logger.Info("invoice already credited")
		return nil
	}

	logger.WithField("score", result.Score).Info("boost credited")

	s.notify(ctx, attempt.recipientContact, boostedMessage(attempt.queueTitle, attempt.Amount, result.Score))
	s.notify(ctx, attempt.payerContact, boostSentMessage(attempt.queueTitle, attempt.recipientName, attempt.Amount))
	s.dispatchWebhook(ctx, NewWebhook{Event: EventEntryBoosted, Payload: boostEvent{
		Queue:     attempt.QueueName,
		EntryID:   attempt.EntryID,
		Amount:    attempt.Amount,
		Score:     result.Score,
		BoostID:   attempt.ID,
		InvoiceID: model.HashReference(attempt.PaymentRequest),
	}})
	return nil
}

// StartBoost issues an invoice and waits for its payment in the background. The wait
// is detached from ctx and ends on payment, CancelBoost, CancelSessionBoosts, the
// configured await timeout, or a newer attempt for the same session and entry.
func (s *SatsQueue) StartBoost(ctx context.Context, req BoostRequest) (*BoostAttempt, error) {
	attempt, err := s.IssueBoost(ctx, req)
	if err != nil {
		return nil, err
	}

	awaitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if s.awaitTimeout > 0 {
		var cancelTimeout context.CancelFunc
		awaitCtx, cancelTimeout = context.WithTimeout(awaitCtx, s.awaitTimeout)
		parentCancel := cancel
		cancel = func() {
			cancelTimeout()
			parentCancel()
		}
	}

	s.boosts.add(attempt, cancel)
	go func() {
		defer cancel()
		err := s.AwaitBoost(awaitCtx, attempt)
		s.boosts.finish(attempt, err)
	}()
	return attempt, nil
}

// GetBoost returns the state of an attempt started by this process.
func (s *SatsQueue) GetBoost(id string) (BoostState, bool) {
	return s.boosts.get(id)
}

// CancelBoost stops waiting for an attempt's payment. It returns false if the
// attempt is unknown or no longer pending.
func (s *SatsQueue) CancelBoost(id string) bool {
	return s.boosts.cancel(id)
}

// CancelSessionBoosts cancels every pending attempt of a session and returns how
// many were cancelled.
func (s *SatsQueue) CancelSessionBoosts(sessionID string) int {
	return s.boosts.cancelSession(sessionID)
}
