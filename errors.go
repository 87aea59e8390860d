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
	"errors"
	"fmt"

	"github.com/satsqueue/satsqueue/ledgerstore"
)

var (
	ErrAlreadyExists       = errors.New("already exists")
	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrPaymentSetup        = errors.New("payment setup failed")
	ErrEmptyQueue          = errors.New("queue is empty")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidPayoutTarget = errors.New("invalid payout target")
)

// PaymentSetupError carries the payment collaborator's failure unchanged. Its
// message is the collaborator's message.
type PaymentSetupError struct {
	Err error
}

func (e *PaymentSetupError) Error() string {
	return e.Err.Error()
}

func (e *PaymentSetupError) Unwrap() error {
	return e.Err
}

func (e *PaymentSetupError) Is(target error) bool {
	return target == ErrPaymentSetup
}

// storeError translates ledger store failures into the package's sentinels.
func storeError(err error, queueName string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledgerstore.ErrQueueNotFound):
		return fmt.Errorf("%w: queue %q", ErrNotFound, queueName)
	case errors.Is(err, ledgerstore.ErrQueueInactive):
		return fmt.Errorf("%w: queue %q is not accepting entries", ErrNotFound, queueName)
	case errors.Is(err, ledgerstore.ErrEntryNotFound):
		return fmt.Errorf("%w: entry is no longer in queue %q", ErrNotFound, queueName)
	case errors.Is(err, ledgerstore.ErrQueueExists):
		return fmt.Errorf("%w: queue %q", ErrAlreadyExists, queueName)
	case errors.Is(err, ledgerstore.ErrEntryExists):
		return fmt.Errorf("%w: entry in queue %q", ErrAlreadyExists, queueName)
	default:
		return err
	}
}
