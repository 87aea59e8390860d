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

package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type CreateQueue struct {
	Name         string `json:"name"`
	PayoutTarget string `json:"payout_target"`
}

type UpdateQueue struct {
	Active *bool `json:"active"`
}

// JoinQueue admits a participant either by display name or by an identifier the
// identity collaborator can resolve.
type JoinQueue struct {
	DisplayName string `json:"display_name"`
	Identifier  string `json:"identifier"`
	ContactRef  string `json:"contact_ref"`
	Annotation  string `json:"annotation"`
}

// AdmitEntry is an operator admission carrying the amount paid at the door.
type AdmitEntry struct {
	JoinQueue
	InitialScore int64 `json:"initial_score"`
}

type CreateBoost struct {
	Amount       int64  `json:"amount"`
	PayerEntryID string `json:"payer_entry_id"`
	SessionID    string `json:"session_id"`
}

type JoinResponse struct {
	ID string `json:"id"`
}

type HistoryResponse struct {
	Queue   string      `json:"queue"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	Total   int64       `json:"total"`
	Entries interface{} `json:"entries"`
}

func (q *CreateQueue) ValidateCreateQueue() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Name, validation.Required, validation.RuneLength(1, 64)),
		validation.Field(&q.PayoutTarget, validation.Required),
	)
}

func (q *UpdateQueue) ValidateUpdateQueue() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Active, validation.NotNil),
	)
}

func (j *JoinQueue) ValidateJoinQueue() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.DisplayName, validation.By(func(value interface{}) error {
			if j.DisplayName == "" && j.Identifier == "" {
				return errors.New("either display_name or identifier is required")
			}
			if j.DisplayName != "" && j.Identifier != "" {
				return errors.New("pass display_name or identifier, not both")
			}
			return nil
		}), validation.RuneLength(0, 80)),
		validation.Field(&j.Annotation, validation.RuneLength(0, 280)),
	)
}

func (a *AdmitEntry) ValidateAdmitEntry() error {
	if err := a.JoinQueue.ValidateJoinQueue(); err != nil {
		return err
	}
	return validation.ValidateStruct(a,
		validation.Field(&a.InitialScore, validation.Min(int64(0))),
	)
}

// ValidateCreateBoost leaves the amount to the boost coordinator, which owns the
// positive-amount rule.
func (b *CreateBoost) ValidateCreateBoost() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.SessionID, validation.Required, validation.RuneLength(1, 128)),
	)
}
