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
	"time"
)

type BoostStatus string

const (
	BoostPending   BoostStatus = "pending"
	BoostCredited  BoostStatus = "credited"
	BoostCancelled BoostStatus = "cancelled"
	BoostExpired   BoostStatus = "expired"
	BoostFailed    BoostStatus = "failed"
)

// finished attempts stay queryable for this long
const boostRetention = time.Hour

// BoostState is a snapshot of a started attempt.
type BoostState struct {
	Attempt *BoostAttempt `json:"attempt"`
	Status  BoostStatus   `json:"status"`
	Error   string        `json:"error,omitempty"`
}

type boostSlot struct {
	session string
	queue   string
	entry   string
}

type boostHandle struct {
	attempt    *BoostAttempt
	cancel     context.CancelFunc
	status     BoostStatus
	err        error
	finishedAt time.Time
}

type boostRegistry struct {
	mu     sync.Mutex
	byID   map[string]*boostHandle
	bySlot map[boostSlot]string
}

func newBoostRegistry() *boostRegistry {
	return &boostRegistry{
		byID:   make(map[string]*boostHandle),
		bySlot: make(map[boostSlot]string),
	}
}

func slotOf(a *BoostAttempt) boostSlot {
	return boostSlot{session: a.SessionID, queue: a.QueueName, entry: a.EntryID}
}

// add registers a pending attempt. A pending attempt of the same session for the
// same entry is cancelled; attempts without a session share one slot per entry.
func (r *boostRegistry) add(attempt *BoostAttempt, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(time.Now())

	slot := slotOf(attempt)
	if previous, ok := r.bySlot[slot]; ok {
		r.cancelLocked(previous)
	}
	r.bySlot[slot] = attempt.ID
	r.byID[attempt.ID] = &boostHandle{attempt: attempt, cancel: cancel, status: BoostPending}
}

func (r *boostRegistry) finish(attempt *BoostAttempt, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byID[attempt.ID]
	if !ok {
		return
	}
	switch {
	case err == nil:
		h.status = BoostCredited
	case h.status == BoostCancelled:
	case errors.Is(err, context.DeadlineExceeded):
		h.status = BoostExpired
	case errors.Is(err, context.Canceled):
		h.status = BoostCancelled
	default:
		h.status = BoostFailed
		h.err = err
	}
	h.finishedAt = time.Now()

	slot := slotOf(attempt)
	if r.bySlot[slot] == attempt.ID {
		delete(r.bySlot, slot)
	}
}

func (r *boostRegistry) get(id string) (BoostState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byID[id]
	if !ok {
		return BoostState{}, false
	}
	state := BoostState{Attempt: h.attempt, Status: h.status}
	if h.err != nil {
		state.Error = h.err.Error()
	}
	return state, true
}

func (r *boostRegistry) cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(id)
}

func (r *boostRegistry) cancelSession(session string) int {
	if session == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cancelled := 0
	for id, h := range r.byID {
		if h.attempt.SessionID == session && r.cancelLocked(id) {
			cancelled++
		}
	}
	return cancelled
}

func (r *boostRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.byID {
		r.cancelLocked(id)
	}
}

func (r *boostRegistry) cancelLocked(id string) bool {
	h, ok := r.byID[id]
	if !ok || h.status != BoostPending {
		return false
	}
	h.status = BoostCancelled
	h.finishedAt = time.Now()
	h.cancel()
	return true
}

func (r *boostRegistry) pruneLocked(now time.Time) {
	for id, h := range r.byID {
		if h.status != BoostPending && now.Sub(h.finishedAt) > boostRetention {
			delete(r.byID, id)
		}
	}
}
