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
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/satsqueue/satsqueue/ledgerstore"
	"github.com/satsqueue/satsqueue/model"
)

// MockStore is a mock implementation of the ledgerstore.Store interface
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateQueue(ctx context.Context, rec *model.QueueRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) GetQueue(ctx context.Context, name string) (*model.QueueRecord, error) {
	args := m.Called(ctx, name)
	rec, _ := args.Get(0).(*model.QueueRecord)
	return rec, args.Error(1)
}

func (m *MockStore) ListQueues(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func (m *MockStore) AddEntry(ctx context.Context, name string, entry model.Entry) error {
	args := m.Called(ctx, name, entry)
	return args.Error(0)
}

func (m *MockStore) Increment(ctx context.Context, name, entryID string, delta int64, reference string) (ledgerstore.IncrementResult, error) {
	args := m.Called(ctx, name, entryID, delta, reference)
	return args.Get(0).(ledgerstore.IncrementResult), args.Error(1)
}

func (m *MockStore) Serve(ctx context.Context, name, entryID string, servedAt int64) (*model.ArchivedEntry, error) {
	args := m.Called(ctx, name, entryID, servedAt)
	archived, _ := args.Get(0).(*model.ArchivedEntry)
	return archived, args.Error(1)
}

func (m *MockStore) SetActive(ctx context.Context, name string, active bool) error {
	args := m.Called(ctx, name, active)
	return args.Error(0)
}

func (m *MockStore) PruneArchive(ctx context.Context, name string, entryIDs []string) (int, error) {
	args := m.Called(ctx, name, entryIDs)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) Subscribe(ctx context.Context, name string, fn func(*model.QueueRecord)) (ledgerstore.Subscription, error) {
	args := m.Called(ctx, name, fn)
	sub, _ := args.Get(0).(ledgerstore.Subscription)
	return sub, args.Error(1)
}
