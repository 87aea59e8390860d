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

	"github.com/satsqueue/satsqueue/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Served history methods

func (m *MockDataSource) RecordServedEntry(ctx context.Context, queueName string, entry model.ArchivedEntry) error {
	args := m.Called(ctx, queueName, entry)
	return args.Error(0)
}

func (m *MockDataSource) GetServedHistory(ctx context.Context, queueName string, limit, offset int) ([]model.ArchivedEntry, error) {
	args := m.Called(ctx, queueName, limit, offset)
	entries, _ := args.Get(0).([]model.ArchivedEntry)
	return entries, args.Error(1)
}

func (m *MockDataSource) CountServed(ctx context.Context, queueName string) (int64, error) {
	args := m.Called(ctx, queueName)
	return args.Get(0).(int64), args.Error(1)
}
