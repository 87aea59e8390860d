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

package database

import (
	"context"

	"github.com/satsqueue/satsqueue/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	servedHistory
}

// servedHistory is the long-term record of entries that left a queue.
type servedHistory interface {
	RecordServedEntry(ctx context.Context, queueName string, entry model.ArchivedEntry) error                // Stores an entry; repeated calls are no-ops
	GetServedHistory(ctx context.Context, queueName string, limit, offset int) ([]model.ArchivedEntry, error) // Most recently served first
	CountServed(ctx context.Context, queueName string) (int64, error)
}
