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
	"database/sql"
	"time"

	"github.com/satsqueue/satsqueue/internal/apierror"
	"github.com/satsqueue/satsqueue/model"
)

const defaultHistoryLimit = 50

// RecordServedEntry inserts a served entry. The insert is keyed on the entry id so
// a retried task does not duplicate history.
func (d Datasource) RecordServedEntry(ctx context.Context, queueName string, entry model.ArchivedEntry) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO satsqueue.served_entries (entry_id, queue_name, display_name, contact_ref, annotation, score, admitted_at, served_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entry_id) DO NOTHING
	`,
		entry.ID,
		queueName,
		entry.DisplayName,
		nullString(entry.ContactRef),
		nullString(entry.Annotation),
		entry.Score,
		time.UnixMilli(entry.AdmittedAt).UTC(),
		time.UnixMilli(entry.ServedAt).UTC(),
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record served entry", err)
	}
	return nil
}

// GetServedHistory returns a page of served entries for a queue, most recent first.
func (d Datasource) GetServedHistory(ctx context.Context, queueName string, limit, offset int) ([]model.ArchivedEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, display_name, contact_ref, annotation, score, admitted_at, served_at
		FROM satsqueue.served_entries
		WHERE queue_name = $1
		ORDER BY served_at DESC, entry_id ASC
		LIMIT $2 OFFSET $3
	`, queueName, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve served history", err)
	}
	defer rows.Close()

	entries := []model.ArchivedEntry{}
	for rows.Next() {
		var (
			entry                 model.ArchivedEntry
			contactRef, annotation sql.NullString
			admittedAt, servedAt   time.Time
		)
		if err := rows.Scan(&entry.ID, &entry.DisplayName, &contactRef, &annotation, &entry.Score, &admittedAt, &servedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan served entry", err)
		}
		entry.ContactRef = contactRef.String
		entry.Annotation = annotation.String
		entry.AdmittedAt = admittedAt.UnixMilli()
		entry.ServedAt = servedAt.UnixMilli()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over served history", err)
	}
	return entries, nil
}

// CountServed returns how many entries of a queue have been persisted.
func (d Datasource) CountServed(ctx context.Context, queueName string) (int64, error) {
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM satsqueue.served_entries WHERE queue_name = $1
	`, queueName).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count served entries", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
