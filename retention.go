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
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/config"
	redlock "github.com/satsqueue/satsqueue/internal/lock"
	"github.com/satsqueue/satsqueue/model"
)

const sweepLockTTL = 5 * time.Minute

func sweepLockKey(queueName string) string {
	return fmt.Sprintf("satsqueue:lock:sweep:{%s}", queueName)
}

// SweepArchive moves entries served before olderThan out of the live record. When a
// history datasource is configured they are persisted first, and nothing is pruned
// unless every write succeeded. Concurrent sweeps of one queue are serialised by a
// Redis lock; the loser returns 0.
func (s *SatsQueue) SweepArchive(ctx context.Context, name string, olderThan time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "SweepArchive")
	defer span.End()

	canonical, err := lookupName(name)
	if err != nil {
		return 0, err
	}

	var pruned int
	sweep := func(ctx context.Context) error {
		var err error
		pruned, err = s.sweep(ctx, canonical, model.NowMillis(olderThan))
		return err
	}

	if s.redis == nil {
		err = sweep(ctx)
	} else {
		err = redlock.WithLock(ctx, s.redis, sweepLockKey(canonical), sweepLockTTL, sweep)
		if errors.Is(err, redlock.ErrLockHeld) {
			logrus.WithField("queue", canonical).Info("archive sweep already running")
			return 0, nil
		}
	}
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return pruned, nil
}

func (s *SatsQueue) sweep(ctx context.Context, name string, cutoff int64) (int, error) {
	rec, err := s.store.GetQueue(ctx, name)
	if err != nil {
		return 0, storeError(err, name)
	}

	stale := make([]model.ArchivedEntry, 0)
	for _, archived := range rec.Archive {
		if archived.ServedAt < cutoff {
			stale = append(stale, archived)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ServedAt < stale[j].ServedAt })

	ids := make([]string, 0, len(stale))
	for _, archived := range stale {
		if s.datasource != nil {
			if err := s.datasource.RecordServedEntry(ctx, name, archived); err != nil {
				return 0, fmt.Errorf("persisting served entry %s: %w", archived.ID, err)
			}
		}
		ids = append(ids, archived.ID)
	}

	pruned, err := s.store.PruneArchive(ctx, name, ids)
	if err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{"queue": name, "pruned": pruned}).Info("archive swept")
	return pruned, nil
}

// ProcessArchiveSweep applies the configured retention to one queue, or to every
// queue when the task names none.
func (s *SatsQueue) ProcessArchiveSweep(ctx context.Context, task *asynq.Task) error {
	var payload ArchiveSweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
	}

	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	olderThan := s.now().Add(-time.Duration(conf.Queue.ArchiveRetentionHours) * time.Hour)

	names := []string{payload.Queue}
	if payload.Queue == "" {
		names, err = s.store.ListQueues(ctx)
		if err != nil {
			return err
		}
	}

	var errs []error
	for _, name := range names {
		if _, err := s.SweepArchive(ctx, name, olderThan); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServedHistory lists served entries of a queue, most recent first. Without a history
// datasource only the live archive is available.
func (s *SatsQueue) ServedHistory(ctx context.Context, name string, limit, offset int) ([]model.ArchivedEntry, error) {
	rec, err := s.GetQueue(ctx, name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	if s.datasource != nil {
		return s.datasource.GetServedHistory(ctx, rec.Name, limit, offset)
	}

	served := RecentlyServed(rec.Archive)
	if offset >= len(served) {
		return []model.ArchivedEntry{}, nil
	}
	return served[offset:min(offset+limit, len(served))], nil
}

// ServedCount is the number of served entries ServedHistory can page through.
func (s *SatsQueue) ServedCount(ctx context.Context, name string) (int64, error) {
	rec, err := s.GetQueue(ctx, name)
	if err != nil {
		return 0, err
	}
	if s.datasource != nil {
		return s.datasource.CountServed(ctx, rec.Name)
	}
	return int64(len(rec.Archive)), nil
}
