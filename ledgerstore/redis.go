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

package ledgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/model"
)

const (
	keyPrefix = "satsqueue"
	queuesKey = keyPrefix + ":queues"
)

// queueKeys are the keys of one record. They share the {name} hash tag so every
// script touches a single cluster slot.
type queueKeys struct {
	meta          string
	entries       string
	scores        string
	archive       string
	archiveScores string
	servedAt      string
	credited      string
	channel       string
}

func keysFor(name string) queueKeys {
	base := fmt.Sprintf("%s:{%s}", keyPrefix, name)
	return queueKeys{
		meta:          base + ":meta",
		entries:       base + ":entries",
		scores:        base + ":scores",
		archive:       base + ":archive",
		archiveScores: base + ":archive:scores",
		servedAt:      base + ":archive:served_at",
		credited:      base + ":credited",
		channel:       base + ":changes",
	}
}

// storedEntry is the immutable part of an entry. Scores live in their own hash so
// they can be incremented in place.
type storedEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ContactRef  string `json:"contact_ref,omitempty"`
	AdmittedAt  int64  `json:"admitted_at"`
	Annotation  string `json:"annotation,omitempty"`
}

func (s storedEntry) toEntry(score int64) model.Entry {
	return model.Entry{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		ContactRef:  s.ContactRef,
		AdmittedAt:  s.AdmittedAt,
		Score:       score,
		Annotation:  s.Annotation,
	}
}

// RedisStore is a Store backed by Redis hashes, Lua scripts and pub/sub.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a store using client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CreateQueue(ctx context.Context, rec *model.QueueRecord) error {
	k := keysFor(rec.Name)
	created, err := createQueueScript.Run(ctx, s.client, []string{k.meta},
		rec.Name, rec.DisplayName, rec.PayoutTarget, rec.CreatedAt, k.channel).Int()
	if err != nil {
		return err
	}
	if created == statusDuplicate {
		return ErrQueueExists
	}

	if err := s.client.SAdd(ctx, queuesKey, rec.Name).Err(); err != nil {
		logrus.WithError(err).WithField("queue", rec.Name).Warn("failed to index queue")
	}
	return nil
}

func (s *RedisStore) GetQueue(ctx context.Context, name string) (*model.QueueRecord, error) {
	k := keysFor(name)
	var meta, entries, scores, archive, archiveScores, servedAt *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		meta = pipe.HGetAll(ctx, k.meta)
		entries = pipe.HGetAll(ctx, k.entries)
		scores = pipe.HGetAll(ctx, k.scores)
		archive = pipe.HGetAll(ctx, k.archive)
		archiveScores = pipe.HGetAll(ctx, k.archiveScores)
		servedAt = pipe.HGetAll(ctx, k.servedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := meta.Val()
	if len(fields) == 0 {
		return nil, ErrQueueNotFound
	}

	rec := &model.QueueRecord{
		Name:           fields["name"],
		DisplayName:    fields["display_name"],
		PayoutTarget:   fields["payout_target"],
		CreatedAt:      parseInt(fields["created_at"]),
		Active:         fields["active"] == "1",
		TotalScore:     parseInt(fields["total_score"]),
		CurrentEntries: make(map[string]model.Entry, len(entries.Val())),
		Archive:        make(map[string]model.ArchivedEntry, len(archive.Val())),
	}

	scoreByID := scores.Val()
	for id, raw := range entries.Val() {
		var se storedEntry
		if err := json.Unmarshal([]byte(raw), &se); err != nil {
			return nil, fmt.Errorf("decoding entry %s: %w", id, err)
		}
		rec.CurrentEntries[id] = se.toEntry(parseInt(scoreByID[id]))
	}

	archivedScores := archiveScores.Val()
	servedAtByID := servedAt.Val()
	for id, raw := range archive.Val() {
		var se storedEntry
		if err := json.Unmarshal([]byte(raw), &se); err != nil {
			return nil, fmt.Errorf("decoding archived entry %s: %w", id, err)
		}
		rec.Archive[id] = model.ArchivedEntry{
			Entry:    se.toEntry(parseInt(archivedScores[id])),
			ServedAt: parseInt(servedAtByID[id]),
		}
	}

	return rec, nil
}

func (s *RedisStore) ListQueues(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, queuesKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStore) AddEntry(ctx context.Context, name string, entry model.Entry) error {
	k := keysFor(name)
	data, err := json.Marshal(storedEntry{
		ID:          entry.ID,
		DisplayName: entry.DisplayName,
		ContactRef:  entry.ContactRef,
		AdmittedAt:  entry.AdmittedAt,
		Annotation:  entry.Annotation,
	})
	if err != nil {
		return err
	}

	status, err := addEntryScript.Run(ctx, s.client, []string{k.meta, k.entries, k.scores},
		entry.ID, string(data), entry.Score, k.channel, name).Int()
	if err != nil {
		return err
	}

	switch status {
	case statusOK:
		return nil
	case statusQueueMissing:
		return ErrQueueNotFound
	case statusQueueInactive:
		return ErrQueueInactive
	case statusEntryExists:
		return ErrEntryExists
	default:
		return fmt.Errorf("unexpected add entry status %d", status)
	}
}

func (s *RedisStore) Increment(ctx context.Context, name, entryID string, delta int64, reference string) (IncrementResult, error) {
	k := keysFor(name)
	res, err := incrementScript.Run(ctx, s.client, []string{k.meta, k.entries, k.scores, k.credited},
		entryID, delta, reference, k.channel, name).Int64Slice()
	if err != nil {
		return IncrementResult{}, err
	}
	if len(res) != 2 {
		return IncrementResult{}, fmt.Errorf("unexpected increment reply %v", res)
	}

	switch res[0] {
	case statusOK:
		return IncrementResult{Score: res[1], Applied: true}, nil
	case statusDuplicate:
		return IncrementResult{Score: res[1], Applied: false}, nil
	case statusEntryMissing:
		return IncrementResult{}, ErrEntryNotFound
	default:
		return IncrementResult{}, fmt.Errorf("unexpected increment status %d", res[0])
	}
}

func (s *RedisStore) Serve(ctx context.Context, name, entryID string, servedAt int64) (*model.ArchivedEntry, error) {
	k := keysFor(name)
	res, err := serveScript.Run(ctx, s.client,
		[]string{k.meta, k.entries, k.scores, k.archive, k.archiveScores, k.servedAt},
		entryID, servedAt, k.channel, name).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected serve reply %v", res)
	}

	var se storedEntry
	if err := json.Unmarshal([]byte(res[0]), &se); err != nil {
		return nil, fmt.Errorf("decoding served entry %s: %w", entryID, err)
	}
	return &model.ArchivedEntry{Entry: se.toEntry(parseInt(res[1])), ServedAt: servedAt}, nil
}

func (s *RedisStore) SetActive(ctx context.Context, name string, active bool) error {
	k := keysFor(name)
	flag := "0"
	if active {
		flag = "1"
	}
	status, err := setActiveScript.Run(ctx, s.client, []string{k.meta}, flag, k.channel, name).Int()
	if err != nil {
		return err
	}
	if status == statusQueueMissing {
		return ErrQueueNotFound
	}
	return nil
}

func (s *RedisStore) PruneArchive(ctx context.Context, name string, entryIDs []string) (int, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	k := keysFor(name)
	args := make([]interface{}, 0, len(entryIDs)+2)
	args = append(args, k.channel, name)
	for _, id := range entryIDs {
		args = append(args, id)
	}
	return pruneArchiveScript.Run(ctx, s.client, []string{k.archive, k.archiveScores, k.servedAt}, args...).Int()
}

// Subscribe listens on the queue's change channel and re-reads the full record on
// every notification. Bursts of notifications collapse into a single read.
func (s *RedisStore) Subscribe(ctx context.Context, name string, fn func(*model.QueueRecord)) (Subscription, error) {
	k := keysFor(name)
	pubsub := s.client.Subscribe(ctx, k.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	// Read after subscribing so no mutation falls between the snapshot and the feed.
	rec, err := s.GetQueue(ctx, name)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		// A cancelled ctx ends the feed without waiting for Close.
		defer sub.release()
		fn(rec)

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				if !drain(messages) {
					return
				}
				rec, err := s.GetQueue(ctx, name)
				if err != nil {
					if ctx.Err() == nil {
						logrus.WithError(err).WithField("queue", name).Warn("failed to read queue after change")
					}
					continue
				}
				fn(rec)
			}
		}
	}()

	return sub, nil
}

// drain discards queued notifications. It returns false if the channel closed.
func drain(messages <-chan *redis.Message) bool {
	for {
		select {
		case _, ok := <-messages:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

func (r *redisSubscription) release() error {
	r.once.Do(func() {
		r.err = r.pubsub.Close()
	})
	return r.err
}

// Close stops the feed and waits for the delivery goroutine to exit.
func (r *redisSubscription) Close() error {
	err := r.release()
	<-r.done
	return err
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
