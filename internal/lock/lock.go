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

package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

var (
	ErrLockHeld  = errors.New("lock is already held")
	ErrNotHolder = errors.New("lock expired or is held by another owner")
)

type Locker struct {
	client redis.UniversalClient
	key    string
	token  string // only the holder of the token can unlock or extend
}

func NewLocker(client redis.UniversalClient, key, token string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		token:  token,
	}
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	acquired, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock %s: %w", l.key, ErrNotHolder)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, ttl time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.token, fmt.Sprintf("%d", ttl.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("extend %s: %w", l.key, ErrNotHolder)
	}
	return nil
}

// WaitLock retries Lock with jittered back-off until it succeeds, wait elapses or
// ctx is done.
func (l *Locker) WaitLock(ctx context.Context, ttl, wait time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = wait

	return backoff.Retry(func() error {
		err := l.Lock(ctx, ttl)
		if err == nil || errors.Is(err, ErrLockHeld) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

// WithLock runs fn while holding key. It returns ErrLockHeld without running fn when
// another owner has the lock.
func WithLock(ctx context.Context, client redis.UniversalClient, key string, ttl time.Duration, fn func(context.Context) error) error {
	locker := NewLocker(client, key, uuid.NewString())
	if err := locker.Lock(ctx, ttl); err != nil {
		return err
	}
	defer func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("failed to release lock")
		}
	}()
	return fn(ctx)
}
