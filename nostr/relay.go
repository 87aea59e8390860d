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

// Package nostr resolves nostr identities to display names and sends encrypted
// direct messages over a set of relays.
package nostr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gonostr "github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"
)

const (
	kindProfileMetadata = 0
	kindEncryptedDM     = 4
)

// Relays is the relay set used for lookups and publishing.
type Relays interface {
	Publish(ctx context.Context, event gonostr.Event) error
	QueryProfile(ctx context.Context, pubkey string) (*gonostr.Event, error)
}

// RelayPool connects to each relay on demand.
type RelayPool struct {
	urls []string
}

func NewRelayPool(urls []string) *RelayPool {
	return &RelayPool{urls: urls}
}

// Publish sends event to every relay and succeeds when at least one accepts it.
func (p *RelayPool) Publish(ctx context.Context, event gonostr.Event) error {
	if len(p.urls) == 0 {
		return errors.New("no relays configured")
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		errs     []error
	)
	for _, url := range p.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			err := publishTo(ctx, url, event)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logrus.WithError(err).WithField("relay", url).Debug("publish failed")
				errs = append(errs, fmt.Errorf("%s: %w", url, err))
				return
			}
			accepted++
		}(url)
	}
	wg.Wait()

	if accepted == 0 {
		return errors.Join(errs...)
	}
	return nil
}

func publishTo(ctx context.Context, url string, event gonostr.Event) error {
	relay, err := gonostr.RelayConnect(ctx, url)
	if err != nil {
		return err
	}
	defer relay.Close()
	return relay.Publish(ctx, event)
}

// QueryProfile returns the newest kind-0 event for pubkey found on any relay, or
// nil when none has one.
func (p *RelayPool) QueryProfile(ctx context.Context, pubkey string) (*gonostr.Event, error) {
	filter := gonostr.Filter{
		Kinds:   []int{kindProfileMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	}

	var latest *gonostr.Event
	var lastErr error
	for _, url := range p.urls {
		relay, err := gonostr.RelayConnect(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		events, err := relay.QuerySync(ctx, filter)
		relay.Close()
		if err != nil {
			lastErr = err
			continue
		}
		for _, ev := range events {
			if latest == nil || ev.CreatedAt > latest.CreatedAt {
				latest = ev
			}
		}
	}

	if latest == nil && lastErr != nil {
		return nil, lastErr
	}
	return latest, nil
}
