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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/internal/cache"
)

type resolvedIdentity struct {
	DisplayName string
	ContactRef  string
}

// CachedResolver remembers successful resolutions for ttl. Failed lookups are not
// cached so a profile published later is picked up.
type CachedResolver struct {
	resolver IdentityResolver
	cache    cache.Cache
	ttl      time.Duration
}

func NewCachedResolver(resolver IdentityResolver, c cache.Cache, ttl time.Duration) *CachedResolver {
	return &CachedResolver{resolver: resolver, cache: c, ttl: ttl}
}

func (r *CachedResolver) Resolve(ctx context.Context, identifier string) (string, string) {
	key := "identity:" + identifier

	var cached resolvedIdentity
	err := r.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached.DisplayName, cached.ContactRef
	}
	if !errors.Is(err, cache.ErrMiss) {
		logrus.WithError(err).Debug("identity cache read failed")
	}

	displayName, contactRef := r.resolver.Resolve(ctx, identifier)
	if displayName == "" && contactRef == "" {
		return "", ""
	}

	if err := r.cache.Set(ctx, key, resolvedIdentity{DisplayName: displayName, ContactRef: contactRef}, r.ttl); err != nil {
		logrus.WithError(err).Debug("identity cache write failed")
	}
	return displayName, contactRef
}
