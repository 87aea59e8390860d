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

package redis_db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 500 * time.Millisecond

// Redis holds the client shared by the ledger store, the locks and the identity cache.
// It supports both single-instance Redis and Redis Cluster.
type Redis struct {
	addresses []string
	client    redis.UniversalClient
}

// ParseRedisURL parses a Redis URL into client options. Docker style "host:port"
// addresses are accepted as-is, and "redis://password@host" is read as a password-only URL.
func ParseRedisURL(rawURL string, skipTLSVerify bool) (*redis.Options, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("redis url is empty")
	}

	if !strings.Contains(rawURL, "//") && !strings.Contains(rawURL, "@") {
		opts := &redis.Options{Addr: rawURL}
		if strings.Contains(rawURL, "redis.cache.windows.net") {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		applySkipVerify(opts, skipTLSVerify)
		return opts, nil
	}

	if rest, ok := strings.CutPrefix(rawURL, "redis://"); ok {
		if auth, host, found := strings.Cut(rest, "@"); found && !strings.Contains(auth, ":") {
			rawURL = fmt.Sprintf("redis://:%s@%s", auth, host)
		}
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	applySkipVerify(opts, skipTLSVerify)
	return opts, nil
}

func applySkipVerify(opts *redis.Options, skipTLSVerify bool) {
	if opts.TLSConfig != nil && skipTLSVerify {
		opts.TLSConfig.InsecureSkipVerify = true
	}
}

// SplitAddresses turns a comma separated DNS setting into individual addresses.
func SplitAddresses(dns string) []string {
	var addresses []string
	for _, addr := range strings.Split(dns, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addresses = append(addresses, addr)
		}
	}
	return addresses
}

// NewRedisClient creates a client for the given addresses and checks connectivity.
// One address yields a standalone client, several yield a cluster client.
func NewRedisClient(addresses []string, skipTLSVerify bool) (*Redis, error) {
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	var client redis.UniversalClient
	if len(addresses) == 1 {
		opts, err := ParseRedisURL(addresses[0], skipTLSVerify)
		if err != nil {
			return nil, err
		}
		client = redis.NewClient(opts)
	} else {
		clusterOpts := &redis.UniversalOptions{}
		for _, addr := range addresses {
			opts, err := ParseRedisURL(addr, skipTLSVerify)
			if err != nil {
				return nil, err
			}
			clusterOpts.Addrs = append(clusterOpts.Addrs, opts.Addr)
			if clusterOpts.Password == "" {
				clusterOpts.Password = opts.Password
			}
			if opts.TLSConfig != nil && clusterOpts.TLSConfig == nil {
				clusterOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: skipTLSVerify}
			}
		}
		client = redis.NewUniversalClient(clusterOpts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{addresses: addresses, client: client}, nil
}

// Client returns the universal client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Addresses returns the addresses the client was built from.
func (r *Redis) Addresses() []string {
	return r.addresses
}

// AsynqConnOpt converts a Redis DNS setting into asynq connection options so that
// the task queue and the worker share the ledger store's Redis.
func AsynqConnOpt(dns string, skipTLSVerify bool) (asynq.RedisConnOpt, error) {
	addresses := SplitAddresses(dns)
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	if len(addresses) > 1 {
		clusterOpt := asynq.RedisClusterClientOpt{}
		for _, addr := range addresses {
			opts, err := ParseRedisURL(addr, skipTLSVerify)
			if err != nil {
				return nil, err
			}
			clusterOpt.Addrs = append(clusterOpt.Addrs, opts.Addr)
			if clusterOpt.Password == "" {
				clusterOpt.Password = opts.Password
			}
			if clusterOpt.TLSConfig == nil {
				clusterOpt.TLSConfig = opts.TLSConfig
			}
		}
		return clusterOpt, nil
	}

	opts, err := ParseRedisURL(addresses[0], skipTLSVerify)
	if err != nil {
		return nil, err
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}
