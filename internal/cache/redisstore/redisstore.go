/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package redisstore implements the Redis Store (§4.5): CachedResponse
// blobs under relay:v1:<key>, a bounded connection pool, and SCAN-based
// purge.
package redisstore

import (
	"time"

	"github.com/go-redis/redis"

	"github.com/stephenfairchild/relay/internal/cache"
	"github.com/stephenfairchild/relay/internal/cache/codec"
)

const keyPrefix = "relay:v1:"

// defaultGrace is the small configurable margin added on top of
// ttl + max(swr, sie) when setting the Redis expiration, so the key
// outlives the Engine's own staleness math by a safety margin.
const defaultGrace = 60 * time.Second

// Config controls pool sizing and the compression/grace knobs.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	Grace        time.Duration
	Compression  bool
}

// Store is the Redis-backed Storage implementation.
type Store struct {
	client      *redis.Client
	grace       time.Duration
	compression bool
}

// New constructs a Store from cfg. The client owns a bounded pool with an
// acquisition timeout; operations beyond the configured timeouts return
// StorageError{Kind: ErrTransient}, never a panic.
func New(cfg Config) *Store {
	grace := cfg.Grace
	if grace <= 0 {
		grace = defaultGrace
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})
	return &Store{client: client, grace: grace, compression: cfg.Compression}
}

// NewWithClient wraps an already-constructed client, used by tests against
// miniredis.
func NewWithClient(client *redis.Client, compression bool) *Store {
	return &Store{client: client, grace: defaultGrace, compression: compression}
}

func (s *Store) wireKey(key string) string { return keyPrefix + key }

// Get fetches and decodes the blob stored under key.
func (s *Store) Get(key string) (*cache.CachedResponse, bool, error) {
	blob, err := s.client.Get(s.wireKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, transient("get", err)
	}
	resp, err := codec.Decode(blob, s.compression)
	if err != nil {
		return nil, false, &cache.StorageError{Kind: cache.ErrPermanent, Op: "get", Err: err}
	}
	return resp, true, nil
}

// Put encodes resp and stores it with a Redis expiration of
// ttl + max(swr, sie) + grace.
func (s *Store) Put(key string, resp *cache.CachedResponse, softExpiry time.Duration) error {
	blob, err := codec.Encode(resp, s.compression)
	if err != nil {
		return &cache.StorageError{Kind: cache.ErrPermanent, Op: "put", Err: err}
	}
	expiry := softExpiry + s.grace
	if err := s.client.Set(s.wireKey(key), blob, expiry).Err(); err != nil {
		return transient("put", err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	if err := s.client.Del(s.wireKey(key)).Err(); err != nil {
		return transient("delete", err)
	}
	return nil
}

// Purge uses SCAN + DEL to best-effort remove every key matching glob; it
// is not atomic, per the storage contract.
func (s *Store) Purge(glob string) error {
	pattern := keyPrefix + glob
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(cursor, pattern, 100).Result()
		if err != nil {
			return transient("purge", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(keys...).Err(); err != nil {
				return transient("purge", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Stats reports DBSize as the item count; Redis does not expose precise
// per-key-prefix byte usage cheaply, so Bytes is left at zero and the
// byte gauge reads zero with this backend (the disk backend reports zero
// too; only the in-memory store tracks bytes).
func (s *Store) Stats() cache.Stats {
	n, err := s.client.DBSize().Result()
	if err != nil {
		return cache.Stats{}
	}
	return cache.Stats{Items: n}
}

func transient(op string, err error) error {
	return &cache.StorageError{Kind: cache.ErrTransient, Op: op, Err: err}
}
