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

// Package memstore implements the In-Memory Store (§4.4): a sharded
// concurrent map with a global byte-size bound and least-recently-accessed
// eviction.
package memstore

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/stephenfairchild/relay/internal/cache"
)

const shardCount = 32

// entry is what a shard's simplelru actually holds: the cached response
// plus its approximate serialized size, used for the global byte budget.
type entry struct {
	resp *cache.CachedResponse
	size int64
}

// Store is the sharded in-memory Storage implementation. Unrelated keys
// land in different shards and do not contend; size accounting is global
// so eviction decisions span shards via a shared atomic counter plus a
// round-robin eviction sweep when over budget.
type Store struct {
	shards   [shardCount]*shard
	maxBytes int64
	used     int64
}

type shard struct {
	mu  sync.Mutex
	lru *lru.LRU[string, entry]
}

// New constructs a Store bounded to maxBytes total across all shards.
func New(maxBytes int64) *Store {
	s := &Store{maxBytes: maxBytes}
	for i := range s.shards {
		sh := &shard{}
		// Each shard's own LRU is unbounded by count; Put enforces the byte
		// budget explicitly so eviction is size-driven, not count-driven.
		l, _ := lru.NewLRU[string, entry](maxInt, nil)
		sh.lru = l
		s.shards[i] = sh
	}
	return s
}

const maxInt = int(^uint(0) >> 1)

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Get returns the most recently stored value for key and bumps its
// recency, satisfying the last_access_time contract via the shard's LRU
// ordering.
func (s *Store) Get(key string) (*cache.CachedResponse, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return e.resp, true, nil
}

// Put stores resp under key, evicting other entries (each shard's
// least-recently-accessed first, shards swept round-robin; see
// evictToBudget) until it fits within the byte budget. An entry larger than
// the entire budget is rejected; the Engine treats that as non-fatal "not
// cacheable".
func (s *Store) Put(key string, resp *cache.CachedResponse, softExpiry time.Duration) error {
	size := approximateSize(resp)
	if s.maxBytes > 0 && size > s.maxBytes {
		return nil
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	if old, ok := sh.lru.Peek(key); ok {
		atomic.AddInt64(&s.used, -old.size)
	}
	sh.lru.Add(key, entry{resp: resp, size: size})
	atomic.AddInt64(&s.used, size)
	sh.mu.Unlock()

	s.evictToBudget(key)
	return nil
}

// Delete removes key from its shard.
func (s *Store) Delete(key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.lru.Peek(key); ok {
		sh.lru.Remove(key)
		atomic.AddInt64(&s.used, -e.size)
	}
	return nil
}

// Purge removes every key matching glob across all shards.
func (s *Store) Purge(glob string) error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, key := range sh.lru.Keys() {
			matched, err := doublestar.Match(glob, key)
			if err != nil {
				sh.mu.Unlock()
				return err
			}
			if matched {
				if e, ok := sh.lru.Peek(key); ok {
					sh.lru.Remove(key)
					atomic.AddInt64(&s.used, -e.size)
				}
			}
		}
		sh.mu.Unlock()
	}
	return nil
}

// Stats reports the store's current item count and byte usage.
func (s *Store) Stats() cache.Stats {
	var items int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		items += int64(sh.lru.Len())
		sh.mu.Unlock()
	}
	return cache.Stats{Items: items, Bytes: atomic.LoadInt64(&s.used)}
}

// evictToBudget walks shards round-robin, evicting each shard's current
// least-recently-used entry, until total usage is back within budget. This
// approximates a global LRU without a cross-shard lock on every access.
// The entry under keep (the one just stored) is never evicted.
func (s *Store) evictToBudget(keep string) {
	if s.maxBytes <= 0 {
		return
	}
	for atomic.LoadInt64(&s.used) > s.maxBytes {
		evictedAny := false
		for _, sh := range s.shards {
			sh.mu.Lock()
			if oldest, _, ok := sh.lru.GetOldest(); ok && oldest != keep {
				_, e, ok := sh.lru.RemoveOldest()
				if ok {
					atomic.AddInt64(&s.used, -e.size)
					evictedAny = true
				}
			}
			sh.mu.Unlock()
			if atomic.LoadInt64(&s.used) <= s.maxBytes {
				return
			}
		}
		if !evictedAny {
			return
		}
	}
}

// approximateSize estimates the on-heap cost of a CachedResponse for the
// purposes of the byte budget: body plus a rough header overhead.
func approximateSize(resp *cache.CachedResponse) int64 {
	size := int64(len(resp.Body))
	for _, h := range resp.Headers {
		size += int64(len(h.Name) + len(h.Value) + 2)
	}
	size += 64 // fixed overhead: status, timestamps, ttls, validators
	return size
}
