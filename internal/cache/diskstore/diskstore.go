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

// Package diskstore implements the disk-backed Storage contract as a thin
// adapter over an embedded KV engine. Only the four Storage operations are
// specified; everything about the on-disk layout is the engine's own.
package diskstore

import (
	"time"

	"github.com/stephenfairchild/relay/internal/cache"
)

// Engine selects which embedded KV engine backs the store.
type Engine string

const (
	// EngineBadger uses dgraph-io/badger.
	EngineBadger Engine = "badger"
	// EngineBolt uses coreos/bbolt.
	EngineBolt Engine = "bolt"
)

// kv is the minimal embedded-store contract diskstore needs; badgerKV and
// boltKV each satisfy it so Store doesn't care which engine is underneath.
type kv interface {
	get(key string) ([]byte, bool, error)
	put(key string, value []byte, ttl time.Duration) error
	delete(key string) error
	scanKeys() ([]string, error)
	close() error
}

// Store is the disk-backed Storage implementation.
type Store struct {
	kv          kv
	compression bool
}

// Open constructs a Store at dir using the named engine.
func Open(dir string, engine Engine, compression bool) (*Store, error) {
	var underlying kv
	var err error
	switch engine {
	case EngineBolt:
		underlying, err = openBolt(dir)
	default:
		underlying, err = openBadger(dir)
	}
	if err != nil {
		return nil, err
	}
	return &Store{kv: underlying, compression: compression}, nil
}

// Close releases the underlying engine's resources.
func (s *Store) Close() error { return s.kv.close() }

// Get fetches and decodes the blob stored under key.
func (s *Store) Get(key string) (*cache.CachedResponse, bool, error) {
	raw, ok, err := s.kv.get(key)
	if err != nil {
		return nil, false, &cache.StorageError{Kind: cache.ErrTransient, Op: "get", Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	resp, err := decode(raw, s.compression)
	if err != nil {
		return nil, false, &cache.StorageError{Kind: cache.ErrPermanent, Op: "get", Err: err}
	}
	return resp, true, nil
}

// Put encodes resp and stores it with ttl softExpiry as the engine's own
// expiration hint.
func (s *Store) Put(key string, resp *cache.CachedResponse, softExpiry time.Duration) error {
	raw, err := encode(resp, s.compression)
	if err != nil {
		return &cache.StorageError{Kind: cache.ErrPermanent, Op: "put", Err: err}
	}
	if err := s.kv.put(key, raw, softExpiry); err != nil {
		return &cache.StorageError{Kind: cache.ErrTransient, Op: "put", Err: err}
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(key string) error {
	if err := s.kv.delete(key); err != nil {
		return &cache.StorageError{Kind: cache.ErrTransient, Op: "delete", Err: err}
	}
	return nil
}

// Purge best-effort removes every key matching glob by scanning all keys;
// disk engines here expose no native prefix-scan shortcut, so this is O(n)
// in the number of stored keys, acceptable given disk storage's internals
// are explicitly out of scope.
func (s *Store) Purge(glob string) error {
	keys, err := s.kv.scanKeys()
	if err != nil {
		return &cache.StorageError{Kind: cache.ErrTransient, Op: "purge", Err: err}
	}
	for _, key := range keys {
		matched, err := match(glob, key)
		if err != nil {
			return &cache.StorageError{Kind: cache.ErrPermanent, Op: "purge", Err: err}
		}
		if matched {
			if err := s.kv.delete(key); err != nil {
				return &cache.StorageError{Kind: cache.ErrTransient, Op: "purge", Err: err}
			}
		}
	}
	return nil
}

// Stats reports the store's key count; disk engines here don't track
// aggregate byte usage cheaply, so Bytes is left at zero.
func (s *Store) Stats() cache.Stats {
	keys, err := s.kv.scanKeys()
	if err != nil {
		return cache.Stats{}
	}
	return cache.Stats{Items: int64(len(keys))}
}
