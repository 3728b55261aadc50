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

package redisstore

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephenfairchild/relay/internal/cache"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewWithClient(client, false), mr
}

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	resp := &cache.CachedResponse{Status: 200, Body: []byte("hello"), StoredAt: time.Now().UTC()}

	require.NoError(t, s.Put("k1", resp, time.Minute))

	got, ok, err := s.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, resp.Body, got.Body)
}

func TestGetMissReturnsFalse(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok, err := s.Get("absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutSetsExpiryWithGrace(t *testing.T) {
	s, mr := newTestStore(t)
	resp := &cache.CachedResponse{Status: 200, Body: []byte("x"), StoredAt: time.Now().UTC()}
	require.NoError(t, s.Put("k1", resp, time.Minute))

	ttl := mr.TTL(s.wireKey("k1"))
	assert.Greater(t, ttl, time.Minute)
}

func TestPurgeRemovesMatchingKeys(t *testing.T) {
	s, _ := newTestStore(t)
	resp := &cache.CachedResponse{Status: 200, StoredAt: time.Now().UTC()}
	require.NoError(t, s.Put("get-v1-widgets-1", resp, time.Minute))
	require.NoError(t, s.Put("get-v1-gadgets-1", resp, time.Minute))

	require.NoError(t, s.Purge("get-v1-widgets-*"))

	_, ok, _ := s.Get("get-v1-widgets-1")
	assert.False(t, ok)
	_, ok, _ = s.Get("get-v1-gadgets-1")
	assert.True(t, ok)
}

func TestDeleteRemovesKey(t *testing.T) {
	s, _ := newTestStore(t)
	resp := &cache.CachedResponse{Status: 200, StoredAt: time.Now().UTC()}
	require.NoError(t, s.Put("k1", resp, time.Minute))
	require.NoError(t, s.Delete("k1"))

	_, ok, _ := s.Get("k1")
	assert.False(t, ok)
}
