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

package memstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephenfairchild/relay/internal/cache"
)

func respOfSize(n int) *cache.CachedResponse {
	return &cache.CachedResponse{Status: 200, Body: make([]byte, n), StoredAt: time.Now()}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(1 << 20)
	require.NoError(t, s.Put("k1", respOfSize(10), time.Minute))

	got, ok, err := s.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 200, got.Status)
}

func TestGetMissReturnsFalse(t *testing.T) {
	s := New(1 << 20)
	_, ok, err := s.Get("absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOversizedEntryRejectedNonFatally(t *testing.T) {
	s := New(100)
	err := s.Put("big", respOfSize(1000), time.Minute)
	require.NoError(t, err)

	_, ok, _ := s.Get("big")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsedUnderBudget(t *testing.T) {
	s := New(300)
	// respOfSize(36) costs 100 bytes (36 body + 64 fixed overhead), so
	// exactly three entries fit the 300-byte budget.
	require.NoError(t, s.Put("a", respOfSize(36), time.Minute))
	require.NoError(t, s.Put("b", respOfSize(36), time.Minute))
	require.NoError(t, s.Put("c", respOfSize(36), time.Minute))
	// touch "a" so it is more recent than "b"
	_, _, _ = s.Get("a")
	require.NoError(t, s.Put("d", respOfSize(36), time.Minute))

	stats := s.Stats()
	assert.LessOrEqual(t, stats.Bytes, int64(300))
}

func TestDeleteRemovesEntry(t *testing.T) {
	s := New(1 << 20)
	require.NoError(t, s.Put("k1", respOfSize(10), time.Minute))
	require.NoError(t, s.Delete("k1"))

	_, ok, _ := s.Get("k1")
	assert.False(t, ok)
}

func TestPurgeMatchesGlob(t *testing.T) {
	s := New(1 << 20)
	require.NoError(t, s.Put("get-v1-widgets-123", respOfSize(10), time.Minute))
	require.NoError(t, s.Put("get-v1-gadgets-456", respOfSize(10), time.Minute))

	require.NoError(t, s.Purge("get-v1-widgets-*"))

	_, ok, _ := s.Get("get-v1-widgets-123")
	assert.False(t, ok)
	_, ok, _ = s.Get("get-v1-gadgets-456")
	assert.True(t, ok)
}
