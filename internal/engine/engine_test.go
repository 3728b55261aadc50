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

package engine

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephenfairchild/relay/internal/cache/memstore"
	"github.com/stephenfairchild/relay/internal/fingerprint"
	"github.com/stephenfairchild/relay/internal/metrics"
	"github.com/stephenfairchild/relay/internal/rules"
	"github.com/stephenfairchild/relay/internal/upstream"
)

// testClock lets a test move "now" forward deterministically.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(start time.Time) *testClock { return &testClock{t: start} }

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T, origin *httptest.Server, policy rules.Policy, clock *testClock) *Engine {
	t.Helper()
	client, err := upstream.New(upstream.Config{
		BaseURL:        origin.URL,
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		TotalTimeout:   2 * time.Second,
		MaxConnections: 8,
		MaxObjectBytes: 1 << 20,
		Keepalive:      true,
	})
	require.NoError(t, err)

	return New(Config{
		Resolver: rules.NewResolver(policy, nil),
		Builder:  fingerprint.NewBuilder(fingerprint.QueryParams{}),
		Storage:  memstore.New(1 << 20),
		Upstream: client,
		Metrics:  metrics.Nop{},
		Now:      clock.now,
	})
}

func get(t *testing.T, e *Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// S1: cold miss fetches from origin and stores the response.
func TestServeHTTP_ColdMiss(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))
	defer origin.Close()

	clock := newTestClock(time.Now())
	e := newTestEngine(t, origin, rules.Policy{TTL: time.Minute}, clock)

	rec := get(t, e, "/widgets")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

// S2: a repeat request within TTL is served from cache with an Age header
// and never reaches the origin again.
func TestServeHTTP_FreshHit(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("hello"))
	}))
	defer origin.Close()

	clock := newTestClock(time.Now())
	e := newTestEngine(t, origin, rules.Policy{TTL: time.Minute}, clock)

	get(t, e, "/widgets")
	clock.advance(5 * time.Second)
	rec := get(t, e, "/widgets")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "5", rec.Header().Get("Age"))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

// S3: once past ttl but inside swr, the stale entry is served immediately
// and a background fetch refreshes it for the next request.
func TestServeHTTP_StaleWhileRevalidate(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.Write([]byte("v1"))
			return
		}
		w.Write([]byte("v2"))
	}))
	defer origin.Close()

	clock := newTestClock(time.Now())
	e := newTestEngine(t, origin, rules.Policy{TTL: time.Minute, StaleWhileRevalidate: time.Minute}, clock)

	get(t, e, "/widgets")
	clock.advance(90 * time.Second)

	rec := get(t, e, "/widgets")
	assert.Equal(t, "STALE", rec.Header().Get("X-Cache"))
	assert.Equal(t, "revalidating", rec.Header().Get("X-Cache-Reason"))
	assert.Equal(t, "v1", rec.Body.String())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&hits) == 2
	}, time.Second, 5*time.Millisecond)

	clock.advance(time.Millisecond)
	rec2 := get(t, e, "/widgets")
	assert.Equal(t, "v2", rec2.Body.String())
}

// S4: once the ttl+swr window has also passed, an origin failure is still
// masked by stale-if-error as long as the entry is within the sie window.
func TestServeHTTP_StaleIfErrorOnOriginFailure(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			w.Write([]byte("good"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer origin.Close()

	clock := newTestClock(time.Now())
	e := newTestEngine(t, origin, rules.Policy{
		TTL:                  time.Minute,
		StaleWhileRevalidate: 0,
		StaleIfError:         5 * time.Minute,
	}, clock)

	get(t, e, "/widgets")
	clock.advance(2 * time.Minute)

	rec := get(t, e, "/widgets")
	assert.Equal(t, "STALE", rec.Header().Get("X-Cache"))
	assert.Equal(t, "upstream-error", rec.Header().Get("X-Cache-Reason"))
	assert.Equal(t, "good", rec.Body.String())
}

// S5: concurrent requests for the same cold key coalesce into a single
// origin fetch.
func TestServeHTTP_CoalescesConcurrentMisses(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write([]byte("hello"))
	}))
	defer origin.Close()

	clock := newTestClock(time.Now())
	e := newTestEngine(t, origin, rules.Policy{TTL: time.Minute}, clock)

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			rec := get(t, e, "/widgets")
			codes[i] = rec.Code
		}(i)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&hits) >= 1
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

// S6: a bypass rule proxies straight through without consulting storage.
func TestServeHTTP_Bypass(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("live"))
	}))
	defer origin.Close()

	clock := newTestClock(time.Now())
	client, err := upstream.New(upstream.Config{BaseURL: origin.URL, TotalTimeout: time.Second, MaxConnections: 4})
	require.NoError(t, err)

	e := New(Config{
		Resolver: rules.NewResolver(rules.Policy{TTL: time.Minute}, []rules.Rule{
			{Pattern: "/nocache/*", Bypass: true},
		}),
		Builder:  fingerprint.NewBuilder(fingerprint.QueryParams{}),
		Storage:  memstore.New(1 << 20),
		Upstream: client,
		Metrics:  metrics.Nop{},
		Now:      clock.now,
	})

	rec1 := get(t, e, "/nocache/x")
	rec2 := get(t, e, "/nocache/x")
	assert.Equal(t, "BYPASS", rec1.Header().Get("X-Cache"))
	assert.Equal(t, "BYPASS", rec2.Header().Get("X-Cache"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

// A non-GET/HEAD method is never consulted against storage either.
func TestServeHTTP_NonCacheableMethodBypasses(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer origin.Close()

	clock := newTestClock(time.Now())
	e := newTestEngine(t, origin, rules.Policy{TTL: time.Minute}, clock)

	req := httptest.NewRequest(http.MethodPost, "/widgets", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "BYPASS", rec.Header().Get("X-Cache"))
}

// Origin Cache-Control: no-store forbids storage even though the default
// policy carries a TTL.
func TestServeHTTP_OriginNoStoreIsNotCached(t *testing.T) {
	var hits int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Cache-Control", "no-store")
		w.Write([]byte("secret"))
	}))
	defer origin.Close()

	clock := newTestClock(time.Now())
	e := newTestEngine(t, origin, rules.Policy{TTL: time.Minute}, clock)

	get(t, e, "/widgets")
	rec2 := get(t, e, "/widgets")

	assert.Equal(t, "MISS", rec2.Header().Get("X-Cache"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}
