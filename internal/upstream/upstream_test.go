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

package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	c, err := New(Config{
		BaseURL:        srv.URL,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		TotalTimeout:   2 * time.Second,
		MaxConnections: 4,
		MaxObjectBytes: 1 << 20,
	})
	require.NoError(t, err)
	return c
}

func TestFetch2xxIsFresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out := c.Fetch(context.Background(), Request{Method: "GET", URL: mustURL(t, "/a")}, nil)

	assert.Equal(t, Fresh, out.Kind)
	assert.Equal(t, []byte("hello"), out.Body)
}

func TestFetch304IsNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out := c.Fetch(context.Background(), Request{Method: "GET", URL: mustURL(t, "/a")}, &Validators{ETag: `"v1"`})

	assert.Equal(t, NotModified, out.Kind)
	assert.Nil(t, out.Body)
}

func TestFetch5xxIsOriginError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out := c.Fetch(context.Background(), Request{Method: "GET", URL: mustURL(t, "/a")}, nil)

	assert.Equal(t, OriginError, out.Kind)
	assert.Equal(t, "5xx", out.ErrKind)
}

func TestFetchNoStoreIsNonCacheable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("secret"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out := c.Fetch(context.Background(), Request{Method: "GET", URL: mustURL(t, "/a")}, nil)

	assert.Equal(t, NonCacheable, out.Kind)
}

func TestFetchConnectionRefusedIsOriginError(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1", ConnectTimeout: 100 * time.Millisecond, TotalTimeout: 200 * time.Millisecond})
	require.NoError(t, err)

	out := c.Fetch(context.Background(), Request{Method: "GET", URL: mustURL(t, "/a")}, nil)
	assert.Equal(t, OriginError, out.Kind)
}

func mustURL(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
