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

// Package upstream implements the Upstream Client (§4.6): a single
// keepalive pool to the configured origin, conditional revalidation
// headers, and a small outcome type the Cache Engine switches on.
package upstream

import (
	"context"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stephenfairchild/relay/internal/cache"
	"github.com/stephenfairchild/relay/internal/logging"
)

// OutcomeKind identifies which of the five Upstream Client outcomes a
// fetch produced.
type OutcomeKind int

const (
	// Fresh is any 2xx origin response, body materialized in memory.
	Fresh OutcomeKind = iota
	// NotModified is a 304 with no body.
	NotModified
	// OriginError is a transport-level failure or an operator-classified
	// 5xx.
	OriginError
	// NonCacheable is an origin response whose headers forbid caching.
	NonCacheable
	// OversizeBody is an origin response whose body exceeded
	// max_object_size. The full body still rides along in Outcome.Body so
	// the Engine can proxy it through; the Engine must not store it (§7).
	OversizeBody
)

// Outcome is what fetch() returns.
type Outcome struct {
	Kind     OutcomeKind
	Status   int
	Headers  []cache.Header
	Body     []byte
	ErrKind  string // e.g. "connect", "tls", "dns", "read_timeout", "write_timeout", "5xx"
	Err      error
}

// Request is the subset of the inbound request the Upstream Client needs
// to build and dispatch the forward request.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
}

// Validators, present on a revalidation fetch, are added as If-None-Match
// and If-Modified-Since.
type Validators struct {
	ETag         string
	LastModified string
}

// Config controls the Upstream Client's connection pool and limits.
type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TotalTimeout   time.Duration
	MaxConnections int
	MaxObjectBytes int64
	Keepalive      bool
}

// Client is the Upstream Client.
type Client struct {
	base *url.URL
	http *http.Client

	maxObjectBytes int64
	totalTimeout   time.Duration
}

// New constructs a Client with a single keepalive pool sized per cfg.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxConnections,
		MaxConnsPerHost:     cfg.MaxConnections,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.Keepalive,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}

	return &Client{
		base:           base,
		http:           &http.Client{Transport: transport, Timeout: cfg.TotalTimeout},
		maxObjectBytes: cfg.MaxObjectBytes,
		totalTimeout:   cfg.TotalTimeout,
	}, nil
}

// Fetch issues a forward request to the configured origin, optionally
// adding conditional validators, and classifies the result into one of
// the five Upstream Client outcomes.
func (c *Client) Fetch(ctx context.Context, r Request, validators *Validators) Outcome {
	if c.totalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.totalTimeout)
		defer cancel()
	}

	target := *c.base
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), nil)
	if err != nil {
		return Outcome{Kind: OriginError, ErrKind: "request", Err: err}
	}
	req.Header = r.Header.Clone()
	if validators != nil {
		if validators.ETag != "" {
			req.Header.Set("If-None-Match", validators.ETag)
		}
		if validators.LastModified != "" {
			req.Header.Set("If-Modified-Since", validators.LastModified)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logging.Error("upstream fetch failed", logging.Pairs{"url": target.String(), "error": err.Error()})
		return Outcome{Kind: OriginError, ErrKind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return Outcome{Kind: NotModified, Status: resp.StatusCode, Headers: toHeaders(resp.Header)}
	}

	if hasNoStore(resp.Header) {
		body, oversized, _ := readLimited(resp.Body, c.maxObjectBytes)
		if oversized {
			return Outcome{Kind: OversizeBody, Status: resp.StatusCode, Headers: toHeaders(resp.Header), Body: body}
		}
		return Outcome{Kind: NonCacheable, Status: resp.StatusCode, Headers: toHeaders(resp.Header), Body: body}
	}

	if resp.StatusCode >= 500 {
		return Outcome{Kind: OriginError, ErrKind: "5xx", Status: resp.StatusCode, Headers: toHeaders(resp.Header)}
	}

	body, oversized, err := readLimited(resp.Body, c.maxObjectBytes)
	if err != nil {
		return Outcome{Kind: OriginError, ErrKind: "read_timeout", Err: err}
	}

	elapsed := time.Since(start)
	logging.Debug("upstream fetch completed", logging.Pairs{"url": target.String(), "status": resp.StatusCode, "elapsed_ms": elapsed.Milliseconds()})

	if oversized {
		return Outcome{Kind: OversizeBody, Status: resp.StatusCode, Headers: toHeaders(resp.Header), Body: body}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Outcome{Kind: Fresh, Status: resp.StatusCode, Headers: toHeaders(resp.Header), Body: body}
	}
	return Outcome{Kind: NonCacheable, Status: resp.StatusCode, Headers: toHeaders(resp.Header), Body: body}
}

// Ping issues a lightweight HEAD request to the configured origin's root,
// used by the health endpoint to report upstream reachability. It does not
// go through the cache or the Outcome classification: a health check cares
// only whether the origin is reachable at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// readLimited reads r in full, reporting whether it exceeded max bytes. A
// response that overruns max still has its complete body returned (never
// truncated) so the Engine can proxy it through intact; only whether to
// store it depends on the oversized flag.
func readLimited(r io.Reader, max int64) (body []byte, oversized bool, err error) {
	if max <= 0 {
		body, err = ioutil.ReadAll(r)
		return body, false, err
	}
	head, err := ioutil.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(head)) <= max {
		return head, false, nil
	}
	rest, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	return append(head, rest...), true, nil
}

func hasNoStore(h http.Header) bool {
	cc := strings.ToLower(h.Get("Cache-Control"))
	return strings.Contains(cc, "no-store")
}

func toHeaders(h http.Header) []cache.Header {
	out := make([]cache.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, cache.Header{Name: name, Value: v})
		}
	}
	return out
}

func classifyTransportError(err error) string {
	switch {
	case isTimeout(err):
		return "read_timeout"
	case strings.Contains(err.Error(), "connection refused"):
		return "connect"
	case strings.Contains(err.Error(), "tls"):
		return "tls"
	case strings.Contains(err.Error(), "no such host"):
		return "dns"
	default:
		return "transport"
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if t, ok := err.(timeout); ok {
		return t.Timeout()
	}
	return false
}
