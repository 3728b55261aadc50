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

// Package engine implements the Cache Engine (§4.9): the orchestrator that
// composes the Fingerprint Builder, Rule Resolver, Storage, Freshness
// Classifier, Coalescer, and Upstream Client into the request-handling
// state machine Received → KeyBuilt → PolicyResolved → Lookup → Classify →
// Serve|Fetch → Record → Done.
package engine

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/stephenfairchild/relay/internal/cache"
	"github.com/stephenfairchild/relay/internal/classify"
	"github.com/stephenfairchild/relay/internal/coalesce"
	"github.com/stephenfairchild/relay/internal/fingerprint"
	"github.com/stephenfairchild/relay/internal/logging"
	"github.com/stephenfairchild/relay/internal/metrics"
	"github.com/stephenfairchild/relay/internal/rules"
	"github.com/stephenfairchild/relay/internal/upstream"
)

// Clock abstracts "now" so tests can control age math directly; the
// default is time.Now.
type Clock func() time.Time

// Config wires the Engine's collaborators together.
type Config struct {
	Resolver   *rules.Resolver
	Builder    *fingerprint.Builder
	Storage    cache.Storage
	Upstream   *upstream.Client
	Metrics    metrics.Sink
	Now        Clock
	Grace      time.Duration // not read by the Engine; softExpiry adds no grace (redisstore applies its own)
}

// Engine is the Cache Engine orchestrator.
type Engine struct {
	resolver *rules.Resolver
	builder  *fingerprint.Builder
	storage  cache.Storage
	upstream *upstream.Client
	coalescer *coalesce.Group
	metrics  metrics.Sink
	now      Clock
	vary     *varyIndex
}

// New constructs an Engine from cfg.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		resolver:       cfg.Resolver,
		builder:        cfg.Builder,
		storage:        cfg.Storage,
		upstream:       cfg.Upstream,
		coalescer:      coalesce.NewGroup(),
		metrics:        cfg.Metrics,
		now:            now,
		vary:           newVaryIndex(),
	}
}

// ServeHTTP implements the full request state machine described in §4.9.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := e.now()
	defer func() {
		e.metrics.ObserveHTTPDuration(e.now().Sub(start).Seconds())
	}()

	// 1. Receive: only GET/HEAD are cache-eligible.
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		e.bypass(w, r)
		return
	}

	// 2. Policy.
	policy, explicitTTL := e.resolver.ResolveExplicit(r.URL.Path)
	if policy.Bypass {
		e.bypass(w, r)
		return
	}

	// 3. Fingerprint, folding in any previously-learned Vary header.
	baseKey := e.builder.Build(toFingerprintRequest(r), "").String()
	varyNames := e.vary.lookup(baseKey)
	sig := signature(r, varyNames)
	key := e.builder.Build(toFingerprintRequest(r), sig).String()

	// 4. Lookup.
	entry, found, err := e.storage.Get(key)
	if err != nil {
		logging.Warn("storage lookup failed, treating as miss", logging.Pairs{"key": key, "error": err.Error()})
		found = false
	}

	if found {
		// 5. Classify against the policy's windows (policy wins over the
		// stored entry's own ttl/swr/sie when they differ).
		age := entry.Age(e.now())
		windows := classify.Windows{TTL: policy.TTL, StaleWhileRevalidate: policy.StaleWhileRevalidate, StaleIfError: policy.StaleIfError}
		class := classify.Classify(age, windows, false)

		switch class {
		case classify.Fresh:
			e.serveFresh(w, r, entry, age)
			return
		case classify.StaleRevalidating:
			e.serveStaleRevalidating(w, r, key, baseKey, entry, age, policy)
			return
		}
		// StaleErrorOnly only applies in an error context, which a plain
		// lookup (no preceding failed fetch) never is; Expired and the
		// remaining non-error StaleErrorOnly case both fall through to miss.
	}

	// 8. Expired / Miss.
	e.serveMissOrExpired(w, r, key, baseKey, entry, policy, explicitTTL)
}

func toFingerprintRequest(r *http.Request) fingerprint.Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fingerprint.Request{
		Method:    r.Method,
		Scheme:    scheme,
		Authority: r.Host,
		Path:      r.URL.Path,
		RawQuery:  r.URL.RawQuery,
	}
}

// fetchUpstream wraps upstream.Client.Fetch, recording the call's wall time
// against relay_upstream_request_duration_seconds regardless of which of
// the Engine's call sites (bypass, miss/expired, background revalidation)
// triggered it.
func (e *Engine) fetchUpstream(ctx context.Context, req upstream.Request, validators *upstream.Validators) upstream.Outcome {
	start := e.now()
	out := e.upstream.Fetch(ctx, req, validators)
	e.metrics.ObserveUpstreamDuration(e.now().Sub(start).Seconds())
	return out
}

func (e *Engine) bypass(w http.ResponseWriter, r *http.Request) {
	e.metrics.Bypass()
	out := e.fetchUpstream(r.Context(), upstream.Request{Method: r.Method, URL: r.URL, Header: r.Header}, nil)
	writeCacheHeaders(w, "BYPASS", "", 0, false)
	writeUpstreamOutcome(w, out)
	logging.Info("bypass", logging.Pairs{"path": r.URL.Path, "method": r.Method})
}

func (e *Engine) serveFresh(w http.ResponseWriter, r *http.Request, entry *cache.CachedResponse, age time.Duration) {
	e.metrics.CacheHit()
	if notModified(r, entry) {
		writeCacheHeaders(w, "HIT", "", age, true)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	applyStoredHeaders(w, entry.Headers)
	writeCacheHeaders(w, "HIT", "", age, true)
	w.WriteHeader(entry.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(entry.Body)
	}
}

func (e *Engine) serveStaleRevalidating(w http.ResponseWriter, r *http.Request, key, baseKey string, entry *cache.CachedResponse, age time.Duration, policy rules.Policy) {
	e.metrics.StaleServed("revalidating")
	applyStoredHeaders(w, entry.Headers)
	writeCacheHeaders(w, "STALE", "revalidating", age, true)
	w.WriteHeader(entry.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(entry.Body)
	}

	if start, done := e.coalescer.BeginBackground(key); start {
		req := cloneForBackground(r)
		go e.revalidateInBackground(req, key, baseKey, entry, policy, done)
	}
}

// revalidateInBackground is the detached task §9's Design Notes call for:
// it outlives the inbound request and runs to completion or its own
// deadline, never interleaving with another background refresh for the
// same key because BeginBackground admits only one at a time.
func (e *Engine) revalidateInBackground(r *http.Request, key, baseKey string, entry *cache.CachedResponse, policy rules.Policy, done func()) {
	defer done()

	validators := extractValidators(entry.Headers)
	out := e.fetchUpstream(context.Background(), upstream.Request{Method: r.Method, URL: r.URL, Header: r.Header}, &validators)

	switch out.Kind {
	case upstream.NotModified:
		refreshed := *entry
		refreshed.StoredAt = e.now()
		if err := e.storage.Put(key, &refreshed, softExpiry(policy)); err != nil {
			logging.Warn("background revalidation store failed", logging.Pairs{"key": key, "error": err.Error()})
		}
	case upstream.Fresh:
		e.recordVary(baseKey, out.Headers)
		updated := buildCachedResponse(out, policy, e.now())
		if err := e.storage.Put(key, updated, softExpiry(policy)); err != nil {
			logging.Warn("background revalidation store failed", logging.Pairs{"key": key, "error": err.Error()})
		}
	default:
		logging.Debug("background revalidation did not refresh entry", logging.Pairs{"key": key, "kind": out.Kind})
	}
}

func (e *Engine) serveMissOrExpired(w http.ResponseWriter, r *http.Request, key, baseKey string, stale *cache.CachedResponse, policy rules.Policy, explicitTTL bool) {
	leader, follower := e.coalescer.BeginOrigin(r.Context(), key)
	if follower != nil {
		out, err := follower.Wait(r.Context())
		if err != nil {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
			return
		}
		served, _ := out.Value.(servedResult)
		writeServedResult(w, r, served)
		return
	}

	var validators *cache.Validators
	if stale != nil {
		v := extractValidators(stale.Headers)
		validators = &v
	}

	out := e.fetchUpstream(leader.Context(), upstream.Request{Method: r.Method, URL: r.URL, Header: r.Header}, toUpstreamValidators(validators))

	result := e.handleUpstreamOutcome(w, r, key, baseKey, stale, policy, explicitTTL, out)
	leader.Publish(coalesce.Outcome{Value: result})
	writeServedResult(w, r, result)
}

// servedResult is what a leader publishes and a follower replays: enough
// to reconstruct the response a follower should serve as its own copy.
type servedResult struct {
	status  int
	headers []cache.Header
	body    []byte
	cacheStatus string
	reason      string
	age         time.Duration
	hasAge      bool
}

func (e *Engine) handleUpstreamOutcome(w http.ResponseWriter, r *http.Request, key, baseKey string, stale *cache.CachedResponse, policy rules.Policy, explicitTTL bool, out upstream.Outcome) servedResult {
	switch out.Kind {
	case upstream.Fresh:
		e.metrics.CacheMiss()
		e.recordVary(baseKey, out.Headers)
		cc := parseCacheControl(firstHeader(out.Headers, "Cache-Control"))
		effective, nonCacheable := applyOriginDirectives(policy, explicitTTL, cc)
		if nonCacheable {
			e.metrics.NonCacheable()
			return servedResult{status: out.Status, headers: out.Headers, body: out.Body, cacheStatus: "MISS"}
		}
		resp := buildCachedResponse(out, effective, e.now())
		if err := e.storage.Put(key, resp, softExpiry(effective)); err != nil {
			logging.Warn("storage write failed", logging.Pairs{"key": key, "error": err.Error()})
		}
		return servedResult{status: out.Status, headers: out.Headers, body: out.Body, cacheStatus: "MISS"}

	case upstream.OversizeBody:
		// §7: proxy through without storing, regardless of what the rest of
		// the response's headers would otherwise have permitted.
		logging.Warn("origin body exceeded max_object_size, proxying without storing", logging.Pairs{"key": key, "bytes": len(out.Body)})
		return servedResult{status: out.Status, headers: out.Headers, body: out.Body, cacheStatus: "MISS"}

	case upstream.NotModified:
		e.metrics.CacheHit()
		if stale != nil {
			refreshed := *stale
			refreshed.StoredAt = e.now()
			_ = e.storage.Put(key, &refreshed, softExpiry(policy))
			return servedResult{status: refreshed.Status, headers: refreshed.Headers, body: refreshed.Body, cacheStatus: "HIT", age: 0, hasAge: true}
		}
		return servedResult{status: http.StatusNotModified, headers: out.Headers, cacheStatus: "MISS"}

	case upstream.OriginError:
		e.metrics.UpstreamError()
		if stale != nil {
			age := stale.Age(e.now())
			maxSie := policy.TTL + policy.StaleIfError
			if age <= maxSie {
				e.metrics.StaleServed("upstream-error")
				return servedResult{status: stale.Status, headers: stale.Headers, body: stale.Body, cacheStatus: "STALE", reason: "upstream-error", age: age, hasAge: true}
			}
		}
		return servedResult{status: http.StatusBadGateway, cacheStatus: "MISS"}

	default: // NonCacheable
		e.metrics.NonCacheable()
		return servedResult{status: out.Status, headers: out.Headers, body: out.Body, cacheStatus: "MISS"}
	}
}

func writeServedResult(w http.ResponseWriter, r *http.Request, res servedResult) {
	applyStoredHeaders(w, res.headers)
	writeCacheHeaders(w, res.cacheStatus, res.reason, res.age, res.hasAge)
	status := res.status
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(res.body)
	}
}

func writeUpstreamOutcome(w http.ResponseWriter, out upstream.Outcome) {
	applyStoredHeaders(w, out.Headers)
	status := out.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	_, _ = w.Write(out.Body)
}

func (e *Engine) recordVary(baseKeyOrKey string, headers []cache.Header) {
	v, _ := headerValue(headers, "Vary")
	e.vary.record(baseKeyOrKey, v)
}

func buildCachedResponse(out upstream.Outcome, policy rules.Policy, now time.Time) *cache.CachedResponse {
	h := make(http.Header)
	for _, hdr := range out.Headers {
		h.Add(hdr.Name, hdr.Value)
	}
	return &cache.CachedResponse{
		Status:               out.Status,
		Headers:              stripHopByHop(h, policy.AllowSetCookie),
		Body:                 out.Body,
		StoredAt:             now,
		TTL:                  policy.TTL,
		StaleWhileRevalidate: policy.StaleWhileRevalidate,
		StaleIfError:         policy.StaleIfError,
		Validators:           extractValidators(out.Headers),
	}
}

func toUpstreamValidators(v *cache.Validators) *upstream.Validators {
	if v == nil {
		return nil
	}
	return &upstream.Validators{ETag: v.ETag, LastModified: v.LastModified}
}

func firstHeader(headers []cache.Header, name string) string {
	v, _ := headerValue(headers, name)
	return v
}

func softExpiry(policy rules.Policy) time.Duration {
	if policy.StaleWhileRevalidate > policy.StaleIfError {
		return policy.TTL + policy.StaleWhileRevalidate
	}
	return policy.TTL + policy.StaleIfError
}

// cloneForBackground copies the bits of the inbound request a detached
// background task needs, since the original request's context ends with
// the client connection.
func cloneForBackground(r *http.Request) *http.Request {
	clone := r.Clone(context.Background())
	clone.Body = nopBody{}
	return clone
}

type nopBody struct{}

func (nopBody) Read(p []byte) (int, error) { return 0, io.EOF }
func (nopBody) Close() error               { return nil }
