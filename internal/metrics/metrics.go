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

// Package metrics implements the Metrics Sink interface (§6) that the Cache
// Engine emits events to, backed by client_golang collectors registered on
// the prometheus.Registerer passed to New.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink is the interface the Cache Engine emits observability events to.
// It is implemented by *Prometheus and by a nop Sink usable in tests.
type Sink interface {
	CacheHit()
	CacheMiss()
	StaleServed(reason string)
	UpstreamError()
	Bypass()
	NonCacheable()
	SetCacheSize(bytes float64)
	SetCacheItems(items float64)
	ObserveHTTPDuration(seconds float64)
	ObserveUpstreamDuration(seconds float64)
}

// Prometheus is the Sink implementation backing the /metrics endpoint.
type Prometheus struct {
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	StaleServedTotal  *prometheus.CounterVec
	UpstreamErrors    prometheus.Counter
	BypassTotal       prometheus.Counter
	NonCacheableTotal prometheus.Counter
	CacheSizeBytes    prometheus.Gauge
	CacheItemsTotal   prometheus.Gauge
	HTTPDuration      prometheus.Histogram
	UpstreamDuration  prometheus.Histogram
}

// New registers Relay's Prometheus collectors against reg and returns a Sink.
func New(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_cache_hits_total",
			Help: "Count of requests served from a fresh cache entry.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_cache_misses_total",
			Help: "Count of requests that required an origin fetch.",
		}),
		StaleServedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_cache_stale_served_total",
			Help: "Count of stale cache entries served, by reason.",
		}, []string{"reason"}),
		UpstreamErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_errors_total",
			Help: "Count of failed origin fetches.",
		}),
		BypassTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_bypass_total",
			Help: "Count of requests proxied without consulting the cache.",
		}),
		NonCacheableTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_non_cacheable_total",
			Help: "Count of origin responses that forbade caching.",
		}),
		CacheSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_cache_size_bytes",
			Help: "Approximate number of bytes currently held by the storage backend.",
		}),
		CacheItemsTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_cache_items_total",
			Help: "Number of objects currently held by the storage backend.",
		}),
		HTTPDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Latency of the full inbound request, cache or origin served.",
			Buckets: prometheus.DefBuckets,
		}),
		UpstreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_upstream_request_duration_seconds",
			Help:    "Latency of requests forwarded to the upstream origin.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (p *Prometheus) CacheHit()             { p.CacheHits.Inc() }
func (p *Prometheus) CacheMiss()            { p.CacheMisses.Inc() }
func (p *Prometheus) StaleServed(r string)  { p.StaleServedTotal.WithLabelValues(r).Inc() }
func (p *Prometheus) UpstreamError()        { p.UpstreamErrors.Inc() }
func (p *Prometheus) Bypass()               { p.BypassTotal.Inc() }
func (p *Prometheus) NonCacheable()         { p.NonCacheableTotal.Inc() }
func (p *Prometheus) SetCacheSize(b float64) { p.CacheSizeBytes.Set(b) }
func (p *Prometheus) SetCacheItems(n float64) { p.CacheItemsTotal.Set(n) }
func (p *Prometheus) ObserveHTTPDuration(s float64) { p.HTTPDuration.Observe(s) }
func (p *Prometheus) ObserveUpstreamDuration(s float64) { p.UpstreamDuration.Observe(s) }

// TrackingSink wraps another Sink and additionally keeps a local hit/miss
// tally the health endpoint reads for its hit_ratio figure, without having
// to scrape the Prometheus registry back out.
type TrackingSink struct {
	Sink
	hits   uint64
	misses uint64
}

// NewTrackingSink wraps inner, forwarding every call and tallying
// hits/misses locally.
func NewTrackingSink(inner Sink) *TrackingSink {
	return &TrackingSink{Sink: inner}
}

func (t *TrackingSink) CacheHit() {
	atomic.AddUint64(&t.hits, 1)
	t.Sink.CacheHit()
}

func (t *TrackingSink) CacheMiss() {
	atomic.AddUint64(&t.misses, 1)
	t.Sink.CacheMiss()
}

// HitRatio returns hits / (hits + misses), or 0 if nothing has been
// observed yet.
func (t *TrackingSink) HitRatio() float64 {
	hits := atomic.LoadUint64(&t.hits)
	misses := atomic.LoadUint64(&t.misses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Nop is a Sink that discards every event, used by tests that don't care
// about metrics side effects.
type Nop struct{}

func (Nop) CacheHit()                     {}
func (Nop) CacheMiss()                    {}
func (Nop) StaleServed(string)            {}
func (Nop) UpstreamError()                {}
func (Nop) Bypass()                       {}
func (Nop) NonCacheable()                 {}
func (Nop) SetCacheSize(float64)          {}
func (Nop) SetCacheItems(float64)         {}
func (Nop) ObserveHTTPDuration(float64)   {}
func (Nop) ObserveUpstreamDuration(float64) {}
