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
	"strconv"
	"strings"
	"time"

	"github.com/stephenfairchild/relay/internal/cache"
)

// hopByHop headers are never carried into a stored entry; Connection may
// also name additional per-connection headers to drop, handled by
// stripHopByHop.
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// stripHopByHop filters headers destined for storage: hop-by-hop headers
// and, absent an explicit policy allowance, Set-Cookie.
func stripHopByHop(h http.Header, allowSetCookie bool) []cache.Header {
	out := make([]cache.Header, 0, len(h))
	extra := connectionTokens(h)
	for name, values := range h {
		lower := strings.ToLower(name)
		if _, drop := hopByHop[lower]; drop {
			continue
		}
		if _, drop := extra[lower]; drop {
			continue
		}
		if lower == "set-cookie" && !allowSetCookie {
			continue
		}
		for _, v := range values {
			out = append(out, cache.Header{Name: name, Value: v})
		}
	}
	return out
}

// connectionTokens returns the lowercased set of header names the
// Connection header itself names for removal.
func connectionTokens(h http.Header) map[string]struct{} {
	out := make(map[string]struct{})
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			out[strings.ToLower(strings.TrimSpace(tok))] = struct{}{}
		}
	}
	return out
}

// writeCacheHeaders applies the Cache Engine's own response headers: the
// one of HIT/MISS/STALE/BYPASS status, an optional reason, and Age on
// cache reads.
func writeCacheHeaders(w http.ResponseWriter, status string, reason string, age time.Duration, hasAge bool) {
	w.Header().Set("X-Cache", status)
	if reason != "" {
		w.Header().Set("X-Cache-Reason", reason)
	}
	if hasAge {
		w.Header().Set("Age", strconv.Itoa(int(age.Seconds())))
	}
}

// applyStoredHeaders copies a CachedResponse's stored headers onto w
// unfiltered; callers run writeCacheHeaders afterward, which replaces
// X-Cache (and X-Cache-Reason and Age when it sets them).
func applyStoredHeaders(w http.ResponseWriter, headers []cache.Header) {
	for _, h := range headers {
		w.Header().Add(h.Name, h.Value)
	}
}

func headerValue(headers []cache.Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}
