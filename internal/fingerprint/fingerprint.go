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

// Package fingerprint builds the CacheKey a request is filed and looked up
// under: method, scheme, authority, path, and a canonicalized query string,
// hashed to a 128-bit digest with a short human-readable prefix.
package fingerprint

import (
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const unitSeparator = "\x1f"

// prefixLen bounds the human-readable "method+path" prefix that rides along
// the hex digest, so long paths don't bloat Redis key names.
const prefixLen = 48

// Sentinel is returned for requests the Engine must never consult the cache
// for: anything that isn't GET or HEAD.
var Sentinel = Key{}

// Key is the opaque identity a CachedResponse is stored and looked up under.
// Two requests differing only in ignored-query-param order or presence
// produce a byte-identical Key.
type Key struct {
	digest [16]byte
	prefix string
}

// IsZero reports whether k is the Sentinel non-cacheable marker.
func (k Key) IsZero() bool { return k == Sentinel }

// String renders the key the way it is stored under in Redis: a short
// human prefix followed by the hex digest, so operators can read keys
// directly off the wire.
func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	return k.prefix + "-" + hex.EncodeToString(k.digest[:])
}

// QueryParams controls canonicalization of the request's query string.
type QueryParams struct {
	Ignore []string
	Sort   bool
}

// Request is the subset of an inbound request the Builder needs.
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string
	RawQuery  string
}

// Builder computes CacheKeys per a fixed QueryParams policy.
type Builder struct {
	ignore map[string]struct{}
	sort   bool
}

// NewBuilder constructs a Builder from the configured ignore list and sort flag.
func NewBuilder(qp QueryParams) *Builder {
	ignore := make(map[string]struct{}, len(qp.Ignore))
	for _, name := range qp.Ignore {
		ignore[name] = struct{}{}
	}
	return &Builder{ignore: ignore, sort: qp.Sort}
}

// Build computes the CacheKey for req. varySignature, when non-empty, is the
// serialized subset of request headers a prior origin response's Vary header
// named; it is folded into the digest so the same URL can carry distinct
// cached variants. Non-GET/HEAD requests yield the Sentinel.
func (b *Builder) Build(req Request, varySignature string) Key {
	method := strings.ToUpper(req.Method)
	if method != "GET" && method != "HEAD" {
		return Sentinel
	}

	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteString(unitSeparator)
	sb.WriteString(strings.ToLower(req.Scheme))
	sb.WriteString(unitSeparator)
	sb.WriteString(strings.ToLower(req.Authority))
	sb.WriteString(unitSeparator)
	sb.WriteString(req.Path)
	sb.WriteString(unitSeparator)
	sb.WriteString(b.canonicalizeQuery(req.RawQuery))
	sb.WriteString(unitSeparator)
	sb.WriteString(varySignature)

	return Key{
		digest: digest128([]byte(sb.String())),
		prefix: humanPrefix(method, req.Path),
	}
}

// canonicalizeQuery drops ignored params, optionally stable-sorts the
// remainder by name then value, and re-encodes while preserving duplicates.
func (b *Builder) canonicalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := parseQuery(raw)
	kept := pairs[:0]
	for _, p := range pairs {
		if _, skip := b.ignore[p.name]; skip {
			continue
		}
		kept = append(kept, p)
	}
	if b.sort {
		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].name != kept[j].name {
				return kept[i].name < kept[j].name
			}
			return kept[i].value < kept[j].value
		})
	}
	return encodeQuery(kept)
}

type queryPair struct{ name, value string }

// parseQuery splits a raw query string into ordered (name, value) pairs,
// preserving duplicate names, unlike url.ParseQuery's map collapsing.
func parseQuery(raw string) []queryPair {
	parts := strings.Split(raw, "&")
	pairs := make([]queryPair, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		name, value := part, ""
		if i := strings.IndexByte(part, '='); i >= 0 {
			name, value = part[:i], part[i+1:]
		}
		n, err1 := url.QueryUnescape(name)
		v, err2 := url.QueryUnescape(value)
		if err1 != nil {
			n = name
		}
		if err2 != nil {
			v = value
		}
		pairs = append(pairs, queryPair{n, v})
	}
	return pairs
}

func encodeQuery(pairs []queryPair) string {
	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.value))
	}
	return sb.String()
}

// digest128 synthesizes a 128-bit non-cryptographic digest from two
// independent xxhash64 passes: one over the raw bytes, one over the bytes
// with a fixed salt prepended. xxhash is the only hash in the dependency
// stack and it is natively 64-bit; two independent seeds give the 128 bits
// of keyspace the builder contract asks for without reaching for an MD5/SHA
// cryptographic hash the spec explicitly says is unnecessary.
func digest128(data []byte) [16]byte {
	var out [16]byte
	h1 := xxhash.Sum64(data)
	h2 := xxhash.Sum64(append([]byte{0xa5}, data...))
	putUint64(out[0:8], h1)
	putUint64(out[8:16], h2)
	return out
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

// humanPrefix builds the short "method+path" operator-readable prefix.
func humanPrefix(method, path string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '/' || r == '-' || r == '_':
			return '-'
		default:
			return -1
		}
	}, path)
	s := strings.ToLower(method) + "-" + strings.Trim(clean, "-")
	if len(s) > prefixLen {
		s = s[:prefixLen]
	}
	return strings.Trim(s, "-")
}
