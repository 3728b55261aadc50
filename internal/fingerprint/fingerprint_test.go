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

package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildIgnoresOrderAndIgnoredParams(t *testing.T) {
	b := NewBuilder(QueryParams{Ignore: []string{"utm_source"}, Sort: true})

	k1 := b.Build(Request{Method: "GET", Scheme: "HTTPS", Authority: "Example.com", Path: "/a", RawQuery: "b=2&a=1&utm_source=x"}, "")
	k2 := b.Build(Request{Method: "get", Scheme: "https", Authority: "example.com", Path: "/a", RawQuery: "a=1&utm_source=y&b=2"}, "")

	assert.Equal(t, k1, k2)
	assert.False(t, k1.IsZero())
}

func TestBuildWithoutSortPreservesOrder(t *testing.T) {
	b := NewBuilder(QueryParams{Sort: false})

	k1 := b.Build(Request{Method: "GET", Scheme: "https", Authority: "example.com", Path: "/a", RawQuery: "b=2&a=1"}, "")
	k2 := b.Build(Request{Method: "GET", Scheme: "https", Authority: "example.com", Path: "/a", RawQuery: "a=1&b=2"}, "")

	assert.NotEqual(t, k1, k2)
}

func TestBuildNonCacheableMethodReturnsSentinel(t *testing.T) {
	b := NewBuilder(QueryParams{})
	k := b.Build(Request{Method: "POST", Path: "/a"}, "")
	assert.True(t, k.IsZero())
	assert.Equal(t, Sentinel, k)
}

func TestBuildVarySignatureChangesKey(t *testing.T) {
	b := NewBuilder(QueryParams{})
	req := Request{Method: "GET", Path: "/a"}

	k1 := b.Build(req, "")
	k2 := b.Build(req, "gzip")

	assert.NotEqual(t, k1, k2)
}

func TestKeyStringCarriesReadablePrefix(t *testing.T) {
	b := NewBuilder(QueryParams{})
	k := b.Build(Request{Method: "GET", Path: "/v1/widgets/42"}, "")
	assert.Contains(t, k.String(), "get-v1-widgets-42")
}
