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
	"strings"
	"sync"
)

// varyIndex remembers, per base fingerprint (the key computed with an
// empty vary_signature), which request headers the path's most recent
// origin response named in its Vary header. A request's real lookup/store
// key folds in the values of those headers via the Fingerprint Builder's
// varySignature parameter — the "second lookup with the computed
// signature" strategy the spec allows as an alternative to a two-level
// key, chosen here because it reuses the Builder's existing key shape
// instead of introducing a second storage dimension.
type varyIndex struct {
	mu      sync.RWMutex
	byPath  map[string][]string // base key -> header names from Vary
}

func newVaryIndex() *varyIndex {
	return &varyIndex{byPath: make(map[string][]string)}
}

func (v *varyIndex) lookup(baseKey string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.byPath[baseKey]
}

func (v *varyIndex) record(baseKey, varyHeader string) {
	if varyHeader == "" {
		return
	}
	names := make([]string, 0, 4)
	for _, tok := range strings.Split(varyHeader, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			names = append(names, tok)
		}
	}
	if len(names) == 0 {
		return
	}
	v.mu.Lock()
	v.byPath[baseKey] = names
	v.mu.Unlock()
}

// signature builds the vary_signature string for req given the header
// names a prior response's Vary declared.
func signature(req *http.Request, varyNames []string) string {
	if len(varyNames) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, name := range varyNames {
		if i > 0 {
			sb.WriteByte('\x1f')
		}
		sb.WriteString(strings.ToLower(name))
		sb.WriteByte('=')
		sb.WriteString(req.Header.Get(name))
	}
	return sb.String()
}
