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
	"strconv"
	"strings"
	"time"

	"github.com/stephenfairchild/relay/internal/rules"
)

// originDirectives is what §4.10 extracts from an origin Cache-Control
// header.
type originDirectives struct {
	noStore bool
	private bool
	maxAge  *time.Duration
	swr     *time.Duration
	sie     *time.Duration
}

func parseCacheControl(header string) originDirectives {
	var d originDirectives
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value := part, ""
		if i := strings.IndexByte(part, '='); i >= 0 {
			name, value = part[:i], strings.Trim(part[i+1:], `"`)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "no-store":
			d.noStore = true
		case "private":
			d.private = true
		case "max-age":
			if n, err := strconv.Atoi(value); err == nil {
				dur := time.Duration(n) * time.Second
				d.maxAge = &dur
			}
		case "stale-while-revalidate":
			if n, err := strconv.Atoi(value); err == nil {
				dur := time.Duration(n) * time.Second
				d.swr = &dur
			}
		case "stale-if-error":
			if n, err := strconv.Atoi(value); err == nil {
				dur := time.Duration(n) * time.Second
				d.sie = &dur
			}
		}
	}
	return d
}

// applyOriginDirectives overlays origin Cache-Control onto the already
// rule-resolved policy. Explicit operator policy (a TTL set by a matched
// rule) takes precedence over what the origin advises; directives only
// fill in what the operator left to the origin's discretion. no-store and
// private make the response non-cacheable in every case.
func applyOriginDirectives(policy rules.Policy, ruleSetTTL bool, d originDirectives) (rules.Policy, bool) {
	if d.noStore || d.private {
		return policy, true // non-cacheable
	}
	if ruleSetTTL {
		return policy, false
	}
	if d.maxAge != nil {
		policy.TTL = *d.maxAge
	}
	if d.swr != nil {
		policy.StaleWhileRevalidate = *d.swr
	}
	if d.sie != nil {
		policy.StaleIfError = *d.sie
	}
	return policy, false
}
