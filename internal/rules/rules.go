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

// Package rules resolves a request path into an effective caching Policy by
// walking an ordered set of glob-pattern rules.
package rules

import (
	"time"
)

// Policy is the resolved set of caching parameters for a request path.
type Policy struct {
	Bypass       bool
	TTL          time.Duration
	StaleWhileRevalidate time.Duration
	StaleIfError time.Duration
	// AllowSetCookie permits a Set-Cookie response header to survive into
	// a stored entry; absent this, the Cache Engine strips it (§4.9).
	AllowSetCookie bool
}

// Rule is one entry of the ordered RuleSet, keyed by its glob pattern.
type Rule struct {
	Pattern      string
	Bypass       bool
	TTL          *time.Duration
	StaleWhileRevalidate *time.Duration
	StaleIfError *time.Duration
	AllowSetCookie bool
}

// Resolver holds the ordered RuleSet and the default Policy rules overlay
// onto.
type Resolver struct {
	rules   []compiledRule
	dflt    Policy
}

type compiledRule struct {
	matcher glob
	rule    Rule
}

// NewResolver compiles rules in declared order against the given default
// policy. Order is significant: resolve() uses the first match.
func NewResolver(dflt Policy, ordered []Rule) *Resolver {
	r := &Resolver{dflt: dflt}
	for _, rule := range ordered {
		r.rules = append(r.rules, compiledRule{matcher: compileGlob(rule.Pattern), rule: rule})
	}
	return r
}

// Resolve scans the RuleSet in declared order and overlays the first
// matching rule's fields on the default Policy. An unmatched path returns
// the default Policy unchanged.
func (r *Resolver) Resolve(path string) Policy {
	p, _ := r.ResolveExplicit(path)
	return p
}

// ResolveExplicit is Resolve plus a flag telling the caller whether a
// matched rule explicitly set TTL, so the Engine can decide whether an
// origin's Cache-Control max-age is still allowed to fill it in.
func (r *Resolver) ResolveExplicit(path string) (Policy, bool) {
	p := r.dflt
	for _, cr := range r.rules {
		if !cr.matcher.match(path) {
			continue
		}
		if cr.rule.Bypass {
			p.Bypass = true
			return p, false
		}
		explicitTTL := cr.rule.TTL != nil
		if explicitTTL {
			p.TTL = *cr.rule.TTL
		}
		if cr.rule.StaleWhileRevalidate != nil {
			p.StaleWhileRevalidate = *cr.rule.StaleWhileRevalidate
		}
		if cr.rule.StaleIfError != nil {
			p.StaleIfError = *cr.rule.StaleIfError
		}
		if cr.rule.AllowSetCookie {
			p.AllowSetCookie = true
		}
		return p, explicitTTL
	}
	return p, false
}
