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

package config

import "github.com/stephenfairchild/relay/internal/rules"

// DefaultPolicy returns the Rule Resolver's default policy: the top-level
// cache.* settings applied when no rule matches a request path.
func (c *Config) DefaultPolicy() rules.Policy {
	return rules.Policy{
		TTL:                  c.Cache.DefaultTTL.Duration(),
		StaleWhileRevalidate: c.Cache.StaleWhileRevalidate.Duration(),
		StaleIfError:         c.Cache.StaleIfError.Duration(),
		AllowSetCookie:       c.Cache.AllowSetCookie,
	}
}

// Rules returns the configured RuleSet in declared order, ready to hand to
// rules.NewResolver.
func (c *Config) Rules() []rules.Rule {
	out := make([]rules.Rule, 0, len(c.Cache.Rules))
	for _, pattern := range c.OrderedRulePatterns {
		rc, ok := c.Cache.Rules[pattern]
		if !ok {
			continue
		}
		r := rules.Rule{Pattern: pattern, Bypass: rc.Bypass, AllowSetCookie: rc.AllowSetCookie}
		if rc.TTL != nil {
			d := rc.TTL.Duration()
			r.TTL = &d
		}
		if rc.Stale != nil {
			d := rc.Stale.Duration()
			r.StaleWhileRevalidate = &d
		}
		if rc.StaleIfError != nil {
			d := rc.StaleIfError.Duration()
			r.StaleIfError = &d
		}
		out = append(out, r)
	}
	return out
}
