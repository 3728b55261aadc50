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

package rules

// glob is a compiled rule pattern. The grammar is bespoke to the rule
// resolver, not doublestar's: `*` matches a run of non-`/` characters,
// except when it is the final segment of the pattern, where it matches
// through `/` as well. `?` matches exactly one non-`/` character. Every
// other byte is literal. Patterns are always anchored at the leading `/`.
type glob struct {
	pattern string
}

func compileGlob(pattern string) glob {
	return glob{pattern: pattern}
}

// match reports whether path satisfies the pattern under the grammar above.
// It is a straightforward recursive backtracking matcher; rule sets are
// small and evaluated once per request, so this favors clarity over a
// compiled automaton.
func (g glob) match(path string) bool {
	return matchAt(g.pattern, path)
}

func matchAt(pattern, path string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			if len(pattern) == 1 {
				// Final segment: matches the remainder of the path, slashes included.
				return true
			}
			// Non-final '*': matches a run of non-'/' characters only. Try every
			// split point up to (and including) the first '/' or end of path.
			rest := pattern[1:]
			limit := len(path)
			for i := 0; i < len(path); i++ {
				if path[i] == '/' {
					limit = i
					break
				}
			}
			for i := 0; i <= limit; i++ {
				if matchAt(rest, path[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(path) == 0 || path[0] == '/' {
				return false
			}
			pattern, path = pattern[1:], path[1:]
		default:
			if len(path) == 0 || path[0] != pattern[0] {
				return false
			}
			pattern, path = pattern[1:], path[1:]
		}
	}
	return len(path) == 0
}
