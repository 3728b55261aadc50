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

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// durationUnits maps the grammar's single-letter suffix to its time.Duration multiplier.
var durationUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// parseDuration parses the duration literal grammar from §6: an integer
// followed by one of s, m, h, d. An empty string parses to zero.
func parseDuration(lit string) (time.Duration, error) {
	if lit == "" {
		return 0, nil
	}
	unit, ok := durationUnits[lit[len(lit)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid duration literal %q: must end in s, m, h, or d", lit)
	}
	n, err := strconv.ParseInt(lit[:len(lit)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration literal %q: %v", lit, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid duration literal %q: must be non-negative", lit)
	}
	return time.Duration(n) * unit, nil
}

// sizeUnits maps the grammar's suffix to its byte multiplier.
var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseSize parses the size literal grammar from §6: an integer followed by
// one of B, KB, MB, GB. An empty string parses to zero.
func parseSize(lit string) (int64, error) {
	if lit == "" {
		return 0, nil
	}
	for _, u := range sizeUnits {
		if strings.HasSuffix(lit, u.suffix) {
			n, err := strconv.ParseInt(strings.TrimSuffix(lit, u.suffix), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size literal %q: %v", lit, err)
			}
			if n < 0 {
				return 0, fmt.Errorf("invalid size literal %q: must be non-negative", lit)
			}
			return n * u.mult, nil
		}
	}
	return 0, fmt.Errorf("invalid size literal %q: must end in B, KB, MB, or GB", lit)
}

// Duration returns the parsed duration.
func (d durationValue) Duration() time.Duration { return time.Duration(d.value) }

// Bytes returns the parsed byte count.
func (s sizeValue) Bytes() int64 { return s.value }

