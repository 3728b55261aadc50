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

// Package classify implements the Freshness Classifier: given a cached
// entry's age and the effective policy's ttl/swr/sie windows, it partitions
// the entry into one of four classes the Cache Engine acts on.
package classify

import "time"

// Class is the outcome of classifying a cached entry's freshness.
type Class int

const (
	// Fresh entries are served directly with no origin traffic.
	Fresh Class = iota
	// StaleRevalidating entries are served immediately, with a background
	// revalidation scheduled.
	StaleRevalidating
	// StaleErrorOnly entries are only servable because the current request
	// context follows a failed synchronous origin fetch.
	StaleErrorOnly
	// Expired entries must be treated as a miss.
	Expired
)

func (c Class) String() string {
	switch c {
	case Fresh:
		return "fresh"
	case StaleRevalidating:
		return "stale_revalidating"
	case StaleErrorOnly:
		return "stale_error_only"
	default:
		return "expired"
	}
}

// Windows carries the effective ttl/swr/sie durations the classifier
// evaluates age against. These come from the resolved Policy, which
// overrides whatever the stored entry itself carries: operators retune
// live, and the policy in effect now wins.
type Windows struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	StaleIfError         time.Duration
}

// Classify partitions a cached entry of the given age under windows w.
// errorContext is true when the current request arrives after a failed
// synchronous origin fetch; it is the tie-break between StaleRevalidating
// and StaleErrorOnly when the swr and sie windows overlap.
func Classify(age time.Duration, w Windows, errorContext bool) Class {
	if age <= w.TTL {
		return Fresh
	}

	swrCutoff := w.TTL + w.StaleWhileRevalidate
	sieCutoff := w.TTL + w.StaleIfError
	maxCutoff := swrCutoff
	if sieCutoff > maxCutoff {
		maxCutoff = sieCutoff
	}

	if age > maxCutoff {
		return Expired
	}

	inSWR := age <= swrCutoff
	inSIE := age <= sieCutoff

	switch {
	case inSWR && inSIE:
		// Overlapping windows: a non-error context prefers to revalidate in
		// the background; an error context (we just failed a synchronous
		// fetch) serves what we have and stops there.
		if errorContext {
			return StaleErrorOnly
		}
		return StaleRevalidating
	case inSWR:
		return StaleRevalidating
	case inSIE && errorContext:
		return StaleErrorOnly
	default:
		return Expired
	}
}
