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

package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func windows() Windows {
	return Windows{
		TTL:                  time.Minute,
		StaleWhileRevalidate: 2 * time.Minute,
		StaleIfError:         10 * time.Minute,
	}
}

func TestClassifyFresh(t *testing.T) {
	assert.Equal(t, Fresh, Classify(30*time.Second, windows(), false))
	assert.Equal(t, Fresh, Classify(time.Minute, windows(), false))
}

func TestClassifyStaleRevalidating(t *testing.T) {
	assert.Equal(t, StaleRevalidating, Classify(2*time.Minute, windows(), false))
}

func TestClassifyStaleErrorOnlyRequiresErrorContext(t *testing.T) {
	w := windows()
	age := w.TTL + w.StaleWhileRevalidate + time.Minute // beyond swr, within sie
	assert.Equal(t, StaleErrorOnly, Classify(age, w, true))
	assert.Equal(t, Expired, Classify(age, w, false))
}

func TestClassifyExpiredBeyondMaxWindow(t *testing.T) {
	w := windows()
	age := w.TTL + w.StaleIfError + time.Minute
	assert.Equal(t, Expired, Classify(age, w, true))
	assert.Equal(t, Expired, Classify(age, w, false))
}

func TestClassifyOverlapTieBreak(t *testing.T) {
	// sie shorter than swr: the overlap region is entirely within both windows.
	w := Windows{TTL: time.Minute, StaleWhileRevalidate: 10 * time.Minute, StaleIfError: 5 * time.Minute}
	age := w.TTL + 2*time.Minute

	assert.Equal(t, StaleRevalidating, Classify(age, w, false))
	assert.Equal(t, StaleErrorOnly, Classify(age, w, true))
}
