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

	"github.com/stephenfairchild/relay/internal/cache"
)

// notModified reports whether the inbound request's conditional headers
// match the entry's validators, meaning the client's own copy is current.
func notModified(r *http.Request, resp *cache.CachedResponse) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" && resp.Validators.ETag != "" {
		for _, tag := range strings.Split(inm, ",") {
			if strings.TrimSpace(tag) == resp.Validators.ETag || strings.TrimSpace(tag) == "*" {
				return true
			}
		}
		return false
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" && resp.Validators.LastModified != "" {
		return ims == resp.Validators.LastModified
	}
	return false
}

// extractValidators pulls ETag/Last-Modified off a stored header list.
func extractValidators(headers []cache.Header) cache.Validators {
	etag, _ := headerValue(headers, "ETag")
	lastMod, _ := headerValue(headers, "Last-Modified")
	return cache.Validators{ETag: etag, LastModified: lastMod}
}
