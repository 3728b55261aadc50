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

package diskstore

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/stephenfairchild/relay/internal/cache"
	"github.com/stephenfairchild/relay/internal/cache/codec"
)

func encode(resp *cache.CachedResponse, compress bool) ([]byte, error) {
	return codec.Encode(resp, compress)
}

func decode(raw []byte, compressed bool) (*cache.CachedResponse, error) {
	return codec.Decode(raw, compressed)
}

func match(glob, key string) (bool, error) {
	return doublestar.Match(glob, key)
}
