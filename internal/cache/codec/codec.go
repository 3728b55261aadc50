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

// Package codec serializes a CachedResponse to the fixed binary layout §4.5
// specifies, with an optional snappy compression pass, for backends (Redis,
// disk) that persist outside the process.
package codec

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/stephenfairchild/relay/internal/cache"
)

// wireVersion is the 2-byte version tag prefixing every encoded blob.
const wireVersion uint16 = 1

// Encode serializes resp to the wire layout: version tag, status,
// stored_at (unix-nanos), ttl/swr/sie, validators, vary signature, body,
// then headers as
// count + length-prefixed name/value pairs. When compress is true the whole
// blob is snappy-encoded afterward.
func Encode(resp *cache.CachedResponse, compress bool) ([]byte, error) {
	buf := make([]byte, 0, 256+len(resp.Body))
	buf = appendUint16(buf, wireVersion)
	buf = appendUint32(buf, uint32(resp.Status))
	buf = appendInt64(buf, resp.StoredAt.UnixNano())
	buf = appendInt64(buf, int64(resp.TTL))
	buf = appendInt64(buf, int64(resp.StaleWhileRevalidate))
	buf = appendInt64(buf, int64(resp.StaleIfError))
	buf = appendString(buf, resp.Validators.ETag)
	buf = appendString(buf, resp.Validators.LastModified)
	buf = appendString(buf, resp.VarySignature)
	buf = appendBytes(buf, resp.Body)

	buf = appendUint32(buf, uint32(len(resp.Headers)))
	for _, h := range resp.Headers {
		buf = appendString(buf, h.Name)
		buf = appendString(buf, h.Value)
	}

	if compress {
		buf = snappy.Encode(nil, buf)
	}
	return buf, nil
}

// Decode reverses Encode. compress must match the flag Encode was called
// with.
func Decode(blob []byte, compressed bool) (*cache.CachedResponse, error) {
	if compressed {
		raw, err := snappy.Decode(nil, blob)
		if err != nil {
			return nil, fmt.Errorf("codec: snappy decode: %w", err)
		}
		blob = raw
	}

	r := &reader{buf: blob}
	version := r.uint16()
	if version != wireVersion {
		return nil, fmt.Errorf("codec: unsupported wire version %d", version)
	}

	resp := &cache.CachedResponse{}
	resp.Status = int(r.uint32())
	resp.StoredAt = unixNano(r.int64())
	resp.TTL = duration(r.int64())
	resp.StaleWhileRevalidate = duration(r.int64())
	resp.StaleIfError = duration(r.int64())
	resp.Validators.ETag = r.string()
	resp.Validators.LastModified = r.string()
	resp.VarySignature = r.string()
	resp.Body = r.bytes()

	n := r.uint32()
	resp.Headers = make([]cache.Header, 0, n)
	for i := uint32(0); i < n; i++ {
		name := r.string()
		value := r.string()
		resp.Headers = append(resp.Headers, cache.Header{Name: name, Value: value})
	}

	if r.err != nil {
		return nil, r.err
	}
	return resp, nil
}
