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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGlobStarDoesNotCrossSlashMidPattern(t *testing.T) {
	g := compileGlob("/api/*/widgets")
	assert.True(t, g.match("/api/v1/widgets"))
	assert.False(t, g.match("/api/v1/v2/widgets"))
}

func TestGlobStarAsLastSegmentCrossesSlash(t *testing.T) {
	g := compileGlob("/static/*")
	assert.True(t, g.match("/static/css/app.css"))
	assert.True(t, g.match("/static/"))
}

func TestGlobQuestionMarkMatchesOneNonSlashChar(t *testing.T) {
	g := compileGlob("/img/icon-?.png")
	assert.True(t, g.match("/img/icon-1.png"))
	assert.False(t, g.match("/img/icon-12.png"))
	assert.False(t, g.match("/img/icon-/.png"))
}

func TestResolverFirstMatchWins(t *testing.T) {
	ttlFast := 10 * time.Second
	ttlSlow := time.Hour
	r := NewResolver(Policy{TTL: time.Minute}, []Rule{
		{Pattern: "/api/fast/*", TTL: &ttlFast},
		{Pattern: "/api/*", TTL: &ttlSlow},
	})

	assert.Equal(t, ttlFast, r.Resolve("/api/fast/widgets").TTL)
	assert.Equal(t, ttlSlow, r.Resolve("/api/other").TTL)
	assert.Equal(t, time.Minute, r.Resolve("/unrelated").TTL)
}

func TestResolverBypassIgnoresTTLOverlay(t *testing.T) {
	r := NewResolver(Policy{TTL: time.Minute}, []Rule{
		{Pattern: "/admin/*", Bypass: true},
	})

	p := r.Resolve("/admin/dashboard")
	assert.True(t, p.Bypass)
}
