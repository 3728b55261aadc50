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

package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/stephenfairchild/relay/internal/cache"
	"github.com/stephenfairchild/relay/internal/metrics"
	"github.com/stephenfairchild/relay/internal/upstream"
)

// healthBody is the shape of GET /relay/health's response, per SPEC_FULL.md's
// resolution of the original spec's health-endpoint Open Question.
type healthBody struct {
	Status string       `json:"status"`
	Uptime string       `json:"uptime"`
	Cache  healthCache  `json:"cache"`
	Upstream healthUpstream `json:"upstream"`
}

type healthCache struct {
	Items     int64   `json:"items"`
	SizeBytes int64   `json:"size_bytes"`
	HitRatio  float64 `json:"hit_ratio"`
}

type healthUpstream struct {
	Status string `json:"status"`
}

// healthHandler reports process uptime, storage occupancy, the observed
// hit ratio, and whether the configured origin currently answers.
func healthHandler(started time.Time, store cache.Storage, client *upstream.Client, stats *metrics.TrackingSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stat := store.Stats()

		upstreamStatus := "unknown"
		if client != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := client.Ping(ctx); err != nil {
				upstreamStatus = "unreachable"
			} else {
				upstreamStatus = "reachable"
			}
		}

		hitRatio := 0.0
		if stats != nil {
			hitRatio = stats.HitRatio()
		}

		body := healthBody{
			Status: "ok",
			Uptime: time.Since(started).String(),
			Cache: healthCache{
				Items:     stat.Items,
				SizeBytes: stat.Bytes,
				HitRatio:  hitRatio,
			},
			Upstream: healthUpstream{Status: upstreamStatus},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}
