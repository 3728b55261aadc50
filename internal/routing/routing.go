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

// Package routing builds Relay's single gorilla/mux router: the proxy
// catch-all backed by the Cache Engine, plus the admin surface (health,
// config introspection, metrics) the teacher's own Main.*HandlerPath
// constants anticipate.
package routing

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/stephenfairchild/relay/internal/cache"
	"github.com/stephenfairchild/relay/internal/config"
	"github.com/stephenfairchild/relay/internal/metrics"
	"github.com/stephenfairchild/relay/internal/middleware"
	"github.com/stephenfairchild/relay/internal/upstream"
)

// Dependencies bundles everything the router needs to mount the admin
// surface alongside the cache proxy.
type Dependencies struct {
	Config         *config.Config
	Engine         http.Handler
	Storage        cache.Storage
	Upstream       *upstream.Client
	Stats          *metrics.TrackingSink
	MetricsHandler http.Handler
	Started        time.Time
}

// New builds the router: AccessLog/Trace/RequestID/Recover middleware
// applied router-wide, admin paths registered before the catch-all so they
// are never shadowed by it.
func New(deps Dependencies) *mux.Router {
	router := mux.NewRouter()
	middleware.ApplyTo(router)

	router.Handle(config.HealthHandlerPath, healthHandler(deps.Started, deps.Storage, deps.Upstream, deps.Stats)).Methods(http.MethodGet)
	router.Handle(config.ConfigHandlerPath, configHandler(deps.Config)).Methods(http.MethodGet)
	if deps.Config.Metrics.Enabled && deps.MetricsHandler != nil {
		router.Handle(deps.Config.Metrics.Path, deps.MetricsHandler).Methods(http.MethodGet)
	}

	router.PathPrefix("/").Handler(deps.Engine)

	return router
}
