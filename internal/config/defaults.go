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

const (
	defaultServerHost = "0.0.0.0"
	defaultServerPort = 8080

	defaultUpstreamTimeout = "30s"
	defaultMaxConnections  = 100

	defaultCacheTTL             = "5m"
	defaultStaleWhileRevalidate = "1h"
	defaultStaleIfError         = "24h"
	defaultMaxObjectSize        = "10MB"

	defaultStorageMaxSize = "1GB"
	defaultDiskEngine     = "badger"

	defaultRedisPoolSize       = 20
	defaultRedisDialTimeoutMS  = 5000
	defaultRedisReadTimeoutMS  = 3000
	defaultRedisWriteTimeoutMS = 3000
	defaultRedisPoolTimeoutMS  = 4000
	defaultRedisGraceSecs      = 60

	defaultMetricsPath = "/metrics"

	defaultLogLevel = "INFO"

	defaultConfigPath = "./relay.toml"

	defaultConfigHandlerPath = "/relay/config"
	defaultHealthHandlerPath = "/relay/health"
)

// ConfigHandlerPath and HealthHandlerPath are exported for internal/routing
// to mount the introspection endpoints at, matching the teacher's
// Main.ConfigHandlerPath / Main.PingHandlerPath constants.
const (
	ConfigHandlerPath = defaultConfigHandlerPath
	HealthHandlerPath = defaultHealthHandlerPath
)
