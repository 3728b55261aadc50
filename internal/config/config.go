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

// Package config loads and validates Relay's TOML configuration.
package config

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoaderWarnings holds warnings generated while loading config, before the
// logger exists, so they can be flushed through it once it's up.
var LoaderWarnings = make([]string, 0)

// Config is the top-level Relay configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Cache    CacheConfig    `toml:"cache"`
	Storage  StorageConfig  `toml:"storage"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Logging  LoggingConfig  `toml:"logging"`

	// OrderedRulePatterns preserves the [cache.rules.*] declaration order
	// from the TOML file. Cache.Rules is a map and Go (like the TOML
	// table it decodes) does not otherwise remember which rule came
	// first, but the RuleSet's "first match wins" contract depends on it.
	OrderedRulePatterns []string `toml:"-"`
}

// ServerConfig is the [server] section.
type ServerConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Workers int    `toml:"workers"`
}

// UpstreamConfig is the [upstream] section.
type UpstreamConfig struct {
	URL            string `toml:"url"`
	TimeoutLit     string `toml:"timeout"`
	MaxConnections int    `toml:"max_connections"`
	Keepalive      bool   `toml:"keepalive"`

	// Timeout is the parsed form of TimeoutLit.
	Timeout durationValue `toml:"-"`
}

// CacheConfig is the [cache] section.
type CacheConfig struct {
	DefaultTTLLit           string                `toml:"default_ttl"`
	StaleWhileRevalidateLit string                `toml:"stale_while_revalidate"`
	StaleIfErrorLit         string                `toml:"stale_if_error"`
	MaxObjectSizeLit        string                `toml:"max_object_size"`
	Compression             bool                  `toml:"compression"`
	// AllowSetCookie is the default-policy counterpart of
	// RuleConfig.AllowSetCookie (§4.9): Set-Cookie is stripped from stored
	// entries unless permitted here or by a matching rule.
	AllowSetCookie          bool                  `toml:"allow_set_cookie"`
	QueryParams             QueryParamsConfig     `toml:"query_params"`
	Rules                   map[string]RuleConfig `toml:"rules"`

	DefaultTTL           durationValue `toml:"-"`
	StaleWhileRevalidate durationValue `toml:"-"`
	StaleIfError         durationValue `toml:"-"`
	MaxObjectSize        sizeValue     `toml:"-"`
}

// QueryParamsConfig is the [cache.query_params] section.
type QueryParamsConfig struct {
	Ignore []string `toml:"ignore"`
	Sort   bool     `toml:"sort"`
}

// RuleConfig is one entry of the [cache.rules] table, keyed by glob pattern.
type RuleConfig struct {
	TTLLit          string   `toml:"ttl"`
	StaleLit        string   `toml:"stale"`
	StaleIfErrorLit string   `toml:"stale_if_error"`
	Bypass          bool     `toml:"bypass"`
	AllowSetCookie  bool     `toml:"allow_set_cookie"`
	Tags            []string `toml:"tags"` // rejected: tag invalidation is unimplemented, see SPEC_FULL.md

	TTL          *durationValue `toml:"-"`
	Stale        *durationValue `toml:"-"`
	StaleIfError *durationValue `toml:"-"`
}

// StorageConfig is the [storage] section.
type StorageConfig struct {
	InMemory   bool            `toml:"in_memory"`
	Redis      string          `toml:"redis"`
	Disk       string          `toml:"disk"`
	DiskEngine string          `toml:"disk_engine"`
	MaxSizeLit string          `toml:"max_size"`
	RedisPool  RedisPoolConfig `toml:"redis_pool"`

	Backend BackendType `toml:"-"`
	MaxSize sizeValue   `toml:"-"`
}

// RedisPoolConfig enriches the spec's single-line `redis = "<url>"` with the
// connection pool tuning the teacher's RedisCacheConfig exposed.
type RedisPoolConfig struct {
	PoolSize       int `toml:"pool_size"`
	MinIdleConns   int `toml:"min_idle_conns"`
	DialTimeoutMS  int `toml:"dial_timeout_ms"`
	ReadTimeoutMS  int `toml:"read_timeout_ms"`
	WriteTimeoutMS int `toml:"write_timeout_ms"`
	PoolTimeoutMS  int `toml:"pool_timeout_ms"`
}

// BackendType identifies which Storage implementation is active.
type BackendType int

const (
	// BackendMemory selects the in-memory store.
	BackendMemory BackendType = iota
	// BackendRedis selects the Redis store.
	BackendRedis
	// BackendDisk selects the disk store.
	BackendDisk
)

func (b BackendType) String() string {
	switch b {
	case BackendMemory:
		return "in_memory"
	case BackendRedis:
		return "redis"
	case BackendDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// MetricsConfig is the [metrics] section.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	LogFile    string `toml:"log_file"`
	LogLevel   string `toml:"log_level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// NewConfig returns a Config initialized with default values, mirroring the
// teacher's NewConfig/NewOriginConfig pattern of a fully-populated default
// struct that loadFile then overlays.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    defaultServerHost,
			Port:    defaultServerPort,
			Workers: runtime.NumCPU(),
		},
		Upstream: UpstreamConfig{
			TimeoutLit:     defaultUpstreamTimeout,
			MaxConnections: defaultMaxConnections,
			Keepalive:      true,
		},
		Cache: CacheConfig{
			DefaultTTLLit:           defaultCacheTTL,
			StaleWhileRevalidateLit: defaultStaleWhileRevalidate,
			StaleIfErrorLit:         defaultStaleIfError,
			MaxObjectSizeLit:        defaultMaxObjectSize,
			Compression:             true,
			Rules:                   make(map[string]RuleConfig),
		},
		Storage: StorageConfig{
			InMemory:   true,
			DiskEngine: defaultDiskEngine,
			MaxSizeLit: defaultStorageMaxSize,
			RedisPool: RedisPoolConfig{
				PoolSize:       defaultRedisPoolSize,
				DialTimeoutMS:  defaultRedisDialTimeoutMS,
				ReadTimeoutMS:  defaultRedisReadTimeoutMS,
				WriteTimeoutMS: defaultRedisWriteTimeoutMS,
				PoolTimeoutMS:  defaultRedisPoolTimeoutMS,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    defaultMetricsPath,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
	}
}

// durationValue and sizeValue are the parsed counterparts of the TOML string
// literals, kept in nanoseconds/bytes once resolved.
type durationValue struct {
	value int64 // nanoseconds
}

type sizeValue struct {
	value int64 // bytes
}

// loadFile decodes the TOML file at path into c, tracking which keys were
// actually present via toml.MetaData, the same overlay discipline the
// teacher's loadFile/setDefaults pair uses.
func (c *Config) loadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return c.resolve(&md)
}

// String renders the running configuration as TOML with secrets redacted,
// for the /relay/config introspection endpoint (see SPEC_FULL.md).
func (c *Config) String() string {
	cp := *c
	if cp.Storage.Redis != "" {
		cp.Storage.Redis = redactRedisURL(cp.Storage.Redis)
	}
	var buf bytes.Buffer
	e := toml.NewEncoder(&buf)
	_ = e.Encode(cp)
	return buf.String()
}

func redactRedisURL(dsn string) string {
	if i := strings.Index(dsn, "@"); i != -1 {
		if j := strings.Index(dsn, "://"); j != -1 && j < i {
			return dsn[:j+3] + "*****" + dsn[i:]
		}
		return "*****" + dsn[i:]
	}
	return dsn
}
