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

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Flags is the set of command line flags Relay recognizes.
type Flags struct {
	ConfigPath   string
	PrintVersion bool
	LogLevel     string
	customPath   bool
}

// ParseFlags parses argv into a Flags, mirroring the teacher's
// parseFlags/Load two-step: flags are parsed first so --config can steer
// the file load, then applied again afterward so they win over the file.
func ParseFlags(name string, arguments []string) (Flags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var f Flags
	fs.StringVar(&f.ConfigPath, "config", defaultConfigPath, "path to the Relay TOML configuration file")
	fs.BoolVar(&f.PrintVersion, "version", false, "print the Relay version and exit")
	fs.StringVar(&f.LogLevel, "log-level", "", "override the configured log level")
	if err := fs.Parse(arguments); err != nil {
		return f, err
	}
	f.customPath = f.ConfigPath != defaultConfigPath
	return f, nil
}

// Load returns the Relay configuration: defaults, overlaid by the TOML file,
// overlaid by environment variables, overlaid by flags. It fails fast -
// returning an error is the only acceptable outcome of a malformed config;
// nothing here is recoverable at request-serving time.
func Load(flags Flags) (*Config, error) {
	LoaderWarnings = LoaderWarnings[:0]

	c := NewConfig()

	if err := c.loadFile(flags.ConfigPath); err != nil {
		if flags.customPath || !os.IsNotExist(unwrapPathError(err)) {
			return nil, err
		}
		// no file at the default path is fine; defaults plus env/flags may suffice
		if err2 := c.resolve(&toml.MetaData{}); err2 != nil {
			return nil, err2
		}
	}

	c.loadEnvVars()

	if flags.LogLevel != "" {
		c.Logging.LogLevel = strings.ToUpper(flags.LogLevel)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func unwrapPathError(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

// loadEnvVars applies RELAY_-prefixed environment variable overrides for the
// handful of values operators most often need to set per-deployment without
// editing the file (upstream URL and storage backend selection).
func (c *Config) loadEnvVars() {
	if v := os.Getenv("RELAY_UPSTREAM_URL"); v != "" {
		c.Upstream.URL = v
	}
	if v := os.Getenv("RELAY_LISTEN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("RELAY_REDIS_URL"); v != "" {
		c.Storage.Redis = v
		c.Storage.InMemory = false
		c.Storage.Disk = ""
		c.Storage.Backend = BackendRedis
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		c.Logging.LogLevel = strings.ToUpper(v)
	}
}

// resolve parses every literal field (durations, sizes) and fills in the
// synthesized values, following the IsDefined overlay discipline the
// teacher's processOriginConfigs/processCachingConfigs use, then validates.
func (c *Config) resolve(md *toml.MetaData) error {
	var err error

	if c.Upstream.Timeout.value, err = nsOf(c.Upstream.TimeoutLit); err != nil {
		return fmt.Errorf("config: upstream.timeout: %w", err)
	}

	if c.Cache.DefaultTTL.value, err = nsOf(c.Cache.DefaultTTLLit); err != nil {
		return fmt.Errorf("config: cache.default_ttl: %w", err)
	}
	if c.Cache.StaleWhileRevalidate.value, err = nsOf(c.Cache.StaleWhileRevalidateLit); err != nil {
		return fmt.Errorf("config: cache.stale_while_revalidate: %w", err)
	}
	if c.Cache.StaleIfError.value, err = nsOf(c.Cache.StaleIfErrorLit); err != nil {
		return fmt.Errorf("config: cache.stale_if_error: %w", err)
	}
	if c.Cache.MaxObjectSize.value, err = bytesOf(c.Cache.MaxObjectSizeLit); err != nil {
		return fmt.Errorf("config: cache.max_object_size: %w", err)
	}

	c.OrderedRulePatterns = orderedRulePatterns(md, c.Cache.Rules)

	for pattern, rc := range c.Cache.Rules {
		if len(rc.Tags) > 0 {
			return fmt.Errorf("config: cache.rules[%q]: tag-based invalidation is not implemented", pattern)
		}
		resolved := rc
		if md == nil || md.IsDefined("cache", "rules", pattern, "ttl") {
			d, err := parseDuration(rc.TTLLit)
			if err != nil {
				return fmt.Errorf("config: cache.rules[%q].ttl: %w", pattern, err)
			}
			dv := durationValue{value: int64(d)}
			resolved.TTL = &dv
		}
		if md == nil || md.IsDefined("cache", "rules", pattern, "stale") {
			d, err := parseDuration(rc.StaleLit)
			if err != nil {
				return fmt.Errorf("config: cache.rules[%q].stale: %w", pattern, err)
			}
			dv := durationValue{value: int64(d)}
			resolved.Stale = &dv
		}
		if md == nil || md.IsDefined("cache", "rules", pattern, "stale_if_error") {
			d, err := parseDuration(rc.StaleIfErrorLit)
			if err != nil {
				return fmt.Errorf("config: cache.rules[%q].stale_if_error: %w", pattern, err)
			}
			dv := durationValue{value: int64(d)}
			resolved.StaleIfError = &dv
		}
		c.Cache.Rules[pattern] = resolved
	}

	if c.Storage.MaxSize.value, err = bytesOf(c.Storage.MaxSizeLit); err != nil {
		return fmt.Errorf("config: storage.max_size: %w", err)
	}

	backendsSet := 0
	if c.Storage.InMemory {
		backendsSet++
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.Redis != "" {
		backendsSet++
		c.Storage.Backend = BackendRedis
	}
	if c.Storage.Disk != "" {
		backendsSet++
		c.Storage.Backend = BackendDisk
	}
	if backendsSet != 1 {
		return fmt.Errorf("config: storage: exactly one of in_memory, redis, disk must be set (found %d)", backendsSet)
	}

	if c.Storage.Backend == BackendDisk {
		c.Storage.DiskEngine = strings.ToLower(c.Storage.DiskEngine)
		if c.Storage.DiskEngine != "badger" && c.Storage.DiskEngine != "bolt" {
			return fmt.Errorf("config: storage.disk_engine: must be %q or %q, got %q", "badger", "bolt", c.Storage.DiskEngine)
		}
	}

	return nil
}

// orderedRulePatterns walks md's keys in file order and returns the
// distinct cache.rules.<pattern> patterns in the order they first appear,
// falling back to map iteration for any pattern md doesn't know about
// (only possible when resolve is called with a synthetic MetaData).
func orderedRulePatterns(md *toml.MetaData, rules map[string]RuleConfig) []string {
	seen := make(map[string]struct{}, len(rules))
	ordered := make([]string, 0, len(rules))
	if md != nil {
		for _, key := range md.Keys() {
			if len(key) < 3 || key[0] != "cache" || key[1] != "rules" {
				continue
			}
			pattern := key[2]
			if _, ok := rules[pattern]; !ok {
				continue
			}
			if _, dup := seen[pattern]; dup {
				continue
			}
			seen[pattern] = struct{}{}
			ordered = append(ordered, pattern)
		}
	}
	for pattern := range rules {
		if _, ok := seen[pattern]; ok {
			continue
		}
		seen[pattern] = struct{}{}
		ordered = append(ordered, pattern)
	}
	return ordered
}

func nsOf(lit string) (int64, error) {
	d, err := parseDuration(lit)
	return int64(d), err
}

func bytesOf(lit string) (int64, error) {
	return parseSize(lit)
}

// Validate performs the boot-time checks that make a ConfigError fatal:
// missing upstream URL, invalid listen port, and the storage-exclusivity and
// tag-invalidation checks already enforced in resolve.
func (c *Config) Validate() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("config: upstream.url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Upstream.Timeout.Duration() <= 0 {
		return fmt.Errorf("config: upstream.timeout must be positive")
	}
	return nil
}
