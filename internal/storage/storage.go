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

// Package storage selects and constructs the Storage backend the running
// configuration names, the way the teacher's cache registration picks a
// client implementation by origin type.
package storage

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stephenfairchild/relay/internal/cache"
	"github.com/stephenfairchild/relay/internal/cache/diskstore"
	"github.com/stephenfairchild/relay/internal/cache/memstore"
	"github.com/stephenfairchild/relay/internal/cache/redisstore"
	"github.com/stephenfairchild/relay/internal/config"
)

// Open constructs the Storage backend named by cfg. compress mirrors
// [cache] compression (default true): the operator's switch for whether
// the codec layer snappy-compresses stored blobs, applied to whichever
// backend actually serializes through internal/cache/codec (Redis and
// disk; the in-memory store keeps native Go values and has no codec step).
func Open(cfg config.StorageConfig, compress bool) (cache.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.New(cfg.MaxSize.Bytes()), nil
	case config.BackendRedis:
		rc, err := redisConfig(cfg, compress)
		if err != nil {
			return nil, err
		}
		return redisstore.New(rc), nil
	case config.BackendDisk:
		engine := diskstore.EngineBadger
		if strings.ToLower(cfg.DiskEngine) == "bolt" {
			engine = diskstore.EngineBolt
		}
		return diskstore.Open(cfg.Disk, engine, compress)
	default:
		return nil, fmt.Errorf("storage: unknown backend %v", cfg.Backend)
	}
}

// redisConfig turns the storage.redis DSN and pool settings into a
// redisstore.Config. The DSN is a plain redis://[:password@]host:port[/db]
// URL, the form the teacher's RedisCacheConfig.Endpoint documented.
func redisConfig(cfg config.StorageConfig, compress bool) (redisstore.Config, error) {
	u, err := url.Parse(cfg.Redis)
	if err != nil {
		return redisstore.Config{}, fmt.Errorf("storage: redis: invalid url: %w", err)
	}
	password := ""
	if u.User != nil {
		password, _ = u.User.Password()
	}
	db := 0
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		db, err = strconv.Atoi(path)
		if err != nil {
			return redisstore.Config{}, fmt.Errorf("storage: redis: invalid db in url: %w", err)
		}
	}
	return redisstore.Config{
		Addr:         u.Host,
		Password:     password,
		DB:           db,
		PoolSize:     cfg.RedisPool.PoolSize,
		MinIdleConns: cfg.RedisPool.MinIdleConns,
		DialTimeout:  time.Duration(cfg.RedisPool.DialTimeoutMS) * time.Millisecond,
		ReadTimeout:  time.Duration(cfg.RedisPool.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.RedisPool.WriteTimeoutMS) * time.Millisecond,
		PoolTimeout:  time.Duration(cfg.RedisPool.PoolTimeoutMS) * time.Millisecond,
		Compression:  compress,
	}, nil
}
