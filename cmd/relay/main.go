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

// Command relay is Relay's single binary: it loads the TOML configuration,
// wires the Cache Engine and its collaborators, and serves both the proxy
// and the admin surface until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/stephenfairchild/relay/internal/cache"
	"github.com/stephenfairchild/relay/internal/config"
	"github.com/stephenfairchild/relay/internal/engine"
	"github.com/stephenfairchild/relay/internal/fingerprint"
	"github.com/stephenfairchild/relay/internal/logging"
	"github.com/stephenfairchild/relay/internal/metrics"
	"github.com/stephenfairchild/relay/internal/routing"
	"github.com/stephenfairchild/relay/internal/rules"
	"github.com/stephenfairchild/relay/internal/storage"
	"github.com/stephenfairchild/relay/internal/tracing"
	"github.com/stephenfairchild/relay/internal/upstream"
)

var (
	version = "dev"
)

// shutdownDrain bounds how long server.Shutdown waits for in-flight
// requests once a shutdown signal arrives, mirroring the teacher's own
// drain-then-exit shutdown sequence. Background revalidation goroutines
// are not tracked and are not waited for.
const shutdownDrain = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags("relay", args)
	if err != nil {
		return err
	}
	if flags.PrintVersion {
		fmt.Println("relay", version)
		return nil
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	logging.SetDefault(logger)
	for _, w := range config.LoaderWarnings {
		logging.Warn("config warning", logging.Pairs{"warning": w})
	}

	if _, err := tracing.New(tracing.Config{ServiceName: "relay", SampleRatio: 0}); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	store, err := storage.Open(cfg.Storage, cfg.Cache.Compression)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	upstreamClient, err := upstream.New(upstream.Config{
		BaseURL:        cfg.Upstream.URL,
		ConnectTimeout: cfg.Upstream.Timeout.Duration(),
		ReadTimeout:    cfg.Upstream.Timeout.Duration(),
		TotalTimeout:   cfg.Upstream.Timeout.Duration(),
		MaxConnections: cfg.Upstream.MaxConnections,
		MaxObjectBytes: cfg.Cache.MaxObjectSize.Bytes(),
		Keepalive:      cfg.Upstream.Keepalive,
	})
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	registry := prometheus.NewRegistry()
	stats := metrics.NewTrackingSink(metrics.New(registry))

	eng := engine.New(engine.Config{
		Resolver: rules.NewResolver(cfg.DefaultPolicy(), cfg.Rules()),
		Builder:  fingerprint.NewBuilder(fingerprint.QueryParams{Ignore: cfg.Cache.QueryParams.Ignore, Sort: cfg.Cache.QueryParams.Sort}),
		Storage:  store,
		Upstream: upstreamClient,
		Metrics:  stats,
	})

	started := time.Now()
	router := routing.New(routing.Dependencies{
		Config:         cfg,
		Engine:         eng,
		Storage:        store,
		Upstream:       upstreamClient,
		Stats:          stats,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Started:        started,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go pollStorageStats(store, stats)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("relay listening", logging.Pairs{"addr": server.Addr, "upstream": cfg.Upstream.URL, "storage": cfg.Storage.Backend.String()})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
		defer cancel()
		logging.Info("relay shutting down", logging.Pairs{"drain": shutdownDrain.String()})
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// pollStorageStats periodically refreshes the cache size/items gauges; the
// Storage interface has no push notifications, so polling is the simplest
// faithful way to keep §6's gauges current.
func pollStorageStats(store cache.Storage, sink metrics.Sink) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stat := store.Stats()
		sink.SetCacheItems(float64(stat.Items))
		sink.SetCacheSize(float64(stat.Bytes))
	}
}
