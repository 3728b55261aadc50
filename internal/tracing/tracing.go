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

// Package tracing configures the OpenTelemetry tracer used for Relay's
// request lifecycle. Only the top-level request span (SpanRequest, opened
// by internal/middleware) is started today; the Cache Engine opens no
// spans of its own for key build, storage lookup, classification, or
// origin fetch.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Span names for a single inbound request. Only SpanRequest is currently
// started anywhere; the others are defined names with no call site.
const (
	SpanRequest        = "relay.request"
	SpanFingerprint    = "relay.fingerprint"
	SpanStorageLookup  = "relay.storage.lookup"
	SpanClassify       = "relay.classify"
	SpanUpstreamFetch  = "relay.upstream.fetch"
	SpanStorageWrite   = "relay.storage.write"
	SpanRevalidate     = "relay.revalidate"
)

// Config controls tracer construction.
type Config struct {
	ServiceName string
	SampleRatio float64 // 0 disables sampling entirely; 1 samples every span
}

// New builds a TracerProvider. With no exporter wired it still records spans
// in-process, which is enough for sdktrace.WithSampler to be meaningful and
// for a future exporter to be attached without touching call sites.
func New(cfg Config) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	if cfg.SampleRatio <= 0 {
		sampler = sdktrace.NeverSample()
	} else if cfg.SampleRatio >= 1 {
		sampler = sdktrace.AlwaysSample()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the named tracer from the globally installed provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan is a small convenience wrapper kept to match the call-site shape
// the teacher's middleware used around its own (now obsolete) tracer.
func StartSpan(ctx context.Context, tracerName, spanName string) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, spanName)
}
