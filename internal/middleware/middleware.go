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

// Package middleware wraps Relay's HTTP handlers with the cross-cutting
// concerns every request goes through regardless of route: a request id for
// log correlation, a tracing span, an access log line, and panic recovery.
package middleware

import (
	"context"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/stephenfairchild/relay/internal/logging"
	"github.com/stephenfairchild/relay/internal/tracing"
)

type ctxKeyRequestID struct{}

// RequestID returns the id WithRequestID attached to ctx, or "" if none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return id
}

// WithRequestID stamps every request with a UUID used to correlate its log
// lines and trace spans, the way the teacher's per-request context fields
// let an operator follow one request through a noisy log stream.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Trace opens the top-level request span and closes it once next returns.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartSpan(r.Context(), "relay", tracing.SpanRequest)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AccessLog wraps next in gorilla/handlers' combined (Apache-style) access
// log, written to stderr alongside the rest of Relay's structured logging.
func AccessLog(next http.Handler) http.Handler {
	return handlers.CombinedLoggingHandler(os.Stderr, next)
}

// Recover turns a panic anywhere downstream into a 500 instead of a crashed
// listener, logging the recovered value before gorilla/handlers' own
// recovery writes the response.
func Recover(next http.Handler) http.Handler {
	return handlers.RecoveryHandler(
		handlers.PrintRecoveryStack(false),
		handlers.RecoveryLogger(recoveryLogger{}),
	)(next)
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	logging.Error("recovered from panic", logging.Pairs{"panic": v})
}

// Chain composes Relay's standard middleware stack in the order a request
// passes through it: recovery innermost-out is actually outermost-in, since
// a panic in the access log or tracing layers should still be caught.
func Chain(next http.Handler) http.Handler {
	return Recover(WithRequestID(Trace(AccessLog(next))))
}

// ApplyTo installs Chain as router-wide middleware via gorilla/mux's
// MiddlewareFunc hook, matching the teacher's routing.Router.Use call site.
func ApplyTo(router *mux.Router) {
	router.Use(func(next http.Handler) http.Handler {
		return Chain(next)
	})
}
