// Copyright 2018 Gitmill Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/bluekeyes/hatpear"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const (
	MetricsKeyRequests    = "server.requests"
	MetricsKeyRequests2xx = "server.requests.2xx"
	MetricsKeyRequests3xx = "server.requests.3xx"
	MetricsKeyRequests4xx = "server.requests.4xx"
	MetricsKeyRequests5xx = "server.requests.5xx"

	MetricsKeyNumGoroutines = "server.goroutines"
	MetricsKeyMemoryUsed    = "server.mem.used"
)

// DefaultMiddleware returns the middleware chain applied to all routes:
// request-scoped logging, request IDs, access logging with metrics, and
// route error handling.
func DefaultMiddleware(logger zerolog.Logger, registry metrics.Registry) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		hlog.NewHandler(logger),
		newMetricsHandler(registry),
		hlog.RequestIDHandler("rid", "X-Request-ID"),
		hlog.AccessHandler(recordRequest),
		hatpear.Catch(handleRouteError),
		hatpear.Recover(),
	}
}

func newMetricsHandler(registry metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(withMetricsCtx(r.Context(), registry))
			next.ServeHTTP(w, r)
		})
	}
}

func recordRequest(r *http.Request, status, size int, elapsed time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.String()).
		Int("status", status).
		Int("size", size).
		Dur("elapsed", elapsed).
		Msg("http_request")
	countRequest(r, status)
}

type metricsCtxKey struct{}

func metricsCtx(ctx context.Context) metrics.Registry {
	if r, ok := ctx.Value(metricsCtxKey{}).(metrics.Registry); ok {
		return r
	}
	return metrics.DefaultRegistry
}

func withMetricsCtx(ctx context.Context, registry metrics.Registry) context.Context {
	return context.WithValue(ctx, metricsCtxKey{}, registry)
}

// registerDefaultMetrics adds the default metrics provided by this package to
// the registry. This should be called before any functions emit metrics to
// ensure that no events are lost.
func registerDefaultMetrics(registry metrics.Registry) {
	for _, key := range []string{
		MetricsKeyRequests,
		MetricsKeyRequests2xx,
		MetricsKeyRequests3xx,
		MetricsKeyRequests4xx,
		MetricsKeyRequests5xx,
	} {
		metrics.GetOrRegisterCounter(key, registry)
	}

	registry.GetOrRegister(MetricsKeyNumGoroutines, func() metrics.Gauge {
		return metrics.NewFunctionalGauge(func() int64 {
			return int64(runtime.NumGoroutine())
		})
	})

	registry.GetOrRegister(MetricsKeyMemoryUsed, func() metrics.Gauge {
		return metrics.NewFunctionalGauge(func() int64 {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return int64(m.Alloc)
		})
	})
}

func countRequest(r *http.Request, status int) {
	registry := metricsCtx(r.Context())

	if c := registry.Get(MetricsKeyRequests); c != nil {
		c.(metrics.Counter).Inc(1)
	}

	if key := bucketRequestStatus(status); key != "" {
		if c := registry.Get(key); c != nil {
			c.(metrics.Counter).Inc(1)
		}
	}
}

func bucketRequestStatus(status int) string {
	switch {
	case status >= 200 && status < 300:
		return MetricsKeyRequests2xx
	case status >= 300 && status < 400:
		return MetricsKeyRequests3xx
	case status >= 400 && status < 500:
		return MetricsKeyRequests4xx
	case status >= 500 && status < 600:
		return MetricsKeyRequests5xx
	}
	return ""
}

// handleRouteError is a hatpear error handler that logs the error and sends
// an error response to the client.
func handleRouteError(w http.ResponseWriter, r *http.Request, err error) {
	var log *zerolog.Event
	// Either the deadline has passed or the request was canceled. 499 is an
	// NGINX style response code for 'Client Closed Connection' and is a
	// non-standard, but widely used, HTTP status code.
	if cerr := r.Context().Err(); cerr == context.Canceled {
		log = hlog.FromRequest(r).Debug()
		WriteJSON(w, 499, map[string]string{
			"error": "Client Closed Connection",
		})
	} else {
		log = hlog.FromRequest(r).Error().Err(err)
		WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": http.StatusText(http.StatusInternalServerError),
		})
	}

	log.Str("method", r.Method).
		Str("path", r.URL.String()).
		Msg("Unhandled error while serving route")
}

// WriteJSON writes a JSON response or an error if marshalling the object
// fails.
func WriteJSON(w http.ResponseWriter, status int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")

	b, err := json.Marshal(obj)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprintf(w, `{"error": %s}`, strconv.Quote(err.Error()))
	} else {
		w.WriteHeader(status)
		_, _ = w.Write(b)
	}
}
