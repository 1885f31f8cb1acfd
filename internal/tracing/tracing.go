// Package tracing sets up the OpenTelemetry tracer provider and the HTTP
// instrumentation around the router.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init exports spans to the OTLP gRPC collector at endpoint. With an empty
// endpoint tracing stays disabled and the returned shutdown does nothing.
func Init(endpoint, serviceName string) (ShutdownFunc, error) {
	if endpoint == "" {
		return noopShutdown, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("in internal/tracing/tracing.go/Init(): error while `otlptracegrpc.New()` calling: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// WithTracingHTTPMiddleware starts a server span per request.
func WithTracingHTTPMiddleware(h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, "http")
}

// SpanNameFromRoute renames the current span after the matched chi route.
// It must run inside the router so the pattern is already known.
func SpanNameFromRoute(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)

		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				trace.SpanFromContext(r.Context()).SetName(r.Method + " " + pattern)
			}
		}
	}

	return http.HandlerFunc(fn)
}
