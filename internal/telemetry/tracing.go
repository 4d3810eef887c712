package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracerProvider wires otel.Tracer to a real OTLP/HTTP exporter
// when OTEL_EXPORTER_OTLP_ENDPOINT is set, and installs it as the
// global provider so StartSpan/EndSpan export for the life of the
// process. With the endpoint unset it returns a no-op shutdown and
// leaves otel's default no-op tracer in place. This file is the only
// place in the module that imports otlptracehttp; it sits apart from the
// span helpers in telemetry.go, but it is in the same package, so every
// importer of internal/telemetry links the exporter.
func InitTracerProvider(ctx context.Context) (shutdown func(context.Context) error, err error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("telemetry: building otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	tracer = otel.Tracer("github.com/antigravity-dev/abraxas/internal/telemetry")

	return provider.Shutdown, nil
}
