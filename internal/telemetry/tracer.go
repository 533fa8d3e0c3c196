// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by gateway spans.
const TracerName = "github.com/openmaas/openmaas-gateway"

// Exporter names accepted by InitTracer.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Options selects where spans go.
type Options struct {
	ServiceName string
	Exporter    string    // none, stdout
	Writer      io.Writer // stdout exporter destination; os.Stderr when nil
}

// InitTracer installs the global tracer provider and returns its shutdown
// function. With ExporterNone the global no-op provider stays in place.
func InitTracer(opts Options, logger *slog.Logger) (func(context.Context) error, error) {
	switch opts.Exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}

	w := opts.Writer
	if w == nil {
		// stdout carries CLI output, so spans go to stderr.
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized",
		slog.String("service", opts.ServiceName),
		slog.String("exporter", opts.Exporter),
	)

	return tp.Shutdown, nil
}

// Tracer returns the gateway tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
