// Package tmtrace wires the engine's OpenTelemetry tracer/meter providers.
// Every stage package (plancache, exec) registers its instruments against
// the global delegating provider at init() time, following
// internal/storage/dolt/store.go's doltTracer/doltMetrics pattern; Init
// installs the real SDK providers so those already-registered instruments
// start forwarding, instead of every package having to re-resolve its
// tracer/meter after configuration is known.
package tmtrace

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporter selects where spans/metrics go (cmd/tmerge's --trace-exporter
// flag).
type Exporter string

const (
	ExporterNone   Exporter = "none"
	ExporterStdout Exporter = "stdout"
	ExporterOTLP   Exporter = "otlp"
)

// Options configures Init.
type Options struct {
	Exporter    Exporter
	OTLPEndpoint string
	ServiceName string
}

// Shutdown flushes and stops the installed providers.
type Shutdown func(context.Context) error

// Init installs tracer/meter providers for the given Options and returns a
// Shutdown to call before process exit. When Options.Exporter is
// ExporterNone (the default), Init installs no providers: otel's global
// providers stay no-op, and every package-level doltTracer/doltMetrics-style
// instrument simply drops its telemetry.
func Init(opts Options) (Shutdown, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "tmerge"
	}

	if opts.Exporter == "" || opts.Exporter == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("tmtrace: build resource: %w", err)
	}

	traceShutdown, err := initTracing(opts, res)
	if err != nil {
		return nil, err
	}
	metricShutdown, err := initMetrics(opts, res)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		err := traceShutdown(ctx)
		if merr := metricShutdown(ctx); merr != nil && err == nil {
			err = merr
		}
		return err
	}, nil
}

func initTracing(opts Options, res *resource.Resource) (Shutdown, error) {
	var exp sdktrace.SpanExporter
	var err error

	switch opts.Exporter {
	case ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(traceWriter()))
	case ExporterOTLP:
		exp, err = otlpTraceExporter(opts)
	default:
		return func(context.Context) error { return nil }, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tmtrace: build trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func initMetrics(opts Options, res *resource.Resource) (Shutdown, error) {
	var reader metric.Reader
	var err error

	switch opts.Exporter {
	case ExporterStdout:
		var exp metric.Exporter
		exp, err = stdoutmetric.New(stdoutmetric.WithWriter(traceWriter()))
		if err == nil {
			reader = metric.NewPeriodicReader(exp)
		}
	case ExporterOTLP:
		reader, err = otlpMetricReader(opts)
	default:
		return func(context.Context) error { return nil }, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tmtrace: build metric reader: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

func otlpTraceExporter(opts Options) (sdktrace.SpanExporter, error) {
	return otlptracehttp.New(context.Background(), otlptracehttp.WithEndpoint(opts.OTLPEndpoint))
}

func otlpMetricReader(opts Options) (metric.Reader, error) {
	exp, err := otlpmetrichttp.New(context.Background(), otlpmetrichttp.WithEndpoint(opts.OTLPEndpoint))
	if err != nil {
		return nil, err
	}
	return metric.NewPeriodicReader(exp), nil
}

// traceWriter keeps the stdout exporters off the CLI's own stdout unless
// explicitly requested via TMERGE_TRACE_STDOUT, matching the teacher's habit
// (beads.go) of never letting diagnostic output corrupt a program's primary
// output stream.
func traceWriter() io.Writer {
	if os.Getenv("TMERGE_TRACE_STDOUT") != "" {
		return os.Stdout
	}
	return os.Stderr
}
