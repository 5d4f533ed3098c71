// Package observability configures the process-wide slog logger, optionally
// bridging records into an OpenTelemetry log pipeline.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Log export targets.
const (
	ExportNone     = ""
	ExportOTLPHTTP = "otlp-http"
	ExportOTLPGRPC = "otlp-grpc"
	ExportStdout   = "stdout"
)

const scopeName = "github.com/mariahpope/anemoi-training"

// Instrument installs the default slog logger. Format is "text" or "json",
// written to stderr. When export names a target, records at or above level are
// additionally sent through an OpenTelemetry log pipeline (endpoint and
// headers come from the standard OTEL_EXPORTER_OTLP_* environment variables).
func Instrument(level slog.Level, format, export string) error {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	if export != ExportNone {
		otelHandler, err := newOTelHandler(level, export)
		if err != nil {
			return err
		}
		handler = fanout{handler, otelHandler}
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// newOTelHandler builds an otelslog handler backed by the requested exporter.
func newOTelHandler(level slog.Level, export string) (slog.Handler, error) {
	ctx := context.Background()

	var exporter sdklog.Exporter
	var err error
	switch export {
	case ExportOTLPHTTP:
		exporter, err = otlploghttp.New(ctx)
	case ExportOTLPGRPC:
		exporter, err = otlploggrpc.New(ctx)
	case ExportStdout:
		exporter, err = stdoutlog.New()
	default:
		return nil, fmt.Errorf("unsupported log export target: %s", export)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s log exporter: %w", export, err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))

	return otelslog.NewHandler(scopeName, otelslog.WithLoggerProvider(provider)), nil
}

// severity maps a slog level to the minimum OpenTelemetry log severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

// fanout dispatches each record to every wrapped handler.
type fanout []slog.Handler

var _ slog.Handler = (fanout)(nil)

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
