package logging

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Setup initializes OpenTelemetry with slog logging and returns a shutdown function
func Setup(service *resource.Resource) func(context.Context) error {
	// Retrieve log level from the environment, default to info
	var verbose slog.LevelVar
	verbose.Set(slog.LevelInfo)
	if input := os.Getenv("OTEL_LOG_LEVEL"); input != "" {
		_ = verbose.UnmarshalText([]byte(input))
	}

	exporter, err := stdoutlog.New()
	if err != nil {
		slog.Error("OpenTelemetry setup failed", "error", err)
		os.Exit(1)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(service),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	// Redirect slog.Default() to OpenTelemetry
	stdlog := slog.New(&levelHandler{
		level: &verbose,
		next:  otelslog.NewHandler("slog", otelslog.WithLoggerProvider(provider)),
	})
	slog.SetDefault(stdlog)

	stdlog.Info("OpenTelemetry setup successful")

	return provider.Shutdown
}

// levelHandler filters records below the configured level before they reach
// the OpenTelemetry bridge.
type levelHandler struct {
	level slog.Leveler
	next  slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.next.Handle(ctx, record)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, next: h.next.WithGroup(name)}
}
