package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	conf "github.com/yoma-network/export-worker/config"
	"github.com/yoma-network/export-worker/internal/app"
	"github.com/yoma-network/export-worker/internal/model"
	logging "github.com/yoma-network/export-worker/internal/otel"

	// ------------ logging ------------ //
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func main() {

	// Load configuration
	config, appErr := conf.LoadConfig()
	if appErr != nil {
		slog.Error("export_worker.main.configuration_error", slog.String("error", appErr.Error()))
		return
	}

	// slog + OTEL logging
	service := resource.NewSchemaless(
		semconv.ServiceName(model.AppServiceName),
		semconv.ServiceVersion(model.CurrentVersion),
		semconv.ServiceNamespace(model.NamespaceName),
	)
	shutdown := logging.Setup(service)

	// Initialize the application
	application, appErr := app.New(config, shutdown)
	if appErr != nil {
		slog.Error("export_worker.main.application_initialization_error", slog.String("error", appErr.Error()))
		return
	}

	// Initialize signal handling for graceful shutdown
	initSignals(application)

	slog.Debug("export_worker.main.configuration_loaded",
		slog.String("environment", config.Blob.Environment),
		slog.String("blob_provider", config.Blob.Provider),
	)

	// Start the application
	slog.Info("export_worker.main.starting_application")
	startErr := application.Start()
	if startErr != nil {
		slog.Error("export_worker.main.application_start_error", slog.String("error", startErr.Error()))
	} else {
		slog.Info("export_worker.main.application_stopped")
	}

}

func initSignals(application *app.App) {
	slog.Info("export_worker.main.initializing_stop_signals")
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch)

	go func() {
		for {
			s := <-sigch
			handleSignals(s, application)
		}
	}()
}

func handleSignals(signal os.Signal, application *app.App) {
	if signal == syscall.SIGTERM || signal == syscall.SIGINT {
		err := application.Stop()
		if err != nil {
			return
		}
		slog.Info(
			"export_worker.main.received_kill_signal",
			slog.String("signal", signal.String()),
			slog.String("status", "service gracefully stopped"),
		)
		os.Exit(0)
	}
}
