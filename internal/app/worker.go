package app

import (
	"context"
	"log/slog"
	"time"
)

// StartScheduleWorker runs the background processing loop: one pass over the
// pending schedule and one over expired links, repeated every configured
// interval. The first pass starts immediately.
func (app *App) StartScheduleWorker(ctx context.Context) {
	interval := time.Duration(app.Config.Export.ScheduleIntervalInMinutes) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	slog.InfoContext(ctx, "export_worker.worker.starting",
		slog.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			app.Processor.ProcessSchedule(ctx)
			app.Processor.ProcessDeletion(ctx)

			select {
			case <-ctx.Done():
				slog.Info("export_worker.worker.stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}
