package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Run commits every source once immediately and then on each tick of the
// cron expression spec (standard five-field syntax, interpreted in the
// importer's timezone). A run still in progress when the next tick fires is
// not overlapped; the tick is skipped. Run blocks until ctx is cancelled and
// waits for an in-flight run to finish before returning.
func (im *Importer) Run(ctx context.Context, spec string) error {
	logger := cronLogger{im.log}
	c := cron.New(
		cron.WithLocation(im.tz),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	job := cron.FuncJob(func() {
		if err := im.CommitAll(ctx); err != nil && ctx.Err() == nil {
			im.log.ErrorContext(ctx, "scheduled import finished with errors", "error", err)
		}
	})
	if _, err := c.AddJob(spec, job); err != nil {
		return fmt.Errorf("parsing schedule %q: %w", spec, err)
	}

	im.log.InfoContext(ctx, "schedule import daemon started", "schedule", spec, "timezone", im.tz.String())

	// Run an immediate first pass through the same chain so a tick that
	// arrives while it runs is skipped.
	wrapped := c.Entries()[0].WrappedJob
	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		wrapped.Run()
	}()
	c.Start()

	<-ctx.Done()
	im.log.Info("schedule import daemon shutting down")
	<-c.Stop().Done()
	first.Wait()
	return ctx.Err()
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
