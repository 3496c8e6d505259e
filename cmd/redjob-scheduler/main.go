// Command redjob-scheduler runs the delayed-job promotion loop:
// it watches delayed_queue_schedule and moves due jobs onto their primary
// queues. It carries no worker logic of its own, mirroring resque-scheduler's
// separation from the resque worker process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redjob/redjob"
)

func main() {
	sleepInterval := flag.Duration("interval", 5*time.Second, "sleep interval between empty promotion sweeps")
	verbose := flag.Bool("verbose", false, "enable info-level logging")
	flag.Parse()

	cfg := redjob.DefaultConfig()
	redjob.FromEnv(cfg)
	cfg.Verbose = cfg.Verbose || *verbose

	dsn, err := redjob.ParseDSN(cfg.DSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redjob-scheduler:", err)
		os.Exit(1)
	}

	pool := redjob.NewRedisPool(dsn)
	defer pool.Close()

	store := redjob.NewRedisKeyStore(pool)
	appCtx := redjob.NewContext(store, cfg.Prefix)
	logLevel := slog.LevelWarn
	switch {
	case cfg.VVerbose:
		logLevel = slog.LevelDebug
	case cfg.Verbose:
		logLevel = slog.LevelInfo
	}
	appCtx.Logger = redjob.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	queue := redjob.NewQueueEngine(appCtx)
	scheduler := redjob.NewDelayedScheduler(appCtx, queue)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	appCtx.Logger.Info("redjob-scheduler: starting", "prefix", cfg.Prefix, "interval", *sleepInterval)

	done := make(chan struct{})
	go func() {
		scheduler.RunPromotionLoop(ctx.Done(), *sleepInterval)
		close(done)
	}()

	<-ctx.Done()
	<-done
	appCtx.Logger.Info("redjob-scheduler: stopped")
}
