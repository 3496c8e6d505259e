// Command redjob-worker runs a pool of job workers against a Redis-backed
// queue. Configuration is read from REDJOB_* environment variables;
// registering job classes is left to a caller that builds its own
// redjob.Context, registers constructors on Context.Factory, and runs a
// redjob.Pool directly rather than reusing this binary.
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

	"github.com/gocraft/health"
	"github.com/redjob/redjob"
)

const queueReportInterval = 10 * time.Second

func main() {
	verbose := flag.Bool("verbose", false, "enable info-level logging")
	vverbose := flag.Bool("vverbose", false, "enable debug-level logging")
	flag.Bool("redjob-child", false, "internal: run as a re-exec'd job child")
	flag.Parse()

	cfg := redjob.DefaultConfig()
	redjob.FromEnv(cfg)
	cfg.Verbose = cfg.Verbose || *verbose
	cfg.VVerbose = cfg.VVerbose || *vverbose

	if len(cfg.Queues) == 0 {
		fmt.Fprintln(os.Stderr, "redjob-worker: no queues configured (set REDJOB_QUEUE)")
		os.Exit(1)
	}

	dsn, err := redjob.ParseDSN(cfg.DSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redjob-worker:", err)
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

	if redjob.IsChildInvocation() {
		redjob.RunChild(appCtx)
		return
	}

	stream := health.NewStream()
	stream.AddSink(&health.WriterSink{Writer: os.Stderr})
	appCtx.Stats.SetSink(redjob.NewHealthMetricsSink(stream, "redjob.stats"))

	queue := redjob.NewQueueEngine(appCtx)
	workerPool := redjob.NewPool(appCtx, queue, cfg.Queues, cfg.Count, cfg.PollInterval)

	client := redjob.NewClient(appCtx, queue)
	queueReporter := redjob.NewQueueLatencyReporter(client, stream)
	queueReporter.Start(queueReportInterval)
	defer queueReporter.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	appCtx.Logger.Info("redjob-worker: starting", "pool", workerPool.ID(), "queues", cfg.Queues, "count", cfg.Count)
	if err := workerPool.Run(ctx); err != nil {
		appCtx.Logger.Error("redjob-worker: exited with error", "error", err)
		os.Exit(1)
	}
}
