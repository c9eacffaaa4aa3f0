package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"corpuslab.systems/driftline/internal/application"
	"corpuslab.systems/driftline/internal/config"
	"corpuslab.systems/driftline/internal/db"
)

func main() {
	var (
		queueFile    = pflag.String("file", "", "queue file to load, one year,month,day,location entry per line (required)")
		skipExisting = pflag.Bool("skip-existing", true, "leave already-queued days untouched instead of resetting them")
	)
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting queue loader")

	if *queueFile == "" {
		slog.Error("--file is required")
		os.Exit(1)
	}

	entries, err := parseQueueFile(*queueFile)
	if err != nil {
		slog.Error("failed to parse queue file", "file", *queueFile, "error", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		slog.Warn("queue file holds no usable entries", "file", *queueFile)
		return
	}
	slog.Info("Parsed queue file", "file", *queueFile, "entries", len(entries))

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	conn, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	added := 0
	for _, e := range entries {
		ok, err := conn.AddQueueEntry(ctx, e.Day, e.Location, *skipExisting)
		if err != nil {
			slog.Error("failed to queue day", "day", e.Day.String(), "error", err)
			os.Exit(1)
		}
		if ok {
			added++
			slog.Info("queued day", "day", e.Day.String(), "location", e.Location)
		} else {
			slog.Info("day already queued, skipped", "day", e.Day.String())
		}
	}

	slog.Info("Queue load complete", "added", added, "skipped", len(entries)-added)
}
