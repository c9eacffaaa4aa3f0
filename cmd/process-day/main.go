package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"corpuslab.systems/driftline/internal/application"
	"corpuslab.systems/driftline/internal/archive"
	"corpuslab.systems/driftline/internal/config"
	"corpuslab.systems/driftline/internal/db"
	"corpuslab.systems/driftline/internal/pipeline"
	"corpuslab.systems/driftline/internal/storage"
	"corpuslab.systems/driftline/internal/tabledata"
	"corpuslab.systems/driftline/pkg/whisper"
)

func main() {
	var (
		dateStr       = pflag.String("date", "", "day to process, YYYY-MM-DD (required unless --tar-file is given)")
		tarFile       = pflag.String("tar-file", "", "process a single archive instead of a whole day")
		archiveDir    = pflag.String("archive-dir", "/data/archives", "directory holding the day's tar archives")
		tempDir       = pflag.String("temp-dir", "", "scratch directory for extraction (default system temp)")
		sidecarDir    = pflag.String("sidecar-dir", "", "directory with parquet sidecar files to load after audio")
		batchSize     = pflag.Int("batch-size", 32, "audio files per streamed batch")
		workers       = pflag.Int("workers", 4, "parallel opus conversions")
		jobID         = pflag.Int64("job-id", 0, "scheduler job id recorded on the queue row")
		uploadWorkers = pflag.Int("max-concurrent-uploads", 8, "parallel uploads to storage")
		uploadWait    = pflag.Duration("upload-timeout", 10*time.Minute, "how long to wait for uploads after processing")
		useDummy      = pflag.Bool("use-dummy-storage", false, "skip real transfers, for dry runs")
	)
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tag every log line of this run so overlapping scheduler jobs can be
	// told apart.
	slog.SetDefault(slog.Default().With("run_id", uuid.NewString()))
	slog.Info("Starting day processor")

	var day db.Day
	if *tarFile != "" {
		// Single-archive mode: the day comes from the archive name.
		info, err := archive.ParseName(*tarFile)
		if err != nil {
			slog.Error("invalid --tar-file", "file", *tarFile, "error", err)
			os.Exit(1)
		}
		day = db.Day{Year: info.Year, Month: info.Month, Date: info.Day}
	} else {
		var err error
		day, err = parseDay(*dateStr)
		if err != nil {
			slog.Error("invalid --date", "error", err)
			os.Exit(1)
		}
	}

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
	slog.Info("Database connection established")

	var uploads storage.Manager
	if *useDummy {
		uploads = storage.NewDummyManager()
	} else {
		uploads = storage.NewAsyncRsyncManager(storage.RsyncConfig{
			Host:        conf.StorageHost,
			User:        conf.StorageUser,
			StorageRoot: conf.StorageRoot,
			SSHKeyPath:  conf.SSHKeyPath,
			Workers:     *uploadWorkers,
		})
	}
	defer uploads.Shutdown()

	converter := pipeline.NewConverter(*workers, time.Duration(conf.ConvertTimeout)*time.Second)
	engine := whisper.NewEngine(whisper.Config{
		Cmd:     conf.WhisperCmd,
		Model:   conf.WhisperModel,
		Device:  conf.WhisperDevice,
		Timeout: time.Duration(conf.WhisperTimeout) * time.Second,
	})

	processor := pipeline.NewDayProcessor(pipeline.Options{
		Day:        day,
		ArchiveDir: *archiveDir,
		TempDir:    *tempDir,
		BatchSize:  *batchSize,
		JobID:      *jobID,
		UploadWait: *uploadWait,
	}, conn, converter, engine, uploads)

	if *tarFile != "" {
		err = processor.RunArchive(ctx, *tarFile)
	} else {
		err = processor.Run(ctx)
	}
	if err != nil {
		slog.Error("day processing failed", "day", day.String(), "error", err)
		os.Exit(1)
	}

	if *sidecarDir != "" {
		loader := tabledata.NewLoader(conn)
		if _, err := loader.LoadDir(ctx, *sidecarDir); err != nil {
			slog.Error("sidecar load failed", "dir", *sidecarDir, "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Day processing complete", "day", day.String())
}

func parseDay(s string) (db.Day, error) {
	if s == "" {
		return db.Day{}, fmt.Errorf("--date is required")
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return db.Day{}, err
	}
	return db.Day{Year: t.Year(), Month: int(t.Month()), Date: t.Day()}, nil
}
