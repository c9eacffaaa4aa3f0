package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"corpuslab.systems/driftline/internal/archive"
	"corpuslab.systems/driftline/internal/db"
	"corpuslab.systems/driftline/internal/storage"
	"corpuslab.systems/driftline/pkg/utils/format"
)

// Store is the database surface the orchestrator needs. Satisfied by
// *db.DatabaseConnection.
type Store interface {
	InsertAudioWithTranscript(ctx context.Context, file db.InsertAudioFileParams, transcript string, durationSeconds float64) (int64, error)
	UpdateAudioFilePath(ctx context.Context, audioID int64, storagePath string) error
	MarkProcessing(ctx context.Context, day db.Day, slurmJobID int64) error
	FinishProcessing(ctx context.Context, day db.Day, processed, failed int) error
}

// Options configures one day run.
type Options struct {
	Day        db.Day
	ArchiveDir string // where the day's tar archives live
	TempDir    string // scratch space for extraction
	BatchSize  int    // files per streamed batch
	JobID      int64  // scheduler job id recorded on the queue row, 0 if none
	UploadWait time.Duration
}

// DayProcessor drives the whole pipeline for one day of archives.
type DayProcessor struct {
	opts        Options
	store       Store
	converter   *Converter
	transcriber Transcriber
	uploads     storage.Manager

	// outbox holds converted files until their upload finishes. Batch
	// directories are removed as soon as a batch is done, so anything
	// queued for upload must first move out of them.
	outbox string

	processed    int
	failed       int
	audioSeconds float64
}

func NewDayProcessor(opts Options, store Store, converter *Converter, transcriber Transcriber, uploads storage.Manager) *DayProcessor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.UploadWait <= 0 {
		opts.UploadWait = 10 * time.Minute
	}
	return &DayProcessor{
		opts:        opts,
		store:       store,
		converter:   converter,
		transcriber: transcriber,
		uploads:     uploads,
	}
}

// Run processes every archive of the day and records the outcome on the
// processing queue. It returns an error only for failures that prevented
// the run itself; per-file failures are absorbed into the day status.
func (p *DayProcessor) Run(ctx context.Context) error {
	day := p.opts.Day
	slog.Info("processing day", "day", day.String(), "archive_dir", p.opts.ArchiveDir)

	if err := p.store.MarkProcessing(ctx, day, p.opts.JobID); err != nil {
		return fmt.Errorf("mark day processing: %w", err)
	}

	archives, err := archive.DiscoverDay(p.opts.ArchiveDir, day.Year, day.Month, day.Date)
	if err != nil {
		if ferr := p.store.FinishProcessing(ctx, day, 0, 0); ferr != nil {
			slog.Error("could not record day outcome", "day", day.String(), "error", ferr)
		}
		return err
	}
	if len(archives) == 0 {
		slog.Warn("no archives found for day", "day", day.String())
		return p.store.FinishProcessing(ctx, day, 0, 0)
	}
	slog.Info("found archives", "day", day.String(), "count", len(archives))

	workDir, err := os.MkdirTemp(p.opts.TempDir, fmt.Sprintf("day_%s_*", day.String()))
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	p.outbox = filepath.Join(workDir, "outbox")
	if err := os.MkdirAll(p.outbox, 0o755); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}

	for _, archivePath := range archives {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := p.processArchive(ctx, archivePath, workDir); err != nil {
			slog.Error("archive failed", "archive", filepath.Base(archivePath), "error", err)
			p.failed++
		}
	}

	p.finishUploads(ctx)

	slog.Info("day complete",
		"day", day.String(),
		"processed", p.processed,
		"failed", p.failed,
		"audio", format.Duration(p.audioSeconds))
	return p.store.FinishProcessing(ctx, day, p.processed, p.failed)
}

// RunArchive processes one named archive instead of discovering a whole
// day. The processing queue is left alone: when a scheduler fans a day out
// across jobs, the coordinator owns the day-level status.
func (p *DayProcessor) RunArchive(ctx context.Context, archivePath string) error {
	day := p.opts.Day
	slog.Info("processing single archive", "archive", filepath.Base(archivePath), "day", day.String())

	workDir, err := os.MkdirTemp(p.opts.TempDir, fmt.Sprintf("day_%s_*", day.String()))
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	p.outbox = filepath.Join(workDir, "outbox")
	if err := os.MkdirAll(p.outbox, 0o755); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}

	if err := p.processArchive(ctx, archivePath, workDir); err != nil {
		return err
	}
	p.finishUploads(ctx)

	slog.Info("archive complete",
		"archive", filepath.Base(archivePath),
		"processed", p.processed,
		"failed", p.failed,
		"audio", format.Duration(p.audioSeconds))
	return nil
}

// processArchive streams one timeslot archive through the batch pipeline.
func (p *DayProcessor) processArchive(ctx context.Context, archivePath, workDir string) error {
	info, err := archive.ParseName(archivePath)
	if err != nil {
		return err
	}

	reader := archive.NewReader(archivePath, ".mp3")
	count, err := reader.CountMembers()
	if err != nil {
		return err
	}
	slog.Info("processing archive", "archive", filepath.Base(archivePath), "timeslot", info.Timeslot, "files", count)

	err = reader.StreamBatches(ctx, workDir, p.opts.BatchSize, func(ctx context.Context, files []string) error {
		p.processBatch(ctx, info, files)
		return nil
	})
	if errors.Is(err, archive.ErrNoMembers) {
		slog.Warn("archive holds no audio", "archive", filepath.Base(archivePath))
		return nil
	}
	return err
}

// processBatch converts, transcribes, persists and queues uploads for one
// extracted batch. Failures are counted, never propagated; one bad file
// must not sink the rest of the day.
func (p *DayProcessor) processBatch(ctx context.Context, info archive.NameInfo, files []string) {
	results := p.converter.ConvertBatch(ctx, files)
	converted := Succeeded(results)
	p.failed += len(results) - len(converted)

	if len(converted) == 0 {
		slog.Warn("no successful conversions in batch", "files", len(files))
		return
	}

	transcripts, err := transcribeAll(ctx, p.transcriber, converted)
	if err != nil {
		slog.Error("batch transcription failed", "files", len(converted), "error", err)
		p.failed += len(converted)
		return
	}

	day := p.opts.Day
	for i, conv := range converted {
		filename := filepath.Base(conv.SourcePath)
		audioID, err := p.store.InsertAudioWithTranscript(ctx, db.InsertAudioFileParams{
			Filename: filename,
			Year:     day.Year,
			Month:    day.Month,
			Date:     day.Date,
		}, transcripts[i].Text, transcripts[i].DurationSeconds)
		if err != nil {
			slog.Error("failed to store transcript", "file", filename, "reason", insertFailureReason(err), "error", err)
			p.failed++
			continue
		}

		staged, err := p.stage(conv.OpusPath, info.Timeslot)
		if err != nil {
			slog.Error("failed to stage converted file", "file", filename, "error", err)
			p.failed++
			continue
		}

		remotePath := storage.RemotePath(day.Year, day.Month, day.Date, info.Timeslot, filepath.Base(staged))
		if !p.uploads.Enqueue(staged, remotePath, strconv.FormatInt(audioID, 10)) {
			slog.Error("failed to queue upload", "file", filename)
			p.failed++
			continue
		}
		p.processed++
		p.audioSeconds += transcripts[i].DurationSeconds
	}
}

// insertFailureReason classifies a persistence error for the log. Numeric
// overflow is the usual suspect: duration or stat values exceeding their
// column range on malformed media.
func insertFailureReason(err error) string {
	switch {
	case db.IsNumericOverflowErr(err):
		return "value out of column range"
	case db.IsUniqueViolationErr(err):
		return "duplicate row"
	default:
		return "insert failed"
	}
}

// stage moves a converted file from its batch directory into the outbox,
// where it survives batch cleanup until the upload queue is drained.
func (p *DayProcessor) stage(opusPath, timeslot string) (string, error) {
	dir := filepath.Join(p.outbox, timeslot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, filepath.Base(opusPath))
	if err := os.Rename(opusPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// finishUploads drains the upload queue and records the storage path of
// every file that made it to the remote host. The database is only touched
// from this goroutine.
func (p *DayProcessor) finishUploads(ctx context.Context) {
	slog.Info("waiting for uploads to finish")
	stats := p.uploads.WaitForCompletion(ctx, p.opts.UploadWait)
	slog.Info("upload queue drained", "stats", stats.String())

	for _, res := range p.uploads.Completed() {
		audioID, err := strconv.ParseInt(res.ID, 10, 64)
		if err != nil {
			slog.Error("unparseable upload id", "id", res.ID, "error", err)
			continue
		}
		if err := p.store.UpdateAudioFilePath(ctx, audioID, res.RemotePath); err != nil {
			slog.Error("failed to record storage path", "id", res.ID, "error", err)
		}
	}
}
