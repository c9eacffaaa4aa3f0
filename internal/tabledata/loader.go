package tabledata

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5"
	"github.com/parquet-go/parquet-go"

	"corpuslab.systems/driftline/internal/db"
)

const upsertChunkSize = 500

// row is what every sidecar record type provides: a natural key for
// in-batch deduplication and its column values in Spec order.
type row interface {
	Key() string
	Values(year, month, date int) []any
}

// Stats counts the rows upserted per table.
type Stats struct {
	Metadata  int
	Comments  int
	Subtitles int
}

// Loader reads parquet sidecar files and upserts them into Postgres.
type Loader struct {
	db *db.DatabaseConnection
}

func NewLoader(conn *db.DatabaseConnection) *Loader {
	return &Loader{db: conn}
}

// LoadDir processes every sidecar file found directly under dir. Files that
// cannot be read are logged and skipped; the rest still load.
func (l *Loader) LoadDir(ctx context.Context, dir string) (Stats, error) {
	var stats Stats
	var err error

	if stats.Metadata, err = loadTable[MetadataRow](ctx, l, dir, metadataSpec); err != nil {
		return stats, err
	}
	if stats.Comments, err = loadTable[CommentRow](ctx, l, dir, commentsSpec); err != nil {
		return stats, err
	}
	if stats.Subtitles, err = loadTable[SubtitleRow](ctx, l, dir, subtitlesSpec); err != nil {
		return stats, err
	}

	slog.Info("sidecar load complete",
		"metadata", humanize.Comma(int64(stats.Metadata)),
		"comments", humanize.Comma(int64(stats.Comments)),
		"subtitles", humanize.Comma(int64(stats.Subtitles)))
	return stats, nil
}

// entry pins a parsed row to the day its source file covers.
type entry[T row] struct {
	row T
	day db.Day
}

func loadTable[T row](ctx context.Context, l *Loader, dir string, spec Spec) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*"+spec.Suffix))
	if err != nil {
		return 0, fmt.Errorf("glob %s: %w", spec.Suffix, err)
	}
	sort.Strings(files)
	if len(files) == 0 {
		return 0, nil
	}
	slog.Info("loading sidecar files", "table", spec.Table, "files", len(files))

	var entries []entry[T]
	for _, f := range files {
		day, err := dateFromFilename(filepath.Base(f))
		if err != nil {
			slog.Warn("skipping undated sidecar file", "file", filepath.Base(f))
			continue
		}
		rows, err := readParquet[T](f)
		if err != nil {
			slog.Error("failed to read sidecar file", "file", filepath.Base(f), "error", err)
			continue
		}
		slog.Debug("read sidecar file", "file", filepath.Base(f), "rows", len(rows), "day", day.String())
		for _, r := range rows {
			entries = append(entries, entry[T]{row: r, day: day})
		}
	}

	deduped := dedupeKeepLast(entries)
	if n := len(entries) - len(deduped); n > 0 {
		slog.Warn("dropped duplicate rows in batch", "table", spec.Table, "duplicates", n)
	}

	if err := upsertEntries(ctx, l.db, spec, deduped); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", spec.Table, err)
	}
	return len(deduped), nil
}

// dedupeKeepLast collapses entries sharing a natural key within the same
// day, keeping the last occurrence.
func dedupeKeepLast[T row](entries []entry[T]) []entry[T] {
	out := make([]entry[T], 0, len(entries))
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		key := e.row.Key() + "|" + e.day.String()
		if i, ok := index[key]; ok {
			out[i] = e
			continue
		}
		index[key] = len(out)
		out = append(out, e)
	}
	return out
}

func upsertEntries[T row](ctx context.Context, conn *db.DatabaseConnection, spec Spec, entries []entry[T]) error {
	sql := spec.upsertSQL()
	for start := 0; start < len(entries); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(entries) {
			end = len(entries)
		}

		batch := &pgx.Batch{}
		for _, e := range entries[start:end] {
			batch.Queue(sql, e.row.Values(e.day.Year, e.day.Month, e.day.Date)...)
		}
		if err := conn.Pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}
	return nil
}

func readParquet[T row](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

var datePattern = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)

// dateFromFilename pulls the YYYY-MM-DD a sidecar file covers out of its
// name, e.g. 2025-01-31_metadata.parquet.
func dateFromFilename(name string) (db.Day, error) {
	m := datePattern.FindStringSubmatch(name)
	if m == nil {
		return db.Day{}, fmt.Errorf("no date in filename %q", name)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	date, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || date < 1 || date > 31 {
		return db.Day{}, fmt.Errorf("invalid date in filename %q", name)
	}
	return db.Day{Year: year, Month: month, Date: date}, nil
}
