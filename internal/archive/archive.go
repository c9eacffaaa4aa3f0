// Package archive reads audio members out of day-slot tar archives without
// extracting the whole archive at once. Archives may be plain tar, gzip
// compressed, or xz compressed.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"corpuslab.systems/driftline/pkg/utils/filename"
)

// ErrNoMembers is returned by StreamBatches when the archive holds no
// members matching the wanted extension.
var ErrNoMembers = errors.New("archive: no matching members")

// Reader streams members of one tar archive.
type Reader struct {
	path string
	ext  string // member extension filter, e.g. ".mp3"
}

// NewReader creates a Reader over the archive at path, selecting only
// members whose name ends with ext.
func NewReader(path, ext string) *Reader {
	return &Reader{path: path, ext: ext}
}

// open returns a tar reader over the (possibly compressed) archive and a
// close function releasing everything opened on the way.
func (r *Reader) open() (*tar.Reader, func() error, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, nil, fmt.Errorf("archive: open %s: %w", r.path, err)
	}

	var src io.Reader = f
	closers := []io.Closer{f}

	switch {
	case strings.HasSuffix(r.path, ".tar.gz"), strings.HasSuffix(r.path, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("archive: gzip %s: %w", r.path, err)
		}
		src = gz
		closers = append(closers, gz)
	case strings.HasSuffix(r.path, ".tar.xz"), strings.HasSuffix(r.path, ".txz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("archive: xz %s: %w", r.path, err)
		}
		src = xzr
	}

	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	return tar.NewReader(src), closeAll, nil
}

// CountMembers walks the archive and returns how many members match the
// extension filter.
func (r *Reader) CountMembers() (int, error) {
	tr, closeAll, err := r.open()
	if err != nil {
		return 0, err
	}
	defer closeAll()

	count := 0
	for {
		hdr, err := tr.Next()
		if err != nil {
			// EOF or a damaged stream both end the count.
			break
		}
		if r.wants(hdr) {
			count++
		}
	}
	return count, nil
}

// StreamBatches extracts matching members in batches of at most batchSize
// into per-batch subdirectories of workDir, calling fn with the extracted
// file paths. Each batch directory is removed after fn returns, whether or
// not fn succeeded. A non-nil error from fn stops the stream.
func (r *Reader) StreamBatches(ctx context.Context, workDir string, batchSize int, fn func(ctx context.Context, files []string) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("archive: batch size must be positive, got %d", batchSize)
	}

	tr, closeAll, err := r.open()
	if err != nil {
		return err
	}
	defer closeAll()

	batchNum := 0
	seen := 0
	var batch []string
	var batchDir string
	var used map[string]int

	flush := func() error {
		if len(batch) == 0 {
			if batchDir != "" {
				os.RemoveAll(batchDir)
				batchDir = ""
			}
			return nil
		}
		err := fn(ctx, batch)
		os.RemoveAll(batchDir)
		batch = nil
		batchDir = ""
		batchNum++
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			if batchDir != "" {
				os.RemoveAll(batchDir)
			}
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A damaged member ends the readable part of the stream.
			// Whatever extracted cleanly before it still gets flushed.
			slog.Warn("archive stream ended early", "archive", r.path, "error", err)
			break
		}
		if !r.wants(hdr) {
			continue
		}
		seen++

		if batchDir == "" {
			batchDir = filepath.Join(workDir, fmt.Sprintf("batch_%d", batchNum))
			if err := os.MkdirAll(batchDir, 0o755); err != nil {
				return fmt.Errorf("archive: create batch dir: %w", err)
			}
			used = make(map[string]int)
		}

		dest := filepath.Join(batchDir, uniqueName(used, filename.Member(hdr.Name)))
		if err := extractFile(tr, dest, hdr.Size); err != nil {
			slog.Warn("skipping archive member", "member", hdr.Name, "error", err)
			continue
		}
		batch = append(batch, dest)

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}
	if seen == 0 {
		return ErrNoMembers
	}
	return nil
}

// uniqueName keeps extracted names distinct inside one batch dir. Members in
// different archive subdirectories can share a base name; the second and later
// occurrences get a numeric suffix before the extension.
func uniqueName(used map[string]int, name string) string {
	n := used[name]
	used[name]++
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}

func (r *Reader) wants(hdr *tar.Header) bool {
	if hdr.Typeflag != tar.TypeReg {
		return false
	}
	return strings.HasSuffix(hdr.Name, r.ext)
}

func extractFile(src io.Reader, dest string, size int64) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return err
	}
	if n != size {
		os.Remove(dest)
		return fmt.Errorf("short extract: wrote %d of %d bytes", n, size)
	}
	return nil
}
