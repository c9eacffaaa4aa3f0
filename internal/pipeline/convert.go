// Package pipeline turns raw archived audio into transcripts and durable
// storage: archives stream out in batches, each batch is converted to opus
// in parallel, transcribed, persisted, and queued for upload.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"corpuslab.systems/driftline/pkg/ffmpeg"
)

// ConvertResult pairs a source file with its converted output. OpusPath is
// empty when the conversion failed.
type ConvertResult struct {
	SourcePath string
	OpusPath   string
	Err        error
}

// ConvertFunc converts one audio file. The default implementation shells
// out to ffmpeg; tests substitute their own.
type ConvertFunc func(ctx context.Context, src, dst string) error

// Converter converts batches of audio files to opus with a bounded worker
// pool.
type Converter struct {
	workers int
	timeout time.Duration
	convert ConvertFunc
}

// NewConverter builds a Converter running at most workers conversions in
// parallel, each bounded by timeout.
func NewConverter(workers int, timeout time.Duration) *Converter {
	c := &Converter{workers: workers, timeout: timeout}
	c.convert = c.ffmpegConvert
	return c
}

// NewConverterFunc is NewConverter with an injected conversion function.
func NewConverterFunc(workers int, timeout time.Duration, fn ConvertFunc) *Converter {
	return &Converter{workers: workers, timeout: timeout, convert: fn}
}

// ConvertBatch converts paths to opus next to the sources. The returned
// slice has the same length and order as paths; individual failures are
// recorded per entry and never abort the batch.
func (c *Converter) ConvertBatch(ctx context.Context, paths []string) []ConvertResult {
	results := make([]ConvertResult, len(paths))
	if len(paths) == 0 {
		return results
	}

	limit := c.workers
	if len(paths) < limit {
		limit = len(paths)
	}
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, src := range paths {
		g.Go(func() error {
			dst := opusPath(src)
			convCtx := gctx
			if c.timeout > 0 {
				var cancel context.CancelFunc
				convCtx, cancel = context.WithTimeout(gctx, c.timeout)
				defer cancel()
			}

			err := c.convert(convCtx, src, dst)
			if err != nil {
				slog.Error("conversion failed", "file", filepath.Base(src), "error", err)
				results[i] = ConvertResult{SourcePath: src, Err: err}
				return nil
			}
			results[i] = ConvertResult{SourcePath: src, OpusPath: dst}
			return nil
		})
	}
	g.Wait()

	return results
}

func (c *Converter) ffmpegConvert(ctx context.Context, src, dst string) error {
	opts := append(ffmpeg.PresetOpusVoice(), ffmpeg.LogLevel("error"))
	return ffmpeg.Run(ctx, src, dst, opts...)
}

// Succeeded filters a result slice down to the successful conversions,
// preserving order.
func Succeeded(results []ConvertResult) []ConvertResult {
	out := make([]ConvertResult, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r)
		}
	}
	return out
}

func opusPath(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".opus"
}
