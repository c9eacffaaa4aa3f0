// Package whisper runs speech-to-text over audio files by invoking a
// whisper-compatible command line tool as a subprocess. Running the model
// out-of-process means accelerator memory is returned to the OS when the
// subprocess exits, so repeated batches never accumulate.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Transcript is the result of transcribing one audio file.
type Transcript struct {
	Text            string
	DurationSeconds float64
}

// Config controls how the transcription subprocess is invoked.
type Config struct {
	Cmd      string        // command name, e.g. "whisperx"
	Model    string        // model name, e.g. "large-v2"
	Device   string        // "cuda" or "cpu"
	Language string        // empty means auto-detect
	Timeout  time.Duration // per invocation; zero means no timeout
}

// Engine transcribes audio files in batches.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.Cmd == "" {
		cfg.Cmd = "whisperx"
	}
	if cfg.Model == "" {
		cfg.Model = "large-v2"
	}
	if cfg.Device == "" {
		cfg.Device = "cpu"
	}
	return &Engine{cfg: cfg}
}

// TranscribeBatch transcribes all the given audio files in one subprocess
// invocation. The returned slice always has the same length and order as
// paths. A file that could not be transcribed, even after a per-file retry,
// gets a zero-value Transcript rather than failing the batch.
func (e *Engine) TranscribeBatch(ctx context.Context, paths []string) ([]Transcript, error) {
	results := make([]Transcript, len(paths))
	if len(paths) == 0 {
		return results, nil
	}

	outputDir, err := os.MkdirTemp("", "whisper-out-*")
	if err != nil {
		return nil, fmt.Errorf("whisper: create output dir: %w", err)
	}
	defer os.RemoveAll(outputDir)

	if err := e.run(ctx, paths, outputDir); err != nil {
		slog.Warn("batch transcription failed, retrying per file", "files", len(paths), "error", err)
	}

	for i, p := range paths {
		t, err := readResult(outputPathFor(outputDir, p))
		if err == nil {
			results[i] = t
			continue
		}

		// Batch output missing for this file. Retry it on its own so one
		// bad file cannot sink its neighbours.
		if retryErr := e.run(ctx, []string{p}, outputDir); retryErr != nil {
			slog.Error("transcription failed", "file", filepath.Base(p), "error", retryErr)
			continue
		}
		t, err = readResult(outputPathFor(outputDir, p))
		if err != nil {
			slog.Error("transcription output missing", "file", filepath.Base(p), "error", err)
			continue
		}
		results[i] = t
	}

	return results, nil
}

func (e *Engine) run(ctx context.Context, paths []string, outputDir string) error {
	cmdPath, err := exec.LookPath(e.cfg.Cmd)
	if err != nil {
		return fmt.Errorf("whisper: command not found: %w", err)
	}

	args := append([]string{}, paths...)
	args = append(args,
		"--model", e.cfg.Model,
		"--device", e.cfg.Device,
		"--output_format", "json",
		"--output_dir", outputDir,
	)
	if e.cfg.Language != "" && !strings.EqualFold(e.cfg.Language, "auto") {
		args = append(args, "--language", e.cfg.Language)
	}
	if e.cfg.Device == "cpu" {
		args = append(args, "--compute_type", "float32")
	}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	var buf bytes.Buffer
	cmd := exec.CommandContext(runCtx, cmdPath, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(buf.String())
		if len(out) > 500 {
			out = out[len(out)-500:]
		}
		return fmt.Errorf("whisper failed: %w (output=%s)", err, out)
	}
	return nil
}

// resultFile matches the JSON document whisperx writes per input file.
type resultFile struct {
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// outputPathFor returns where the subprocess writes the JSON result for the
// given input audio path.
func outputPathFor(outputDir, audioPath string) string {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return filepath.Join(outputDir, base+".json")
}

func readResult(path string) (Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Transcript{}, err
	}
	return parseResult(data)
}

func parseResult(data []byte) (Transcript, error) {
	var rf resultFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return Transcript{}, fmt.Errorf("whisper: parse result: %w", err)
	}

	parts := make([]string, 0, len(rf.Segments))
	var duration float64
	for _, s := range rf.Segments {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
		if s.End > duration {
			duration = s.End
		}
	}

	return Transcript{
		Text:            strings.Join(parts, " "),
		DurationSeconds: duration,
	}, nil
}
