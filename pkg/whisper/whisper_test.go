package whisper

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWhisperScript stands in for the real transcription tool. It refuses
// batches of more than one file and any file whose name contains "bad";
// otherwise it writes the expected JSON document per input.
const fakeWhisperScript = `#!/bin/sh
outdir=""
nfiles=0
files=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output_dir) outdir="$2"; shift 2 ;;
    --model|--device|--output_format|--compute_type|--language) shift 2 ;;
    *) files="$files $1"; nfiles=$((nfiles+1)); shift ;;
  esac
done
if [ "$nfiles" -gt 1 ]; then
  echo "out of memory" >&2
  exit 1
fi
for f in $files; do
  case "$f" in
    *bad*) echo "decode error" >&2; exit 1 ;;
  esac
  base=$(basename "$f")
  stem="${base%.*}"
  printf '{"segments":[{"text":"spoken words","start":0,"end":2.5}]}' > "$outdir/$stem.json"
done
`

func TestParseResult(t *testing.T) {
	tests := []struct {
		name         string
		data         string
		wantText     string
		wantDuration float64
		wantErr      bool
	}{
		{
			name:         "segments joined with whitespace trimmed",
			data:         `{"segments":[{"text":" Hello there. ","start":0,"end":2.4},{"text":"General greeting.","start":2.4,"end":5.1}]}`,
			wantText:     "Hello there. General greeting.",
			wantDuration: 5.1,
		},
		{
			name:         "empty segments",
			data:         `{"segments":[]}`,
			wantText:     "",
			wantDuration: 0,
		},
		{
			name:         "blank segments dropped",
			data:         `{"segments":[{"text":"   ","start":0,"end":1.0},{"text":"ok","start":1.0,"end":2.0}]}`,
			wantText:     "ok",
			wantDuration: 2.0,
		},
		{
			name:    "malformed json",
			data:    `{"segments":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResult([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, got.Text)
			assert.InDelta(t, tt.wantDuration, got.DurationSeconds, 0.001)
		})
	}
}

func TestOutputPathFor(t *testing.T) {
	got := outputPathFor("/tmp/out", "/work/0_2025-01-31_23_50/foo_bar.opus")
	assert.Equal(t, filepath.Join("/tmp/out", "foo_bar.json"), got)
}

func TestTranscribeBatchEmpty(t *testing.T) {
	e := NewEngine(Config{Cmd: "whisperx"})
	got, err := e.TranscribeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTranscribeBatchFallsBackPerFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "fakewhisper")
	require.NoError(t, os.WriteFile(script, []byte(fakeWhisperScript), 0o755))

	paths := []string{
		filepath.Join(dir, "one.mp3"),
		filepath.Join(dir, "bad.mp3"),
		filepath.Join(dir, "three.mp3"),
	}
	for _, p := range paths {
		require.NoError(t, os.WriteFile(p, []byte("audio"), 0o644))
	}

	e := NewEngine(Config{Cmd: script, Timeout: 30 * time.Second})
	got, err := e.TranscribeBatch(context.Background(), paths)
	require.NoError(t, err)

	// The batch invocation fails, every file is retried on its own, and
	// the output keeps the input's length and order.
	require.Len(t, got, len(paths))
	assert.Equal(t, "spoken words", got[0].Text)
	assert.InDelta(t, 2.5, got[0].DurationSeconds, 0.001)
	assert.Equal(t, Transcript{}, got[1])
	assert.Equal(t, "spoken words", got[2].Text)
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(Config{})
	assert.Equal(t, "whisperx", e.cfg.Cmd)
	assert.Equal(t, "large-v2", e.cfg.Model)
	assert.Equal(t, "cpu", e.cfg.Device)
}
