package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuild(t *testing.T) {
	tests := []struct {
		name string
		cmd  *Command
		want []string
	}{
		{
			name: "bare copy",
			cmd:  NewCommand("in.mp3", "out.mp3"),
			want: []string{"-hide_banner", "-y", "-i", "in.mp3", "out.mp3"},
		},
		{
			name: "opus voice preset",
			cmd:  NewCommand("in.mp3", "out.opus", PresetOpusVoice()...),
			want: []string{
				"-hide_banner", "-y",
				"-i", "in.mp3",
				"-c:a", "libopus",
				"-b:a", "32k",
				"-application", "voip",
				"-vbr", "on",
				"-compression_level", "5",
				"-ac", "1",
				"-ar", "16000",
				"out.opus",
			},
		},
		{
			name: "loglevel before input",
			cmd:  NewCommand("in.wav", "out.opus", LogLevel("error"), AudioCodec("libopus")),
			want: []string{
				"-hide_banner", "-y",
				"-loglevel", "error",
				"-i", "in.wav",
				"-c:a", "libopus",
				"out.opus",
			},
		},
		{
			name: "strip video",
			cmd:  NewCommand("in.mkv", "out.opus", NoVideo, AudioCodec("libopus"), AudioBitrate("24k")),
			want: []string{
				"-hide_banner", "-y",
				"-i", "in.mkv",
				"-vn",
				"-c:a", "libopus",
				"-b:a", "24k",
				"out.opus",
			},
		},
		{
			name: "extra args appended",
			cmd:  NewCommand("in.mp3", "out.opus", AudioCodec("libopus"), ExtraArgs("-map_metadata", "-1")),
			want: []string{
				"-hide_banner", "-y",
				"-i", "in.mp3",
				"-c:a", "libopus",
				"-map_metadata", "-1",
				"out.opus",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.Build())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Args: []string{"-i", "in.mp3", "out.opus"},
		Stderr: "line one\n" +
			"line two\n" +
			"line three\n" +
			"line four\n",
		Err: errors.New("exit status 1"),
	}

	msg := err.Error()
	assert.Contains(t, msg, "exit status 1")
	assert.Contains(t, msg, "line four")
	assert.NotContains(t, msg, "line one")
	assert.Equal(t, "ffmpeg -i in.mp3 out.opus", err.Command())
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestConvertToOpus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "tone.wav")
	output := filepath.Join(dir, "tone.opus")

	// Generate a one second test tone.
	gen := exec.Command("ffmpeg", "-hide_banner", "-y",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=1", input)
	require.NoError(t, gen.Run())

	ctx := context.Background()
	res := NewCommand(input, output, PresetOpusVoice()...).RunCapture(ctx)
	require.NoError(t, res.Err, "ffmpeg logs:\n%s", res.Logs)

	info, err := os.Stat(output)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	probed, err := Probe(ctx, output)
	require.NoError(t, err)
	assert.Equal(t, "opus", probed.AudioCodec)
	assert.Equal(t, 1, probed.AudioChannels)
}
