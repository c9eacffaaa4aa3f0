package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// ProbeResult contains audio file metadata.
type ProbeResult struct {
	AudioCodec      string  // Audio codec name (mp3, opus, etc.)
	AudioChannels   int     // Number of audio channels
	AudioSampleRate int     // Audio sample rate in Hz
	Duration        float64 // Duration in seconds
	Bitrate         int64   // Total bitrate in bits per second
	Size            int64   // File size in bytes
	FormatName      string  // Container format
}

// ffprobeOutput matches ffprobe JSON output structure.
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
}

// Probe runs ffprobe on a file and returns parsed audio metadata.
func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-hide_banner",
		"-loglevel", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w (%s)", path, err, stderr.String())
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("ffprobe %s: parse output: %w", path, err)
	}

	result := &ProbeResult{
		FormatName: out.Format.FormatName,
	}
	result.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	result.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	result.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}
		result.AudioCodec = s.CodecName
		result.AudioChannels = s.Channels
		result.AudioSampleRate, _ = strconv.Atoi(s.SampleRate)
		break
	}

	return result, nil
}
