package pipeline

import (
	"context"
	"fmt"

	"corpuslab.systems/driftline/pkg/whisper"
)

// Transcriber produces one transcript per input path, in input order.
type Transcriber interface {
	TranscribeBatch(ctx context.Context, paths []string) ([]whisper.Transcript, error)
}

// transcribeAll runs the engine over the converted files and enforces the
// one-result-per-input contract so downstream zipping stays aligned.
func transcribeAll(ctx context.Context, t Transcriber, converted []ConvertResult) ([]whisper.Transcript, error) {
	paths := make([]string, len(converted))
	for i, c := range converted {
		paths[i] = c.OpusPath
	}

	transcripts, err := t.TranscribeBatch(ctx, paths)
	if err != nil {
		return nil, err
	}
	if len(transcripts) != len(paths) {
		return nil, fmt.Errorf("transcriber returned %d results for %d files", len(transcripts), len(paths))
	}
	return transcripts, nil
}
