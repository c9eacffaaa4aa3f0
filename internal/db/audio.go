package db

import (
	"context"
	"fmt"
	"time"
)

// AudioFile mirrors one row of audio_files.
type AudioFile struct {
	ID        int64
	Filename  string
	FilePath  *string
	Year      int
	Month     int
	Date      int
	CreatedAt time.Time
}

// InsertAudioFileParams contains the fields for a new audio_files row.
// FilePath starts NULL and is filled in after replication completes.
type InsertAudioFileParams struct {
	Filename string
	Year     int
	Month    int
	Date     int
}

// InsertTranscriptParams contains the fields for a new transcripts row.
type InsertTranscriptParams struct {
	AudioFileID     int64
	TranscriptText  string
	DurationSeconds float64
}

// InsertAudioWithTranscript inserts a file row and its dependent transcript
// row in a single transaction. The transcript row always references a
// committed file row; a failure on either insert rolls back both.
func (db *DatabaseConnection) InsertAudioWithTranscript(ctx context.Context, file InsertAudioFileParams, transcript string, durationSeconds float64) (int64, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var audioID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO audio_files (filename, file_path, year, month, date, created_at)
		VALUES ($1, NULL, $2, $3, $4, NOW())
		RETURNING id
	`, file.Filename, file.Year, file.Month, file.Date).Scan(&audioID)
	if err != nil {
		return 0, fmt.Errorf("insert audio file: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transcripts (audio_file_id, transcript_text, duration_seconds)
		VALUES ($1, $2, $3)
	`, audioID, transcript, durationSeconds)
	if err != nil {
		return 0, fmt.Errorf("insert transcript: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return audioID, nil
}

// UpdateAudioFilePath records the remote storage path once replication has
// completed. This is the only mutation audio_files rows receive after insert.
func (db *DatabaseConnection) UpdateAudioFilePath(ctx context.Context, audioID int64, storagePath string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE audio_files SET file_path = $1 WHERE id = $2
	`, storagePath, audioID)
	if err != nil {
		return fmt.Errorf("update audio file path: %w", err)
	}
	return nil
}

// GetAudioFile fetches a single audio_files row by id.
func (db *DatabaseConnection) GetAudioFile(ctx context.Context, id int64) (*AudioFile, error) {
	var af AudioFile
	err := db.Pool.QueryRow(ctx, `
		SELECT id, filename, file_path, year, month, date, created_at
		FROM audio_files WHERE id = $1
	`, id).Scan(&af.ID, &af.Filename, &af.FilePath, &af.Year, &af.Month, &af.Date, &af.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &af, nil
}

// CountAudioFilesForDay returns how many audio rows exist for a day, used by
// progress reporting and restart checks.
func (db *DatabaseConnection) CountAudioFilesForDay(ctx context.Context, year, month, date int) (int64, error) {
	var n int64
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM audio_files WHERE year = $1 AND month = $2 AND date = $3
	`, year, month, date).Scan(&n)
	return n, err
}
