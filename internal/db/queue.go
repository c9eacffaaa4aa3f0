package db

import (
	"context"
	"fmt"
	"time"
)

// QueueStatus enumerates the processing_queue state machine.
type QueueStatus string

const (
	StatusPending             QueueStatus = "pending"
	StatusTransferring        QueueStatus = "transferring"
	StatusReadyToProcess      QueueStatus = "ready_to_process"
	StatusProcessing          QueueStatus = "processing"
	StatusCompleted           QueueStatus = "completed"
	StatusCompletedWithErrors QueueStatus = "completed_with_errors"
	StatusProcessingFailed    QueueStatus = "processing_failed"
	StatusTransferFailed      QueueStatus = "transfer_failed"
)

// Day identifies one processing_queue row by its date.
type Day struct {
	Year  int
	Month int
	Date  int
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Date)
}

// QueueEntry mirrors one row of processing_queue.
type QueueEntry struct {
	ID              int64
	Day             Day
	Location        string
	Status          QueueStatus
	TransferTaskID  *string
	SlurmJobID      *int64
	ProcessingStart *time.Time
	ProcessingEnd   *time.Time
	ErrorMessage    *string
}

// Each status transition below is a dedicated method backed by a static
// UPDATE statement. The set of columns touched per transition is fixed and
// reviewable; nothing assembles SET clauses at runtime.

// MarkTransferring records the start of an inbound transfer with its
// external task handle.
func (db *DatabaseConnection) MarkTransferring(ctx context.Context, day Day, transferTaskID string) error {
	return db.execDayUpdate(ctx, day, `
		UPDATE processing_queue
		SET status = 'transferring', transfer_task_id = $4,
		    transfer_start = NOW(), updated_at = NOW()
		WHERE year = $1 AND month = $2 AND date = $3
	`, transferTaskID)
}

// MarkReadyToProcess records a finished inbound transfer.
func (db *DatabaseConnection) MarkReadyToProcess(ctx context.Context, day Day) error {
	return db.execDayUpdate(ctx, day, `
		UPDATE processing_queue
		SET status = 'ready_to_process', transfer_end = NOW(), updated_at = NOW()
		WHERE year = $1 AND month = $2 AND date = $3
	`)
}

// MarkTransferFailed records a failed inbound transfer with its error.
func (db *DatabaseConnection) MarkTransferFailed(ctx context.Context, day Day, errorMessage string) error {
	return db.execDayUpdate(ctx, day, `
		UPDATE processing_queue
		SET status = 'transfer_failed', error_message = $4, updated_at = NOW()
		WHERE year = $1 AND month = $2 AND date = $3
	`, errorMessage)
}

// MarkProcessing records the start of day processing with the external job
// handle running it.
func (db *DatabaseConnection) MarkProcessing(ctx context.Context, day Day, slurmJobID int64) error {
	return db.execDayUpdate(ctx, day, `
		UPDATE processing_queue
		SET status = 'processing', slurm_job_id = $4,
		    processing_start = NOW(), updated_at = NOW()
		WHERE year = $1 AND month = $2 AND date = $3
	`, slurmJobID)
}

// FinishProcessing records a finished day. The terminal status and any
// error message derive from the aggregate counters: zero failures means
// completed, mixed results mean completed_with_errors, and no successes at
// all mean processing_failed.
func (db *DatabaseConnection) FinishProcessing(ctx context.Context, day Day, processed, failed int) error {
	status := DeriveDayStatus(processed, failed)
	var errorMessage *string
	if failed > 0 {
		msg := fmt.Sprintf("Failed files: %d, Processed: %d", failed, processed)
		errorMessage = &msg
	}
	return db.execDayUpdate(ctx, day, `
		UPDATE processing_queue
		SET status = $4, error_message = $5,
		    processing_end = NOW(), updated_at = NOW()
		WHERE year = $1 AND month = $2 AND date = $3
	`, string(status), errorMessage)
}

// DeriveDayStatus maps aggregate day counters to a terminal status.
func DeriveDayStatus(processed, failed int) QueueStatus {
	switch {
	case failed == 0:
		return StatusCompleted
	case processed > 0:
		return StatusCompletedWithErrors
	default:
		return StatusProcessingFailed
	}
}

func (db *DatabaseConnection) execDayUpdate(ctx context.Context, day Day, query string, extra ...any) error {
	args := append([]any{day.Year, day.Month, day.Date}, extra...)
	tag, err := db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue status for %s: %w", day, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no processing_queue row for %s", day)
	}
	return nil
}

// PendingDates returns up to limit days still waiting to be scheduled,
// oldest first.
func (db *DatabaseConnection) PendingDates(ctx context.Context, limit int) ([]QueueEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, year, month, date, location, status,
		       transfer_task_id, slurm_job_id,
		       processing_start, processing_end, error_message
		FROM processing_queue
		WHERE status = 'pending'
		ORDER BY year, month, date
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending dates: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.ID, &e.Day.Year, &e.Day.Month, &e.Day.Date,
			&e.Location, &e.Status, &e.TransferTaskID, &e.SlurmJobID,
			&e.ProcessingStart, &e.ProcessingEnd, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ActiveJob returns the queue entry for a day if it is currently
// transferring or processing, so schedulers do not double-submit.
func (db *DatabaseConnection) ActiveJob(ctx context.Context, day Day) (*QueueEntry, error) {
	var e QueueEntry
	err := db.Pool.QueryRow(ctx, `
		SELECT id, year, month, date, location, status,
		       transfer_task_id, slurm_job_id,
		       processing_start, processing_end, error_message
		FROM processing_queue
		WHERE year = $1 AND month = $2 AND date = $3
		  AND status IN ('transferring', 'processing')
	`, day.Year, day.Month, day.Date).Scan(&e.ID, &e.Day.Year, &e.Day.Month,
		&e.Day.Date, &e.Location, &e.Status, &e.TransferTaskID, &e.SlurmJobID,
		&e.ProcessingStart, &e.ProcessingEnd, &e.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AddQueueEntry inserts a pending day. With skipExisting it leaves an
// existing (year, month, date, location) row untouched and reports false.
func (db *DatabaseConnection) AddQueueEntry(ctx context.Context, day Day, location string, skipExisting bool) (bool, error) {
	if skipExisting {
		tag, err := db.Pool.Exec(ctx, `
			INSERT INTO processing_queue (year, month, date, location, status, created_at)
			VALUES ($1, $2, $3, $4, 'pending', NOW())
			ON CONFLICT (year, month, date, location) DO NOTHING
		`, day.Year, day.Month, day.Date, location)
		if err != nil {
			return false, fmt.Errorf("add queue entry for %s: %w", day, err)
		}
		return tag.RowsAffected() > 0, nil
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO processing_queue (year, month, date, location, status, created_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW())
		ON CONFLICT (year, month, date, location)
		DO UPDATE SET status = 'pending', error_message = NULL, updated_at = NOW()
	`, day.Year, day.Month, day.Date, location)
	if err != nil {
		return false, fmt.Errorf("add queue entry for %s: %w", day, err)
	}
	return true, nil
}
