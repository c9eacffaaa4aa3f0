// Package storage moves converted audio to its long-term home. Uploads are
// queued while processing continues, so slow transfers never stall the
// pipeline; callers collect completed uploads at the end of a run.
package storage

import (
	"context"
	"fmt"
	"time"
)

// UploadStatus describes where a queued upload currently is.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
	UploadNotFound  UploadStatus = "not_found"
)

// Stats is a snapshot of the upload counters.
type Stats struct {
	Queued    int
	Completed int
	Failed    int
	Retries   int
	Pending   int
}

func (s Stats) String() string {
	return fmt.Sprintf("queued=%d completed=%d failed=%d retries=%d pending=%d",
		s.Queued, s.Completed, s.Failed, s.Retries, s.Pending)
}

// Result is the outcome of one finished upload.
type Result struct {
	ID         string
	RemotePath string
	Err        error
}

// Manager queues audio uploads and reports on their progress.
type Manager interface {
	// Enqueue schedules an upload of localPath to remotePath, tracked
	// under id. It reports false when the file cannot be queued, e.g.
	// because it does not exist.
	Enqueue(localPath, remotePath, id string) bool

	// Status reports the current state of the upload tracked under id,
	// plus an error message for failed uploads.
	Status(id string) (UploadStatus, string)

	// WaitForCompletion blocks until every queued upload has finished or
	// the timeout elapses. Uploads still pending at the timeout are
	// cancelled and counted as failed.
	WaitForCompletion(ctx context.Context, timeout time.Duration) Stats

	// Completed returns the results of all uploads that finished
	// successfully so far.
	Completed() []Result

	// Stats returns a snapshot of the upload counters.
	Stats() Stats

	// Shutdown stops the workers after draining in-flight uploads.
	Shutdown()
}

// RemotePath builds the storage path for one audio file, relative to the
// storage root: audio/<year>/<month>/<day>/<timeslot>/<filename>.
func RemotePath(year, month, day int, timeslot, filename string) string {
	return fmt.Sprintf("audio/%d/%02d/%02d/%s/%s", year, month, day, timeslot, filename)
}
