package storage

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DummyManager records uploads without transferring anything. Useful for
// dry runs and for environments without a reachable storage host.
type DummyManager struct {
	mu      sync.Mutex
	results map[string]Result
	stats   Stats
}

func NewDummyManager() *DummyManager {
	slog.Info("using dummy storage manager, no files will be transferred")
	return &DummyManager{results: make(map[string]Result)}
}

func (m *DummyManager) Enqueue(localPath, remotePath, id string) bool {
	if _, err := os.Stat(localPath); err != nil {
		slog.Error("cannot queue missing file", "path", localPath, "error", err)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Queued++
	m.stats.Completed++
	m.results[id] = Result{ID: id, RemotePath: remotePath}
	slog.Debug("dummy upload", "id", id, "path", remotePath)
	return true
}

func (m *DummyManager) Status(id string) (UploadStatus, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[id]; ok {
		return UploadCompleted, ""
	}
	return UploadNotFound, ""
}

func (m *DummyManager) WaitForCompletion(_ context.Context, _ time.Duration) Stats {
	return m.Stats()
}

func (m *DummyManager) Completed() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, 0, len(m.results))
	for _, res := range m.results {
		out = append(out, res)
	}
	return out
}

func (m *DummyManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *DummyManager) Shutdown() {}
