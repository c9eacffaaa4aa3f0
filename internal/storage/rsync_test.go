package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport scripts per-path outcomes so retry behaviour can be
// exercised without a real SSH target.
type fakeTransport struct {
	mu        sync.Mutex
	failures  map[string]int // remote path -> failures before success
	attempts  map[string]int
	pushDelay time.Duration
	block     chan struct{} // when set, Push blocks until closed
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failures: make(map[string]int),
		attempts: make(map[string]int),
	}
}

func (f *fakeTransport) EnsureDir(_ context.Context, _ string) error { return nil }

func (f *fakeTransport) Push(ctx context.Context, _ string, remotePath string) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.pushDelay > 0 {
		select {
		case <-time.After(f.pushDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[remotePath]++
	if f.failures[remotePath] > 0 {
		f.failures[remotePath]--
		return fmt.Errorf("simulated transfer failure")
	}
	return nil
}

func tempFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.opus")
	require.NoError(t, os.WriteFile(path, []byte("opus bytes"), 0o644))
	return path
}

func testConfig() RsyncConfig {
	return RsyncConfig{
		Host:        "storage.example.com",
		User:        "audio_user",
		StorageRoot: "/opt/audio_storage",
		Workers:     2,
		MaxAttempts: 3,
		PushTimeout: 5 * time.Second,
	}
}

func TestEnqueueMissingFile(t *testing.T) {
	m := newAsyncManager(testConfig(), newFakeTransport())
	defer m.Shutdown()

	ok := m.Enqueue("/nonexistent/file.opus", "audio/2025/01/31/23_50/file.opus", "1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Stats().Queued)
}

func TestUploadSucceeds(t *testing.T) {
	ft := newFakeTransport()
	m := newAsyncManager(testConfig(), ft)
	defer m.Shutdown()

	local := tempFile(t)
	remote := RemotePath(2025, 1, 31, "23_50", "sample.opus")
	require.True(t, m.Enqueue(local, remote, "42"))

	stats := m.WaitForCompletion(context.Background(), 10*time.Second)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Pending)

	status, msg := m.Status("42")
	assert.Equal(t, UploadCompleted, status)
	assert.Empty(t, msg)

	completed := m.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, "42", completed[0].ID)
	assert.Equal(t, remote, completed[0].RemotePath)
}

func TestUploadRetriesThenSucceeds(t *testing.T) {
	ft := newFakeTransport()
	local := tempFile(t)
	remote := RemotePath(2025, 1, 31, "23_50", "sample.opus")
	ft.failures[remote] = 2 // fail twice, succeed on the third attempt

	m := newAsyncManager(testConfig(), ft)
	defer m.Shutdown()

	require.True(t, m.Enqueue(local, remote, "7"))
	stats := m.WaitForCompletion(context.Background(), 30*time.Second)

	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Failed)
	assert.GreaterOrEqual(t, stats.Retries, 2)
	ft.mu.Lock()
	assert.Equal(t, 3, ft.attempts[remote])
	ft.mu.Unlock()
}

func TestUploadExhaustsRetries(t *testing.T) {
	ft := newFakeTransport()
	local := tempFile(t)
	remote := RemotePath(2025, 1, 31, "23_50", "sample.opus")
	ft.failures[remote] = 100

	m := newAsyncManager(testConfig(), ft)
	defer m.Shutdown()

	require.True(t, m.Enqueue(local, remote, "9"))
	stats := m.WaitForCompletion(context.Background(), 30*time.Second)

	assert.Equal(t, 0, stats.Completed)
	assert.Equal(t, 1, stats.Failed)

	status, msg := m.Status("9")
	assert.Equal(t, UploadFailed, status)
	assert.Contains(t, msg, "simulated transfer failure")
	assert.Empty(t, m.Completed())
}

func TestWaitForCompletionTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.block = make(chan struct{})
	defer close(ft.block)

	m := newAsyncManager(testConfig(), ft)
	defer m.Shutdown()

	local := tempFile(t)
	require.True(t, m.Enqueue(local, RemotePath(2025, 1, 31, "23_50", "sample.opus"), "5"))

	stats := m.WaitForCompletion(context.Background(), 500*time.Millisecond)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pending)

	status, msg := m.Status("5")
	assert.Equal(t, UploadFailed, status)
	assert.Contains(t, msg, "cancelled")
}

func TestStatusNotFound(t *testing.T) {
	m := newAsyncManager(testConfig(), newFakeTransport())
	defer m.Shutdown()

	status, _ := m.Status("no-such-id")
	assert.Equal(t, UploadNotFound, status)
}

func TestRemotePath(t *testing.T) {
	got := RemotePath(2025, 1, 31, "23_50", "call.opus")
	assert.Equal(t, "audio/2025/01/31/23_50/call.opus", got)
}

func TestDummyManager(t *testing.T) {
	m := NewDummyManager()
	defer m.Shutdown()

	local := tempFile(t)
	require.True(t, m.Enqueue(local, "audio/2025/01/31/23_50/sample.opus", "1"))
	assert.False(t, m.Enqueue("/nope.opus", "audio/x", "2"))

	stats := m.WaitForCompletion(context.Background(), time.Second)
	assert.Equal(t, 1, stats.Completed)

	status, _ := m.Status("1")
	assert.Equal(t, UploadCompleted, status)
	require.Len(t, m.Completed(), 1)
}
