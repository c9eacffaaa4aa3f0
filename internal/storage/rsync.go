package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultWorkers     = 8
	defaultMaxAttempts = 3
	defaultPushTimeout = 5 * time.Minute
	queueCapacity      = 4096
)

// Transport performs the actual remote operations. It exists so upload
// scheduling and retries can be tested without a live SSH target.
type Transport interface {
	EnsureDir(ctx context.Context, remoteDir string) error
	Push(ctx context.Context, localPath, remotePath string) error
}

// RsyncConfig configures the async rsync upload manager.
type RsyncConfig struct {
	Host        string
	User        string
	StorageRoot string
	SSHKeyPath  string
	Workers     int
	MaxAttempts int
	PushTimeout time.Duration
}

type uploadTask struct {
	id         string
	localPath  string
	remotePath string
}

// AsyncRsyncManager uploads files to a remote host over rsync with a fixed
// worker pool and per-upload retries.
type AsyncRsyncManager struct {
	transport   Transport
	tasks       chan uploadTask
	wg          sync.WaitGroup
	cancel      context.CancelFunc
	maxAttempts int
	pushTimeout time.Duration

	mu      sync.Mutex
	active  map[string]struct{}
	results map[string]Result
	stats   Stats
}

// NewAsyncRsyncManager starts the upload workers and returns the manager.
func NewAsyncRsyncManager(cfg RsyncConfig) *AsyncRsyncManager {
	return newAsyncManager(cfg, newRsyncTransport(cfg))
}

func newAsyncManager(cfg RsyncConfig, transport Transport) *AsyncRsyncManager {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &AsyncRsyncManager{
		transport:   transport,
		tasks:       make(chan uploadTask, queueCapacity),
		cancel:      cancel,
		maxAttempts: cfg.MaxAttempts,
		pushTimeout: cfg.PushTimeout,
		active:      make(map[string]struct{}),
		results:     make(map[string]Result),
	}

	m.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go m.worker(ctx)
	}
	slog.Info("upload manager started", "workers", cfg.Workers, "max_attempts", cfg.MaxAttempts)
	return m
}

func (m *AsyncRsyncManager) Enqueue(localPath, remotePath, id string) bool {
	if _, err := os.Stat(localPath); err != nil {
		slog.Error("cannot queue missing file", "path", localPath, "error", err)
		return false
	}

	m.mu.Lock()
	m.active[id] = struct{}{}
	m.stats.Queued++
	m.mu.Unlock()

	m.tasks <- uploadTask{id: id, localPath: localPath, remotePath: remotePath}
	return true
}

func (m *AsyncRsyncManager) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-m.tasks:
			if !ok {
				return
			}
			m.execute(ctx, task)
		}
	}
}

func (m *AsyncRsyncManager) execute(ctx context.Context, task uploadTask) {
	backoff := retry.WithCappedDuration(30*time.Second,
		retry.NewExponential(time.Second))
	backoff = retry.WithMaxRetries(uint64(m.maxAttempts-1), backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			m.mu.Lock()
			m.stats.Retries++
			m.mu.Unlock()
		}

		pushCtx, cancel := context.WithTimeout(ctx, m.pushTimeout)
		defer cancel()

		if err := m.transport.EnsureDir(pushCtx, path.Dir(task.remotePath)); err != nil {
			return retry.RetryableError(fmt.Errorf("ensure remote dir: %w", err))
		}
		if err := m.transport.Push(pushCtx, task.localPath, task.remotePath); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})

	m.record(task, err)
	if err != nil {
		slog.Error("upload failed", "id", task.id, "path", task.remotePath, "attempts", attempt, "error", err)
	} else {
		slog.Debug("upload completed", "id", task.id, "path", task.remotePath)
	}
}

// record stores the outcome of one upload. It is idempotent per id so a
// timed-out upload cannot be counted twice.
func (m *AsyncRsyncManager) record(task uploadTask, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.results[task.id]; done {
		return
	}
	m.results[task.id] = Result{ID: task.id, RemotePath: task.remotePath, Err: err}
	delete(m.active, task.id)
	if err != nil {
		m.stats.Failed++
	} else {
		m.stats.Completed++
	}
}

func (m *AsyncRsyncManager) Status(id string) (UploadStatus, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.results[id]; ok {
		if res.Err != nil {
			return UploadFailed, res.Err.Error()
		}
		return UploadCompleted, ""
	}
	if _, ok := m.active[id]; ok {
		return UploadPending, ""
	}
	return UploadNotFound, ""
}

func (m *AsyncRsyncManager) WaitForCompletion(ctx context.Context, timeout time.Duration) Stats {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	logged := time.Now()
	for {
		m.mu.Lock()
		pending := len(m.active)
		m.mu.Unlock()
		if pending == 0 {
			return m.Stats()
		}

		if time.Since(logged) > 30*time.Second {
			slog.Info("waiting for uploads", "pending", pending)
			logged = time.Now()
		}

		expired := timeout > 0 && time.Now().After(deadline)
		if expired || ctx.Err() != nil {
			slog.Warn("upload completion timed out", "pending", pending)
			m.cancelPending()
			return m.Stats()
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// cancelPending stops the workers and marks every upload that has not
// finished as failed.
func (m *AsyncRsyncManager) cancelPending() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.active {
		m.results[id] = Result{ID: id, Err: fmt.Errorf("cancelled due to timeout")}
		m.stats.Failed++
		delete(m.active, id)
	}
}

func (m *AsyncRsyncManager) Completed() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, 0, len(m.results))
	for _, res := range m.results {
		if res.Err == nil {
			out = append(out, res)
		}
	}
	return out
}

func (m *AsyncRsyncManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Pending = len(m.active)
	return s
}

func (m *AsyncRsyncManager) Shutdown() {
	m.cancel()
	m.wg.Wait()
	slog.Info("upload manager stopped", "stats", m.Stats().String())
}

// rsyncTransport shells out to ssh and rsync.
type rsyncTransport struct {
	host        string
	user        string
	storageRoot string
	sshKeyPath  string
}

func newRsyncTransport(cfg RsyncConfig) *rsyncTransport {
	return &rsyncTransport{
		host:        cfg.Host,
		user:        cfg.User,
		storageRoot: cfg.StorageRoot,
		sshKeyPath:  cfg.SSHKeyPath,
	}
}

func (t *rsyncTransport) sshArgs() []string {
	args := []string{}
	if t.sshKeyPath != "" {
		args = append(args, "-i", t.sshKeyPath)
	}
	args = append(args,
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=30",
	)
	return args
}

func (t *rsyncTransport) EnsureDir(ctx context.Context, remoteDir string) error {
	if remoteDir == "" || remoteDir == "." {
		return nil
	}
	args := append(t.sshArgs(),
		fmt.Sprintf("%s@%s", t.user, t.host),
		"mkdir", "-p", path.Join(t.storageRoot, remoteDir),
	)
	return runQuiet(ctx, "ssh", args)
}

func (t *rsyncTransport) Push(ctx context.Context, localPath, remotePath string) error {
	sshCmd := "ssh"
	for _, a := range t.sshArgs() {
		sshCmd += " " + a
	}
	args := []string{
		"-e", sshCmd,
		"--archive",
		"--compress",
		"--partial",
		"--partial-dir=.rsync-partial",
		"--quiet",
		localPath,
		fmt.Sprintf("%s@%s:%s", t.user, t.host, path.Join(t.storageRoot, remotePath)),
	}
	return runQuiet(ctx, "rsync", args)
}

func runQuiet(ctx context.Context, name string, args []string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w (%s)", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
