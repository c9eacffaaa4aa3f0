package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func copyConvert(_ context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func TestConvertBatchPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.mp3", "b.mp3", "c.mp3"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
		paths = append(paths, p)
	}

	c := NewConverterFunc(2, time.Minute, copyConvert)
	results := c.ConvertBatch(context.Background(), paths)

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, paths[i], r.SourcePath)
		assert.NoError(t, r.Err)
		assert.Equal(t, strings.TrimSuffix(paths[i], ".mp3")+".opus", r.OpusPath)
		_, err := os.Stat(r.OpusPath)
		assert.NoError(t, err)
	}
}

func TestConvertBatchRecordsFailures(t *testing.T) {
	fail := errors.New("encoder exploded")
	fn := func(_ context.Context, src, dst string) error {
		if strings.Contains(src, "bad") {
			return fail
		}
		return os.WriteFile(dst, []byte("ok"), 0o644)
	}

	dir := t.TempDir()
	good := filepath.Join(dir, "good.mp3")
	bad := filepath.Join(dir, "bad.mp3")
	require.NoError(t, os.WriteFile(good, nil, 0o644))
	require.NoError(t, os.WriteFile(bad, nil, 0o644))

	c := NewConverterFunc(4, time.Minute, fn)
	results := c.ConvertBatch(context.Background(), []string{good, bad})

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, fail)
	assert.Empty(t, results[1].OpusPath)

	assert.Len(t, Succeeded(results), 1)
}

func TestConvertBatchBoundsParallelism(t *testing.T) {
	var current, peak atomic.Int32
	var mu sync.Mutex

	fn := func(_ context.Context, _, dst string) error {
		n := current.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return os.WriteFile(dst, nil, 0o644)
	}

	dir := t.TempDir()
	var paths []string
	for i := 0; i < 8; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".mp3")
		require.NoError(t, os.WriteFile(p, nil, 0o644))
		paths = append(paths, p)
	}

	c := NewConverterFunc(2, time.Minute, fn)
	c.ConvertBatch(context.Background(), paths)

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestConvertBatchEmpty(t *testing.T) {
	c := NewConverter(4, time.Minute)
	assert.Empty(t, c.ConvertBatch(context.Background(), nil))
}
