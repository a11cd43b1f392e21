package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type eventLog struct {
	mu     sync.Mutex
	events []FileEvent
}

func (l *eventLog) add(ev FileEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ops() []FileOp {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FileOp, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Op)
	}
	return out
}

func newTestWatcher(t *testing.T, path string) (*FileWatcher, *eventLog) {
	t.Helper()
	w, err := NewFileWatcher(path,
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond),
		WithWatcherLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	log := &eventLog{}
	w.OnChange(log.add)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	require.NoError(t, w.Start(ctx))
	return w, log
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}

func TestNewFileWatcher_EmptyPath(t *testing.T) {
	_, err := NewFileWatcher("")
	assert.Error(t, err)
}

func TestFileWatcher_DetectsWrite(t *testing.T) {
	path := writeConfig(t, "poller:\n  interval: 1s\n")
	// 确保修改时间严格增加
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	w, log := newTestWatcher(t, path)
	assert.True(t, w.IsRunning())
	assert.Equal(t, path, w.Path())

	require.NoError(t, os.WriteFile(path, []byte("poller:\n  interval: 2s\n"), 0o644))

	assert.Eventually(t, func() bool {
		ops := log.ops()
		return len(ops) == 1 && ops[0] == FileOpWrite
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_DetectsSizeChangeWithSameModTime(t *testing.T) {
	path := writeConfig(t, "poller:\n  interval: 1s\n")
	stamp := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	_, log := newTestWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("poller:\n  interval: 1500ms\n"), 0o644))
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	assert.Eventually(t, func() bool {
		ops := log.ops()
		return len(ops) == 1 && ops[0] == FileOpWrite
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_DetectsCreateAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.yaml")
	_, log := newTestWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	assert.Eventually(t, func() bool {
		ops := log.ops()
		return len(ops) == 1 && ops[0] == FileOpCreate
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		ops := log.ops()
		return len(ops) == 2 && ops[1] == FileOpRemove
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_StartTwice(t *testing.T) {
	path := writeConfig(t, "{}")
	w, _ := newTestWatcher(t, path)

	assert.Error(t, w.Start(context.Background()))
}

func TestFileWatcher_StopIdempotent(t *testing.T) {
	path := writeConfig(t, "{}")
	w, _ := newTestWatcher(t, path)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}
