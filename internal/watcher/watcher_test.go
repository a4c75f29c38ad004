package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls atomic.Int32
}

func (r *countingRefresher) Refresh(context.Context) error {
	r.calls.Add(1)
	return nil
}

func newTestWatcher(t *testing.T, debounce time.Duration) (string, *countingRefresher, *Watcher) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "roles.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("initial"), 0600))

	target := &countingRefresher{}
	w, err := New(dbPath, debounce, target, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })
	return dbPath, target, w
}

func TestWatcher_RefreshesOnWrite(t *testing.T) {
	dbPath, target, _ := newTestWatcher(t, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(dbPath, []byte("changed"), 0600))

	assert.Eventually(t, func() bool { return target.calls.Load() >= 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	dbPath, target, _ := newTestWatcher(t, 300*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(dbPath+"-wal", []byte{byte(i)}, 0600))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return target.calls.Load() >= 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dbPath, target, _ := newTestWatcher(t, 20*time.Millisecond)

	other := filepath.Join(filepath.Dir(dbPath), "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0600))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), target.calls.Load())
}

func TestWatcher_Matches(t *testing.T) {
	w := &Watcher{path: "/data/db/s1.db"}

	assert.True(t, w.matches("/data/db/s1.db"))
	assert.True(t, w.matches("/data/db/s1.db-wal"))
	assert.True(t, w.matches("/data/db/s1.db-journal"))
	assert.False(t, w.matches("/data/db/s1.dbx"))
	assert.False(t, w.matches("/data/db/s2.db"))
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	_, _, w := newTestWatcher(t, 20*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
