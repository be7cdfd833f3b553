package loop

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := NewQueue(t.TempDir())
	for _, status := range []string{"pending", "running", "finished", "failed"} {
		require.NoError(t, os.MkdirAll(q.Dir(status), 0o755))
	}
	return q
}

func enqueue(t *testing.T, q *Queue, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(q.Dir("pending"), name)
	require.NoError(t, os.WriteFile(path, []byte("name: "+name), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestNextPendingOldestFirst(t *testing.T) {
	q := newTestQueue(t)
	now := time.Now()
	enqueue(t, q, "newer.yml", now)
	older := enqueue(t, q, "older.yml", now.Add(-time.Hour))

	next, err := q.NextPending()
	require.NoError(t, err)
	assert.Equal(t, older, next)
}

func TestNextPendingIgnoresNonPipelineFiles(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir("pending"), "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(q.Dir("pending"), "subdir"), 0o755))

	next, err := q.NextPending()
	require.NoError(t, err)
	assert.Empty(t, next)

	yaml := enqueue(t, q, "task.yaml", time.Now())
	next, err = q.NextPending()
	require.NoError(t, err)
	assert.Equal(t, yaml, next)
}

func TestNextPendingMissingDirIsEmpty(t *testing.T) {
	q := NewQueue(filepath.Join(t.TempDir(), "nonexistent"))
	next, err := q.NextPending()
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestMoveBetweenQueues(t *testing.T) {
	q := newTestQueue(t)
	src := enqueue(t, q, "task.yml", time.Now())

	dest, err := q.Move(src, "running")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(q.Dir("running"), "task.yml"), dest)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dest)
	assert.NoError(t, err)
}

func TestMoveCollisionKeepsBothFiles(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir("finished"), "job.yml"), []byte("old"), 0o644))
	src := enqueue(t, q, "job.yml", time.Now())

	dest, err := q.Move(src, "finished")
	require.NoError(t, err)

	base := filepath.Base(dest)
	assert.NotEqual(t, "job.yml", base)
	assert.True(t, strings.HasPrefix(base, "job-"))
	assert.True(t, strings.HasSuffix(base, ".yml"))

	entries, err := os.ReadDir(q.Dir("finished"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
