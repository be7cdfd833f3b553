// Package loop drains a per-session queue of pipeline files, running each as
// one iteration of the pipeline runner.
package loop

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Queue is the on-disk pending/running/finished/failed layout of one loop
// session.
type Queue struct {
	root string // .../loops/<sessionId>
}

// NewQueue creates a Queue over a session directory.
func NewQueue(root string) *Queue {
	return &Queue{root: root}
}

// Dir returns the directory for one queue status.
func (q *Queue) Dir(status string) string {
	return filepath.Join(q.root, status)
}

// NextPending returns the pending pipeline file with the oldest mtime, or ""
// when the queue is empty. Only .yml/.yaml files count.
func (q *Queue) NextPending() (string, error) {
	entries, err := os.ReadDir(q.Dir("pending"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read pending queue: %w", err)
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var found []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{
			path:  filepath.Join(q.Dir("pending"), e.Name()),
			mtime: info.ModTime(),
		})
	}
	if len(found) == 0 {
		return "", nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mtime.Before(found[j].mtime) })
	return found[0].path, nil
}

// Move renames a queued file into another queue directory and returns the
// destination path. A name collision gets a -<unix-ms> suffix before the
// extension so nothing is overwritten.
func (q *Queue) Move(path string, status string) (string, error) {
	base := filepath.Base(path)
	dest := filepath.Join(q.Dir(status), base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dest = filepath.Join(q.Dir(status), fmt.Sprintf("%s-%d%s", stem, time.Now().UnixMilli(), ext))
	}
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("move %s to %s: %w", base, status, err)
	}
	return dest, nil
}

// copyTree copies src into dst recursively, overwriting existing files. Used
// to sync loop directories written inside a worktree back to the main
// repository.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
