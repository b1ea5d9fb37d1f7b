package cluster

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ingestq/internal/task"
)

// LocalDeepStorage keeps segment artifacts under a root directory on the
// local filesystem.
type LocalDeepStorage struct {
	root string
}

func NewLocalDeepStorage(root string) *LocalDeepStorage {
	return &LocalDeepStorage{root: root}
}

// Push copies the local artifact into deep storage and returns the segment
// with its load spec and size filled in.
func (d *LocalDeepStorage) Push(_ context.Context, localPath string, seg task.Segment) (task.Segment, error) {
	dest := filepath.Join(d.root, seg.DataSource,
		fmt.Sprintf("%s_%s", seg.Interval.Start.UTC().Format("2006-01-02T15:04:05"), seg.Interval.End.UTC().Format("2006-01-02T15:04:05")),
		seg.Version, fmt.Sprintf("%d", seg.Shard), "index.bin")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return task.Segment{}, fmt.Errorf("create segment dir: %w", err)
	}
	size, err := copyFile(localPath, dest)
	if err != nil {
		return task.Segment{}, fmt.Errorf("push segment %s: %w", seg.ID(), err)
	}
	seg.LoadSpec = map[string]any{"type": "local", "path": dest}
	seg.Size = size
	return seg, nil
}

// Delete removes the segment artifact referenced by its load spec. A missing
// file is not an error; deletion must be idempotent under retry.
func (d *LocalDeepStorage) Delete(_ context.Context, seg task.Segment) error {
	path, ok := seg.LoadSpec["path"].(string)
	if !ok || path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete segment artifact: %w", err)
	}
	// drop empty parent dirs, best effort
	for dir := filepath.Dir(path); dir != d.root && dir != "."; dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
