package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
)

// Collector produces the current capture of a workspace.
type Collector interface {
	Collect(ctx context.Context) (*Snapshot, error)
}

// FileCollector reads snapshot documents dropped into a spool directory by an
// external exporter. Collect returns the newest *.json file by name, which
// exporters are expected to timestamp.
type FileCollector struct {
	dir string
}

// NewFileCollector creates a collector over dir.
func NewFileCollector(dir string) *FileCollector {
	return &FileCollector{dir: dir}
}

// Collect loads the newest document in the spool directory.
func (c *FileCollector) Collect(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("snapshot in %s", c.dir))
	}
	sort.Strings(names)

	return LoadFile(filepath.Join(c.dir, names[len(names)-1]))
}

// LoadFile decodes a single snapshot document from disk.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}
