package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirDestination writes the export to a file in a local directory. The file
// is replaced atomically so readers never see a partial export.
type DirDestination struct {
	dir  string
	name string
}

// NewDirDestination returns a destination writing dir/name, creating dir
// if needed.
func NewDirDestination(dir, name string) (*DirDestination, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &DirDestination{dir: dir, name: name}, nil
}

// Path returns the file the destination writes.
func (d *DirDestination) Path() string {
	return filepath.Join(d.dir, d.name)
}

func (d *DirDestination) String() string {
	return "dir:" + d.Path()
}

// Write replaces the export file with data.
func (d *DirDestination) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, _, err := encodeFor(d.name, data)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, "."+d.name+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.Path()); err != nil {
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}
