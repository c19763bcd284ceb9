package rawstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/matchlog/internal/record"
)

// DirStore keeps one <id>.json file per record in a directory.
type DirStore struct {
	dir string
}

// OpenDir opens (creating if needed) a directory store.
func OpenDir(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir store: path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dir store: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// Path returns the file path for id.
func (d *DirStore) Path(id record.ID) string {
	return filepath.Join(d.dir, id.String()+".json")
}

func (d *DirStore) Exists(ctx context.Context, id record.ID) (bool, error) {
	_, err := os.Stat(d.Path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("exists %d: %w", id, err)
}

// Write writes the payload to a synced temporary file and hard-links it
// into place. link fails when the target exists, so a record file is never
// replaced and readers never observe a partial file.
func (d *DirStore) Write(ctx context.Context, rec record.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	target := d.Path(rec.ID)

	tmp, err := os.CreateTemp(d.dir, ".tmp-"+rec.ID.String()+"-*")
	if err != nil {
		return false, fmt.Errorf("write %d: %w", rec.ID, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(rec.Payload); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write %d: %w", rec.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write %d: sync: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("write %d: %w", rec.ID, err)
	}

	if err := os.Link(tmpName, target); err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("write %d: %w", rec.ID, err)
	}
	return true, nil
}

func (d *DirStore) Close() error { return nil }
