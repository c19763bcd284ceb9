package progress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileLedger stores State as a YAML document.
type FileLedger struct {
	path string
}

// NewFileLedger returns a ledger backed by the file at path.
// The file is created on the first Save.
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// Path returns the ledger file path.
func (f *FileLedger) Path() string {
	return f.path
}

func (f *FileLedger) Load(ctx context.Context) (State, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read ledger: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("parse ledger %s: %w", f.path, err)
	}
	if doc.Version > documentVersion {
		return State{}, fmt.Errorf("ledger %s has version %d, newer than supported %d", f.path, doc.Version, documentVersion)
	}
	return fromDocument(doc), nil
}

// Save writes the state to a temporary file in the same directory, syncs
// it, and renames it over the ledger.
func (f *FileLedger) Save(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toDocument(s)); err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return syncDir(dir)
}

func (f *FileLedger) Close() error { return nil }

// syncDir makes the rename durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open ledger dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync ledger dir: %w", err)
	}
	return nil
}
