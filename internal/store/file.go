package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"tollgate/internal/hitl"
)

// FileStore persists the snapshot as a JSON file. Writes go through a
// temp file plus rename so a crash mid-write never leaves a torn
// snapshot behind.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load(ctx context.Context) (hitl.Snapshot, error) {
	if f.Path == "" {
		return hitl.Snapshot{}, errors.New("path required")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return hitl.Snapshot{}, hitl.ErrNoSnapshot
		}
		return hitl.Snapshot{}, err
	}
	var snap hitl.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return hitl.Snapshot{}, err
	}
	return snap, nil
}

func (f *FileStore) Save(ctx context.Context, snap hitl.Snapshot) error {
	if f.Path == "" {
		return errors.New("path required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}
