package tracker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotFile is the name of the pending batch snapshot inside the data dir.
const SnapshotFile = "tracker_batch.msgpack"

// snapshotVersion guards against decoding a layout written by another version.
const snapshotVersion = 1

type snapshot struct {
	Version int     `msgpack:"v"`
	Entries []Entry `msgpack:"entries"`
}

// Snapshots persists the pending batch as msgpack.
type Snapshots struct {
	path string
}

// NewSnapshots stores snapshots under dir.
func NewSnapshots(dir string) (*Snapshots, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &Snapshots{path: filepath.Join(dir, SnapshotFile)}, nil
}

// Save replaces the snapshot with entries. An empty batch removes it.
func (s *Snapshots) Save(entries []Entry) error {
	if len(entries) == 0 {
		return s.Remove()
	}
	raw, err := msgpack.Marshal(snapshot{Version: snapshotVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), SnapshotFile+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load returns the stored entries, or nil if there is no snapshot.
func (s *Snapshots) Load() ([]Entry, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d not supported", snap.Version)
	}
	return snap.Entries, nil
}

// Remove deletes the snapshot if present.
func (s *Snapshots) Remove() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
