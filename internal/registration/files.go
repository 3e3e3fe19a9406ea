package registration

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/solatis/engage/internal/types"
)

// Intent file names. Opt-in and opt-out share one file, so the newest
// choice replaces an unsent older one.
const (
	FileSetUser    = "register_data.json"
	FileUnregister = "unregister_data.json"
	FileOptInOut   = "opt_in_out_data.json"
)

func fileFor(k Kind) string {
	switch k {
	case KindUnregister:
		return FileUnregister
	case KindOptIn, KindOptOut:
		return FileOptInOut
	default:
		return FileSetUser
	}
}

// FileStore persists at most one intent per file under dir.
// It is only used from the Machine's queue.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create intent directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes intent, replacing any intent stored in the same file.
// The write goes through a temp file and rename so a crash never leaves a
// truncated intent behind.
func (s *FileStore) Save(intent Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}

	path := filepath.Join(s.dir, fileFor(intent.Kind))
	tmp, err := os.CreateTemp(s.dir, ".intent-*")
	if err != nil {
		return fmt.Errorf("persist intent: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist intent: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persist intent: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist intent: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("persist intent: %w", err)
	}
	return nil
}

// Load returns the intent stored for k.
// types.ErrIntentNotFound means nothing is pending. The shared opt file
// only answers for the kind it actually holds.
func (s *FileStore) Load(k Kind) (Intent, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, fileFor(k)))
	if errors.Is(err, fs.ErrNotExist) {
		return Intent{}, types.ErrIntentNotFound
	}
	if err != nil {
		return Intent{}, fmt.Errorf("read intent: %w", err)
	}

	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return Intent{}, fmt.Errorf("decode intent %s: %w", fileFor(k), err)
	}
	if intent.Kind != k {
		return Intent{}, types.ErrIntentNotFound
	}
	return intent, nil
}

// Clear removes the file for intent if it still holds that intent.
// A newer intent written to the same file meanwhile is left in place.
func (s *FileStore) Clear(intent Intent) error {
	stored, err := s.Load(intent.Kind)
	if errors.Is(err, types.ErrIntentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stored.ID != intent.ID {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, fileFor(intent.Kind))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear intent: %w", err)
	}
	return nil
}

// Discard removes a file that cannot be decoded.
func (s *FileStore) Discard(k Kind) error {
	if err := os.Remove(filepath.Join(s.dir, fileFor(k))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
