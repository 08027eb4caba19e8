// Package retrain decides when to retrain the quality model and runs the
// train, evaluate and promote cycle.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/goccy/go-json"
)

// State records the trigger time of the last completed training attempt
type State struct {
	Timestamp int64  `json:"timestamp"`
	Date      string `json:"date"`
}

// NewState builds a State for t
func NewState(t time.Time) State {
	return State{
		Timestamp: t.UnixMilli(),
		Date:      t.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// Time returns the recorded trigger time
func (s State) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// StateStore is a single-record store for State. Get returns nil when no
// training attempt has completed yet.
type StateStore interface {
	Get(ctx context.Context) (*State, error)
	Set(ctx context.Context, state State) error
}

// FileStateStore keeps State in a JSON file replaced atomically on write
type FileStateStore struct {
	path string
}

// NewFileStateStore creates a store at path
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

func (s *FileStateStore) Get(ctx context.Context) (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("retrain state", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, apperrors.NewPersistenceError("retrain state", fmt.Errorf("malformed %s: %w", s.path, err))
	}
	return &state, nil
}

func (s *FileStateStore) Set(ctx context.Context, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return apperrors.NewPersistenceError("retrain state", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.NewPersistenceError("retrain state", err)
	}

	tmp, err := os.CreateTemp(dir, ".last-retrain.*")
	if err != nil {
		return apperrors.NewPersistenceError("retrain state", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.NewPersistenceError("retrain state", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewPersistenceError("retrain state", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return apperrors.NewPersistenceError("retrain state", err)
	}
	return nil
}
