package server

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/database"
	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/model"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/rollout"
	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// VersionSource lists registry entries by status, newest first
type VersionSource interface {
	ModelsByStatus(ctx context.Context, status database.ModelStatus) ([]database.ModelVersion, error)
}

// Served is a loaded model with its registry entry
type Served struct {
	Version  database.ModelVersion
	Envelope *model.Envelope
	Model    model.Model
}

// ModelSet holds the models currently answering predictions
type ModelSet struct {
	store    *model.FileStore
	versions VersionSource
	logger   *monitoring.Logger
	onReload func()

	mu     sync.RWMutex
	arms   rollout.Arms
	loaded map[string]*Served
}

// NewModelSet creates an empty set. onReload runs after every successful
// reload and may be nil.
func NewModelSet(store *model.FileStore, versions VersionSource, logger *monitoring.Logger, onReload func()) *ModelSet {
	return &ModelSet{
		store:    store,
		versions: versions,
		logger:   logger,
		onReload: onReload,
		loaded:   make(map[string]*Served),
	}
}

// Reload loads the production versions from the registry. With no production
// version the most recently deployed model serves all traffic. An empty model
// directory leaves the set empty.
func (s *ModelSet) Reload(ctx context.Context) error {
	production, err := s.versions.ModelsByStatus(ctx, database.StatusProduction)
	if err != nil {
		return err
	}

	arms := rollout.FromProduction(production)
	loaded := make(map[string]*Served, 2)

	for _, v := range []*database.ModelVersion{arms.Control, arms.Candidate} {
		if v == nil {
			continue
		}
		env, m, err := s.store.Load(v.Path)
		if err != nil {
			return apperrors.NewPersistenceError("model "+v.ID, err)
		}
		loaded[v.ID] = &Served{Version: *v, Envelope: env, Model: m}
	}

	if arms.Control == nil {
		env, m, err := s.store.LoadLatest()
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.logger.Warn("No model available to serve", "dir", s.store.Dir())
		case err != nil:
			return apperrors.NewPersistenceError("latest model", err)
		default:
			version := database.ModelVersion{
				ID:             env.Version,
				Algorithm:      string(env.Algorithm),
				Path:           filepath.Join(s.store.Dir(), model.LatestFile),
				R2:             env.Metrics.R2,
				MAE:            env.Metrics.MAE,
				RMSE:           env.Metrics.RMSE,
				Samples:        env.Samples,
				Status:         database.StatusCandidate,
				TrafficPercent: 100,
				TrainedAt:      env.TrainedAt,
			}
			arms = rollout.Arms{Control: &version}
			loaded[version.ID] = &Served{Version: version, Envelope: env, Model: m}
		}
	}

	s.mu.Lock()
	s.arms = arms
	s.loaded = loaded
	s.mu.Unlock()

	if s.onReload != nil {
		s.onReload()
	}

	attrs := []any{"models", len(loaded)}
	if arms.Control != nil {
		attrs = append(attrs, "control", arms.Control.ID)
	}
	if arms.Candidate != nil {
		attrs = append(attrs, "candidate", arms.Candidate.ID, "candidate_traffic", arms.Candidate.TrafficPercent)
	}
	s.logger.Info("Models reloaded", attrs...)
	return nil
}

// Route picks the model serving userID
func (s *ModelSet) Route(userID string) (*Served, database.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, variant := s.arms.Route(userID)
	if version == nil {
		return nil, "", apperrors.NewUnavailableError("no model loaded")
	}
	served, ok := s.loaded[version.ID]
	if !ok {
		return nil, "", apperrors.NewUnavailableError("model " + version.ID + " not loaded")
	}
	return served, variant, nil
}

// Serving returns the loaded versions keyed by variant
func (s *ModelSet) Serving() map[database.Variant]database.ModelVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[database.Variant]database.ModelVersion, 2)
	if s.arms.Control != nil {
		out[database.VariantControl] = *s.arms.Control
	}
	if s.arms.Candidate != nil {
		out[database.VariantCandidate] = *s.arms.Candidate
	}
	return out
}

// Watch reloads the set whenever a model file in the store directory changes,
// until ctx is done
func (s *ModelSet) Watch(ctx context.Context) error {
	if err := os.MkdirAll(s.store.Dir(), 0755); err != nil {
		return apperrors.NewPersistenceError("model directory", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.NewInternalError("failed to create model watcher", err)
	}
	defer apperrors.SafeClose(watcher, "model watcher")

	if err := watcher.Add(s.store.Dir()); err != nil {
		return apperrors.NewPersistenceError("model directory", err)
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isModelEvent(event) {
				continue
			}
			// Saves write a temp file and rename; wait for the burst to settle
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := s.Reload(ctx); err != nil {
				s.logger.Error("Model reload failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Model watcher error", "error", err)
		}
	}
}

func isModelEvent(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".json") {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}
