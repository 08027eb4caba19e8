package model

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/quality"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// LatestFile is the name of the copy of the most recently deployed model
const LatestFile = "latest.json"

// Envelope is the persisted form of a trained model and its training context
type Envelope struct {
	Version         string                  `json:"version"`
	Algorithm       Algorithm               `json:"algorithm"`
	TrainedAt       time.Time               `json:"trainedAt"`
	FeatureNames    []string                `json:"featureNames"`
	Metrics         Metrics                 `json:"metrics"`
	TrainMetrics    Metrics                 `json:"trainMetrics"`
	CrossValidation *CVResult               `json:"crossValidation,omitempty"`
	Normalization   *features.Normalization `json:"normalization,omitempty"`
	QualityStats    quality.Stats           `json:"qualityStats"`
	Samples         int                     `json:"samples"`
	Importance      map[string]float64      `json:"featureImportance,omitempty"`
	Hyperparameters map[string]any          `json:"hyperparameters,omitempty"`
	Model           json.RawMessage         `json:"model"`
}

// NewEnvelope wraps a trained model with a fresh version id
func NewEnvelope(m Model, trainedAt time.Time) *Envelope {
	env := &Envelope{
		Version:      uuid.New().String(),
		Algorithm:    m.Algorithm(),
		TrainedAt:    trainedAt.UTC(),
		FeatureNames: m.FeatureNames(),
	}
	switch tm := m.(type) {
	case *LinearModel:
		env.Normalization = tm.Normalization
	case *SimilarityEnsembleModel:
		env.Normalization = tm.Normalization
	case *NeuralModel:
		env.Normalization = tm.Normalization
	}
	return env
}

// Decode rebuilds the model held by the envelope
func (e *Envelope) Decode() (Model, error) {
	var m Model
	switch e.Algorithm {
	case AlgorithmLinear:
		m = &LinearModel{}
	case AlgorithmEnsemble:
		m = &SimilarityEnsembleModel{}
	case AlgorithmNeural:
		m = &NeuralModel{}
	default:
		return nil, fmt.Errorf("unknown algorithm %q", e.Algorithm)
	}
	if err := json.Unmarshal(e.Model, m); err != nil {
		return nil, fmt.Errorf("failed to decode %s model: %w", e.Algorithm, err)
	}
	return m, nil
}

// FileStore keeps model envelopes as JSON files in a directory
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store directory
func (s *FileStore) Dir() string { return s.dir }

// Save writes env with m encoded into <algorithm>-<unix ms>.json and
// refreshes latest.json. It returns the path of the versioned file.
func (s *FileStore) Save(env *Envelope, m Model) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode model: %w", err)
	}
	env.Model = raw

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}

	name := fmt.Sprintf("%s-%d.json", env.Algorithm, env.TrainedAt.UnixMilli())
	path := filepath.Join(s.dir, name)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// Publish copies a saved model to latest.json. It is called once the model is
// deployed, so latest.json never holds a rejected candidate and its write
// signals watchers that the registry changed.
func (s *FileStore) Publish(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.dir, LatestFile), data)
}

// Load reads an envelope and decodes its model
func (s *FileStore) Load(path string) (*Envelope, Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	m, err := env.Decode()
	if err != nil {
		return nil, nil, err
	}
	return &env, m, nil
}

// LoadLatest loads latest.json
func (s *FileStore) LoadLatest() (*Envelope, Model, error) {
	return s.Load(filepath.Join(s.dir, LatestFile))
}

// List returns versioned model files, newest first
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == LatestFile || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, filepath.Join(s.dir, e.Name()))
	}
	sort.Slice(out, func(i, j int) bool { return stampOf(out[i]) > stampOf(out[j]) })
	return out, nil
}

func stampOf(path string) int64 {
	base := strings.TrimSuffix(filepath.Base(path), ".json")
	i := strings.LastIndex(base, "-")
	if i < 0 {
		return 0
	}
	ms, _ := strconv.ParseInt(base[i+1:], 10, 64)
	return ms
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func marshalJSON(v any) ([]byte, error)      { return json.Marshal(v) }
func unmarshalJSON(data []byte, v any) error { return json.Unmarshal(data, v) }
