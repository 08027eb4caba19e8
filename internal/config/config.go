// Package config loads beastml configuration from YAML, .env and environment.
package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/model"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
)

// Config is the full process configuration
type Config struct {
	Data     DataConfig              `koanf:"data"`
	Training TrainingConfig          `koanf:"training"`
	Retrain  RetrainConfig           `koanf:"retrain"`
	Deploy   DeployConfig            `koanf:"deploy"`
	Health   monitoring.HealthConfig `koanf:"health"`
	Server   ServerConfig            `koanf:"server"`
	Redis    RedisConfig             `koanf:"redis"`
	GitHub   GitHubConfig            `koanf:"github"`
	Schedule ScheduleConfig          `koanf:"schedule"`
	Log      LogConfig               `koanf:"log"`
}

// DataConfig locates on-disk inputs and outputs
type DataConfig struct {
	Dir         string `koanf:"dir"`
	TrainingDir string `koanf:"training_dir"`
	ModelsDir   string `koanf:"models_dir"`
	StateFile   string `koanf:"state_file"`
	LockFile    string `koanf:"lock_file"`
}

// TrainingConfig holds trainer hyperparameters and dataset preparation options
type TrainingConfig struct {
	Algorithm       string  `koanf:"algorithm"`
	Jitter          string  `koanf:"jitter"`
	Normalization   string  `koanf:"normalization"`
	SkipSelection   bool    `koanf:"skip_selection"`
	MinVariance     float64 `koanf:"min_variance"`
	TestFraction    float64 `koanf:"test_fraction"`
	Seed            uint64  `koanf:"seed"`
	CVFolds         int     `koanf:"cv_folds"`
	LearningRate    float64 `koanf:"learning_rate"`
	Epochs          int     `koanf:"epochs"`
	L2              float64 `koanf:"l2"`
	Trees           int     `koanf:"trees"`
	NeuralEpochs    int     `koanf:"neural_epochs"`
	NeuralRate      float64 `koanf:"neural_learning_rate"`
	BatchSize       int     `koanf:"batch_size"`
	ValidationSplit float64 `koanf:"validation_split"`
}

// RetrainConfig holds the retrain gate and its guard rails
type RetrainConfig struct {
	Interval        time.Duration `koanf:"interval"`
	MinNewSamples   int           `koanf:"min_new_samples"`
	TrainingTimeout time.Duration `koanf:"training_timeout"`
	LeaseTTL        time.Duration `koanf:"lease_ttl"`
}

// DeployConfig controls promotion of retrained models
type DeployConfig struct {
	AutoDeploy     bool    `koanf:"auto_deploy"`
	Threshold      float64 `koanf:"threshold"`
	TrafficPercent int     `koanf:"traffic_percent"`
}

// ServerConfig holds prediction API settings
type ServerConfig struct {
	Port                string        `koanf:"port"`
	AllowedOrigins      []string      `koanf:"allowed_origins"`
	IPLimitPerMin       int           `koanf:"ip_limit_per_min"`
	FeedbackLimitPerMin int           `koanf:"feedback_limit_per_min"`
	CacheTTL            time.Duration `koanf:"cache_ttl"`
	ReadTimeout         time.Duration `koanf:"read_timeout"`
}

// RedisConfig is optional; an empty address disables Redis
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// GitHubConfig configures the repository scanner
type GitHubConfig struct {
	Token       string `koanf:"token"`
	APIURL      string `koanf:"api_url"`
	Concurrency int    `koanf:"concurrency"`
}

// ScheduleConfig configures periodic retraining
type ScheduleConfig struct {
	Cron string `koanf:"cron"`
}

// LogConfig configures slog
type LogConfig struct {
	Level string `koanf:"level"`
}

var (
	algorithms     = []string{"linear", "ensemble", "neural", "all"}
	jitters        = []string{"hash", "none"}
	normalizations = []string{"none", "zscore", "minmax"}
)

// Default returns the configuration used beneath the YAML file and
// environment layers. A layer that sets a field to zero keeps the zero.
func Default() Config {
	return Config{
		Data: DataConfig{
			Dir:         "./data",
			TrainingDir: filepath.Join(".beast-mode", "training-data", "scanned-repos"),
			ModelsDir:   filepath.Join(".beast-mode", "models"),
			StateFile:   filepath.Join(".beast-mode", "retrain", "last-retrain.json"),
			LockFile:    filepath.Join(".beast-mode", "retrain", "retrain.lock"),
		},
		Training: TrainingConfig{
			Algorithm:       "all",
			Jitter:          "hash",
			Normalization:   "zscore",
			MinVariance:     0.01,
			TestFraction:    0.2,
			Seed:            42,
			CVFolds:         5,
			LearningRate:    0.01,
			Epochs:          1000,
			L2:              0.01,
			Trees:           50,
			NeuralEpochs:    100,
			NeuralRate:      0.001,
			BatchSize:       32,
			ValidationSplit: 0.2,
		},
		Retrain: RetrainConfig{
			Interval:        7 * 24 * time.Hour,
			MinNewSamples:   100,
			TrainingTimeout: 30 * time.Minute,
			LeaseTTL:        time.Hour,
		},
		Deploy: DeployConfig{
			Threshold:      0.85,
			TrafficPercent: 10,
		},
		Health: monitoring.DefaultHealthConfig(),
		Server: ServerConfig{
			Port:                "8080",
			AllowedOrigins:      []string{"http://localhost:3000"},
			IPLimitPerMin:       60,
			FeedbackLimitPerMin: 20,
			CacheTTL:            10 * time.Minute,
			ReadTimeout:         15 * time.Second,
		},
		GitHub: GitHubConfig{
			APIURL:      "https://api.github.com",
			Concurrency: 3,
		},
		Schedule: ScheduleConfig{Cron: "0 3 * * *"},
		Log:      LogConfig{Level: "info"},
	}
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	if !slices.Contains(algorithms, c.Training.Algorithm) {
		return fmt.Errorf("training.algorithm must be one of %v, got %q", algorithms, c.Training.Algorithm)
	}
	if !slices.Contains(jitters, c.Training.Jitter) {
		return fmt.Errorf("training.jitter must be one of %v, got %q", jitters, c.Training.Jitter)
	}
	if !slices.Contains(normalizations, c.Training.Normalization) {
		return fmt.Errorf("training.normalization must be one of %v, got %q", normalizations, c.Training.Normalization)
	}
	if c.Training.TestFraction < 0 || c.Training.TestFraction >= 1 {
		return fmt.Errorf("training.test_fraction must be in [0, 1), got %v", c.Training.TestFraction)
	}
	if c.Training.ValidationSplit < 0 || c.Training.ValidationSplit >= 1 {
		return fmt.Errorf("training.validation_split must be in [0, 1), got %v", c.Training.ValidationSplit)
	}
	if c.Training.CVFolds < 2 {
		return fmt.Errorf("training.cv_folds must be at least 2, got %d", c.Training.CVFolds)
	}
	if c.Training.Epochs < 1 || c.Training.NeuralEpochs < 1 || c.Training.Trees < 1 || c.Training.BatchSize < 1 {
		return fmt.Errorf("training epochs, trees and batch size must be positive")
	}
	if c.Retrain.MinNewSamples < 0 {
		return fmt.Errorf("retrain.min_new_samples must not be negative")
	}
	if c.Deploy.TrafficPercent < 1 || c.Deploy.TrafficPercent > 100 {
		return fmt.Errorf("deploy.traffic_percent must be in [1, 100], got %d", c.Deploy.TrafficPercent)
	}
	if c.Health.DegradedMissRate > c.Health.CriticalMissRate {
		return fmt.Errorf("health.degraded_miss_rate must not exceed health.critical_miss_rate")
	}
	return nil
}

// Algorithms expands training.algorithm into the trainers to run
func (t TrainingConfig) Algorithms() []model.Algorithm {
	if t.Algorithm == "all" {
		return model.Algorithms()
	}
	return []model.Algorithm{model.Algorithm(t.Algorithm)}
}

// ModelOptions maps the training section onto trainer hyperparameters
func (t TrainingConfig) ModelOptions() model.Options {
	opts := model.DefaultOptions()
	norm := features.Method(t.Normalization)

	opts.Linear.LearningRate = t.LearningRate
	opts.Linear.Epochs = t.Epochs
	opts.Linear.L2 = t.L2
	opts.Linear.Normalization = norm

	opts.Ensemble.Trees = t.Trees
	opts.Ensemble.Seed = t.Seed
	opts.Ensemble.Normalization = norm

	opts.Neural.Epochs = t.NeuralEpochs
	opts.Neural.LearningRate = t.NeuralRate
	opts.Neural.BatchSize = t.BatchSize
	opts.Neural.ValidationSplit = t.ValidationSplit
	opts.Neural.Seed = t.Seed
	return opts
}

// SelectionThreshold returns the selection threshold, or a negative value when
// selection is disabled
func (t TrainingConfig) SelectionThreshold() float64 {
	if t.SkipSelection {
		return -1
	}
	return t.MinVariance
}
