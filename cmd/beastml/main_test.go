package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/model"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/retrain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()

	tests := []struct {
		command string
		flags   []string
	}{
		{"retrain", []string{"check", "force", "deploy", "json"}},
		{"train", []string{"algorithm", "cv", "deploy", "json"}},
		{"serve", []string{"schedule", "pprof"}},
		{"schedule", []string{"next", "run-now"}},
		{"scan", []string{"file"}},
		{"rollout", []string{"json"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			cmd, _, err := root.Find([]string{tt.command})
			require.NoError(t, err)
			assert.Equal(t, tt.command, cmd.Name())
			for _, flag := range tt.flags {
				assert.NotNil(t, cmd.Flag(flag), "missing --%s", flag)
			}
		})
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestCheckExit(t *testing.T) {
	tests := []struct {
		name     string
		check    bool
		retrain  bool
		wantCode int
	}{
		{"check recommended", true, true, 0},
		{"check not recommended", true, false, 1},
		{"run skipped", false, false, 0},
		{"run retrained", false, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkExit(tt.check, retrain.Decision{Retrain: tt.retrain})
			if tt.wantCode == 0 {
				assert.NoError(t, err)
				return
			}
			var exit *exitError
			require.True(t, errors.As(err, &exit))
			assert.Equal(t, tt.wantCode, exit.code)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	algs, err := parseAlgorithm("all")
	require.NoError(t, err)
	assert.Equal(t, model.Algorithms(), algs)

	algs, err = parseAlgorithm("neural")
	require.NoError(t, err)
	assert.Equal(t, []model.Algorithm{model.AlgorithmNeural}, algs)

	_, err = parseAlgorithm("forest")
	assert.Error(t, err)
}

// workspace writes a config whose paths all live under a temp dir
func workspace(t *testing.T, minNewSamples int) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	t.Chdir(dir)

	configPath = filepath.Join(dir, "beastml.yaml")
	content := fmt.Sprintf(`
data:
  dir: %[1]s/data
  training_dir: %[1]s/scans
  models_dir: %[1]s/models
  state_file: %[1]s/retrain/state.json
  lock_file: %[1]s/retrain/retrain.lock
retrain:
  min_new_samples: %[2]d
training:
  epochs: 200
  trees: 5
  neural_epochs: 10
log:
  level: error
`, filepath.ToSlash(dir), minNewSamples)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))
	return dir, configPath
}

func writeSamples(t *testing.T, dir string, n int) {
	t.Helper()
	samples := make([]features.Sample, n)
	for i := range samples {
		samples[i] = features.Sample{
			RepoID: fmt.Sprintf("owner/repo-%d", i),
			Features: features.Record{
				"stars":      float64(i * 37 % 500),
				"forks":      float64(i * 11 % 90),
				"openIssues": float64(i % 7),
				"hasTests":   float64(i % 2),
				"hasReadme":  float64((i + 1) % 2),
				"hasLicense": float64(i % 3 % 2),
				"language":   []string{"Go", "Rust", "Python"}[i%3],
			},
		}
	}
	_, err := features.WriteScan(filepath.Join(dir, "scans"), samples, time.Now().Add(-time.Minute))
	require.NoError(t, err)
}

func execute(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String()
}

func TestRetrainCheck_NotRecommended(t *testing.T) {
	_, configPath := workspace(t, 5)

	code, out := execute(t, "retrain", "--check", "--config", configPath)

	assert.Equal(t, 1, code)
	assert.Contains(t, out, "reason=insufficient_samples")
	assert.Contains(t, out, "first_run=true")
}

func TestRetrainCheck_Recommended(t *testing.T) {
	dir, configPath := workspace(t, 5)
	writeSamples(t, dir, 6)

	code, out := execute(t, "retrain", "--check", "--config", configPath)

	assert.Equal(t, 0, code)
	assert.Contains(t, out, "retrain=true reason=conditions_met new_samples=6")

	_, err := os.Stat(filepath.Join(dir, "retrain", "state.json"))
	assert.True(t, os.IsNotExist(err), "a check never advances the retrain state")
}

func TestRetrain_SkipExitsZero(t *testing.T) {
	_, configPath := workspace(t, 5)

	code, out := execute(t, "retrain", "--config", configPath)

	assert.Equal(t, 0, code)
	assert.Contains(t, out, "outcome: skip")
}

func TestTrain_DeploysFirstModel(t *testing.T) {
	dir, configPath := workspace(t, 1000)
	writeSamples(t, dir, 40)

	code, out := execute(t, "train", "--algorithm", "linear", "--cv", "3", "--deploy", "--config", configPath)

	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "selected: linear on 40 samples")
	assert.Contains(t, out, "cross-validation: 3 folds")
	assert.Contains(t, out, "deployed at 100% traffic")
	assert.Contains(t, out, "outcome: deployed")

	_, err := os.Stat(filepath.Join(dir, "models", model.LatestFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "retrain", "state.json"))
	assert.NoError(t, err, "a completed attempt advances the retrain state")

	// state was just written, so the gate now refuses on time
	code, out = execute(t, "retrain", "--check", "--config", configPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "reason=too_soon")
}

func TestTrain_UnknownAlgorithm(t *testing.T) {
	_, configPath := workspace(t, 5)

	code, _ := execute(t, "train", "--algorithm", "forest", "--config", configPath)
	assert.Equal(t, 1, code)
}

func TestRetrain_JSONReport(t *testing.T) {
	_, configPath := workspace(t, 5)

	code, out := execute(t, "retrain", "--check", "--json", "--config", configPath)

	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	assert.Contains(t, out, `"reason": "insufficient_samples"`)
}

func TestSchedule_Next(t *testing.T) {
	_, configPath := workspace(t, 5)

	code, out := execute(t, "schedule", "--next", "3", "--config", configPath)

	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		ts, err := time.Parse(time.RFC3339, line)
		require.NoError(t, err)
		assert.Equal(t, 3, ts.Hour())
	}
}

func TestScan_RequiresRepos(t *testing.T) {
	_, configPath := workspace(t, 5)

	code, _ := execute(t, "scan", "--config", configPath)
	assert.Equal(t, 1, code)
}

func TestReadRepoList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repos.txt")
	require.NoError(t, os.WriteFile(path, []byte("# seeds\ngolang/go\n\n  spf13/cobra  \n"), 0600))

	repos, err := readRepoList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang/go", "spf13/cobra"}, repos)
}
