package quality

import (
	"math"
	"testing"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestRepoHash(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"empty string hashes to zero", "", 0},
		{"single character", "a", 97},
		{"two characters", "ab", 3105},
		{"three characters", "abc", 96354},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RepoHash(tt.input))
		})
	}
}

func TestHashJitter(t *testing.T) {
	assert.Equal(t, 0.0, HashJitter("ab"))
	assert.InDelta(t, -8.0/15, HashJitter("a"), 1e-12)
	assert.InDelta(t, -1.0, HashJitter(""), 1e-12)

	rapid.Check(t, func(t *rapid.T) {
		id := rapid.String().Draw(t, "repo")
		j := HashJitter(id)
		if j < -1 || j > 1 {
			t.Fatalf("jitter %v out of range for %q", j, id)
		}
	})
}

func TestScorer_Score(t *testing.T) {
	scorer := NewScorer(NoJitter)

	tests := []struct {
		name     string
		record   features.Record
		expected float64
	}{
		{
			name:     "empty record clamps to floor",
			record:   features.Record{},
			expected: 0.1,
		},
		{
			name: "flags only",
			record: features.Record{
				"hasTests": true, "hasCI": true, "hasReadme": true,
				"hasLicense": true, "hasDescription": true, "hasDocker": true,
			},
			expected: 0.30,
		},
		{
			name: "numeric flags behave like booleans",
			record: features.Record{
				"hasTests": 1.0, "hasCI": 1.0, "hasReadme": 1.0,
				"hasLicense": 1.0, "hasDescription": 1.0, "hasDocker": 1.0,
			},
			expected: 0.30,
		},
		{
			name: "saturated engagement",
			record: features.Record{
				"stars": 999999.0, "forks": 99999.0,
			},
			expected: 0.30,
		},
		{
			name: "everything maxed clamps to ceiling",
			record: features.Record{
				"stars": 1e7, "forks": 1e6, "hasTests": true, "hasCI": true,
				"hasReadme": true, "hasLicense": true, "hasDescription": true, "hasDocker": true,
				"activityScore": 1.0, "communityHealth": 1.0, "codeQualityScore": 1.0, "codeFileRatio": 1.0,
			},
			expected: 1.0,
		},
		{
			name: "open issue penalty is capped",
			record: features.Record{
				"hasTests": true, "hasCI": true, "hasReadme": true,
				"hasLicense": true, "hasDescription": true, "hasDocker": true,
				"stars": 9.0, "openIssues": 100.0,
			},
			expected: 0.30 + math.Log10(10)/6*0.15 - 0.1,
		},
		{
			name: "small issue ratio",
			record: features.Record{
				"activityScore": 1.0, "codeQualityScore": 1.0, "stars": 999.0, "openIssues": 10.0,
			},
			expected: 0.15 + 0.10 + 0.5*0.15 - 10.0/999*2,
		},
		{
			name:     "non-numeric values count as zero",
			record:   features.Record{"activityScore": "high", "codeFileRatio": 1.0, "hasTests": true},
			expected: 0.20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, scorer.Score(tt.record, "owner/repo"), 1e-9)
		})
	}
}

func TestScorer_JitterIsAdditive(t *testing.T) {
	record := features.Record{"hasTests": true, "hasCI": true, "activityScore": 1.0}
	base := NewScorer(NoJitter).Score(record, "a")
	jittered := NewScorer(HashJitter).Score(record, "a")

	assert.InDelta(t, base-0.08, jittered, 1e-9)
}

func TestScorer_NilJitter(t *testing.T) {
	record := features.Record{"hasTests": true}
	assert.Equal(t, NewScorer(NoJitter).Score(record, "x"), NewScorer(nil).Score(record, "x"))
}

func TestScorer_Properties(t *testing.T) {
	scorer := NewScorer(HashJitter)

	rapid.Check(t, func(t *rapid.T) {
		record := features.Record{
			"stars":            rapid.Float64Range(0, 1e6).Draw(t, "stars"),
			"forks":            rapid.Float64Range(0, 1e5).Draw(t, "forks"),
			"openIssues":       rapid.Float64Range(0, 1e4).Draw(t, "openIssues"),
			"hasTests":         rapid.Bool().Draw(t, "hasTests"),
			"hasCI":            rapid.Bool().Draw(t, "hasCI"),
			"hasReadme":        rapid.Bool().Draw(t, "hasReadme"),
			"activityScore":    rapid.Float64Range(0, 1).Draw(t, "activity"),
			"communityHealth":  rapid.Float64Range(0, 1).Draw(t, "community"),
			"codeQualityScore": rapid.Float64Range(0, 1).Draw(t, "codeQuality"),
			"codeFileRatio":    rapid.Float64Range(0, 1).Draw(t, "ratio"),
		}
		repo := rapid.String().Draw(t, "repo")

		first := scorer.Score(record, repo)
		if first < 0.1 || first > 1.0 {
			t.Fatalf("score %v out of bounds", first)
		}
		if second := scorer.Score(record, repo); second != first {
			t.Fatalf("score not deterministic: %v then %v", first, second)
		}
	})
}

func TestScorer_Label(t *testing.T) {
	samples := []features.Sample{
		{RepoID: "a/b", Features: features.Record{"hasTests": true}},
		{URL: "https://github.com/c/d", Features: features.Record{"hasCI": true}},
	}

	examples := NewScorer(NoJitter).Label(samples)

	assert.Len(t, examples, 2)
	assert.Equal(t, "a/b", examples[0].RepoID)
	assert.Equal(t, "https://github.com/c/d", examples[1].RepoID)
	assert.InDelta(t, 0.1, examples[0].Quality, 1e-9)
	assert.False(t, examples[0].Observed)
}

func TestDescribe(t *testing.T) {
	stats := Describe([]float64{0.2, 0.4, 0.6})
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 0.2, stats.Min, 1e-12)
	assert.InDelta(t, 0.6, stats.Max, 1e-12)
	assert.InDelta(t, 0.4, stats.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(0.08/3), stats.Std, 1e-12)

	assert.Equal(t, Stats{}, Describe(nil))
}
