package features

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"
)

const (
	scanPrefix = "scanned-repos-"
	scanSuffix = ".json"
)

// ScanBatch is the on-disk layout of one scanner run
type ScanBatch struct {
	ScannedAt    time.Time    `json:"scannedAt,omitempty"`
	TrainingData []ScanRecord `json:"trainingData"`
}

// ScanRecord is one repository entry of a scan batch
type ScanRecord struct {
	Repo     string         `json:"repo,omitempty"`
	URL      string         `json:"url,omitempty"`
	Features map[string]any `json:"features"`
}

// LoadScans reads every scan batch in dir, newest file first, and returns the
// de-duplicated samples. The first occurrence of a repo, url or identical
// feature set wins. A missing directory yields no samples.
func LoadScans(dir string) ([]Sample, error) {
	files, err := scanFiles(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var samples []Sample

	for _, path := range files {
		batch, info, err := readBatch(path)
		if err != nil {
			return nil, err
		}

		observedAt := batch.ScannedAt
		if observedAt.IsZero() {
			observedAt = info.ModTime()
		}

		for _, rec := range batch.TrainingData {
			record := Flatten(rec.Features)
			key, err := dedupeKey(rec, record)
			if err != nil {
				return nil, fmt.Errorf("failed to key record in %s: %w", filepath.Base(path), err)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			samples = append(samples, Sample{
				RepoID:     rec.Repo,
				URL:        rec.URL,
				Features:   ExpandLanguage(record),
				ObservedAt: observedAt,
			})
		}
	}

	return samples, nil
}

// CountScansSince counts de-duplicated samples observed after t
func CountScansSince(dir string, t time.Time) (int, error) {
	samples, err := LoadScans(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range samples {
		if s.ObservedAt.After(t) {
			count++
		}
	}
	return count, nil
}

// WriteScan stores samples as a new batch named after at
func WriteScan(dir string, samples []Sample, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scan directory: %w", err)
	}

	batch := ScanBatch{ScannedAt: at.UTC(), TrainingData: make([]ScanRecord, 0, len(samples))}
	for _, s := range samples {
		batch.TrainingData = append(batch.TrainingData, ScanRecord{
			Repo:     s.RepoID,
			URL:      s.URL,
			Features: s.Features,
		})
	}

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode scan batch: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s%d%s", scanPrefix, at.UnixMilli(), scanSuffix))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write scan batch: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to commit scan batch: %w", err)
	}

	return path, nil
}

// Flatten lifts a nested "metadata" object into the record. Top-level keys
// override metadata keys.
func Flatten(raw map[string]any) Record {
	out := make(Record, len(raw))
	if meta, ok := raw["metadata"].(map[string]any); ok {
		for k, v := range meta {
			out[k] = v
		}
	}
	for k, v := range raw {
		if k == "metadata" {
			continue
		}
		out[k] = v
	}
	return out
}

// ExpandLanguage adds a lang_<name> indicator for a string "language" feature.
// The returned record is a copy when a key is added.
func ExpandLanguage(record Record) Record {
	lang := record.String("language")
	if lang == "" {
		return record
	}
	out := record.Clone()
	out[LanguageKey(lang)] = 1.0
	return out
}

// LanguageKey is the one-hot column name for a language
func LanguageKey(lang string) string {
	slug := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return '_'
	}, strings.TrimSpace(lang))
	return "lang_" + slug
}

func scanFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read training data directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, scanPrefix) || !strings.HasSuffix(name, scanSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}

	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

func readBatch(path string) (*ScanBatch, os.FileInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open scan batch: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat scan batch: %w", err)
	}

	var batch ScanBatch
	if err := json.NewDecoder(file).Decode(&batch); err != nil {
		return nil, nil, fmt.Errorf("failed to decode scan batch %s: %w", filepath.Base(path), err)
	}

	return &batch, info, nil
}

func dedupeKey(rec ScanRecord, record Record) (string, error) {
	if rec.Repo != "" {
		return "repo:" + rec.Repo, nil
	}
	if rec.URL != "" {
		return "url:" + rec.URL, nil
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return "features:" + string(data), nil
}
