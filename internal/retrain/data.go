package retrain

import (
	"context"
	"time"

	apperrors "github.com/ZanzyTHEbar/beast-mode-ml/internal/errors"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/quality"
)

// FeedbackStore exposes the recorded feedback the loop learns from
type FeedbackStore interface {
	CountFeedbackSince(ctx context.Context, since time.Time) (int, error)
	FeedbackExamples(ctx context.Context, since time.Time) ([]features.Example, error)
}

// DataSource produces labelled training examples
type DataSource interface {
	Examples(ctx context.Context) ([]features.Example, error)
}

// SampleCounter counts samples that arrived after the last retrain
type SampleCounter interface {
	NewSamples(ctx context.Context, since time.Time) (int, error)
}

// ScanData labels scan batches with the quality heuristic and merges observed
// labels from feedback. An observed label replaces the derived one for the
// same repository.
type ScanData struct {
	Dir      string
	Scorer   *quality.Scorer
	Feedback FeedbackStore
}

func (s *ScanData) Examples(ctx context.Context) ([]features.Example, error) {
	samples, err := features.LoadScans(s.Dir)
	if err != nil {
		return nil, apperrors.NewDataError("failed to load scan batches", err)
	}
	examples := s.Scorer.Label(samples)

	if s.Feedback != nil {
		observed, err := s.Feedback.FeedbackExamples(ctx, time.Time{})
		if err != nil {
			return nil, err
		}
		examples = mergeObserved(examples, observed)
	}

	if len(examples) == 0 {
		return nil, apperrors.NewDataError("no training data available", nil)
	}
	return examples, nil
}

func mergeObserved(derived, observed []features.Example) []features.Example {
	if len(observed) == 0 {
		return derived
	}

	index := make(map[string]int, len(derived))
	for i, ex := range derived {
		index[ex.RepoID] = i
	}

	out := append([]features.Example(nil), derived...)
	for _, ex := range observed {
		if i, ok := index[ex.RepoID]; ok {
			out[i] = ex
			continue
		}
		index[ex.RepoID] = len(out)
		out = append(out, ex)
	}
	return out
}

func (s *ScanData) NewSamples(ctx context.Context, since time.Time) (int, error) {
	scans, err := features.CountScansSince(s.Dir, since)
	if err != nil {
		return 0, apperrors.NewDataError("failed to count scan batches", err)
	}
	if s.Feedback == nil {
		return scans, nil
	}

	feedback, err := s.Feedback.CountFeedbackSince(ctx, since)
	if err != nil {
		return 0, err
	}
	return scans + feedback, nil
}
