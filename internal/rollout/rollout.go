// Package rollout routes prediction traffic between the incumbent and a
// candidate model.
package rollout

import (
	"math/rand/v2"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/database"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/quality"
)

// Bucket maps a user id onto 0..99 with the repository rolling hash. An empty
// id draws a random bucket.
func Bucket(userID string) int {
	if userID == "" {
		return rand.IntN(100)
	}
	h := quality.RepoHash(userID)
	if h < 0 {
		h = -h
	}
	return int(h % 100)
}

// Assign returns the variant for a user when the candidate receives
// candidatePercent of traffic
func Assign(userID string, candidatePercent int) database.Variant {
	if Bucket(userID) < candidatePercent {
		return database.VariantCandidate
	}
	return database.VariantControl
}

// Arms are the serving models of a rollout
type Arms struct {
	Control   *database.ModelVersion
	Candidate *database.ModelVersion
}

// FromProduction splits production versions, newest first, into arms. The
// newest version is the candidate while it holds partial traffic and an older
// production version remains; otherwise it is the sole control.
func FromProduction(production []database.ModelVersion) Arms {
	switch len(production) {
	case 0:
		return Arms{}
	case 1:
		return Arms{Control: &production[0]}
	}

	newest := production[0]
	if newest.TrafficPercent >= 100 {
		return Arms{Control: &newest}
	}
	return Arms{Control: &production[1], Candidate: &newest}
}

// Route picks the serving version for a user
func (a Arms) Route(userID string) (*database.ModelVersion, database.Variant) {
	if a.Candidate == nil {
		return a.Control, database.VariantControl
	}
	if a.Control == nil || Assign(userID, a.Candidate.TrafficPercent) == database.VariantCandidate {
		return a.Candidate, database.VariantCandidate
	}
	return a.Control, database.VariantControl
}
