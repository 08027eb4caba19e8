package quality

import "unicode/utf16"

// JitterFunc maps a repository id to a deterministic offset in [-1, 1]
type JitterFunc func(repoID string) float64

// NoJitter disables label jitter, for observed labels or reproducible runs
func NoJitter(string) float64 { return 0 }

// HashJitter buckets the repository hash into 30 steps over [-1, 14/15]
func HashJitter(repoID string) float64 {
	h := RepoHash(repoID)
	if h < 0 {
		h = -h
	}
	return float64(h%30-15) / 15
}

// RepoHash is the rolling hash h = (h<<5) - h + c over UTF-16 code units.
// The shift sees only the low 32 bits of h while the subtraction uses the
// full running value, so the result is carried in 64 bits.
func RepoHash(s string) int64 {
	var h int64
	for _, c := range utf16.Encode([]rune(s)) {
		shifted := int64(int32(uint32(int32(h)) << 5))
		h = shifted - h + int64(c)
	}
	return h
}
