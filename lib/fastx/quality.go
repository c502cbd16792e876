package fastx

import (
	"math"
)

// phredOffset is the ASCII offset of Sanger/Illumina 1.8+ quality encoding.
const phredOffset = 33

// minProbCorrect floors the per-base correctness probability so that a
// quality of zero does not collapse the aggregate to negative infinity.
const minProbCorrect = 1e-12

// QualityScorer aggregates one quality value per k-mer window: the log2
// probability that all k bases of the window are called correctly, i.e.
// the sum of the per-base log2(1 - 10^(-q/10)) terms.
type QualityScorer struct {
	k     int
	table [256]float64 // per-symbol log2 correctness probability
}

// NewQualityScorer creates a scorer for windows of length k.
func NewQualityScorer(k int) *QualityScorer {
	s := &QualityScorer{k: k}
	for c := 0; c < 256; c++ {
		q := c - phredOffset
		if q < 0 {
			q = 0
		}
		probErr := math.Pow(10, -float64(q)/10)
		probCorrect := 1 - probErr
		if probCorrect < minProbCorrect {
			probCorrect = minProbCorrect
		}
		s.table[c] = math.Log2(probCorrect)
	}
	return s
}

// Each calls fn with the aggregated score of every window of the quality
// string, in step with the k-mer generator over the matching sequence.
func (s *QualityScorer) Each(qual []byte, fn func(score float32, pos int)) {
	if len(qual) < s.k {
		return
	}

	// sliding window sum
	sum := 0.0
	for i := 0; i < s.k; i++ {
		sum += s.table[qual[i]]
	}
	fn(float32(sum), 0)

	for i := s.k; i < len(qual); i++ {
		sum += s.table[qual[i]] - s.table[qual[i-s.k]]
		fn(float32(sum), i-s.k+1)
	}
}

// Scores returns the aggregated score of every window.
func (s *QualityScorer) Scores(qual []byte) []float32 {
	var out []float32
	s.Each(qual, func(score float32, _ int) {
		out = append(out, score)
	})
	return out
}
