package fastx

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fastqSample = "@read1\nACGTACGT\n+\nIIIIIIII\n@read2\nTTTTAAAA\n+\nIIIIIII!\n"

const fastaSample = ">read1\nACGTACGT\n>read2 description\nTTTT\nAAAA\n"

// TestParserFASTQ verifies FASTQ parsing with quality slices
func TestParserFASTQ(t *testing.T) {
	p, err := NewParser([]byte(fastqSample), 0)
	require.NoError(t, err)
	assert.Equal(t, FormatFASTQ, p.Format())

	r1, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, "ACGTACGT", string(r1.Seq))
	assert.Equal(t, "IIIIIIII", string(r1.Qual))
	assert.Equal(t, uint64(0), r1.ID)

	r2, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, "TTTTAAAA", string(r2.Seq))
	assert.Equal(t, "IIIIIII!", string(r2.Qual))
	assert.Greater(t, r2.ID, r1.ID)

	_, ok = p.Next()
	assert.False(t, ok)
}

// TestParserFASTA verifies FASTA parsing including folded sequence lines
func TestParserFASTA(t *testing.T) {
	p, err := NewParser([]byte(fastaSample), 0)
	require.NoError(t, err)
	assert.Equal(t, FormatFASTA, p.Format())

	r1, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, "ACGTACGT", string(r1.Seq))
	assert.Nil(t, r1.Qual)

	r2, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, "TTTTAAAA", string(r2.Seq), "folded lines must be joined")

	_, ok = p.Next()
	assert.False(t, ok)
}

// TestParserBaseOffset verifies read ids are file offsets
func TestParserBaseOffset(t *testing.T) {
	p, err := NewParser([]byte(fastqSample), 1000)
	require.NoError(t, err)

	r, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(1000), r.ID)
}

// TestParserGarbage verifies the unrecognized-marker error
func TestParserGarbage(t *testing.T) {
	_, err := NewParser([]byte("garbage\n"), 0)
	assert.Error(t, err)
}

// TestBlockAlignment verifies that block cuts land on record starts and
// cover the file exactly once
func TestBlockAlignment(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		// quality line starting with '@' on purpose: the partitioner must
		// not mistake it for a record start
		fmt.Fprintf(&sb, "@read%d\nACGTACGTACGT\n+\n@IIIIIIIIIII\n", i)
	}
	data := []byte(sb.String())

	for _, p := range []int{1, 2, 3, 4, 7} {
		total := 0
		for rank := 0; rank < p; rank++ {
			slice, offset := Block(data, rank, p)
			if len(slice) == 0 {
				continue
			}
			parser, err := NewParser(slice, offset)
			require.NoError(t, err, "p=%d rank=%d: slice must start at a record", p, rank)
			for {
				r, ok := parser.Next()
				if !ok {
					break
				}
				assert.Equal(t, "ACGTACGTACGT", string(r.Seq))
				total++
			}
		}
		assert.Equal(t, 100, total, "p=%d: records must partition exactly", p)
	}
}

// TestEstimateKmerCount verifies the estimate is in the right ballpark for
// uniform records
func TestEstimateKmerCount(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&sb, "@r%04d\nACGTACGTACGTACGT\n+\nIIIIIIIIIIIIIIII\n", i)
	}
	data := []byte(sb.String())

	// 16-base reads, k=5: 12 k-mers per read, 1000 reads
	est := EstimateKmerCount(data, 5)
	assert.InDelta(t, 12000, est, 1200, "estimate should be within 10%%")
}

// TestQualityScorerWindows verifies window count and monotonicity in base
// quality
func TestQualityScorerWindows(t *testing.T) {
	s := NewQualityScorer(3)

	scores := s.Scores([]byte("IIIII"))
	require.Len(t, scores, 3, "len-5 quality with k=3 has 3 windows")

	// 'I' is Phred 40: near-certain bases, aggregate close to zero
	for _, sc := range scores {
		assert.Less(t, float64(sc), 0.0)
		assert.Greater(t, float64(sc), -0.01)
	}

	// a low-quality base must drag its windows down
	low := s.Scores([]byte("II#II"))
	assert.Less(t, low[0], scores[0])
	assert.Less(t, low[2], scores[2])
}

// TestQualityScorerShort verifies short quality strings yield nothing
func TestQualityScorerShort(t *testing.T) {
	s := NewQualityScorer(5)
	assert.Empty(t, s.Scores([]byte("III")))
}

// TestQualityScorerZeroQuality verifies the aggregate stays finite
func TestQualityScorerZeroQuality(t *testing.T) {
	s := NewQualityScorer(3)
	scores := s.Scores([]byte("!!!"))
	require.Len(t, scores, 1)
	assert.False(t, math.IsInf(float64(scores[0]), 0))
}
