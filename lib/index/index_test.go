package index_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/patflick/kmerind/lib/comm"
	"github.com/patflick/kmerind/lib/comm/local"
	"github.com/patflick/kmerind/lib/index"
	"github.com/patflick/kmerind/lib/kmer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFastq writes reads (with uniform high quality) to a temp file
func writeFastq(t *testing.T, reads ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reads.fastq")

	var data []byte
	for i, seq := range reads {
		qual := make([]byte, len(seq))
		for j := range qual {
			qual[j] = 'I'
		}
		data = append(data, '@', 'r', byte('0'+i), '\n')
		data = append(data, seq...)
		data = append(data, '\n', '+', '\n')
		data = append(data, qual...)
		data = append(data, '\n')
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func runRanks(t *testing.T, p int, fn func(rank int, tr comm.ITransport)) {
	t.Helper()

	transports, err := local.NewMesh(p)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for rank := 0; rank < p; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			fn(rank, transports[rank])
		}(rank)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(60 * time.Second):
		t.Fatalf("ranks did not terminate")
	}
}

// testIndexOptions uses k=3 with identity transform so that expected
// counts can be written down by hand
func testIndexOptions() *index.Options {
	opts := index.DefaultOptions()
	opts.K = 3
	opts.Transform = "identity"
	return opts
}

// TestCountIndexSingleProcess is the single-process count scenario:
// reads AAAAA and AAAT yield {AAA: 3, AAT: 1}
func TestCountIndexSingleProcess(t *testing.T) {
	path := writeFastq(t, "AAAAA", "AAAT")

	runRanks(t, 1, func(rank int, tr comm.ITransport) {
		x, err := index.NewCountIndex(tr, testIndexOptions())
		require.NoError(t, err)
		require.NoError(t, x.Build(path))

		g := x.Generator()
		aaa, _ := g.FromString("AAA")
		aat, _ := g.FromString("AAT")
		ttt, _ := g.FromString("TTT")

		assert.Equal(t, 2, x.LocalSize())

		found, err := x.Find([]kmer.Kmer{aaa, aat, ttt})
		require.NoError(t, err)
		byKey := map[kmer.Kmer]uint64{}
		for _, p := range found {
			byKey[p.Key] = p.Value
		}
		assert.Equal(t, map[kmer.Kmer]uint64{aaa: 3, aat: 1}, byKey,
			"find must omit the absent TTT")

		counts, err := x.Count([]kmer.Kmer{aaa, ttt})
		require.NoError(t, err)
		cByKey := map[kmer.Kmer]uint64{}
		for _, kc := range counts {
			cByKey[kc.Key] = kc.Count
		}
		assert.Equal(t, map[kmer.Kmer]uint64{aaa: 3, ttt: 0}, cByKey,
			"count must report zero for the absent TTT")
	})
}

// TestCountIndexTwoProcess is the hashing-split scenario: both ranks build
// from the same reads; ownership is disjoint and counts double
func TestCountIndexTwoProcess(t *testing.T) {
	const p = 2

	var mu sync.Mutex
	localSizes := make([]int, p)

	runRanks(t, p, func(rank int, tr comm.ITransport) {
		x, err := index.NewCountIndex(tr, testIndexOptions())
		require.NoError(t, err)

		g := x.Generator()
		aaa, _ := g.FromString("AAA")
		aat, _ := g.FromString("AAT")

		// same input on each rank, built via tuples directly
		require.NoError(t, x.BuildTuples([]kmer.Kmer{aaa, aaa, aaa, aat}))

		mu.Lock()
		localSizes[rank] = x.LocalSize()
		mu.Unlock()

		counts, err := x.Count([]kmer.Kmer{aaa, aat})
		require.NoError(t, err)
		byKey := map[kmer.Kmer]uint64{}
		for _, kc := range counts {
			byKey[kc.Key] = kc.Count
		}
		assert.Equal(t, uint64(6), byKey[aaa], "3 per rank, merged on the owner")
		assert.Equal(t, uint64(2), byKey[aat])
	})

	// each distinct k-mer is stored on exactly one rank
	assert.Equal(t, 2, localSizes[0]+localSizes[1], "two distinct keys across the mesh")
}

// TestPositionIndexMultimap is the multimap position scenario: read AAAA
// holds AAA at offsets 0 and 1
func TestPositionIndexMultimap(t *testing.T) {
	path := writeFastq(t, "AAAA")

	runRanks(t, 1, func(rank int, tr comm.ITransport) {
		x, err := index.NewPositionIndex(tr, testIndexOptions())
		require.NoError(t, err)
		require.NoError(t, x.Build(path))

		g := x.Generator()
		aaa, _ := g.FromString("AAA")

		found, err := x.Find([]kmer.Kmer{aaa})
		require.NoError(t, err)
		require.Len(t, found, 2, "both occurrences must come back")

		offsets := map[uint32]bool{}
		for _, p := range found {
			assert.Equal(t, found[0].Value.ReadID, p.Value.ReadID, "same read")
			offsets[p.Value.Offset] = true
		}
		assert.Equal(t, map[uint32]bool{0: true, 1: true}, offsets)

		counts, err := x.Count([]kmer.Kmer{aaa})
		require.NoError(t, err)
		require.Len(t, counts, 1)
		assert.Equal(t, uint64(2), counts[0].Count)
	})
}

// TestPositionQualityIndex verifies quality aggregation flows through
func TestPositionQualityIndex(t *testing.T) {
	path := writeFastq(t, "ACGT")

	runRanks(t, 1, func(rank int, tr comm.ITransport) {
		x, err := index.NewPositionQualityIndex(tr, testIndexOptions())
		require.NoError(t, err)
		require.NoError(t, x.Build(path))

		g := x.Generator()
		acg, _ := g.FromString("ACG")

		found, err := x.Find([]kmer.Kmer{acg})
		require.NoError(t, err)
		require.Len(t, found, 1)

		// 'I' is Phred 40: the log2 correctness aggregate is near zero
		assert.Less(t, float64(found[0].Value.Qual), 0.0)
		assert.Greater(t, float64(found[0].Value.Qual), -0.01)
		assert.Equal(t, uint32(0), found[0].Value.Pos.Offset)
	})
}

// TestIndexEraseRoundTrip verifies erase empties the index
func TestIndexEraseRoundTrip(t *testing.T) {
	for _, p := range []int{1, 2} {
		runRanks(t, p, func(rank int, tr comm.ITransport) {
			x, err := index.NewCountIndex(tr, testIndexOptions())
			require.NoError(t, err)

			g := x.Generator()
			aaa, _ := g.FromString("AAA")
			aat, _ := g.FromString("AAT")
			require.NoError(t, x.BuildTuples([]kmer.Kmer{aaa, aat}))

			_, err = x.Erase([]kmer.Kmer{aaa, aat})
			require.NoError(t, err)

			found, err := x.Find([]kmer.Kmer{aaa, aat})
			require.NoError(t, err)
			assert.Empty(t, found, "p=%d", p)
			assert.Equal(t, 0, x.LocalSize(), "p=%d", p)
		})
	}
}

// TestIndexCanonicalTransform verifies a k-mer and its reverse complement
// share one counter under the lexicographic transform
func TestIndexCanonicalTransform(t *testing.T) {
	runRanks(t, 1, func(rank int, tr comm.ITransport) {
		opts := testIndexOptions()
		opts.Transform = "lex"

		x, err := index.NewCountIndex(tr, opts)
		require.NoError(t, err)

		g := x.Generator()
		aac, _ := g.FromString("AAC") // revcomp GTT
		gtt, _ := g.FromString("GTT")

		require.NoError(t, x.BuildTuples([]kmer.Kmer{aac, gtt, gtt}))

		assert.Equal(t, 1, x.LocalSize(), "strands must merge")

		counts, err := x.Count([]kmer.Kmer{aac})
		require.NoError(t, err)
		require.Len(t, counts, 1)
		assert.Equal(t, uint64(3), counts[0].Count)
	})
}

// TestCountIndexBuildStream builds through the asynchronous communication
// layer and verifies the same state as the collective build
func TestCountIndexBuildStream(t *testing.T) {
	for _, p := range []int{1, 2} {
		runRanks(t, p, func(rank int, tr comm.ITransport) {
			x, err := index.NewCountIndex(tr, testIndexOptions())
			require.NoError(t, err)

			layer, err := comm.NewCommLayer(tr, nil)
			require.NoError(t, err)
			layer.InitCommunication()

			g := x.Generator()
			aaa, _ := g.FromString("AAA")
			aat, _ := g.FromString("AAT")

			require.NoError(t, x.BuildStream(layer, []kmer.Kmer{aaa, aaa, aaa, aat}))
			require.NoError(t, layer.FinishCommunication())

			counts, err := x.Count([]kmer.Kmer{aaa, aat})
			require.NoError(t, err)
			byKey := map[kmer.Kmer]uint64{}
			for _, kc := range counts {
				byKey[kc.Key] = kc.Count
			}
			assert.Equal(t, uint64(3*p), byKey[aaa], "p=%d", p)
			assert.Equal(t, uint64(1*p), byKey[aat], "p=%d", p)
		})
	}
}

// TestCountIndexBuildFromFile exercises the full file path across ranks
func TestCountIndexBuildFromFile(t *testing.T) {
	reads := []string{
		"ACGTACGTACGT",
		"TTTTTTTTTTTT",
		"ACGTACGTACGT",
		"GGGGCCCCAAAA",
	}
	path := writeFastq(t, reads...)

	for _, p := range []int{1, 2, 4} {
		var mu sync.Mutex
		totalLocal := 0

		runRanks(t, p, func(rank int, tr comm.ITransport) {
			x, err := index.NewCountIndex(tr, testIndexOptions())
			require.NoError(t, err)
			require.NoError(t, x.Build(path))

			mu.Lock()
			totalLocal += x.LocalSize()
			mu.Unlock()

			// TTT appears 10x in read 1 regardless of partitioning
			g := x.Generator()
			ttt, _ := g.FromString("TTT")
			counts, err := x.Count([]kmer.Kmer{ttt})
			require.NoError(t, err)
			require.Len(t, counts, 1)
			assert.Equal(t, uint64(10), counts[0].Count, "p=%d", p)
		})

		// distinct k-mer count is independent of the partitioning
		mu.Lock()
		assert.Equal(t, 12, totalLocal, "p=%d: distinct k-mers across ranks", p)
		mu.Unlock()
	}
}
