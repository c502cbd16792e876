package index

import (
	"github.com/patflick/kmerind/lib/comm"
	"github.com/patflick/kmerind/lib/dmap"
	"github.com/patflick/kmerind/lib/fastx"
	"github.com/patflick/kmerind/lib/kmer"
)

// PositionQualityIndex maps every k-mer to the positions of its occurrences
// together with the aggregated Phred quality of each k-mer window.
// Requires FASTQ input; reads without quality lines are skipped.
type PositionQualityIndex struct {
	opts   Options
	gen    *kmer.Generator
	scorer *fastx.QualityScorer
	m      *dmap.MultiMap[kmer.Kmer, PosQual]
	t      comm.ITransport
}

// NewPositionQualityIndex creates a position-with-quality index over the
// transport.
func NewPositionQualityIndex(t comm.ITransport, opts *Options) (*PositionQualityIndex, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	gen, pol, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	m, err := dmap.NewMultiMap(t, mapOptions(pol, posQualPairCodec()))
	if err != nil {
		return nil, err
	}
	return &PositionQualityIndex{
		opts:   *opts,
		gen:    gen,
		scorer: fastx.NewQualityScorer(opts.K),
		m:      m,
		t:      t,
	}, nil
}

// Generator exposes the index's k-mer generator for building queries.
func (x *PositionQualityIndex) Generator() *kmer.Generator {
	return x.gen
}

// ReadFile extracts (k-mer, position+quality) tuples from this rank's block
// of the file. Also returns the per-rank k-mer count estimate.
func (x *PositionQualityIndex) ReadFile(path string) ([]dmap.Pair[kmer.Kmer, PosQual], int, error) {
	slice, offset, est, err := fileBlock(x.t, path, x.gen.K())
	if err != nil {
		return nil, 0, err
	}

	tuples := make([]dmap.Pair[kmer.Kmer, PosQual], 0, est)
	err = eachRead(slice, offset, func(r fastx.Read) {
		if len(r.Qual) < len(r.Seq) {
			return
		}
		// window scores indexed by window start, aligned with the k-mer
		// positions of the same read
		scores := x.scorer.Scores(r.Qual)
		x.gen.Each(r.Seq, func(km kmer.Kmer, pos int) {
			if pos >= len(scores) {
				return
			}
			tuples = append(tuples, dmap.Pair[kmer.Kmer, PosQual]{
				Key: km,
				Value: PosQual{
					Pos:  ReadPos{ReadID: r.ID, Offset: uint32(pos)},
					Qual: scores[pos],
				},
			})
		})
	})
	return tuples, est, err
}

// Build reads this rank's block of the file, reserves, inserts and
// refreshes the key-multiplicity estimate.
func (x *PositionQualityIndex) Build(path string) error {
	tuples, est, err := x.ReadFile(path)
	if err != nil {
		return err
	}
	if err := x.m.Reserve(est); err != nil {
		return err
	}
	return x.BuildTuples(tuples)
}

// BuildTuples inserts an already extracted tuple batch.
func (x *PositionQualityIndex) BuildTuples(tuples []dmap.Pair[kmer.Kmer, PosQual]) error {
	if err := x.m.Insert(tuples); err != nil {
		return err
	}
	mult := x.m.UpdateMultiplicity()
	log.Infof("position-quality index: rank %d holds %d positions, key multiplicity %d",
		x.t.Rank(), x.m.LocalSize(), mult)
	return nil
}

// BuildStream inserts the tuple batch through the asynchronous
// communication layer instead of the collective exchange.
func (x *PositionQualityIndex) BuildStream(layer *comm.CommLayer, tuples []dmap.Pair[kmer.Kmer, PosQual]) error {
	if err := buildStream(layer, x.opts.StreamTag, x.opts.StreamBatch, posQualPairCodec(),
		x.m.Owner, x.m.LocalInsert, tuples); err != nil {
		return err
	}
	x.m.UpdateMultiplicity()
	return nil
}

// --------------------------------------------------------------------------
// Queries (forwarded to the multimap)
// --------------------------------------------------------------------------

func (x *PositionQualityIndex) Find(keys []kmer.Kmer) ([]dmap.Pair[kmer.Kmer, PosQual], error) {
	return x.m.Find(keys)
}

func (x *PositionQualityIndex) FindIf(keys []kmer.Kmer, pred dmap.PairPredicate[kmer.Kmer, PosQual]) ([]dmap.Pair[kmer.Kmer, PosQual], error) {
	return x.m.FindIf(keys, pred)
}

func (x *PositionQualityIndex) Count(keys []kmer.Kmer) ([]dmap.KeyCount[kmer.Kmer], error) {
	return x.m.Count(keys)
}

func (x *PositionQualityIndex) CountIf(keys []kmer.Kmer, pred dmap.KeyPredicate[kmer.Kmer]) ([]dmap.KeyCount[kmer.Kmer], error) {
	return x.m.CountIf(keys, pred)
}

func (x *PositionQualityIndex) Erase(keys []kmer.Kmer) (int, error) {
	return x.m.Erase(keys)
}

func (x *PositionQualityIndex) EraseIf(keys []kmer.Kmer, pred dmap.PairPredicate[kmer.Kmer, PosQual]) (int, error) {
	return x.m.EraseIf(keys, pred)
}

func (x *PositionQualityIndex) LocalSize() int {
	return x.m.LocalSize()
}

// BalanceStats reports the load distribution across ranks. Collective.
func (x *PositionQualityIndex) BalanceStats() (dmap.DistributionStats, error) {
	return dmap.LoadStats(x.t, x.m.LocalSize())
}
