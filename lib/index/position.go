package index

import (
	"github.com/patflick/kmerind/lib/comm"
	"github.com/patflick/kmerind/lib/dmap"
	"github.com/patflick/kmerind/lib/fastx"
	"github.com/patflick/kmerind/lib/kmer"
)

// PositionIndex maps every k-mer to the positions of all its occurrences.
type PositionIndex struct {
	opts Options
	gen  *kmer.Generator
	m    *dmap.MultiMap[kmer.Kmer, ReadPos]
	t    comm.ITransport
}

// NewPositionIndex creates a position index over the transport.
func NewPositionIndex(t comm.ITransport, opts *Options) (*PositionIndex, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	gen, pol, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	m, err := dmap.NewMultiMap(t, mapOptions(pol, posPairCodec()))
	if err != nil {
		return nil, err
	}
	return &PositionIndex{opts: *opts, gen: gen, m: m, t: t}, nil
}

// Generator exposes the index's k-mer generator for building queries.
func (x *PositionIndex) Generator() *kmer.Generator {
	return x.gen
}

// ReadFile extracts (k-mer, position) tuples from this rank's block of the
// file. Also returns the per-rank k-mer count estimate for reservation.
func (x *PositionIndex) ReadFile(path string) ([]dmap.Pair[kmer.Kmer, ReadPos], int, error) {
	slice, offset, est, err := fileBlock(x.t, path, x.gen.K())
	if err != nil {
		return nil, 0, err
	}

	tuples := make([]dmap.Pair[kmer.Kmer, ReadPos], 0, est)
	err = eachRead(slice, offset, func(r fastx.Read) {
		x.gen.Each(r.Seq, func(km kmer.Kmer, pos int) {
			tuples = append(tuples, dmap.Pair[kmer.Kmer, ReadPos]{
				Key:   km,
				Value: ReadPos{ReadID: r.ID, Offset: uint32(pos)},
			})
		})
	})
	return tuples, est, err
}

// Build reads this rank's block of the file, reserves, inserts and
// refreshes the key-multiplicity estimate.
func (x *PositionIndex) Build(path string) error {
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
func (x *PositionIndex) BuildTuples(tuples []dmap.Pair[kmer.Kmer, ReadPos]) error {
	if err := x.m.Insert(tuples); err != nil {
		return err
	}
	mult := x.m.UpdateMultiplicity()
	log.Infof("position index: rank %d holds %d positions, key multiplicity %d",
		x.t.Rank(), x.m.LocalSize(), mult)
	return nil
}

// BuildStream inserts the tuple batch through the asynchronous
// communication layer instead of the collective exchange.
func (x *PositionIndex) BuildStream(layer *comm.CommLayer, tuples []dmap.Pair[kmer.Kmer, ReadPos]) error {
	if err := buildStream(layer, x.opts.StreamTag, x.opts.StreamBatch, posPairCodec(),
		x.m.Owner, x.m.LocalInsert, tuples); err != nil {
		return err
	}
	x.m.UpdateMultiplicity()
	return nil
}

// --------------------------------------------------------------------------
// Queries (forwarded to the multimap)
// --------------------------------------------------------------------------

func (x *PositionIndex) Find(keys []kmer.Kmer) ([]dmap.Pair[kmer.Kmer, ReadPos], error) {
	return x.m.Find(keys)
}

func (x *PositionIndex) FindIf(keys []kmer.Kmer, pred dmap.PairPredicate[kmer.Kmer, ReadPos]) ([]dmap.Pair[kmer.Kmer, ReadPos], error) {
	return x.m.FindIf(keys, pred)
}

func (x *PositionIndex) Count(keys []kmer.Kmer) ([]dmap.KeyCount[kmer.Kmer], error) {
	return x.m.Count(keys)
}

func (x *PositionIndex) CountIf(keys []kmer.Kmer, pred dmap.KeyPredicate[kmer.Kmer]) ([]dmap.KeyCount[kmer.Kmer], error) {
	return x.m.CountIf(keys, pred)
}

func (x *PositionIndex) Erase(keys []kmer.Kmer) (int, error) {
	return x.m.Erase(keys)
}

func (x *PositionIndex) EraseIf(keys []kmer.Kmer, pred dmap.PairPredicate[kmer.Kmer, ReadPos]) (int, error) {
	return x.m.EraseIf(keys, pred)
}

func (x *PositionIndex) LocalSize() int {
	return x.m.LocalSize()
}

// BalanceStats reports the load distribution across ranks. Collective.
func (x *PositionIndex) BalanceStats() (dmap.DistributionStats, error) {
	return dmap.LoadStats(x.t, x.m.LocalSize())
}
