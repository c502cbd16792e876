package index

import (
	"github.com/patflick/kmerind/lib/comm"
	"github.com/patflick/kmerind/lib/dmap"
	"github.com/patflick/kmerind/lib/fastx"
	"github.com/patflick/kmerind/lib/kmer"
)

// CountIndex maps every k-mer to its occurrence count across the corpus.
type CountIndex struct {
	opts Options
	gen  *kmer.Generator
	m    *dmap.CountingMap[kmer.Kmer]
	t    comm.ITransport
}

// NewCountIndex creates a count index over the transport.
func NewCountIndex(t comm.ITransport, opts *Options) (*CountIndex, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	gen, pol, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	m, err := dmap.NewCountingMap(t, mapOptions(pol, countPairCodec()))
	if err != nil {
		return nil, err
	}
	return &CountIndex{opts: *opts, gen: gen, m: m, t: t}, nil
}

// Generator exposes the index's k-mer generator for building queries.
func (x *CountIndex) Generator() *kmer.Generator {
	return x.gen
}

// ReadFile extracts the k-mers of this rank's block of the file.
// Also returns the per-rank k-mer count estimate for reservation.
func (x *CountIndex) ReadFile(path string) ([]kmer.Kmer, int, error) {
	slice, offset, est, err := fileBlock(x.t, path, x.gen.K())
	if err != nil {
		return nil, 0, err
	}

	kmers := make([]kmer.Kmer, 0, est)
	err = eachRead(slice, offset, func(r fastx.Read) {
		x.gen.Each(r.Seq, func(km kmer.Kmer, _ int) {
			kmers = append(kmers, km)
		})
	})
	return kmers, est, err
}

// Build reads this rank's block of the file, reserves and inserts.
func (x *CountIndex) Build(path string) error {
	kmers, est, err := x.ReadFile(path)
	if err != nil {
		return err
	}
	if err := x.m.Reserve(est); err != nil {
		return err
	}
	return x.BuildTuples(kmers)
}

// BuildTuples inserts an already extracted k-mer batch.
func (x *CountIndex) BuildTuples(kmers []kmer.Kmer) error {
	if err := x.m.Insert(kmers); err != nil {
		return err
	}
	log.Infof("count index: rank %d holds %d counters", x.t.Rank(), x.m.LocalSize())
	return nil
}

// BuildStream inserts the k-mer batch through the asynchronous
// communication layer instead of the collective exchange.
func (x *CountIndex) BuildStream(layer *comm.CommLayer, kmers []kmer.Kmer) error {
	tuples := make([]dmap.Pair[kmer.Kmer, uint64], len(kmers))
	for i, km := range kmers {
		tuples[i] = dmap.Pair[kmer.Kmer, uint64]{Key: km, Value: 1}
	}
	return buildStream(layer, x.opts.StreamTag, x.opts.StreamBatch, countPairCodec(),
		x.m.Owner, x.m.LocalInsert, tuples)
}

// --------------------------------------------------------------------------
// Queries (forwarded to the counting map)
// --------------------------------------------------------------------------

func (x *CountIndex) Find(keys []kmer.Kmer) ([]dmap.Pair[kmer.Kmer, uint64], error) {
	return x.m.Find(keys)
}

func (x *CountIndex) FindIf(keys []kmer.Kmer, pred dmap.PairPredicate[kmer.Kmer, uint64]) ([]dmap.Pair[kmer.Kmer, uint64], error) {
	return x.m.FindIf(keys, pred)
}

func (x *CountIndex) Count(keys []kmer.Kmer) ([]dmap.KeyCount[kmer.Kmer], error) {
	return x.m.Count(keys)
}

func (x *CountIndex) CountIf(keys []kmer.Kmer, pred dmap.KeyPredicate[kmer.Kmer]) ([]dmap.KeyCount[kmer.Kmer], error) {
	return x.m.CountIf(keys, pred)
}

func (x *CountIndex) Erase(keys []kmer.Kmer) (int, error) {
	return x.m.Erase(keys)
}

func (x *CountIndex) EraseIf(keys []kmer.Kmer, pred dmap.PairPredicate[kmer.Kmer, uint64]) (int, error) {
	return x.m.EraseIf(keys, pred)
}

func (x *CountIndex) LocalSize() int {
	return x.m.LocalSize()
}

// BalanceStats reports the load distribution across ranks. Collective.
func (x *CountIndex) BalanceStats() (dmap.DistributionStats, error) {
	return dmap.LoadStats(x.t, x.m.LocalSize())
}
