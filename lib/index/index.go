package index

import (
	"os"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/patflick/kmerind/lib/codec"
	"github.com/patflick/kmerind/lib/comm"
	"github.com/patflick/kmerind/lib/dmap"
	"github.com/patflick/kmerind/lib/fastx"
	"github.com/patflick/kmerind/lib/kmer"
)

var log = logger.GetLogger("index")

// ReadPos locates one k-mer occurrence: the read id and the offset of the
// k-mer within the read.
type ReadPos struct {
	ReadID uint64
	Offset uint32
}

// PosQual adds the aggregated Phred quality of the k-mer window.
type PosQual struct {
	Pos  ReadPos
	Qual float32
}

// --------------------------------------------------------------------------
// Shared File Plumbing
// --------------------------------------------------------------------------

// fileBlock loads this rank's slice of the input file and returns it along
// with the per-rank k-mer count estimate used for reservation.
func fileBlock(t comm.ITransport, path string, k int) ([]byte, uint64, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, err
	}

	slice, offset := fastx.Block(data, t.Rank(), t.Size())

	// the estimate samples the whole file and divides by the rank count, so
	// every rank reserves the same amount
	est := fastx.EstimateKmerCount(data, k) / t.Size()
	return slice, offset, est, nil
}

// eachRead runs fn over every read of this rank's file slice.
func eachRead(slice []byte, offset uint64, fn func(r fastx.Read)) error {
	if len(slice) == 0 {
		return nil
	}
	parser, err := fastx.NewParser(slice, offset)
	if err != nil {
		return err
	}
	for {
		r, ok := parser.Next()
		if !ok {
			return nil
		}
		if len(r.Seq) == 0 {
			continue
		}
		fn(r)
	}
}

// --------------------------------------------------------------------------
// Streaming Build
// --------------------------------------------------------------------------

// buildStream pushes owner-bucketed tuple batches through the asynchronous
// communication layer. The receive callback performs the local inserts on
// the layer's dispatch worker, which is the single writer of the local
// container during the build.
func buildStream[V any](
	layer *comm.CommLayer,
	tag uint32,
	batchSize int,
	c codec.ICodec[dmap.Pair[kmer.Kmer, V]],
	owner func(kmer.Kmer) int,
	localInsert func([]dmap.Pair[kmer.Kmer, V]),
	tuples []dmap.Pair[kmer.Kmer, V],
) error {
	if err := layer.AddReceiveCallback(tag, func(src int, msg []byte) {
		recs, err := c.Decode(msg)
		if err != nil {
			log.Errorf("failed to decode streamed batch from rank %d: %v", src, err)
			return
		}
		localInsert(recs)
	}); err != nil {
		return err
	}

	// bucket by owner, then stream fixed-size batches per destination
	perDst := make(map[int][]dmap.Pair[kmer.Kmer, V])
	for _, tp := range tuples {
		dst := owner(tp.Key)
		perDst[dst] = append(perDst[dst], tp)
	}

	for dst, batch := range perDst {
		for start := 0; start < len(batch); start += batchSize {
			end := start + batchSize
			if end > len(batch) {
				end = len(batch)
			}
			data, err := c.Encode(batch[start:end])
			if err != nil {
				return err
			}
			if err := layer.SendMessage(data, dst, tag); err != nil {
				return err
			}
		}
	}

	if err := layer.Flush(tag); err != nil {
		return err
	}
	return layer.Finish(tag)
}
