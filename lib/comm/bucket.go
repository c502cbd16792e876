package comm

import (
	"github.com/patflick/kmerind/lib/codec"
)

// --------------------------------------------------------------------------
// Stable Bucketing
// --------------------------------------------------------------------------

// Bucket reorders items so that all records mapping to rank 0 form a
// contiguous run, followed by the run for rank 1, and so on. Two records
// with the same rank keep their original relative order, which is what makes
// application-visible insertion order well-defined after the exchange.
//
// Returns the reordered records and the size of each run. Linear scan plus
// linear scatter; the counts are used directly as all-to-all send counts.
func Bucket[T any](items []T, numRanks int, rank func(T) int) ([]T, []int) {
	counts := make([]int, numRanks)
	for i := range items {
		counts[rank(items[i])]++
	}

	// exclusive prefix sum gives the write offset of each run
	offsets := make([]int, numRanks)
	sum := 0
	for i := 0; i < numRanks; i++ {
		offsets[i] = sum
		sum += counts[i]
	}

	out := make([]T, len(items))
	for i := range items {
		r := rank(items[i])
		out[offsets[r]] = items[i]
		offsets[r]++
	}
	return out, counts
}

// --------------------------------------------------------------------------
// All-to-All Exchange
// --------------------------------------------------------------------------

// Exchange performs the collective exchange of a bucketed record vector:
// the run for rank i (of size counts[i]) is encoded and sent to rank i; the
// reciprocal runs are decoded and concatenated in rank order.
//
// Returns the received records and the per-source record counts, which a
// query operation uses to route its results back.
func Exchange[T any](t ITransport, c codec.ICodec[T], items []T, counts []int) ([]T, []int, error) {
	send := make([][]byte, t.Size())
	pos := 0
	for i := 0; i < t.Size(); i++ {
		chunk := items[pos : pos+counts[i]]
		pos += counts[i]

		data, err := c.Encode(chunk)
		if err != nil {
			return nil, nil, err
		}
		send[i] = data
	}

	recv, err := t.Alltoallv(send)
	if err != nil {
		return nil, nil, err
	}

	var out []T
	recvCounts := make([]int, t.Size())
	for i, data := range recv {
		chunk, err := c.Decode(data)
		if err != nil {
			return nil, nil, err
		}
		recvCounts[i] = len(chunk)
		out = append(out, chunk...)
	}
	return out, recvCounts, nil
}
