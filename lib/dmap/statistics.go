package dmap

import (
	"encoding/binary"
	"math"

	"github.com/patflick/kmerind/lib/comm"
)

// ----------------------------------------------------------------------------
// Load-Distribution Statistics
// ----------------------------------------------------------------------------

// Stats summarizes the spread of per-rank load values.
type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes the standard deviation, minimum, and maximum values
// from an array of float64 values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	min := values[0]
	max := values[0]

	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}
	stdDev := math.Sqrt(sumSquaredDiffs / float64(len(values)))

	var minMaxRatio float64 = 1.0
	if max > 0 {
		minMaxRatio = min / max
	}

	return Stats{
		StdDeviation: stdDev,
		Min:          min,
		Max:          max,
		Mean:         mean,
		MinMaxRatio:  minMaxRatio,
	}
}

// DistributionStats adds a combined quality score to Stats.
type DistributionStats struct {
	Stats
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats computes quality metrics for value distribution
// across ranks. Lower coefficient of variation and higher min/max ratio
// indicate a better balance.
func NewDistributionStats(rankSizes []float64) DistributionStats {
	stats := NewStats(rankSizes)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	distributionQuality := (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: distributionQuality,
	}
}

// LoadStats gathers the local container sizes of all ranks and computes the
// distribution statistics. Collective: every rank must call it.
func LoadStats(t comm.ITransport, localSize int) (DistributionStats, error) {
	if t.Size() <= 1 {
		return NewDistributionStats([]float64{float64(localSize)}), nil
	}

	var payload [8]byte
	binary.BigEndian.PutUint64(payload[:], uint64(localSize))

	send := make([][]byte, t.Size())
	for i := range send {
		send[i] = payload[:]
	}
	recv, err := t.Alltoallv(send)
	if err != nil {
		return DistributionStats{}, err
	}

	sizes := make([]float64, len(recv))
	for i, data := range recv {
		sizes[i] = float64(binary.BigEndian.Uint64(data))
	}
	return NewDistributionStats(sizes), nil
}
