package index

import (
	"fmt"
	"strings"
	"sync"

	cmdUtil "github.com/patflick/kmerind/cmd/util"
	"github.com/patflick/kmerind/lib/comm"
	"github.com/patflick/kmerind/lib/comm/local"
	"github.com/patflick/kmerind/lib/dmap"
	"github.com/patflick/kmerind/lib/index"
	"github.com/patflick/kmerind/lib/kmer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// IndexCmd groups the index build commands
	IndexCmd = &cobra.Command{
		Use:   "index",
		Short: "Build a distributed k-mer index over a FASTQ/FASTA file",
		Long:  "Build a distributed k-mer index over a FASTQ/FASTA file. The file is partitioned across the configured number of in-process ranks; every rank extracts the k-mers of its block and the index is constructed collectively (or via the asynchronous streaming path).",
	}

	buildCmd = &cobra.Command{
		Use:     "build",
		Short:   "Build an index and report its load distribution",
		PreRunE: func(cmd *cobra.Command, _ []string) error { return cmdUtil.BindCommandFlags(cmd) },
		RunE:    runBuild,
	}
)

func init() {
	cmdUtil.SetupIndexFlags(IndexCmd)

	key := "file"
	buildCmd.Flags().String(key, "", cmdUtil.WrapString("Path to the FASTQ/FASTA input file"))

	key = "storage"
	buildCmd.Flags().String(key, "count", cmdUtil.WrapString("Index flavor: count (k-mer to occurrence count), position (k-mer to read positions), posqual (positions with aggregated quality)"))

	key = "stream"
	buildCmd.Flags().Bool(key, false, cmdUtil.WrapString("Build through the asynchronous communication layer instead of the collective exchange"))

	key = "queue-capacity"
	buildCmd.Flags().Int(key, 1024, cmdUtil.WrapString("Capacity of the outbound send queue (streaming build; bounds backpressure)"))

	key = "buffer-capacity"
	buildCmd.Flags().Int(key, 64*1024, cmdUtil.WrapString("Size of each per-destination outbound buffer in bytes (streaming build)"))

	key = "query"
	buildCmd.Flags().String(key, "", cmdUtil.WrapString("Optional comma-separated k-mers to count after the build"))

	IndexCmd.AddCommand(buildCmd)
}

// runBuild builds the selected index flavor across the in-process ranks
func runBuild(_ *cobra.Command, _ []string) error {
	file := viper.GetString("file")
	if file == "" {
		return fmt.Errorf("an input file is required (--file)")
	}

	opts := cmdUtil.GetIndexOptions()
	procs := viper.GetInt("procs")
	storage := viper.GetString("storage")
	stream := viper.GetBool("stream")

	transports, err := local.NewMesh(procs)
	if err != nil {
		return err
	}

	fmt.Printf("building %s index over %s with %d ranks (%s)\n", storage, file, procs, opts)

	var wg sync.WaitGroup
	errs := make([]error, procs)
	for rank := 0; rank < procs; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = buildRank(transports[rank], opts, storage, file, stream)
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			return fmt.Errorf("rank %d failed: %v", rank, err)
		}
	}
	return nil
}

// buildRank runs the build (and the optional query) for one rank
func buildRank(t comm.ITransport, opts *index.Options, storage, file string, stream bool) error {
	var (
		localSize func() int
		stats     func() (dmap.DistributionStats, error)
		count     func([]kmer.Kmer) ([]dmap.KeyCount[kmer.Kmer], error)
		gen       *kmer.Generator
		build     func() error
	)

	switch storage {
	case "count":
		x, err := index.NewCountIndex(t, opts)
		if err != nil {
			return err
		}
		localSize, stats, count, gen = x.LocalSize, x.BalanceStats, x.Count, x.Generator()
		build = func() error {
			if stream {
				return buildStreaming(t, func(layer *comm.CommLayer) error {
					kmers, _, err := x.ReadFile(file)
					if err != nil {
						return err
					}
					return x.BuildStream(layer, kmers)
				})
			}
			return x.Build(file)
		}
	case "position":
		x, err := index.NewPositionIndex(t, opts)
		if err != nil {
			return err
		}
		localSize, stats, count, gen = x.LocalSize, x.BalanceStats, x.Count, x.Generator()
		build = func() error {
			if stream {
				return buildStreaming(t, func(layer *comm.CommLayer) error {
					tuples, _, err := x.ReadFile(file)
					if err != nil {
						return err
					}
					return x.BuildStream(layer, tuples)
				})
			}
			return x.Build(file)
		}
	case "posqual":
		x, err := index.NewPositionQualityIndex(t, opts)
		if err != nil {
			return err
		}
		localSize, stats, count, gen = x.LocalSize, x.BalanceStats, x.Count, x.Generator()
		build = func() error {
			if stream {
				return buildStreaming(t, func(layer *comm.CommLayer) error {
					tuples, _, err := x.ReadFile(file)
					if err != nil {
						return err
					}
					return x.BuildStream(layer, tuples)
				})
			}
			return x.Build(file)
		}
	default:
		return fmt.Errorf("invalid storage %s (expected one of: count, position, posqual)", storage)
	}

	if err := build(); err != nil {
		return err
	}

	// the balance report is collective, so every rank participates
	distribution, err := stats()
	if err != nil {
		return err
	}
	if t.Rank() == 0 {
		fmt.Printf("load distribution: mean %.0f pairs/rank, stddev %.1f, quality %.2f\n",
			distribution.Mean, distribution.StdDeviation, distribution.DistributionQuality)
	}
	fmt.Printf("rank %d: %d pairs\n", t.Rank(), localSize())

	return runQuery(t, gen, count)
}

// buildStreaming wraps a streaming build with the communication layer
// lifecycle
func buildStreaming(t comm.ITransport, fn func(layer *comm.CommLayer) error) error {
	layer, err := comm.NewCommLayer(t, &comm.CommLayerOptions{
		QueueCapacity:   viper.GetInt("queue-capacity"),
		BufferCapacity:  viper.GetInt("buffer-capacity"),
		DispatchWorkers: 1,
	})
	if err != nil {
		return err
	}
	layer.InitCommunication()

	if err := fn(layer); err != nil {
		return err
	}
	return layer.FinishCommunication()
}

// runQuery counts the requested k-mers after the build. Collective: all
// ranks issue the same query, rank 0 prints the result.
func runQuery(t comm.ITransport, gen *kmer.Generator, count func([]kmer.Kmer) ([]dmap.KeyCount[kmer.Kmer], error)) error {
	query := viper.GetString("query")
	if query == "" {
		return nil
	}

	var keys []kmer.Kmer
	for _, s := range strings.Split(query, ",") {
		km, err := gen.FromString(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		keys = append(keys, km)
	}

	results, err := count(keys)
	if err != nil {
		return err
	}
	if t.Rank() == 0 {
		for _, kc := range results {
			fmt.Printf("%s: %d\n", gen.String(kc.Key), kc.Count)
		}
	}
	return nil
}
