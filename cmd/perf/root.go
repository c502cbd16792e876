package perf

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	cmdUtil "github.com/patflick/kmerind/cmd/util"
	"github.com/patflick/kmerind/lib/comm"
	"github.com/patflick/kmerind/lib/comm/local"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PerfCmd measures the throughput of the communication layer
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance measurement of the communication layer",
		Long:    "Flood the communication layer with messages between in-process ranks and report throughput and latency percentiles.",
		PreRunE: func(cmd *cobra.Command, _ []string) error { return cmdUtil.BindCommandFlags(cmd) },
		RunE:    run,
	}
)

func init() {
	key := "procs"
	PerfCmd.Flags().Int(key, 4, cmdUtil.WrapString("Number of in-process ranks"))

	key = "messages"
	PerfCmd.Flags().Int(key, 100000, cmdUtil.WrapString("Messages per rank"))

	key = "size"
	PerfCmd.Flags().Int(key, 64, cmdUtil.WrapString("Payload size per message in bytes"))

	key = "queue-capacity"
	PerfCmd.Flags().Int(key, 1024, cmdUtil.WrapString("Capacity of the outbound send queue"))

	key = "buffer-capacity"
	PerfCmd.Flags().Int(key, 64*1024, cmdUtil.WrapString("Size of each per-destination outbound buffer in bytes"))
}

// run floods the mesh with one tag of traffic and reports metrics
func run(_ *cobra.Command, _ []string) error {
	procs := viper.GetInt("procs")
	messages := viper.GetInt("messages")
	size := viper.GetInt("size")

	const tag = 1

	transports, err := local.NewMesh(procs)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()
	sendTimer := metrics.GetOrRegisterTimer("comm.send", registry)
	var delivered atomic.Int64

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}

	fmt.Printf("perf: %d ranks, %d messages/rank, %d byte payload\n", procs, messages, size)
	start := time.Now()

	var wg sync.WaitGroup
	errs := make([]error, procs)
	for rank := 0; rank < procs; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = runRank(transports[rank], tag, messages, payload, sendTimer, &delivered)
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			return fmt.Errorf("rank %d failed: %v", rank, err)
		}
	}

	elapsed := time.Since(start)
	total := delivered.Load()
	fmt.Printf("delivered %d messages in %v (%.0f msg/s)\n",
		total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	fmt.Printf("send latency: p50 %v, p99 %v, max %v\n",
		time.Duration(sendTimer.Percentile(0.5)),
		time.Duration(sendTimer.Percentile(0.99)),
		time.Duration(sendTimer.Max()))

	metrics.WriteOnce(registry, os.Stdout)
	return nil
}

// runRank drives one rank of the flood
func runRank(t comm.ITransport, tag uint32, messages int, payload []byte, sendTimer metrics.Timer, delivered *atomic.Int64) error {
	layer, err := comm.NewCommLayer(t, &comm.CommLayerOptions{
		QueueCapacity:   viper.GetInt("queue-capacity"),
		BufferCapacity:  viper.GetInt("buffer-capacity"),
		DispatchWorkers: 1,
	})
	if err != nil {
		return err
	}

	if err := layer.AddReceiveCallback(tag, func(src int, msg []byte) {
		delivered.Add(1)
	}); err != nil {
		return err
	}
	layer.InitCommunication()

	for i := 0; i < messages; i++ {
		dst := i % t.Size()
		begin := time.Now()
		if err := layer.SendMessage(payload, dst, tag); err != nil {
			return err
		}
		sendTimer.UpdateSince(begin)
	}

	if err := layer.Flush(tag); err != nil {
		return err
	}
	if err := layer.Finish(tag); err != nil {
		return err
	}
	return layer.FinishCommunication()
}
