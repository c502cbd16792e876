package cmd

import (
	"fmt"
	"os"

	"github.com/patflick/kmerind/cmd/index"
	"github.com/patflick/kmerind/cmd/perf"
	"github.com/patflick/kmerind/cmd/util"
	"github.com/patflick/kmerind/lib/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kmerind",
		Short: "distributed k-mer index",
		Long: fmt.Sprintf(`kmerind (v%s)

A distributed k-mer index for sequencing reads: k-mers are extracted from
FASTQ/FASTA input, sharded across parallel ranks by a prefix hash of their
canonical form, and stored in count, position or position-quality indexes
with batched lookup, counting and deletion.`, Version),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			return logging.InitLoggers(viper.GetString("log-level"))
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kmerind",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kmerind v%s\n", Version)
		},
	}
)

func init() {
	// initialize environment configuration
	cobra.OnInitialize(util.InitEnvConfig)

	// Add Commands
	RootCmd.AddCommand(index.IndexCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
