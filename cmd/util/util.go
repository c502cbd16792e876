package util

import (
	"github.com/joho/godotenv"
	"github.com/patflick/kmerind/lib/index"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitEnvConfig initializes configuration from environment variables.
// Flags can be overridden with KMERIND_<flag> variables, and .env files are
// loaded automatically.
func InitEnvConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("kmerind")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupIndexFlags adds the common index configuration flags to a command
func SetupIndexFlags(cmd *cobra.Command) {
	key := "k"
	cmd.PersistentFlags().Int(key, 21, WrapString("Length of the k-mers"))

	key = "alphabet"
	cmd.PersistentFlags().String(key, "dna", WrapString("Sequence alphabet (dna = 2-bit ACGT, dna5 = 3-bit with N, dna16 = 4-bit IUPAC)"))

	key = "transform"
	cmd.PersistentFlags().String(key, "lex", WrapString("Canonical key transform merging a k-mer with its reverse complement (identity, lex, xor)"))

	key = "dist-hash"
	cmd.PersistentFlags().String(key, "farm", WrapString("Hash assigning k-mers to ranks (identity, std, farm, murmur)"))

	key = "local-hash"
	cmd.PersistentFlags().String(key, "std", WrapString("Hash feeding the local storage (identity, std, farm, murmur)"))

	key = "procs"
	cmd.PersistentFlags().Int(key, 4, WrapString("Number of in-process ranks"))
}

// GetIndexOptions reads the index configuration from viper
func GetIndexOptions() *index.Options {
	opts := index.DefaultOptions()
	opts.K = viper.GetInt("k")
	opts.Alphabet = viper.GetString("alphabet")
	opts.Transform = viper.GetString("transform")
	opts.DistHash = viper.GetString("dist-hash")
	opts.LocalHash = viper.GetString("local-hash")
	return opts
}
