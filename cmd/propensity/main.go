package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	flagConfig  string
	flagDSN     string
	flagVerbose bool
)

// rootCmd is the base command for the propensity CLI
var rootCmd = &cobra.Command{
	Use:   "propensity",
	Short: "Customer purchase propensity pipeline",
	Long: `Propensity scores customers on probability of purchasing within a fixed
future window, from raw transaction logs. It trains linear, bagged-tree and
boosted-tree base learners plus stacking and blending ensembles, and scores
customers with per-feature contribution breakdowns.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if flagVerbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("propensity - customer purchase prediction pipeline")
		fmt.Println("Use 'propensity train' to run a training pipeline")
	},
}

// globalFlags are shared by every subcommand.
func globalFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ContinueOnError)
	fs.StringVar(&flagConfig, "config", "config/pipeline.yaml", "Path to pipeline configuration")
	fs.StringVar(&flagDSN, "dsn", os.Getenv("PROPENSITY_PG_DSN"), "PostgreSQL DSN for the transactions table")
	fs.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	return fs
}

func init() {
	rootCmd.PersistentFlags().AddFlagSet(globalFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
