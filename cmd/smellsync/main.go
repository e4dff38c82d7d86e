// Command smellsync demonstrates the sync core end to end against an
// in-memory implementation of the external API contracts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smellsync/internal/config"
	"smellsync/internal/logging"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
	cfg    config.Config
)

var rootCmd = &cobra.Command{
	Use:   "smellsync",
	Short: "Client-side data synchronization engine for the code smell catalog",
	Long: `smellsync is the data synchronization layer behind the code smell
catalog browser: a filtered, paginated list pipeline with debounced input,
request deduplication, stale-while-revalidate caching, neighbor-page
prefetching, and optimistic favorite/progress toggles with rollback.

The demo subcommand runs the engine against an in-memory catalog so the
behavior can be observed without a server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		debug := verbose || cfg.Logging.Debug
		logger, err = logging.New(debug)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
