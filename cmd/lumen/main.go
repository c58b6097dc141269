package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lumen/internal/config"
	"lumen/internal/logging"
	"lumen/internal/monitor"
	"lumen/internal/prompts"
)

var (
	// Global flags
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "lumen",
	Short: "lumen - the brain of the smart display",
	Long: `lumen turns natural language into display behavior: it routes each
utterance to the right model tier, parses it into a typed intent, and
executes it - device commands, calendar flows, or a fully generated and
browser-validated HTML layout.

Run without arguments to start the interactive console.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.NewDevelopment(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Init(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsole()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Default()
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

// bootstrap loads config and builds the shared runtime pieces.
func bootstrap() (config.Config, *monitor.Monitor, *prompts.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, nil, nil, err
	}
	mon := monitor.New(cfg.MonitorHistorySize)
	store, err := prompts.NewStore(cfg.PromptsDir)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("load prompts: %w", err)
	}
	return cfg, mon, store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
