// Package main provides the onto CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matsen/ontoscope/internal/config"
	"github.com/matsen/ontoscope/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
	dataDirFlag string
	backendFlag string

	cfg    *config.Config
	logger = zap.NewNop()
)

func main() {
	// Interrupt cancels the running command; streams keep what they received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "onto",
	Short: "Explore a schema and instance graph",
	Long: `onto explores a labeled property graph split into a schema graph
(classes and permitted relationship types) and an instance graph
(entities and their relationships).

It talks to a graph backend over HTTP, or works offline against a
directory of JSONL files (--data-dir). All commands output JSON by
default; use --human for readable output.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/onto/config.yml)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Use the offline backend in this directory")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend-url", "", "Graph backend base URL")
	rootCmd.Version = Version
}

// setup loads .env, the config file, and the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	path := configPath
	if path == "" {
		path = config.Path()
	}
	loaded, err := config.LoadFrom(path)
	if err != nil {
		return exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if dataDirFlag != "" {
		loaded.DataDir = config.ExpandPath(dataDirFlag)
	}
	if backendFlag != "" {
		loaded.BackendURL = backendFlag
	}
	cfg = loaded

	l, err := logging.New(cfg.Log)
	if err != nil {
		return exitWithError(ExitConfigError, "creating logger: %v", err)
	}
	logger = l
	return nil
}
