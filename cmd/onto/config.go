package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/ontoscope/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get or set configuration values",
	Long: `Get or set configuration values.

Usage:
  onto config                              # Show effective config
  onto config backend_url                  # Get specific value
  onto config backend_url http://host:8000 # Set value in the config file

Keys:
  backend_url        Graph backend base URL ($ONTO_BACKEND_URL)
  api_token          Bearer token ($ONTO_API_TOKEN)
  data_dir           Offline backend directory ($ONTO_DATA_DIR)
  rate_limit         Requests per second (0 disables)
  default_hops       Expansion depth when none is given
  request_timeout    HTTP timeout, e.g. 30s
  layout.iterations  Force-directed relaxation steps
  layout.debounce    Layout coalescing window, e.g. 50ms
  layout.seed        Layout random seed
  log.level          debug, info, warn, or error ($ONTO_LOG_LEVEL)
  log.development    Human-friendly log format`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	// No args: show effective config
	if len(args) == 0 {
		shown := *cfg
		if shown.APIToken != "" {
			shown.APIToken = "********"
		}
		values := make(map[string]string, len(config.Keys))
		for _, key := range config.Keys {
			values[key], _ = shown.Get(key)
		}
		if humanOutput {
			for _, key := range config.Keys {
				outputHuman("%-18s %s\n", key+":", values[key])
			}
			return nil
		}
		return outputJSON(values)
	}

	key := args[0]

	// One arg: get specific value
	if len(args) == 1 {
		v, err := cfg.Get(key)
		if err != nil {
			return exitWithError(ExitDataError, "%v", err)
		}
		if humanOutput {
			outputHuman("%s\n", v)
			return nil
		}
		return outputJSON(map[string]string{key: v})
	}

	// Two args: set in the file, without environment overrides or defaults
	path := configPath
	if path == "" {
		path = config.Path()
	}
	fileCfg, err := config.Read(path)
	if err != nil {
		return exitWithError(ExitConfigError, "%v", err)
	}
	if err := fileCfg.Set(key, args[1]); err != nil {
		return exitWithError(ExitDataError, "%v", err)
	}
	if err := fileCfg.Save(path); err != nil {
		return exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		outputHuman("Set %s = %s\n", key, args[1])
		return nil
	}
	return outputJSON(UpdateResponse{Status: "updated", Key: key, Value: args[1]})
}
