package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spmdbench/spmdbench/internal/config"
	"github.com/spmdbench/spmdbench/internal/logging"
)

var (
	configPath   string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "spmdbench",
		Short: "spmdbench - SPMD accelerator benchmark harness",
		Long: `spmdbench runs benchmark kernels across cooperating ranks and reports
timings from the master rank only.

This CLI tool allows you to:
- Run the bundled benchmarks with configurable problem sizes
- Store and browse results in a local database
- Serve stored results over HTTP
- Upload CSV results to a collector host`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", getEnvOrDefault("SPMDBENCH_CONFIG", ""), "Path to a config file (yaml, json or toml)")
	root.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "Log format (text, json)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newResultsCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newConfigCmd())

	return root
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadConfig reads the configuration with cmd's flags bound over it and
// sets up logging to stderr so stdout only carries results.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, logger, nil
}

func validateOutputFormat() error {
	switch outputFormat {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (want table or json)", outputFormat)
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
