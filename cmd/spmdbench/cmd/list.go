package cmd

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spmdbench/spmdbench/internal/benchmarks"
	"github.com/spmdbench/spmdbench/internal/spmd"
)

// benchmarkInfo is the JSON form of a registry entry
type benchmarkInfo struct {
	Name    string `json:"name"`
	NDRange bool   `json:"ndrange"`
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available benchmarks",
		Long:  `List the benchmarks "run --select" accepts, in the order run executes them.`,
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func runList(cmd *cobra.Command, args []string) error {
	if err := validateOutputFormat(); err != nil {
		return err
	}
	_, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rt := spmd.NewLocal(spmd.Config{Rank: 0, WorldSize: 1}, spmd.WithLogger(logger))
	entries := benchmarks.NewRegistry(rt, benchmarks.WithRegistryLogger(logger)).Entries()

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		infos := make([]benchmarkInfo, len(entries))
		for i, e := range entries {
			infos[i] = benchmarkInfo{Name: e.Name, NDRange: e.NDRange}
		}
		return writeJSON(out, infos)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tND-RANGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%t\n", e.Name, e.NDRange)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	logger.Debug("listed benchmarks", slog.Int("count", len(entries)))
	return nil
}
