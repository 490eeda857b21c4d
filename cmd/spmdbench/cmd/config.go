package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spmdbench/spmdbench/internal/config"
)

func newConfigCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
		Long:  `View the spmdbench configuration after file, environment and flags are applied.`,
	}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})
	return c
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if err := validateOutputFormat(); err != nil {
		return err
	}
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return writeJSON(out, cfg)
	}

	b := cfg.Benchmark
	fmt.Fprintln(out, "spmdbench Configuration")
	fmt.Fprintln(out, "=======================")
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Config File:\t%s\n", orDefault(configPath, "(none)"))
	fmt.Fprintf(w, "Problem Size:\t%d\n", b.Size)
	fmt.Fprintf(w, "Local Size:\t%d\n", b.Local)
	fmt.Fprintf(w, "Runs:\t%d\n", b.NumRuns)
	fmt.Fprintf(w, "Verification:\t%t begin=%v range=%v\n", b.Verification.Enabled, b.Verification.Begin, b.Verification.Range)
	fmt.Fprintf(w, "ND-Range Kernels:\t%t\n", !b.NoNDRangeKernels)
	fmt.Fprintf(w, "Selected:\t%s\n", orDefault(strings.Join(b.Select, ","), "(all)"))
	fmt.Fprintf(w, "Flags:\t%s\n", formatFlags(cfg.Flags()))
	fmt.Fprintf(w, "Stdout:\t%t\n", cfg.Output.Stdout)
	fmt.Fprintf(w, "CSV:\t%s\n", orDefault(cfg.Output.CSV, "(disabled)"))
	fmt.Fprintf(w, "Database:\t%s\n", orDefault(cfg.Database.Path, "(disabled)"))
	fmt.Fprintf(w, "Upload:\t%s\n", formatUpload(cfg.Upload))
	fmt.Fprintf(w, "Server:\t%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(w, "Log Level:\t%s\n", cfg.Logging.Level)
	if err := w.Flush(); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "\nWarning: %v\n", err)
	}
	return nil
}

func formatFlags(flags *config.Flags) string {
	names := flags.Names()
	if len(names) == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if v, ok := flags.Param(n); ok {
			parts = append(parts, n+"="+v)
			continue
		}
		parts = append(parts, n)
	}
	return strings.Join(parts, ",")
}

func formatUpload(u config.UploadConfig) string {
	if !u.Enabled() {
		return "(disabled)"
	}
	return fmt.Sprintf("%s@%s:%d:%s", u.User, u.Host, u.Port, u.RemoteDir)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
