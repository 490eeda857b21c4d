package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spmdbench/spmdbench/internal/storage"
)

func newResultsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "results",
		Short: "Browse stored benchmark results",
		Long:  `List, show and delete benchmark runs stored in the results database.`,
	}
	c.PersistentFlags().String("database", "", "SQLite database for results")

	c.AddCommand(newResultsListCmd())
	c.AddCommand(newResultsGetCmd())
	c.AddCommand(newResultsDeleteCmd())
	return c
}

func newResultsListCmd() *cobra.Command {
	var (
		benchmark    string
		verification string
		since        time.Duration
		limit        int
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "List stored runs",
		Long: `List stored benchmark runs, newest first.

Use --benchmark to filter by name and --verification to filter by
outcome (PASS, FAIL or N/A).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(); err != nil {
				return err
			}
			filter := storage.RunFilter{
				Benchmark:    benchmark,
				Verification: verification,
				Limit:        limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			return withRunStore(cmd, func(ctx context.Context, store *storage.RunStore) error {
				runs, err := store.ListRuns(ctx, filter)
				if err != nil {
					return err
				}
				return printRuns(cmd, runs)
			})
		},
	}

	c.Flags().StringVar(&benchmark, "benchmark", "", "Filter by benchmark name")
	c.Flags().StringVar(&verification, "verification", "", "Filter by verification outcome (PASS, FAIL, N/A)")
	c.Flags().DurationVar(&since, "since", 0, "Only runs newer than this (e.g. 24h)")
	c.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs")
	return c
}

func newResultsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [run-id]",
		Short: "Show a stored run and its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutputFormat(); err != nil {
				return err
			}
			return withRunStore(cmd, func(ctx context.Context, store *storage.RunStore) error {
				run, err := store.GetRun(ctx, args[0])
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("run not found: %s", args[0])
				}
				if err != nil {
					return err
				}
				return printRun(cmd, run)
			})
		},
	}
}

func newResultsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [run-id]",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(cmd, func(ctx context.Context, store *storage.RunStore) error {
				err := store.DeleteRun(ctx, args[0])
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("run not found: %s", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
				return nil
			})
		},
	}
}

// withRunStore opens the configured database for the duration of fn
func withRunStore(cmd *cobra.Command, fn func(ctx context.Context, store *storage.RunStore) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return fn(ctx, storage.NewRunStore(db))
}

func printRuns(cmd *cobra.Command, runs []*storage.Run) error {
	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		if runs == nil {
			runs = []*storage.Run{}
		}
		return writeJSON(out, runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBENCHMARK\tVERIFICATION\tSIZE\tLOCAL\tRANKS\tHOST\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.Benchmark,
			r.Verification,
			r.ProblemSize,
			r.LocalSize,
			r.WorldSize,
			r.Hostname,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

func printRun(cmd *cobra.Command, run *storage.Run) error {
	out := cmd.OutOrStdout()
	if outputFormat == "json" {
		return writeJSON(out, run)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", run.ID)
	fmt.Fprintf(w, "Benchmark:\t%s\n", run.Benchmark)
	fmt.Fprintf(w, "Verification:\t%s\n", run.Verification)
	fmt.Fprintf(w, "Backend:\t%s\n", run.Backend)
	fmt.Fprintf(w, "Problem Size:\t%d\n", run.ProblemSize)
	fmt.Fprintf(w, "Local Size:\t%d\n", run.LocalSize)
	fmt.Fprintf(w, "Ranks:\t%d\n", run.WorldSize)
	fmt.Fprintf(w, "Host:\t%s\n", run.Hostname)
	fmt.Fprintf(w, "Created:\t%s\n", run.CreatedAt.Local().Format(time.RFC3339))
	if err := w.Flush(); err != nil {
		return err
	}

	if len(run.Results) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE")
	for _, r := range run.Results {
		fmt.Fprintf(w, "%s\t%s\n", r.Key, r.Value)
	}
	return w.Flush()
}
