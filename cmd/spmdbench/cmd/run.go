package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/spmdbench/spmdbench/internal/benchmarks"
	"github.com/spmdbench/spmdbench/internal/config"
	"github.com/spmdbench/spmdbench/internal/filetransfer"
	"github.com/spmdbench/spmdbench/internal/harness"
	"github.com/spmdbench/spmdbench/internal/hooks"
	"github.com/spmdbench/spmdbench/internal/logging"
	"github.com/spmdbench/spmdbench/internal/result"
	"github.com/spmdbench/spmdbench/internal/spmd"
	"github.com/spmdbench/spmdbench/internal/storage"
)

// paramArithIterations sets the inner loop count of the arithmetic micro benchmarks
const paramArithIterations = "arith-iterations"

func newRunCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Run benchmarks",
		Long: `Run the selected benchmarks (all by default) with shared arguments.

Every rank executes the kernels. Only the master rank (rank 0) writes
results to stdout, the CSV file and the database.`,
		Example: `  spmdbench run --size 4096 --num-runs 10
  spmdbench run --select Matmul_float32,MicroBench_DRAM_float32 --csv results.csv
  spmdbench run --no-verification --param arith-iterations=1024`,
		Args: cobra.NoArgs,
		RunE: runBenchmarks,
	}

	f := c.Flags()
	f.Int("size", 3072, "Problem size")
	f.Int("local", 256, "Local (work-group) size")
	f.Int("num-runs", 5, "Repetitions per benchmark")
	f.Bool(config.FlagNoVerification, false, "Disable result verification")
	f.IntSlice(config.FlagVerificationBegin, []int{0, 0, 0}, "Start of the verified region")
	f.IntSlice(config.FlagVerificationRange, []int{1, 1, 1}, "Extent of the verified region")
	f.Bool(harness.FlagNoNDRangeKernels, false, "Skip ND-range kernel variants")
	f.StringToString(config.FlagParam, nil, "Benchmark parameter as key=value (repeatable)")
	f.StringSlice("select", nil, "Benchmarks to run (default all)")
	f.String("csv", "", "Write results to this CSV file, overwriting it")
	f.Bool("stdout", true, "Print results to stdout")
	f.String("database", "", "SQLite database for results")
	f.Int("rank", -1, "Rank of this process (negative detects from the launcher)")
	f.Int("world-size", 0, "Number of ranks (zero detects from the launcher)")
	f.Int("workers", 0, "Concurrent tasks per rank (zero uses GOMAXPROCS)")
	f.Bool("profiling", false, "Record device timestamps for kernel-time")
	f.Bool("gpu-power", false, "Sample GPU power with nvidia-smi while kernels run")
	f.Bool("phase-timer", false, "Report setup-time statistics")
	f.String("metrics-listen", "", "Serve Prometheus metrics on this address during the run")

	return c
}

func runBenchmarks(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("invalid configuration, continuing with best-effort values",
			slog.String("error", err.Error()))
	}

	rt := spmd.NewLocal(spmd.Config{
		Rank:      cfg.Runtime.Rank,
		WorldSize: cfg.Runtime.WorldSize,
		Workers:   cfg.Runtime.Workers,
		Profiling: cfg.Runtime.Profiling,
	}, spmd.WithLogger(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRank(ctx, rt.Rank())

	sinks, err := openSinks(ctx, cmd, cfg, logger, rt.IsMaster())
	if err != nil {
		return err
	}
	defer sinks.close()

	hookList, closeHooks := buildHooks(cfg, logger)
	defer closeHooks()

	if cfg.Metrics.Listen != "" {
		shutdown := serveMetrics(cfg.Metrics.Listen, logger)
		defer shutdown()
	}

	app := harness.NewApp(rt, func() (harness.Args, error) {
		return cfg.BenchmarkArgs(sinks.consumer)
	}, harness.WithLogger(logger), harness.WithHooks(hookList...))

	registry := benchmarks.NewRegistry(rt,
		benchmarks.WithArithIterations(cfg.Flags().IntParam(paramArithIterations, benchmarks.DefaultArithIterations)),
		benchmarks.WithRegistryLogger(logger))

	outcomes, err := registry.Run(ctx, app, cfg.Benchmark.Select)
	if err != nil {
		return err
	}

	if err := sinks.close(); err != nil {
		logger.Error("failed to close result sinks", slog.String("error", err.Error()))
	}

	if rt.IsMaster() && cfg.Upload.Enabled() && cfg.Output.CSV != "" {
		remote, err := uploadResults(ctx, cfg, logger, rt.Rank())
		if err != nil {
			return fmt.Errorf("failed to upload results: %w", err)
		}
		logger.Info("results uploaded", slog.String("remote_path", remote))
	}

	return summarize(logger, outcomes)
}

// runSinks owns the result consumers opened for one run
type runSinks struct {
	consumer result.Consumer
	csv      *result.CSV
	db       *storage.DB
}

// openSinks opens the configured result sinks. Only the master rank writes
// results, so other ranks get a Nop consumer and never touch the files.
func openSinks(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, master bool) (*runSinks, error) {
	s := &runSinks{consumer: result.Nop{}}
	if !master {
		return s, nil
	}

	var consumers []result.Consumer
	if cfg.Output.Stdout {
		consumers = append(consumers, result.NewText(cmd.OutOrStdout()))
	}

	if cfg.Output.CSV != "" {
		csv, err := result.OpenCSV(cfg.Output.CSV)
		if err != nil {
			return nil, err
		}
		s.csv = csv
		consumers = append(consumers, csv)
	}

	if cfg.Database.Path != "" {
		db, err := storage.New(cfg.Database.Path)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.db = db
		if err := db.Migrate(ctx); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		hostname, _ := os.Hostname()
		consumers = append(consumers, result.NewStore(storage.NewRunStore(db),
			result.WithStoreLogger(logger),
			result.WithHostname(hostname)))
	}

	if len(consumers) > 0 {
		s.consumer = result.NewMulti(consumers...)
	}
	return s, nil
}

// close closes the CSV file and database. It is safe to call more than once.
func (s *runSinks) close() error {
	var errs []error
	if s.csv != nil {
		errs = append(errs, s.csv.Close())
		s.csv = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}

// buildHooks creates the configured hooks and a func releasing them
func buildHooks(cfg *config.Config, logger *slog.Logger) ([]harness.Hook, func()) {
	var list []harness.Hook
	var closers []func() error

	if cfg.Hooks.Prometheus.Enabled {
		list = append(list, hooks.NewPrometheus())
	}
	if cfg.Hooks.PhaseTimer.Enabled {
		list = append(list, hooks.NewPhaseTimer())
	}
	if cfg.Hooks.GPUPower.Enabled {
		gpu := hooks.NewGPUPower(hooks.NewSMIMonitor(logger),
			hooks.WithSampleInterval(cfg.Hooks.GPUPower.SampleInterval),
			hooks.WithGPULogger(logger))
		list = append(list, gpu)
		closers = append(closers, gpu.Close)
	}

	return list, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("failed to close hook", slog.String("error", err.Error()))
			}
		}
	}
}

// serveMetrics exposes /metrics while benchmarks run and returns its shutdown func
func serveMetrics(addr string, logger *slog.Logger) func() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown error", slog.String("error", err.Error()))
		}
	}
}

func uploadResults(ctx context.Context, cfg *config.Config, logger *slog.Logger, rank int) (string, error) {
	up := cfg.Upload
	creds, err := filetransfer.LoadCredentials(up.Host, up.Port, up.User, up.KeyFile)
	if err != nil {
		return "", err
	}

	opts := []filetransfer.Option{
		filetransfer.WithConnectTimeout(up.Timeout),
		filetransfer.WithLogger(logger),
	}
	if up.KnownHosts != "" {
		callback, err := filetransfer.KnownHosts(up.KnownHosts)
		if err != nil {
			return "", err
		}
		opts = append(opts, filetransfer.WithHostKeyCallback(callback))
	}

	hostname, _ := os.Hostname()
	transfer := filetransfer.New(creds, opts...)
	return transfer.UploadResults(ctx, cfg.Output.CSV, up.RemoteDir, hostname, rank)
}

// summarize logs the outcome counts and fails when any benchmark failed
func summarize(logger *slog.Logger, outcomes []harness.Outcome) error {
	var completed, failed, skipped int
	for _, o := range outcomes {
		switch o.Status {
		case harness.StatusCompleted:
			completed++
		case harness.StatusFailed:
			failed++
			logger.Error("benchmark failed",
				slog.String("benchmark", o.Benchmark),
				slog.String("error", fmt.Sprint(o.Err)))
		case harness.StatusSkipped:
			skipped++
		}
	}

	logger.Info("benchmark run finished",
		slog.Int("completed", completed),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped))

	if failed > 0 {
		return fmt.Errorf("%d of %d benchmarks failed", failed, len(outcomes))
	}
	return nil
}
