// Package main provides the CLI entry point for kubebench, a benchmark that
// compares Kubernetes client libraries on create, read, watch and delete
// throughput.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/weiihann/kubebench/backend"
	"github.com/weiihann/kubebench/config"
	"github.com/weiihann/kubebench/harness"
	"github.com/weiihann/kubebench/metrics"
	"github.com/weiihann/kubebench/report"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRootCmd(logger, level)
	err := root.ExecuteContext(ctx)

	stop()

	if err != nil {
		logger.Error("kubebench failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	def := config.Default()

	root := &cobra.Command{
		Use:   "kubebench",
		Short: "Kubernetes client library benchmarking tool",
		Long: `Kubebench runs the same deterministic population of Deployments through
several Kubernetes client libraries and compares create, read, watch and
delete throughput.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "",
		"Path to a YAML config file")
	flags.String("env-file", config.DefaultEnvFile,
		"Path to a dotenv file (ignored when missing)")
	flags.String("log-level", def.LogLevel,
		"Log level: debug, info, warn, error")
	flags.StringSlice("backends", def.Backends,
		fmt.Sprintf("Backends to benchmark, in order (%v)", backend.KnownBackends()))
	flags.String("namespace", def.Namespace,
		"Namespace the benchmark objects live in")
	flags.String("prefix", def.Prefix,
		"Name prefix of the benchmark objects")
	flags.String("kubeconfig", "",
		"Path to a kubeconfig (default: KUBECONFIG or ~/.kube/config)")
	flags.String("context", "",
		"Kubeconfig context to use")
	flags.Float32("qps", def.QPS,
		"Client-side QPS limit (negative disables rate limiting)")
	flags.Int("burst", def.Burst,
		"Client-side burst limit")
	flags.String("memory-latency", def.MemoryLatency,
		"Simulated per-call latency of the memory backend")

	root.AddCommand(
		newRunCmd(logger, level),
		newCleanupCmd(logger, level),
		newConfigCmd(logger, level),
	)

	return root
}

func newRunCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark the configured backends",
		Long: `Run create, read, watch and delete phases against each backend in turn
and report objects per second for every phase.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, logger, level)
			if err != nil {
				return err
			}

			return runBenchmark(cmd.Context(), logger, cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.Int("size", def.Size,
		"Number of objects per phase")
	flags.Int("concurrency", def.Concurrency,
		"Maximum in-flight operations, shared by all sessions")
	flags.String("phase-timeout", def.PhaseTimeout,
		"Upper bound on a single phase (0 disables)")
	flags.Bool("cleanup-before", false,
		"Delete leftover benchmark objects before each session")
	flags.Bool("cleanup-on-failure", false,
		"Delete benchmark objects after a failed phase")
	flags.String("output-dir", "",
		"Directory for the chart (env OUTPUT_DIR); no chart when empty")
	flags.String("metrics-addr", "",
		"Serve Prometheus metrics on this address during the run")
	flags.Bool("json", false,
		"Output results as JSON instead of tables")

	return cmd
}

func newCleanupCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete leftover benchmark objects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, logger, level)
			if err != nil {
				return err
			}

			for _, name := range cfg.Backends {
				b, err := backend.New(name, cfg.BackendOptions(logger))
				if err != nil {
					return err
				}

				if err := cleanupBackend(cmd.Context(), logger, b); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func newConfigCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var write string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, logger, level)
			if err != nil {
				return err
			}

			if write != "" {
				return config.Save(cfg, write)
			}

			data, err := cfg.YAML()
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(data)

			return err
		},
	}

	cmd.Flags().StringVar(&write, "write", "",
		"Write the configuration to this file instead of stdout")

	return cmd
}

// loadConfig resolves and validates the configuration, then points the log
// level and the Kubernetes libraries' loggers at it.
func loadConfig(cmd *cobra.Command, logger *slog.Logger, level *slog.LevelVar) (*config.Config, error) {
	flags := cmd.Flags()

	file, _ := flags.GetString("config")
	envFile, _ := flags.GetString("env-file")

	cfg, err := config.Load(config.Options{
		File:    file,
		EnvFile: envFile,
		Flags:   flags,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lvl, _ := cfg.Level()
	level.Set(lvl)

	ctrllog.SetLogger(logr.FromSlogHandler(logger.Handler()))
	klog.SetSlogLogger(logger)

	return cfg, nil
}

func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	stdout io.Writer,
) error {
	logger.InfoContext(ctx, "starting benchmark",
		slog.Any("backends", cfg.Backends),
		slog.Int("size", cfg.Size),
		slog.String("namespace", cfg.Namespace),
		slog.Int("concurrency", cfg.Concurrency),
	)

	gate := harness.NewGate(cfg.Concurrency)
	recorder := metrics.NewRecorder()

	if cfg.MetricsAddr != "" {
		srv, err := recorder.Listen(cfg.MetricsAddr, logger)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}

		logger.InfoContext(ctx, "serving metrics", slog.String("addr", srv.Addr()))

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.WarnContext(ctx, "metrics server shutdown", slog.Any("error", err))
			}
		}()
	}

	// Sessions run one after another; a failure stops the run but the
	// sessions that completed are still reported.
	completed := make([]harness.SessionResult, 0, len(cfg.Backends))

	var runErr error

	for _, name := range cfg.Backends {
		res, err := runSession(ctx, logger, cfg, gate, recorder, name)
		if err != nil {
			runErr = fmt.Errorf("run %s: %w", name, err)
			break
		}

		if !cfg.JSON {
			if err := report.Summary(stdout, res); err != nil {
				return fmt.Errorf("print summary: %w", err)
			}
		}

		completed = append(completed, res)
	}

	if len(completed) > 0 {
		if err := writeReport(ctx, logger, cfg, stdout, completed); err != nil {
			return errors.Join(runErr, err)
		}
	}

	if runErr != nil {
		return runErr
	}

	logger.InfoContext(ctx, "benchmark complete")

	return nil
}

func runSession(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	gate *harness.Gate,
	recorder *metrics.Recorder,
	name string,
) (harness.SessionResult, error) {
	b, err := backend.New(name, cfg.BackendOptions(logger))
	if err != nil {
		return harness.SessionResult{}, err
	}

	if cfg.CleanupBefore {
		if err := cleanupBackend(ctx, logger, b); err != nil {
			return harness.SessionResult{}, err
		}
	}

	session := harness.NewSession(cfg.Session(), b, gate, logger,
		harness.WithObserver(recorder))

	if _, err := session.Run(ctx); err != nil {
		return harness.SessionResult{}, err
	}

	return session.Report()
}

func cleanupBackend(ctx context.Context, logger *slog.Logger, b harness.Backend) error {
	cleaner, ok := b.(harness.Cleaner)
	if !ok {
		return nil
	}

	if err := b.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize %s: %w", b.Name(), err)
	}

	if err := cleaner.Cleanup(ctx); err != nil {
		return fmt.Errorf("cleanup %s: %w", b.Name(), err)
	}

	logger.InfoContext(ctx, "cleanup complete", slog.String("backend", b.Name()))

	return nil
}

func writeReport(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	stdout io.Writer,
	sessions []harness.SessionResult,
) error {
	if cfg.JSON {
		if err := report.GenerateJSON(stdout, sessions); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	} else {
		if err := report.Generate(stdout, report.Build(sessions)); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	if cfg.OutputDir == "" {
		return nil
	}

	path, err := report.Chart(cfg.OutputDir, report.Build(sessions))
	if err != nil {
		return fmt.Errorf("generate chart: %w", err)
	}

	logger.InfoContext(ctx, "chart saved", slog.String("path", path))

	return nil
}
