package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"kvcache/internal/bootstrap/logging"
	"kvcache/internal/errs"
	"kvcache/internal/usecase/benchconsole"
	"kvcache/internal/usecase/loadgen"
)

var benchOpts struct {
	url            string
	duration       time.Duration
	keySpace       int
	popular        int
	rate           float64
	noPrepopulate  bool
	tui            bool
	report         string
	requestTimeout time.Duration
}

var benchCmd = &cobra.Command{
	Use:   "bench <put_all|get_all|get_popular|get_mix> <threads>",
	Short: "Generate load against a running kvcache server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("component", "cmd.bench"))

		workload, err := loadgen.ParseWorkload(args[0])
		if err != nil {
			return err
		}
		threads, err := strconv.Atoi(args[1])
		if err != nil || threads <= 0 {
			return fmt.Errorf("threads must be a positive integer, got %q", args[1])
		}

		runner, err := loadgen.NewRunner(loadgen.Config{
			BaseURL:         benchOpts.url,
			Workload:        workload,
			Threads:         threads,
			Duration:        benchOpts.duration,
			KeySpace:        benchOpts.keySpace,
			PopularSize:     benchOpts.popular,
			Rate:            benchOpts.rate,
			SkipPrepopulate: benchOpts.noPrepopulate,
			RequestTimeout:  benchOpts.requestTimeout,
		}, nil)
		if err != nil {
			return errs.Wrap(err, "configure load generator")
		}
		cfg := runner.Config()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Target: %s\n", cfg.BaseURL)
		fmt.Fprintf(out, "Workload: %s, threads: %d, duration: %s\n", cfg.Workload, cfg.Threads, cfg.Duration)

		if err := runner.Prepopulate(ctx, func(done, total int) {
			if done%2000 == 0 || done == total {
				fmt.Fprintf(out, "Prepopulated %d/%d keys\n", done, total)
			}
		}); err != nil {
			return err
		}

		var summary loadgen.Summary
		if benchOpts.tui {
			model := benchconsole.NewBenchModel(ctx, runner, benchconsole.BenchOptions{
				Workload: string(cfg.Workload),
				Target:   cfg.BaseURL,
				Threads:  cfg.Threads,
				Duration: cfg.Duration,
			})
			final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
			if err != nil {
				return errs.Wrap(err, "run bench console")
			}
			result, ok, runErr := benchconsole.Result(final)
			if runErr != nil {
				return runErr
			}
			if !ok {
				return nil
			}
			summary = result
		} else {
			fmt.Fprintln(out, "Running...")
			summary, err = runner.Run(ctx)
			if err != nil {
				return err
			}
		}

		if err := loadgen.WriteSummary(out, summary); err != nil {
			return errs.Wrap(err, "write summary")
		}

		if benchOpts.report != "" {
			if err := loadgen.WriteReport(benchOpts.report, cfg.BaseURL, summary); err != nil {
				return err
			}
			logging.Info(ctx, "bench report written", slog.String("path", benchOpts.report))
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVar(&benchOpts.url, "url", "http://localhost:8080", "Server base URL")
	benchCmd.Flags().DurationVar(&benchOpts.duration, "duration", 30*time.Second, "Length of the timed phase")
	benchCmd.Flags().IntVar(&benchOpts.keySpace, "key-space", 10000, "Number of distinct key_N keys")
	benchCmd.Flags().IntVar(&benchOpts.popular, "popular", 20, "Number of popular_N hot keys")
	benchCmd.Flags().Float64Var(&benchOpts.rate, "rate", 0, "Total requests per second cap, 0 for unlimited")
	benchCmd.Flags().BoolVar(&benchOpts.noPrepopulate, "no-prepopulate", false, "Skip seeding keys before read workloads")
	benchCmd.Flags().BoolVar(&benchOpts.tui, "tui", false, "Show a live terminal dashboard")
	benchCmd.Flags().StringVar(&benchOpts.report, "report", "", "Write a TOML report to this path")
	benchCmd.Flags().DurationVar(&benchOpts.requestTimeout, "request-timeout", 5*time.Second, "Per-request timeout")
	rootCmd.AddCommand(benchCmd)
}
