package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenNSW/batchrun/internal/metrics"
	"github.com/OpenNSW/batchrun/internal/report"
	"github.com/OpenNSW/batchrun/internal/task"
	"github.com/OpenNSW/batchrun/internal/task/manager"
)

type runFlags struct {
	identities  string
	target      string
	action      string
	concurrency int
	endpoints   []string
	results     string
	deadline    time.Duration
	noColor     bool
	metricsAddr string
	noHistory   bool
}

func newRunCommand(configPath *string) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the action once for every identity",
		Long: `Execute the action once for every identity and print one line per item
followed by a summary. Identities are read from --identities, or entered
interactively (one per line, finished by an empty line) when the flag is
omitted or "-".`,
		Example: `  batchrun run --identities keys.txt --action dispatch --target reindex-42 \
      --endpoint https://api.example.com/v2/jobs --endpoint https://api.example.com/v1/jobs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, *configPath, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.identities, "identities", "i", "", `file with one identity per line ("-" or omitted for interactive entry)`)
	f.StringVarP(&flags.target, "target", "t", "", "target descriptor shared by every item (required for dispatch and status)")
	f.StringVarP(&flags.action, "action", "a", string(task.ActionValidate), "action to run: validate, dispatch or status")
	f.IntVarP(&flags.concurrency, "concurrency", "c", 0, fmt.Sprintf("items run at once, clamped to [1, %d] (default from RUNNER_CONCURRENCY)", task.MaxConcurrency))
	f.StringArrayVar(&flags.endpoints, "endpoint", nil, "endpoint URL, repeat in fallback order (default from DISPATCH_ENDPOINTS)")
	f.StringVarP(&flags.results, "results", "o", "", "write every result as JSON Lines to this file")
	f.DurationVar(&flags.deadline, "deadline", 0, "global deadline for the whole run, e.g. 5m")
	f.BoolVar(&flags.noColor, "no-color", false, "disable coloured output")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running, e.g. :9090")
	f.BoolVar(&flags.noHistory, "no-history", false, "do not record the run in the history database")
	return cmd
}

func runBatch(cmd *cobra.Command, configPath string, flags *runFlags) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	action, err := task.ParseAction(strings.ToLower(flags.action))
	if err != nil {
		return invalidInput(fmt.Errorf("%w: %q (choose one of validate, dispatch, status)", err, flags.action))
	}
	concurrency := cfg.Runner.Concurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency = task.ClampConcurrency(flags.concurrency, cfg.Runner.MaxConcurrency)
	}
	if len(flags.endpoints) > 0 {
		cfg.Dispatch.Endpoints = flags.endpoints
	}
	if flags.deadline < 0 {
		return invalidInput(fmt.Errorf("--deadline cannot be negative"))
	}
	if flags.deadline > 0 {
		cfg.Runner.Deadline = flags.deadline
	}

	identities, err := readIdentities(cmd.InOrStdin(), cmd.ErrOrStderr(), flags.identities)
	if err != nil {
		return invalidInput(err)
	}
	if len(identities) == 0 {
		return invalidInput(task.ErrNoIdentities)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{history: !flags.noHistory, manager: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if flags.metricsAddr != "" {
		shutdown := serveMetrics(flags.metricsAddr, a)
		defer shutdown()
	}

	out := cmd.OutOrStdout()
	reporter := report.NewReporter(out, flags.noColor)
	outcome, err := a.manager.Execute(ctx, manager.RunRequest{
		Action:      action,
		Target:      task.Target{Descriptor: strings.TrimSpace(flags.target)},
		Identities:  identities,
		Concurrency: concurrency,
	}, manager.RunOptions{
		ResultsPath: flags.results,
		OnResult:    reporter.Line,
	})
	if err != nil {
		return invalidInput(err)
	}

	reporter.Summary(outcome.Summary)
	reporter.Notice("run %s", outcome.RunID)
	if cmd.Flags().Changed("concurrency") && flags.concurrency != outcome.Concurrency {
		reporter.Notice("concurrency %d clamped to %d", flags.concurrency, outcome.Concurrency)
	}
	if outcome.LogPath != "" {
		reporter.Notice("results written to %s", outcome.LogPath)
	}
	if outcome.ArchiveURL != "" {
		reporter.Notice("results archived at %s", outcome.ArchiveURL)
	}
	for _, sideErr := range []error{outcome.LogErr, outcome.PersistErr, outcome.ArchiveErr} {
		if sideErr != nil {
			reporter.Notice("warning: %v", sideErr)
		}
	}
	return nil
}

func readIdentities(in io.Reader, prompt io.Writer, source string) ([]string, error) {
	if source == "" || source == "-" {
		return report.PromptIdentities(in, prompt)
	}
	return report.ReadIdentitiesFile(source)
}

// serveMetrics exposes the run's metrics until the returned function is called.
func serveMetrics(addr string, a *app) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
