package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/OpenNSW/batchrun/internal/report"
	"github.com/OpenNSW/batchrun/internal/task"
	"github.com/OpenNSW/batchrun/internal/task/persistence"
)

func newHistoryCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newHistoryListCommand(configPath), newHistoryShowCommand(configPath))
	return cmd
}

func newHistoryListCommand(configPath *string) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{history: true})
			if err != nil {
				return err
			}
			defer a.Close()

			runs, total, err := a.store.ListRuns(cmd.Context(), &offset, &limit)
			if err != nil {
				return infrastructure(err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTARTED\tACTION\tTARGET\tTOTAL\tOK\tFAILED\tRATE")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Action, r.Target,
					r.Total, r.Succeeded, r.Failed, task.FormatRate(r.Succeeded, r.Total))
			}
			if err := w.Flush(); err != nil {
				return infrastructure(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d runs\n", len(runs), total)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "runs to show (max 100)")
	return cmd
}

func newHistoryShowCommand(configPath *string) *cobra.Command {
	var noColor bool
	cmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the results and summary of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return invalidInput(fmt.Errorf("invalid run id %q", args[0]))
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{history: true})
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.store.GetRun(cmd.Context(), runID)
			if errors.Is(err, persistence.ErrRunNotFound) {
				return invalidInput(err)
			}
			if err != nil {
				return infrastructure(err)
			}
			results, err := a.store.GetResults(cmd.Context(), runID)
			if err != nil {
				return infrastructure(err)
			}

			reporter := report.NewReporter(cmd.OutOrStdout(), noColor)
			reporter.Notice("run %s: %s %s, started %s", run.ID, run.Action, run.Target, run.StartedAt.Local().Format(time.DateTime))
			for i, r := range results {
				reporter.Line(r, i+1, len(results))
			}
			reporter.Summary(task.Collect(results, time.Duration(run.ElapsedMs)*time.Millisecond))
			if run.ArchiveURL != "" {
				reporter.Notice("results archived at %s", run.ArchiveURL)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	return cmd
}
