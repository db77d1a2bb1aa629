package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"codadeploy/internal/history"
	"codadeploy/pkg/fileutil"

	"github.com/spf13/cobra"
)

var (
	historyLimit   int
	historySummary bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent task runs",
	Long: `List recent task runs recorded in the local history database.

Runs of every label are listed unless --label is given.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to list")
	historyCmd.Flags().BoolVar(&historySummary, "summary", false, "Show only the latest run of each label")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyPath == "" {
		return fmt.Errorf("run history is disabled")
	}
	path := fileutil.ExpandHome(historyPath)
	out := cmd.OutOrStdout()
	if !fileutil.FileExists(path) {
		fmt.Fprintf(out, "No runs recorded yet (%s)\n", path)
		return nil
	}

	hist, err := history.NewHistory(path)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer hist.Close()

	ctx := cmd.Context()
	var runs []history.RunRecord
	if historySummary {
		latest, err := hist.LatestPerLabel(ctx)
		if err != nil {
			return err
		}
		for _, r := range latest {
			runs = append(runs, *r)
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].Label < runs[j].Label })
	} else {
		runs, err = hist.Runs(ctx, label, historyLimit)
		if err != nil {
			return err
		}
	}

	printRuns(out, runs)
	return nil
}

func printRuns(out io.Writer, runs []history.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return
	}

	fmt.Fprintf(out, "%-20s %-10s %-12s %-10s %s\n", "STARTED", "LABEL", "STATUS", "DURATION", "COMMAND")
	for _, r := range runs {
		duration := "-"
		if r.DurationSeconds != nil {
			duration = (time.Duration(*r.DurationSeconds * float64(time.Second))).Round(time.Second).String()
		}
		status := r.Status
		if r.DryRun {
			status += "*"
		}
		fmt.Fprintf(out, "%-20s %-10s %-12s %-10s %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Label, status, duration, r.Command)
		if r.ErrorMessage != nil {
			fmt.Fprintf(out, "%20s %s\n", "", *r.ErrorMessage)
		}
	}
}
