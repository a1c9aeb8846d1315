package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/user/phaseseg/internal/state"
	"github.com/user/phaseseg/internal/types"
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	runsListCmd.Flags().IntP("limit", "n", 20, "number of runs to show (0 for all)")
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded segmentation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		limit, _ := cmd.Flags().GetInt("limit")

		list, err := state.NewRunStore(cfg.DataDir).List(context.Background())
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tJOB\tINCIDENTS\tEVENTS\tSKIPPED\tCREATED\tINPUT")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				r.RunID,
				r.Status,
				orDash(r.Job),
				r.Incidents,
				r.Events,
				r.Skipped,
				humanize.Time(r.CreatedAt),
				r.Input,
			)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the incident summaries of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()
		id := types.RunID(args[0])

		run, err := state.NewRunStore(cfg.DataDir).Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Run:      %s\n", run.RunID)
		fmt.Fprintf(os.Stdout, "Status:   %s\n", run.Status)
		fmt.Fprintf(os.Stdout, "Input:    %s\n", run.Input)
		if run.Output != "" {
			fmt.Fprintf(os.Stdout, "Output:   %s\n", run.Output)
		}
		fmt.Fprintf(os.Stdout, "Created:  %s (%s)\n", run.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(run.CreatedAt))
		if run.Error != "" {
			fmt.Fprintf(os.Stdout, "Error:    %s\n", run.Error)
		}
		fmt.Println()

		sums, err := state.NewResultStore(cfg.DataDir).Summaries(ctx, id)
		if err != nil {
			return fmt.Errorf("load summaries: %w", err)
		}
		if len(sums) == 0 {
			fmt.Println("No summaries stored for this run.")
			return nil
		}
		flat := make([]types.IncidentSummary, len(sums))
		for i, s := range sums {
			flat[i] = *s
		}
		return printSummaries(os.Stdout, flat)
	},
}
