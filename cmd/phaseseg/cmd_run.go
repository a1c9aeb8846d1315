package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/phaseseg/internal/gateway"
	"github.com/user/phaseseg/internal/types"
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("output", "o", "", "output location (.csv, .jsonl, .json or sqlite:<path>)")
	runCmd.Flags().Int("workers", 0, "parallel incidents (default from config)")
	runCmd.Flags().Bool("quiet", false, "do not print the summary table")
}

var runCmd = &cobra.Command{
	Use:   "run <input>",
	Short: "Segment an event log",
	Long: `Segment an event log and record the run.

The input is a .csv or .jsonl file, or sqlite:<path> for an event store
filled with "phaseseg import". Use "sqlite:" alone for the configured store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		output, _ := cmd.Flags().GetString("output")
		workers, _ := cmd.Flags().GetInt("workers")
		quiet, _ := cmd.Flags().GetBool("quiet")

		gw, _, _, err := newGateway(cfg, workers)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req := gateway.Request{
			Input:  resolveLocation(cfg.StorePath(), args[0]),
			Output: resolveLocation(cfg.StorePath(), output),
		}
		idx, out, err := gw.Execute(ctx, req)
		if err != nil {
			if idx != nil {
				return fmt.Errorf("run %s failed: %w", idx.RunID, err)
			}
			return err
		}

		if !quiet {
			if err := printSummaries(os.Stdout, out.Summaries); err != nil {
				return err
			}
			fmt.Println()
		}
		fmt.Fprintf(os.Stdout, "Run %s: %d incidents, %d events, %d skipped, %d malformed.\n",
			idx.RunID, idx.Incidents, idx.Events, idx.Skipped, idx.Malformed)
		if req.Output != "" {
			fmt.Fprintf(os.Stdout, "Results written to %s\n", req.Output)
		}
		return nil
	},
}

// resolveLocation expands a bare "sqlite:" to the configured store.
func resolveLocation(storePath, location string) string {
	if location == "sqlite:" {
		return "sqlite:" + storePath
	}
	return location
}

func printSummaries(out io.Writer, sums []types.IncidentSummary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INCIDENT\tARCHIVED\tREVIEWER\tEVENTS\tA\tB\tC1\tC2\tB MIN\tC1 MIN\tC2 MIN")
	for _, s := range sums {
		fmt.Fprintf(w, "%s\t%v\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
			s.IncidentID,
			s.HasArchivalBlock,
			orDash(s.Reviewer),
			s.NEventsTotal,
			s.NLive,
			s.NDocQC,
			s.NC1,
			s.NC2,
			minutes(s.DurDocQCMin),
			minutes(s.DurC1Min),
			minutes(s.DurC2Min),
		)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func minutes(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}
