package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/phaseseg/internal/gateway"
	"github.com/user/phaseseg/internal/scheduler"
	"github.com/user/phaseseg/internal/state"
)

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobAddCmd, jobListCmd, jobRemoveCmd, jobEnableCmd, jobDisableCmd, jobRunCmd)

	jobAddCmd.Flags().String("name", "", "job name (required)")
	jobAddCmd.Flags().String("input", "", "input location (required)")
	jobAddCmd.Flags().String("output", "", "output location")
	jobAddCmd.Flags().String("schedule", "", "cron schedule expression")
	_ = jobAddCmd.MarkFlagRequired("name")
	_ = jobAddCmd.MarkFlagRequired("input")
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage segmentation jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		schedule, _ := cmd.Flags().GetString("schedule")

		if schedule != "" {
			if err := scheduler.ValidateSchedule(schedule); err != nil {
				return err
			}
		}

		job := &state.Job{
			Name:     name,
			Input:    input,
			Output:   output,
			Schedule: schedule,
			Enabled:  true,
		}
		if err := jobStore(loadConfig()).Add(job); err != nil {
			return fmt.Errorf("add job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q added.\n", name)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := jobStore(loadConfig()).List()
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs configured.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tINPUT\tOUTPUT")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
				j.Name,
				orDash(j.Schedule),
				j.Enabled,
				j.Input,
				orDash(j.Output),
			)
		}
		return w.Flush()
	},
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobStore(loadConfig()).Remove(args[0]); err != nil {
			return fmt.Errorf("remove job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q removed.\n", args[0])
		return nil
	},
}

var jobEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobStore(loadConfig()).SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q enabled.\n", args[0])
		return nil
	},
}

var jobDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := jobStore(loadConfig()).SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable job: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Job %q disabled.\n", args[0])
		return nil
	},
}

var jobRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		job, err := jobStore(cfg).Get(args[0])
		if err != nil {
			return err
		}
		gw, _, _, err := newGateway(cfg, 0)
		if err != nil {
			return err
		}

		idx, _, err := gw.Execute(context.Background(), jobRequest(cfg.StorePath(), job))
		if err != nil {
			if idx != nil {
				return fmt.Errorf("job %q run %s failed: %w", job.Name, idx.RunID, err)
			}
			return err
		}
		fmt.Fprintf(os.Stdout, "Job %q run %s complete: %d incidents, %d events.\n",
			job.Name, idx.RunID, idx.Incidents, idx.Events)
		return nil
	},
}

func jobRequest(storePath string, job *state.Job) gateway.Request {
	return gateway.Request{
		Job:    job.Name,
		Input:  resolveLocation(storePath, job.Input),
		Output: resolveLocation(storePath, job.Output),
	}
}
