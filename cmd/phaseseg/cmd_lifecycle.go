package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/user/phaseseg/internal/config"
	"github.com/user/phaseseg/internal/state"
)

var errNotRunning = errors.New("phaseseg is not running")

func init() {
	rootCmd.AddCommand(stopCmd, reloadCmd, statusCmd)
}

func pidPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "phaseseg.pid")
}

// daemonPID returns the PID recorded by serve after checking with signal 0
// that the process is alive.
func daemonPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(pidPath(cfg))
	if os.IsNotExist(err) {
		return 0, errNotRunning
	}
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", pidPath(cfg), err)
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, fmt.Errorf("%w (stale PID %d)", errNotRunning, pid)
	}
	return pid, nil
}

// signalDaemon delivers sig to the running daemon and returns its PID.
func signalDaemon(sig syscall.Signal) (int, error) {
	pid, err := daemonPID(loadConfig())
	if err != nil {
		return 0, err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return 0, fmt.Errorf("send %s to %d: %w", sig, pid, err)
	}
	return pid, nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon after in-flight runs finish",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Stopping phaseseg (PID %d).\n", pid)
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload job schedules in the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalDaemon(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Reloading jobs in phaseseg (PID %d).\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running and the latest run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		pid, err := daemonPID(cfg)
		switch {
		case errors.Is(err, errNotRunning):
			fmt.Fprintln(os.Stdout, "Daemon: stopped")
		case err != nil:
			return err
		default:
			fmt.Fprintf(os.Stdout, "Daemon: running (PID %d, %s)\n", pid, cfg.Server.Addr)
		}

		runs, err := state.NewRunStore(cfg.DataDir).List(context.Background())
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stdout, "Last run: none")
			return nil
		}
		last := runs[0]
		fmt.Fprintf(os.Stdout, "Last run: %s %s, %d incidents, %s\n",
			last.RunID, last.Status, last.Incidents, humanize.Time(last.CreatedAt))
		return nil
	},
}
