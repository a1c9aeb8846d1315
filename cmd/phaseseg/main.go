package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/phaseseg/internal/batch"
	"github.com/user/phaseseg/internal/config"
	"github.com/user/phaseseg/internal/enrich"
	"github.com/user/phaseseg/internal/export"
	"github.com/user/phaseseg/internal/gateway"
	"github.com/user/phaseseg/internal/phase"
	"github.com/user/phaseseg/internal/state"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "phaseseg",
	Short:         "Segment incident event logs into lifecycle phases",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".phaseseg", "config.json"), "config file path (.json, .yaml or .yml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, exiting on failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// newRunner builds the batch runner from the phases section of cfg.
func newRunner(cfg *config.Config, workers int) (*batch.Runner, error) {
	opts, err := cfg.PhaseOptions()
	if err != nil {
		return nil, fmt.Errorf("phase options: %w", err)
	}
	seg, err := phase.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create segmenter: %w", err)
	}
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = cfg.Workers
	}
	return batch.NewRunner(seg, enrich.New(opts), workers, timeout), nil
}

// newGateway wires the run and result stores in the data directory to a
// gateway.
func newGateway(cfg *config.Config, workers int) (*gateway.Gateway, *state.RunStore, *state.ResultStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	runner, err := newRunner(cfg, workers)
	if err != nil {
		return nil, nil, nil, err
	}
	runs := state.NewRunStore(cfg.DataDir)
	results := state.NewResultStore(cfg.DataDir)
	gw := gateway.New(runs, results, runner, export.Default(), int64(cfg.Workers))
	return gw, runs, results, nil
}

func jobStore(cfg *config.Config) *state.JobStore {
	return state.NewJobStore(filepath.Join(cfg.DataDir, "jobs.json"))
}
