package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/phaseseg/internal/config"
	"github.com/user/phaseseg/internal/gateway"
	"github.com/user/phaseseg/internal/scheduler"
	"github.com/user/phaseseg/internal/state"
	"github.com/user/phaseseg/internal/telegram"
	"github.com/user/phaseseg/internal/types"
	"github.com/user/phaseseg/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the phaseseg daemon (scheduler and HTTP API)",
	RunE:  runServe,
}

// writePIDFile refuses to start a second daemon on the same data directory.
func writePIDFile(cfg *config.Config) (string, error) {
	if pid, err := daemonPID(cfg); err == nil {
		return "", fmt.Errorf("phaseseg is already running (PID %d)", pid)
	}
	path := pidPath(cfg)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}

	gw, runs, results, err := newGateway(cfg, 0)
	if err != nil {
		return err
	}

	// Write PID file
	pidFile, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("phaseseg started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"workers", cfg.Workers,
		"archival_actor", cfg.Phases.ArchivalActor,
		"pid_file", pidFile,
	)

	// Run notifications
	var opts []gateway.RunOption
	if cfg.Notify.TelegramToken != "" {
		notifier, err := telegram.New(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			return fmt.Errorf("telegram notifier: %w", err)
		}
		opts = append(opts, gateway.WithOnComplete(notifier.NotifyRun))
		slog.Info("telegram notifications enabled", "chat_id", cfg.Notify.TelegramChatID)
	}

	jobs := jobStore(cfg)
	submitJob := func(ctx context.Context, job *state.Job) (*types.RunIndex, error) {
		return gw.Submit(ctx, jobRequest(cfg.StorePath(), job), opts...)
	}

	// Scheduler
	sched := scheduler.New(jobs, func(job *state.Job) {
		if _, err := submitJob(ctx, job); err != nil {
			slog.Error("cron job submit failed", "job", job.Name, "error", err)
		}
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	for _, e := range sched.Entries() {
		slog.Info("next run", "job", e.Name, "at", e.Next.Format(time.RFC3339))
	}

	// HTTP server
	srv := webhook.NewServer(jobs, gw.Segment, submitJob, runs, results)
	srv.SetToken(cfg.Server.Token)
	srv.SetRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server started", "listen", addr, "auth", cfg.Server.Token != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("http server stopped")
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, reloading jobs")
				if err := sched.Reload(); err != nil {
					slog.Error("failed to reload jobs", "error", err)
				}
				continue
			}
			// SIGINT or SIGTERM
			slog.Info("shutting down", "signal", sig)
			if !gw.Queue.WaitIdle(30 * time.Second) {
				st := gw.Queue.Stats()
				slog.Warn("shutting down with runs in flight", "active", st.Active, "lanes", len(st.Pending))
			}
			return nil
		}
	}
}
