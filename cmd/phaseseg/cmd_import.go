package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/phaseseg/internal/ingest"
	"github.com/user/phaseseg/internal/store"
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().String("db", "", "SQLite database (default from config)")
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load events from a CSV or JSONL file into the event store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		dbPath, _ := cmd.Flags().GetString("db")
		if dbPath == "" {
			dbPath = cfg.StorePath()
		}

		ctx := context.Background()
		events, err := ingest.ReadAll(ctx, args[0])
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		s, err := store.New(dbPath)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.InsertEvents(ctx, events); err != nil {
			return fmt.Errorf("import events: %w", err)
		}
		ids, err := s.ListIncidentIDs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Imported %d events into %s (%d incidents stored).\n", len(events), dbPath, len(ids))
		return nil
	},
}
