package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/phaseseg/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("phaseseg Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.DataDir = prompt(scanner, "Data directory", cfg.DataDir)
		cfg.Phases.ArchivalActor = prompt(scanner, "Archival actor", cfg.Phases.ArchivalActor)

		analysts := prompt(scanner, "Analyst actors (comma separated)", strings.Join(cfg.Phases.AnalystActors, ","))
		cfg.Phases.AnalystActors = splitList(analysts)

		ignorable := prompt(scanner, "Ignorable actors (comma separated)", strings.Join(cfg.Phases.IgnorableActors, ","))
		cfg.Phases.IgnorableActors = splitList(ignorable)

		workers := prompt(scanner, "Parallel workers", strconv.Itoa(cfg.Workers))
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			cfg.Workers = n
		}

		cfg.Server.Addr = prompt(scanner, "HTTP listen address", cfg.Server.Addr)
		cfg.Server.Token = prompt(scanner, "HTTP bearer token (optional)", cfg.Server.Token)

		cfg.Notify.TelegramToken = prompt(scanner, "Telegram bot token for run notifications (optional)", cfg.Notify.TelegramToken)
		if cfg.Notify.TelegramToken != "" {
			chat := prompt(scanner, "Telegram chat ID", strconv.FormatInt(cfg.Notify.TelegramChatID, 10))
			id, err := strconv.ParseInt(chat, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat ID: %w", err)
			}
			cfg.Notify.TelegramChatID = id
		}

		if _, err := cfg.PhaseOptions(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
