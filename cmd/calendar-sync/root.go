// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/linuxfoundation/lfx-v2-calendar-sync-service/internal/logging"
)

var (
	configFile string
	debug      bool
)

// rootCmd represents the base command for the calendar sync service
var rootCmd = &cobra.Command{
	Use:   "calendar-sync",
	Short: "Keeps recurring meeting series in sync with remote calendars",
	Long: `calendar-sync owns recurring meeting series, expands them into instances
and reconciles those instances with the CalDAV and Google calendars connected
by each account.

It can run as:
  - The sync service (serve)
  - An operator tool printing the expansion of a recurrence rule (expand)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// a missing .env is the normal case outside development
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.With(logging.ErrKey, err).Warn("error loading .env file")
		}
		// Based on the debug flag, set the log level environment variable used by [logging.InitStructureLogConfig]
		if debug {
			if err := os.Setenv("LOG_LEVEL", "debug"); err != nil {
				return err
			}
		}
		return nil
	},
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "calendar-sync version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newExpandCmd())
}
