// Package common defines data structures and functions that are used by multiple
// application commands, e.g., target and unit selection, system setup and output.
package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"powerconf/internal/app"
)

// CreateOutputDir creates the output directory if it does not exist
func CreateOutputDir(outputDir string) error {
	err := os.MkdirAll(outputDir, 0755) // #nosec G301
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// FlagValidationError is used to report an error with a flag
func FlagValidationError(cmd *cobra.Command, msg string) error {
	err := errors.New(msg)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	fmt.Fprintf(os.Stderr, "See '%s --help' for usage details.\n", cmd.CommandPath())
	cmd.SilenceUsage = true
	return err
}

// ReportError prints err to stderr, logs it and returns it, for use in RunE functions.
func ReportError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	slog.Error(err.Error())
	cmd.SilenceUsage = true
	return err
}

// GetAppContext returns the application context the root command attached to cmd.
func GetAppContext(cmd *cobra.Command) app.Context {
	appContext, ok := app.FromContext(cmd.Context())
	if !ok {
		return app.Context{LocalTempDir: os.TempDir()}
	}
	return appContext
}

// UsageFunc returns a usage function printing the flags of the command in groups, followed by
// the global flags.
func UsageFunc(groups func(cmd *cobra.Command) []app.FlagGroup) func(cmd *cobra.Command) error {
	return func(cmd *cobra.Command) error {
		cmd.Printf("Usage: %s\n\n", cmd.UseLine())
		if cmd.HasAvailableSubCommands() {
			cmd.Println("Commands:")
			for _, sub := range cmd.Commands() {
				if sub.IsAvailableCommand() {
					cmd.Printf("  %-20s %s\n", sub.Name(), sub.Short)
				}
			}
			cmd.Println()
		}
		if cmd.Example != "" {
			cmd.Printf("Examples:\n%s\n\n", cmd.Example)
		}
		if groups != nil {
			cmd.Println("Flags:")
			for _, group := range groups(cmd) {
				if len(group.Flags) == 0 {
					continue
				}
				cmd.Printf("  %s:\n", group.GroupName)
				for _, flag := range group.Flags {
					cmd.Printf("    --%-20s %s\n", flag.Name, flag.Help)
				}
			}
		}
		cmd.Println("\nGlobal Flags:")
		cmd.Root().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
			flagDefault := ""
			if pf.DefValue != "" && pf.DefValue != "false" {
				flagDefault = fmt.Sprintf(" (default: %s)", pf.DefValue)
			}
			cmd.Printf("  --%-20s %s%s\n", pf.Name, pf.Usage, flagDefault)
		})
		return nil
	}
}
