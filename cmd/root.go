// Package cmd provides the command line interface for the application.
package cmd

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"powerconf/cmd/hotplug"
	"powerconf/cmd/property"
	"powerconf/cmd/restore"
	"powerconf/cmd/serve"
	"powerconf/cmd/topology"
	"powerconf/cmd/tpmi"
	"powerconf/internal/app"
	"powerconf/internal/util"
)

var gLogFile *os.File
var gVersion = "9.9.9" // overwritten by ldflags in Makefile

const (
	// LongAppName is the name of the application
	LongAppName = "powerconf"
)

var examples = []string{
	fmt.Sprintf("  Show all P-state properties:                     $ %s pstates info", app.Name),
	fmt.Sprintf("  Set the minimum CPU frequency of package 1:      $ %s pstates config --min-freq 1.2GHz --packages 1", app.Name),
	fmt.Sprintf("  Save the uncore settings and restore them:       $ %s uncore info --yaml > uncore.yaml; %s restore uncore.yaml", app.Name, app.Name),
	fmt.Sprintf("  Show the topology of a remote target:            $ %s topology info --target 192.168.1.2 --user elaine --key ~/.ssh/id_rsa", app.Name),
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:                app.Name,
	Short:              app.Name,
	Long:               fmt.Sprintf(`%s reads and changes the power management settings of Intel platforms: P-states, uncore frequency, C-states, PM QoS and power limits.`, LongAppName),
	Example:            strings.Join(examples, "\n"),
	PersistentPreRunE:  initializeApplication, // will only be run if command has a 'Run' function
	PersistentPostRunE: terminateApplication,  // ...
	Version:            gVersion,
}

var (
	// logging
	flagDebug     bool
	flagSyslog    bool
	flagLogStdOut bool
	// output
	flagOutputDir string
	flagTempDir   string
)

func init() {
	rootCmd.SetUsageTemplate(`Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command] [flags]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}
`)
	rootCmd.SetHelpCommand(&cobra.Command{}) // block the help command
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.AddGroup([]*cobra.Group{{ID: "primary", Title: "Property Commands:"}}...)
	rootCmd.AddGroup([]*cobra.Group{{ID: "other", Title: "Other Commands:"}}...)
	for _, classCmd := range property.Commands() {
		rootCmd.AddCommand(classCmd)
	}
	rootCmd.AddCommand(restore.Cmd)
	rootCmd.AddCommand(topology.Cmd)
	rootCmd.AddCommand(tpmi.Cmd)
	rootCmd.AddCommand(hotplug.Cmd)
	rootCmd.AddCommand(serve.Cmd)
	// Global (persistent) flags
	rootCmd.PersistentFlags().BoolVar(&flagDebug, app.FlagDebugName, false, "enable debug logging and retain temporary directories")
	rootCmd.PersistentFlags().BoolVar(&flagSyslog, app.FlagSyslogName, false, "write logs to syslog instead of a file")
	rootCmd.PersistentFlags().BoolVar(&flagLogStdOut, app.FlagLogStdOutName, false, "write logs to stdout")
	rootCmd.PersistentFlags().StringVar(&flagOutputDir, app.FlagOutputDirName, "", "override the output directory")
	rootCmd.PersistentFlags().StringVar(&flagTempDir, app.FlagTempDirName, "", "override the local temporary directory, must exist")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.EnableCommandSorting = false
	cobra.EnableCaseInsensitive = true
	// catch signals to allow for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		terminateErr := terminateApplication(rootCmd, os.Args)
		if terminateErr != nil {
			slog.Error("Error terminating application", slog.String("error", terminateErr.Error()))
			fmt.Printf("Error: %v\n", terminateErr)
		}
		os.Exit(1)
	}
}

func initializeApplication(cmd *cobra.Command, args []string) error {
	timestamp := time.Now().Local().Format("2006-01-02_15-04-05") // app startup time
	outputDir, err := resolveOutputDir(flagOutputDir)
	if err != nil {
		return startupError(cmd, err)
	}
	logFile, err := configureLogging(flagDebug, flagSyslog, flagLogStdOut)
	if err != nil {
		return startupError(cmd, err)
	}
	gLogFile = logFile
	slog.Info("Starting up", slog.String("app", app.Name), slog.String("version", gVersion), slog.Int("PID", os.Getpid()), slog.String("arguments", strings.Join(os.Args, " ")))
	tempRoot := os.TempDir()
	if flagTempDir != "" {
		if tempRoot, err = util.AbsPath(flagTempDir); err != nil {
			return startupError(cmd, fmt.Errorf("failed to expand temp dir: %w", err))
		}
	}
	localTempDir, err := os.MkdirTemp(tempRoot, fmt.Sprintf("%s.tmp.", app.Name))
	if err != nil {
		return startupError(cmd, fmt.Errorf("failed to create temp dir: %w", err))
	}
	var logFilePath string
	if gLogFile != nil {
		logFilePath = gLogFile.Name()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(app.WithContext(ctx, app.Context{
		Timestamp:    timestamp,
		OutputDir:    outputDir,
		LocalTempDir: localTempDir,
		LogFilePath:  logFilePath,
		Version:      gVersion,
		Debug:        flagDebug,
	}))
	return nil
}

// startupError reports err without the usage text; flag problems are caught earlier.
func startupError(cmd *cobra.Command, err error) error {
	cmd.SilenceUsage = true
	return err
}

// resolveOutputDir returns the absolute output directory, the current directory by default.
// The directory must exist.
func resolveOutputDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	outputDir, err := util.AbsPath(dir)
	if err != nil {
		return "", fmt.Errorf("failed to expand output dir: %w", err)
	}
	exists, err := util.DirectoryExists(outputDir)
	if err != nil {
		return "", fmt.Errorf("failed to determine if output dir exists: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("requested output dir, %s, does not exist", outputDir)
	}
	return outputDir, nil
}

// terminateApplication cleans up the application context and closes the log file
// and removes the local temp directory if it was created
func terminateApplication(cmd *cobra.Command, args []string) error {
	appContext, ok := app.FromContext(cmd.Context())
	if !ok {
		return nil
	}
	// clean up temp directory if debug flag is not set
	if appContext.LocalTempDir != "" && !flagDebug {
		err := os.RemoveAll(appContext.LocalTempDir)
		if err != nil {
			slog.Error("error cleaning up temp directory", slog.String("tempDir", appContext.LocalTempDir), slog.String("error", err.Error()))
		}
	}
	slog.Info("Shutting down", slog.String("app", app.Name), slog.String("version", gVersion), slog.Int("PID", os.Getpid()), slog.String("arguments", strings.Join(os.Args, " ")))
	if gLogFile != nil {
		err := gLogFile.Close()
		gLogFile = nil
		if err != nil {
			slog.Error("error closing log file", slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}
