// Package restore is a subcommand of the root command. It applies property settings saved by
// "info --yaml".
package restore

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"powerconf/internal/app"
	"powerconf/internal/common"
	"powerconf/internal/props"
	"powerconf/internal/report"
)

const cmdName = "restore"

var examples = []string{
	fmt.Sprintf("  Restore settings on local host:       $ %s %s uncore.yaml", app.Name, cmdName),
	fmt.Sprintf("  Restore settings on remote target:    $ %s %s uncore.yaml --target 192.168.1.1 --user fred --key fred_key", app.Name, cmdName),
	fmt.Sprintf("  Restore settings without confirmation: $ %s %s uncore.yaml --yes", app.Name, cmdName),
}

var Cmd = &cobra.Command{
	Use:   cmdName + " <file>",
	Short: "Restore property settings from a file",
	Long: fmt.Sprintf(`Restores property values from a YAML file produced by "%s <class> info --yaml".

Each value is applied to the CPUs, dies or packages it was read from. Read-only properties in
the file are skipped. A file with a single document can be restored on any target; a file with
one document per target is matched by target name. By default, you will be prompted to confirm
before applying changes.`, app.Name),
	Example:       strings.Join(examples, "\n"),
	RunE:          runCmd,
	PreRunE:       validateFlags,
	GroupID:       "other",
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
}

var (
	flagYes bool
)

const (
	flagYesName = "yes"
)

func init() {
	Cmd.Flags().BoolVar(&flagYes, flagYesName, false, "skip confirmation prompt")
	common.AddMechanismsFlag(Cmd)
	common.AddTargetFlags(Cmd)
	Cmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		return []app.FlagGroup{
			{GroupName: "General Options", Flags: []app.Flag{
				{Name: flagYesName, Help: "skip confirmation prompt"},
				common.GetMechanismsFlag(),
			}},
			common.GetTargetFlagGroup(),
		}
	}))
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return common.FlagValidationError(cmd, "restore requires exactly one argument: the path to the settings file")
	}
	if _, err := os.Stat(args[0]); os.IsNotExist(err) {
		return common.FlagValidationError(cmd, fmt.Sprintf("settings file does not exist: %s", args[0]))
	}
	if _, err := common.GetMechanisms(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if err := common.ValidateTargetFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

// settingsChanges converts settings into changes. Values are applied through the given
// mechanisms, not the recorded ones, as a value may have been read through a mechanism that
// cannot write it.
func settingsChanges(s report.Settings, mechs []props.Mechanism) ([]common.Change, error) {
	var changes []common.Change
	for _, ps := range s.Properties {
		p, err := common.Registry().Get(ps.Property)
		if err != nil {
			return nil, err
		}
		if !p.Writable {
			slog.Debug("skipping read-only property", slog.String("property", p.ID()))
			continue
		}
		for _, v := range ps.Values {
			c := common.Change{Property: p.ID(), Value: v.Value, Selector: v.Selector(), Mechanisms: mechs}
			if err := common.ParseChange(c); err != nil {
				return nil, fmt.Errorf("%s: %w", p.ID(), err)
			}
			changes = append(changes, c)
		}
	}
	return changes, nil
}

// confirm asks the user to confirm the changes. Without a terminal there is no one to ask.
func confirm() (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) { // #nosec G115
		return false, fmt.Errorf("standard input is not a terminal, use --%s to apply without confirmation", flagYesName)
	}
	fmt.Print("Apply these changes? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read user input: %v", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	path := args[0]
	docs, err := report.ReadSettings(path)
	if err != nil {
		return common.ReportError(cmd, fmt.Errorf("failed to read settings file: %w", err))
	}
	mechs, err := common.GetMechanisms(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	targets, err := common.GetTargets(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	// match the targets to their settings before touching any of them
	plan := make(map[string][]common.Change)
	for _, t := range targets {
		s, ok := report.ForTarget(docs, t.GetName())
		if !ok {
			return common.ReportError(cmd, fmt.Errorf("%s has no settings for target %s", path, t.GetName()))
		}
		changes, err := settingsChanges(s, mechs)
		if err != nil {
			return common.ReportError(cmd, err)
		}
		plan[t.GetName()] = changes
	}
	fmt.Printf("Settings to restore from %s:\n", path)
	var total int
	for _, t := range targets {
		if len(targets) > 1 {
			fmt.Printf("%s:\n", t.GetName())
		}
		for _, c := range plan[t.GetName()] {
			fmt.Printf("  %s = %s (%s)\n", c.Property, c.Value, describeSelector(c))
		}
		total += len(plan[t.GetName()])
	}
	if total == 0 {
		fmt.Println("No settings found in file.")
		return nil
	}
	fmt.Println()
	if !flagYes {
		ok, err := confirm()
		if err != nil {
			return common.ReportError(cmd, err)
		}
		if !ok {
			fmt.Println("Restore cancelled.")
			return nil
		}
	}
	appContext := common.GetAppContext(cmd)
	systems, err := common.OpenSystems(cmd.Context(), targets, appContext.LocalTempDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	var failed int
	for _, sys := range systems {
		if sys == nil {
			failed++
			continue
		}
		if len(systems) > 1 {
			fmt.Printf("%s:\n", sys.Name())
		}
		for _, outcome := range common.Apply(cmd.Context(), sys.Resolver, plan[sys.Name()]) {
			if outcome.Result == nil {
				fmt.Fprintf(os.Stderr, "Error: %s: %s: %v\n", sys.Name(), outcome.Change.Property, outcome.Err)
				failed++
				continue
			}
			common.WriteApplied(os.Stdout, outcome.Result)
			common.WriteProblems(os.Stderr, outcome.Result)
			if outcome.Err != nil {
				failed++
			}
		}
	}
	if failed > 0 {
		cmd.SilenceUsage = true
		err := errors.New("not all settings were restored")
		slog.Error(err.Error(), slog.Int("failures", failed))
		return err
	}
	return nil
}

func describeSelector(c common.Change) string {
	if c.Selector.IsEmpty() {
		return "all"
	}
	return c.Selector.String()
}
