package property

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"powerconf/internal/app"
	"powerconf/internal/common"
	"powerconf/internal/props"
)

const (
	flagEnable  = "enable"
	flagDisable = "disable"
)

// idleFlags are the cstates config options that enable and disable requestable C-states by
// name, on top of the current set.
var idleFlags = []app.Flag{
	{Name: flagEnable, Help: "comma separated requestable C-states to enable, or \"all\""},
	{Name: flagDisable, Help: "comma separated requestable C-states to disable, or \"all\""},
}

func newConfigCmd(class string) *cobra.Command {
	examples := []string{
		fmt.Sprintf("  Change %s properties of all CPUs:  $ %s %s config %s", class, app.Name, class, configExample(class)),
		fmt.Sprintf("  Change them on package 1 only:       $ %s %s config %s --packages 1", app.Name, class, configExample(class)),
		fmt.Sprintf("  Change them on a remote target:      $ %s %s config %s --target 192.168.1.1 --user fred --key fred_key", app.Name, class, configExample(class)),
	}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Change " + classes[class].short,
		Long: fmt.Sprintf(`Changes %s. %s

Frequencies take Hz, kHz, MHz and GHz suffixes, latencies ns, us, ms and s suffixes. Numbers
without a suffix are Hz and microseconds. Boolean properties take on, off, true, false,
enable and disable.

USE CAUTION! Target may become unstable.`, classes[class].short, classes[class].long),
		Example: strings.Join(examples, "\n"),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return validateConfigFlags(cmd, class)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, class)
		},
		Args:          cobra.NoArgs,
		SilenceErrors: true,
	}
	for _, p := range common.Registry().Class(class) {
		if p.Writable {
			cmd.Flags().String(p.Flag(), "", propertyHelp(p))
		}
	}
	if class == props.ClassCStates {
		for _, f := range idleFlags {
			cmd.Flags().String(f.Name, "", f.Help)
		}
	}
	common.AddSelectionFlags(cmd)
	common.AddMechanismsFlag(cmd)
	common.AddTargetFlags(cmd)
	cmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		group := propertyFlagGroup(class, true)
		if class == props.ClassCStates {
			group.Flags = append(group.Flags, idleFlags...)
		}
		return []app.FlagGroup{
			group,
			common.GetSelectionFlagGroup(),
			{GroupName: "Mechanism Options", Flags: []app.Flag{common.GetMechanismsFlag()}},
			common.GetTargetFlagGroup(),
		}
	}))
	return cmd
}

var exampleValues = map[string]string{
	"min_freq":      "1.2GHz",
	"max_freq":      "max",
	"epp":           "performance",
	"governor":      "performance",
	"c1_demotion":   "off",
	"latency_limit": "100us",
	"ppl1":          "250W",
}

func configExample(class string) string {
	for _, p := range common.Registry().Class(class) {
		if v, ok := exampleValues[p.Name]; ok && p.Writable {
			return fmt.Sprintf("--%s %s", p.Flag(), v)
		}
	}
	return exampleFlags(class, 1, true) + " VALUE"
}

// requestedChanges returns the changes the property flags of cmd request, in property order.
func requestedChanges(cmd *cobra.Command, class string) ([]common.Change, error) {
	mechs, err := common.GetMechanisms(cmd)
	if err != nil {
		return nil, err
	}
	sel := common.GetSelector(cmd)
	var changes []common.Change
	for _, p := range common.Registry().Class(class) {
		flag := cmd.Flags().Lookup(p.Flag())
		if !p.Writable || flag == nil || !flag.Changed {
			continue
		}
		changes = append(changes, common.Change{Property: p.ID(), Value: flag.Value.String(), Selector: sel, Mechanisms: mechs})
	}
	if class == props.ClassCStates {
		value, err := idleChange(cmd)
		if err != nil {
			return nil, err
		}
		if value != "" {
			changes = append(changes, common.Change{Property: enabledCStates, Value: value, Selector: sel, Mechanisms: mechs})
		}
	}
	return changes, nil
}

const enabledCStates = "cstates.enabled_cstates"

// idleChange turns --enable and --disable into a change of the enabled requestable C-states,
// e.g. "+C1,-C6". Enables come first, so "--enable all --disable C6" leaves all but C6.
func idleChange(cmd *cobra.Command) (string, error) {
	var tokens []string
	for _, f := range []struct {
		name   string
		prefix string
	}{{flagEnable, "+"}, {flagDisable, "-"}} {
		flag := cmd.Flags().Lookup(f.name)
		if flag == nil || !flag.Changed {
			continue
		}
		names := strings.FieldsFunc(flag.Value.String(), func(r rune) bool { return r == ',' || r == ' ' })
		if len(names) == 0 {
			return "", fmt.Errorf("--%s needs at least one C-state", f.name)
		}
		for _, name := range names {
			tokens = append(tokens, f.prefix+name)
		}
	}
	if len(tokens) == 0 {
		return "", nil
	}
	p, err := common.Registry().Get(enabledCStates)
	if err != nil {
		return "", err
	}
	if flag := cmd.Flags().Lookup(p.Flag()); flag != nil && flag.Changed {
		return "", fmt.Errorf("--%s cannot be combined with --%s or --%s", p.Flag(), flagEnable, flagDisable)
	}
	return strings.Join(tokens, ","), nil
}

func validateConfigFlags(cmd *cobra.Command, class string) error {
	if err := common.ValidateSelectionFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if err := common.ValidateTargetFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	changes, err := requestedChanges(cmd, class)
	if err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	for _, c := range changes {
		if err := common.ParseChange(c); err != nil {
			return common.FlagValidationError(cmd, err.Error())
		}
	}
	return nil
}

func runConfig(cmd *cobra.Command, class string) error {
	changes, err := requestedChanges(cmd, class)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	if len(changes) == 0 {
		fmt.Println("No changes requested.")
		return nil
	}
	systems, err := openSystems(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	var failed int
	for _, sys := range systems {
		if len(systems) > 1 {
			fmt.Printf("%s:\n", sys.Name())
		}
		for _, outcome := range common.Apply(cmd.Context(), sys.Resolver, changes) {
			if !printOutcome(sys.Name(), outcome) {
				failed++
			}
		}
	}
	if failed > 0 {
		cmd.SilenceUsage = true
		return fmt.Errorf("%d change(s) failed", failed)
	}
	return nil
}

// printOutcome prints the values an applied change read back and its problems, and reports
// whether the change succeeded.
func printOutcome(targetName string, outcome common.Outcome) bool {
	if outcome.Result == nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %s: %v\n", targetName, outcome.Change.Property, outcome.Err)
		return false
	}
	common.WriteApplied(os.Stdout, outcome.Result)
	common.WriteProblems(os.Stderr, outcome.Result)
	if outcome.Err != nil && len(outcome.Result.Errors) == 0 {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", targetName, outcome.Err)
	}
	return outcome.Err == nil
}
