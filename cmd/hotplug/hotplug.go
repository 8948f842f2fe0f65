// Package hotplug is a subcommand of the root command. It brings CPUs online and offline.
package hotplug

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"powerconf/internal/app"
	"powerconf/internal/common"
	"powerconf/internal/util"
)

const cmdName = "cpu-hotplug"

var Cmd = &cobra.Command{
	Use:     cmdName,
	Short:   "Bring CPUs online or offline",
	GroupID: "other",
	Args:    cobra.NoArgs,
}

var infoCmd = &cobra.Command{
	Use:           "info",
	Short:         "Show the online and offline CPUs",
	Example:       fmt.Sprintf("  Show online and offline CPUs:   $ %s %s info", app.Name, cmdName),
	PreRunE:       validateTargetFlags,
	RunE:          runInfo,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var onlineCmd = &cobra.Command{
	Use:           "online",
	Short:         "Bring CPUs online",
	Example:       fmt.Sprintf("  Bring all CPUs online:          $ %s %s online --%s all", app.Name, cmdName, flagCPUsName),
	PreRunE:       validateChangeFlags,
	RunE:          func(cmd *cobra.Command, args []string) error { return runChange(cmd, true) },
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Take CPUs offline",
	Long: `Takes CPUs offline. CPU 0 usually cannot be taken offline.

USE CAUTION! Target may become unstable.`,
	Example:       fmt.Sprintf("  Take CPUs 4 to 7 offline:       $ %s %s offline --%s 4-7", app.Name, cmdName, flagCPUsName),
	PreRunE:       validateChangeFlags,
	RunE:          func(cmd *cobra.Command, args []string) error { return runChange(cmd, false) },
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

const flagCPUsName = "cpus"

var cpusFlag = app.Flag{Name: flagCPUsName, Help: "CPU numbers and ranges, e.g. 0-3,8, or 'all' (required)"}

func init() {
	Cmd.AddCommand(infoCmd, onlineCmd, offlineCmd)
	common.AddTargetFlags(infoCmd)
	infoCmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		return []app.FlagGroup{common.GetTargetFlagGroup()}
	}))
	for _, cmd := range []*cobra.Command{onlineCmd, offlineCmd} {
		cmd.Flags().String(cpusFlag.Name, "", cpusFlag.Help)
		common.AddTargetFlags(cmd)
		cmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
			return []app.FlagGroup{
				{GroupName: "General Options", Flags: []app.Flag{cpusFlag}},
				common.GetTargetFlagGroup(),
			}
		}))
	}
}

func validateTargetFlags(cmd *cobra.Command, args []string) error {
	if err := common.ValidateTargetFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

func validateChangeFlags(cmd *cobra.Command, args []string) error {
	value, _ := cmd.Flags().GetString(flagCPUsName)
	if strings.TrimSpace(value) == "" {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s is required", flagCPUsName))
	}
	if _, err := parseCPUs(value, nil); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return validateTargetFlags(cmd, args)
}

// parseCPUs parses a CPU list. "all" stands for every CPU in all.
func parseCPUs(value string, all []int) ([]int, error) {
	if strings.EqualFold(strings.TrimSpace(value), "all") {
		return all, nil
	}
	cpus, err := util.SelectiveIntRangeToIntList(value)
	if err != nil {
		return nil, fmt.Errorf("bad --%s value %q: %v", flagCPUsName, value, err)
	}
	return cpus, nil
}

func openSystems(cmd *cobra.Command) ([]*common.System, error) {
	appContext := common.GetAppContext(cmd)
	targets, err := common.GetTargets(cmd)
	if err != nil {
		return nil, err
	}
	systems, err := common.OpenSystems(cmd.Context(), targets, appContext.LocalTempDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	var opened []*common.System
	for _, sys := range systems {
		if sys != nil {
			opened = append(opened, sys)
		}
	}
	if len(opened) == 0 {
		return nil, fmt.Errorf("no targets remain")
	}
	return opened, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	systems, err := openSystems(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	for _, sys := range systems {
		topo := sys.Topology()
		if len(systems) > 1 {
			fmt.Printf("%s:\n", sys.Name())
		}
		fmt.Printf("Online CPUs: %s\n", rangeOrNone(topo.OnlineCPUs()))
		fmt.Printf("Offline CPUs: %s\n", rangeOrNone(topo.OfflineCPUs()))
	}
	return nil
}

func rangeOrNone(cpus []int) string {
	if len(cpus) == 0 {
		return "none"
	}
	return util.IntListToRangeString(cpus)
}

func runChange(cmd *cobra.Command, online bool) error {
	value, _ := cmd.Flags().GetString(flagCPUsName)
	systems, err := openSystems(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	state := "offline"
	if online {
		state = "online"
	}
	var failed bool
	for _, sys := range systems {
		cpus, err := parseCPUs(value, sys.Topology().CPUs())
		if err != nil {
			return common.ReportError(cmd, err)
		}
		var changed []int
		for _, cpu := range cpus {
			if err := cmd.Context().Err(); err != nil {
				return common.ReportError(cmd, err)
			}
			if err := sys.SetCPUOnline(cpu, online); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s: %v\n", sys.Name(), err)
				failed = true
				continue
			}
			changed = append(changed, cpu)
		}
		if len(changed) > 0 {
			fmt.Printf("%s: CPUs %s are %s\n", sys.Name(), util.IntListToRangeString(changed), state)
		}
	}
	if failed {
		cmd.SilenceUsage = true
		return fmt.Errorf("not all CPUs could be brought %s", state)
	}
	return nil
}
