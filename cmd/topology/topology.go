// Package topology is a subcommand of the root command. It prints the CPU and die topology of
// target(s).
package topology

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"powerconf/internal/app"
	"powerconf/internal/common"
	"powerconf/internal/report"
	"powerconf/internal/selector"
	"powerconf/internal/table"
	"powerconf/internal/topology"
	"powerconf/internal/util"
)

const cmdName = "topology"

var Cmd = &cobra.Command{
	Use:     cmdName,
	Short:   "Show the CPU topology of target(s)",
	GroupID: "other",
	Args:    cobra.NoArgs,
}

var infoExamples = []string{
	fmt.Sprintf("  Show the topology of local host:     $ %s %s info", app.Name, cmdName),
	fmt.Sprintf("  Order the CPUs by core:              $ %s %s info --order core", app.Name, cmdName),
	fmt.Sprintf("  Show the online CPUs of package 1:   $ %s %s info --packages 1 --online-only", app.Name, cmdName),
}

var InfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the CPU and die topology",
	Long: `Shows the package, die, node, module and core of every CPU, and the dies of every package.
Dies without CPUs, such as I/O dies, are listed with their agent types.`,
	Example:       strings.Join(infoExamples, "\n"),
	PreRunE:       validateFlags,
	RunE:          runInfo,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var (
	flagOrder      string
	flagOnlineOnly bool
)

const (
	flagOrderName      = "order"
	flagOnlineOnlyName = "online-only"
)

var orderLevels = []topology.Level{topology.LevelCPU, topology.LevelCore, topology.LevelModule, topology.LevelDie, topology.LevelNode, topology.LevelPackage}

func init() {
	Cmd.AddCommand(InfoCmd)
	InfoCmd.Flags().StringVar(&flagOrder, flagOrderName, "cpu", "order the CPUs by this level: "+levelNames())
	InfoCmd.Flags().BoolVar(&flagOnlineOnly, flagOnlineOnlyName, false, "show only online CPUs")
	common.AddSelectionFlags(InfoCmd)
	common.AddTargetFlags(InfoCmd)
	InfoCmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		return []app.FlagGroup{
			{GroupName: "General Options", Flags: []app.Flag{
				{Name: flagOrderName, Help: "order the CPUs by this level: " + levelNames()},
				{Name: flagOnlineOnlyName, Help: "show only online CPUs"},
			}},
			common.GetSelectionFlagGroup(),
			common.GetTargetFlagGroup(),
		}
	}))
}

func levelNames() string {
	names := make([]string, len(orderLevels))
	for i, l := range orderLevels {
		names[i] = strings.ToLower(string(l))
	}
	return strings.Join(names, ", ")
}

func parseOrder(s string) (topology.Level, error) {
	for _, l := range orderLevels {
		if strings.EqualFold(string(l), strings.TrimSpace(s)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("bad --%s value %q, use one of: %s", flagOrderName, s, levelNames())
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if _, err := parseOrder(flagOrder); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if err := common.ValidateSelectionFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if err := common.ValidateTargetFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	order, _ := parseOrder(flagOrder)
	appContext := common.GetAppContext(cmd)
	targets, err := common.GetTargets(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	systems, err := common.OpenSystems(cmd.Context(), targets, appContext.LocalTempDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	sel := common.GetSelector(cmd)
	var failed bool
	for _, sys := range systems {
		if sys == nil {
			failed = true
			continue
		}
		tables, err := topologyTables(sys.Topology(), sel, order, flagOnlineOnly)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", sys.Name(), err)
			failed = true
			continue
		}
		out, err := report.Create(report.FormatTxt, tables, sys.Name())
		if err != nil {
			return common.ReportError(cmd, err)
		}
		if len(systems) > 1 {
			fmt.Printf("%s:\n", sys.Name())
		}
		fmt.Print(string(out))
	}
	if failed {
		cmd.SilenceUsage = true
		return fmt.Errorf("failed to show the topology of all targets")
	}
	return nil
}

// selectedCPUs returns the CPUs to show. Without a selection that includes offline CPUs.
func selectedCPUs(topo *topology.Topology, sel selector.Selector, onlineOnly bool) ([]topology.CPU, error) {
	ids := topo.CPUs()
	if !sel.IsEmpty() {
		selection, err := selector.Expand(sel, topo)
		if err != nil {
			return nil, err
		}
		ids = selection.CPUs
	}
	var cpus []topology.CPU
	for _, id := range ids {
		cpu, ok := topo.CPU(id)
		if !ok || (onlineOnly && !cpu.Online) {
			continue
		}
		cpus = append(cpus, cpu)
	}
	return cpus, nil
}

// levelKey returns the sort key of a CPU at a level. Package-relative levels sort by package
// first.
func levelKey(cpu topology.CPU, level topology.Level) []int {
	switch level {
	case topology.LevelCore:
		return []int{cpu.Package, cpu.Core}
	case topology.LevelModule:
		return []int{cpu.Module}
	case topology.LevelDie:
		return []int{cpu.Package, cpu.Die}
	case topology.LevelNode:
		return []int{cpu.Node}
	case topology.LevelPackage:
		return []int{cpu.Package}
	}
	return nil
}

// sortCPUs orders CPUs by a level, then by CPU number. Offline CPUs go last.
func sortCPUs(cpus []topology.CPU, order topology.Level) {
	slices.SortStableFunc(cpus, func(a, b topology.CPU) int {
		if a.Online != b.Online {
			if a.Online {
				return -1
			}
			return 1
		}
		return cmp.Or(slices.Compare(levelKey(a, order), levelKey(b, order)), cmp.Compare(a.ID, b.ID))
	})
}

const (
	fieldCPU     = "CPU"
	fieldCore    = "Core"
	fieldModule  = "Module"
	fieldDie     = "Die"
	fieldNode    = "Node"
	fieldPackage = "Package"
	fieldHybrid  = "Hybrid"
	fieldOnline  = "Online"
)

// topologyTables builds the CPU table and the die table.
func topologyTables(topo *topology.Topology, sel selector.Selector, order topology.Level, onlineOnly bool) ([]table.TableValues, error) {
	cpus, err := selectedCPUs(topo, sel, onlineOnly)
	if err != nil {
		return nil, err
	}
	sortCPUs(cpus, order)
	fields := []string{fieldCPU, fieldCore, fieldModule, fieldDie, fieldNode, fieldPackage}
	if topo.IsHybrid() {
		fields = append(fields, fieldHybrid)
	}
	if !onlineOnly {
		fields = append(fields, fieldOnline)
	}
	cpuTable := table.New("CPUs", true, fields...)
	cpuTable.NoDataFound = "No CPUs selected."
	for _, cpu := range cpus {
		row := []string{strconv.Itoa(cpu.ID), "?", "?", "?", "?", "?"}
		if cpu.Online {
			row = []string{strconv.Itoa(cpu.ID), strconv.Itoa(cpu.Core), strconv.Itoa(cpu.Module), strconv.Itoa(cpu.Die), nodeName(cpu.Node), strconv.Itoa(cpu.Package)}
		}
		if topo.IsHybrid() {
			row = append(row, string(cpu.Hybrid))
		}
		if !onlineOnly {
			row = append(row, util.FormatBool(cpu.Online))
		}
		if err := cpuTable.AddRow(row...); err != nil {
			return nil, err
		}
	}
	dieTable := table.New("Dies", true, fieldPackage, fieldDie, "Type", "Title", "CPUs")
	for _, d := range topo.AllDies() {
		if err := dieTable.AddRow(strconv.Itoa(d.ID.Package), strconv.Itoa(d.ID.Die), d.Kind.String(), d.Title, util.IntListToRangeString(d.CPUs)); err != nil {
			return nil, err
		}
	}
	return []table.TableValues{cpuTable, dieTable}, nil
}

func nodeName(node int) string {
	if node == topology.NoNode {
		return "-"
	}
	return strconv.Itoa(node)
}
