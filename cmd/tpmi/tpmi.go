// Package tpmi is a subcommand of the root command. It lists, reads, writes and decodes raw
// TPMI registers.
package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"powerconf/internal/app"
	tpmibackend "powerconf/internal/backend/tpmi"
	"powerconf/internal/common"
	tpmispec "powerconf/internal/tpmi"
	"powerconf/internal/util"
)

const cmdName = "tpmi"

var Cmd = &cobra.Command{
	Use:   cmdName,
	Short: "Access raw TPMI registers",
	Long: `Accesses the registers of Topology Aware Register and PM Capsule Interface (TPMI) features
through debugfs, and decodes recorded TPMI memory dumps.

The register layouts come from YAML spec files. Directories listed in ` + tpmispec.EnvDataPath + `
are searched first, then the built-in specs.`,
	GroupID: "other",
	Args:    cobra.NoArgs,
}

func init() {
	Cmd.AddCommand(lsCmd, readCmd, writeCmd, decodeCmd)
}

// location filter flag names, shared by read and write
const (
	flagFeatureName   = "feature"
	flagRegistersName = "registers"
	flagFieldsName    = "fields"
	flagPackagesName  = "packages"
	flagInstancesName = "instances"
	flagClustersName  = "clusters"
)

var locationFlags = []app.Flag{
	{Name: flagPackagesName, Help: "package numbers, default all"},
	{Name: flagInstancesName, Help: "TPMI instance numbers, default all"},
	{Name: flagClustersName, Help: "cluster numbers, default all"},
}

func addLocationFlags(cmd *cobra.Command) {
	for _, flag := range locationFlags {
		cmd.Flags().String(flag.Name, "", flag.Help)
	}
}

// locationFilter selects TPMI locations by package, instance and cluster. Empty lists match
// everything.
type locationFilter struct {
	packages  []int
	instances []int
	clusters  []int
}

func (f locationFilter) match(loc tpmibackend.Location) bool {
	in := func(list []int, v int) bool { return len(list) == 0 || slices.Contains(list, v) }
	return in(f.packages, loc.Package) && in(f.instances, loc.Instance) && in(f.clusters, loc.Cluster)
}

func getLocationFilter(cmd *cobra.Command) (locationFilter, error) {
	var filter locationFilter
	for _, target := range []struct {
		name string
		list *[]int
	}{
		{flagPackagesName, &filter.packages},
		{flagInstancesName, &filter.instances},
		{flagClustersName, &filter.clusters},
	} {
		value, _ := cmd.Flags().GetString(target.name)
		if strings.TrimSpace(value) == "" {
			continue
		}
		list, err := util.SelectiveIntRangeToIntList(value)
		if err != nil {
			return locationFilter{}, fmt.Errorf("bad --%s value %q: %v", target.name, value, err)
		}
		*target.list = list
	}
	return filter, nil
}

// splitList splits a comma-separated flag value.
func splitList(value string) []string {
	var items []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

var printer = message.NewPrinter(language.English)

// formatRaw renders a register or field value in hex and, with digit grouping, in decimal.
func formatRaw(v uint64) string {
	return printer.Sprintf("%#x (%d)", v, v)
}

// registerSelection resolves the register names of a feature, all registers when none are
// named.
func registerSelection(f *tpmispec.Feature, names []string) ([]*tpmispec.Register, error) {
	if len(names) == 0 {
		names = f.RegisterNames()
	}
	var regs []*tpmispec.Register
	for _, name := range names {
		reg, err := f.Register(name)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// fieldSelection returns the fields of reg to print: the named ones it has, or all.
func fieldSelection(reg *tpmispec.Register, names []string) []*tpmispec.Field {
	if len(names) == 0 {
		return reg.Fields
	}
	var fields []*tpmispec.Field
	for _, f := range reg.Fields {
		if slices.Contains(names, f.Name) {
			fields = append(fields, f)
		}
	}
	return fields
}

// checkFields verifies that every named field exists in at least one of the registers.
func checkFields(feature string, regs []*tpmispec.Register, names []string) error {
	for _, name := range names {
		if !slices.ContainsFunc(regs, func(reg *tpmispec.Register) bool { return reg.Field(name) != nil }) {
			return &tpmispec.CodecError{Feature: feature, Field: name, Msg: "field not found in the selected registers"}
		}
	}
	return nil
}

// writeRegister prints a register value and its decoded fields.
func writeRegister(w io.Writer, specs *tpmispec.FeatureSet, feature string, reg *tpmispec.Register, raw uint64, fieldNames []string) error {
	fields := fieldSelection(reg, fieldNames)
	if len(fieldNames) > 0 && len(fields) == 0 {
		return nil
	}
	fmt.Fprintf(w, "  %s: %s\n", reg.Name, formatRaw(raw))
	decoded, err := specs.Decode(feature, reg.Name, raw)
	if err != nil {
		return err
	}
	for _, f := range fields {
		bits := strconv.FormatUint(uint64(f.Low), 10)
		if f.High != f.Low {
			bits = fmt.Sprintf("%d:%d", f.High, f.Low)
		}
		fmt.Fprintf(w, "    %s[%s]: %s\n", f.Name, bits, formatRaw(decoded[f.Name]))
	}
	return nil
}

// openTPMI opens the target systems and returns those with TPMI.
func openTPMI(cmd *cobra.Command) ([]*common.System, error) {
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
		if sys == nil {
			continue
		}
		if sys.Backends.TPMI == nil {
			fmt.Fprintf(os.Stderr, "Error: %s: TPMI is not available\n", sys.Name())
			continue
		}
		if sys.Notice != nil {
			fmt.Fprintf(os.Stderr, "Notice: %s: %s\n", sys.Name(), sys.Notice)
		}
		opened = append(opened, sys)
	}
	if len(opened) == 0 {
		return nil, errors.New("no targets with TPMI remain")
	}
	return opened, nil
}

func validateTargetFlags(cmd *cobra.Command, args []string) error {
	if err := common.ValidateTargetFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}
