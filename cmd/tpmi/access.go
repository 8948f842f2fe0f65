package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"powerconf/internal/app"
	tpmibackend "powerconf/internal/backend/tpmi"
	"powerconf/internal/common"
	tpmispec "powerconf/internal/tpmi"
)

var lsCmd = &cobra.Command{
	Use:           "ls",
	Short:         "List the TPMI features and devices of target(s)",
	Example:       fmt.Sprintf("  List TPMI features:   $ %s %s ls", app.Name, cmdName),
	PreRunE:       validateTargetFlags,
	RunE:          runLs,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read TPMI registers",
	Example: strings.Join([]string{
		fmt.Sprintf("  Read all UFS registers:              $ %s %s read --%s ufs", app.Name, cmdName, flagFeatureName),
		fmt.Sprintf("  Read one field of package 0:         $ %s %s read --%s ufs --%s UFS_CONTROL --%s MAX_RATIO --%s 0", app.Name, cmdName, flagFeatureName, flagRegistersName, flagFieldsName, flagPackagesName),
	}, "\n"),
	PreRunE:       validateReadFlags,
	RunE:          runRead,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a TPMI register or field",
	Long: `Writes a TPMI register, or one bit field of it. Field writes keep the other bits of the
register.

USE CAUTION! Target may become unstable.`,
	Example: strings.Join([]string{
		fmt.Sprintf("  Set a UFS field on all clusters:  $ %s %s write --%s ufs --%s UFS_CONTROL --%s MAX_RATIO --%s 20", app.Name, cmdName, flagFeatureName, flagRegistersName, flagFieldsName, flagValueName),
	}, "\n"),
	PreRunE:       validateWriteFlags,
	RunE:          runWrite,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

const flagValueName = "value"

func init() {
	common.AddTargetFlags(lsCmd)
	lsCmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		return []app.FlagGroup{common.GetTargetFlagGroup()}
	}))

	readFlags := []app.Flag{
		{Name: flagFeatureName, Help: "TPMI feature name (required)"},
		{Name: flagRegistersName, Help: "comma-separated register names, default all"},
		{Name: flagFieldsName, Help: "comma-separated bit field names, default all"},
	}
	for _, flag := range readFlags {
		readCmd.Flags().String(flag.Name, "", flag.Help)
	}
	addLocationFlags(readCmd)
	common.AddTargetFlags(readCmd)
	readCmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		return []app.FlagGroup{
			{GroupName: "Register Options", Flags: readFlags},
			{GroupName: "Location Options", Flags: locationFlags},
			common.GetTargetFlagGroup(),
		}
	}))

	writeFlags := []app.Flag{
		{Name: flagFeatureName, Help: "TPMI feature name (required)"},
		{Name: flagRegistersName, Help: "register name (required)"},
		{Name: flagFieldsName, Help: "bit field name, the whole register when not given"},
		{Name: flagValueName, Help: "value to write, decimal or 0x-prefixed hex (required)"},
	}
	for _, flag := range writeFlags {
		writeCmd.Flags().String(flag.Name, "", flag.Help)
	}
	addLocationFlags(writeCmd)
	common.AddTargetFlags(writeCmd)
	writeCmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		return []app.FlagGroup{
			{GroupName: "Register Options", Flags: writeFlags},
			{GroupName: "Location Options", Flags: locationFlags},
			common.GetTargetFlagGroup(),
		}
	}))
}

func runLs(cmd *cobra.Command, args []string) error {
	systems, err := openTPMI(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	for _, sys := range systems {
		b := sys.Backends.TPMI
		specs := b.Specs()
		fmt.Printf("%s: TPMI specs for %s (VFM %s)\n", sys.Name(), specs.Platform, specs.VFM)
		fmt.Println("Supported features:")
		for _, f := range b.Features() {
			fmt.Printf("  - %s (%#x): %s\n", f.Name, f.ID, f.Desc)
		}
		fmt.Println("Devices:")
		for _, pkg := range b.Packages() {
			fmt.Printf("  - Package %d: %s\n", pkg, strings.Join(b.Devices(pkg), ", "))
		}
		if unknown := b.UnknownFeatures(); len(unknown) > 0 {
			ids := make([]string, len(unknown))
			for i, id := range unknown {
				ids[i] = fmt.Sprintf("%#x", id)
			}
			fmt.Printf("Features without a spec: %s\n", strings.Join(ids, ", "))
		}
	}
	return nil
}

func validateReadFlags(cmd *cobra.Command, args []string) error {
	if feature, _ := cmd.Flags().GetString(flagFeatureName); feature == "" {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s is required", flagFeatureName))
	}
	if _, err := getLocationFilter(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return validateTargetFlags(cmd, args)
}

// filteredLocations returns the locations of a feature that pass the filter.
func filteredLocations(b *tpmibackend.TPMI, feature string, filter locationFilter) ([]tpmibackend.Location, error) {
	locs, err := b.Locations(feature, filter.packages...)
	if err != nil {
		return nil, err
	}
	var selected []tpmibackend.Location
	for _, loc := range locs {
		if filter.match(loc) {
			selected = append(selected, loc)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no %s instances or clusters match the selection", feature)
	}
	return selected, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	feature, _ := cmd.Flags().GetString(flagFeatureName)
	registers, _ := cmd.Flags().GetString(flagRegistersName)
	fields, _ := cmd.Flags().GetString(flagFieldsName)
	filter, _ := getLocationFilter(cmd)
	systems, err := openTPMI(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	fieldNames := splitList(fields)
	for _, sys := range systems {
		b := sys.Backends.TPMI
		f, err := b.Specs().Feature(feature)
		if err != nil {
			return common.ReportError(cmd, err)
		}
		regs, err := registerSelection(f, splitList(registers))
		if err != nil {
			return common.ReportError(cmd, err)
		}
		if err := checkFields(feature, regs, fieldNames); err != nil {
			return common.ReportError(cmd, err)
		}
		locs, err := filteredLocations(b, feature, filter)
		if err != nil {
			return common.ReportError(cmd, fmt.Errorf("%s: %w", sys.Name(), err))
		}
		for _, loc := range locs {
			fmt.Printf("- %s: package %d, %s\n", sys.Name(), loc.Package, loc)
			for _, reg := range regs {
				raw, err := b.ReadRegister(loc, feature, reg.Name)
				if err != nil {
					return common.ReportError(cmd, err)
				}
				if err := writeRegister(os.Stdout, b.Specs(), feature, reg, raw, fieldNames); err != nil {
					return common.ReportError(cmd, err)
				}
			}
		}
	}
	return nil
}

func validateWriteFlags(cmd *cobra.Command, args []string) error {
	for _, name := range []string{flagFeatureName, flagRegistersName, flagValueName} {
		if value, _ := cmd.Flags().GetString(name); value == "" {
			return common.FlagValidationError(cmd, fmt.Sprintf("--%s is required", name))
		}
	}
	if registers, _ := cmd.Flags().GetString(flagRegistersName); len(splitList(registers)) != 1 {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s takes exactly one register", flagRegistersName))
	}
	if fields, _ := cmd.Flags().GetString(flagFieldsName); len(splitList(fields)) > 1 {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s takes at most one field", flagFieldsName))
	}
	if value, _ := cmd.Flags().GetString(flagValueName); !validValue(value) {
		return common.FlagValidationError(cmd, fmt.Sprintf("bad --%s value %q, expected a decimal or 0x-prefixed hex number", flagValueName, value))
	}
	if _, err := getLocationFilter(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return validateTargetFlags(cmd, args)
}

func validValue(s string) bool {
	_, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	return err == nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	feature, _ := cmd.Flags().GetString(flagFeatureName)
	register, _ := cmd.Flags().GetString(flagRegistersName)
	register = strings.TrimSpace(register)
	field, _ := cmd.Flags().GetString(flagFieldsName)
	field = strings.TrimSpace(field)
	valueStr, _ := cmd.Flags().GetString(flagValueName)
	value, _ := strconv.ParseUint(strings.TrimSpace(valueStr), 0, 64)
	filter, _ := getLocationFilter(cmd)
	systems, err := openTPMI(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	for _, sys := range systems {
		b := sys.Backends.TPMI
		f, err := b.Specs().Feature(feature)
		if err != nil {
			return common.ReportError(cmd, err)
		}
		reg, err := f.Register(register)
		if err != nil {
			return common.ReportError(cmd, err)
		}
		if err := checkWritable(feature, reg, field); err != nil {
			return common.ReportError(cmd, err)
		}
		locs, err := filteredLocations(b, feature, filter)
		if err != nil {
			return common.ReportError(cmd, fmt.Errorf("%s: %w", sys.Name(), err))
		}
		for _, loc := range locs {
			if field != "" {
				err = b.WriteField(loc, feature, register, field, value)
			} else {
				err = b.WriteRegister(loc, feature, register, value)
			}
			if err != nil {
				return common.ReportError(cmd, fmt.Errorf("%s: %w", sys.Name(), err))
			}
			slog.Info("wrote TPMI register", slog.String("target", sys.Name()), slog.String("location", loc.String()),
				slog.String("register", register), slog.String("field", field), slog.String("value", formatRaw(value)))
			target := register
			if field != "" {
				target += "." + field
			}
			fmt.Printf("- %s: set %s to %s at package %d, %s\n", sys.Name(), target, formatRaw(value), loc.Package, loc)
		}
	}
	return nil
}

// checkWritable refuses writes to read-only fields, and whole-register writes to registers
// with read-only fields.
func checkWritable(feature string, reg *tpmispec.Register, field string) error {
	if field == "" {
		if reg.ReadOnly {
			return &tpmispec.CodecError{Feature: feature, Register: reg.Name, Msg: "register has read-only fields, write a single field instead"}
		}
		return nil
	}
	f := reg.Field(field)
	if f == nil {
		return &tpmispec.CodecError{Feature: feature, Register: reg.Name, Field: field, Msg: "field not found in spec"}
	}
	if f.ReadOnly {
		return &tpmispec.CodecError{Feature: feature, Register: reg.Name, Field: field, Msg: "field is read-only"}
	}
	return nil
}
