package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"powerconf/internal/app"
	"powerconf/internal/props"
	"powerconf/internal/selector"
)

// selection flag names
const (
	flagCPUsName           = "cpus"
	flagCoresName          = "cores"
	flagModulesName        = "modules"
	flagDiesName           = "dies"
	flagPackagesName       = "packages"
	flagCoreSiblingsName   = "core-siblings"
	flagModuleSiblingsName = "module-siblings"
	flagMechanismsName     = "mechanisms"
)

var selectionFlags = []app.Flag{
	{Name: flagCPUsName, Help: "CPU numbers and ranges, e.g. 0-3,8, or 'all'"},
	{Name: flagCoresName, Help: "core numbers within the selected packages, or 'all'"},
	{Name: flagModulesName, Help: "module numbers, or 'all'"},
	{Name: flagDiesName, Help: "die numbers within the selected packages, or 'all'"},
	{Name: flagPackagesName, Help: "package numbers, or 'all'"},
	{Name: flagCoreSiblingsName, Help: "keep only the CPUs at these indices within their core, e.g. 0 for the first hyperthread"},
	{Name: flagModuleSiblingsName, Help: "keep only the CPUs at these indices within their module"},
}

var mechanismsFlag = app.Flag{
	Name: flagMechanismsName,
	Help: "comma-separated mechanisms to use, in order of preference (" + props.JoinMechanisms(props.Mechanisms) + ")",
}

// AddSelectionFlags adds the unit selection flags to cmd.
func AddSelectionFlags(cmd *cobra.Command) {
	for _, flag := range selectionFlags {
		cmd.Flags().String(flag.Name, "", flag.Help)
	}
}

// GetSelectionFlagGroup returns the selection flags for usage output.
func GetSelectionFlagGroup() app.FlagGroup {
	return app.FlagGroup{
		GroupName: "Selection Options",
		Flags:     selectionFlags,
	}
}

var selectionListRe = regexp.MustCompile(`^\s*(?i:all)\s*$|^\s*\d+(\s*-\s*\d+)?(\s*,\s*\d+(\s*-\s*\d+)?)*\s*$`)

// ValidateSelectionFlags checks the syntax of the selection flags. Whether the units exist is
// checked per target when the selection is expanded.
func ValidateSelectionFlags(cmd *cobra.Command) error {
	for _, flag := range selectionFlags {
		value, err := cmd.Flags().GetString(flag.Name)
		if err != nil || value == "" {
			continue
		}
		if !selectionListRe.MatchString(value) {
			return &selector.SelectionError{Msg: "bad --" + flag.Name + " value '" + value + "', expected numbers and ranges like 0-3,8 or 'all'"}
		}
	}
	return nil
}

// GetSelector returns the selector the selection flags of cmd describe.
func GetSelector(cmd *cobra.Command) selector.Selector {
	get := func(name string) string {
		value, _ := cmd.Flags().GetString(name)
		return strings.TrimSpace(value)
	}
	return selector.Selector{
		CPUs:           get(flagCPUsName),
		Cores:          get(flagCoresName),
		Modules:        get(flagModulesName),
		Dies:           get(flagDiesName),
		Packages:       get(flagPackagesName),
		CoreSiblings:   get(flagCoreSiblingsName),
		ModuleSiblings: get(flagModuleSiblingsName),
	}
}

// AddMechanismsFlag adds the --mechanisms flag to cmd.
func AddMechanismsFlag(cmd *cobra.Command) {
	cmd.Flags().String(mechanismsFlag.Name, "", mechanismsFlag.Help)
}

// GetMechanismsFlag returns the --mechanisms flag for usage output.
func GetMechanismsFlag() app.Flag {
	return mechanismsFlag
}

// GetMechanisms parses the --mechanisms flag of cmd. No mechanisms means the default order.
func GetMechanisms(cmd *cobra.Command) ([]props.Mechanism, error) {
	value, _ := cmd.Flags().GetString(flagMechanismsName)
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return props.ParseMechanisms(value)
}
