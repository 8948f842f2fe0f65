package property

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"powerconf/internal/app"
	"powerconf/internal/common"
	"powerconf/internal/props"
	"powerconf/internal/report"
	"powerconf/internal/table"
)

const (
	flagYAMLName = "yaml"
	flagXlsxName = "xlsx"
)

var outputFlags = []app.Flag{
	{Name: flagYAMLName, Help: "print the values as YAML, in the format restore accepts"},
	{Name: flagXlsxName, Help: "also write the values to this Excel file, relative to the output directory"},
}

func newInfoCmd(class string) *cobra.Command {
	examples := []string{
		fmt.Sprintf("  Show all %s properties:              $ %s %s info", class, app.Name, class),
		fmt.Sprintf("  Show some properties of package 0:     $ %s %s info %s --packages 0", app.Name, class, exampleFlags(class, 2, false)),
		fmt.Sprintf("  Save the properties for restore:       $ %s %s info --yaml > %s.yaml", app.Name, class, class),
	}
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show " + classes[class].short,
		Long: fmt.Sprintf(`Shows %s. %s

Without property flags all properties of the class are shown. Values shared by several units
are printed once, with the units they apply to.`, classes[class].short, classes[class].long),
		Example: strings.Join(examples, "\n"),
		PreRunE: validateInfoFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd, class)
		},
		Args:          cobra.NoArgs,
		SilenceErrors: true,
	}
	for _, p := range common.Registry().Class(class) {
		cmd.Flags().Bool(p.Flag(), false, propertyHelp(p))
	}
	cmd.Flags().Bool(flagYAMLName, false, outputFlags[0].Help)
	cmd.Flags().String(flagXlsxName, "", outputFlags[1].Help)
	common.AddSelectionFlags(cmd)
	common.AddMechanismsFlag(cmd)
	common.AddTargetFlags(cmd)
	cmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		return []app.FlagGroup{
			propertyFlagGroup(class, false),
			{GroupName: "Output Options", Flags: outputFlags},
			common.GetSelectionFlagGroup(),
			{GroupName: "Mechanism Options", Flags: []app.Flag{common.GetMechanismsFlag()}},
			common.GetTargetFlagGroup(),
		}
	}))
	return cmd
}

// exampleFlags returns the flags of the first n properties of a class, for examples.
func exampleFlags(class string, n int, writable bool) string {
	var flags []string
	for _, p := range common.Registry().Class(class) {
		if len(flags) == n {
			break
		}
		if writable && !p.Writable {
			continue
		}
		flags = append(flags, "--"+p.Flag())
	}
	return strings.Join(flags, " ")
}

func validateInfoFlags(cmd *cobra.Command, args []string) error {
	if err := common.ValidateSelectionFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if _, err := common.GetMechanisms(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if err := common.ValidateTargetFlags(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if xlsx, _ := cmd.Flags().GetString(flagXlsxName); xlsx != "" && filepath.Ext(xlsx) != ".xlsx" {
		return common.FlagValidationError(cmd, fmt.Sprintf("--%s file name must end with .xlsx", flagXlsxName))
	}
	return nil
}

// requestedProperties returns the ids of the properties whose flags are set, or of every
// property of the class when none is.
func requestedProperties(cmd *cobra.Command, class string) (ids []string, explicit bool) {
	var all []string
	for _, p := range common.Registry().Class(class) {
		all = append(all, p.ID())
		if flag := cmd.Flags().Lookup(p.Flag()); flag != nil && flag.Changed && flag.Value.String() == "true" {
			ids = append(ids, p.ID())
		}
	}
	if len(ids) == 0 {
		return all, false
	}
	return ids, true
}

func runInfo(cmd *cobra.Command, class string) error {
	appContext := common.GetAppContext(cmd)
	systems, err := openSystems(cmd)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	ids, explicit := requestedProperties(cmd, class)
	asYAML, _ := cmd.Flags().GetBool(flagYAMLName)
	xlsxPath, _ := cmd.Flags().GetString(flagXlsxName)
	var allTables [][]table.TableValues
	var targetNames []string
	var failed bool
	for i, sys := range systems {
		results, err := readProperties(cmd.Context(), sys, ids, explicit, cmd)
		if err != nil && len(results) == 0 {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", sys.Name(), err)
			slog.Error(err.Error(), slog.String("target", sys.Name()))
			failed = true
			continue
		}
		if asYAML {
			if err := writeYAML(os.Stdout, sys.Name(), results, i > 0); err != nil {
				return common.ReportError(cmd, err)
			}
		} else {
			if len(systems) > 1 {
				fmt.Printf("%s:\n", sys.Name())
			}
			for _, res := range results {
				common.WriteResult(os.Stdout, res)
			}
		}
		for _, res := range results {
			common.WriteProblems(os.Stderr, res)
		}
		allTables = append(allTables, []table.TableValues{table.FromResults(classes[class].short, results)})
		targetNames = append(targetNames, sys.Name())
	}
	if xlsxPath != "" && len(allTables) > 0 {
		if !filepath.IsAbs(xlsxPath) {
			xlsxPath = filepath.Join(appContext.OutputDir, xlsxPath)
		}
		if err := writeXlsx(xlsxPath, allTables, targetNames); err != nil {
			return common.ReportError(cmd, err)
		}
		fmt.Fprintf(os.Stderr, "Values written to %s\n", xlsxPath)
	}
	if failed {
		cmd.SilenceUsage = true
		return fmt.Errorf("failed to read %s properties", class)
	}
	return nil
}

// writeYAML writes the settings of one target as a YAML document. Documents after the first
// are preceded by a separator.
func writeYAML(w io.Writer, targetName string, results []*props.Result, separate bool) error {
	out, err := report.NewSettings(targetName, results).Marshal()
	if err != nil {
		return fmt.Errorf("failed to render YAML: %w", err)
	}
	if separate {
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
	}
	_, err = w.Write(out)
	return err
}

func writeXlsx(path string, allTables [][]table.TableValues, targetNames []string) error {
	out, err := report.CreateMultiTarget(allTables, targetNames)
	if err != nil {
		return fmt.Errorf("failed to create workbook: %w", err)
	}
	if err := common.CreateOutputDir(filepath.Dir(path)); err != nil {
		return err
	}
	// #nosec G306
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
