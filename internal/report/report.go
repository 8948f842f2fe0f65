// Package report renders command output tables as text or xlsx, and saves and loads property
// settings as YAML.
package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strings"

	"powerconf/internal/table"
)

const (
	FormatXlsx = "xlsx"
	FormatTxt  = "txt"
)

const NoDataFound = "No data found."

var FormatOptions = []string{FormatTxt, FormatXlsx}

// Create generates output in the specified format from the provided tables.
// The function ensures that all fields have the same number of values first.
//
// Parameters:
// - format: The desired format (txt, xlsx).
// - allTableValues: The values for each field in each table.
// - targetName: The name of the target the tables describe, used as the xlsx sheet name.
//
// Returns:
// - out: The generated output as a byte slice.
// - err: An error, if any occurred during generation.
func Create(format string, allTableValues []table.TableValues, targetName string) (out []byte, err error) {
	for _, tableValues := range allTableValues {
		if err = table.Validate(tableValues); err != nil {
			return nil, err
		}
	}
	switch format {
	case FormatTxt:
		return createTextReport(allTableValues)
	case FormatXlsx:
		return createXlsxReport(allTableValues, targetName)
	}
	return nil, fmt.Errorf("expected one of %s, got %s", strings.Join(FormatOptions, ", "), format)
}

// CreateMultiTarget generates xlsx output for multiple targets, one sheet per target.
func CreateMultiTarget(allTargetsTableValues [][]table.TableValues, targetNames []string) (out []byte, err error) {
	if len(allTargetsTableValues) != len(targetNames) {
		return nil, fmt.Errorf("expected tables for %d targets, got %d", len(targetNames), len(allTargetsTableValues))
	}
	for _, targetTableValues := range allTargetsTableValues {
		for _, tableValues := range targetTableValues {
			if err = table.Validate(tableValues); err != nil {
				return nil, err
			}
		}
	}
	return createXlsxReportMultiTarget(allTargetsTableValues, targetNames)
}
