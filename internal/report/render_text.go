package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strings"

	"powerconf/internal/table"
)

const columnSpacing = 3

func createTextReport(allTableValues []table.TableValues) ([]byte, error) {
	var sb strings.Builder
	for _, tv := range allTableValues {
		fmt.Fprintf(&sb, "%s\n%s\n", tv.Name, strings.Repeat("=", len(tv.Name)))
		if isEmpty(tv) {
			sb.WriteString(noDataMessage(tv) + "\n\n")
			continue
		}
		if tv.HasRows {
			writeTextRows(&sb, tv)
		} else {
			writeTextFields(&sb, tv)
		}
		sb.WriteString("\n")
	}
	return []byte(sb.String()), nil
}

func isEmpty(tv table.TableValues) bool {
	return len(tv.Fields) == 0 || len(tv.Fields[0].Values) == 0
}

func noDataMessage(tv table.TableValues) string {
	if tv.NoDataFound != "" {
		return tv.NoDataFound
	}
	return NoDataFound
}

// writeTextRows prints the field names as underlined column headings followed by one line
// per row. The last column is not padded.
func writeTextRows(sb *strings.Builder, tv table.TableValues) {
	widths := make([]int, len(tv.Fields))
	for i, field := range tv.Fields[:len(tv.Fields)-1] {
		widths[i] = len(field.Name)
		for _, v := range field.Values {
			widths[i] = max(widths[i], len(v))
		}
		widths[i] += columnSpacing
	}
	writeLine := func(cell func(table.Field) string) {
		var line strings.Builder
		for i, field := range tv.Fields {
			fmt.Fprintf(&line, "%-*s", widths[i], cell(field))
		}
		sb.WriteString(strings.TrimRight(line.String(), " ") + "\n")
	}
	writeLine(func(f table.Field) string { return f.Name })
	writeLine(func(f table.Field) string { return strings.Repeat("-", len(f.Name)) })
	for row := range tv.Fields[0].Values {
		writeLine(func(f table.Field) string { return f.Values[row] })
	}
}

// writeTextFields prints one "name: value" line per field.
func writeTextFields(sb *strings.Builder, tv table.TableValues) {
	width := 0
	for _, field := range tv.Fields {
		width = max(width, len(field.Name))
	}
	for _, field := range tv.Fields {
		var value string
		if len(field.Values) > 0 {
			value = field.Values[0]
		}
		fmt.Fprintf(sb, "%-*s %s\n", width+1, field.Name+":", value)
	}
}
