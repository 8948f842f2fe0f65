package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"powerconf/internal/table"
)

const (
	XlsxPrimarySheetName = "Report"
	maxSheetNameLength   = 31
	columnWidth          = 25
)

// sheetName turns a target name into a valid sheet name.
func sheetName(targetName string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, targetName)
	if name == "" {
		name = XlsxPrimarySheetName
	}
	if len(name) > maxSheetNameLength {
		name = name[:maxSheetNameLength]
	}
	return name
}

// sheetWriter appends tables to one sheet, top to bottom.
type sheetWriter struct {
	f         *excelize.File
	sheet     string
	row       int
	bold      int
	alignLeft int
}

func newSheetWriter(f *excelize.File, sheet string) (*sheetWriter, error) {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	alignLeft, err := f.NewStyle(&excelize.Style{Alignment: &excelize.Alignment{Horizontal: "left"}})
	if err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheet, "A", "L", columnWidth); err != nil {
		return nil, err
	}
	return &sheetWriter{f: f, sheet: sheet, row: 1, bold: bold, alignLeft: alignLeft}, nil
}

func (w *sheetWriter) set(col int, value any, style int) {
	cell, err := excelize.CoordinatesToCellName(col, w.row)
	if err != nil {
		return
	}
	_ = w.f.SetCellValue(w.sheet, cell, value)
	if style != 0 {
		_ = w.f.SetCellStyle(w.sheet, cell, cell, style)
	}
}

func (w *sheetWriter) writeTable(tv table.TableValues) {
	w.set(1, tv.Name, w.bold)
	w.row++
	if isEmpty(tv) {
		w.set(1, noDataMessage(tv), 0)
		w.row += 2
		return
	}
	if tv.HasRows {
		// headings across the top, indented by one column
		for i, field := range tv.Fields {
			w.set(i+2, field.Name, w.bold)
		}
		w.row++
		for row := range tv.Fields[0].Values {
			for i, field := range tv.Fields {
				w.set(i+2, cellValue(field.Values[row]), w.alignLeft)
			}
			w.row++
		}
	} else {
		for _, field := range tv.Fields {
			var value string
			if len(field.Values) > 0 {
				value = field.Values[0]
			}
			w.set(1, field.Name, 0)
			w.set(2, cellValue(value), w.alignLeft)
			w.row++
		}
	}
	w.row++
}

func renderXlsxSheet(f *excelize.File, sheet string, allTableValues []table.TableValues) error {
	w, err := newSheetWriter(f, sheet)
	if err != nil {
		return fmt.Errorf("failed to prepare sheet %s: %w", sheet, err)
	}
	for _, tv := range allTableValues {
		w.writeTable(tv)
	}
	return nil
}

func writeXlsx(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write xlsx report to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

func createXlsxReport(allTableValues []table.TableValues, targetName string) ([]byte, error) {
	return createXlsxReportMultiTarget([][]table.TableValues{allTableValues}, []string{targetName})
}

// createXlsxReportMultiTarget writes one sheet per target. Names that collide after
// sanitizing get a numeric suffix.
func createXlsxReportMultiTarget(allTargetsTableValues [][]table.TableValues, targetNames []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close() // nolint:errcheck
	used := make(map[string]bool)
	for targetIdx, targetName := range targetNames {
		name := sheetName(targetName)
		for i := 2; used[name]; i++ {
			name = sheetName(fmt.Sprintf("%s_%d", targetName, i))
		}
		used[name] = true
		if targetIdx == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to add sheet for %s: %w", targetName, err)
		}
		if err := renderXlsxSheet(f, name, allTargetsTableValues[targetIdx]); err != nil {
			return nil, err
		}
	}
	return writeXlsx(f)
}

// cellValue stores numbers as numbers so they sort and sum in the sheet.
func cellValue(value string) any {
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
