package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"powerconf/internal/table"
)

func sampleTables(t *testing.T) []table.TableValues {
	t.Helper()
	tv := table.New("P-states", true, table.FieldProperty, table.FieldValue, table.FieldAppliesTo, table.FieldMechanism)
	require.NoError(t, tv.AddRow("Min. CPU frequency", "800MHz", "CPUs 0-3", "sysfs"))
	require.NoError(t, tv.AddRow("EPB", "6", "all CPUs", "msr"))
	empty := table.New("Uncore", true, table.FieldProperty, table.FieldValue)
	empty.NoDataFound = "No properties resolved."
	return []table.TableValues{tv, empty}
}

func TestCreateText(t *testing.T) {
	out, err := Create(FormatTxt, sampleTables(t), "host1")
	require.NoError(t, err)
	text := string(out)
	assert.True(t, strings.HasPrefix(text, "P-states\n========\n"))
	assert.Contains(t, text, "Property")
	assert.Contains(t, text, "Min. CPU frequency")
	assert.Contains(t, text, "CPUs 0-3")
	assert.Contains(t, text, "Uncore\n======\nNo properties resolved.\n")
}

func TestCreateInvalid(t *testing.T) {
	tv := table.New("Broken", true, "A", "B")
	tv.Fields[0].Values = []string{"1"}
	_, err := Create(FormatTxt, []table.TableValues{tv}, "host1")
	assert.ErrorContains(t, err, "number of entries must be the same")

	_, err = Create("html", sampleTables(t), "host1")
	assert.ErrorContains(t, err, "expected one of txt, xlsx")
}

func TestCreateXlsx(t *testing.T) {
	out, err := Create(FormatXlsx, sampleTables(t), "host1")
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close() // nolint:errcheck
	assert.Equal(t, []string{"host1"}, f.GetSheetList())
	value, err := f.GetCellValue("host1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "P-states", value)
}

func TestCreateMultiTarget(t *testing.T) {
	tables := sampleTables(t)
	out, err := CreateMultiTarget([][]table.TableValues{tables, tables, tables}, []string{"node:1", "node_1", "node2"})
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close() // nolint:errcheck
	assert.Equal(t, []string{"node_1", "node_1_2", "node2"}, f.GetSheetList())

	_, err = CreateMultiTarget([][]table.TableValues{tables}, []string{"a", "b"})
	assert.Error(t, err)
}

func TestSheetName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"host1", "host1"},
		{"", XlsxPrimarySheetName},
		{"a/b[c]", "a_b_c_"},
		{strings.Repeat("x", 40), strings.Repeat("x", maxSheetNameLength)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sheetName(tt.in), tt.in)
	}
}
