// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package table provides the tabular form of command output, e.g., resolved properties and
// topology, shared by the text and xlsx renderers.
package table

import (
	"fmt"
	"slices"

	"powerconf/internal/props"
)

// Field represents the values for a field in a table
type Field struct {
	Name        string
	Description string // optional description of the field
	Values      []string
}

// TableValues combines the table definition with the resulting fields and their values
type TableValues struct {
	TableDefinition
	Fields []Field
}

// TableDefinition defines the structure of a table in the output
type TableDefinition struct {
	Name        string
	HasRows     bool   // table is meant to be displayed in row form, i.e., a field may have multiple values
	NoDataFound string // message to display when no data is found
}

// New creates an empty table with the given field names.
func New(name string, hasRows bool, fieldNames ...string) TableValues {
	tv := TableValues{TableDefinition: TableDefinition{Name: name, HasRows: hasRows}}
	for _, fieldName := range fieldNames {
		tv.Fields = append(tv.Fields, Field{Name: fieldName})
	}
	return tv
}

// AddRow appends one value to each field.
func (tv *TableValues) AddRow(values ...string) error {
	if len(values) != len(tv.Fields) {
		return fmt.Errorf("table %s has %d fields, got %d values", tv.Name, len(tv.Fields), len(values))
	}
	for i, value := range values {
		tv.Fields[i].Values = append(tv.Fields[i].Values, value)
	}
	return nil
}

// GetFieldIndex returns the index of a field with the given name in the TableValues structure.
// Returns:
//   - int: The index of the field if found and valid, -1 otherwise
//   - error: nil if successful, an error describing the issue otherwise
func GetFieldIndex(fieldName string, tableValues TableValues) (int, error) {
	for i, field := range tableValues.Fields {
		if field.Name == fieldName {
			if len(field.Values) == 0 {
				return -1, fmt.Errorf("field [%s] does not have associated value(s)", field.Name)
			}
			return i, nil
		}
	}
	return -1, fmt.Errorf("field [%s] not found in table [%s]", fieldName, tableValues.Name)
}

// Validate checks that the table has a name, named fields and the same number of values in
// every field.
func Validate(tableValues TableValues) error {
	if tableValues.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	// no field values is a valid state
	if len(tableValues.Fields) == 0 {
		return nil
	}
	// field names cannot be empty
	for i, field := range tableValues.Fields {
		if field.Name == "" {
			return fmt.Errorf("table %s, field %d, name cannot be empty", tableValues.Name, i)
		}
	}
	// the number of entries in each field must be the same
	numEntries := len(tableValues.Fields[0].Values)
	for i, field := range tableValues.Fields {
		if len(field.Values) != numEntries {
			return fmt.Errorf("table %s, field %d, %s, number of entries must be the same for all fields, expected %d, got %d", tableValues.Name, i, field.Name, numEntries, len(field.Values))
		}
	}
	return nil
}

// Property table field names.
const (
	FieldProperty  = "Property"
	FieldValue     = "Value"
	FieldAppliesTo = "Applies To"
	FieldMechanism = "Mechanism"
)

// FromResults builds a table with one row per value group of the results. Properties without
// any value get a single "not supported" row.
func FromResults(name string, results []*props.Result) TableValues {
	tv := New(name, true, FieldProperty, FieldValue, FieldAppliesTo, FieldMechanism)
	tv.NoDataFound = "No properties resolved."
	for _, res := range results {
		if res == nil {
			continue
		}
		p := res.Property
		if len(res.Groups) == 0 {
			_ = tv.AddRow(p.Label, props.Unavailable{}.String(), "", "")
			continue
		}
		for _, g := range slices.Clone(res.Groups) {
			mech := string(g.Mechanism)
			if props.IsUnavailable(g.Value) {
				mech = ""
			}
			_ = tv.AddRow(p.Label, props.FormatValue(p, g.Value), g.Description, mech)
		}
	}
	return tv
}
