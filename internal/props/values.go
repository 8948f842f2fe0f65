package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"powerconf/internal/util"
)

// ParseValue converts user input into a value of the type of p. Frequencies take Hz, kHz, MHz
// and GHz suffixes, latencies ns, us, ms and s. Special values are returned as strings.
func ParseValue(p *Property, input string) (any, error) {
	input = strings.TrimSpace(input)
	if p.IsSpecial(input) {
		return input, nil
	}
	switch p.Type {
	case TypeBool:
		return util.ParseBool(input)
	case TypeString:
		return input, nil
	case TypeFloat:
		v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSuffix(input, "W"), "w"), 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s value %q: a number is required", p.Name, input)
		}
		return v, nil
	case TypeStrings:
		list := splitList(input)
		if len(list) == 0 {
			return nil, fmt.Errorf("bad %s value %q: a list is required", p.Name, input)
		}
		return list, nil
	case TypeInt:
		switch p.Unit {
		case UnitHz:
			return util.ParseFrequency(input)
		case UnitUS:
			return util.ParseDuration(input)
		}
		v, err := strconv.ParseInt(strings.TrimSuffix(input, UnitPercent), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s value %q: an integer is required", p.Name, input)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%s cannot be set", p.ID())
}

// splitList splits a comma or space separated list.
func splitList(input string) []string {
	return strings.FieldsFunc(input, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
}

// FormatValue renders a value of p for humans.
func FormatValue(p *Property, v any) string {
	switch v := v.(type) {
	case Unavailable:
		return v.String()
	case bool:
		return util.FormatBool(v)
	case []string:
		return strings.Join(v, ", ")
	case int64:
		switch p.Unit {
		case UnitHz:
			return util.FormatFrequency(v)
		case UnitUS:
			return util.FormatDuration(v)
		case UnitPercent:
			return strconv.FormatInt(v, 10) + "%"
		}
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'f', 3, 64)
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
		return s + p.Unit
	}
	return fmt.Sprint(v)
}

// RawValue renders a value in the form ParseValue accepts back, as used in saved settings.
func RawValue(v any) string {
	switch v := v.(type) {
	case bool:
		return util.FormatBool(v)
	case []string:
		return strings.Join(v, " ")
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
