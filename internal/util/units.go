package util

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var numberWithUnitRe = regexp.MustCompile(`^\s*([0-9]*\.?[0-9]+)\s*([a-zA-Z]*)\s*$`)

var frequencyUnits = map[string]float64{
	"":    1,
	"hz":  1,
	"khz": 1_000,
	"mhz": 1_000_000,
	"ghz": 1_000_000_000,
}

// time units are relative to one microsecond
var timeUnits = map[string]float64{
	"ns": 0.001,
	"us": 1,
	"":   1,
	"ms": 1_000,
	"s":  1_000_000,
}

func splitNumberAndUnit(input string) (float64, string, error) {
	matches := numberWithUnitRe.FindStringSubmatch(input)
	if matches == nil {
		return 0, "", fmt.Errorf("invalid value %q", input)
	}
	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid value %q: %w", input, err)
	}
	return value, strings.ToLower(matches[2]), nil
}

// ParseFrequency converts a frequency string such as "1.2GHz", "800MHz", "2000000kHz" or
// "1500000000" into an integer number of Hz. A bare number is taken as Hz.
func ParseFrequency(input string) (int64, error) {
	value, unit, err := splitNumberAndUnit(input)
	if err != nil {
		return 0, err
	}
	mult, ok := frequencyUnits[unit]
	if !ok {
		return 0, fmt.Errorf("invalid frequency unit %q in %q, use Hz, kHz, MHz or GHz", unit, input)
	}
	return int64(math.Round(value * mult)), nil
}

// FormatFrequency renders a frequency in Hz with the largest unit that keeps the value at or
// above one, e.g. 2100000000 becomes "2.1GHz".
func FormatFrequency(hz int64) string {
	for _, u := range []struct {
		name string
		mult float64
	}{{"GHz", 1e9}, {"MHz", 1e6}, {"kHz", 1e3}} {
		if math.Abs(float64(hz)) >= u.mult {
			return strconv.FormatFloat(float64(hz)/u.mult, 'f', -1, 64) + u.name
		}
	}
	return strconv.FormatInt(hz, 10) + "Hz"
}

// ParseDuration converts a latency string such as "10us", "1.5ms" or "2000ns" into whole
// microseconds. A bare number is taken as microseconds.
func ParseDuration(input string) (int64, error) {
	value, unit, err := splitNumberAndUnit(input)
	if err != nil {
		return 0, err
	}
	mult, ok := timeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("invalid time unit %q in %q, use ns, us, ms or s", unit, input)
	}
	us := value * mult
	if us != math.Trunc(us) {
		return 0, fmt.Errorf("%q is not a whole number of microseconds", input)
	}
	return int64(us), nil
}

// FormatDuration renders microseconds using ms or s when the value divides evenly.
func FormatDuration(us int64) string {
	switch {
	case us != 0 && us%1_000_000 == 0:
		return strconv.FormatInt(us/1_000_000, 10) + "s"
	case us != 0 && us%1_000 == 0:
		return strconv.FormatInt(us/1_000, 10) + "ms"
	}
	return strconv.FormatInt(us, 10) + "us"
}

// ParseBool accepts true/false, on/off, enable/disable (and their capitalized forms).
func ParseBool(input string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "true", "on", "enable", "enabled":
		return true, nil
	case "false", "off", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q, use on/off, true/false or enable/disable", input)
}

// FormatBool renders a boolean the way the property tables expect it: "on" or "off".
func FormatBool(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
