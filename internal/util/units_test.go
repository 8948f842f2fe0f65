package util

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		err      bool
	}{
		{"1.2GHz", 1_200_000_000, false},
		{"1.2ghz", 1_200_000_000, false},
		{"800MHz", 800_000_000, false},
		{"2000000kHz", 2_000_000_000, false},
		{"1500000000", 1_500_000_000, false},
		{"100 Hz", 100, false},
		{"2.5THz", 0, true},
		{"fast", 0, true},
		{"", 0, true},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			hz, err := ParseFrequency(test.input)
			if test.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, hz)
		})
	}
}

func TestFormatFrequency(t *testing.T) {
	assert.Equal(t, "2.1GHz", FormatFrequency(2_100_000_000))
	assert.Equal(t, "800MHz", FormatFrequency(800_000_000))
	assert.Equal(t, "1.5kHz", FormatFrequency(1_500))
	assert.Equal(t, "10Hz", FormatFrequency(10))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		err      bool
	}{
		{"10us", 10, false},
		{"10", 10, false},
		{"1.5ms", 1_500, false},
		{"2s", 2_000_000, false},
		{"2000ns", 2, false},
		{"500ns", 0, true},
		{"3min", 0, true},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			us, err := ParseDuration(test.input)
			if test.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, us)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0us", FormatDuration(0))
	assert.Equal(t, "15us", FormatDuration(15))
	assert.Equal(t, "2ms", FormatDuration(2_000))
	assert.Equal(t, "3s", FormatDuration(3_000_000))
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"on", "true", "enable", "ON", "Enabled"} {
		b, err := ParseBool(in)
		require.NoError(t, err, in)
		assert.True(t, b, in)
	}
	for _, in := range []string{"off", "false", "disable", "Disabled"} {
		b, err := ParseBool(in)
		require.NoError(t, err, in)
		assert.False(t, b, in)
	}
	_, err := ParseBool("maybe")
	assert.Error(t, err)
}
