package util

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntRange(t *testing.T) {
	tests := []struct {
		input    string
		expected []int
		err      bool
	}{
		{"1-5", []int{1, 2, 3, 4, 5}, false},            // Valid range
		{"10-15", []int{10, 11, 12, 13, 14, 15}, false}, // Valid range
		{"5-5", []int{5}, false},                        // Single value range
		{" 7 ", []int{7}, false},                        // Surrounding spaces
		{"", []int{}, true},                             // Empty input
		{"5-3", nil, true},                              // Invalid range (start > end)
		{"abc-def", nil, true},                          // Invalid input format
		{"1-", nil, true},                               // Missing end value
		{"-5", nil, true},                               // Missing start value
		{"1-5-10", nil, true},                           // Invalid format with extra dash
		{"3", []int{3}, false},                          // Single value without range
	}

	for _, test := range tests {
		result, err := intRange(test.input)
		if (err != nil) != test.err {
			t.Errorf("expected error: %v, got: %v for input %s, err: %v", test.err, err != nil, test.input, err)
		}
		if !test.err && !slices.Equal(result, test.expected) {
			t.Errorf("expected %v, got %v for input %s", test.expected, result, test.input)
		}
	}
}

func TestSelectiveIntRangeToIntList(t *testing.T) {
	tests := []struct {
		input    string
		expected []int
		err      bool
	}{
		{"1-3,5,7-9", []int{1, 2, 3, 5, 7, 8, 9}, false},
		{"1-4,7", []int{1, 2, 3, 4, 7}, false},
		{"7,1-3,3", []int{1, 2, 3, 7}, false}, // unsorted input with a duplicate
		{"5", []int{5}, false},
		{"", nil, true},
		{"1-3,abc,7-9", nil, true},
		{"1-3,5-2,7-9", nil, true},
		{"1-3,,7-9", nil, true},
	}

	for _, test := range tests {
		result, err := SelectiveIntRangeToIntList(test.input)
		if (err != nil) != test.err {
			t.Errorf("expected error: %v, got: %v for input %s, err: %v", test.err, err != nil, test.input, err)
		}
		if !test.err && !slices.Equal(result, test.expected) {
			t.Errorf("expected %v, got %v for input %s", test.expected, result, test.input)
		}
	}
}

func TestIntListToRangeString(t *testing.T) {
	tests := []struct {
		input    []int
		expected string
	}{
		{[]int{0, 1, 2, 5, 7, 8}, "0-2,5,7-8"},
		{[]int{8, 7, 5, 2, 1, 0}, "0-2,5,7-8"},
		{[]int{3}, "3"},
		{[]int{1, 1, 2}, "1-2"},
		{nil, ""},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, IntListToRangeString(test.input))
	}
}

func TestBitMask(t *testing.T) {
	assert.Equal(t, uint64(0xF), BitMask(3, 0))
	assert.Equal(t, uint64(0x7F00), BitMask(14, 8))
	assert.Equal(t, uint64(1)<<15, BitMask(15, 15))
	assert.Equal(t, ^uint64(0), BitMask(63, 0))
	assert.Equal(t, uint64(0xFF00000000000000), BitMask(63, 56))
}

func TestDirectoryExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))

	exists, err := DirectoryExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = DirectoryExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = DirectoryExists(file)
	assert.Error(t, err)
}
