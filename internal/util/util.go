/*
Package util includes utility/helper functions that may be useful to other modules.
*/
package util

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ExpandUser expands '~' to user's home directory, if found, otherwise returns original path
func ExpandUser(path string) string {
	usr, _ := user.Current()
	if path == "~" {
		return usr.HomeDir
	} else if strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		return filepath.Join(usr.HomeDir, path[2:])
	} else {
		return path
	}
}

// AbsPath returns absolute path after expanding '~' to user's home dir
func AbsPath(path string) (string, error) {
	return filepath.Abs(ExpandUser(path))
}

// DirectoryExists checks if the specified directory exists.
// It returns a boolean indicating whether the directory exists and an error if the
// path refers to anything other than a directory, e.g., a regular file.
func DirectoryExists(path string) (exists bool, err error) {
	var fileInfo fs.FileInfo
	fileInfo, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			exists = false
			err = nil
			return
		}
		return
	}
	if !fileInfo.Mode().IsDir() {
		err = fmt.Errorf("%s not a directory", path)
		return
	}
	exists = true
	return
}

var intRangeRe = regexp.MustCompile(`^(\d+)(?:-(\d+))?$`)

// intRange expands "1-3" to [1, 2, 3] and "5" to [5].
func intRange(input string) ([]int, error) {
	matches := intRangeRe.FindStringSubmatch(strings.TrimSpace(input))
	if len(matches) == 0 {
		err := fmt.Errorf("invalid input format: %s", input)
		return nil, err
	}
	start, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid start value: %s", matches[1])
	}
	if matches[2] == "" {
		return []int{start}, nil
	}
	end, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, fmt.Errorf("invalid end value: %s", matches[2])
	}
	if start > end {
		return nil, fmt.Errorf("start value is greater than end value: %d > %d", start, end)
	}
	result := make([]int, end-start+1)
	for i := start; i <= end; i++ {
		result[i-start] = i
	}
	return result, nil
}

// SelectiveIntRangeToIntList expands a string representing a selective range of integers into a
// sorted slice of unique integers. For example "7,1-3,3" will be expanded to [1, 2, 3, 7].
// An error is returned if the input string is not in a valid format.
func SelectiveIntRangeToIntList(input string) ([]int, error) {
	var result []int
	for r := range strings.SplitSeq(input, ",") {
		ints, err := intRange(r)
		if err != nil {
			return nil, err
		}
		result = append(result, ints...)
	}
	slices.Sort(result)
	return slices.Compact(result), nil
}

// IntListToRangeString is the inverse of SelectiveIntRangeToIntList: [0 1 2 5 7 8] becomes
// "0-2,5,7-8". The input does not need to be sorted.
func IntListToRangeString(ints []int) string {
	if len(ints) == 0 {
		return ""
	}
	sorted := slices.Clone(ints)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	var parts []string
	start := sorted[0]
	prev := sorted[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, v := range sorted[1:] {
		if v == prev+1 {
			prev = v
			continue
		}
		flush()
		start, prev = v, v
	}
	flush()
	return strings.Join(parts, ",")
}

// BitMask returns the mask covering bits msb..lsb, inclusive.
func BitMask(msb, lsb uint) uint64 {
	if msb >= 63 {
		return ^uint64(0) << lsb
	}
	return ((uint64(1) << (msb + 1)) - 1) &^ ((uint64(1) << lsb) - 1)
}
