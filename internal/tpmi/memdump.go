package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	instanceLineRe = regexp.MustCompile(`^TPMI Instance:(\d+) offset:(0x[0-9a-fA-F]+)`)
	// " 00000020: 013afd40 00004000 2244aacc deadbeef", older kernels print "[00000020] ...".
	dataLineRe = regexp.MustCompile(`^(?: |\[)([0-9a-fA-F]+)(?::|\]) (.*)$`)
)

// MemDump holds the parsed contents of a TPMI debugfs mem_dump file: the 32-bit words of every
// instance, keyed by offset within the instance.
type MemDump struct {
	instances []int
	words     map[int]map[uint32]uint32
}

// ParseMemDump parses mem_dump text. Instances without any data are omitted.
func ParseMemDump(r io.Reader) (*MemDump, error) {
	dump := &MemDump{words: make(map[int]map[uint32]uint32)}
	scanner := bufio.NewScanner(r)
	instance := -1
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}
		if m := instanceLineRe.FindStringSubmatch(line); m != nil {
			instance, _ = strconv.Atoi(m[1])
			continue
		}
		m := dataLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("unexpected line %d in TPMI memory dump: %q", lineNum, line)
		}
		if instance < 0 {
			return nil, fmt.Errorf("line %d in TPMI memory dump precedes the first instance header", lineNum)
		}
		offset, err := strconv.ParseUint(m[1], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("bad offset on line %d in TPMI memory dump: %w", lineNum, err)
		}
		words, ok := dump.words[instance]
		if !ok {
			words = make(map[uint32]uint32)
			dump.words[instance] = words
			dump.instances = append(dump.instances, instance)
		}
		for _, field := range strings.Fields(m[2]) {
			value, err := strconv.ParseUint(field, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("bad value %q on line %d in TPMI memory dump: %w", field, lineNum, err)
			}
			words[uint32(offset)] = uint32(value)
			offset += 4
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	slices.Sort(dump.instances)
	return dump, nil
}

// Instances returns the instance numbers present in the dump, in ascending order.
func (d *MemDump) Instances() []int {
	return slices.Clone(d.instances)
}

// HasInstance reports whether the dump contains data for instance.
func (d *MemDump) HasInstance(instance int) bool {
	_, ok := d.words[instance]
	return ok
}

// Read returns a 32 or 64-bit register value at offset of instance.
func (d *MemDump) Read(instance int, offset uint32, width int) (uint64, error) {
	words, ok := d.words[instance]
	if !ok {
		return 0, fmt.Errorf("TPMI instance %d not present in memory dump", instance)
	}
	low, ok := words[offset]
	if !ok {
		return 0, fmt.Errorf("offset %#x of TPMI instance %d not present in memory dump", offset, instance)
	}
	if width <= 32 {
		return uint64(low), nil
	}
	high, ok := words[offset+4]
	if !ok {
		return 0, fmt.Errorf("offset %#x of TPMI instance %d not present in memory dump", offset+4, instance)
	}
	return uint64(high)<<32 | uint64(low), nil
}
