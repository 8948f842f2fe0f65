// Package cppc reads the ACPI CPPC attributes the kernel exposes per CPU.
package cppc

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"

	"powerconf/internal/backend/sysfs"
)

const basePath = "/sys/devices/system/cpu/cpu%d/acpi_cppc/%s"

// CPPC attribute names.
const (
	HighestPerf     = "highest_perf"
	NominalPerf     = "nominal_perf"
	LowestNonlinear = "lowest_nonlinear_perf"
	LowestPerf      = "lowest_perf"
	NominalFreq     = "nominal_freq"
	LowestFreq      = "lowest_freq"
)

// CPPC is a read-only view of the acpi_cppc sysfs directories.
type CPPC struct {
	sysfs *sysfs.Sysfs
}

// New creates a CPPC backend on top of a sysfs backend.
func New(s *sysfs.Sysfs) *CPPC {
	return &CPPC{sysfs: s}
}

// Path returns the sysfs path of attribute name of cpu.
func Path(cpu int, name string) string {
	return fmt.Sprintf(basePath, cpu, name)
}

// Read returns attribute name of cpu. Absent attributes yield backend.ErrNotSupported.
func (c *CPPC) Read(cpu int, name string) (int64, error) {
	return c.sysfs.ReadInt(Path(cpu, name))
}
