// Package msr reads and writes model specific registers through the Linux msr driver
// device nodes of a target.
package msr

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pkg/errors"

	"powerconf/internal/backend"
	"powerconf/internal/target"
)

const devicePath = "/dev/cpu/%d/msr"

// Registers used by the property tables and topology probing.
const (
	PlatformInfo     = 0xCE
	TurboRatioLimit  = 0x1AD
	FSBFreq          = 0xCD
	PkgCstConfigCtl  = 0xE2
	PowerCtl         = 0x1FC
	EnergyPerfBias   = 0x1B0
	PMEnable         = 0x770
	HWPRequest       = 0x774
	HWPCapabilities  = 0x771
	RAPLPowerUnit    = 0x606
	PkgPowerLimit    = 0x610
	PkgPowerInfo     = 0x614
	PMLogicalID      = 0x54
	UncoreRatioLimit = 0x620
	MiscEnable       = 0x1A0
)

// MSR accesses model specific registers of a target.
type MSR struct {
	target target.Target
}

// New creates an MSR backend for t.
func New(t target.Target) *MSR {
	return &MSR{target: t}
}

// Path returns the device node of cpu.
func Path(cpu int) string {
	return fmt.Sprintf(devicePath, cpu)
}

func (m *MSR) wrap(err error, op string, cpu int, addr uint32) error {
	if backend.Unsupported(err) {
		return errors.Wrapf(backend.ErrNotSupported, "MSR %#x on CPU %d (%v)", addr, cpu, err)
	}
	if errors.Is(err, fs.ErrPermission) {
		return errors.Wrapf(err, "no permission to %s MSR %#x on CPU %d, root access and the msr kernel module are required", op, addr, cpu)
	}
	return errors.Wrapf(err, "failed to %s MSR %#x on CPU %d", op, addr, cpu)
}

// Read returns the value of register addr on cpu.
func (m *MSR) Read(cpu int, addr uint32) (uint64, error) {
	buf, err := m.target.ReadAt(Path(cpu), int64(addr), 8)
	if err != nil {
		return 0, m.wrap(err, "read", cpu, addr)
	}
	// x86 is little endian
	return binary.LittleEndian.Uint64(buf), nil
}

// Write sets register addr on cpu to val.
func (m *MSR) Write(cpu int, addr uint32, val uint64) error {
	slog.Debug("writing MSR", slog.Int("cpu", cpu), slog.String("addr", fmt.Sprintf("%#x", addr)), slog.String("value", fmt.Sprintf("%#x", val)))
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, val)
	if err := m.target.WriteAt(Path(cpu), int64(addr), buf); err != nil {
		return m.wrap(err, "write", cpu, addr)
	}
	return nil
}

// ReadBits returns bits of register addr on cpu.
func (m *MSR) ReadBits(cpu int, addr uint32, bits backend.Bits) (uint64, error) {
	reg, err := m.Read(cpu, addr)
	if err != nil {
		return 0, err
	}
	return bits.Get(reg), nil
}

// WriteBits sets bits of register addr on cpu to val with a read-modify-write cycle. The
// register is not written when the bits already hold val.
func (m *MSR) WriteBits(cpu int, addr uint32, bits backend.Bits, val uint64) error {
	reg, err := m.Read(cpu, addr)
	if err != nil {
		return err
	}
	newReg, err := bits.Set(reg, val)
	if err != nil {
		return errors.Wrapf(err, "MSR %#x", addr)
	}
	if newReg == reg {
		return nil
	}
	return m.Write(cpu, addr, newReg)
}
