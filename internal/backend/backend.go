// Package backend holds what the register and file access backends share: the "not
// supported" sentinel and bit range helpers.
package backend

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"powerconf/internal/util"
)

// ErrNotSupported is wrapped by backend errors that mean the register or file does not exist
// on this platform, as opposed to an access failure.
var ErrNotSupported = errors.New("not supported")

// IsNotSupported reports whether err means the access is not supported on this platform.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// Unsupported reports whether a target access error means the file or register is absent:
// a missing file, or a device read the kernel refuses with EIO.
func Unsupported(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.EIO)
}

// Bits is an inclusive bit range within a register.
type Bits struct {
	High uint
	Low  uint
}

// Bit returns the range covering a single bit.
func Bit(n uint) Bits {
	return Bits{High: n, Low: n}
}

// Mask returns the register mask of the range.
func (b Bits) Mask() uint64 {
	return util.BitMask(b.High, b.Low)
}

// Get extracts the range from a register value.
func (b Bits) Get(reg uint64) uint64 {
	return (reg & b.Mask()) >> b.Low
}

// Set returns reg with the range replaced by val. It fails when val does not fit.
func (b Bits) Set(reg, val uint64) (uint64, error) {
	if val > b.Mask()>>b.Low {
		return 0, fmt.Errorf("value %d does not fit into bits %s", val, b)
	}
	return reg&^b.Mask() | val<<b.Low, nil
}

func (b Bits) String() string {
	if b.High == b.Low {
		return fmt.Sprintf("%d", b.Low)
	}
	return fmt.Sprintf("%d:%d", b.High, b.Low)
}
