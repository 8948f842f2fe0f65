/*
Package emul builds emulated systems: a directory tree with sysfs and procfs files plus
in-memory MSR and TPMI devices, served through a target.EmulTarget. It backs the tests and
the --emul-root option.
*/
package emul

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"powerconf/internal/target"
)

// System is an emulated host.
type System struct {
	root   string
	target *target.EmulTarget

	mu sync.Mutex
	// msrs maps a storage key to a register value; CPUs that share a register map to the same key
	msrs    map[msrKey]uint64
	shares  map[uint32]map[int]int
	msrCPUs map[int]bool
	// msrWrites counts register writes per CPU and address
	msrWrites map[msrKey]int
	tpmi      map[string]*tpmiDevice
	cpus      []CPU
}

type msrKey struct {
	owner int
	addr  uint32
}

// New creates an emulated system rooted at the directory root.
func New(root string) *System {
	return &System{
		root:      root,
		target:    target.NewEmulTarget("emulated", root),
		msrs:      make(map[msrKey]uint64),
		shares:    make(map[uint32]map[int]int),
		msrCPUs:   make(map[int]bool),
		msrWrites: make(map[msrKey]int),
		tpmi:      make(map[string]*tpmiDevice),
	}
}

// Target returns the target serving the emulated system.
func (s *System) Target() *target.EmulTarget {
	return s.target
}

// Root returns the directory the system is rooted at.
func (s *System) Root() string {
	return s.root
}

// WriteFile creates or replaces the file at the absolute target path.
func (s *System) WriteFile(path string, content string) error {
	hostPath := filepath.Join(s.root, filepath.Clean("/"+path))
	if err := os.MkdirAll(filepath.Dir(hostPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(hostPath, []byte(content), 0644) // #nosec G306
}

// ReadFile returns the content of the file at the absolute target path.
func (s *System) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.Clean("/"+path))) // #nosec G304
	return string(data), err
}

// RemoveAll removes the file or directory tree at the absolute target path.
func (s *System) RemoveAll(path string) error {
	return os.RemoveAll(filepath.Join(s.root, filepath.Clean("/"+path)))
}

// WriteFiles writes several files, keyed by path.
func (s *System) WriteFiles(files map[string]string) error {
	for _, path := range slices.Sorted(maps.Keys(files)) {
		if err := s.WriteFile(path, files[path]); err != nil {
			return err
		}
	}
	return nil
}

func msrPath(cpu int) string {
	return fmt.Sprintf("/dev/cpu/%d/msr", cpu)
}

// AddMSRDevice creates the msr device node of cpu. Registers that were never set read with
// EIO, like registers the processor does not implement.
func (s *System) AddMSRDevice(cpu int) error {
	s.mu.Lock()
	if s.msrCPUs[cpu] {
		s.mu.Unlock()
		return nil
	}
	s.msrCPUs[cpu] = true
	s.mu.Unlock()
	if err := s.WriteFile(msrPath(cpu), ""); err != nil {
		return err
	}
	s.target.OnRead(msrPath(cpu), func(offset int64, size int) ([]byte, error) {
		return s.readMSR(cpu, offset, size)
	})
	s.target.OnWrite(msrPath(cpu), func(offset int64, data []byte) error {
		return s.writeMSR(cpu, offset, data)
	})
	return nil
}

func (s *System) owner(cpu int, addr uint32) int {
	if groups, ok := s.shares[addr]; ok {
		if owner, ok := groups[cpu]; ok {
			return owner
		}
	}
	return cpu
}

func (s *System) readMSR(cpu int, offset int64, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.msrs[msrKey{s.owner(cpu, uint32(offset)), uint32(offset)}]
	if !ok || size != 8 {
		return nil, &fs.PathError{Op: "pread", Path: msrPath(cpu), Err: syscall.EIO}
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	return buf, nil
}

func (s *System) writeMSR(cpu int, offset int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := msrKey{s.owner(cpu, uint32(offset)), uint32(offset)}
	if _, ok := s.msrs[key]; !ok || len(data) != 8 {
		return &fs.PathError{Op: "pwrite", Path: msrPath(cpu), Err: syscall.EIO}
	}
	s.msrs[key] = binary.LittleEndian.Uint64(data)
	s.msrWrites[msrKey{cpu, uint32(offset)}]++
	return nil
}

// SetMSR sets register addr as seen from cpu, creating the device node when needed.
func (s *System) SetMSR(cpu int, addr uint32, value uint64) error {
	if err := s.AddMSRDevice(cpu); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msrs[msrKey{s.owner(cpu, addr), addr}] = value
	return nil
}

// SetMSRAll sets register addr on all cpus.
func (s *System) SetMSRAll(cpus []int, addr uint32, value uint64) error {
	for _, cpu := range cpus {
		if err := s.SetMSR(cpu, addr, value); err != nil {
			return err
		}
	}
	return nil
}

// MSR returns register addr as seen from cpu.
func (s *System) MSR(cpu int, addr uint32) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.msrs[msrKey{s.owner(cpu, addr), addr}]
	return v, ok
}

// MSRWrites returns how many times register addr was written through cpu.
func (s *System) MSRWrites(cpu int, addr uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msrWrites[msrKey{cpu, addr}]
}

// ShareMSR makes every group of CPUs share one instance of register addr, like a register
// implemented per core or per module. Call it before setting values.
func (s *System) ShareMSR(addr uint32, groups [][]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owners := make(map[int]int)
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		for _, cpu := range group {
			owners[cpu] = group[0]
		}
	}
	s.shares[addr] = owners
}

type tpmiDevice struct {
	pci string
	// words maps feature id, instance and offset to a 32-bit value
	words map[int]map[int]map[uint32]uint32
}

const debugfsRoot = "/sys/kernel/debug"

func (d *tpmiDevice) featureDir(fid int) string {
	return fmt.Sprintf("%s/tpmi-%s/tpmi-id-%02x", debugfsRoot, d.pci, fid)
}

// SetTPMI sets a 32 or 64-bit register at offset of an instance of feature fid of the TPMI
// device pci, creating the device and feature when needed.
func (s *System) SetTPMI(pci string, fid int, instance int, offset uint32, width int, value uint64) error {
	s.mu.Lock()
	dev, ok := s.tpmi[pci]
	if !ok {
		dev = &tpmiDevice{pci: pci, words: make(map[int]map[int]map[uint32]uint32)}
		s.tpmi[pci] = dev
	}
	if dev.words[fid] == nil {
		dev.words[fid] = make(map[int]map[uint32]uint32)
	}
	if dev.words[fid][instance] == nil {
		dev.words[fid][instance] = make(map[uint32]uint32)
	}
	dev.words[fid][instance][offset] = uint32(value)
	if width > 32 {
		dev.words[fid][instance][offset+4] = uint32(value >> 32)
	}
	s.mu.Unlock()
	if err := s.WriteFile(dev.featureDir(fid)+"/mem_write", ""); err != nil {
		return err
	}
	s.target.OnWrite(dev.featureDir(fid)+"/mem_write", func(_ int64, data []byte) error {
		return s.memWrite(dev, fid, string(data))
	})
	return s.renderDump(dev, fid)
}

// TPMI returns the 32-bit word at offset of an instance of feature fid.
func (s *System) TPMI(pci string, fid int, instance int, offset uint32) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.tpmi[pci]
	if !ok {
		return 0, false
	}
	v, ok := dev.words[fid][instance][offset]
	return v, ok
}

func (s *System) memWrite(dev *tpmiDevice, fid int, data string) error {
	parts := strings.Split(strings.TrimSpace(data), ",")
	invalid := &fs.PathError{Op: "write", Path: dev.featureDir(fid) + "/mem_write", Err: syscall.EINVAL}
	if len(parts) != 3 {
		return invalid
	}
	instance, err1 := strconv.Atoi(parts[0])
	offset, err2 := strconv.ParseUint(parts[1], 0, 32)
	value, err3 := strconv.ParseUint(parts[2], 0, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return invalid
	}
	s.mu.Lock()
	words, ok := dev.words[fid][instance]
	if ok {
		_, ok = words[uint32(offset)]
	}
	if !ok {
		s.mu.Unlock()
		return invalid
	}
	words[uint32(offset)] = uint32(value)
	s.mu.Unlock()
	return s.renderDump(dev, fid)
}

// renderDump writes the mem_dump file the way the kernel formats it: 8 words per line.
func (s *System) renderDump(dev *tpmiDevice, fid int) error {
	s.mu.Lock()
	var sb strings.Builder
	instances := slices.Sorted(maps.Keys(dev.words[fid]))
	for _, instance := range instances {
		words := dev.words[fid][instance]
		fmt.Fprintf(&sb, "TPMI Instance:%d offset:0x%08x\n", instance, 0x40000000+instance*0x1000)
		var maxOffset uint32
		for off := range words {
			maxOffset = max(maxOffset, off)
		}
		for line := uint32(0); line <= maxOffset; line += 32 {
			fmt.Fprintf(&sb, " %08x:", line)
			for off := line; off < line+32 && off <= maxOffset; off += 4 {
				fmt.Fprintf(&sb, " %08x", words[off])
			}
			sb.WriteString("\n")
		}
	}
	s.mu.Unlock()
	return s.WriteFile(dev.featureDir(fid)+"/mem_dump", sb.String())
}
