package cpus

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	procinfo "github.com/c9s/goprocinfo/linux"

	"powerconf/internal/target"
)

const pathCPUInfo = "/proc/cpuinfo"

// Platform holds what was learned about the processor of a target.
type Platform struct {
	VFM       VFM
	Vendor    string
	ModelName string
	Flags     []string
	// CPU is the model table entry, zero when the model is not in the table.
	CPU   CPU
	Known bool
}

// HasFlag reports whether the first processor in /proc/cpuinfo lists flag.
func (p Platform) HasFlag(flag string) bool {
	return slices.Contains(p.Flags, flag)
}

// Description returns a short human-readable platform description.
func (p Platform) Description() string {
	if p.Known {
		return fmt.Sprintf("%s (%s, VFM %s)", p.CPU.Codename, p.CPU.Name, p.VFM)
	}
	return fmt.Sprintf("%s (VFM %s)", p.ModelName, p.VFM)
}

// Probe pulls /proc/cpuinfo from the target into tempDir and derives the platform from it.
func Probe(t target.Target, tempDir string) (Platform, error) {
	if err := t.PullFile(pathCPUInfo, tempDir); err != nil {
		return Platform{}, fmt.Errorf("failed to retrieve %s from %s: %w", pathCPUInfo, t.GetName(), err)
	}
	localPath := filepath.Join(tempDir, filepath.Base(pathCPUInfo))
	defer os.Remove(localPath) // nolint:errcheck
	return parseCPUInfoFile(localPath)
}

func parseCPUInfoFile(path string) (Platform, error) {
	info, err := procinfo.ReadCPUInfo(path)
	if err != nil {
		return Platform{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(info.Processors) == 0 {
		return Platform{}, fmt.Errorf("no processors listed in %s", path)
	}
	content, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return Platform{}, err
	}
	// goprocinfo does not parse the family line
	family, err := parseFamily(content)
	if err != nil {
		return Platform{}, err
	}
	proc := info.Processors[0]
	vendor := VendorIntel
	if proc.VendorId == "AuthenticAMD" {
		vendor = VendorAMD
	} else if proc.VendorId != IntelVendor {
		return Platform{}, fmt.Errorf("unsupported CPU vendor %q", proc.VendorId)
	}
	platform := Platform{
		VFM:       MakeVFM(vendor, family, int(proc.Model)),
		Vendor:    proc.VendorId,
		ModelName: proc.ModelName,
		Flags:     proc.Flags,
	}
	if cpu, err := GetCPU(platform.VFM); err == nil {
		platform.CPU = cpu
		platform.Known = true
	} else {
		slog.Warn("unknown CPU model, platform-specific settings will not be available", slog.String("vfm", platform.VFM.String()), slog.String("model name", proc.ModelName))
	}
	return platform, nil
}

func parseFamily(content []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(key) != "cpu family" {
			continue
		}
		family, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("invalid cpu family %q: %w", value, err)
		}
		return family, nil
	}
	return 0, fmt.Errorf("cpu family not found in cpuinfo")
}
