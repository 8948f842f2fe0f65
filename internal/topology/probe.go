package topology

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"

	"powerconf/internal/target"
)

const (
	sysCPU      = "/sys/devices/system/cpu"
	sysNode     = "/sys/devices/system/node"
	sysCPUCore  = "/sys/devices/cpu_core/cpus"
	sysCPUAtom  = "/sys/devices/cpu_atom/cpus"
	topologyDir = "topology"
)

var nodeDirRe = regexp.MustCompile(`^node(\d+)$`)

func readString(t target.Target, p string) (string, error) {
	data, err := t.ReadFile(p)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readInt(t target.Target, p string) (int, error) {
	s, err := readString(t, p)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q in %s: %w", s, p, err)
	}
	return n, nil
}

// ReadCPUList reads a kernel CPU list file such as /sys/devices/system/cpu/online.
func ReadCPUList(t target.Target, p string) ([]int, error) {
	s, err := readString(t, p)
	if err != nil {
		return nil, err
	}
	set, err := cpuset.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("bad CPU list %q in %s: %w", s, p, err)
	}
	return set.List(), nil
}

// Probe reads the topology facts of the target from sysfs. Compute dies come from die_id;
// ResolveComputeDies and ResolveNonComputeDies complete the facts on platforms that need it.
func Probe(t target.Target) (Facts, error) {
	present, err := ReadCPUList(t, path.Join(sysCPU, "present"))
	if err != nil {
		return Facts{}, fmt.Errorf("failed to read the present CPUs of %s: %w", t.GetName(), err)
	}
	online, err := ReadCPUList(t, path.Join(sysCPU, "online"))
	if err != nil {
		return Facts{}, fmt.Errorf("failed to read the online CPUs of %s: %w", t.GetName(), err)
	}
	onlineSet := cpuset.New(online...)
	nodes, err := probeNodes(t)
	if err != nil {
		return Facts{}, err
	}
	hybrid, err := probeHybrid(t)
	if err != nil {
		return Facts{}, err
	}

	var facts Facts
	for _, id := range present {
		if !onlineSet.Contains(id) {
			facts.CPUs = append(facts.CPUs, CPUFacts{ID: id})
			continue
		}
		f, err := ProbeCPU(t, id)
		if err != nil {
			return Facts{}, err
		}
		if node, ok := nodes[id]; ok {
			f.Node = node
		}
		if kind, ok := hybrid[id]; ok {
			f.Hybrid = kind
		}
		facts.CPUs = append(facts.CPUs, f)
	}
	assignModules(facts.CPUs)
	slog.Debug("probed topology", slog.Int("present", len(present)), slog.Int("online", len(online)))
	return facts, nil
}

// ProbeCPU reads the topology facts of one online CPU. The node and hybrid type are left
// unset (NoNode, HybridNone) unless they are found in the CPU's own directory.
func ProbeCPU(t target.Target, id int) (CPUFacts, error) {
	dir := path.Join(sysCPU, fmt.Sprintf("cpu%d", id), topologyDir)
	f := CPUFacts{ID: id, Online: true, Node: NoNode, Module: -1}
	var err error
	if f.Package, err = readInt(t, path.Join(dir, "physical_package_id")); err != nil {
		return CPUFacts{}, &TopologyError{Msg: fmt.Sprintf("no package for online CPU %d: %v", id, err)}
	}
	if f.Core, err = readInt(t, path.Join(dir, "core_id")); err != nil {
		return CPUFacts{}, &TopologyError{Msg: fmt.Sprintf("no core for online CPU %d: %v", id, err)}
	}
	f.Die, err = readInt(t, path.Join(dir, "die_id"))
	if errors.Is(err, fs.ErrNotExist) {
		f.Die, err = 0, nil
	}
	if err != nil {
		return CPUFacts{}, err
	}
	f.Module, err = readInt(t, path.Join(dir, "cluster_id"))
	if errors.Is(err, fs.ErrNotExist) {
		f.Module, err = -1, nil
	}
	if err != nil {
		return CPUFacts{}, err
	}
	nodes, err := t.ListDirectory(path.Join(sysCPU, fmt.Sprintf("cpu%d", id)))
	if err == nil {
		for _, name := range nodes {
			if m := nodeDirRe.FindStringSubmatch(name); m != nil {
				f.Node, _ = strconv.Atoi(m[1])
				break
			}
		}
	}
	return f, nil
}

// assignModules numbers the modules of CPUs whose cluster id is unknown: every core becomes
// a module of its own, numbered after the highest reported module.
func assignModules(cpus []CPUFacts) {
	next := 0
	for _, f := range cpus {
		if f.Online && f.Module >= next {
			next = f.Module + 1
		}
	}
	assigned := make(map[Unit]int)
	for i := range cpus {
		f := &cpus[i]
		if !f.Online || f.Module >= 0 {
			continue
		}
		core := Unit{f.Package, f.Core}
		m, ok := assigned[core]
		if !ok {
			m = next
			next++
			assigned[core] = m
		}
		f.Module = m
	}
}

func probeNodes(t target.Target) (map[int]int, error) {
	nodes := make(map[int]int)
	entries, err := t.ListDirectory(sysNode)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nodes, nil
		}
		return nil, fmt.Errorf("failed to list NUMA nodes: %w", err)
	}
	for _, entry := range entries {
		m := nodeDirRe.FindStringSubmatch(entry)
		if m == nil {
			continue
		}
		node, _ := strconv.Atoi(m[1])
		ids, err := ReadCPUList(t, path.Join(sysNode, entry, "cpulist"))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			nodes[id] = node
		}
	}
	return nodes, nil
}

// probeHybrid classifies CPUs on hybrid platforms. E-cores without an L3 cache are LPE-cores.
func probeHybrid(t target.Target) (map[int]HybridType, error) {
	types := make(map[int]HybridType)
	pcores, err := ReadCPUList(t, sysCPUCore)
	if errors.Is(err, fs.ErrNotExist) {
		return types, nil
	}
	if err != nil {
		return nil, err
	}
	ecores, err := ReadCPUList(t, sysCPUAtom)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, id := range pcores {
		types[id] = PCore
	}
	for _, id := range ecores {
		types[id] = ECore
		l3, err := t.Exists(path.Join(sysCPU, fmt.Sprintf("cpu%d", id), "cache", "index3"))
		if err == nil && !l3 {
			types[id] = LPECore
		}
	}
	return types, nil
}
