package emul

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"k8s.io/utils/cpuset"
)

const sysCPU = "/sys/devices/system/cpu"

// CPU describes one emulated CPU.
type CPU struct {
	ID      int
	Package int
	Die     int
	Core    int
	// Module is written to cluster_id, -1 leaves the file out.
	Module  int
	Node    int
	Offline bool
	// Hybrid is "core", "atom" or empty.
	Hybrid string
	NoL3   bool
}

// Grid lays out CPUs the way Xeons enumerate them: the first thread of every core of every
// package comes first, then the second threads. Core ids are package-relative and every core
// is a module of its own.
func Grid(packages, diesPerPackage, coresPerDie, threads int) []CPU {
	perPackage := diesPerPackage * coresPerDie
	var cpus []CPU
	for range threads {
		for pkg := range packages {
			for die := range diesPerPackage {
				for core := range coresPerDie {
					coreID := die*coresPerDie + core
					cpus = append(cpus, CPU{
						ID:      len(cpus),
						Package: pkg,
						Die:     die,
						Core:    coreID,
						Module:  pkg*perPackage + coreID,
						Node:    pkg,
					})
				}
			}
		}
	}
	return cpus
}

func cpuDir(id int) string {
	return path.Join(sysCPU, fmt.Sprintf("cpu%d", id))
}

// AddCPUs writes the sysfs topology of cpus: the present and online lists, per-CPU topology
// directories, NUMA node lists, hybrid lists and the online attributes used for hotplug.
func (s *System) AddCPUs(cpus []CPU) error {
	s.mu.Lock()
	s.cpus = slices.Clone(cpus)
	s.mu.Unlock()

	var present []int
	nodes := make(map[int][]int)
	var pcores, ecores []int
	for _, cpu := range cpus {
		present = append(present, cpu.ID)
		dir := cpuDir(cpu.ID)
		if cpu.ID != 0 {
			if err := s.WriteFile(path.Join(dir, "online"), onlineValue(!cpu.Offline)); err != nil {
				return err
			}
			s.target.OnWrite(path.Join(dir, "online"), s.hotplugHook(cpu.ID))
		}
		if cpu.Offline {
			continue
		}
		if err := s.writeTopology(cpu); err != nil {
			return err
		}
		nodes[cpu.Node] = append(nodes[cpu.Node], cpu.ID)
		switch cpu.Hybrid {
		case "core":
			pcores = append(pcores, cpu.ID)
		case "atom":
			ecores = append(ecores, cpu.ID)
		}
	}
	files := map[string]string{
		path.Join(sysCPU, "present"):  cpuset.New(present...).String(),
		path.Join(sysCPU, "possible"): cpuset.New(present...).String(),
	}
	for node, ids := range nodes {
		if node < 0 {
			continue
		}
		files[fmt.Sprintf("/sys/devices/system/node/node%d/cpulist", node)] = cpuset.New(ids...).String()
	}
	if len(pcores) > 0 || len(ecores) > 0 {
		files["/sys/devices/cpu_core/cpus"] = cpuset.New(pcores...).String()
		files["/sys/devices/cpu_atom/cpus"] = cpuset.New(ecores...).String()
	}
	if err := s.WriteFiles(files); err != nil {
		return err
	}
	return s.writeOnline()
}

func onlineValue(online bool) string {
	if online {
		return "1"
	}
	return "0"
}

func (s *System) writeTopology(cpu CPU) error {
	dir := path.Join(cpuDir(cpu.ID), "topology")
	files := map[string]string{
		path.Join(dir, "physical_package_id"): fmt.Sprint(cpu.Package),
		path.Join(dir, "die_id"):              fmt.Sprint(cpu.Die),
		path.Join(dir, "core_id"):             fmt.Sprint(cpu.Core),
	}
	if cpu.Module >= 0 {
		files[path.Join(dir, "cluster_id")] = fmt.Sprint(cpu.Module)
	}
	if !cpu.NoL3 {
		files[path.Join(cpuDir(cpu.ID), "cache", "index3", "level")] = "3"
	}
	return s.WriteFiles(files)
}

func (s *System) writeOnline() error {
	s.mu.Lock()
	var online []int
	for _, cpu := range s.cpus {
		if !cpu.Offline {
			online = append(online, cpu.ID)
		}
	}
	s.mu.Unlock()
	return s.WriteFile(path.Join(sysCPU, "online"), cpuset.New(online...).String())
}

// hotplugHook emulates writes to cpuN/online: the CPU list and topology directory follow.
func (s *System) hotplugHook(id int) func(int64, []byte) error {
	return func(_ int64, data []byte) error {
		var online bool
		switch strings.TrimSpace(string(data)) {
		case "1":
			online = true
		case "0":
		default:
			return fmt.Errorf("invalid value %q for cpu%d/online", data, id)
		}
		s.mu.Lock()
		i := slices.IndexFunc(s.cpus, func(c CPU) bool { return c.ID == id })
		s.cpus[i].Offline = !online
		cpu := s.cpus[i]
		s.mu.Unlock()
		if err := s.WriteFile(path.Join(cpuDir(id), "online"), onlineValue(online)); err != nil {
			return err
		}
		if online {
			if err := s.writeTopology(cpu); err != nil {
				return err
			}
		} else if err := s.RemoveAll(path.Join(cpuDir(id), "topology")); err != nil {
			return err
		}
		return s.writeOnline()
	}
}

// CPUInfo writes a /proc/cpuinfo for the emulated CPUs with the given family and model.
func (s *System) CPUInfo(family, model int, modelName string, flags ...string) error {
	s.mu.Lock()
	cpus := slices.Clone(s.cpus)
	s.mu.Unlock()
	var sb strings.Builder
	for _, cpu := range cpus {
		if cpu.Offline {
			continue
		}
		fmt.Fprintf(&sb, "processor\t: %d\n", cpu.ID)
		fmt.Fprintf(&sb, "vendor_id\t: GenuineIntel\n")
		fmt.Fprintf(&sb, "cpu family\t: %d\n", family)
		fmt.Fprintf(&sb, "model\t\t: %d\n", model)
		fmt.Fprintf(&sb, "model name\t: %s\n", modelName)
		fmt.Fprintf(&sb, "physical id\t: %d\n", cpu.Package)
		fmt.Fprintf(&sb, "core id\t\t: %d\n", cpu.Core)
		fmt.Fprintf(&sb, "flags\t\t: %s\n\n", strings.Join(flags, " "))
	}
	return s.WriteFile("/proc/cpuinfo", sb.String())
}
