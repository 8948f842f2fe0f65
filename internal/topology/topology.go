// Package topology models the CPU, core, module, die, package and NUMA node hierarchy of a
// target. Records are stored in flat tables indexed by integer ids; nothing points back up
// the hierarchy.
package topology

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// Level is a level of the hierarchy. Property scopes are expressed as levels.
type Level string

const (
	LevelCPU     Level = "CPU"
	LevelCore    Level = "core"
	LevelModule  Level = "module"
	LevelDie     Level = "die"
	LevelPackage Level = "package"
	LevelNode    Level = "node"
	LevelGlobal  Level = "global"
)

// HybridType is the core type of a CPU on hybrid platforms.
type HybridType string

const (
	HybridNone HybridType = ""
	PCore      HybridType = "P-core"
	ECore      HybridType = "E-core"
	LPECore    HybridType = "LPE-core"
)

// DieKind tells compute dies, which own CPUs, from non-compute (I/O) dies.
type DieKind int

const (
	Compute DieKind = iota
	NonCompute
)

func (k DieKind) String() string {
	if k == Compute {
		return "compute"
	}
	return "non-compute"
}

// NoNode is the node id of CPUs without memory affinity information.
const NoNode = -1

// CPUFacts is what the platform reports about one CPU. Offline CPUs carry only their id.
type CPUFacts struct {
	ID      int
	Online  bool
	Package int
	Die     int
	Core    int
	Module  int
	Node    int
	Hybrid  HybridType
}

// TPMILocation is the TPMI UFS cluster backing a die.
type TPMILocation struct {
	PCI      string
	Instance int
	Cluster  int
}

func (l TPMILocation) String() string {
	return fmt.Sprintf("%s instance %d cluster %d", l.PCI, l.Instance, l.Cluster)
}

// DieID identifies a die. Die numbers are package-relative.
type DieID struct {
	Package int
	Die     int
}

func (d DieID) String() string {
	return fmt.Sprintf("package %d die %d", d.Package, d.Die)
}

// Compare orders die ids by package, then die.
func (d DieID) Compare(o DieID) int {
	return cmp.Or(cmp.Compare(d.Package, o.Package), cmp.Compare(d.Die, o.Die))
}

// DieFacts describes a non-compute die or the TPMI locations of a compute die.
type DieFacts struct {
	ID     DieID
	Agents []string
	TPMI   []TPMILocation
}

// Facts is the raw material a topology is built from.
type Facts struct {
	CPUs []CPUFacts
	// NonComputeDies lists the dies without CPUs, usually found through TPMI.
	NonComputeDies []DieFacts
	// ComputeTPMI maps compute dies to the TPMI clusters that control them.
	ComputeTPMI map[DieID][]TPMILocation
}

// Clone returns a deep copy of the facts.
func (f Facts) Clone() Facts {
	c := Facts{
		CPUs:        slices.Clone(f.CPUs),
		ComputeTPMI: make(map[DieID][]TPMILocation, len(f.ComputeTPMI)),
	}
	for _, d := range f.NonComputeDies {
		c.NonComputeDies = append(c.NonComputeDies, DieFacts{ID: d.ID, Agents: slices.Clone(d.Agents), TPMI: slices.Clone(d.TPMI)})
	}
	for id, locs := range f.ComputeTPMI {
		c.ComputeTPMI[id] = slices.Clone(locs)
	}
	return c
}

// CPU is the topology record of one CPU.
type CPU struct {
	ID      int
	Online  bool
	Package int
	Die     int
	Core    int
	Module  int
	Node    int
	Hybrid  HybridType
}

// Die is the topology record of one die.
type Die struct {
	ID    DieID
	Kind  DieKind
	Title string
	// Agents are the TPMI UFS agent types, known for dies found through TPMI.
	Agents []string
	CPUs   []int
	TPMI   []TPMILocation
}

// Unit identifies one unit at some level. For package-relative levels (core and die) both
// fields matter; for the others ID alone identifies the unit and Package is informational
// (it is -1 for global and node units).
type Unit struct {
	Package int
	ID      int
}

// Compare orders units by package, then id.
func (u Unit) Compare(o Unit) int {
	return cmp.Or(cmp.Compare(u.Package, o.Package), cmp.Compare(u.ID, o.ID))
}

// TopologyError reports contradictory or incomplete topology facts.
type TopologyError struct {
	Msg string
}

func (e *TopologyError) Error() string {
	return "bad topology: " + e.Msg
}

func topologyErrorf(format string, args ...any) *TopologyError {
	return &TopologyError{Msg: fmt.Sprintf(format, args...)}
}

// Topology is an immutable view of the hierarchy.
type Topology struct {
	facts Facts
	cpus  []CPU
	index map[int]int
	dies  []Die
	// dieIndex maps die ids to positions in dies
	dieIndex map[DieID]int
	packages []int
}

// Build creates a topology from facts. It is deterministic: the same facts in any order
// produce the same topology.
func Build(facts Facts) (*Topology, error) {
	t := &Topology{
		facts:    facts.Clone(),
		index:    make(map[int]int),
		dieIndex: make(map[DieID]int),
	}
	cpus := slices.Clone(facts.CPUs)
	slices.SortFunc(cpus, func(a, b CPUFacts) int { return cmp.Compare(a.ID, b.ID) })

	coreModule := make(map[Unit]int)
	coreDie := make(map[Unit]int)
	modulePackage := make(map[int]int)
	for i, f := range cpus {
		if f.ID < 0 {
			return nil, topologyErrorf("negative CPU number %d", f.ID)
		}
		if i > 0 && cpus[i-1].ID == f.ID {
			return nil, topologyErrorf("CPU %d is listed twice", f.ID)
		}
		cpu := CPU{ID: f.ID, Online: f.Online, Package: -1, Die: -1, Core: -1, Module: -1, Node: NoNode}
		if f.Online {
			if f.Package < 0 || f.Die < 0 || f.Core < 0 || f.Module < 0 {
				return nil, topologyErrorf("incomplete facts for online CPU %d", f.ID)
			}
			core := Unit{f.Package, f.Core}
			if m, ok := coreModule[core]; ok && m != f.Module {
				return nil, topologyErrorf("package %d core %d is split between modules %d and %d (CPU %d)", f.Package, f.Core, m, f.Module, f.ID)
			}
			if d, ok := coreDie[core]; ok && d != f.Die {
				return nil, topologyErrorf("package %d core %d is split between dies %d and %d (CPU %d)", f.Package, f.Core, d, f.Die, f.ID)
			}
			if p, ok := modulePackage[f.Module]; ok && p != f.Package {
				return nil, topologyErrorf("module %d spans packages %d and %d (CPU %d)", f.Module, p, f.Package, f.ID)
			}
			coreModule[core] = f.Module
			coreDie[core] = f.Die
			modulePackage[f.Module] = f.Package
			cpu.Package, cpu.Die, cpu.Core, cpu.Module, cpu.Node, cpu.Hybrid = f.Package, f.Die, f.Core, f.Module, f.Node, f.Hybrid
		}
		t.index[cpu.ID] = len(t.cpus)
		t.cpus = append(t.cpus, cpu)
	}

	// compute dies
	computeCPUs := make(map[DieID][]int)
	for _, cpu := range t.cpus {
		if cpu.Online {
			id := DieID{cpu.Package, cpu.Die}
			computeCPUs[id] = append(computeCPUs[id], cpu.ID)
		}
	}
	for id := range facts.ComputeTPMI {
		if _, ok := computeCPUs[id]; !ok {
			computeCPUs[id] = nil
		}
	}
	for _, id := range slices.SortedFunc(maps.Keys(computeCPUs), DieID.Compare) {
		t.dies = append(t.dies, Die{ID: id, Kind: Compute, Title: "Compute", CPUs: computeCPUs[id], TPMI: slices.Clone(facts.ComputeTPMI[id])})
	}
	for _, d := range facts.NonComputeDies {
		if _, ok := computeCPUs[d.ID]; ok {
			return nil, topologyErrorf("non-compute %s collides with a compute die", d.ID)
		}
		if slices.ContainsFunc(t.dies, func(o Die) bool { return o.ID == d.ID }) {
			return nil, topologyErrorf("non-compute %s is listed twice", d.ID)
		}
		t.dies = append(t.dies, Die{ID: d.ID, Kind: NonCompute, Title: agentsTitle(d.Agents), Agents: slices.Clone(d.Agents), TPMI: slices.Clone(d.TPMI)})
	}
	slices.SortFunc(t.dies, func(a, b Die) int { return a.ID.Compare(b.ID) })
	for i, d := range t.dies {
		t.dieIndex[d.ID] = i
		t.packages = append(t.packages, d.ID.Package)
	}
	slices.Sort(t.packages)
	t.packages = slices.Compact(t.packages)
	return t, nil
}

// Facts returns a copy of the facts the topology was built from.
func (t *Topology) Facts() Facts {
	return t.facts.Clone()
}

// CPUs returns all CPU numbers, online or not, in ascending order.
func (t *Topology) CPUs() []int {
	ids := make([]int, len(t.cpus))
	for i, cpu := range t.cpus {
		ids[i] = cpu.ID
	}
	return ids
}

// OnlineCPUs returns the online CPU numbers in ascending order.
func (t *Topology) OnlineCPUs() []int {
	var ids []int
	for _, cpu := range t.cpus {
		if cpu.Online {
			ids = append(ids, cpu.ID)
		}
	}
	return ids
}

// OfflineCPUs returns the offline CPU numbers in ascending order.
func (t *Topology) OfflineCPUs() []int {
	var ids []int
	for _, cpu := range t.cpus {
		if !cpu.Online {
			ids = append(ids, cpu.ID)
		}
	}
	return ids
}

// CPU returns the record of cpu.
func (t *Topology) CPU(id int) (CPU, bool) {
	i, ok := t.index[id]
	if !ok {
		return CPU{}, false
	}
	return t.cpus[i], true
}

// Packages returns the package numbers in ascending order.
func (t *Topology) Packages() []int {
	return slices.Clone(t.packages)
}

// Dies returns the dies of pkg, compute and non-compute, ordered by die number.
func (t *Topology) Dies(pkg int) []Die {
	var dies []Die
	for _, d := range t.dies {
		if d.ID.Package == pkg {
			dies = append(dies, d)
		}
	}
	return dies
}

// AllDies returns every die ordered by package and die number.
func (t *Topology) AllDies() []Die {
	return slices.Clone(t.dies)
}

func (t *Topology) diesOfKind(pkg int, kind DieKind) []int {
	var ids []int
	for _, d := range t.dies {
		if d.ID.Package == pkg && d.Kind == kind {
			ids = append(ids, d.ID.Die)
		}
	}
	return ids
}

// ComputeDies returns the compute die numbers of pkg.
func (t *Topology) ComputeDies(pkg int) []int {
	return t.diesOfKind(pkg, Compute)
}

// NonComputeDies returns the non-compute die numbers of pkg.
func (t *Topology) NonComputeDies(pkg int) []int {
	return t.diesOfKind(pkg, NonCompute)
}

// Die returns the record of a die.
func (t *Topology) Die(pkg, die int) (Die, bool) {
	i, ok := t.dieIndex[DieID{pkg, die}]
	if !ok {
		return Die{}, false
	}
	return t.dies[i], true
}

// Cores returns the core numbers of pkg that have online CPUs.
func (t *Topology) Cores(pkg int) []int {
	var cores []int
	for _, cpu := range t.cpus {
		if cpu.Online && cpu.Package == pkg {
			cores = append(cores, cpu.Core)
		}
	}
	slices.Sort(cores)
	return slices.Compact(cores)
}

// Modules returns the module numbers that have online CPUs.
func (t *Topology) Modules() []int {
	var modules []int
	for _, cpu := range t.cpus {
		if cpu.Online {
			modules = append(modules, cpu.Module)
		}
	}
	slices.Sort(modules)
	return slices.Compact(modules)
}

// Nodes returns the NUMA node numbers of online CPUs.
func (t *Topology) Nodes() []int {
	var nodes []int
	for _, cpu := range t.cpus {
		if cpu.Online && cpu.Node != NoNode {
			nodes = append(nodes, cpu.Node)
		}
	}
	slices.Sort(nodes)
	return slices.Compact(nodes)
}

// HybridCPUs returns the online CPUs of the given core type.
func (t *Topology) HybridCPUs(kind HybridType) []int {
	var ids []int
	for _, cpu := range t.cpus {
		if cpu.Online && cpu.Hybrid == kind {
			ids = append(ids, cpu.ID)
		}
	}
	return ids
}

// IsHybrid reports whether any online CPU has a hybrid core type.
func (t *Topology) IsHybrid() bool {
	return slices.ContainsFunc(t.cpus, func(c CPU) bool { return c.Online && c.Hybrid != HybridNone })
}

// UnitOf returns the unit of an online cpu at level.
func (t *Topology) UnitOf(level Level, id int) (Unit, error) {
	cpu, ok := t.CPU(id)
	if !ok {
		return Unit{}, fmt.Errorf("CPU %d does not exist", id)
	}
	if !cpu.Online {
		return Unit{}, fmt.Errorf("CPU %d is offline", id)
	}
	switch level {
	case LevelCPU:
		return Unit{cpu.Package, cpu.ID}, nil
	case LevelCore:
		return Unit{cpu.Package, cpu.Core}, nil
	case LevelModule:
		return Unit{cpu.Package, cpu.Module}, nil
	case LevelDie:
		return Unit{cpu.Package, cpu.Die}, nil
	case LevelPackage:
		return Unit{cpu.Package, cpu.Package}, nil
	case LevelNode:
		return Unit{-1, cpu.Node}, nil
	case LevelGlobal:
		return Unit{-1, 0}, nil
	}
	return Unit{}, fmt.Errorf("unknown topology level %q", level)
}

// CPUsOf returns the online CPUs of a unit at level, in ascending order.
func (t *Topology) CPUsOf(level Level, unit Unit) []int {
	var ids []int
	for _, cpu := range t.cpus {
		if !cpu.Online {
			continue
		}
		u, err := t.UnitOf(level, cpu.ID)
		if err != nil {
			return nil
		}
		if u.ID == unit.ID && (!packageRelative(level) || u.Package == unit.Package) {
			ids = append(ids, cpu.ID)
		}
	}
	return ids
}

// Units returns the units at level that have online CPUs, ordered by package and id. For
// LevelDie only compute dies are returned, see AllDies for the rest.
func (t *Topology) Units(level Level) []Unit {
	seen := make(map[Unit]bool)
	var units []Unit
	for _, cpu := range t.cpus {
		if !cpu.Online {
			continue
		}
		u, err := t.UnitOf(level, cpu.ID)
		if err != nil || seen[u] {
			continue
		}
		seen[u] = true
		units = append(units, u)
	}
	slices.SortFunc(units, Unit.Compare)
	return units
}

func packageRelative(level Level) bool {
	return level == LevelCore || level == LevelDie
}

// Siblings returns the online CPUs that share the core or module of cpu, in ascending order.
// The position of a CPU in the list is its sibling index.
func (t *Topology) Siblings(id int, kind Level) ([]int, error) {
	if kind != LevelCore && kind != LevelModule {
		return nil, fmt.Errorf("siblings are defined for cores and modules, not %ss", kind)
	}
	unit, err := t.UnitOf(kind, id)
	if err != nil {
		return nil, err
	}
	return t.CPUsOf(kind, unit), nil
}

// SetOnline returns a new topology with cpu brought online or offline. Offline CPUs lose
// their facts; a CPU brought online needs freshly probed facts.
func (t *Topology) SetOnline(id int, online bool, probed *CPUFacts) (*Topology, error) {
	facts := t.Facts()
	i := slices.IndexFunc(facts.CPUs, func(f CPUFacts) bool { return f.ID == id })
	if i < 0 {
		return nil, fmt.Errorf("CPU %d does not exist", id)
	}
	if online {
		if probed == nil || probed.ID != id || !probed.Online {
			return nil, fmt.Errorf("no online facts for CPU %d", id)
		}
		facts.CPUs[i] = *probed
	} else {
		facts.CPUs[i] = CPUFacts{ID: id}
	}
	return Build(facts)
}
