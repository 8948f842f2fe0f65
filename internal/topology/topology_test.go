package topology

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/backend"
	"powerconf/internal/cpus"
	"powerconf/internal/emul"
	"powerconf/internal/tpmi"
)

// gridFacts returns online facts for Grid-style enumeration.
func gridFacts(packages, coresPerPackage, threads int) Facts {
	var facts Facts
	for range threads {
		for pkg := range packages {
			for core := range coresPerPackage {
				facts.CPUs = append(facts.CPUs, CPUFacts{
					ID:      len(facts.CPUs),
					Online:  true,
					Package: pkg,
					Core:    core,
					Module:  pkg*coresPerPackage + core,
					Node:    pkg,
				})
			}
		}
	}
	return facts
}

func TestBuild(t *testing.T) {
	topo, err := Build(gridFacts(2, 4, 2))
	require.NoError(t, err)

	assert.Equal(t, 16, len(topo.CPUs()))
	assert.Equal(t, []int{0, 1}, topo.Packages())
	assert.Equal(t, []int{0, 1, 2, 3}, topo.Cores(1))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, topo.Modules())
	assert.Equal(t, []int{0, 1}, topo.Nodes())
	assert.Equal(t, []int{0}, topo.ComputeDies(1))
	assert.Empty(t, topo.NonComputeDies(1))

	cpu, ok := topo.CPU(13)
	require.True(t, ok)
	assert.Equal(t, CPU{ID: 13, Online: true, Package: 1, Die: 0, Core: 1, Module: 5, Node: 1}, cpu)

	assert.Equal(t, []int{1, 9}, topo.CPUsOf(LevelCore, Unit{Package: 0, ID: 1}))
	assert.Equal(t, []int{5, 13}, topo.CPUsOf(LevelCore, Unit{Package: 1, ID: 1}))
	assert.Equal(t, []int{4, 5, 6, 7, 12, 13, 14, 15}, topo.CPUsOf(LevelPackage, Unit{Package: 1, ID: 1}))
	assert.Len(t, topo.CPUsOf(LevelGlobal, Unit{Package: -1, ID: 0}), 16)
	assert.Len(t, topo.Units(LevelCore), 8)

	siblings, err := topo.Siblings(12, LevelCore)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 12}, siblings)
	_, err = topo.Siblings(12, LevelPackage)
	assert.Error(t, err)
}

func TestBuildIsDeterministic(t *testing.T) {
	facts := gridFacts(2, 2, 2)
	reversed := facts.Clone()
	for i, j := 0, len(reversed.CPUs)-1; i < j; i, j = i+1, j-1 {
		reversed.CPUs[i], reversed.CPUs[j] = reversed.CPUs[j], reversed.CPUs[i]
	}
	a, err := Build(facts)
	require.NoError(t, err)
	b, err := Build(reversed)
	require.NoError(t, err)
	assert.Equal(t, a.cpus, b.cpus)
	assert.Equal(t, a.dies, b.dies)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(f *Facts)
	}{
		{"duplicate CPU", func(f *Facts) { f.CPUs[1].ID = 0 }},
		{"core split between modules", func(f *Facts) { f.CPUs[4].Module = 7 }},
		{"core split between dies", func(f *Facts) { f.CPUs[4].Die = 1 }},
		{"module spans packages", func(f *Facts) { f.CPUs[2].Module = 0; f.CPUs[6].Module = 0 }},
		{"incomplete online CPU", func(f *Facts) { f.CPUs[3].Package = -1 }},
		{"non-compute collides", func(f *Facts) {
			f.NonComputeDies = []DieFacts{{ID: DieID{Package: 0, Die: 0}, Agents: []string{tpmi.AgentIO}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := gridFacts(2, 2, 2)
			tt.modify(&facts)
			_, err := Build(facts)
			var topoErr *TopologyError
			assert.ErrorAs(t, err, &topoErr)
		})
	}
}

func TestOfflineCPU(t *testing.T) {
	facts := gridFacts(1, 2, 2)
	facts.CPUs[3] = CPUFacts{ID: 3}
	topo, err := Build(facts)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, topo.OnlineCPUs())
	assert.Equal(t, []int{3}, topo.OfflineCPUs())
	siblings, err := topo.Siblings(1, LevelCore)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, siblings)
	_, err = topo.UnitOf(LevelCore, 3)
	assert.Error(t, err)
}

func TestSetOnline(t *testing.T) {
	topo, err := Build(gridFacts(1, 2, 2))
	require.NoError(t, err)
	offline, err := topo.SetOnline(3, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, offline.OnlineCPUs())
	// the original view is unchanged
	assert.Equal(t, []int{0, 1, 2, 3}, topo.OnlineCPUs())

	_, err = offline.SetOnline(3, true, nil)
	assert.Error(t, err)
	online, err := offline.SetOnline(3, true, &CPUFacts{ID: 3, Online: true, Package: 0, Core: 1, Module: 1, Node: 0})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, online.OnlineCPUs())
	_, err = topo.SetOnline(9, false, nil)
	assert.Error(t, err)
}

func TestHybrid(t *testing.T) {
	facts := Facts{CPUs: []CPUFacts{
		{ID: 0, Online: true, Core: 0, Module: 0, Hybrid: PCore},
		{ID: 1, Online: true, Core: 0, Module: 0, Hybrid: PCore},
		{ID: 2, Online: true, Core: 8, Module: 1, Hybrid: ECore},
		{ID: 3, Online: true, Core: 9, Module: 1, Hybrid: ECore},
		{ID: 4, Online: true, Core: 16, Module: 2, Hybrid: LPECore},
	}}
	topo, err := Build(facts)
	require.NoError(t, err)
	assert.True(t, topo.IsHybrid())
	assert.Equal(t, []int{2, 3}, topo.HybridCPUs(ECore))
	assert.Equal(t, []int{4}, topo.HybridCPUs(LPECore))
	siblings, err := topo.Siblings(3, LevelModule)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, siblings)
}

type fakeMSR struct {
	dies map[int]uint64
	err  error
}

func (f fakeMSR) ReadBits(cpu int, addr uint32, bits backend.Bits) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if addr != msrPMLogicalID || bits != domainBits {
		return 0, fmt.Errorf("unexpected MSR %#x bits %s", addr, bits)
	}
	return f.dies[cpu], nil
}

func TestResolveComputeDies(t *testing.T) {
	gnr := cpus.IntelVFM(cpus.ModelGraniteRapidsX)
	facts := gridFacts(1, 4, 1)

	resolved, err := ResolveComputeDies(facts, gnr, fakeMSR{dies: map[int]uint64{0: 0, 1: 0, 2: 1, 3: 1}})
	require.NoError(t, err)
	topo, err := Build(resolved)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, topo.ComputeDies(0))
	assert.Equal(t, []int{2, 3}, topo.CPUsOf(LevelDie, Unit{Package: 0, ID: 1}))

	resolved, err = ResolveComputeDies(facts, gnr, fakeMSR{err: fmt.Errorf("msr: %w", backend.ErrNotSupported)})
	require.NoError(t, err)
	topo, err = Build(resolved)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, topo.ComputeDies(0))

	_, err = ResolveComputeDies(facts, gnr, fakeMSR{err: errors.New("permission denied")})
	assert.Error(t, err)

	// CPUID platforms keep the probed die ids
	facts.CPUs[3].Die = 1
	facts.CPUs[2].Die = 1
	resolved, err = ResolveComputeDies(facts, cpus.IntelVFM(cpus.ModelSapphireRapids), fakeMSR{err: errors.New("not called")})
	require.NoError(t, err)
	assert.Equal(t, facts.CPUs, resolved.CPUs)
}

func TestResolveNonComputeDies(t *testing.T) {
	facts := gridFacts(2, 4, 1)
	for i := range facts.CPUs {
		facts.CPUs[i].Die = facts.CPUs[i].Core / 2
	}
	units := []tpmi.UFSUnit{
		{Package: 0, PCI: "0000:00:03.1", Instance: 0, Agents: []string{tpmi.AgentCore, tpmi.AgentCache}, DieMap: tpmi.DieMapInstance},
		{Package: 0, PCI: "0000:00:03.1", Instance: 1, Agents: []string{tpmi.AgentCore}, DieMap: tpmi.DieMapInstance},
		{Package: 0, PCI: "0000:00:03.1", Instance: 2, Cluster: 0, Agents: []string{tpmi.AgentIO}, DieMap: tpmi.DieMapInstance},
		{Package: 0, PCI: "0000:00:03.1", Instance: 2, Cluster: 1, Agents: []string{tpmi.AgentMemory}, DieMap: tpmi.DieMapInstance},
		{Package: 0, PCI: "0000:00:03.1", Instance: 3, Agents: []string{tpmi.AgentIO}, DieMap: tpmi.DieMapInstance},
		{Package: 1, PCI: "0000:80:03.1", Instance: 0, Agents: []string{tpmi.AgentCore}, DieMap: tpmi.DieMapInstance},
		{Package: 1, PCI: "0000:80:03.1", Instance: 1, Agents: []string{tpmi.AgentCore}, DieMap: tpmi.DieMapInstance},
		{Package: 1, PCI: "0000:80:03.1", Instance: 2, Agents: []string{tpmi.AgentIO, tpmi.AgentMemory, tpmi.AgentCache}, DieMap: tpmi.DieMapInstance},
	}
	resolved, err := ResolveNonComputeDies(facts, units)
	require.NoError(t, err)
	topo, err := Build(resolved)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, topo.ComputeDies(0))
	assert.Equal(t, []int{2, 3}, topo.NonComputeDies(0))
	assert.Equal(t, []int{2}, topo.NonComputeDies(1))

	die, ok := topo.Die(0, 2)
	require.True(t, ok)
	assert.Equal(t, NonCompute, die.Kind)
	assert.Equal(t, "I/O and memory", die.Title)
	assert.Len(t, die.TPMI, 2)
	assert.Empty(t, die.CPUs)
	die, _ = topo.Die(1, 2)
	assert.Equal(t, "Cache, I/O, and memory", die.Title)

	die, ok = topo.Die(0, 1)
	require.True(t, ok)
	assert.Equal(t, Compute, die.Kind)
	assert.Equal(t, []TPMILocation{{PCI: "0000:00:03.1", Instance: 1}}, die.TPMI)
	assert.Equal(t, []int{2, 3}, die.CPUs)

	// invariant: non-compute ids never collide with compute ids
	for _, pkg := range topo.Packages() {
		for _, id := range topo.NonComputeDies(pkg) {
			assert.NotContains(t, topo.ComputeDies(pkg), id)
		}
	}
}

func TestResolveNonComputeDiesPerCluster(t *testing.T) {
	facts := gridFacts(1, 2, 1)
	units := []tpmi.UFSUnit{
		{Package: 0, PCI: "0000:00:03.1", Instance: 0, Cluster: 0, Agents: []string{tpmi.AgentCore}, DieMap: tpmi.DieMapInstanceCluster},
		{Package: 0, PCI: "0000:00:03.1", Instance: 0, Cluster: 1, Agents: []string{tpmi.AgentIO}, DieMap: tpmi.DieMapInstanceCluster},
		{Package: 0, PCI: "0000:00:03.1", Instance: 0, Cluster: 2, Agents: []string{tpmi.AgentIO}, DieMap: tpmi.DieMapInstanceCluster},
	}
	resolved, err := ResolveNonComputeDies(facts, units)
	require.NoError(t, err)
	topo, err := Build(resolved)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, topo.NonComputeDies(0))

	units[0].DieMap = "bogus"
	_, err = ResolveNonComputeDies(facts, units)
	var topoErr *TopologyError
	assert.ErrorAs(t, err, &topoErr)
}

func TestProbe(t *testing.T) {
	sys := emul.New(t.TempDir())
	layout := emul.Grid(2, 2, 2, 2)
	layout[15].Offline = true
	require.NoError(t, sys.AddCPUs(layout))

	facts, err := Probe(sys.Target())
	require.NoError(t, err)
	topo, err := Build(facts)
	require.NoError(t, err)
	assert.Len(t, topo.CPUs(), 16)
	assert.Equal(t, 15, len(topo.OnlineCPUs()))
	assert.Equal(t, []int{0, 1}, topo.ComputeDies(1))
	assert.Equal(t, []int{0, 1}, topo.Nodes())
	cpu, ok := topo.CPU(9)
	require.True(t, ok)
	assert.Equal(t, CPU{ID: 9, Online: true, Package: 0, Die: 0, Core: 1, Module: 1, Node: 0}, cpu)
	assert.False(t, topo.IsHybrid())
}

func TestProbeHybrid(t *testing.T) {
	sys := emul.New(t.TempDir())
	require.NoError(t, sys.AddCPUs([]emul.CPU{
		{ID: 0, Core: 0, Module: -1, Hybrid: "core"},
		{ID: 1, Core: 0, Module: -1, Hybrid: "core"},
		{ID: 2, Core: 8, Module: -1, Hybrid: "atom"},
		{ID: 3, Core: 16, Module: -1, Hybrid: "atom", NoL3: true},
	}))
	facts, err := Probe(sys.Target())
	require.NoError(t, err)
	topo, err := Build(facts)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, topo.HybridCPUs(PCore))
	assert.Equal(t, []int{2}, topo.HybridCPUs(ECore))
	assert.Equal(t, []int{3}, topo.HybridCPUs(LPECore))
	// without cluster ids every core is a module
	assert.Equal(t, []int{0, 1, 2}, topo.Modules())
}
