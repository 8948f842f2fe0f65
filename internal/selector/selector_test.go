package selector

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/topology"
	"powerconf/internal/tpmi"
)

// buildTopology returns packages x coresPerPackage x threads CPUs enumerated Xeon style, with
// two compute dies per package and one non-compute die.
func buildTopology(t *testing.T, packages, coresPerPackage, threads int) *topology.Topology {
	t.Helper()
	var facts topology.Facts
	for range threads {
		for pkg := range packages {
			for core := range coresPerPackage {
				facts.CPUs = append(facts.CPUs, topology.CPUFacts{
					ID:      len(facts.CPUs),
					Online:  true,
					Package: pkg,
					Die:     core * 2 / coresPerPackage,
					Core:    core,
					Module:  pkg*coresPerPackage + core,
					Node:    pkg,
				})
			}
		}
	}
	for pkg := range packages {
		facts.NonComputeDies = append(facts.NonComputeDies, topology.DieFacts{
			ID:     topology.DieID{Package: pkg, Die: 2},
			Agents: []string{tpmi.AgentIO},
		})
	}
	topo, err := topology.Build(facts)
	require.NoError(t, err)
	return topo
}

func TestExpand(t *testing.T) {
	single := buildTopology(t, 1, 4, 2)
	dual := buildTopology(t, 2, 4, 2)

	tests := []struct {
		name     string
		topo     *topology.Topology
		sel      Selector
		cpus     []int
		dies     []topology.DieID
		packages []int
	}{
		{
			name:     "cpu list",
			topo:     single,
			sel:      Selector{CPUs: "1-4,7"},
			cpus:     []int{1, 2, 3, 4, 7},
			dies:     []topology.DieID{{Package: 0, Die: 0}, {Package: 0, Die: 1}},
			packages: []int{0},
		},
		{
			name:     "duplicates collapse",
			topo:     single,
			sel:      Selector{CPUs: "1,1,0-1"},
			cpus:     []int{0, 1},
			dies:     []topology.DieID{{Package: 0, Die: 0}},
			packages: []int{0},
		},
		{
			name:     "nothing selects everything",
			topo:     single,
			sel:      Selector{},
			cpus:     []int{0, 1, 2, 3, 4, 5, 6, 7},
			dies:     []topology.DieID{{Package: 0, Die: 0}, {Package: 0, Die: 1}, {Package: 0, Die: 2}},
			packages: []int{0},
		},
		{
			name:     "cores with packages",
			topo:     dual,
			sel:      Selector{Cores: "0,3", Packages: "1"},
			cpus:     []int{4, 7, 12, 15},
			dies:     []topology.DieID{{Package: 1, Die: 0}, {Package: 1, Die: 1}},
			packages: []int{1},
		},
		{
			name:     "cores without packages on a single package system",
			topo:     single,
			sel:      Selector{Cores: "1"},
			cpus:     []int{1, 5},
			dies:     []topology.DieID{{Package: 0, Die: 0}},
			packages: []int{0},
		},
		{
			name:     "packages alone",
			topo:     dual,
			sel:      Selector{Packages: "1"},
			cpus:     []int{4, 5, 6, 7, 12, 13, 14, 15},
			dies:     []topology.DieID{{Package: 1, Die: 0}, {Package: 1, Die: 1}, {Package: 1, Die: 2}},
			packages: []int{1},
		},
		{
			name:     "cpus and packages",
			topo:     dual,
			sel:      Selector{CPUs: "0", Packages: "1"},
			cpus:     []int{0, 4, 5, 6, 7, 12, 13, 14, 15},
			dies:     []topology.DieID{{Package: 0, Die: 0}, {Package: 1, Die: 0}, {Package: 1, Die: 1}, {Package: 1, Die: 2}},
			packages: []int{0, 1},
		},
		{
			name:     "modules and packages",
			topo:     dual,
			sel:      Selector{Modules: "0", Packages: "1"},
			cpus:     []int{0, 4, 5, 6, 7, 8, 12, 13, 14, 15},
			dies:     []topology.DieID{{Package: 0, Die: 0}, {Package: 1, Die: 0}, {Package: 1, Die: 1}, {Package: 1, Die: 2}},
			packages: []int{0, 1},
		},
		{
			name:     "non-compute die",
			topo:     dual,
			sel:      Selector{Dies: "2", Packages: "0"},
			cpus:     []int{},
			dies:     []topology.DieID{{Package: 0, Die: 2}},
			packages: []int{0},
		},
		{
			name: "all dies",
			topo: dual,
			sel:  Selector{Dies: "all"},
			cpus: []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
			dies: []topology.DieID{
				{Package: 0, Die: 0}, {Package: 0, Die: 1}, {Package: 0, Die: 2},
				{Package: 1, Die: 0}, {Package: 1, Die: 1}, {Package: 1, Die: 2},
			},
			packages: []int{0, 1},
		},
		{
			name:     "modules",
			topo:     dual,
			sel:      Selector{Modules: "5"},
			cpus:     []int{5, 13},
			dies:     []topology.DieID{{Package: 1, Die: 0}},
			packages: []int{1},
		},
		{
			name:     "core siblings",
			topo:     single,
			sel:      Selector{CoreSiblings: "1"},
			cpus:     []int{4, 5, 6, 7},
			dies:     []topology.DieID{{Package: 0, Die: 0}, {Package: 0, Die: 1}, {Package: 0, Die: 2}},
			packages: []int{0},
		},
		{
			name:     "core siblings of a package",
			topo:     dual,
			sel:      Selector{Packages: "0", CoreSiblings: "0"},
			cpus:     []int{0, 1, 2, 3},
			dies:     []topology.DieID{{Package: 0, Die: 0}, {Package: 0, Die: 1}, {Package: 0, Die: 2}},
			packages: []int{0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Expand(tt.sel, tt.topo)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.cpus, sel.CPUs)
			assert.Equal(t, tt.dies, sel.Dies)
			assert.Equal(t, tt.packages, sel.Packages)
		})
	}
}

func TestExpandErrors(t *testing.T) {
	dual := buildTopology(t, 2, 4, 2)
	tests := []struct {
		name string
		sel  Selector
	}{
		{"cores need packages", Selector{Cores: "0,4"}},
		{"dies need packages", Selector{Dies: "1"}},
		{"unknown CPU", Selector{CPUs: "99"}},
		{"unknown core", Selector{Cores: "4", Packages: "1"}},
		{"unknown package", Selector{Packages: "2"}},
		{"unknown die", Selector{Dies: "5", Packages: "0"}},
		{"unknown module", Selector{Modules: "42"}},
		{"bad range", Selector{CPUs: "4-1"}},
		{"garbage", Selector{CPUs: "x"}},
		{"sibling index out of range", Selector{CoreSiblings: "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.sel, dual)
			var selErr *SelectionError
			require.ErrorAs(t, err, &selErr)
			assert.NotEmpty(t, selErr.Error())
		})
	}
}

func TestExpandOfflineCPU(t *testing.T) {
	topo := buildTopology(t, 1, 2, 2)
	topo, err := topo.SetOnline(3, false, nil)
	require.NoError(t, err)

	sel, err := Expand(Selector{CPUs: "all"}, topo)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, sel.CPUs)
	_, err = Expand(Selector{CPUs: "3"}, topo)
	var selErr *SelectionError
	assert.ErrorAs(t, err, &selErr)
	// core 1 has a single online CPU left
	_, err = Expand(Selector{CoreSiblings: "1"}, topo)
	assert.ErrorAs(t, err, &selErr)
}

func TestCheckScope(t *testing.T) {
	dual := buildTopology(t, 2, 4, 2)
	tests := []struct {
		name  string
		sel   Selector
		scope topology.Level
		ok    bool
	}{
		{"single CPU, CPU scope", Selector{CPUs: "3"}, topology.LevelCPU, true},
		{"single CPU, core scope", Selector{CPUs: "3"}, topology.LevelCore, false},
		{"whole core", Selector{CPUs: "3,11"}, topology.LevelCore, true},
		{"whole package", Selector{Packages: "1"}, topology.LevelPackage, true},
		{"part of package", Selector{CPUs: "4-7"}, topology.LevelPackage, false},
		{"whole die", Selector{Dies: "0", Packages: "0"}, topology.LevelDie, true},
		{"one package, global scope", Selector{Packages: "0"}, topology.LevelGlobal, false},
		{"everything, global scope", Selector{}, topology.LevelGlobal, true},
		{"non-compute die only", Selector{Dies: "2", Packages: "0"}, topology.LevelPackage, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Expand(tt.sel, dual)
			require.NoError(t, err)
			err = CheckScope(sel, tt.scope, dual)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var selErr *SelectionError
			require.ErrorAs(t, err, &selErr)
			assert.Contains(t, selErr.Error(), "CPUs")
		})
	}
}

func TestSelectorString(t *testing.T) {
	assert.Equal(t, "all CPUs", Selector{}.String())
	assert.Equal(t, "cores 0-3, packages 1", Selector{Cores: "0-3", Packages: "1"}.String())
	assert.True(t, Selector{}.IsEmpty())
}
