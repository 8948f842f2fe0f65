package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"cmp"
	"maps"
	"slices"

	"powerconf/internal/backend"
	"powerconf/internal/cpus"
	"powerconf/internal/topology"
)

// scopeQuirk overrides the scope or I/O scope of properties on a group of platforms. Empty
// levels are left alone.
type scopeQuirk struct {
	groups  []string
	props   []string
	scope   topology.Level
	ioScope topology.Level
}

var scopeQuirks = []scopeQuirk{
	{groups: []string{cpus.GroupSilvermont, cpus.GroupAirmont}, props: []string{"pstates.epb"}, scope: topology.LevelModule, ioScope: topology.LevelModule},
	{groups: []string{cpus.GroupPhi}, props: []string{"pstates.epb"}, scope: topology.LevelPackage, ioScope: topology.LevelPackage},
	{groups: []string{cpus.GroupSilvermont, cpus.GroupAirmont}, props: []string{"cstates.pkg_cstate_limit", "cstates.pkg_cstate_limit_lock"}, ioScope: topology.LevelModule},
	{groups: []string{cpus.GroupPhi}, props: []string{"cstates.pkg_cstate_limit", "cstates.pkg_cstate_limit_lock"}, ioScope: topology.LevelPackage},
	{groups: []string{cpus.GroupSPR, cpus.GroupEMR, cpus.GroupICX}, props: []string{"cstates.c1_demotion", "cstates.c1_undemotion"}, scope: topology.LevelPackage},
}

// cstateTable is the package C-state limit encoding of a group of models.
type cstateTable struct {
	models []int
	bits   backend.Bits
	codes  map[string]uint64
}

var (
	bits2to0 = backend.Bits{High: 2, Low: 0}
	bits3to0 = backend.Bits{High: 3, Low: 0}
)

var cstateTables = []cstateTable{
	{
		models: []int{cpus.ModelDarkmontX, cpus.ModelCrestmontX, cpus.ModelGraniteRapidsX, cpus.ModelGraniteRapidsD, cpus.ModelIcelakeX, cpus.ModelIcelakeD},
		bits:   bits2to0,
		codes:  map[string]uint64{"PC0": 0, "PC2": 1, "PC6": 2, SpecialUnlimited: 7},
	},
	{
		models: []int{cpus.ModelEmeraldRapidsX, cpus.ModelSapphireRapids, cpus.ModelSkylakeX, cpus.ModelPhiKNL, cpus.ModelPhiKNM},
		bits:   bits2to0,
		codes:  map[string]uint64{"PC0": 0, "PC2": 1, "PC6": 2, "PC6R": 3, SpecialUnlimited: 7},
	},
	{
		models: []int{cpus.ModelBroadwellX, cpus.ModelHaswellX},
		bits:   bits2to0,
		codes:  map[string]uint64{"PC0": 0, "PC2": 1, "PC3": 2, "PC6": 3, SpecialUnlimited: 7},
	},
	{
		models: []int{cpus.ModelBroadwellD},
		bits:   bits3to0,
		codes:  map[string]uint64{"PC0": 0, "PC2": 1, "PC3": 2, "PC6": 3},
	},
	{
		models: []int{cpus.ModelGoldmontD},
		bits:   bits3to0,
		codes:  map[string]uint64{"PC2": 2, "PC6": 3, SpecialUnlimited: 0},
	},
	{
		models: []int{
			cpus.ModelArrowlake, cpus.ModelArrowlakeH, cpus.ModelMeteorlake, cpus.ModelMeteorlakeL,
			cpus.ModelRaptorlake, cpus.ModelRaptorlakeP, cpus.ModelRaptorlakeS, cpus.ModelAlderlake,
			cpus.ModelAlderlakeL, cpus.ModelAlderlakeN, cpus.ModelRocketlake, cpus.ModelTigerlake,
			cpus.ModelTigerlakeL, cpus.ModelIcelakeL, cpus.ModelKabylake, cpus.ModelKabylakeL,
			cpus.ModelSkylake, cpus.ModelSkylakeL, cpus.ModelBroadwell,
		},
		bits: bits3to0,
		codes: map[string]uint64{
			"PC0": 0, "PC2": 1, "PC3": 2, "PC6": 3, "PC7": 4, "PC7S": 5, "PC8": 6, "PC9": 7, "PC10": 8,
		},
	},
	{
		models: []int{cpus.ModelLunarlakeM},
		bits:   bits3to0,
		codes:  map[string]uint64{"PC0": 0, "PC2": 1, "PC6": 3, "PC10": 8},
	},
	{
		models: []int{cpus.ModelHaswell},
		bits:   bits3to0,
		codes:  map[string]uint64{"PC0": 0, "PC2": 1, "PC3": 2, "PC6": 3, "PC7": 4, "PC7S": 5},
	},
}

func findCStateTable(vfm cpus.VFM) (cstateTable, bool) {
	for _, t := range cstateTables {
		for _, model := range t.models {
			if cpus.IntelVFM(model) == vfm {
				return t, true
			}
		}
	}
	return cstateTable{}, false
}

// limitNames returns the code names ordered by code, "unlimited" last.
func (t cstateTable) limitNames() []string {
	names := slices.Collect(maps.Keys(t.codes))
	slices.SortFunc(names, func(a, b string) int {
		if a == SpecialUnlimited || b == SpecialUnlimited {
			return cmp.Compare(boolInt(a == SpecialUnlimited), boolInt(b == SpecialUnlimited))
		}
		return cmp.Compare(t.codes[a], t.codes[b])
	})
	return names
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// fsbTable decodes the FSB_FREQ MSR of Silvermont and Airmont into bus clock speeds in Hz.
type fsbTable struct {
	groups []string
	bits   backend.Bits
	codes  map[uint64]int64
}

var fsbTables = []fsbTable{
	{
		groups: []string{cpus.GroupSilvermont},
		bits:   bits2to0,
		codes:  map[uint64]int64{0: 83_300_000, 1: 100_000_000, 2: 133_300_000, 3: 116_700_000, 4: 80_000_000},
	},
	{
		groups: []string{cpus.GroupAirmont},
		bits:   bits3to0,
		codes: map[uint64]int64{
			0: 83_300_000, 1: 100_000_000, 2: 133_300_000, 3: 116_700_000, 4: 80_000_000,
			5: 93_300_000, 6: 90_000_000, 7: 88_900_000, 8: 87_500_000,
		},
	},
}

// applyQuirks specializes p for vfm in place. p must be a clone owned by the caller.
func applyQuirks(p *Property, vfm cpus.VFM) {
	for _, q := range scopeQuirks {
		if !slices.Contains(q.props, p.ID()) || !cpus.InGroup(vfm, q.groups...) {
			continue
		}
		if q.scope != "" {
			p.Scope = q.scope
		}
		if q.ioScope != "" {
			for i := range p.Bindings {
				p.Bindings[i].IOScope = q.ioScope
			}
		}
	}

	switch p.ID() {
	case "cstates.pkg_cstate_limit":
		t, ok := findCStateTable(vfm)
		if !ok {
			return
		}
		for i := range p.Bindings {
			b := &p.Bindings[i]
			if b.Mechanism == MechMSR {
				b.Bits = t.bits
				b.Enum = maps.Clone(t.codes)
				b.Unsupported = ""
			}
		}
	case "cstates.pkg_cstate_limits":
		t, ok := findCStateTable(vfm)
		if !ok {
			return
		}
		p.Bindings[0].Const = t.limitNames()
		p.Bindings[0].Unsupported = ""
	case "pstates.bus_clock":
		for _, t := range fsbTables {
			if !cpus.InGroup(vfm, t.groups...) {
				continue
			}
			for i := range p.Bindings {
				b := &p.Bindings[i]
				if b.Mechanism == MechMSR {
					b.Bits = t.bits
					b.Codes = maps.Clone(t.codes)
					b.Unsupported = ""
				}
			}
		}
	}
}
