// Package aggregate groups per-unit property values into value groups and checks registers
// whose I/O scope is narrower than their functional scope for disagreeing readings.
package aggregate

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"k8s.io/utils/cpuset"

	"powerconf/internal/topology"
	"powerconf/internal/util"
)

// Reading is the value of one unit. Units are CPUs for CPU, core and module scope
// properties, dies for die scope, packages for package scope and a single unit for global
// scope, see UnitLevel.
type Reading struct {
	Unit  topology.Unit
	Value any
}

// Group is a value and the units that have it.
type Group struct {
	Value any
	Units []topology.Unit
	// CPUs are the online CPUs of the units.
	CPUs        []int
	Description string
}

// UnitLevel returns the level values of a property with the given scope are reported at.
func UnitLevel(scope topology.Level) topology.Level {
	switch scope {
	case topology.LevelCPU, topology.LevelCore, topology.LevelModule:
		return topology.LevelCPU
	}
	return scope
}

// Key returns the comparison key of a value; values with equal keys are equal.
func Key(v any) string {
	switch v := v.(type) {
	case []string:
		return strings.Join(v, " ")
	case []int:
		return util.IntListToRangeString(v)
	}
	return fmt.Sprint(v)
}

// Compare orders values: numbers numerically, everything else by key.
func Compare(a, b any) int {
	an, aok := number(a)
	bn, bok := number(b)
	switch {
	case aok && bok:
		return cmp.Compare(an, bn)
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(Key(a), Key(b))
}

func number(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// Aggregate groups readings by value, one group per distinct value, ordered by value. A unit
// is reported once: when it appears in several readings the first one counts.
func Aggregate(readings []Reading, scope topology.Level, topo *topology.Topology) []Group {
	seen := mapset.NewThreadUnsafeSet[topology.Unit]()
	groups := make(map[string]*Group)
	for _, r := range readings {
		if !seen.Add(r.Unit) {
			continue
		}
		key := Key(r.Value)
		g, ok := groups[key]
		if !ok {
			g = &Group{Value: r.Value}
			groups[key] = g
		}
		g.Units = append(g.Units, r.Unit)
	}
	level := UnitLevel(scope)
	result := make([]Group, 0, len(groups))
	for _, key := range slices.Sorted(maps.Keys(groups)) {
		g := groups[key]
		slices.SortFunc(g.Units, topology.Unit.Compare)
		g.CPUs = unitCPUs(level, g.Units, topo)
		g.Description = Describe(level, g.Units, topo)
		result = append(result, *g)
	}
	slices.SortStableFunc(result, func(a, b Group) int { return Compare(a.Value, b.Value) })
	return result
}

func unitCPUs(level topology.Level, units []topology.Unit, topo *topology.Topology) []int {
	set := mapset.NewThreadUnsafeSet[int]()
	for _, u := range units {
		switch level {
		case topology.LevelCPU:
			set.Add(u.ID)
		case topology.LevelDie:
			if d, ok := topo.Die(u.Package, u.ID); ok {
				set.Append(d.CPUs...)
			}
		case topology.LevelGlobal:
			set.Append(topo.OnlineCPUs()...)
		default:
			set.Append(topo.CPUsOf(level, u)...)
		}
	}
	cpus := set.ToSlice()
	slices.Sort(cpus)
	return cpus
}

// CPUList renders CPU numbers compactly: "CPU 3" or "CPUs 0-3,8".
func CPUList(cpus []int) string {
	if len(cpus) == 1 {
		return fmt.Sprintf("CPU %d", cpus[0])
	}
	return "CPUs " + cpuset.New(cpus...).String()
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// Describe renders units of a level for humans, e.g. "CPUs 0-87", "package 0 dies 0-1" or
// "CPUs 0-43 (package 0)".
func Describe(level topology.Level, units []topology.Unit, topo *topology.Topology) string {
	switch level {
	case topology.LevelCPU:
		ids := make([]int, len(units))
		for i, u := range units {
			ids[i] = u.ID
		}
		return CPUList(ids)
	case topology.LevelGlobal:
		return "all CPUs"
	case topology.LevelDie:
		byPackage := make(map[int][]int)
		for _, u := range units {
			byPackage[u.Package] = append(byPackage[u.Package], u.ID)
		}
		var parts []string
		for _, pkg := range slices.Sorted(maps.Keys(byPackage)) {
			dies := byPackage[pkg]
			parts = append(parts, fmt.Sprintf("package %d %s %s", pkg, plural("die", len(dies)), util.IntListToRangeString(dies)))
		}
		desc := strings.Join(parts, ", ")
		if cpus := unitCPUs(level, units, topo); len(cpus) > 0 {
			desc = fmt.Sprintf("%s (%s)", CPUList(cpus), desc)
		}
		return desc
	}
	ids := make([]int, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	desc := fmt.Sprintf("%s %s", plural(string(level), len(ids)), util.IntListToRangeString(ids))
	if cpus := unitCPUs(level, units, topo); len(cpus) > 0 {
		desc = fmt.Sprintf("%s (%s)", CPUList(cpus), desc)
	}
	return desc
}
