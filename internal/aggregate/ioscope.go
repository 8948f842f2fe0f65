package aggregate

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"powerconf/internal/topology"
)

// IOReading is a register value read through one CPU of an I/O scope unit.
type IOReading struct {
	CPU   int
	Value any
}

// UnitValue is the value seen through one I/O scope unit.
type UnitValue struct {
	Unit  topology.Unit
	CPUs  []int
	Value any
}

// ScopeInconsistency reports I/O scope units of one functional unit that disagree. The
// register is shared by the whole functional unit, but a write only reaches the I/O scope
// unit it was issued through, so the readings cannot all be right.
type ScopeInconsistency struct {
	Property        string
	Package         int
	FunctionalScope topology.Level
	FunctionalUnit  topology.Unit
	IOScope         topology.Level
	Values          []UnitValue
	// BestEffort is the most common value, ties going to the lowest I/O unit.
	BestEffort any
}

func (s ScopeInconsistency) Error() string {
	var pairs []string
	for _, v := range s.Values {
		pairs = append(pairs, fmt.Sprintf("%s %d (%s): %v", s.IOScope, v.Unit.ID, CPUList(v.CPUs), v.Value))
	}
	unit := fmt.Sprintf("package %d", s.Package)
	if s.FunctionalScope != topology.LevelPackage {
		unit = fmt.Sprintf("%s, %s %d", unit, s.FunctionalScope, s.FunctionalUnit.ID)
	}
	return fmt.Sprintf("%s: inconsistent values in %s: %s. The property has %s scope but is accessed with %s scope, the values of %ss that were not written last may be stale",
		s.Property, unit, strings.Join(pairs, ", "), s.FunctionalScope, s.IOScope, s.IOScope)
}

// CheckIOScope groups readings by functional unit and reports functional units whose I/O
// units disagree. All readings of a functional unit are needed for a verdict. Readings
// through several CPUs of one I/O unit count once, the first one wins.
func CheckIOScope(prop string, functional, io topology.Level, readings []IOReading, topo *topology.Topology) []ScopeInconsistency {
	if functional == io {
		return nil
	}
	type ioUnits map[topology.Unit]*UnitValue
	byFunctional := make(map[topology.Unit]ioUnits)
	for _, r := range readings {
		fu, err := topo.UnitOf(functional, r.CPU)
		if err != nil {
			continue
		}
		iu, err := topo.UnitOf(io, r.CPU)
		if err != nil {
			continue
		}
		units, ok := byFunctional[fu]
		if !ok {
			units = make(ioUnits)
			byFunctional[fu] = units
		}
		if v, ok := units[iu]; ok {
			v.CPUs = append(v.CPUs, r.CPU)
			continue
		}
		units[iu] = &UnitValue{Unit: iu, CPUs: []int{r.CPU}, Value: r.Value}
	}

	var result []ScopeInconsistency
	for _, fu := range slices.SortedFunc(maps.Keys(byFunctional), topology.Unit.Compare) {
		units := byFunctional[fu]
		keys := make(map[string]int)
		for _, v := range units {
			keys[Key(v.Value)]++
		}
		if len(keys) < 2 {
			continue
		}
		inc := ScopeInconsistency{
			Property:        prop,
			Package:         fu.Package,
			FunctionalScope: functional,
			FunctionalUnit:  fu,
			IOScope:         io,
		}
		for _, iu := range slices.SortedFunc(maps.Keys(units), topology.Unit.Compare) {
			v := *units[iu]
			slices.Sort(v.CPUs)
			inc.Values = append(inc.Values, v)
		}
		best := 0
		for _, v := range inc.Values {
			// Values are ordered by unit, so a strict comparison keeps the lowest unit on ties.
			if n := keys[Key(v.Value)]; n > best {
				best = n
				inc.BestEffort = v.Value
			}
		}
		result = append(result, inc)
	}
	return result
}
