// Package selector expands user target selections (CPU, core, module, die and package lists,
// sibling indices, "all") into concrete CPU, die and package sets.
package selector

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"powerconf/internal/topology"
	"powerconf/internal/util"
)

// All selects every unit of a kind.
const All = "all"

// Selector is a target selection as given on the command line. Every field is a list of
// numbers and ranges ("0-3,7") or "all"; empty fields are not used.
type Selector struct {
	CPUs     string
	Cores    string
	Modules  string
	Dies     string
	Packages string
	// CoreSiblings and ModuleSiblings keep only the CPUs at the given index among the online
	// CPUs of their core or module.
	CoreSiblings   string
	ModuleSiblings string
}

// IsEmpty reports whether nothing is selected explicitly.
func (s Selector) IsEmpty() bool {
	return s.CPUs == "" && s.Cores == "" && s.Modules == "" && s.Dies == "" && s.Packages == "" &&
		s.CoreSiblings == "" && s.ModuleSiblings == ""
}

func (s Selector) String() string {
	var parts []string
	for _, f := range []struct{ name, value string }{
		{"CPUs", s.CPUs}, {"cores", s.Cores}, {"modules", s.Modules}, {"dies", s.Dies},
		{"packages", s.Packages}, {"core siblings", s.CoreSiblings}, {"module siblings", s.ModuleSiblings},
	} {
		if f.value != "" {
			parts = append(parts, f.name+" "+f.value)
		}
	}
	if len(parts) == 0 {
		return "all CPUs"
	}
	return strings.Join(parts, ", ")
}

// Selection is the result of expanding a selector. All lists are sorted and free of
// duplicates.
type Selection struct {
	CPUs     []int
	Dies     []topology.DieID
	Packages []int
}

// SelectionError reports an invalid or ambiguous selection.
type SelectionError struct {
	Msg string
}

func (e *SelectionError) Error() string {
	return e.Msg
}

func selectionErrorf(format string, args ...any) *SelectionError {
	return &SelectionError{Msg: fmt.Sprintf(format, args...)}
}

// parseList parses a number list; "all" yields the all list.
func parseList(what, input string, all []int) ([]int, error) {
	input = strings.TrimSpace(input)
	if strings.EqualFold(input, All) {
		return all, nil
	}
	ints, err := util.SelectiveIntRangeToIntList(strings.ReplaceAll(input, " ", ""))
	if err != nil {
		return nil, selectionErrorf("bad %s list %q: %v", what, input, err)
	}
	return ints, nil
}

// Expand turns sel into concrete units of topo.
func Expand(sel Selector, topo *topology.Topology) (Selection, error) {
	cpus := mapset.NewThreadUnsafeSet[int]()
	dies := mapset.NewThreadUnsafeSet[topology.DieID]()
	pkgs := mapset.NewThreadUnsafeSet[int]()

	// without cores or dies the packages add their own CPUs and dies to the selection
	packagesIndependent := sel.Cores == "" && sel.Dies == ""
	if packagesIndependent && sel.CPUs == "" && sel.Modules == "" && sel.Packages == "" {
		cpus.Append(topo.OnlineCPUs()...)
		for _, d := range topo.AllDies() {
			dies.Add(d.ID)
		}
		pkgs.Append(topo.Packages()...)
	}

	selectedPkgs := topo.Packages()
	if sel.Packages != "" {
		list, err := parseList("package", sel.Packages, topo.Packages())
		if err != nil {
			return Selection{}, err
		}
		for _, pkg := range list {
			if !slices.Contains(topo.Packages(), pkg) {
				return Selection{}, selectionErrorf("package %d does not exist, available packages: %s", pkg, util.IntListToRangeString(topo.Packages()))
			}
		}
		selectedPkgs = list
		if packagesIndependent {
			for _, pkg := range list {
				pkgs.Add(pkg)
				for _, d := range topo.Dies(pkg) {
					dies.Add(d.ID)
				}
				cpus.Append(topo.CPUsOf(topology.LevelPackage, topology.Unit{Package: pkg, ID: pkg})...)
			}
		}
	}
	packageRelative := sel.Packages == "" && len(topo.Packages()) > 1

	if sel.CPUs != "" {
		list, err := parseList("CPU", sel.CPUs, topo.OnlineCPUs())
		if err != nil {
			return Selection{}, err
		}
		for _, id := range list {
			cpu, ok := topo.CPU(id)
			if !ok {
				return Selection{}, selectionErrorf("CPU %d does not exist, available CPUs: %s", id, util.IntListToRangeString(topo.CPUs()))
			}
			if !cpu.Online {
				return Selection{}, selectionErrorf("CPU %d is offline", id)
			}
			cpus.Add(id)
		}
	}

	if sel.Cores != "" {
		if packageRelative && !strings.EqualFold(strings.TrimSpace(sel.Cores), All) {
			return Selection{}, selectionErrorf("core numbers are relative to the package, specify the packages too")
		}
		for _, pkg := range selectedPkgs {
			list, err := parseList("core", sel.Cores, topo.Cores(pkg))
			if err != nil {
				return Selection{}, err
			}
			for _, core := range list {
				ids := topo.CPUsOf(topology.LevelCore, topology.Unit{Package: pkg, ID: core})
				if len(ids) == 0 {
					return Selection{}, selectionErrorf("core %d does not exist in package %d, available cores: %s", core, pkg, util.IntListToRangeString(topo.Cores(pkg)))
				}
				cpus.Append(ids...)
			}
		}
	}

	if sel.Modules != "" {
		list, err := parseList("module", sel.Modules, topo.Modules())
		if err != nil {
			return Selection{}, err
		}
		for _, module := range list {
			ids := topo.CPUsOf(topology.LevelModule, topology.Unit{ID: module})
			if len(ids) == 0 {
				return Selection{}, selectionErrorf("module %d does not exist, available modules: %s", module, util.IntListToRangeString(topo.Modules()))
			}
			cpus.Append(ids...)
		}
	}

	if sel.Dies != "" {
		if packageRelative && !strings.EqualFold(strings.TrimSpace(sel.Dies), All) {
			return Selection{}, selectionErrorf("die numbers are relative to the package, specify the packages too")
		}
		for _, pkg := range selectedPkgs {
			var available []int
			for _, d := range topo.Dies(pkg) {
				available = append(available, d.ID.Die)
			}
			list, err := parseList("die", sel.Dies, available)
			if err != nil {
				return Selection{}, err
			}
			for _, id := range list {
				die, ok := topo.Die(pkg, id)
				if !ok {
					return Selection{}, selectionErrorf("die %d does not exist in package %d, available dies: %s", id, pkg, util.IntListToRangeString(available))
				}
				dies.Add(die.ID)
				cpus.Append(die.CPUs...)
			}
		}
	}

	var err error
	if sel.CoreSiblings != "" {
		if cpus, err = filterSiblings(cpus, sel.CoreSiblings, topology.LevelCore, topo); err != nil {
			return Selection{}, err
		}
	}
	if sel.ModuleSiblings != "" {
		if cpus, err = filterSiblings(cpus, sel.ModuleSiblings, topology.LevelModule, topo); err != nil {
			return Selection{}, err
		}
	}

	// dies and packages touched by the CPUs
	for id := range cpus.Iter() {
		cpu, _ := topo.CPU(id)
		dies.Add(topology.DieID{Package: cpu.Package, Die: cpu.Die})
		pkgs.Add(cpu.Package)
	}
	for d := range dies.Iter() {
		pkgs.Add(d.Package)
	}

	result := Selection{
		CPUs:     cpus.ToSlice(),
		Dies:     dies.ToSlice(),
		Packages: pkgs.ToSlice(),
	}
	slices.Sort(result.CPUs)
	slices.SortFunc(result.Dies, topology.DieID.Compare)
	slices.Sort(result.Packages)
	return result, nil
}

func filterSiblings(cpus mapset.Set[int], indices string, kind topology.Level, topo *topology.Topology) (mapset.Set[int], error) {
	if cpus.IsEmpty() {
		cpus.Append(topo.OnlineCPUs()...)
	}
	list, err := parseList(string(kind)+" sibling", indices, nil)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return cpus, nil
	}
	wanted := mapset.NewThreadUnsafeSet(list...)
	filtered := mapset.NewThreadUnsafeSet[int]()
	for _, id := range sortedSet(cpus) {
		siblings, err := topo.Siblings(id, kind)
		if err != nil {
			return nil, selectionErrorf("%v", err)
		}
		if maxIndex := slices.Max(list); maxIndex >= len(siblings) {
			unit, _ := topo.UnitOf(kind, id)
			return nil, selectionErrorf("%s sibling index %d is out of range, %s %d has %d online CPUs (%s)",
				kind, maxIndex, kind, unit.ID, len(siblings), util.IntListToRangeString(siblings))
		}
		if wanted.Contains(slices.Index(siblings, id)) {
			filtered.Add(id)
		}
	}
	return filtered, nil
}

func sortedSet(s mapset.Set[int]) []int {
	list := s.ToSlice()
	slices.Sort(list)
	return list
}

// CheckScope verifies that a write to a property of the given scope through sel affects whole
// units: every core, module, die or package touched by the selected CPUs must be selected
// completely, and global properties need all online CPUs.
func CheckScope(sel Selection, scope topology.Level, topo *topology.Topology) error {
	if scope == topology.LevelCPU || len(sel.CPUs) == 0 {
		return nil
	}
	selected := mapset.NewThreadUnsafeSet(sel.CPUs...)
	seen := make(map[topology.Unit]bool)
	var partial []string
	for _, id := range sel.CPUs {
		unit, err := topo.UnitOf(scope, id)
		if err != nil {
			return selectionErrorf("%v", err)
		}
		if seen[unit] {
			continue
		}
		seen[unit] = true
		members := topo.CPUsOf(scope, unit)
		if selected.IsSuperset(mapset.NewThreadUnsafeSet(members...)) {
			continue
		}
		partial = append(partial, fmt.Sprintf("%s: CPUs %s", describeUnit(scope, unit), util.IntListToRangeString(members)))
	}
	if len(partial) > 0 {
		return selectionErrorf("the property has %s scope, selected CPUs must cover whole %ss, missing CPUs of %s",
			scope, scope, strings.Join(partial, "; "))
	}
	return nil
}

func describeUnit(scope topology.Level, unit topology.Unit) string {
	switch scope {
	case topology.LevelCore, topology.LevelDie:
		return fmt.Sprintf("package %d %s %d", unit.Package, scope, unit.ID)
	case topology.LevelGlobal:
		return "the system"
	}
	return fmt.Sprintf("%s %d", scope, unit.ID)
}
