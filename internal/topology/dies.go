package topology

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"slices"

	"powerconf/internal/backend"
	"powerconf/internal/cpus"
	"powerconf/internal/tpmi"
)

// MSRReader reads bit ranges of model specific registers.
type MSRReader interface {
	ReadBits(cpu int, addr uint32, bits backend.Bits) (uint64, error)
}

const msrPMLogicalID = 0x54

// domainBits is the die (power domain) id field of MSR_PM_LOGICAL_ID.
var domainBits = backend.Bits{High: 15, Low: 11}

// Platforms whose compute die ids come from MSR_PM_LOGICAL_ID rather than CPUID.
var dieFromLogicalID = []string{cpus.GroupGNR, cpus.GroupCrestmont, cpus.GroupDarkmont}

// DieFromLogicalID reports whether compute dies of vfm are enumerated through
// MSR_PM_LOGICAL_ID.
func DieFromLogicalID(vfm cpus.VFM) bool {
	return cpus.InGroup(vfm, dieFromLogicalID...)
}

// ResolveComputeDies fills in the compute die of every online CPU. Most platforms report die
// ids through CPUID, which the kernel exposes as die_id and the facts already carry. Platforms
// listed in dieFromLogicalID get the die from the domain field of MSR_PM_LOGICAL_ID. When
// that MSR cannot be read every package gets a single compute die 0.
func ResolveComputeDies(facts Facts, vfm cpus.VFM, msr MSRReader) (Facts, error) {
	facts = facts.Clone()
	if !DieFromLogicalID(vfm) {
		return facts, nil
	}
	dies := make([]int, len(facts.CPUs))
	for i, f := range facts.CPUs {
		if !f.Online {
			continue
		}
		domain, err := msr.ReadBits(f.ID, msrPMLogicalID, domainBits)
		if err != nil {
			if backend.IsNotSupported(err) {
				slog.Warn("MSR_PM_LOGICAL_ID is not readable, assuming one compute die per package", slog.Int("cpu", f.ID), slog.String("error", err.Error()))
				for j := range facts.CPUs {
					facts.CPUs[j].Die = 0
				}
				return facts, nil
			}
			return Facts{}, fmt.Errorf("failed to read the die of CPU %d: %w", f.ID, err)
		}
		dies[i] = int(domain)
	}
	for i := range facts.CPUs {
		if facts.CPUs[i].Online {
			facts.CPUs[i].Die = dies[i]
		}
	}
	return facts, nil
}

type ufsKey struct {
	pkg      int
	instance int
	cluster  int
}

// ResolveNonComputeDies adds the dies TPMI UFS reports without CPU cores, and records the UFS
// clusters of compute dies. units must be in TPMI enumeration order. Non-compute dies are
// numbered per package from one above the highest compute die. Whether a die is a TPMI
// instance or a single cluster of an instance is declared by the UFS spec (the die map).
// The n-th compute die key of a package in enumeration order backs the n-th lowest compute
// die of that package.
func ResolveNonComputeDies(facts Facts, units []tpmi.UFSUnit) (Facts, error) {
	facts = facts.Clone()
	facts.NonComputeDies = nil
	clear(facts.ComputeTPMI)

	compute := make(map[int][]int)
	for _, f := range facts.CPUs {
		if f.Online {
			compute[f.Package] = append(compute[f.Package], f.Die)
		}
	}
	next := make(map[int]int)
	for pkg, dies := range compute {
		slices.Sort(dies)
		compute[pkg] = slices.Compact(dies)
		next[pkg] = slices.Max(dies) + 1
	}

	dieOf := make(map[ufsKey]DieID)
	nonCompute := make(map[DieID]int)
	computeOrdinal := make(map[int]int)
	for _, u := range units {
		key := ufsKey{pkg: u.Package, instance: u.Instance}
		switch u.DieMap {
		case tpmi.DieMapInstance, "":
		case tpmi.DieMapInstanceCluster:
			key.cluster = u.Cluster
		default:
			return Facts{}, topologyErrorf("unknown TPMI die map %q", u.DieMap)
		}
		loc := TPMILocation{PCI: u.PCI, Instance: u.Instance, Cluster: u.Cluster}
		if id, ok := dieOf[key]; ok {
			if i, ok := nonCompute[id]; ok {
				d := &facts.NonComputeDies[i]
				d.TPMI = append(d.TPMI, loc)
				for _, agent := range u.Agents {
					if !slices.Contains(d.Agents, agent) {
						d.Agents = append(d.Agents, agent)
					}
				}
			} else {
				facts.ComputeTPMI[id] = append(facts.ComputeTPMI[id], loc)
			}
			continue
		}
		if !u.Compute() {
			id := DieID{Package: u.Package, Die: next[u.Package]}
			next[u.Package]++
			dieOf[key] = id
			nonCompute[id] = len(facts.NonComputeDies)
			facts.NonComputeDies = append(facts.NonComputeDies, DieFacts{ID: id, Agents: slices.Clone(u.Agents), TPMI: []TPMILocation{loc}})
			continue
		}
		ordinal := computeOrdinal[u.Package]
		computeOrdinal[u.Package]++
		dies := compute[u.Package]
		if ordinal >= len(dies) {
			// all CPUs of the die are offline or the package has none online
			slog.Debug("TPMI compute die without online CPUs", slog.String("location", u.String()))
			continue
		}
		id := DieID{Package: u.Package, Die: dies[ordinal]}
		dieOf[key] = id
		facts.ComputeTPMI[id] = append(facts.ComputeTPMI[id], loc)
	}
	return facts, nil
}

func agentsTitle(agents []string) string {
	return tpmi.AgentsTitle(agents)
}
