package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"slices"
	"strings"

	"powerconf/internal/backend"
	"powerconf/internal/backend/cppc"
	"powerconf/internal/backend/msr"
	"powerconf/internal/cpus"
	"powerconf/internal/topology"
	"powerconf/internal/tpmi"
)

const (
	cpuDir        = "/sys/devices/system/cpu/cpu{cpu}/"
	cpufreqDir    = cpuDir + "cpufreq/"
	pstateDir     = "/sys/devices/system/cpu/intel_pstate/"
	cpuidleDir    = "/sys/devices/system/cpu/cpuidle/"
	cpuidleStates = cpuDir + "cpuidle"
	uncoreDir     = "{uncore}/"
	dmaLatency    = "/dev/cpu_dma_latency"
	khzToHz       = "raw * 1000"
	hzToKHz       = "round(value / 1000)"
	ratioToHz     = "raw * bclk"
	hzToRatio     = "round(value / bclk)"
	ratio100MHz   = "raw * 100000000"
	hzTo100MHz    = "round(value / 100000000)"
	rawToPower    = "raw * power_unit"
	powerToRaw    = "round(value / power_unit)"
	// ELC thresholds are 0-127 in TPMI and percent in sysfs
	elcDecode = "ceil(raw * 100 / 127)"
	elcEncode = "floor(value * 127 / 100)"
)

var (
	hwpGate    = &Gate{Addr: msr.PMEnable, Bits: backend.Bit(0), Name: "HWP"}
	cstateLock = &backend.Bits{High: 15, Low: 15}
	powerLock  = &backend.Bits{High: 63, Low: 63}
)

// EPP policy names and their HWP_REQUEST codes.
var eppEnum = map[string]uint64{
	"performance":         0,
	"balance_performance": 128,
	"balance_power":       192,
	"power":               255,
}

// Frequency specials.
const (
	SpecialMin  = "min"
	SpecialMax  = "max"
	SpecialBase = "base"
	SpecialHFM  = "hfm"
	SpecialP1   = "P1"
	SpecialEff  = "eff"
	SpecialLFM  = "lfm"
	SpecialPn   = "Pn"
	SpecialPm   = "Pm"
	SpecialMDL  = "mdl"
)

// SpecialUnlimited is the package C-state limit value that removes the limit.
const SpecialUnlimited = "unlimited"

var cpuFreqSpecials = []string{SpecialMin, SpecialMax, SpecialBase, SpecialHFM, SpecialP1, SpecialEff, SpecialLFM, SpecialPn, SpecialPm}
var uncoreFreqSpecials = []string{SpecialMin, SpecialMax, SpecialMDL}

func pstatesTable() []*Property {
	return []*Property{
		{
			Name: "turbo", Label: "Turbo", Type: TypeBool, Scope: topology.LevelGlobal, Writable: true,
			Help: "Whether the CPUs may run above the base frequency.",
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: pstateDir + "no_turbo", Decode: "raw == 0", Encode: "1 - value"},
				{Mechanism: MechSysfs, Path: "/sys/devices/system/cpu/cpufreq/boost"},
			},
		},
		{
			Name: "min_freq", Label: "Min. CPU frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelCPU, Writable: true,
			Specials: cpuFreqSpecials,
			Help:     "Minimum frequency the OS requests for the CPU.",
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: cpufreqDir + "scaling_min_freq", Decode: khzToHz, Encode: hzToKHz},
				{Mechanism: MechMSR, Addr: msr.HWPRequest, Bits: backend.Bits{High: 7, Low: 0}, Gate: hwpGate, Decode: ratioToHz, Encode: hzToRatio},
			},
		},
		{
			Name: "max_freq", Label: "Max. CPU frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelCPU, Writable: true,
			Specials: cpuFreqSpecials,
			Help:     "Maximum frequency the OS requests for the CPU.",
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: cpufreqDir + "scaling_max_freq", Decode: khzToHz, Encode: hzToKHz},
				{Mechanism: MechMSR, Addr: msr.HWPRequest, Bits: backend.Bits{High: 15, Low: 8}, Gate: hwpGate, Decode: ratioToHz, Encode: hzToRatio},
			},
		},
		{
			Name: "min_freq_limit", Label: "Min. supported CPU frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelCPU,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpufreqDir + "cpuinfo_min_freq", Decode: khzToHz}},
		},
		{
			Name: "max_freq_limit", Label: "Max. supported CPU frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelCPU,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpufreqDir + "cpuinfo_max_freq", Decode: khzToHz}},
		},
		{
			Name: "base_freq", Label: "Base CPU frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelCPU,
			Help: "The highest frequency the CPU sustains without turbo.",
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: cpufreqDir + "base_frequency", Decode: khzToHz},
				{Mechanism: MechCPPC, CPPC: cppc.NominalFreq, Decode: "raw * 1000000"},
				{Mechanism: MechMSR, Addr: msr.PlatformInfo, Bits: backend.Bits{High: 15, Low: 8}, Decode: ratioToHz},
			},
		},
		{
			Name: "bus_clock", Label: "Bus clock speed", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelGlobal,
			Bindings: []Binding{
				{Mechanism: MechMSR, Addr: msr.FSBFreq, Bits: backend.Bits{High: 2, Low: 0}, Unsupported: "FSB_FREQ is only decoded on Silvermont and Airmont"},
				{Mechanism: MechDoc, Const: int64(100_000_000)},
			},
		},
		{
			Name: "min_oper_freq", Label: "Min. CPU operating frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelCPU,
			Bindings: []Binding{
				{Mechanism: MechMSR, Addr: msr.PlatformInfo, Bits: backend.Bits{High: 55, Low: 48}, Decode: ratioToHz},
				{Mechanism: MechCPPC, CPPC: cppc.LowestFreq, Decode: "raw * 1000000"},
			},
		},
		{
			Name: "max_eff_freq", Label: "Max. CPU efficiency frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelCPU,
			Bindings: []Binding{
				{Mechanism: MechMSR, Addr: msr.PlatformInfo, Bits: backend.Bits{High: 47, Low: 40}, Decode: ratioToHz},
			},
		},
		{
			Name: "max_turbo_freq", Label: "Max. CPU turbo frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelCPU,
			Bindings: []Binding{
				{Mechanism: MechMSR, Addr: msr.HWPCapabilities, Bits: backend.Bits{High: 7, Low: 0}, Gate: hwpGate, Decode: ratioToHz},
				{Mechanism: MechMSR, Addr: msr.TurboRatioLimit, Bits: backend.Bits{High: 7, Low: 0}, Decode: ratioToHz},
				{
					Mechanism: MechCPPC, CPPC: cppc.HighestPerf,
					Vars:   map[string]string{"nominal_freq": cppc.NominalFreq, "nominal_perf": cppc.NominalPerf},
					Decode: "raw * nominal_freq * 1000000 / nominal_perf",
				},
			},
		},
		{
			Name: "hwp", Label: "Hardware power management", Type: TypeBool, Scope: topology.LevelGlobal,
			Bindings: []Binding{{Mechanism: MechMSR, Addr: msr.PMEnable, Bits: backend.Bit(0)}},
		},
		{
			Name: "epp", Label: "EPP", Type: TypeString, Scope: topology.LevelCPU, Writable: true,
			Help: "Energy Performance Preference, a policy name or a number from 0 (performance) to 255 (energy saving).",
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: cpufreqDir + "energy_performance_preference"},
				{Mechanism: MechMSR, Addr: msr.HWPRequest, Bits: backend.Bits{High: 31, Low: 24}, Gate: hwpGate, Enum: eppEnum},
			},
		},
		{
			Name: "epb", Label: "EPB", Type: TypeInt, Scope: topology.LevelCPU, Writable: true, Range: &Range{Min: 0, Max: 15},
			Help: "Energy Performance Bias, 0 (performance) to 15 (energy saving).",
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: cpuDir + "power/energy_perf_bias"},
				{Mechanism: MechMSR, Addr: msr.EnergyPerfBias, Bits: backend.Bits{High: 3, Low: 0}},
			},
		},
		{
			Name: "driver", Label: "CPU frequency driver", Type: TypeString, Scope: topology.LevelGlobal,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpufreqDir + "scaling_driver"}},
		},
		{
			Name: "intel_pstate_mode", Label: "Operation mode of 'intel_pstate' driver", Type: TypeString, Scope: topology.LevelGlobal, Writable: true,
			Help:     "One of active, passive or off.",
			Bindings: []Binding{{Mechanism: MechSysfs, Path: pstateDir + "status"}},
		},
		{
			Name: "governor", Label: "CPU frequency governor", Type: TypeString, Scope: topology.LevelCPU, Writable: true,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpufreqDir + "scaling_governor"}},
		},
		{
			Name: "governors", Label: "Available CPU frequency governors", Type: TypeStrings, Scope: topology.LevelGlobal,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpufreqDir + "scaling_available_governors"}},
		},
	}
}

func uncoreTable() []*Property {
	ufs := func(register, field string, decode, encode string) Binding {
		return Binding{Mechanism: MechTPMI, Feature: tpmi.FeatureUFS, Register: register, Field: field, Decode: decode, Encode: encode}
	}
	return []*Property{
		{
			Name: "min_freq", Label: "Min. uncore frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelDie, Writable: true,
			Specials: uncoreFreqSpecials,
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: uncoreDir + "min_freq_khz", Decode: khzToHz, Encode: hzToKHz},
				ufs("UFS_CONTROL", "MIN_RATIO", ratio100MHz, hzTo100MHz),
			},
		},
		{
			Name: "max_freq", Label: "Max. uncore frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelDie, Writable: true,
			Specials: uncoreFreqSpecials,
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: uncoreDir + "max_freq_khz", Decode: khzToHz, Encode: hzToKHz},
				ufs("UFS_CONTROL", "MAX_RATIO", ratio100MHz, hzTo100MHz),
			},
		},
		{
			Name: "min_freq_limit", Label: "Min. supported uncore frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelDie,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: uncoreDir + "initial_min_freq_khz", Decode: khzToHz}},
		},
		{
			Name: "max_freq_limit", Label: "Max. supported uncore frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelDie,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: uncoreDir + "initial_max_freq_khz", Decode: khzToHz}},
		},
		{
			Name: "cur_freq", Label: "Current uncore frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelDie,
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: uncoreDir + "current_freq_khz", Fresh: true, Decode: khzToHz},
				{Mechanism: MechTPMI, Feature: tpmi.FeatureUFS, Register: "UFS_STATUS", Field: "CURRENT_RATIO", Fresh: true, Decode: ratio100MHz},
			},
		},
		{
			Name: "elc_low_zone_min_freq", Label: "ELC low zone min. uncore frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelDie, Writable: true,
			Help: "Uncore frequency floor while utilization is below the ELC low threshold.",
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: uncoreDir + "elc_floor_freq_khz", Decode: khzToHz, Encode: hzToKHz},
				ufs("UFS_CONTROL", "EFFICIENCY_LATENCY_CTRL_LOW_RATIO", ratio100MHz, hzTo100MHz),
			},
		},
		{
			Name: "elc_mid_zone_min_freq", Label: "ELC mid zone min. uncore frequency", Unit: UnitHz, Type: TypeInt, Scope: topology.LevelDie, Writable: true,
			Help: "Uncore frequency floor while utilization is between the ELC thresholds.",
			Bindings: []Binding{
				ufs("UFS_CONTROL", "EFFICIENCY_LATENCY_CTRL_MID_RATIO", ratio100MHz, hzTo100MHz),
			},
		},
		{
			Name: "elc_low_threshold", Label: "ELC low threshold", Unit: UnitPercent, Type: TypeInt, Scope: topology.LevelDie, Writable: true,
			Range: &Range{Min: 0, Max: 100},
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: uncoreDir + "elc_low_threshold_percent"},
				ufs("UFS_CONTROL", "EFFICIENCY_LATENCY_CTRL_LOW_THRESHOLD", elcDecode, elcEncode),
			},
		},
		{
			Name: "elc_high_threshold", Label: "ELC high threshold", Unit: UnitPercent, Type: TypeInt, Scope: topology.LevelDie, Writable: true,
			Range: &Range{Min: 0, Max: 100},
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: uncoreDir + "elc_high_threshold_percent"},
				ufs("UFS_CONTROL", "EFFICIENCY_LATENCY_CTRL_HIGH_THRESHOLD", elcDecode, elcEncode),
			},
		},
		{
			Name: "elc_high_threshold_status", Label: "ELC high threshold status", Type: TypeBool, Scope: topology.LevelDie, Writable: true,
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: uncoreDir + "elc_high_threshold_enable"},
				ufs("UFS_CONTROL", "EFFICIENCY_LATENCY_CTRL_HIGH_THRESHOLD_ENABLE", "", ""),
			},
		},
	}
}

func cstatesTable() []*Property {
	return []*Property{
		{
			Name: "pkg_cstate_limit", Label: "Package C-state limit", Type: TypeString, Scope: topology.LevelPackage, Writable: true,
			Specials: []string{SpecialUnlimited},
			Help:     "The deepest package C-state the platform may enter.",
			Bindings: []Binding{
				// code tables are per platform, see quirks.go
				{
					Mechanism: MechMSR, IOScope: topology.LevelCore, Addr: msr.PkgCstConfigCtl, Bits: backend.Bits{High: 3, Low: 0},
					Lock: cstateLock, RoundDown: true, Unsupported: "package C-state limit codes are unknown for this platform",
				},
			},
		},
		{
			Name: "pkg_cstate_limit_lock", Label: "Package C-state limit lock", Type: TypeBool, Scope: topology.LevelPackage,
			Bindings: []Binding{{Mechanism: MechMSR, IOScope: topology.LevelCore, Addr: msr.PkgCstConfigCtl, Bits: *cstateLock}},
		},
		{
			Name: "pkg_cstate_limits", Label: "Available package C-state limits", Type: TypeStrings, Scope: topology.LevelGlobal,
			Bindings: []Binding{{Mechanism: MechDoc, Unsupported: "package C-state limit codes are unknown for this platform"}},
		},
		{
			Name: "c1_demotion", Label: "C1 demotion", Type: TypeBool, Scope: topology.LevelCore, Writable: true,
			Bindings: []Binding{{Mechanism: MechMSR, IOScope: topology.LevelCore, Addr: msr.PkgCstConfigCtl, Bits: backend.Bit(26)}},
		},
		{
			Name: "c1_undemotion", Label: "C1 undemotion", Type: TypeBool, Scope: topology.LevelCore, Writable: true,
			Bindings: []Binding{{Mechanism: MechMSR, IOScope: topology.LevelCore, Addr: msr.PkgCstConfigCtl, Bits: backend.Bit(28)}},
		},
		{
			Name: "c1e_autopromote", Label: "C1E autopromote", Type: TypeBool, Scope: topology.LevelPackage, Writable: true,
			Bindings: []Binding{{Mechanism: MechMSR, IOScope: topology.LevelCore, Addr: msr.PowerCtl, Bits: backend.Bit(1)}},
		},
		{
			Name: "cstate_prewake", Label: "C-state prewake", Type: TypeBool, Scope: topology.LevelPackage, Writable: true,
			Bindings: []Binding{{Mechanism: MechMSR, IOScope: topology.LevelCore, Addr: msr.PowerCtl, Bits: backend.Bit(30), Decode: "raw == 0", Encode: "1 - value"}},
		},
		{
			Name: "requestable_cstates", Label: "Requestable C-states", Type: TypeStrings, Scope: topology.LevelCPU,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpuidleStates, IdleStates: IdleNames, ReadOnly: true}},
		},
		{
			Name: "enabled_cstates", Label: "Enabled requestable C-states", Type: TypeStrings, Scope: topology.LevelCPU, Writable: true,
			Help:     "Requestable C-states Linux may enter. Names or \"all\" set the list, +NAME and -NAME change it.",
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpuidleStates, IdleStates: IdleEnabled}},
		},
		{
			Name: "cstate_latencies", Label: "Requestable C-state exit latencies", Type: TypeStrings, Scope: topology.LevelCPU,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpuidleStates, IdleStates: IdleLatency, ReadOnly: true}},
		},
		{
			Name: "cstate_residencies", Label: "Requestable C-state target residencies", Type: TypeStrings, Scope: topology.LevelCPU,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpuidleStates, IdleStates: IdleResidency, ReadOnly: true}},
		},
		{
			Name: "idle_driver", Label: "Idle driver", Type: TypeString, Scope: topology.LevelGlobal,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpuidleDir + "current_driver"}},
		},
		{
			Name: "idle_governor", Label: "Idle governor", Type: TypeString, Scope: topology.LevelGlobal, Writable: true,
			Bindings: []Binding{
				{Mechanism: MechSysfs, Path: cpuidleDir + "current_governor"},
				{Mechanism: MechSysfs, Path: cpuidleDir + "current_governor_ro", ReadOnly: true},
			},
		},
		{
			Name: "idle_governors", Label: "Available idle governors", Type: TypeStrings, Scope: topology.LevelGlobal,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpuidleDir + "available_governors"}},
		},
	}
}

func pmqosTable() []*Property {
	return []*Property{
		{
			Name: "latency_limit", Label: "Linux per-CPU PM QoS latency limit", Unit: UnitUS, Type: TypeInt, Scope: topology.LevelCPU, Writable: true,
			Range:    &Range{Min: 0, Max: 1<<31 - 1},
			Bindings: []Binding{{Mechanism: MechSysfs, Path: cpuDir + "power/pm_qos_resume_latency_us"}},
		},
		{
			Name: "global_latency_limit", Label: "Linux global PM QoS latency limit", Unit: UnitUS, Type: TypeInt, Scope: topology.LevelGlobal,
			Bindings: []Binding{{Mechanism: MechSysfs, Path: dmaLatency, Size: 4, ReadOnly: true}},
		},
	}
}

func powerTable() []*Property {
	limit := func(bits backend.Bits) Binding {
		return Binding{Mechanism: MechMSR, Addr: msr.PkgPowerLimit, Bits: bits, Lock: powerLock}
	}
	watts := func(bits backend.Bits) Binding {
		b := limit(bits)
		b.Decode, b.Encode = rawToPower, powerToRaw
		return b
	}
	return []*Property{
		{
			Name: "ppl1", Label: "RAPL PPL1", Unit: UnitWatt, Type: TypeFloat, Scope: topology.LevelPackage, Writable: true,
			Help:     "Package power limit 1 (long term).",
			Bindings: []Binding{watts(backend.Bits{High: 14, Low: 0})},
		},
		{
			Name: "ppl1_enable", Label: "RAPL PPL1 enabled", Type: TypeBool, Scope: topology.LevelPackage, Writable: true,
			Bindings: []Binding{limit(backend.Bit(15))},
		},
		{
			Name: "ppl1_clamp", Label: "RAPL PPL1 clamping", Type: TypeBool, Scope: topology.LevelPackage, Writable: true,
			Bindings: []Binding{limit(backend.Bit(16))},
		},
		{
			Name: "ppl2", Label: "RAPL PPL2", Unit: UnitWatt, Type: TypeFloat, Scope: topology.LevelPackage, Writable: true,
			Help:     "Package power limit 2 (short term).",
			Bindings: []Binding{watts(backend.Bits{High: 46, Low: 32})},
		},
		{
			Name: "ppl2_enable", Label: "RAPL PPL2 enabled", Type: TypeBool, Scope: topology.LevelPackage, Writable: true,
			Bindings: []Binding{limit(backend.Bit(47))},
		},
		{
			Name: "ppl2_clamp", Label: "RAPL PPL2 clamping", Type: TypeBool, Scope: topology.LevelPackage, Writable: true,
			Bindings: []Binding{limit(backend.Bit(48))},
		},
		{
			Name: "tdp", Label: "Thermal design power", Unit: UnitWatt, Type: TypeFloat, Scope: topology.LevelPackage,
			Bindings: []Binding{{Mechanism: MechMSR, Addr: msr.PkgPowerInfo, Bits: backend.Bits{High: 14, Low: 0}, Decode: rawToPower}},
		},
	}
}

// Registry is the set of known properties.
type Registry struct {
	props []*Property
	byID  map[string]*Property
	vfm   cpus.VFM
}

// NewRegistry returns the registry of all properties with their default bindings.
func NewRegistry() (*Registry, error) {
	var props []*Property
	for class, table := range map[string]func() []*Property{
		ClassPStates: pstatesTable,
		ClassUncore:  uncoreTable,
		ClassCStates: cstatesTable,
		ClassPMQoS:   pmqosTable,
		ClassPower:   powerTable,
	} {
		for _, p := range table() {
			p.Class = class
			props = append(props, p)
		}
	}
	// classes in presentation order, properties in table order
	slices.SortStableFunc(props, func(a, b *Property) int {
		return slices.Index(Classes, a.Class) - slices.Index(Classes, b.Class)
	})
	return newRegistry(props, 0)
}

func newRegistry(props []*Property, vfm cpus.VFM) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Property), vfm: vfm}
	for _, p := range props {
		if _, ok := r.byID[p.ID()]; ok {
			return nil, fmt.Errorf("duplicate property %s", p.ID())
		}
		for i := range p.Bindings {
			if err := p.Bindings[i].compile(); err != nil {
				return nil, fmt.Errorf("property %s: %w", p.ID(), err)
			}
		}
		r.byID[p.ID()] = p
		r.props = append(r.props, p)
	}
	return r, nil
}

// VFM returns the platform the registry was specialized for, 0 for the generic registry.
func (r *Registry) VFM() cpus.VFM {
	return r.vfm
}

// Get returns a property by its class-qualified id ("uncore.min_freq") or, when the name is
// unique across classes, by its bare name.
func (r *Registry) Get(name string) (*Property, error) {
	if p, ok := r.byID[name]; ok {
		return p, nil
	}
	var matches []*Property
	for _, p := range r.props {
		if p.Name == name || p.Flag() == name {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("unknown property %q", name)
	case 1:
		return matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, p := range matches {
		ids[i] = p.ID()
	}
	return nil, fmt.Errorf("property name %q is ambiguous, use one of: %s", name, strings.Join(ids, ", "))
}

// Class returns the properties of a class in table order.
func (r *Registry) Class(class string) []*Property {
	var props []*Property
	for _, p := range r.props {
		if p.Class == class {
			props = append(props, p)
		}
	}
	return props
}

// All returns every property.
func (r *Registry) All() []*Property {
	return slices.Clone(r.props)
}

// ForPlatform returns a copy of the registry specialized for a platform: scopes, I/O scopes,
// code tables and unsupported mechanisms follow the quirk tables.
func (r *Registry) ForPlatform(vfm cpus.VFM) (*Registry, error) {
	props := make([]*Property, len(r.props))
	for i, p := range r.props {
		props[i] = p.clone()
		applyQuirks(props[i], vfm)
	}
	return newRegistry(props, vfm)
}
