package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"math"
)

// specialSource is a property a special value is read from, with the mechanisms used for it.
// Sources are fixed: the mechanisms chosen for a write do not apply to them.
type specialSource struct {
	prop  string
	mechs []Mechanism
}

var specialSources = map[string]map[string][]specialSource{
	ClassPStates: {
		SpecialMin:  {{"pstates.min_freq_limit", []Mechanism{MechSysfs}}},
		SpecialMax:  {{"pstates.max_freq_limit", []Mechanism{MechSysfs}}},
		SpecialBase: {{"pstates.base_freq", []Mechanism{MechSysfs, MechCPPC, MechMSR}}},
		SpecialHFM:  {{"pstates.base_freq", []Mechanism{MechSysfs, MechCPPC, MechMSR}}},
		SpecialP1:   {{"pstates.base_freq", []Mechanism{MechSysfs, MechCPPC, MechMSR}}},
		SpecialEff:  {{"pstates.max_eff_freq", []Mechanism{MechMSR}}, {"pstates.min_freq_limit", []Mechanism{MechSysfs}}},
		SpecialLFM:  {{"pstates.max_eff_freq", []Mechanism{MechMSR}}, {"pstates.min_freq_limit", []Mechanism{MechSysfs}}},
		SpecialPn:   {{"pstates.max_eff_freq", []Mechanism{MechMSR}}, {"pstates.min_freq_limit", []Mechanism{MechSysfs}}},
		SpecialPm:   {{"pstates.min_oper_freq", []Mechanism{MechMSR, MechCPPC}}},
	},
	ClassUncore: {
		SpecialMin: {{"uncore.min_freq_limit", []Mechanism{MechSysfs}}},
		SpecialMax: {{"uncore.max_freq_limit", []Mechanism{MechSysfs}}},
	},
}

const mdlStep = 100_000_000

// resolveSpecial turns a special value of p into a concrete value for one unit. Values that
// are not specials with a source, such as "unlimited", are returned as they are.
func (r *Resolver) resolveSpecial(p *Property, a *access, value any) (any, error) {
	s, ok := value.(string)
	if !ok || !p.IsSpecial(s) {
		return value, nil
	}
	if p.Class == ClassUncore && s == SpecialMDL {
		lo, err := r.resolveSpecial(p, a, SpecialMin)
		if err != nil {
			return nil, err
		}
		hi, err := r.resolveSpecial(p, a, SpecialMax)
		if err != nil {
			return nil, err
		}
		return mdlValue(lo, hi)
	}
	sources, ok := specialSources[p.Class][s]
	if !ok {
		return value, nil
	}
	for _, src := range sources {
		sp, err := r.reg.Get(src.prop)
		if err != nil {
			return nil, err
		}
		v, _, _, err := r.readAccess(sp, filterBindings(sp, src.mechs), a, false)
		if err != nil {
			return nil, fmt.Errorf("cannot resolve %q: %w", s, err)
		}
		if !IsUnavailable(v) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("cannot resolve %q for %s: %s is not available", s, p.ID(), sources[len(sources)-1].prop)
}

// mdlValue returns the frequency half way between lo and hi, rounded to the uncore ratio step.
func mdlValue(lo, hi any) (int64, error) {
	var freqs [2]float64
	for i, v := range []any{lo, hi} {
		f, ok := toFloat(v)
		if _, isBool := v.(bool); !ok || isBool {
			return 0, fmt.Errorf("cannot resolve %q: %v (%T) is not a frequency", SpecialMDL, v, v)
		}
		freqs[i] = f
	}
	mean := (freqs[0] + freqs[1]) / 2
	return int64(math.Round(mean/mdlStep)) * mdlStep, nil
}

// filterBindings returns the bindings of p through mechs, ordered by mechs.
func filterBindings(p *Property, mechs []Mechanism) []Binding {
	var bindings []Binding
	for _, m := range mechs {
		for _, b := range p.Bindings {
			if b.Mechanism == m {
				bindings = append(bindings, b)
			}
		}
	}
	return bindings
}
