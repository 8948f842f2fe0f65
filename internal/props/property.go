/*
Package props defines the power management properties of a system (CPU frequency limits,
uncore frequencies, C-state and PM QoS settings, RAPL power limits), maps them onto the sysfs,
MSR, TPMI, CPPC and documentation mechanisms that expose them, and resolves them for a target
selection with ordered mechanism fallback.
*/
package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"slices"
	"strings"

	"github.com/casbin/govaluate"

	"powerconf/internal/backend"
	"powerconf/internal/topology"
)

// Type is the type of a property value.
type Type string

const (
	TypeInt     Type = "int"
	TypeFloat   Type = "float"
	TypeBool    Type = "bool"
	TypeString  Type = "str"
	TypeStrings Type = "list[str]"
)

// Property classes.
const (
	ClassPStates = "pstates"
	ClassUncore  = "uncore"
	ClassCStates = "cstates"
	ClassPMQoS   = "pmqos"
	ClassPower   = "power"
)

// Classes lists the property classes in presentation order.
var Classes = []string{ClassPStates, ClassUncore, ClassCStates, ClassPMQoS, ClassPower}

// Units of property values. Frequencies are in Hz, times in microseconds and power in Watts.
const (
	UnitHz      = "Hz"
	UnitPercent = "%"
	UnitUS      = "us"
	UnitWatt    = "W"
)

// Range limits integer property values.
type Range struct {
	Min int64
	Max int64
}

// Property describes one property. Properties are identified by class and name, see ID.
type Property struct {
	Name     string
	Class    string
	Label    string
	Unit     string
	Type     Type
	Scope    topology.Level
	Writable bool
	// Specials are symbolic values accepted on writes, e.g. "max".
	Specials []string
	Range    *Range
	Help     string
	// Bindings are tried in order.
	Bindings []Binding
}

// ID returns the class-qualified property name, e.g. "uncore.min_freq".
func (p *Property) ID() string {
	return p.Class + "." + p.Name
}

// Flag returns the command line option name of the property, e.g. "min-freq".
func (p *Property) Flag() string {
	return strings.ReplaceAll(p.Name, "_", "-")
}

// Mechanisms returns the mechanisms of the property in preference order.
func (p *Property) Mechanisms() []Mechanism {
	var mechs []Mechanism
	for _, b := range p.Bindings {
		if !slices.Contains(mechs, b.Mechanism) {
			mechs = append(mechs, b.Mechanism)
		}
	}
	return mechs
}

// IsSpecial reports whether value is one of the symbolic values of the property.
func (p *Property) IsSpecial(value string) bool {
	return slices.Contains(p.Specials, value)
}

func (p *Property) clone() *Property {
	c := *p
	c.Specials = slices.Clone(p.Specials)
	c.Bindings = slices.Clone(p.Bindings)
	return &c
}

// Gate is an MSR bit range that must be non-zero for a binding to apply, e.g. the HWP enable
// bit for HWP request fields.
type Gate struct {
	Addr uint32
	Bits backend.Bits
	Name string
}

// Binding maps a property onto one mechanism. Which fields apply depends on the mechanism.
//
// Decode and Encode are govaluate expressions converting between the register or file value
// ("raw") and the property value ("value"). Besides those, expressions may use "bclk" (the bus
// clock in Hz), "power_unit" (the RAPL power unit in Watts) and the CPPC attributes named in
// Vars. Booleans are 1 and 0 in expressions.
type Binding struct {
	Mechanism Mechanism
	// IOScope is the scope the register is accessed with when it is narrower than the property
	// scope: writes must go to every I/O unit and reads may disagree.
	IOScope topology.Level
	// ReadOnly bindings are skipped on writes.
	ReadOnly bool

	// Path is a sysfs path template; "{cpu}" is replaced by the CPU number and "{uncore}" by
	// the uncore frequency directory of the die.
	Path string
	// Fresh values change on their own and are never served from a cache.
	Fresh bool
	// Size makes Path a binary file holding a little-endian integer of Size bytes.
	Size int
	// IdleStates makes Path the cpuidle directory of a CPU, reported as IdleStates selects.
	IdleStates IdleView

	Addr uint32
	Bits backend.Bits
	// Lock is the bit range that locks the register against writes.
	Lock *backend.Bits
	Gate *Gate

	Feature  string
	Register string
	Field    string

	CPPC string
	// Vars maps expression variable names to CPPC attributes.
	Vars map[string]string

	Const any

	Decode string
	Encode string
	// Enum maps names to register codes for string properties.
	Enum map[string]uint64
	// RoundDown decodes unknown codes to the closest lower known code that is not "unlimited".
	RoundDown bool
	// Codes maps register codes to integer values, for values no expression describes.
	Codes map[uint64]int64

	// Unsupported, when set, is why the binding does not apply on this platform.
	Unsupported string

	decode *govaluate.EvaluableExpression
	encode *govaluate.EvaluableExpression
}

// Address returns a description of what the binding accesses.
func (b *Binding) Address() string {
	switch b.Mechanism {
	case MechSysfs:
		return b.Path
	case MechMSR:
		return fmt.Sprintf("MSR %#x bits %s", b.Addr, b.Bits)
	case MechTPMI:
		return fmt.Sprintf("TPMI %s %s.%s", b.Feature, b.Register, b.Field)
	case MechCPPC:
		return "acpi_cppc/" + b.CPPC
	case MechDoc:
		return fmt.Sprintf("constant %v", b.Const)
	}
	return string(b.Mechanism)
}

// register identifies the hardware register or file behind the binding.
func (b *Binding) register() string {
	switch b.Mechanism {
	case MechMSR:
		return fmt.Sprintf("msr:%#x", b.Addr)
	case MechTPMI:
		return "tpmi:" + b.Feature + ":" + b.Register
	}
	return string(b.Mechanism) + ":" + b.Address()
}

func (b *Binding) compile() error {
	var err error
	if b.decode, err = compileExpr(b.Decode); err != nil {
		return fmt.Errorf("decode expression %q: %w", b.Decode, err)
	}
	if b.encode, err = compileExpr(b.Encode); err != nil {
		return fmt.Errorf("encode expression %q: %w", b.Encode, err)
	}
	return nil
}
