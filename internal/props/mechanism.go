package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"slices"
	"strings"
)

// Mechanism is a way of accessing a property value.
type Mechanism string

const (
	MechSysfs Mechanism = "sysfs"
	MechMSR   Mechanism = "msr"
	MechTPMI  Mechanism = "tpmi"
	MechCPPC  Mechanism = "cppc"
	MechDoc   Mechanism = "doc"
)

// Mechanisms lists every mechanism in the default preference order.
var Mechanisms = []Mechanism{MechSysfs, MechTPMI, MechMSR, MechCPPC, MechDoc}

var mechanismDescriptions = map[Mechanism]string{
	MechSysfs: "Linux sysfs file-system",
	MechMSR:   "Model Specific Register (MSR)",
	MechTPMI:  "Topology Aware Register and PM Capsule Interface (TPMI)",
	MechCPPC:  "ACPI Collaborative Processor Performance Control (CPPC)",
	MechDoc:   "Hardware documentation",
}

// Description returns a human-readable name of the mechanism.
func (m Mechanism) Description() string {
	if d, ok := mechanismDescriptions[m]; ok {
		return d
	}
	return string(m)
}

// ParseMechanism parses a mechanism name.
func ParseMechanism(name string) (Mechanism, error) {
	m := Mechanism(strings.ToLower(strings.TrimSpace(name)))
	if !slices.Contains(Mechanisms, m) {
		return "", fmt.Errorf("unknown mechanism %q, use one of: %s", name, JoinMechanisms(Mechanisms))
	}
	return m, nil
}

// ParseMechanisms parses a comma-separated list of mechanism names. Duplicates are dropped and
// the order is preserved. An empty list yields nil, meaning the default order.
func ParseMechanisms(list string) ([]Mechanism, error) {
	var mechs []Mechanism
	for name := range strings.SplitSeq(list, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		m, err := ParseMechanism(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(mechs, m) {
			mechs = append(mechs, m)
		}
	}
	return mechs, nil
}

// JoinMechanisms renders mechanisms as a comma-separated list.
func JoinMechanisms(mechs []Mechanism) string {
	names := make([]string, len(mechs))
	for i, m := range mechs {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}
