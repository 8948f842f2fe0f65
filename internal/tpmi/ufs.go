package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"slices"
	"strings"
)

// UFS agent types, in the order they are reported.
const (
	AgentCore   = "core"
	AgentCache  = "cache"
	AgentIO     = "io"
	AgentMemory = "memory"
)

var agentTypes = []string{AgentCore, AgentCache, AgentIO, AgentMemory}

// UFSUnit is one cluster of a UFS feature instance, in TPMI enumeration order.
type UFSUnit struct {
	Package  int
	PCI      string
	Instance int
	Cluster  int
	Agents   []string
	// DieMap is the die map kind declared by the UFS spec.
	DieMap string
}

// Compute reports whether the unit hosts CPU cores.
func (u UFSUnit) Compute() bool {
	return slices.Contains(u.Agents, AgentCore)
}

func (u UFSUnit) String() string {
	return fmt.Sprintf("package %d, device %s, instance %d, cluster %d", u.Package, u.PCI, u.Instance, u.Cluster)
}

// AgentsFromStatus decodes the AGENT_TYPE_* fields of a UFS_STATUS value.
func (s *FeatureSet) AgentsFromStatus(status uint64) ([]string, error) {
	var agents []string
	for _, agent := range agentTypes {
		v, err := s.DecodeField(FeatureUFS, "UFS_STATUS", "AGENT_TYPE_"+strings.ToUpper(agent), status)
		if err != nil {
			return nil, err
		}
		if v != 0 {
			agents = append(agents, agent)
		}
	}
	return agents, nil
}

// AgentsTitle describes a set of agent types for humans: "I/O", "Cache and memory" or
// "Cache, I/O, and memory".
func AgentsTitle(agents []string) string {
	var names []string
	for _, agent := range agentTypes {
		if !slices.Contains(agents, agent) {
			continue
		}
		if agent == AgentIO {
			names = append(names, "I/O")
		} else {
			names = append(names, agent)
		}
	}
	var title string
	switch len(names) {
	case 0:
		return "Unknown"
	case 1:
		title = names[0]
	case 2:
		title = names[0] + " and " + names[1]
	default:
		title = strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
	return strings.ToUpper(title[:1]) + title[1:]
}
