package property

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/backend/msr"
	"powerconf/internal/common"
	"powerconf/internal/cpus"
	"powerconf/internal/emul"
	"powerconf/internal/props"
	"powerconf/internal/report"
	"powerconf/internal/selector"
)

func TestCommands(t *testing.T) {
	cmds := Commands()
	require.Len(t, cmds, len(props.Classes))
	for i, cmd := range cmds {
		assert.Equal(t, props.Classes[i], cmd.Name())
		assert.Equal(t, "primary", cmd.GroupID)
		var sub []string
		for _, c := range cmd.Commands() {
			sub = append(sub, c.Name())
		}
		assert.ElementsMatch(t, []string{"info", "config"}, sub)
	}
}

func TestRequestedProperties(t *testing.T) {
	cmd := newInfoCmd(props.ClassPStates)
	ids, explicit := requestedProperties(cmd, props.ClassPStates)
	assert.False(t, explicit)
	assert.Len(t, ids, len(common.Registry().Class(props.ClassPStates)))

	cmd = newInfoCmd(props.ClassPStates)
	require.NoError(t, cmd.ParseFlags([]string{"--epb", "--max-freq", "--turbo=false"}))
	ids, explicit = requestedProperties(cmd, props.ClassPStates)
	assert.True(t, explicit)
	assert.Equal(t, []string{"pstates.max_freq", "pstates.epb"}, ids)
}

func TestRequestedChanges(t *testing.T) {
	cmd := newConfigCmd(props.ClassUncore)
	// read-only properties have no config flag
	assert.Nil(t, cmd.Flags().Lookup("cur-freq"))
	require.NoError(t, cmd.ParseFlags([]string{"--min-freq", "800MHz", "--max-freq", "max", "--dies", "0-1", "--packages", "0", "--mechanisms", "tpmi"}))
	changes, err := requestedChanges(cmd, props.ClassUncore)
	require.NoError(t, err)
	sel := selector.Selector{Dies: "0-1", Packages: "0"}
	assert.Equal(t, []common.Change{
		{Property: "uncore.min_freq", Value: "800MHz", Selector: sel, Mechanisms: []props.Mechanism{props.MechTPMI}},
		{Property: "uncore.max_freq", Value: "max", Selector: sel, Mechanisms: []props.Mechanism{props.MechTPMI}},
	}, changes)
	for _, c := range changes {
		assert.NoError(t, common.ParseChange(c))
	}

	cmd = newConfigCmd(props.ClassPStates)
	require.NoError(t, cmd.ParseFlags([]string{"--epb", "6", "--mechanisms", "smbus"}))
	_, err = requestedChanges(cmd, props.ClassPStates)
	assert.Error(t, err)
}

func TestValidateConfigFlags(t *testing.T) {
	tests := []struct {
		args    []string
		wantErr string
	}{
		{[]string{"--epb", "6"}, ""},
		{[]string{"--epb", "lots"}, "epb"},
		{[]string{"--min-freq", "1.2GHz", "--cpus", "first"}, "--cpus"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd := newConfigCmd(props.ClassPStates)
			require.NoError(t, cmd.ParseFlags(tt.args))
			err := validateConfigFlags(cmd, props.ClassPStates)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestIdleChange(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{"none", []string{"--c1-demotion", "off"}, "", ""},
		{"enable", []string{"--enable", "C1,C6"}, "+C1,+C6", ""},
		{"disable", []string{"--disable", "all"}, "-all", ""},
		{"both", []string{"--disable", "C6", "--enable", "all"}, "+all,-C6", ""},
		{"empty", []string{"--enable", ","}, "", "at least one"},
		{"with list", []string{"--enable", "C6", "--enabled-cstates", "C1"}, "", "cannot be combined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newConfigCmd(props.ClassCStates)
			require.NoError(t, cmd.ParseFlags(tt.args))
			got, err := idleChange(cmd)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	cmd := newConfigCmd(props.ClassCStates)
	require.NoError(t, cmd.ParseFlags([]string{"--enable", "C6", "--cpus", "0-3"}))
	changes, err := requestedChanges(cmd, props.ClassCStates)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, enabledCStates, changes[0].Property)
	assert.Equal(t, "+C6", changes[0].Value)
	assert.Equal(t, selector.Selector{CPUs: "0-3"}, changes[0].Selector)
	assert.NoError(t, common.ParseChange(changes[0]))
	assert.Nil(t, newConfigCmd(props.ClassPStates).Flags().Lookup(flagEnable))
}

func TestConfigExample(t *testing.T) {
	assert.Equal(t, "--min-freq 1.2GHz", configExample(props.ClassPStates))
	assert.Equal(t, "--ppl1 250W", configExample(props.ClassPower))
}

func TestPropertyHelp(t *testing.T) {
	p, err := common.Registry().Get("pstates.epb")
	require.NoError(t, err)
	assert.Equal(t, "EPB: "+p.Help, propertyHelp(p))

	p, err = common.Registry().Get("pstates.min_freq")
	require.NoError(t, err)
	assert.Contains(t, propertyHelp(p), "(also ")
}

func newSystem(t *testing.T) *common.System {
	t.Helper()
	es := emul.New(t.TempDir())
	require.NoError(t, es.AddCPUs(emul.Grid(1, 1, 2, 1)))
	require.NoError(t, es.CPUInfo(6, cpus.ModelSapphireRapids, "Intel(R) Xeon(R) Platinum 8480+"))
	require.NoError(t, es.SetMSRAll([]int{0, 1}, msr.EnergyPerfBias, 6))
	require.NoError(t, es.SetMSR(1, msr.EnergyPerfBias, 4))
	sys, err := common.OpenSystem(es.Target(), t.TempDir())
	require.NoError(t, err)
	return sys
}

func TestReadPropertiesAndYAML(t *testing.T) {
	sys := newSystem(t)
	cmd := newInfoCmd(props.ClassPStates)
	require.NoError(t, cmd.ParseFlags([]string{"--epb"}))
	ids, explicit := requestedProperties(cmd, props.ClassPStates)
	results, err := readProperties(context.Background(), sys, ids, explicit, cmd)
	require.NoError(t, err)
	require.Len(t, results, 1)

	var sb strings.Builder
	require.NoError(t, writeYAML(&sb, sys.Name(), results, false))
	require.NoError(t, writeYAML(&sb, "other", results, true))
	docs, err := report.ParseSettings([]byte(sb.String()))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "emulated", docs[0].Target)
	assert.Equal(t, "other", docs[1].Target)
	assert.ElementsMatch(t, []report.ValueSetting{
		{Value: "6", Mechanism: "msr", CPUs: "0"},
		{Value: "4", Mechanism: "msr", CPUs: "1"},
	}, docs[0].Properties[0].Values)
}

func TestReadPropertiesMechanism(t *testing.T) {
	sys := newSystem(t)

	// all properties: those the mechanism cannot serve are skipped
	cmd := newInfoCmd(props.ClassPStates)
	require.NoError(t, cmd.ParseFlags([]string{"--mechanisms", "msr"}))
	ids, explicit := requestedProperties(cmd, props.ClassPStates)
	results, err := readProperties(context.Background(), sys, ids, explicit, cmd)
	require.NoError(t, err)
	for _, res := range results {
		assert.Contains(t, res.Property.Mechanisms(), props.MechMSR, res.Property.ID())
	}

	// a named property the mechanism cannot serve is an error
	cmd = newInfoCmd(props.ClassPStates)
	require.NoError(t, cmd.ParseFlags([]string{"--governor", "--mechanisms", "msr"}))
	ids, explicit = requestedProperties(cmd, props.ClassPStates)
	_, err = readProperties(context.Background(), sys, ids, explicit, cmd)
	var unsupported *props.UnsupportedMechanismError
	assert.ErrorAs(t, err, &unsupported)
}
