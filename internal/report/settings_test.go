package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/props"
	"powerconf/internal/selector"
	"powerconf/internal/topology"
)

func property(t *testing.T, id string) *props.Property {
	t.Helper()
	reg, err := props.NewRegistry()
	require.NoError(t, err)
	p, err := reg.Get(id)
	require.NoError(t, err)
	return p
}

func TestNewSettings(t *testing.T) {
	minFreq := &props.Result{
		Property: property(t, "pstates.min_freq"),
		Groups: []props.Group{
			{Value: int64(800_000_000), Mechanism: props.MechSysfs, CPUs: []int{0, 1, 2, 3}},
			{Value: int64(1_200_000_000), Mechanism: props.MechMSR, CPUs: []int{4}},
		},
	}
	uncoreMax := &props.Result{
		Property: property(t, "uncore.max_freq"),
		Groups: []props.Group{{
			Value:     int64(2_400_000_000),
			Mechanism: props.MechTPMI,
			Units:     []topology.Unit{{Package: 0, ID: 0}, {Package: 0, ID: 1}, {Package: 1, ID: 0}},
		}},
	}
	pkgLimit := &props.Result{
		Property: property(t, "cstates.pkg_cstate_limit"),
		Groups: []props.Group{{
			Value:     "PC6",
			Mechanism: props.MechMSR,
			Units:     []topology.Unit{{Package: 0, ID: 0}, {Package: 1, ID: 1}},
		}},
	}
	turbo := &props.Result{
		Property: property(t, "pstates.turbo"),
		Groups:   []props.Group{{Value: true, Mechanism: props.MechSysfs, Units: []topology.Unit{{Package: -1}}}},
	}
	epp := &props.Result{
		Property: property(t, "pstates.epp"),
		Groups:   []props.Group{{Value: props.Unavailable{}, CPUs: []int{0, 1}}},
	}

	s := NewSettings("host1", []*props.Result{minFreq, nil, uncoreMax, pkgLimit, turbo, epp})
	want := Settings{
		Target: "host1",
		Properties: []PropertySetting{
			{Property: "pstates.min_freq", Values: []ValueSetting{
				{Value: "800000000", Mechanism: "sysfs", CPUs: "0-3"},
				{Value: "1200000000", Mechanism: "msr", CPUs: "4"},
			}},
			{Property: "uncore.max_freq", Values: []ValueSetting{
				{Value: "2400000000", Mechanism: "tpmi", Packages: "0", Dies: "0-1"},
				{Value: "2400000000", Mechanism: "tpmi", Packages: "1", Dies: "0"},
			}},
			{Property: "cstates.pkg_cstate_limit", Values: []ValueSetting{
				{Value: "PC6", Mechanism: "msr", Packages: "0-1"},
			}},
			{Property: "pstates.turbo", Values: []ValueSetting{
				{Value: "on", Mechanism: "sysfs"},
			}},
		},
	}
	assert.Equal(t, want, s)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := Settings{
		Target: "host1",
		Properties: []PropertySetting{
			{Property: "uncore.min_freq", Values: []ValueSetting{{Value: "800000000", Packages: "0", Dies: "0-2"}}},
		},
	}
	data, err := s.Marshal()
	require.NoError(t, err)
	docs, err := ParseSettings(data)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, s, docs[0])
	assert.Equal(t, selector.Selector{Packages: "0", Dies: "0-2"}, docs[0].Properties[0].Values[0].Selector())
}

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		targets []string
		wantErr string
	}{
		{
			name: "multiple documents",
			data: `target: host1
properties:
  - property: pstates.epb
    values:
      - value: "6"
        cpus: 0-3
---
target: host2
properties:
  - property: pstates.turbo
    values:
      - value: "off"
`,
			targets: []string{"host1", "host2"},
		},
		{
			name:    "empty",
			data:    "",
			wantErr: "no settings found",
		},
		{
			name:    "unknown key",
			data:    "properties:\n  - property: pstates.epb\n    value: 6\n",
			wantErr: "failed to parse settings",
		},
		{
			name:    "no property name",
			data:    "properties:\n  - values:\n      - value: \"6\"\n",
			wantErr: "settings entry 1 has no property name",
		},
		{
			name:    "dies without package",
			data:    "properties:\n  - property: uncore.min_freq\n    values:\n      - value: \"800000000\"\n        dies: \"1\"\n",
			wantErr: "given without a package",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := ParseSettings([]byte(tt.data))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			var targets []string
			for _, d := range docs {
				targets = append(targets, d.Target)
			}
			assert.Equal(t, tt.targets, targets)
		})
	}
}

func TestForTarget(t *testing.T) {
	one := []Settings{{Target: "host1"}}
	two := []Settings{{Target: "host1"}, {Target: "host2"}}

	s, ok := ForTarget(two, "host2")
	assert.True(t, ok)
	assert.Equal(t, "host2", s.Target)
	_, ok = ForTarget(two, "host3")
	assert.False(t, ok)
	// a single document applies anywhere
	s, ok = ForTarget(one, "other")
	assert.True(t, ok)
	assert.Equal(t, "host1", s.Target)
}

func TestReadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("properties:\n  - property: pstates.epb\n    values:\n      - value: \"4\"\n"), 0600))
	docs, err := ReadSettings(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "pstates.epb", docs[0].Properties[0].Property)

	_, err = ReadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
