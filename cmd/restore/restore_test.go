package restore

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/common"
	"powerconf/internal/props"
	"powerconf/internal/report"
	"powerconf/internal/selector"
)

func TestSettingsChanges(t *testing.T) {
	docs, err := report.ParseSettings([]byte(`target: host1
properties:
  - property: pstates.min_freq
    values:
      - value: "800000000"
        mechanism: sysfs
        cpus: 0-3
      - value: "1200000000"
        mechanism: msr
        cpus: "4"
  - property: pstates.base_freq
    values:
      - value: "2000000000"
        mechanism: cppc
  - property: uncore.max_freq
    values:
      - value: "2400000000"
        mechanism: tpmi
        packages: "0"
        dies: 0-1
  - property: pstates.turbo
    values:
      - value: "on"
`))
	require.NoError(t, err)
	mechs := []props.Mechanism{props.MechSysfs}
	changes, err := settingsChanges(docs[0], mechs)
	require.NoError(t, err)
	assert.Equal(t, []common.Change{
		{Property: "pstates.min_freq", Value: "800000000", Selector: selector.Selector{CPUs: "0-3"}, Mechanisms: mechs},
		{Property: "pstates.min_freq", Value: "1200000000", Selector: selector.Selector{CPUs: "4"}, Mechanisms: mechs},
		{Property: "uncore.max_freq", Value: "2400000000", Selector: selector.Selector{Packages: "0", Dies: "0-1"}, Mechanisms: mechs},
		{Property: "pstates.turbo", Value: "on", Mechanisms: mechs},
	}, changes)
}

func TestSettingsChangesErrors(t *testing.T) {
	tests := []struct {
		name     string
		settings report.Settings
		wantErr  string
	}{
		{
			name: "unknown property",
			settings: report.Settings{Properties: []report.PropertySetting{
				{Property: "pstates.warp_speed", Values: []report.ValueSetting{{Value: "9"}}},
			}},
			wantErr: "warp_speed",
		},
		{
			name: "bad value",
			settings: report.Settings{Properties: []report.PropertySetting{
				{Property: "pstates.epb", Values: []report.ValueSetting{{Value: "high", CPUs: "0"}}},
			}},
			wantErr: "pstates.epb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := settingsChanges(tt.settings, nil)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
