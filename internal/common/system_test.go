package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/cpus"
	"powerconf/internal/emul"
	"powerconf/internal/props"
	"powerconf/internal/selector"
	"powerconf/internal/target"
	tpmispec "powerconf/internal/tpmi"
)

const cpufreqDir = "/sys/devices/system/cpu/cpu0/cpufreq/"

// newSystem emulates a one-package Sapphire Rapids system with two cores and two threads
// per core, and opens it.
func newSystem(t *testing.T, setup func(sys *emul.System)) (*emul.System, *System) {
	t.Helper()
	es := emul.New(t.TempDir())
	require.NoError(t, es.AddCPUs(emul.Grid(1, 1, 2, 2)))
	require.NoError(t, es.CPUInfo(6, cpus.ModelSapphireRapids, "Intel(R) Xeon(R) Platinum 8480+", "fpu", "hwp"))
	if setup != nil {
		setup(es)
	}
	sys, err := OpenSystem(es.Target(), t.TempDir())
	require.NoError(t, err)
	return es, sys
}

func TestSystemFlush(t *testing.T) {
	const pci = "0000:00:03.1"
	agents := uint64(emul.AgentCoreBit | emul.AgentCacheBit | emul.AgentMemoryBit)
	es, sys := newSystem(t, func(es *emul.System) {
		require.NoError(t, es.CPUInfo(6, cpus.ModelGraniteRapidsX, "Intel(R) Xeon(R) 6980P"))
		require.NoError(t, es.AddTPMIDevice(pci, 0))
		require.NoError(t, es.AddUFSInstance(pci, 0, emul.UFSCluster{Status: agents | 20, Control: emul.UFSControl(8, 22, 12, 0x33, 0x5F, true)}))
		require.NoError(t, es.WriteFile(cpufreqDir+"scaling_max_freq", "3500000"))
	})
	require.NotNil(t, sys.Backends.TPMI)
	locs, err := sys.Backends.TPMI.Locations(tpmispec.FeatureUFS)
	require.NoError(t, err)
	ratio := func() uint64 {
		t.Helper()
		v, err := sys.Backends.TPMI.ReadField(locs[0], tpmispec.FeatureUFS, "UFS_STATUS", "CURRENT_RATIO")
		require.NoError(t, err)
		return v
	}
	maxFreq := func() string {
		t.Helper()
		v, err := sys.Backends.Sysfs.Read(cpufreqDir + "scaling_max_freq")
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, uint64(20), ratio())
	assert.Equal(t, "3500000", maxFreq())

	require.NoError(t, es.SetUFSStatus(pci, 0, 0, agents|28))
	require.NoError(t, es.WriteFile(cpufreqDir+"scaling_max_freq", "3000000"))
	assert.Equal(t, uint64(20), ratio())
	assert.Equal(t, "3500000", maxFreq())

	sys.Flush()
	assert.Equal(t, uint64(28), ratio())
	assert.Equal(t, "3000000", maxFreq())
}

func TestOpenSystem(t *testing.T) {
	_, sys := newSystem(t, nil)
	assert.Equal(t, "emulated", sys.Name())
	assert.True(t, sys.Platform.Known)
	assert.Equal(t, cpus.IntelVFM(cpus.ModelSapphireRapids), sys.Platform.VFM)
	assert.Nil(t, sys.Backends.TPMI)
	assert.Nil(t, sys.Notice)
	assert.Equal(t, []int{0, 1, 2, 3}, sys.Topology().OnlineCPUs())
	assert.Equal(t, []int{0}, sys.Topology().Packages())
}

func TestOpenSystems(t *testing.T) {
	es := emul.New(t.TempDir())
	require.NoError(t, es.AddCPUs(emul.Grid(1, 1, 1, 1)))
	require.NoError(t, es.CPUInfo(6, cpus.ModelSapphireRapids, "Intel(R) Xeon(R)"))
	// no /proc/cpuinfo
	broken := target.NewEmulTarget("broken", t.TempDir())

	systems, err := OpenSystems(context.Background(), []target.Target{es.Target(), broken}, t.TempDir())
	require.Len(t, systems, 2)
	assert.NotNil(t, systems[0])
	assert.Nil(t, systems[1])
	assert.ErrorContains(t, err, "broken")
}

func TestSetCPUOnline(t *testing.T) {
	es, sys := newSystem(t, nil)

	require.NoError(t, sys.SetCPUOnline(3, false))
	assert.Equal(t, []int{0, 1, 2}, sys.Topology().OnlineCPUs())
	assert.Equal(t, []int{3}, sys.Topology().OfflineCPUs())
	online, err := es.ReadFile("/sys/devices/system/cpu/cpu3/online")
	require.NoError(t, err)
	assert.Equal(t, "0", strings.TrimSpace(online))

	// already offline
	require.NoError(t, sys.SetCPUOnline(3, false))

	require.NoError(t, sys.SetCPUOnline(3, true))
	assert.Equal(t, []int{0, 1, 2, 3}, sys.Topology().OnlineCPUs())
	cpu, ok := sys.Topology().CPU(3)
	require.True(t, ok)
	assert.Equal(t, 0, cpu.Package)

	assert.ErrorContains(t, sys.SetCPUOnline(9, false), "CPU 9 does not exist")
}

func TestParseChange(t *testing.T) {
	tests := []struct {
		change  Change
		wantErr string
	}{
		{Change{Property: "pstates.min_freq", Value: "1.2GHz"}, ""},
		{Change{Property: "epb", Value: "6"}, ""},
		{Change{Property: "pstates.base_freq", Value: "2GHz"}, "read-only"},
		{Change{Property: "pstates.min_freq", Value: "fast"}, "fast"},
		{Change{Property: "no_such_property", Value: "1"}, "no_such_property"},
	}
	for _, tt := range tests {
		t.Run(tt.change.Property+"="+tt.change.Value, func(t *testing.T) {
			err := ParseChange(tt.change)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

// rejectMinAboveMax makes writes to scaling_min_freq of CPU 0 fail with EINVAL while the new
// minimum is above the current maximum, as the kernel does.
func rejectMinAboveMax(t *testing.T, es *emul.System) {
	es.Target().OnWrite(cpufreqDir+"scaling_min_freq", func(_ int64, data []byte) error {
		maxValue, err := es.ReadFile(cpufreqDir + "scaling_max_freq")
		require.NoError(t, err)
		minKHz, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return syscall.EINVAL
		}
		maxKHz, err := strconv.Atoi(strings.TrimSpace(maxValue))
		require.NoError(t, err)
		if minKHz > maxKHz {
			return syscall.EINVAL
		}
		return es.WriteFile(cpufreqDir+"scaling_min_freq", string(data))
	})
}

func TestApplyRetry(t *testing.T) {
	es, sys := newSystem(t, func(es *emul.System) {
		require.NoError(t, es.WriteFiles(map[string]string{
			cpufreqDir + "scaling_min_freq": "1000000",
			cpufreqDir + "scaling_max_freq": "2000000",
			cpufreqDir + "cpuinfo_min_freq": "800000",
			cpufreqDir + "cpuinfo_max_freq": "3800000",
		}))
	})
	rejectMinAboveMax(t, es)

	cpu0 := selector.Selector{CPUs: "0"}
	changes := []Change{
		{Property: "pstates.min_freq", Value: "3GHz", Selector: cpu0},
		{Property: "pstates.max_freq", Value: "3.5GHz", Selector: cpu0},
	}
	outcomes := Apply(context.Background(), sys.Resolver, changes)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.NoError(t, o.Err, o.Change.Property)
		require.NotNil(t, o.Result)
	}
	assert.Equal(t, changes[0], outcomes[0].Change)
	assert.Equal(t, props.MechSysfs, outcomes[1].Result.Readings[0].Mechanism)
	minValue, err := es.ReadFile(cpufreqDir + "scaling_min_freq")
	require.NoError(t, err)
	assert.Equal(t, "3000000", strings.TrimSpace(minValue))
	maxValue, err := es.ReadFile(cpufreqDir + "scaling_max_freq")
	require.NoError(t, err)
	assert.Equal(t, "3500000", strings.TrimSpace(maxValue))
}

func TestApplyFailure(t *testing.T) {
	es, sys := newSystem(t, func(es *emul.System) {
		require.NoError(t, es.WriteFiles(map[string]string{
			cpufreqDir + "scaling_min_freq": "1000000",
			cpufreqDir + "scaling_max_freq": "2000000",
		}))
	})
	rejectMinAboveMax(t, es)

	cpu0 := selector.Selector{CPUs: "0"}
	outcomes := Apply(context.Background(), sys.Resolver, []Change{
		{Property: "pstates.min_freq", Value: "3GHz", Selector: cpu0},
		{Property: "pstates.nonexistent", Value: "1"},
	})
	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	require.NotNil(t, outcomes[0].Result)
	assert.NotEmpty(t, outcomes[0].Result.Errors)
	assert.Error(t, outcomes[1].Err)
	assert.Nil(t, outcomes[1].Result)

	minValue, err := es.ReadFile(cpufreqDir + "scaling_min_freq")
	require.NoError(t, err)
	assert.Equal(t, "1000000", strings.TrimSpace(minValue))
}
