package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/backend"
	"powerconf/internal/cpus"
	"powerconf/internal/emul"
	tpmispec "powerconf/internal/tpmi"
)

const (
	pci0 = "0000:00:03.1"
	pci1 = "0000:80:03.1"
)

func loadSpecs(t *testing.T) *tpmispec.FeatureSet {
	t.Helper()
	set, _, err := tpmispec.NewSpecCache(nil).Load(cpus.IntelVFM(cpus.ModelGraniteRapidsX))
	require.NoError(t, err)
	return set
}

// twoPackages emulates two packages: package 0 has a compute instance and an I/O instance
// with two clusters, package 1 has a single compute instance.
func twoPackages(t *testing.T) *emul.System {
	t.Helper()
	sys := emul.New(t.TempDir())
	require.NoError(t, sys.AddTPMIDevice(pci0, 0))
	require.NoError(t, sys.AddTPMIDevice(pci1, 1))
	require.NoError(t, sys.AddUFSInstance(pci0, 0,
		emul.UFSCluster{Status: emul.AgentCoreBit | emul.AgentCacheBit | emul.AgentMemoryBit | 20, Control: emul.UFSControl(8, 22, 12, 0x33, 0x5F, true)}))
	require.NoError(t, sys.AddUFSInstance(pci0, 1,
		emul.UFSCluster{Status: emul.AgentIOBit | 15, Control: emul.UFSControl(8, 25, 0, 0, 0, false)},
		emul.UFSCluster{Status: emul.AgentIOBit | 15, Control: emul.UFSControl(8, 25, 0, 0, 0, false)}))
	require.NoError(t, sys.AddUFSInstance(pci1, 0,
		emul.UFSCluster{Status: emul.AgentCoreBit | 20, Control: emul.UFSControl(8, 22, 12, 0x33, 0x5F, true)}))
	return sys
}

func TestDiscover(t *testing.T) {
	sys := twoPackages(t)
	require.NoError(t, sys.WriteFile("/sys/kernel/debug/tpmi-0000:00:03.1/tpmi-id-0c/mem_dump", ""))
	b, err := New(sys.Target(), loadSpecs(t))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, b.Packages())
	assert.Equal(t, []string{pci0}, b.Devices(0))
	assert.Equal(t, []int{0x0c}, b.UnknownFeatures())
	var names []string
	for _, f := range b.Features() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{tpmispec.FeatureUFS, tpmispec.FeatureInfo}, names)

	locs, err := b.Locations(tpmispec.FeatureUFS)
	require.NoError(t, err)
	assert.Equal(t, []Location{
		{PCI: pci0, Package: 0, Instance: 0, Cluster: 0},
		{PCI: pci0, Package: 0, Instance: 1, Cluster: 0},
		{PCI: pci0, Package: 0, Instance: 1, Cluster: 1},
		{PCI: pci1, Package: 1, Instance: 0, Cluster: 0},
	}, locs)
	locs, err = b.Locations(tpmispec.FeatureUFS, 1)
	require.NoError(t, err)
	assert.Len(t, locs, 1)
}

func TestNoDevices(t *testing.T) {
	sys := emul.New(t.TempDir())
	_, err := New(sys.Target(), loadSpecs(t))
	assert.True(t, backend.IsNotSupported(err))

	require.NoError(t, sys.WriteFile("/sys/kernel/debug/tpmi-0000:00:03.1/tpmi-id-02/mem_dump", ""))
	_, err = New(sys.Target(), loadSpecs(t))
	assert.True(t, backend.IsNotSupported(err))
}

func TestInterfaceVersion(t *testing.T) {
	sys := emul.New(t.TempDir())
	require.NoError(t, sys.SetTPMI(pci0, emul.FeatureIDInfo, 0, 0, 64, 0x21))
	require.NoError(t, sys.SetTPMI(pci0, emul.FeatureIDInfo, 0, 8, 64, 0))
	_, err := New(sys.Target(), loadSpecs(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 1.1")
}

func TestReadWrite(t *testing.T) {
	sys := twoPackages(t)
	b, err := New(sys.Target(), loadSpecs(t))
	require.NoError(t, err)
	loc := Location{PCI: pci0, Package: 0, Instance: 1, Cluster: 1}

	ratio, err := b.ReadField(loc, tpmispec.FeatureUFS, "UFS_CONTROL", "MAX_RATIO")
	require.NoError(t, err)
	assert.Equal(t, uint64(25), ratio)
	header, err := b.ReadField(loc, tpmispec.FeatureUFS, "UFS_HEADER", "LOCAL_FABRIC_CLUSTER_ID_MASK")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), header)

	require.NoError(t, b.WriteField(loc, tpmispec.FeatureUFS, "UFS_CONTROL", "MAX_RATIO", 20))
	assert.Equal(t, emul.UFSControl(8, 20, 0, 0, 0, false), sys.UFSControlValue(pci0, 1, 1))
	// the other cluster is untouched
	assert.Equal(t, emul.UFSControl(8, 25, 0, 0, 0, false), sys.UFSControlValue(pci0, 1, 0))
	ratio, err = b.ReadField(loc, tpmispec.FeatureUFS, "UFS_CONTROL", "MAX_RATIO")
	require.NoError(t, err)
	assert.Equal(t, uint64(20), ratio)

	// upper word
	require.NoError(t, b.WriteField(loc, tpmispec.FeatureUFS, "UFS_CONTROL", "EFFICIENCY_LATENCY_CTRL_HIGH_THRESHOLD", 100))
	high, err := b.ReadField(loc, tpmispec.FeatureUFS, "UFS_CONTROL", "EFFICIENCY_LATENCY_CTRL_HIGH_THRESHOLD")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), high)

	err = b.WriteField(loc, tpmispec.FeatureUFS, "UFS_STATUS", "CURRENT_RATIO", 1)
	var codecErr *tpmispec.CodecError
	assert.ErrorAs(t, err, &codecErr)

	_, err = b.ReadRegister(Location{PCI: pci0, Instance: 1, Cluster: 5}, tpmispec.FeatureUFS, "UFS_CONTROL")
	assert.True(t, backend.IsNotSupported(err))
	_, err = b.ReadRegister(Location{PCI: pci0, Instance: 7}, tpmispec.FeatureUFS, "UFS_CONTROL")
	assert.True(t, backend.IsNotSupported(err))
}

func TestReadFresh(t *testing.T) {
	sys := twoPackages(t)
	b, err := New(sys.Target(), loadSpecs(t))
	require.NoError(t, err)
	loc := Location{PCI: pci0, Package: 0, Instance: 0, Cluster: 0}
	read := func(fresh bool) uint64 {
		t.Helper()
		readField := b.ReadField
		if fresh {
			readField = b.ReadFieldFresh
		}
		ratio, err := readField(loc, tpmispec.FeatureUFS, "UFS_STATUS", "CURRENT_RATIO")
		require.NoError(t, err)
		return ratio
	}
	agents := uint64(emul.AgentCoreBit | emul.AgentCacheBit | emul.AgentMemoryBit)

	assert.Equal(t, uint64(20), read(false))
	require.NoError(t, sys.SetUFSStatus(pci0, 0, 0, agents|30))
	// the parsed dump is cached
	assert.Equal(t, uint64(20), read(false))
	assert.Equal(t, uint64(30), read(true))

	require.NoError(t, sys.SetUFSStatus(pci0, 0, 0, agents|35))
	assert.Equal(t, uint64(30), read(false))
	b.Flush()
	assert.Equal(t, uint64(35), read(false))
}

func TestUFSUnits(t *testing.T) {
	sys := twoPackages(t)
	b, err := New(sys.Target(), loadSpecs(t))
	require.NoError(t, err)
	units, err := b.UFSUnits()
	require.NoError(t, err)
	require.Len(t, units, 4)
	assert.Equal(t, []string{tpmispec.AgentCore, tpmispec.AgentCache, tpmispec.AgentMemory}, units[0].Agents)
	assert.True(t, units[0].Compute())
	assert.Equal(t, []string{tpmispec.AgentIO}, units[1].Agents)
	assert.False(t, units[2].Compute())
	assert.Equal(t, 1, units[3].Package)
	assert.Equal(t, tpmispec.DieMapInstance, units[3].DieMap)
}
