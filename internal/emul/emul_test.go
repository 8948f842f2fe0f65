package emul

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"encoding/binary"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedMSR(t *testing.T) {
	sys := New(t.TempDir())
	sys.ShareMSR(0x1B0, [][]int{{0, 1}, {2, 3}})
	require.NoError(t, sys.SetMSRAll([]int{0, 1, 2, 3}, 0x1B0, 6))

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 15)
	require.NoError(t, sys.Target().WriteAt("/dev/cpu/1/msr", 0x1B0, buf))

	v, ok := sys.MSR(0, 0x1B0)
	require.True(t, ok)
	assert.Equal(t, uint64(15), v)
	v, _ = sys.MSR(2, 0x1B0)
	assert.Equal(t, uint64(6), v)
	assert.Equal(t, 1, sys.MSRWrites(1, 0x1B0))
	assert.Equal(t, 0, sys.MSRWrites(0, 0x1B0))

	_, err := sys.Target().ReadAt("/dev/cpu/0/msr", 0x1A0, 8)
	assert.ErrorIs(t, err, syscall.EIO)
}

func TestTPMIDevice(t *testing.T) {
	sys := New(t.TempDir())
	require.NoError(t, sys.AddTPMIDevice("0000:00:03.1", 1))
	require.NoError(t, sys.AddUFSInstance("0000:00:03.1", 0, UFSCluster{Status: AgentCoreBit, Control: UFSControl(8, 22, 0, 0, 0, false)}))

	dump, err := sys.ReadFile("/sys/kernel/debug/tpmi-0000:00:03.1/tpmi-id-81/mem_dump")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dump, "TPMI Instance:0 offset:"))
	assert.Contains(t, dump, " 00000000: 00000002 00000000 00010000 00000000")

	write := "/sys/kernel/debug/tpmi-0000:00:03.1/tpmi-id-02/mem_write"
	require.NoError(t, sys.Target().WriteFile(write, []byte("0,24,0x1600")))
	assert.Equal(t, uint64(0x1600), sys.UFSControlValue("0000:00:03.1", 0, 0))

	assert.ErrorIs(t, sys.Target().WriteFile(write, []byte("0,4096,0x1")), syscall.EINVAL)
	assert.ErrorIs(t, sys.Target().WriteFile(write, []byte("garbage")), syscall.EINVAL)
}

func TestCPUsAndHotplug(t *testing.T) {
	sys := New(t.TempDir())
	require.NoError(t, sys.AddCPUs(Grid(2, 1, 2, 2)))

	online, err := sys.ReadFile("/sys/devices/system/cpu/online")
	require.NoError(t, err)
	assert.Equal(t, "0-7", online)
	core, err := sys.ReadFile("/sys/devices/system/cpu/cpu6/topology/core_id")
	require.NoError(t, err)
	assert.Equal(t, "0", core)
	pkg, err := sys.ReadFile("/sys/devices/system/cpu/cpu6/topology/physical_package_id")
	require.NoError(t, err)
	assert.Equal(t, "1", pkg)

	require.NoError(t, sys.Target().WriteFile("/sys/devices/system/cpu/cpu3/online", []byte("0")))
	online, err = sys.ReadFile("/sys/devices/system/cpu/online")
	require.NoError(t, err)
	assert.Equal(t, "0-2,4-7", online)
	exists, err := sys.Target().Exists("/sys/devices/system/cpu/cpu3/topology")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, sys.Target().WriteFile("/sys/devices/system/cpu/cpu3/online", []byte("1")))
	online, err = sys.ReadFile("/sys/devices/system/cpu/online")
	require.NoError(t, err)
	assert.Equal(t, "0-7", online)
}
