package sysfs

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/backend"
	"powerconf/internal/emul"
)

const maxFreq = "/sys/devices/system/cpu/cpu0/cpufreq/scaling_max_freq"

func TestReadWrite(t *testing.T) {
	sys := emul.New(t.TempDir())
	require.NoError(t, sys.WriteFile(maxFreq, "3000000\n"))
	s := New(sys.Target())

	v, err := s.Read(maxFreq)
	require.NoError(t, err)
	assert.Equal(t, "3000000", v)
	n, err := s.ReadInt(maxFreq)
	require.NoError(t, err)
	assert.Equal(t, int64(3000000), n)

	require.NoError(t, s.WriteInt(maxFreq, 2000000))
	content, err := sys.ReadFile(maxFreq)
	require.NoError(t, err)
	assert.Equal(t, "2000000", content)
	n, err = s.ReadInt(maxFreq)
	require.NoError(t, err)
	assert.Equal(t, int64(2000000), n)
}

func TestCache(t *testing.T) {
	sys := emul.New(t.TempDir())
	require.NoError(t, sys.WriteFile(maxFreq, "3000000"))
	s := New(sys.Target())
	_, err := s.Read(maxFreq)
	require.NoError(t, err)

	// changed behind the cache
	require.NoError(t, sys.WriteFile(maxFreq, "1000000"))
	v, err := s.Read(maxFreq)
	require.NoError(t, err)
	assert.Equal(t, "3000000", v)
	v, err = s.ReadFresh(maxFreq)
	require.NoError(t, err)
	assert.Equal(t, "1000000", v)

	s.Flush()
	v, err = s.Read(maxFreq)
	require.NoError(t, err)
	assert.Equal(t, "1000000", v)
}

func TestNotSupported(t *testing.T) {
	sys := emul.New(t.TempDir())
	require.NoError(t, sys.WriteFile("/sys/devices/system/cpu/cpu0/cpufreq/bad", "abc"))
	s := New(sys.Target())

	_, err := s.Read(maxFreq)
	assert.True(t, backend.IsNotSupported(err))
	err = s.Write(maxFreq, "1")
	assert.True(t, backend.IsNotSupported(err))
	_, err = s.List("/sys/devices/system/cpu/cpu0/cpuidle")
	assert.True(t, backend.IsNotSupported(err))

	_, err = s.ReadInt("/sys/devices/system/cpu/cpu0/cpufreq/bad")
	require.Error(t, err)
	assert.False(t, backend.IsNotSupported(err))

	assert.True(t, s.Exists("/sys/devices/system/cpu/cpu0/cpufreq"))
	assert.False(t, s.Exists(maxFreq))
}

func TestReadBinary(t *testing.T) {
	sys := emul.New(t.TempDir())
	require.NoError(t, sys.WriteFile("/dev/cpu_dma_latency", "\x00\x94\x35\x77"))
	s := New(sys.Target())

	data, err := s.ReadBinary("/dev/cpu_dma_latency", 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x94, 0x35, 0x77}, data)

	_, err = s.ReadBinary("/dev/cpu_dma_latency", 8)
	assert.True(t, backend.IsNotSupported(err))
	_, err = s.ReadBinary("/dev/missing", 4)
	assert.True(t, backend.IsNotSupported(err))
}
