package cppc

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/backend"
	"powerconf/internal/backend/sysfs"
	"powerconf/internal/emul"
)

func TestRead(t *testing.T) {
	sys := emul.New(t.TempDir())
	require.NoError(t, sys.WriteFiles(map[string]string{
		Path(0, NominalFreq): "2000\n",
		Path(0, LowestFreq):  "800\n",
	}))
	c := New(sysfs.New(sys.Target()))

	v, err := c.Read(0, NominalFreq)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), v)
	v, err = c.Read(0, LowestFreq)
	require.NoError(t, err)
	assert.Equal(t, int64(800), v)

	_, err = c.Read(1, NominalFreq)
	assert.True(t, backend.IsNotSupported(err))
	assert.Equal(t, "/sys/devices/system/cpu/cpu3/acpi_cppc/highest_perf", Path(3, HighestPerf))
}
