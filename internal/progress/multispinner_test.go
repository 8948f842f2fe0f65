package progress

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSpinner(t *testing.T) {
	ms := NewMultiSpinner(&bytes.Buffer{})
	require.NoError(t, ms.AddSpinner("A"))
	require.NoError(t, ms.AddSpinner("B"))
	assert.Error(t, ms.AddSpinner("A"))
}

func TestStatus(t *testing.T) {
	var out bytes.Buffer
	ms := NewMultiSpinner(&out)
	require.NoError(t, ms.AddSpinner("node1"))
	require.NoError(t, ms.AddSpinner("node2"))
	ms.Start()
	require.NoError(t, ms.Status("node1", "probing topology"))
	require.NoError(t, ms.Status("node2", "ready"))
	assert.Error(t, ms.Status("node3", "ready"))
	ms.Finish()
	// finishing twice is harmless
	ms.Finish()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "node1")
	assert.Contains(t, lines[0], "probing topology")
	assert.Contains(t, lines[1], "node2")
	assert.Contains(t, lines[1], "ready")
}

func TestStatusOnlyPrintsChanges(t *testing.T) {
	var out bytes.Buffer
	ms := NewMultiSpinner(&out)
	require.NoError(t, ms.AddSpinner("host"))
	ms.Start()
	require.NoError(t, ms.Status("host", "ready"))
	require.NoError(t, ms.Status("host", "ready"))
	ms.Finish()
	assert.Equal(t, 1, strings.Count(out.String(), "ready"))
}
