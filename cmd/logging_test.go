package cmd

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAttr(t *testing.T) {
	var sb strings.Builder
	writeAttr(&sb, "", slog.String("target", "host1"))
	writeAttr(&sb, "tpmi", slog.Int("instance", 2))
	writeAttr(&sb, "", slog.Group("msr", slog.Int("cpu", 3), slog.String("reg", "0x1b0")))
	writeAttr(&sb, "", slog.Attr{})
	assert.Equal(t, ` target="host1" tpmi.instance="2" msr.cpu="3" msr.reg="0x1b0"`, sb.String())
}

func TestSyslogHandlerWith(t *testing.T) {
	h := &SyslogHandler{level: slog.LevelInfo}
	withAttrs := h.WithAttrs([]slog.Attr{slog.String("target", "host1")}).(*SyslogHandler)
	grouped := withAttrs.WithGroup("uncore").(*SyslogHandler)
	assert.Equal(t, ` target="host1"`, withAttrs.prefix)
	assert.Equal(t, "uncore", grouped.group)
	assert.Empty(t, h.prefix)
	assert.Same(t, grouped, grouped.WithGroup(""))
	assert.True(t, h.Enabled(t.Context(), slog.LevelWarn))
	assert.False(t, h.Enabled(t.Context(), slog.LevelDebug))
}

func TestResolveOutputDir(t *testing.T) {
	dir := t.TempDir()
	got, err := resolveOutputDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	_, err = resolveOutputDir(filepath.Join(dir, "missing"))
	assert.ErrorContains(t, err, "does not exist")

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))
	_, err = resolveOutputDir(file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestConfigureLoggingConflict(t *testing.T) {
	_, err := configureLogging(false, true, true)
	assert.ErrorContains(t, err, "pick one only")
}
