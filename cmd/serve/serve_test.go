package serve

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerconf/internal/backend/msr"
	"powerconf/internal/common"
	"powerconf/internal/cpus"
	"powerconf/internal/emul"
	"powerconf/internal/props"
)

func TestMetricName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"pstates.min_freq", "powerconf_pstates_min_freq_hertz"},
		{"uncore.max_freq", "powerconf_uncore_max_freq_hertz"},
		{"pstates.epb", "powerconf_pstates_epb"},
		{"power.ppl1", "powerconf_power_ppl1_watts"},
		{"pmqos.latency_limit", "powerconf_pmqos_latency_limit_microseconds"},
	}
	for _, tt := range tests {
		p, err := common.Registry().Get(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, metricName(p), tt.id)
	}
}

func TestSampleValue(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{int64(2_000_000_000), 2e9, true},
		{125.5, 125.5, true},
		{true, 1, true},
		{false, 0, true},
		{"performance", 0, false},
		{props.Unavailable{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := sampleValue(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.InDelta(t, tt.want, got, 0, "%v", tt.in)
	}
}

func TestExportable(t *testing.T) {
	for id, want := range map[string]bool{
		"pstates.epb":       true,
		"pstates.turbo":     true,
		"power.ppl1":        true,
		"pstates.governor":  false,
		"pstates.governors": false,
	} {
		p, err := common.Registry().Get(id)
		require.NoError(t, err)
		assert.Equal(t, want, exportable(p), id)
	}
}

// gaugeValues returns the samples of a metric keyed by their unit label.
func gaugeValues(t *testing.T, reg *prometheus.Registry, name string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			var unit string
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "unit" {
					unit = lp.GetValue()
				}
			}
			values[unit] = m.GetGauge().GetValue()
		}
	}
	return values
}

func newSystem(t *testing.T) (*emul.System, *common.System) {
	t.Helper()
	es := emul.New(t.TempDir())
	require.NoError(t, es.AddCPUs(emul.Grid(1, 1, 2, 1)))
	require.NoError(t, es.CPUInfo(6, cpus.ModelSapphireRapids, "Intel(R) Xeon(R) Platinum 8480+"))
	require.NoError(t, es.WriteFiles(map[string]string{
		"/sys/devices/system/cpu/cpu0/cpufreq/scaling_max_freq": "3500000",
		"/sys/devices/system/cpu/cpu1/cpufreq/scaling_max_freq": "2000000",
	}))
	require.NoError(t, es.SetMSRAll([]int{0, 1}, msr.EnergyPerfBias, 6))
	sys, err := common.OpenSystem(es.Target(), t.TempDir())
	require.NoError(t, err)
	return es, sys
}

func TestExporterUpdate(t *testing.T) {
	es, sys := newSystem(t)
	e, err := newExporter([]string{"pstates"})
	require.NoError(t, err)
	for _, p := range e.properties {
		assert.Equal(t, "pstates", p.Class)
		assert.True(t, exportable(p))
	}

	ctx := context.Background()
	e.update(ctx, []*common.System{sys})
	assert.Equal(t, map[string]float64{"0": 3.5e9, "1": 2e9}, gaugeValues(t, e.registry, "powerconf_pstates_max_freq_hertz"))
	assert.Equal(t, map[string]float64{"0": 6, "1": 6}, gaugeValues(t, e.registry, "powerconf_pstates_epb"))

	require.NoError(t, es.SetMSR(1, msr.EnergyPerfBias, 9))
	require.NoError(t, es.WriteFile("/sys/devices/system/cpu/cpu1/cpufreq/scaling_max_freq", "2500000"))
	e.update(ctx, []*common.System{sys})
	assert.Equal(t, map[string]float64{"0": 6, "1": 9}, gaugeValues(t, e.registry, "powerconf_pstates_epb"))
	assert.Equal(t, map[string]float64{"0": 3.5e9, "1": 2.5e9}, gaugeValues(t, e.registry, "powerconf_pstates_max_freq_hertz"))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	e.update(canceled, []*common.System{sys})
	assert.Empty(t, gaugeValues(t, e.registry, "powerconf_pstates_epb"))
}

func TestServer(t *testing.T) {
	_, sys := newSystem(t)
	e, err := newExporter([]string{"pstates"})
	require.NoError(t, err)
	e.update(context.Background(), []*common.System{sys})

	server := httptest.NewServer(newServer(":0", e).Handler)
	defer server.Close()
	resp, err := server.Client().Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `powerconf_pstates_epb{mechanism="msr",package="0",scope="cpu",target="emulated",unit="1"} 6`)
}

func TestDisplayAddr(t *testing.T) {
	assert.Equal(t, "localhost:9101", displayAddr(":9101"))
	assert.Equal(t, "10.0.0.1:9200", displayAddr("10.0.0.1:9200"))
}
