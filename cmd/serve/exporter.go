package serve

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"powerconf/internal/aggregate"
	"powerconf/internal/common"
	"powerconf/internal/props"
	"powerconf/internal/selector"
)

const promMetricPrefix = "powerconf_"

var unitSuffixes = map[string]string{
	props.UnitHz:      "_hertz",
	props.UnitWatt:    "_watts",
	props.UnitUS:      "_microseconds",
	props.UnitPercent: "_percent",
}

var rxInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// metricName returns the Prometheus name of a property, e.g. "powerconf_pstates_min_freq_hertz".
func metricName(p *props.Property) string {
	name := promMetricPrefix + p.Class + "_" + rxInvalidChars.ReplaceAllString(p.Name, "_")
	return name + unitSuffixes[p.Unit]
}

// exportable reports whether the values of a property are numbers.
func exportable(p *props.Property) bool {
	switch p.Type {
	case props.TypeInt, props.TypeFloat, props.TypeBool:
		return true
	}
	return false
}

// sampleValue converts a property value to a sample value.
func sampleValue(v any) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// exporter keeps one gauge vector per numeric property and refreshes them from the systems.
type exporter struct {
	registry   *prometheus.Registry
	properties []*props.Property
	gauges     map[string]*prometheus.GaugeVec
	errors     *prometheus.CounterVec
	mu         sync.Mutex
}

func newExporter(classes []string) (*exporter, error) {
	e := &exporter{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]*prometheus.GaugeVec),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: promMetricPrefix + "read_errors_total",
			Help: "Property reads that failed for at least one unit.",
		}, []string{"target", "property"}),
	}
	if err := e.registry.Register(e.errors); err != nil {
		return nil, err
	}
	for _, class := range classes {
		for _, p := range common.Registry().Class(class) {
			if !exportable(p) {
				continue
			}
			help := p.Label
			if p.Help != "" {
				help += ": " + p.Help
			}
			gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: metricName(p),
				Help: help,
			}, []string{"target", "scope", "package", "unit", "mechanism"})
			if err := e.registry.Register(gauge); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					return nil, err
				}
				gauge = are.ExistingCollector.(*prometheus.GaugeVec)
			}
			e.gauges[p.ID()] = gauge
			e.properties = append(e.properties, p)
		}
	}
	return e, nil
}

// update reads every exported property on the systems and replaces the gauge values. Units
// without a value have no sample.
func (e *exporter) update(ctx context.Context, systems []*common.System) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, gauge := range e.gauges {
		gauge.Reset()
	}
	for _, sys := range systems {
		// values change between updates
		sys.Flush()
		for _, p := range e.properties {
			if ctx.Err() != nil {
				return
			}
			res, err := sys.Resolver.ResolveProperty(ctx, p.ID(), selector.Selector{}, nil)
			if err != nil {
				var unsupported *props.UnsupportedMechanismError
				if errors.As(err, &unsupported) {
					continue
				}
				e.errors.WithLabelValues(sys.Name(), p.ID()).Inc()
				slog.Debug("failed to read property", slog.String("target", sys.Name()), slog.String("property", p.ID()), slog.String("error", err.Error()))
			}
			if res == nil {
				continue
			}
			e.set(sys.Name(), res)
		}
	}
}

func (e *exporter) set(targetName string, res *props.Result) {
	gauge := e.gauges[res.Property.ID()]
	scope := strings.ToLower(string(aggregate.UnitLevel(res.Property.Scope)))
	for _, rd := range res.Readings {
		v, ok := sampleValue(rd.Value)
		if !ok {
			continue
		}
		pkg := ""
		if rd.Unit.Package >= 0 {
			pkg = strconv.Itoa(rd.Unit.Package)
		}
		gauge.WithLabelValues(targetName, scope, pkg, strconv.Itoa(rd.Unit.ID), string(rd.Mechanism)).Set(v)
	}
}
