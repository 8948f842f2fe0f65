package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v2"

	"powerconf/internal/aggregate"
	"powerconf/internal/props"
	"powerconf/internal/selector"
	"powerconf/internal/topology"
	"powerconf/internal/util"
)

// Settings are resolved property values in the YAML form printed by "info --yaml" and read
// back by "restore".
type Settings struct {
	Target     string            `yaml:"target,omitempty"`
	Properties []PropertySetting `yaml:"properties"`
}

// PropertySetting holds the value groups of one property.
type PropertySetting struct {
	Property string         `yaml:"property"`
	Values   []ValueSetting `yaml:"values"`
}

// ValueSetting is one value and the units it applies to. Units are given as CPU numbers,
// packages, or dies of one package; no units means the whole system.
type ValueSetting struct {
	Value     string `yaml:"value"`
	Mechanism string `yaml:"mechanism,omitempty"`
	CPUs      string `yaml:"cpus,omitempty"`
	Packages  string `yaml:"packages,omitempty"`
	Dies      string `yaml:"dies,omitempty"`
}

// Selector returns the target selection the value applies to.
func (v ValueSetting) Selector() selector.Selector {
	return selector.Selector{CPUs: v.CPUs, Packages: v.Packages, Dies: v.Dies}
}

// NewSettings converts results into settings. Unavailable values are left out, and so are
// properties without any value.
func NewSettings(targetName string, results []*props.Result) Settings {
	s := Settings{Target: targetName}
	for _, res := range results {
		if res == nil {
			continue
		}
		ps := PropertySetting{Property: res.Property.ID()}
		level := aggregate.UnitLevel(res.Property.Scope)
		for _, g := range res.Groups {
			if props.IsUnavailable(g.Value) {
				continue
			}
			ps.Values = append(ps.Values, valueSettings(g, level)...)
		}
		if len(ps.Values) > 0 {
			s.Properties = append(s.Properties, ps)
		}
	}
	return s
}

func valueSettings(g props.Group, level topology.Level) []ValueSetting {
	base := ValueSetting{Value: props.RawValue(g.Value), Mechanism: string(g.Mechanism)}
	switch level {
	case topology.LevelGlobal:
		return []ValueSetting{base}
	case topology.LevelPackage:
		ids := make([]int, len(g.Units))
		for i, u := range g.Units {
			ids[i] = u.ID
		}
		base.Packages = util.IntListToRangeString(ids)
		return []ValueSetting{base}
	case topology.LevelDie:
		byPackage := make(map[int][]int)
		for _, u := range g.Units {
			byPackage[u.Package] = append(byPackage[u.Package], u.ID)
		}
		var values []ValueSetting
		for _, pkg := range slices.Sorted(maps.Keys(byPackage)) {
			v := base
			v.Packages = fmt.Sprint(pkg)
			v.Dies = util.IntListToRangeString(byPackage[pkg])
			values = append(values, v)
		}
		return values
	}
	base.CPUs = util.IntListToRangeString(g.CPUs)
	return []ValueSetting{base}
}

// Marshal renders settings as YAML.
func (s Settings) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// ParseSettings parses settings YAML. The data may hold several documents separated by "---",
// one per target, as printed by "info --yaml" for multiple targets.
func ParseSettings(data []byte) ([]Settings, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.SetStrict(true)
	var docs []Settings
	for {
		var s Settings
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse settings: %w", err)
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		docs = append(docs, s)
	}
	if len(docs) == 0 {
		return nil, errors.New("no settings found")
	}
	return docs, nil
}

func (s Settings) validate() error {
	for i, ps := range s.Properties {
		if ps.Property == "" {
			return fmt.Errorf("settings entry %d has no property name", i+1)
		}
		for _, v := range ps.Values {
			if v.Dies != "" && v.Packages == "" {
				return fmt.Errorf("%s: dies %s are given without a package", ps.Property, v.Dies)
			}
		}
	}
	return nil
}

// ForTarget returns the settings of the named target. A single document applies to any target,
// so that settings saved on one system can be restored on another.
func ForTarget(docs []Settings, targetName string) (Settings, bool) {
	for _, s := range docs {
		if s.Target == targetName {
			return s, true
		}
	}
	if len(docs) == 1 {
		return docs[0], true
	}
	return Settings{}, false
}

// ReadSettings reads a settings file.
func ReadSettings(path string) ([]Settings, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, err
	}
	return ParseSettings(data)
}
