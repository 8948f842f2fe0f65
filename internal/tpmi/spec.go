// Package tpmi implements the TPMI spec model and the register codec that translates raw
// TPMI register contents to named bit fields and back.
package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"

	"gopkg.in/yaml.v2"

	"powerconf/internal/cpus"
	"powerconf/internal/util"
)

// Die map kinds declare how the instances (and clusters) of a feature map to compute dies.
const (
	DieMapInstance        = "instance"
	DieMapInstanceCluster = "instance+cluster"
)

// Well known feature names.
const (
	FeatureInfo = "tpmi_info"
	FeatureUFS  = "ufs"
)

// Field is a bit field of a TPMI register.
type Field struct {
	Name     string
	High     uint
	Low      uint
	ReadOnly bool
	Desc     string
}

// Mask returns the bits of the field within the register.
func (f *Field) Mask() uint64 {
	return util.BitMask(f.High, f.Low)
}

// Shift returns the position of the lowest bit of the field.
func (f *Field) Shift() uint {
	return f.Low
}

// Width returns the number of bits in the field.
func (f *Field) Width() uint {
	return f.High - f.Low + 1
}

// Register is a TPMI register definition.
type Register struct {
	Name   string
	Offset uint32
	Width  int
	// Header registers exist once per instance and are not replicated per cluster.
	Header bool
	// ReadOnly is set when any of the fields is read-only.
	ReadOnly bool
	// Fields are sorted by their low bit.
	Fields []*Field
}

// Field returns the named bit field or nil.
func (r *Register) Field(name string) *Field {
	for _, f := range r.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// CoveredMask returns the union of the masks of all fields.
func (r *Register) CoveredMask() uint64 {
	var mask uint64
	for _, f := range r.Fields {
		mask |= f.Mask()
	}
	return mask
}

// WidthMask returns the mask of all register bits.
func (r *Register) WidthMask() uint64 {
	return util.BitMask(uint(r.Width-1), 0)
}

// ClusterLayout describes how the clusters of a feature are enumerated from its header: the
// mask field lists the present clusters, and byte N of the offsets register holds the base of
// cluster N in Unit bytes.
type ClusterLayout struct {
	MaskRegister    string
	MaskField       string
	OffsetsRegister string
	Unit            int
}

// Feature is the spec of one TPMI feature.
type Feature struct {
	Name      string
	Desc      string
	ID        int
	DieMap    string
	Clusters  *ClusterLayout
	Registers map[string]*Register
	// Path is the spec file the feature was loaded from.
	Path string
}

// Register returns the named register or a CodecError.
func (f *Feature) Register(name string) (*Register, error) {
	reg, ok := f.Registers[name]
	if !ok {
		return nil, &CodecError{Feature: f.Name, Register: name, Msg: "register not found in spec"}
	}
	return reg, nil
}

// RegisterNames returns register names sorted by offset.
func (f *Feature) RegisterNames() []string {
	names := make([]string, 0, len(f.Registers))
	for name := range f.Registers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := f.Registers[names[i]], f.Registers[names[j]]
		if ri.Header != rj.Header {
			return ri.Header
		}
		if ri.Offset != rj.Offset {
			return ri.Offset < rj.Offset
		}
		return names[i] < names[j]
	})
	return names
}

// FeatureSet holds the specs of all TPMI features known for a platform.
type FeatureSet struct {
	VFM      cpus.VFM
	Platform string
	features map[string]*Feature
}

func newFeatureSet(vfm cpus.VFM, platform string) *FeatureSet {
	return &FeatureSet{VFM: vfm, Platform: platform, features: make(map[string]*Feature)}
}

// Feature returns the named feature or a CodecError.
func (s *FeatureSet) Feature(name string) (*Feature, error) {
	f, ok := s.features[name]
	if !ok {
		return nil, &CodecError{Feature: name, Msg: "feature not found in spec"}
	}
	return f, nil
}

// FeatureByID returns the feature with the given TPMI feature id.
func (s *FeatureSet) FeatureByID(id int) (*Feature, bool) {
	for _, f := range s.features {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// Features returns all features sorted by id.
func (s *FeatureSet) Features() []*Feature {
	features := make([]*Feature, 0, len(s.features))
	for _, f := range s.features {
		features = append(features, f)
	}
	slices.SortFunc(features, func(a, b *Feature) int { return a.ID - b.ID })
	return features
}

func (s *FeatureSet) add(f *Feature) bool {
	if _, ok := s.features[f.Name]; ok {
		return false
	}
	s.features[f.Name] = f
	return true
}

type specFile struct {
	Name      string                  `yaml:"name"`
	Desc      string                  `yaml:"desc"`
	FeatureID int                     `yaml:"feature_id"`
	DieMap    string                  `yaml:"die_map"`
	Clusters  *specClusters           `yaml:"clusters"`
	Registers map[string]specRegister `yaml:"registers"`
}

type specClusters struct {
	Mask struct {
		Register string `yaml:"register"`
		Field    string `yaml:"field"`
	} `yaml:"mask"`
	Offsets string `yaml:"offsets"`
	Unit    int    `yaml:"unit"`
}

type specRegister struct {
	Offset uint32               `yaml:"offset"`
	Width  int                  `yaml:"width"`
	Header bool                 `yaml:"header"`
	Fields map[string]specField `yaml:"fields"`
}

type specField struct {
	Bits     string `yaml:"bits"`
	ReadOnly bool   `yaml:"readonly"`
	Desc     string `yaml:"desc"`
}

var bitsRe = regexp.MustCompile(`^(\d+):(\d+)$`)

// parseFeature validates spec file contents against the schema and builds the feature.
func parseFeature(path string, data []byte) (*Feature, error) {
	data = renameLegacyKeys(data)
	if err := validateSpec(data); err != nil {
		return nil, fmt.Errorf("bad TPMI spec file %s: %w", path, err)
	}
	var raw specFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse TPMI spec file %s: %w", path, err)
	}
	feature := &Feature{
		Name:      raw.Name,
		Desc:      raw.Desc,
		ID:        raw.FeatureID,
		DieMap:    raw.DieMap,
		Registers: make(map[string]*Register, len(raw.Registers)),
		Path:      path,
	}
	if feature.DieMap == "" {
		feature.DieMap = DieMapInstance
	}
	for regName, rawReg := range raw.Registers {
		if rawReg.Offset%4 != 0 {
			return nil, fmt.Errorf("bad TPMI spec file %s: offset %#x of register %s is not a multiple of 4", path, rawReg.Offset, regName)
		}
		reg := &Register{
			Name:   regName,
			Offset: rawReg.Offset,
			Width:  rawReg.Width,
			Header: rawReg.Header,
		}
		var covered uint64
		for fieldName, rawField := range rawReg.Fields {
			matches := bitsRe.FindStringSubmatch(rawField.Bits)
			if matches == nil {
				return nil, fmt.Errorf("bad TPMI spec file %s: bits %q of %s.%s should have the <high>:<low> format", path, rawField.Bits, regName, fieldName)
			}
			high, _ := strconv.Atoi(matches[1])
			low, _ := strconv.Atoi(matches[2])
			if high < low || high >= reg.Width {
				return nil, fmt.Errorf("bad TPMI spec file %s: bits %q of %s.%s do not fit a %d-bit register", path, rawField.Bits, regName, fieldName, reg.Width)
			}
			field := &Field{
				Name:     fieldName,
				High:     uint(high),
				Low:      uint(low),
				ReadOnly: rawField.ReadOnly,
				Desc:     rawField.Desc,
			}
			if covered&field.Mask() != 0 {
				return nil, fmt.Errorf("bad TPMI spec file %s: field %s.%s overlaps another field", path, regName, fieldName)
			}
			covered |= field.Mask()
			reg.ReadOnly = reg.ReadOnly || field.ReadOnly
			reg.Fields = append(reg.Fields, field)
		}
		slices.SortFunc(reg.Fields, func(a, b *Field) int { return int(a.Low) - int(b.Low) })
		feature.Registers[regName] = reg
	}
	if raw.Clusters != nil {
		feature.Clusters = &ClusterLayout{
			MaskRegister:    raw.Clusters.Mask.Register,
			MaskField:       raw.Clusters.Mask.Field,
			OffsetsRegister: raw.Clusters.Offsets,
			Unit:            raw.Clusters.Unit,
		}
		for _, name := range []string{feature.Clusters.MaskRegister, feature.Clusters.OffsetsRegister} {
			reg, ok := feature.Registers[name]
			if !ok || !reg.Header {
				return nil, fmt.Errorf("bad TPMI spec file %s: cluster layout refers to %s, which is not a header register", path, name)
			}
		}
		if feature.Registers[feature.Clusters.MaskRegister].Field(feature.Clusters.MaskField) == nil {
			return nil, fmt.Errorf("bad TPMI spec file %s: cluster mask field %s not found", path, feature.Clusters.MaskField)
		}
	}
	return feature, nil
}

var legacyFeatureIDRe = regexp.MustCompile(`(?m)^feature-id:`)

// renameLegacyKeys accepts the "feature-id" key older spec files used.
func renameLegacyKeys(data []byte) []byte {
	return legacyFeatureIDRe.ReplaceAll(data, []byte("feature_id:"))
}
