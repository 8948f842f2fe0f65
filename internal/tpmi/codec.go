package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"math/bits"
	"strings"
)

// ReservedField names the pseudo-field holding register bits that no declared field covers.
const ReservedField = "RESERVED"

// CodecError reports a missing or malformed spec entry, or a value the spec does not allow.
type CodecError struct {
	Feature  string
	Register string
	Field    string
	Msg      string
}

func (e *CodecError) Error() string {
	parts := []string{"feature " + e.Feature}
	if e.Register != "" {
		parts = append(parts, "register "+e.Register)
	}
	if e.Field != "" {
		parts = append(parts, "field "+e.Field)
	}
	return fmt.Sprintf("TPMI %s: %s", strings.Join(parts, ", "), e.Msg)
}

func (s *FeatureSet) lookup(feature, register string) (*Feature, *Register, error) {
	f, err := s.Feature(feature)
	if err != nil {
		return nil, nil, err
	}
	reg, err := f.Register(register)
	if err != nil {
		return nil, nil, err
	}
	return f, reg, nil
}

// Decode splits a raw register value into its bit fields. Bits of the register not covered by
// any field are returned under ReservedField, in place.
func (s *FeatureSet) Decode(feature, register string, raw uint64) (map[string]uint64, error) {
	_, reg, err := s.lookup(feature, register)
	if err != nil {
		return nil, err
	}
	if raw&^reg.WidthMask() != 0 {
		return nil, &CodecError{Feature: feature, Register: register, Msg: fmt.Sprintf("value %#x does not fit a %d-bit register", raw, reg.Width)}
	}
	fields := make(map[string]uint64, len(reg.Fields)+1)
	for _, f := range reg.Fields {
		fields[f.Name] = (raw & f.Mask()) >> f.Shift()
	}
	fields[ReservedField] = raw &^ reg.CoveredMask()
	return fields, nil
}

// DecodeField returns one bit field of a raw register value.
func (s *FeatureSet) DecodeField(feature, register, field string, raw uint64) (uint64, error) {
	_, reg, err := s.lookup(feature, register)
	if err != nil {
		return 0, err
	}
	f := reg.Field(field)
	if f == nil {
		return 0, &CodecError{Feature: feature, Register: register, Field: field, Msg: "field not found in spec"}
	}
	return (raw & f.Mask()) >> f.Shift(), nil
}

// Encode replaces one bit field in current and returns the new register value. All other bits,
// including reserved ones, are preserved.
func (s *FeatureSet) Encode(feature, register, field string, value, current uint64) (uint64, error) {
	_, reg, err := s.lookup(feature, register)
	if err != nil {
		return 0, err
	}
	f := reg.Field(field)
	if f == nil {
		return 0, &CodecError{Feature: feature, Register: register, Field: field, Msg: "field not found in spec"}
	}
	if f.ReadOnly {
		return 0, &CodecError{Feature: feature, Register: register, Field: field, Msg: "field is read-only"}
	}
	if bits.Len64(value) > int(f.Width()) {
		return 0, &CodecError{Feature: feature, Register: register, Field: field,
			Msg: fmt.Sprintf("value %d does not fit into %d bits", value, f.Width())}
	}
	return current&^f.Mask() | value<<f.Shift(), nil
}

// EncodeFields rebuilds a register value from decoded fields, the inverse of Decode. Fields
// missing from the map keep their bits from current.
func (s *FeatureSet) EncodeFields(feature, register string, fields map[string]uint64, current uint64) (uint64, error) {
	_, reg, err := s.lookup(feature, register)
	if err != nil {
		return 0, err
	}
	raw := current
	for name, value := range fields {
		if name == ReservedField {
			raw = raw&reg.CoveredMask() | value&^reg.CoveredMask()
			continue
		}
		f := reg.Field(name)
		if f == nil {
			return 0, &CodecError{Feature: feature, Register: register, Field: name, Msg: "field not found in spec"}
		}
		if bits.Len64(value) > int(f.Width()) {
			return 0, &CodecError{Feature: feature, Register: register, Field: name,
				Msg: fmt.Sprintf("value %d does not fit into %d bits", value, f.Width())}
		}
		raw = raw&^f.Mask() | value<<f.Shift()
	}
	return raw & reg.WidthMask(), nil
}

// ClusterBases returns the base offset of every cluster of an instance, keyed by cluster
// number. readHeader reads a header register of the instance. Features without a cluster
// layout have a single cluster 0 at offset 0.
func (f *Feature) ClusterBases(readHeader func(reg *Register) (uint64, error)) (map[int]uint32, error) {
	if f.Clusters == nil {
		return map[int]uint32{0: 0}, nil
	}
	maskReg := f.Registers[f.Clusters.MaskRegister]
	raw, err := readHeader(maskReg)
	if err != nil {
		return nil, err
	}
	maskField := maskReg.Field(f.Clusters.MaskField)
	mask := (raw & maskField.Mask()) >> maskField.Shift()
	offsets, err := readHeader(f.Registers[f.Clusters.OffsetsRegister])
	if err != nil {
		return nil, err
	}
	bases := make(map[int]uint32)
	for cluster := 0; cluster < 8; cluster++ {
		if mask&(1<<cluster) == 0 {
			continue
		}
		bases[cluster] = uint32((offsets>>(8*cluster))&0xFF) * uint32(f.Clusters.Unit)
	}
	if len(bases) == 0 {
		return nil, &CodecError{Feature: f.Name, Register: f.Clusters.MaskRegister, Field: f.Clusters.MaskField, Msg: "no clusters present"}
	}
	return bases, nil
}

// RegisterOffset returns the offset of reg within an instance for the cluster at base.
func (f *Feature) RegisterOffset(reg *Register, base uint32) uint32 {
	if reg.Header {
		return reg.Offset
	}
	return base + reg.Offset
}
