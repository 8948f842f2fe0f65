package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"powerconf/internal/backend"
	"powerconf/internal/backend/msr"
	"powerconf/internal/backend/tpmi"
	"powerconf/internal/topology"
)

// ioTarget is what one register or file access goes through: a CPU for per-CPU mechanisms
// and a die for uncore mechanisms.
type ioTarget struct {
	cpu int
	die *topology.Die
}

func (t ioTarget) String() string {
	if t.die != nil {
		return t.die.ID.String()
	}
	return fmt.Sprintf("CPU %d", t.cpu)
}

func notSupportedf(format string, args ...any) error {
	return errors.Wrapf(backend.ErrNotSupported, format, args...)
}

// expandPath fills the {cpu} and {uncore} placeholders of a sysfs path template.
func (r *Resolver) expandPath(tmpl string, t ioTarget) (string, error) {
	p := tmpl
	if strings.Contains(p, "{cpu}") {
		if t.cpu < 0 {
			return "", notSupportedf("%s needs a CPU, %s has none", tmpl, t)
		}
		p = strings.ReplaceAll(p, "{cpu}", strconv.Itoa(t.cpu))
	}
	if strings.Contains(p, "{uncore}") {
		if t.die == nil {
			return "", notSupportedf("%s needs a die", tmpl)
		}
		dir, err := r.uncore.dir(t.die.ID)
		if err != nil {
			return "", err
		}
		p = strings.ReplaceAll(p, "{uncore}", dir)
	}
	return p, nil
}

// tpmiLocations returns the TPMI clusters that control the die of t.
func (r *Resolver) tpmiLocations(t ioTarget) ([]tpmi.Location, error) {
	if r.backends.TPMI == nil {
		return nil, notSupportedf("TPMI is not available")
	}
	if t.die == nil || len(t.die.TPMI) == 0 {
		return nil, notSupportedf("no TPMI clusters for %s", t)
	}
	locs := make([]tpmi.Location, len(t.die.TPMI))
	for i, l := range t.die.TPMI {
		locs[i] = tpmi.Location{PCI: l.PCI, Package: t.die.ID.Package, Instance: l.Instance, Cluster: l.Cluster}
	}
	return locs, nil
}

// checkCPU fails for MSR accesses without a CPU, such as dies that have none.
func checkCPU(t ioTarget) error {
	if t.cpu < 0 {
		return notSupportedf("MSRs need a CPU, %s has none", t)
	}
	return nil
}

func (r *Resolver) checkGate(b *Binding, cpu int) error {
	if b.Gate == nil {
		return nil
	}
	v, err := r.backends.MSR.ReadBits(cpu, b.Gate.Addr, b.Gate.Bits)
	if err != nil {
		return err
	}
	if v == 0 {
		return notSupportedf("%s is disabled on CPU %d", b.Gate.Name, cpu)
	}
	return nil
}

// readBinding reads the value of p through one binding and one target. fresh bypasses the
// sysfs and TPMI caches.
func (r *Resolver) readBinding(p *Property, b *Binding, t ioTarget, fresh bool) (any, error) {
	if b.Unsupported != "" {
		return nil, notSupportedf("%s", b.Unsupported)
	}
	switch b.Mechanism {
	case MechSysfs:
		return r.readSysfs(p, b, t, fresh)
	case MechMSR:
		if err := checkCPU(t); err != nil {
			return nil, err
		}
		if err := r.checkGate(b, t.cpu); err != nil {
			return nil, err
		}
		raw, err := r.backends.MSR.ReadBits(t.cpu, b.Addr, b.Bits)
		if err != nil {
			return nil, err
		}
		return r.decodeCode(p, b, t, raw)
	case MechTPMI:
		locs, err := r.tpmiLocations(t)
		if err != nil {
			return nil, err
		}
		read := r.backends.TPMI.ReadField
		if fresh || b.Fresh {
			read = r.backends.TPMI.ReadFieldFresh
		}
		raw, err := read(locs[0], b.Feature, b.Register, b.Field)
		if err != nil {
			return nil, err
		}
		return r.decodeCode(p, b, t, raw)
	case MechCPPC:
		if r.backends.CPPC == nil || t.cpu < 0 {
			return nil, notSupportedf("CPPC is not available")
		}
		raw, err := r.backends.CPPC.Read(t.cpu, b.CPPC)
		if err != nil {
			return nil, err
		}
		return r.decode(p, b, t, float64(raw))
	case MechDoc:
		if b.Const == nil {
			return nil, notSupportedf("no documented value")
		}
		return b.Const, nil
	}
	return nil, fmt.Errorf("unknown mechanism %q", b.Mechanism)
}

func (r *Resolver) readSysfs(p *Property, b *Binding, t ioTarget, fresh bool) (any, error) {
	if b.IdleStates != "" {
		return r.readIdleStates(b, t, fresh)
	}
	path, err := r.expandPath(b.Path, t)
	if err != nil {
		return nil, err
	}
	if b.Size > 0 {
		data, err := r.backends.Sysfs.ReadBinary(path, b.Size)
		if err != nil {
			return nil, err
		}
		padded := make([]byte, 8)
		copy(padded, data)
		return r.decode(p, b, t, float64(binary.LittleEndian.Uint64(padded)))
	}
	var s string
	if fresh || b.Fresh {
		s, err = r.backends.Sysfs.ReadFresh(path)
	} else {
		s, err = r.backends.Sysfs.Read(path)
	}
	if err != nil {
		return nil, err
	}
	switch p.Type {
	case TypeString:
		return s, nil
	case TypeStrings:
		return strings.Fields(s), nil
	}
	raw, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "bad number %q in %s", s, path)
	}
	return r.decode(p, b, t, raw)
}

// decodeCode turns a register field into a value through the code tables of the binding, or
// its decode expression when it has none.
func (r *Resolver) decodeCode(p *Property, b *Binding, t ioTarget, raw uint64) (any, error) {
	switch {
	case b.Codes != nil:
		v, ok := b.Codes[raw]
		if !ok {
			return nil, fmt.Errorf("unknown %s code %d", b.Address(), raw)
		}
		return v, nil
	case b.Enum != nil:
		return enumName(b, raw), nil
	}
	return r.decode(p, b, t, float64(raw))
}

// enumName returns the name of a code. With RoundDown, unknown codes map to the name of the
// closest lower code other than "unlimited"; codes without a name are rendered as numbers.
func enumName(b *Binding, raw uint64) string {
	best, found := "", false
	var bestCode uint64
	for name, code := range b.Enum {
		if code == raw {
			return name
		}
		if !b.RoundDown || name == SpecialUnlimited || code > raw {
			continue
		}
		if !found || code > bestCode {
			best, bestCode, found = name, code, true
		}
	}
	if found {
		return best
	}
	return strconv.FormatUint(raw, 10)
}

// enumNames returns the names of an enum ordered by code.
func enumNames(enum map[string]uint64) []string {
	names := slices.Collect(maps.Keys(enum))
	slices.SortFunc(names, func(a, b string) int { return cmp.Or(cmp.Compare(enum[a], enum[b]), strings.Compare(a, b)) })
	return names
}

func (r *Resolver) decode(p *Property, b *Binding, t ioTarget, raw float64) (any, error) {
	v := raw
	if b.decode != nil {
		var err error
		v, err = evalExpr(b.decode, map[string]any{varRaw: raw}, r.varResolver(b, t))
		if err != nil {
			return nil, err
		}
	}
	return typedValue(p.Type, v), nil
}

func typedValue(typ Type, v float64) any {
	switch typ {
	case TypeBool:
		return v != 0
	case TypeFloat:
		return v
	case TypeString:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return int64(math.Round(v))
}

// varResolver looks up the expression variables other than raw and value.
func (r *Resolver) varResolver(b *Binding, t ioTarget) func(string) (float64, error) {
	return func(name string) (float64, error) {
		switch name {
		case varBusClock:
			bclk, err := r.busClock()
			return float64(bclk), err
		case varPowerUnit:
			if t.cpu < 0 {
				return 0, notSupportedf("the RAPL power unit needs a CPU")
			}
			exp, err := r.backends.MSR.ReadBits(t.cpu, msr.RAPLPowerUnit, backend.Bits{High: 3, Low: 0})
			if err != nil {
				return 0, err
			}
			return 1 / math.Pow(2, float64(exp)), nil
		}
		if attr, ok := b.Vars[name]; ok && r.backends.CPPC != nil {
			v, err := r.backends.CPPC.Read(t.cpu, attr)
			if err != nil {
				return 0, err
			}
			if v == 0 {
				return 0, notSupportedf("CPPC %s is zero on CPU %d", attr, t.cpu)
			}
			return float64(v), nil
		}
		return 0, fmt.Errorf("unknown expression variable %q", name)
	}
}

// encode turns a property value into the raw value a binding stores.
func (r *Resolver) encode(p *Property, b *Binding, t ioTarget, value any) (uint64, error) {
	if s, ok := value.(string); ok {
		switch {
		case b.Enum != nil:
			if code, ok := b.Enum[s]; ok {
				return code, nil
			}
			code, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("bad %s value %q, use one of: %s", p.Name, s, strings.Join(enumNames(b.Enum), ", "))
			}
			return code, nil
		case b.Codes != nil:
			return 0, fmt.Errorf("bad %s value %q", p.Name, s)
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s value %q: a number is required", p.Name, s)
		}
		value = n
	}
	v, ok := toFloat(value)
	if !ok {
		return 0, fmt.Errorf("bad %s value %v", p.Name, value)
	}
	if b.Codes != nil {
		for code, cv := range b.Codes {
			if float64(cv) == v {
				return code, nil
			}
		}
		return 0, fmt.Errorf("%v is not a valid %s value", value, p.Name)
	}
	if b.encode != nil {
		var err error
		v, err = evalExpr(b.encode, map[string]any{varValue: v}, r.varResolver(b, t))
		if err != nil {
			return 0, err
		}
	}
	v = math.Round(v)
	if v < 0 || v > math.MaxUint64 {
		return 0, fmt.Errorf("%v is out of range for %s", value, b.Address())
	}
	return uint64(v), nil
}

// writeBinding writes value through one binding and one target.
func (r *Resolver) writeBinding(p *Property, b *Binding, t ioTarget, value any) error {
	if b.Unsupported != "" {
		return notSupportedf("%s", b.Unsupported)
	}
	switch b.Mechanism {
	case MechSysfs:
		if b.IdleStates != "" {
			return r.writeIdleStates(p, b, t, value)
		}
		path, err := r.expandPath(b.Path, t)
		if err != nil {
			return err
		}
		if s, ok := value.(string); ok && p.Type == TypeString {
			return r.backends.Sysfs.Write(path, s)
		}
		if p.Type == TypeFloat && b.encode == nil {
			v, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("bad %s value %v", p.Name, value)
			}
			return r.backends.Sysfs.Write(path, strconv.FormatFloat(v, 'f', -1, 64))
		}
		raw, err := r.encode(p, b, t, value)
		if err != nil {
			return err
		}
		return r.backends.Sysfs.Write(path, strconv.FormatUint(raw, 10))
	case MechMSR:
		if err := checkCPU(t); err != nil {
			return err
		}
		if err := r.checkGate(b, t.cpu); err != nil {
			return err
		}
		if b.Lock != nil {
			locked, err := r.backends.MSR.ReadBits(t.cpu, b.Addr, *b.Lock)
			if err != nil {
				return err
			}
			if locked != 0 {
				return &RegisterLockedError{Property: p.ID(), Register: fmt.Sprintf("MSR %#x", b.Addr), CPU: t.cpu}
			}
		}
		raw, err := r.encode(p, b, t, value)
		if err != nil {
			return err
		}
		return r.backends.MSR.WriteBits(t.cpu, b.Addr, b.Bits, raw)
	case MechTPMI:
		locs, err := r.tpmiLocations(t)
		if err != nil {
			return err
		}
		raw, err := r.encode(p, b, t, value)
		if err != nil {
			return err
		}
		for _, loc := range locs {
			if err := r.backends.TPMI.WriteField(loc, b.Feature, b.Register, b.Field, raw); err != nil {
				return err
			}
		}
		return nil
	}
	return notSupportedf("%s is read-only", b.Mechanism.Description())
}

// writable reports whether a binding can take writes at all.
func (b *Binding) writable() bool {
	return !b.ReadOnly && b.Size == 0 && !slices.Contains([]Mechanism{MechCPPC, MechDoc}, b.Mechanism)
}
