package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.uber.org/multierr"

	"powerconf/internal/aggregate"
	"powerconf/internal/backend"
	"powerconf/internal/backend/cppc"
	"powerconf/internal/backend/msr"
	"powerconf/internal/backend/sysfs"
	"powerconf/internal/backend/tpmi"
	"powerconf/internal/selector"
	"powerconf/internal/topology"
)

// Backends are the access backends of one target. TPMI and CPPC may be nil when the platform
// does not have them.
type Backends struct {
	Sysfs *sysfs.Sysfs
	MSR   *msr.MSR
	TPMI  *tpmi.TPMI
	CPPC  *cppc.CPPC
}

func (b Backends) has(m Mechanism) bool {
	switch m {
	case MechSysfs:
		return b.Sysfs != nil
	case MechMSR:
		return b.MSR != nil
	case MechTPMI:
		return b.TPMI != nil
	case MechCPPC:
		return b.CPPC != nil
	}
	return true
}

// Reading is the value of one reported unit and the mechanism it came from. Unavailable values
// have no mechanism.
type Reading struct {
	Unit      topology.Unit
	Value     any
	Mechanism Mechanism
}

// Group is a value shared by a set of units, read or written through one mechanism.
type Group struct {
	Value       any
	Mechanism   Mechanism
	Units       []topology.Unit
	CPUs        []int
	Description string
}

// Result is the outcome of a property read or write. Units that failed are listed in Errors
// and have no reading.
type Result struct {
	Property *Property
	Groups   []Group
	Readings []Reading
	// Warnings report I/O scope units that disagree; the readings of the affected units hold
	// the best effort value.
	Warnings    []ScopeInconsistency
	Errors      []*UnitError
	Unattempted []topology.Unit
}

// Err combines the unit errors, nil when there are none.
func (r *Result) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return multierr.Combine(errs...)
}

// Available reports whether any unit has a value.
func (r *Result) Available() bool {
	return slices.ContainsFunc(r.Readings, func(rd Reading) bool { return !IsUnavailable(rd.Value) })
}

func (r *Result) add(a *access, value any, mech Mechanism, warns []ScopeInconsistency) {
	for _, u := range a.report {
		r.Readings = append(r.Readings, Reading{Unit: u, Value: value, Mechanism: mech})
	}
	r.Warnings = append(r.Warnings, warns...)
}

func (r *Result) fail(a *access, err error) {
	r.Errors = append(r.Errors, &UnitError{Unit: a.unit, Scope: r.Property.Scope, Err: err})
}

func (r *Result) group(topo *topology.Topology) {
	var order []Mechanism
	byMech := make(map[Mechanism][]aggregate.Reading)
	for _, rd := range r.Readings {
		if _, ok := byMech[rd.Mechanism]; !ok {
			order = append(order, rd.Mechanism)
		}
		byMech[rd.Mechanism] = append(byMech[rd.Mechanism], aggregate.Reading{Unit: rd.Unit, Value: rd.Value})
	}
	for _, m := range order {
		for _, g := range aggregate.Aggregate(byMech[m], r.Property.Scope, topo) {
			r.Groups = append(r.Groups, Group{Value: g.Value, Mechanism: m, Units: g.Units, CPUs: g.CPUs, Description: g.Description})
		}
	}
}

// access is one unit of work: a functional unit of the property, the target its registers are
// accessed through and the units its value is reported for.
type access struct {
	unit   topology.Unit
	target ioTarget
	report []topology.Unit
	topo   *topology.Topology
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Resolver reads and writes properties of one target. It is safe for concurrent use; writes
// to the same register are serialized.
type Resolver struct {
	reg      *Registry
	backends Backends
	uncore   *uncoreDirs
	locks    keyedMutex

	mu   sync.RWMutex
	topo *topology.Topology

	bclkMu sync.Mutex
	bclk   int64
}

// NewResolver creates a resolver for the properties of reg on a target with topology topo.
func NewResolver(reg *Registry, topo *topology.Topology, backends Backends) *Resolver {
	return &Resolver{
		reg:      reg,
		backends: backends,
		uncore:   newUncoreDirs(backends.Sysfs),
		topo:     topo,
	}
}

// Registry returns the properties the resolver knows.
func (r *Resolver) Registry() *Registry {
	return r.reg
}

// Topology returns the current topology.
func (r *Resolver) Topology() *topology.Topology {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topo
}

// SetTopology replaces the topology, after CPU hotplug for example. Requests in flight keep
// the topology they started with.
func (r *Resolver) SetTopology(topo *topology.Topology) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topo = topo
}

// ListMechanisms returns the mechanisms of a property in default order.
func (r *Resolver) ListMechanisms(name string) ([]Mechanism, error) {
	p, err := r.reg.Get(name)
	if err != nil {
		return nil, err
	}
	return p.Mechanisms(), nil
}

// prepare looks up a property and returns its bindings in the order they are tried.
func (r *Resolver) prepare(name string, mechs []Mechanism, write bool) (*Property, []Binding, error) {
	p, err := r.reg.Get(name)
	if err != nil {
		return nil, nil, err
	}
	if write && !p.Writable {
		return nil, nil, fmt.Errorf("%s is read-only", p.ID())
	}
	own := p.Mechanisms()
	for _, m := range mechs {
		if !slices.Contains(own, m) {
			return nil, nil, &UnsupportedMechanismError{
				Property:   p.ID(),
				Mechanisms: []Mechanism{m},
				Reason:     "the property is available through " + JoinMechanisms(own),
			}
		}
	}
	order := mechs
	if len(order) == 0 {
		order = own
	}
	var bindings []Binding
	for _, b := range filterBindings(p, order) {
		if !r.backends.has(b.Mechanism) || (write && !b.writable()) {
			continue
		}
		bindings = append(bindings, b)
	}
	if len(bindings) == 0 {
		reason := "the target does not provide them"
		if write {
			reason = "they are read-only or the target does not provide them"
		}
		return nil, nil, &UnsupportedMechanismError{Property: p.ID(), Mechanisms: order, Reason: reason}
	}
	return p, bindings, nil
}

// plan returns the accesses needed for the units of sel.
func (r *Resolver) plan(p *Property, sel selector.Selection, topo *topology.Topology) []*access {
	var accesses []*access
	switch p.Scope {
	case topology.LevelCPU, topology.LevelCore, topology.LevelModule:
		byUnit := make(map[topology.Unit]*access)
		for _, cpu := range sel.CPUs {
			u, err := topo.UnitOf(p.Scope, cpu)
			if err != nil {
				continue
			}
			a, ok := byUnit[u]
			if !ok {
				members := topo.CPUsOf(p.Scope, u)
				a = &access{unit: u, target: ioTarget{cpu: members[0]}, topo: topo}
				byUnit[u] = a
				accesses = append(accesses, a)
			}
			cu, _ := topo.UnitOf(topology.LevelCPU, cpu)
			a.report = append(a.report, cu)
		}
	case topology.LevelDie:
		for _, id := range sel.Dies {
			die, ok := topo.Die(id.Package, id.Die)
			if !ok {
				continue
			}
			cpu := -1
			if len(die.CPUs) > 0 {
				cpu = die.CPUs[0]
			} else if pkgCPUs := topo.CPUsOf(topology.LevelPackage, topology.Unit{Package: id.Package, ID: id.Package}); len(pkgCPUs) > 0 {
				cpu = pkgCPUs[0]
			}
			u := topology.Unit{Package: id.Package, ID: id.Die}
			accesses = append(accesses, &access{unit: u, target: ioTarget{cpu: cpu, die: &die}, report: []topology.Unit{u}, topo: topo})
		}
	case topology.LevelPackage:
		for _, pkg := range sel.Packages {
			u := topology.Unit{Package: pkg, ID: pkg}
			cpus := topo.CPUsOf(topology.LevelPackage, u)
			if len(cpus) == 0 {
				continue
			}
			accesses = append(accesses, &access{unit: u, target: ioTarget{cpu: cpus[0]}, report: []topology.Unit{u}, topo: topo})
		}
	default:
		online := topo.OnlineCPUs()
		if len(online) == 0 {
			break
		}
		u := topology.Unit{Package: -1, ID: 0}
		accesses = append(accesses, &access{unit: u, target: ioTarget{cpu: online[0]}, report: []topology.Unit{u}, topo: topo})
	}
	return accesses
}

var levelRank = map[topology.Level]int{
	topology.LevelCPU:     0,
	topology.LevelCore:    1,
	topology.LevelModule:  2,
	topology.LevelDie:     3,
	topology.LevelPackage: 4,
	topology.LevelNode:    5,
	topology.LevelGlobal:  6,
}

// ioCPUs returns one CPU per I/O scope unit of the functional unit of a, when the binding has
// an I/O scope narrower than the property scope. It returns nil otherwise.
func ioCPUs(p *Property, b *Binding, a *access) []int {
	if b.IOScope == "" || a.topo == nil || a.target.cpu < 0 || levelRank[b.IOScope] >= levelRank[p.Scope] {
		return nil
	}
	seen := make(map[topology.Unit]bool)
	var cpus []int
	for _, cpu := range a.topo.CPUsOf(p.Scope, a.unit) {
		u, err := a.topo.UnitOf(b.IOScope, cpu)
		if err != nil || seen[u] {
			continue
		}
		seen[u] = true
		cpus = append(cpus, cpu)
	}
	return cpus
}

// readIO reads a binding for one access. Registers with a narrower I/O scope are read through
// every I/O unit and checked for agreement.
func (r *Resolver) readIO(p *Property, b *Binding, a *access, fresh bool) (any, []ScopeInconsistency, error) {
	cpus := ioCPUs(p, b, a)
	if cpus == nil {
		v, err := r.readBinding(p, b, a.target, fresh)
		return v, nil, err
	}
	readings := make([]aggregate.IOReading, 0, len(cpus))
	for _, cpu := range cpus {
		t := a.target
		t.cpu = cpu
		v, err := r.readBinding(p, b, t, fresh)
		if err != nil {
			return nil, nil, err
		}
		readings = append(readings, aggregate.IOReading{CPU: cpu, Value: v})
	}
	incs := aggregate.CheckIOScope(p.ID(), p.Scope, b.IOScope, readings, a.topo)
	if len(incs) == 0 {
		return readings[0].Value, nil, nil
	}
	for _, inc := range incs {
		slog.Warn("inconsistent I/O scope values", slog.String("property", p.ID()), slog.Int("package", inc.Package), slog.Any("best_effort", inc.BestEffort))
	}
	return incs[0].BestEffort, incs, nil
}

// readAccess tries bindings in order until one provides a value. When none does the value is
// Unavailable.
func (r *Resolver) readAccess(p *Property, bindings []Binding, a *access, fresh bool) (any, Mechanism, []ScopeInconsistency, error) {
	for i := range bindings {
		b := &bindings[i]
		v, warns, err := r.readIO(p, b, a, fresh)
		if backend.IsNotSupported(err) {
			slog.Debug("mechanism not supported", slog.String("property", p.ID()), slog.String("mechanism", string(b.Mechanism)),
				slog.String("unit", a.target.String()), slog.String("reason", err.Error()))
			continue
		}
		if err != nil {
			return nil, b.Mechanism, nil, err
		}
		return v, b.Mechanism, warns, nil
	}
	return Unavailable{}, "", nil, nil
}

func (r *Resolver) writeIO(p *Property, b *Binding, a *access, value any) error {
	cpus := ioCPUs(p, b, a)
	if cpus == nil {
		unlock := r.locks.lock(b.register() + "@" + a.target.String())
		defer unlock()
		return r.writeBinding(p, b, a.target, value)
	}
	for _, cpu := range cpus {
		t := a.target
		t.cpu = cpu
		unlock := r.locks.lock(b.register() + "@" + t.String())
		err := r.writeBinding(p, b, t, value)
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// writeAccess tries bindings in order until a write succeeds and returns the value read back.
// A locked register is not retried through other bindings of the same register.
func (r *Resolver) writeAccess(p *Property, bindings []Binding, a *access, value any) (any, Mechanism, []ScopeInconsistency, error) {
	var lockErr error
	locked := make(map[string]bool)
	for i := range bindings {
		b := &bindings[i]
		if locked[b.register()] {
			continue
		}
		err := r.writeIO(p, b, a, value)
		if IsRegisterLocked(err) {
			lockErr = err
			locked[b.register()] = true
			continue
		}
		if backend.IsNotSupported(err) {
			slog.Debug("mechanism not supported", slog.String("property", p.ID()), slog.String("mechanism", string(b.Mechanism)),
				slog.String("unit", a.target.String()), slog.String("reason", err.Error()))
			continue
		}
		if err != nil {
			return nil, b.Mechanism, nil, err
		}
		v, warns, err := r.readIO(p, b, a, true)
		if err != nil {
			return nil, b.Mechanism, nil, fmt.Errorf("failed to read %s back: %w", p.ID(), err)
		}
		return v, b.Mechanism, warns, nil
	}
	if lockErr != nil {
		return nil, "", nil, lockErr
	}
	return nil, "", nil, fmt.Errorf("cannot set %s through %s: %w", p.ID(), a.target, backend.ErrNotSupported)
}

// validate checks a value against the type and range of p and normalizes its Go type.
func validate(p *Property, value any) (any, error) {
	switch p.Type {
	case TypeInt:
		var n int64
		switch v := value.(type) {
		case int64:
			n = v
		case int:
			n = int64(v)
		case float64:
			n = int64(v)
			if float64(n) != v {
				return nil, fmt.Errorf("bad %s value %v: an integer is required", p.Name, v)
			}
		default:
			return nil, fmt.Errorf("bad %s value %v: an integer is required", p.Name, value)
		}
		if p.Range != nil && (n < p.Range.Min || n > p.Range.Max) {
			return nil, fmt.Errorf("bad %s value %d: must be between %d and %d", p.Name, n, p.Range.Min, p.Range.Max)
		}
		return n, nil
	case TypeFloat:
		v, ok := toFloat(value)
		if !ok || v < 0 {
			return nil, fmt.Errorf("bad %s value %v: a non-negative number is required", p.Name, value)
		}
		return v, nil
	case TypeBool:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("bad %s value %v: on or off is required", p.Name, value)
		}
		return v, nil
	case TypeString:
		v, ok := value.(string)
		if !ok {
			return fmt.Sprint(value), nil
		}
		return v, nil
	case TypeStrings:
		switch v := value.(type) {
		case []string:
			if len(v) > 0 {
				return v, nil
			}
		case string:
			if list := splitList(v); len(list) > 0 {
				return list, nil
			}
		}
		return nil, fmt.Errorf("bad %s value %v: a list is required", p.Name, value)
	}
	return nil, fmt.Errorf("%s values cannot be written", p.Type)
}

func (r *Resolver) partial(res *Result, rest []*access, err error) (*Result, error) {
	for _, a := range rest {
		res.Unattempted = append(res.Unattempted, a.report...)
	}
	res.group(rest[0].topo)
	return res, &PartialError{Property: res.Property.ID(), Unattempted: res.Unattempted, Scope: aggregate.UnitLevel(res.Property.Scope), Err: err}
}

// ResolveProperty reads a property for the units selected by sel. mechs restricts and orders
// the mechanisms, nil means the default order of the property. Unit failures do not stop the
// request: they are collected in the result and returned combined as the error. When ctx
// expires the units not handled yet are listed in the result and the error is a
// *PartialError.
func (r *Resolver) ResolveProperty(ctx context.Context, name string, sel selector.Selector, mechs []Mechanism) (*Result, error) {
	p, bindings, err := r.prepare(name, mechs, false)
	if err != nil {
		return nil, err
	}
	topo := r.Topology()
	selection, err := selector.Expand(sel, topo)
	if err != nil {
		return nil, err
	}
	slog.Debug("resolving property", slog.String("property", p.ID()), slog.String("selection", sel.String()))
	accesses := r.plan(p, selection, topo)
	res := &Result{Property: p}
	for i, a := range accesses {
		if err := ctx.Err(); err != nil {
			return r.partial(res, accesses[i:], err)
		}
		v, mech, warns, err := r.readAccess(p, bindings, a, false)
		if err != nil {
			res.fail(a, err)
			continue
		}
		res.add(a, v, mech, warns)
	}
	res.group(topo)
	return res, res.Err()
}

// ApplyProperty writes value to a property for the units selected by sel and returns the
// values read back. The selection must cover whole units of the property scope. Special values
// such as "max" are resolved per unit through fixed mechanisms before the write.
func (r *Resolver) ApplyProperty(ctx context.Context, name string, sel selector.Selector, value any, mechs []Mechanism) (*Result, error) {
	p, bindings, err := r.prepare(name, mechs, true)
	if err != nil {
		return nil, err
	}
	topo := r.Topology()
	selection, err := selector.Expand(sel, topo)
	if err != nil {
		return nil, err
	}
	if err := selector.CheckScope(selection, p.Scope, topo); err != nil {
		return nil, err
	}
	slog.Debug("applying property", slog.String("property", p.ID()), slog.String("selection", sel.String()), slog.Any("value", value))
	accesses := r.plan(p, selection, topo)
	res := &Result{Property: p}
	for i, a := range accesses {
		if err := ctx.Err(); err != nil {
			return r.partial(res, accesses[i:], err)
		}
		v, err := r.resolveSpecial(p, a, value)
		if err == nil {
			v, err = validate(p, v)
		}
		if err != nil {
			res.fail(a, err)
			continue
		}
		got, mech, warns, err := r.writeAccess(p, bindings, a, v)
		if err != nil {
			res.fail(a, err)
			continue
		}
		res.add(a, got, mech, warns)
	}
	res.group(topo)
	return res, res.Err()
}

// busClock returns the bus clock speed in Hz. It is resolved once.
func (r *Resolver) busClock() (int64, error) {
	r.bclkMu.Lock()
	defer r.bclkMu.Unlock()
	if r.bclk > 0 {
		return r.bclk, nil
	}
	p, err := r.reg.Get("pstates.bus_clock")
	if err != nil {
		return 0, err
	}
	topo := r.Topology()
	online := topo.OnlineCPUs()
	if len(online) == 0 {
		return 0, errors.New("no online CPUs")
	}
	a := &access{unit: topology.Unit{Package: -1}, target: ioTarget{cpu: online[0]}, topo: topo}
	v, _, _, err := r.readAccess(p, p.Bindings, a, false)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve the bus clock: %w", err)
	}
	bclk, ok := v.(int64)
	if !ok || bclk <= 0 {
		return 0, fmt.Errorf("bus clock speed is not available")
	}
	r.bclk = bclk
	return bclk, nil
}
